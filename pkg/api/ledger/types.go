package ledger

import (
	"sunvault/pkg/models"
)

// ApplyRequest represents a request to apply a balance operation
type ApplyRequest struct {
	OpType                string                 `json:"op_type" binding:"required"`
	AmountCents           int64                  `json:"amount_cents" binding:"required"`
	Description           string                 `json:"description,omitempty"`
	IdempotencyKey        string                 `json:"idempotency_key,omitempty"`
	ExternalCorrelationID string                 `json:"external_correlation_id,omitempty"`
	Metadata              map[string]interface{} `json:"metadata,omitempty"`
}

// ApplyResponse represents the outcome of a balance operation
type ApplyResponse struct {
	TransactionID string `json:"transaction_id"`
	BalanceCents  int64  `json:"balance_cents"`
	Replayed      bool   `json:"replayed"`
}

// BalanceResponse represents a user's current balance
type BalanceResponse struct {
	UserID       string `json:"user_id"`
	BalanceCents int64  `json:"balance_cents"`
}

// HistoryResponse represents a page of transaction history
type HistoryResponse struct {
	Transactions []models.CreditTransaction `json:"transactions"`
	Page         int                        `json:"page"`
	PageSize     int                        `json:"page_size"`
	Total        int64                      `json:"total"`
}

// AdminAdjustRequest represents an administrative balance adjustment
type AdminAdjustRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	AmountCents int64  `json:"amount_cents" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
}

// CheckoutRequest represents a request to create a Stripe top-up session
type CheckoutRequest struct {
	AmountCents int64  `json:"amount_cents" binding:"required"`
	SuccessURL  string `json:"success_url,omitempty"`
	CancelURL   string `json:"cancel_url,omitempty"`
}

// CheckoutResponse carries the hosted checkout URL back to the client
type CheckoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error string `json:"error"`
}
