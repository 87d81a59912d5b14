package handlers

import (
	"net/http"
	"strconv"

	"sunvault/internal/ledger"
	ledgerapi "sunvault/pkg/api/ledger"
	"sunvault/pkg/ctxkeys"
	"sunvault/pkg/middleware"
	"sunvault/pkg/models"
)

// GetBalance returns the authenticated user's current credit balance
func GetBalance(c middleware.Context) {
	userID := c.GetString(string(ctxkeys.KeyUserID))
	if userID == "" {
		c.JSON(http.StatusBadRequest, ledgerapi.ErrorResponse{Error: "User context required"})
		return
	}

	balance, err := engine.Balance(c.Request.Context(), userID)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, ledgerapi.BalanceResponse{
		UserID:       userID,
		BalanceCents: balance,
	})
}

// ApplyCreditOperation applies a balance operation for the authenticated
// user. Admin adjustments are rejected here; they go through the admin
// endpoint which records an audit entry.
func ApplyCreditOperation(c middleware.Context) {
	userID := c.GetString(string(ctxkeys.KeyUserID))
	if userID == "" {
		c.JSON(http.StatusBadRequest, ledgerapi.ErrorResponse{Error: "User context required"})
		return
	}

	var req ledgerapi.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ledgerapi.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if req.OpType == ledger.OpAdminAdjust {
		c.JSON(http.StatusForbidden, ledgerapi.ErrorResponse{Error: "Admin adjustments require the admin endpoint"})
		return
	}

	result, err := engine.Apply(c.Request.Context(), userID, req.OpType, req.AmountCents, ledger.ApplyOptions{
		IdempotencyKey:  req.IdempotencyKey,
		StripeSessionID: req.ExternalCorrelationID,
		Description:     req.Description,
		Metadata:        models.JSONB(req.Metadata),
	})
	if err != nil {
		countOperation(req.OpType, "error")
		respondLedgerError(c, err)
		return
	}

	countOperation(req.OpType, "ok")
	emitLedgerEvent(userID, req.OpType, req.AmountCents, result, models.JSONB(req.Metadata))

	c.JSON(http.StatusOK, ledgerapi.ApplyResponse{
		TransactionID: result.TransactionID,
		BalanceCents:  result.BalanceCents,
		Replayed:      result.Existing,
	})
}

// GetCreditHistory returns a page of the user's transaction log
func GetCreditHistory(c middleware.Context) {
	userID := c.GetString(string(ctxkeys.KeyUserID))
	if userID == "" {
		c.JSON(http.StatusBadRequest, ledgerapi.ErrorResponse{Error: "User context required"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	transactions, total, err := engine.History(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, ledgerapi.HistoryResponse{
		Transactions: transactions,
		Page:         page,
		PageSize:     pageSize,
		Total:        total,
	})
}
