package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JSONB represents a PostgreSQL JSONB column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// SolarCredit represents a user's current credit balance
type SolarCredit struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	BalanceCents int64     `json:"balance_cents" db:"balance_cents"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// CreditTransaction is a single entry in the append-only transaction log.
// AmountCents is always positive; OpType determines the sign applied to
// the balance. BalanceAfterCents is the balance immediately after this
// transaction committed.
type CreditTransaction struct {
	ID                string  `json:"id" db:"id"`
	UserID            string  `json:"user_id" db:"user_id"`
	OpType            string  `json:"op_type" db:"op_type"`
	AmountCents       int64   `json:"amount_cents" db:"amount_cents"`
	BalanceAfterCents int64   `json:"balance_after_cents" db:"balance_after_cents"`
	Description       *string `json:"description,omitempty" db:"description"`
	Metadata          JSONB   `json:"metadata" db:"metadata"`
	IdempotencyKey    *string `json:"idempotency_key,omitempty" db:"idempotency_key"`
	StripeSessionID   *string `json:"stripe_session_id,omitempty" db:"stripe_session_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AdminAuditEntry records an administrative balance action
type AdminAuditEntry struct {
	ID           string    `json:"id" db:"id"`
	ActorID      string    `json:"actor_id" db:"actor_id"`
	Action       string    `json:"action" db:"action"`
	TargetUserID *string   `json:"target_user_id,omitempty" db:"target_user_id"`
	Metadata     JSONB     `json:"metadata" db:"metadata"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// WebhookEvent records a processed payment-provider event for deduplication
type WebhookEvent struct {
	ID          string    `json:"id" db:"id"`
	Provider    string    `json:"provider" db:"provider"`
	EventID     string    `json:"event_id" db:"event_id"`
	EventType   string    `json:"event_type" db:"event_type"`
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}
