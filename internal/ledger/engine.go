package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sunvault/pkg/logging"
	"sunvault/pkg/models"
)

// Operation types recorded on credit transactions. Topup credits the
// balance, Consume and Transfer debit it (a transfer's paired credit is a
// separate Apply call orchestrated by the caller), and AdminAdjust applies
// a caller-signed delta.
const (
	OpTopup       = "topup"
	OpConsume     = "consume"
	OpTransfer    = "transfer"
	OpAdminAdjust = "admin_adjust"
)

// ApplyOptions carries the optional parts of a balance operation.
type ApplyOptions struct {
	// IdempotencyKey deduplicates caller retries. If a transaction with
	// this key already exists the call is a no-op replay.
	IdempotencyKey string

	// StripeSessionID deduplicates payment-provider redeliveries, checked
	// independently of IdempotencyKey.
	StripeSessionID string

	Description string
	Metadata    models.JSONB
}

// ApplyResult is the outcome of a balance operation.
type ApplyResult struct {
	TransactionID string
	BalanceCents  int64

	// Existing is true when the call was short-circuited by the
	// idempotency contract and no new mutation happened.
	Existing bool
}

// Engine performs atomic balance mutations. Per-user serialization is
// delegated to Postgres row locking; the engine holds no locks of its own.
type Engine struct {
	db     *sql.DB
	logger logging.Logger
}

// NewEngine creates a ledger engine
func NewEngine(database *sql.DB, log logging.Logger) *Engine {
	return &Engine{
		db:     database,
		logger: log,
	}
}

// signedDelta computes the balance delta for an operation, validating the
// amount against the operation type.
func signedDelta(opType string, amountCents int64) (int64, error) {
	switch opType {
	case OpTopup:
		if amountCents <= 0 {
			return 0, ErrInvalidAmount
		}
		return amountCents, nil
	case OpConsume, OpTransfer:
		if amountCents <= 0 {
			return 0, ErrInvalidAmount
		}
		return -amountCents, nil
	case OpAdminAdjust:
		if amountCents == 0 {
			return 0, ErrInvalidAmount
		}
		return amountCents, nil
	default:
		return 0, ErrInvalidOperation
	}
}

// Apply performs a single balance mutation as one atomic unit: exactly one
// balance update and one transaction record per successful call, or a
// replay short-circuit when a supplied key matches an existing record.
// The engine never retries internally; on ErrConcurrencyConflict the
// caller retries the whole call, which then sees the committed state.
func (e *Engine) Apply(ctx context.Context, userID, opType string, amountCents int64, opts ApplyOptions) (*ApplyResult, error) {
	delta, err := signedDelta(opType, amountCents)
	if err != nil {
		return nil, err
	}

	if err := e.checkUserExists(ctx, userID); err != nil {
		return nil, err
	}

	// Dedup lookups happen before the mutation transaction so replays
	// never take the row lock.
	if opts.IdempotencyKey != "" {
		if res, found, err := e.findExisting(ctx, "idempotency_key", opts.IdempotencyKey); err != nil {
			return nil, err
		} else if found {
			return res, nil
		}
	}
	if opts.StripeSessionID != "" {
		if res, found, err := e.findExisting(ctx, "stripe_session_id", opts.StripeSessionID); err != nil {
			return nil, err
		} else if found {
			return res, nil
		}
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	// Lock the balance row, creating it at zero if absent. Two racing
	// first-time creations hit the user_id unique constraint; the loser
	// surfaces ErrConcurrencyConflict and the caller's retry reads the
	// committed row.
	var balanceID string
	var currentBalance int64
	err = tx.QueryRowContext(ctx, `
		SELECT id, balance_cents FROM sunvault.solar_credits
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&balanceID, &currentBalance)

	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO sunvault.solar_credits (user_id, balance_cents)
			VALUES ($1, 0)
			RETURNING id, balance_cents
		`, userID).Scan(&balanceID, &currentBalance)
		if err != nil {
			return nil, mapConflict(fmt.Errorf("failed to create balance row: %w", err))
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	newBalance := currentBalance + delta
	if newBalance < 0 {
		return nil, ErrInsufficientBalance
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sunvault.solar_credits
		SET balance_cents = $1, updated_at = NOW()
		WHERE id = $2
	`, newBalance, balanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	var txID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sunvault.credit_transactions (
			user_id, op_type, amount_cents, balance_after_cents,
			description, metadata, idempotency_key, stripe_session_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, userID, opType, amountCents, newBalance,
		nullable(opts.Description), opts.Metadata,
		nullable(opts.IdempotencyKey), nullable(opts.StripeSessionID)).Scan(&txID)
	if err != nil {
		return nil, mapConflict(fmt.Errorf("failed to create transaction record: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, mapConflict(fmt.Errorf("failed to commit transaction: %w", err))
	}

	e.logger.WithFields(logging.Fields{
		"user_id":        userID,
		"op_type":        opType,
		"amount_cents":   amountCents,
		"new_balance":    newBalance,
		"transaction_id": txID,
	}).Info("Applied balance operation")

	return &ApplyResult{
		TransactionID: txID,
		BalanceCents:  newBalance,
		Existing:      false,
	}, nil
}

// Balance returns the user's current balance. A user with no balance row
// has a balance of zero.
func (e *Engine) Balance(ctx context.Context, userID string) (int64, error) {
	if err := e.checkUserExists(ctx, userID); err != nil {
		return 0, err
	}

	var balance int64
	err := e.db.QueryRowContext(ctx, `
		SELECT balance_cents FROM sunvault.solar_credits WHERE user_id = $1
	`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (e *Engine) checkUserExists(ctx context.Context, userID string) error {
	var exists bool
	err := e.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM sunvault.users WHERE id = $1)
	`, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if !exists {
		return ErrUserNotFound
	}
	return nil
}

// findExisting looks for a prior transaction matching a dedup key column
// and returns it as a replay result.
func (e *Engine) findExisting(ctx context.Context, column, value string) (*ApplyResult, bool, error) {
	var txID string
	var balanceAfter int64
	err := e.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, balance_after_cents FROM sunvault.credit_transactions
		WHERE %s = $1
	`, column), value).Scan(&txID, &balanceAfter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to check for existing transaction: %w", err)
	}

	e.logger.WithFields(logging.Fields{
		"transaction_id": txID,
		"dedup_column":   column,
	}).Info("Replaying existing transaction")

	return &ApplyResult{
		TransactionID: txID,
		BalanceCents:  balanceAfter,
		Existing:      true,
	}, true, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
