package ledger

import (
	"context"
	"fmt"

	"sunvault/pkg/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// History returns a page of the user's transaction log, most recent
// first. A user with no transactions gets an empty page, not an error.
// The read takes no locks.
func (e *Engine) History(ctx context.Context, userID string, page, pageSize int) ([]models.CreditTransaction, int64, error) {
	if err := e.checkUserExists(ctx, userID); err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	offset := (page - 1) * pageSize

	var total int64
	err := e.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sunvault.credit_transactions WHERE user_id = $1
	`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT id, user_id, op_type, amount_cents, balance_after_cents,
		       description, metadata, idempotency_key, stripe_session_id, created_at
		FROM sunvault.credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]models.CreditTransaction, 0, pageSize)
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.OpType, &t.AmountCents, &t.BalanceAfterCents,
			&t.Description, &t.Metadata, &t.IdempotencyKey, &t.StripeSessionID, &t.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read transactions: %w", err)
	}

	return transactions, total, nil
}
