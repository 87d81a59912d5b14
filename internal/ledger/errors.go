package ledger

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrUserNotFound is returned when the referenced user does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidAmount is returned for zero or wrongly-signed amounts
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidOperation is returned for unknown operation types
	ErrInvalidOperation = errors.New("invalid operation type")

	// ErrInsufficientBalance is returned when a debit would make the
	// balance negative. The balance is left unchanged.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConcurrencyConflict is returned when the transaction failed due
	// to a concurrent conflict, such as two first-time balance-row
	// creations racing. Safe to retry the whole call; the retry sees the
	// committed state and proceeds normally.
	ErrConcurrencyConflict = errors.New("concurrent modification conflict")
)

// uniqueViolation is the Postgres error code for unique constraint violations
const uniqueViolation = "23505"

// mapConflict translates a unique-violation failure into
// ErrConcurrencyConflict and leaves every other error untouched.
func mapConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrConcurrencyConflict
	}
	return err
}
