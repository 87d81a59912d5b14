package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"sunvault/pkg/logging"
	"sunvault/pkg/models"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	engine := NewEngine(mockDB, logging.NewLogger())
	return engine, mock, func() { mockDB.Close() }
}

func expectUserExists(mock sqlmock.Sqlmock, userID string, exists bool) {
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}

func TestApplyTopupCreatesBalanceRow(t *testing.T) {
	engine, mock, cleanup := newTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	userID := uuid.New().String()
	balanceID := uuid.New().String()
	txID := uuid.New().String()

	expectUserExists(mock, userID, true)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, balance_cents.*FOR UPDATE`).
		WithArgs(userID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO sunvault.solar_credits`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_cents"}).AddRow(balanceID, 0))
	mock.ExpectExec(`UPDATE sunvault.solar_credits`).
		WithArgs(int64(500), balanceID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO sunvault.credit_transactions`).
		WithArgs(userID, OpTopup, int64(500), int64(500), nil, models.JSONB(nil), nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(txID))
	mock.ExpectCommit()

	result, err := engine.Apply(ctx, userID, OpTopup, 500, ApplyOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Existing {
		t.Fatal("expected a fresh mutation, got replay")
	}
	if result.BalanceCents != 500 {
		t.Fatalf("expected balance 500, got %d", result.BalanceCents)
	}
	if result.TransactionID != txID {
		t.Fatalf("expected transaction id %s, got %s", txID, result.TransactionID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyConsumeDebitsBalance(t *testing.T) {
	engine, mock, cleanup := newTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	userID := uuid.New().String()
	balanceID := uuid.New().String()
	txID := uuid.New().String()

	expectUserExists(mock, userID, true)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, balance_cents.*FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_cents"}).AddRow(balanceID, int64(1000)))
	mock.ExpectExec(`UPDATE sunvault.solar_credits`).
		WithArgs(int64(700), balanceID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO sunvault.credit_transactions`).
		WithArgs(userID, OpConsume, int64(300), int64(700), nil, models.JSONB(nil), nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(txID))
	mock.ExpectCommit()

	result, err := engine.Apply(ctx, userID, OpConsume, 300, ApplyOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BalanceCents != 700 {
		t.Fatalf("expected balance 700, got %d", result.BalanceCents)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyInsufficientBalanceLeavesBalanceUntouched(t *testing.T) {
	engine, mock, cleanup := newTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	userID := uuid.New().String()
	balanceID := uuid.New().String()

	expectUserExists(mock, userID, true)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, balance_cents.*FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_cents"}).AddRow(balanceID, int64(0)))
	mock.ExpectRollback()

	_, err := engine.Apply(ctx, userID, OpConsume, 1, ApplyOptions{})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyIdempotencyKeyReplay(t *testing.T) {
	engine, mock, cleanup := newTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	userID := uuid.New().String()
	txID := uuid.New().String()

	expectUserExists(mock, userID, true)
	mock.ExpectQuery(`SELECT id, balance_after_cents FROM sunvault.credit_transactions`).
		WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_after_cents"}).AddRow(txID, int64(500)))

	result, err := engine.Apply(ctx, userID, OpTopup, 500, ApplyOptions{IdempotencyKey: "key-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Existing {
		t.Fatal("expected replay short-circuit")
	}
	if result.BalanceCents != 500 {
		t.Fatalf("expected balance 500, got %d", result.BalanceCents)
	}
	if result.TransactionID != txID {
		t.Fatalf("expected transaction id %s, got %s", txID, result.TransactionID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyStripeSessionReplay(t *testing.T) {
	engine, mock, cleanup := newTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	userID := uuid.New().String()
	txID := uuid.New().String()

	expectUserExists(mock, userID, true)
	mock.ExpectQuery(`SELECT id, balance_after_cents FROM sunvault.credit_transactions`).
		WithArgs("sess_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_after_cents"}).AddRow(txID, int64(500)))

	result, err := engine.Apply(ctx, userID, OpTopup, 500, ApplyOptions{StripeSessionID: "sess_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Existing {
		t.Fatal("expected replay short-circuit")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyAdminAdjustNegativeDelta(t *testing.T) {
	engine, mock, cleanup := newTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	userID := uuid.New().String()
	balanceID := uuid.New().String()
	txID := uuid.New().String()

	expectUserExists(mock, userID, true)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, balance_cents.*FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_cents"}).AddRow(balanceID, int64(500)))
	mock.ExpectExec(`UPDATE sunvault.solar_credits`).
		WithArgs(int64(300), balanceID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO sunvault.credit_transactions`).
		WithArgs(userID, OpAdminAdjust, int64(-200), int64(300), "chargeback", models.JSONB(nil), nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(txID))
	mock.ExpectCommit()

	result, err := engine.Apply(ctx, userID, OpAdminAdjust, -200, ApplyOptions{Description: "chargeback"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BalanceCents != 300 {
		t.Fatalf("expected balance 300, got %d", result.BalanceCents)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyInvalidAmounts(t *testing.T) {
	engine, _, cleanup := newTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	userID := uuid.New().String()

	tests := []struct {
		name    string
		opType  string
		amount  int64
		wantErr error
	}{
		{"zero topup", OpTopup, 0, ErrInvalidAmount},
		{"negative topup", OpTopup, -5, ErrInvalidAmount},
		{"zero consume", OpConsume, 0, ErrInvalidAmount},
		{"negative transfer", OpTransfer, -10, ErrInvalidAmount},
		{"zero admin adjust", OpAdminAdjust, 0, ErrInvalidAmount},
		{"unknown op", "refund", 100, ErrInvalidOperation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Apply(ctx, userID, tt.opType, tt.amount, ApplyOptions{})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestApplyUserNotFound(t *testing.T) {
	engine, mock, cleanup := newTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	userID := uuid.New().String()

	expectUserExists(mock, userID, false)

	_, err := engine.Apply(ctx, userID, OpTopup, 100, ApplyOptions{})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyCreationRaceSurfacesConflict(t *testing.T) {
	engine, mock, cleanup := newTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	userID := uuid.New().String()

	expectUserExists(mock, userID, true)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, balance_cents.*FOR UPDATE`).
		WithArgs(userID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO sunvault.solar_credits`).
		WithArgs(userID).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := engine.Apply(ctx, userID, OpTopup, 100, ApplyOptions{})
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestBalanceDefaultsToZero(t *testing.T) {
	engine, mock, cleanup := newTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	userID := uuid.New().String()

	expectUserExists(mock, userID, true)
	mock.ExpectQuery(`SELECT balance_cents FROM sunvault.solar_credits`).
		WithArgs(userID).
		WillReturnError(sql.ErrNoRows)

	balance, err := engine.Balance(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected balance 0, got %d", balance)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
