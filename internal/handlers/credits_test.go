package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"sunvault/internal/ledger"
	ledgerapi "sunvault/pkg/api/ledger"
	"sunvault/pkg/ctxkeys"
)

func setupHandlerTest(t *testing.T) (sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db = mockDB
	logger = logrus.New()
	engine = ledger.NewEngine(mockDB, logger)
	metrics = nil
	producer = nil

	return mock, func() {
		mockDB.Close()
		db = nil
		engine = nil
	}
}

func authedContext(t *testing.T, userID, method, target string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	c.Request = httptest.NewRequest(method, target, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	if userID != "" {
		c.Set(string(ctxkeys.KeyUserID), userID)
	}
	return c, w
}

func TestGetBalance(t *testing.T) {
	mock, cleanup := setupHandlerTest(t)
	defer cleanup()

	userID := "user-1"
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM sunvault.users`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT balance_cents FROM sunvault.solar_credits`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(int64(1250)))

	c, w := authedContext(t, userID, http.MethodGet, "/credits", nil)
	GetBalance(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body=%s)", w.Code, w.Body.String())
	}

	var resp ledgerapi.BalanceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.BalanceCents != 1250 {
		t.Fatalf("expected balance 1250, got %d", resp.BalanceCents)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetBalanceRequiresUserContext(t *testing.T) {
	_, cleanup := setupHandlerTest(t)
	defer cleanup()

	c, w := authedContext(t, "", http.MethodGet, "/credits", nil)
	GetBalance(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestApplyCreditOperationInsufficientBalance(t *testing.T) {
	mock, cleanup := setupHandlerTest(t)
	defer cleanup()

	userID := "user-1"
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM sunvault.users`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, balance_cents.*FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_cents"}).AddRow("bal-1", int64(100)))
	mock.ExpectRollback()

	c, w := authedContext(t, userID, http.MethodPost, "/credits", ledgerapi.ApplyRequest{
		OpType:      ledger.OpConsume,
		AmountCents: 500,
	})
	ApplyCreditOperation(c)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d (body=%s)", w.Code, w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyCreditOperationRejectsAdminAdjust(t *testing.T) {
	_, cleanup := setupHandlerTest(t)
	defer cleanup()

	c, w := authedContext(t, "user-1", http.MethodPost, "/credits", ledgerapi.ApplyRequest{
		OpType:      ledger.OpAdminAdjust,
		AmountCents: -100,
	})
	ApplyCreditOperation(c)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestApplyCreditOperationIdempotentReplay(t *testing.T) {
	mock, cleanup := setupHandlerTest(t)
	defer cleanup()

	userID := "user-1"
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM sunvault.users`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT id, balance_after_cents FROM sunvault.credit_transactions`).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_after_cents"}).AddRow("txn-1", int64(500)))

	c, w := authedContext(t, userID, http.MethodPost, "/credits", ledgerapi.ApplyRequest{
		OpType:         ledger.OpTopup,
		AmountCents:    500,
		IdempotencyKey: "op-1",
	})
	ApplyCreditOperation(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body=%s)", w.Code, w.Body.String())
	}

	var resp ledgerapi.ApplyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Replayed {
		t.Fatal("expected replayed response")
	}
	if resp.BalanceCents != 500 {
		t.Fatalf("expected balance 500, got %d", resp.BalanceCents)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetCreditHistoryEmpty(t *testing.T) {
	mock, cleanup := setupHandlerTest(t)
	defer cleanup()

	userID := "user-1"
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM sunvault.users`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery(`SELECT id, user_id, op_type`).
		WithArgs(userID, 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "op_type", "amount_cents", "balance_after_cents",
			"description", "metadata", "idempotency_key", "stripe_session_id", "created_at",
		}))

	c, w := authedContext(t, userID, http.MethodGet, "/credits/history", nil)
	GetCreditHistory(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body=%s)", w.Code, w.Body.String())
	}

	var resp ledgerapi.HistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 0 || len(resp.Transactions) != 0 {
		t.Fatalf("expected empty history, got %+v", resp)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
