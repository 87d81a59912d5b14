package handlers

import (
	"errors"
	"net/http"

	"sunvault/internal/ledger"
	ledgerapi "sunvault/pkg/api/ledger"
	"sunvault/pkg/middleware"
)

// respondLedgerError translates engine errors into HTTP responses without
// leaking internal detail. Conflicts are retryable by the client.
func respondLedgerError(c middleware.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidOperation):
		c.JSON(http.StatusBadRequest, ledgerapi.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ledger.ErrUserNotFound):
		c.JSON(http.StatusNotFound, ledgerapi.ErrorResponse{Error: "User not found"})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, ledgerapi.ErrorResponse{Error: "Insufficient balance"})
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, ledgerapi.ErrorResponse{Error: "Concurrent modification, retry the request"})
	default:
		logger.WithError(err).Error("Ledger operation failed")
		c.JSON(http.StatusInternalServerError, ledgerapi.ErrorResponse{Error: "Internal error"})
	}
}

// countOperation increments the operations counter when metrics are wired
func countOperation(opType, status string) {
	if metrics != nil && metrics.OperationsApplied != nil {
		metrics.OperationsApplied.WithLabelValues(opType, status).Inc()
	}
}
