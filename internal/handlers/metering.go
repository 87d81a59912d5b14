package handlers

import (
	"errors"
	"net/http"

	"sunvault/internal/ledger"
	ledgerapi "sunvault/pkg/api/ledger"
	"sunvault/pkg/kafka"
	"sunvault/pkg/middleware"
)

// IngestConsumptionReport accepts a metering report over HTTP from
// trusted services that do not publish to Kafka. Same semantics as the
// Kafka path: the report id is the idempotency key.
func IngestConsumptionReport(c middleware.Context) {
	var report kafka.ConsumptionReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, ledgerapi.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if report.ReportID == "" || report.UserID == "" {
		c.JSON(http.StatusBadRequest, ledgerapi.ErrorResponse{Error: "report_id and user_id are required"})
		return
	}

	result, err := engine.Apply(c.Request.Context(), report.UserID, ledger.OpConsume, report.AmountCents, ledger.ApplyOptions{
		IdempotencyKey: "meter:" + report.ReportID,
		Description:    "Metered consumption",
	})
	if err != nil {
		if !errors.Is(err, ledger.ErrInsufficientBalance) {
			countOperation(ledger.OpConsume, "error")
		}
		respondLedgerError(c, err)
		return
	}

	countOperation(ledger.OpConsume, "ok")
	emitLedgerEvent(report.UserID, ledger.OpConsume, report.AmountCents, result, nil)

	c.JSON(http.StatusOK, ledgerapi.ApplyResponse{
		TransactionID: result.TransactionID,
		BalanceCents:  result.BalanceCents,
		Replayed:      result.Existing,
	})
}
