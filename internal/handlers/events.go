package handlers

import (
	"time"

	"github.com/google/uuid"

	"sunvault/internal/ledger"
	"sunvault/pkg/kafka"
	"sunvault/pkg/models"
)

// emitLedgerEvent publishes a transaction event for downstream reporting.
// Best-effort: a publish failure never fails the committed operation.
func emitLedgerEvent(userID, opType string, amountCents int64, result *ledger.ApplyResult, metadata models.JSONB) {
	if producer == nil || result == nil || result.Existing {
		return
	}

	event := &kafka.LedgerEvent{
		EventID:           uuid.New().String(),
		UserID:            userID,
		OpType:            opType,
		AmountCents:       amountCents,
		BalanceAfterCents: result.BalanceCents,
		TransactionID:     result.TransactionID,
		Metadata:          metadata,
		Timestamp:         time.Now(),
	}

	if err := producer.PublishLedgerEvent(event); err != nil {
		logger.WithError(err).Warn("Failed to publish ledger event")
	}
}
