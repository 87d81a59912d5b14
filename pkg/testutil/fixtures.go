package testutil

import (
	"time"

	"sunvault/pkg/models"
)

// CreditFixture returns a balance row for the given user
func CreditFixture(userID string, balanceCents int64) models.SolarCredit {
	now := time.Now()
	return models.SolarCredit{
		ID:           "credit-" + userID,
		UserID:       userID,
		BalanceCents: balanceCents,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// TransactionFixture returns a transaction log row for the given user
func TransactionFixture(userID, opType string, amountCents, balanceAfterCents int64) models.CreditTransaction {
	return models.CreditTransaction{
		ID:                "txn-" + userID,
		UserID:            userID,
		OpType:            opType,
		AmountCents:       amountCents,
		BalanceAfterCents: balanceAfterCents,
		Metadata:          models.JSONB{},
		CreatedAt:         time.Now(),
	}
}
