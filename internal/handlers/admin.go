package handlers

import (
	"net/http"

	"sunvault/internal/ledger"
	ledgerapi "sunvault/pkg/api/ledger"
	"sunvault/pkg/ctxkeys"
	"sunvault/pkg/logging"
	"sunvault/pkg/middleware"
	"sunvault/pkg/models"
)

// AdminAdjustBalance applies a signed delta to a user's balance and
// records an audit entry. Routed behind AdminOnlyMiddleware; the actor
// identity comes from the verified JWT, never from the request body.
func AdminAdjustBalance(c middleware.Context) {
	actorID := c.GetString(string(ctxkeys.KeyUserID))
	if actorID == "" {
		c.JSON(http.StatusForbidden, ledgerapi.ErrorResponse{Error: "Forbidden"})
		return
	}

	var req ledgerapi.AdminAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ledgerapi.ErrorResponse{Error: "Invalid request body"})
		return
	}

	result, err := engine.Apply(c.Request.Context(), req.UserID, ledger.OpAdminAdjust, req.AmountCents, ledger.ApplyOptions{
		Description: req.Reason,
		Metadata: models.JSONB{
			"actor_id": actorID,
			"reason":   req.Reason,
		},
	})
	if err != nil {
		countOperation(ledger.OpAdminAdjust, "error")
		respondLedgerError(c, err)
		return
	}

	// Audit entry is written after the ledger commit; a failure here is
	// logged loudly but does not roll back the adjustment, which is
	// already recorded in the transaction log itself.
	_, err = db.ExecContext(c.Request.Context(), `
		INSERT INTO sunvault.admin_audit_log (actor_id, action, target_user_id, metadata)
		VALUES ($1, 'adjust_balance', $2, $3)
	`, actorID, req.UserID, models.JSONB{
		"reason":              req.Reason,
		"amount_cents":        req.AmountCents,
		"balance_after_cents": result.BalanceCents,
		"transaction_id":      result.TransactionID,
	})
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"actor_id":       actorID,
			"target_user_id": req.UserID,
			"transaction_id": result.TransactionID,
		}).Error("Failed to write admin audit entry")
	}

	countOperation(ledger.OpAdminAdjust, "ok")
	emitLedgerEvent(req.UserID, ledger.OpAdminAdjust, req.AmountCents, result, nil)

	logger.WithFields(logging.Fields{
		"actor_id":       actorID,
		"target_user_id": req.UserID,
		"amount_cents":   req.AmountCents,
		"new_balance":    result.BalanceCents,
	}).Info("Applied admin balance adjustment")

	c.JSON(http.StatusOK, ledgerapi.ApplyResponse{
		TransactionID: result.TransactionID,
		BalanceCents:  result.BalanceCents,
		Replayed:      result.Existing,
	})
}
