package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sunvault/internal/ledger"
	"sunvault/internal/payments"
	ledgerapi "sunvault/pkg/api/ledger"
	"sunvault/pkg/config"
	"sunvault/pkg/logging"
	"sunvault/pkg/middleware"
	"sunvault/pkg/models"
)

// StripeWebhookPayload is the outer Stripe event envelope. The data
// object is parsed per event type.
type StripeWebhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// StripeCheckoutSessionObject for checkout.session.completed events
type StripeCheckoutSessionObject struct {
	ID            string `json:"id"`
	AmountTotal   int64  `json:"amount_total"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email"`
	Metadata      struct {
		Purpose string `json:"purpose"`
		UserID  string `json:"user_id"`
	} `json:"metadata"`
}

// verifyStripeSignature verifies the Stripe webhook signature using HMAC-SHA256
func verifyStripeSignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}

	// Parse Stripe signature header format: t=timestamp,v1=signature,v1=signature
	elements := strings.Split(signature, ",")
	var timestamp string
	var signatures []string

	for _, element := range elements {
		parts := strings.SplitN(element, "=", 2)
		if len(parts) != 2 {
			continue
		}

		switch parts[0] {
		case "t":
			timestamp = parts[1]
		case "v1":
			signatures = append(signatures, parts[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		logger.Error("Invalid Stripe signature format: missing timestamp or signatures")
		return false
	}

	timestampInt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		logger.WithFields(logging.Fields{
			"timestamp": timestamp,
			"error":     err,
		}).Error("Failed to parse Stripe webhook timestamp")
		return false
	}

	now := time.Now().Unix()
	if now-timestampInt > 300 { // 5 minutes tolerance
		logger.WithFields(logging.Fields{
			"timestamp":   timestampInt,
			"current":     now,
			"age_seconds": now - timestampInt,
		}).Warn("Stripe webhook timestamp too old")
		return false
	}

	signedPayload := timestamp + "." + string(payload)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expectedSignature := hex.EncodeToString(mac.Sum(nil))

	for _, providedSig := range signatures {
		if hmac.Equal([]byte(expectedSignature), []byte(providedSig)) {
			return true
		}
	}

	logger.WithFields(logging.Fields{
		"timestamp":   timestamp,
		"payload_len": len(payload),
	}).Warn("Stripe signature verification failed")

	return false
}

// isWebhookAlreadyProcessed checks if a webhook event was already processed
func isWebhookAlreadyProcessed(provider, eventID string) bool {
	if db == nil {
		return false
	}
	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM sunvault.webhook_events WHERE provider = $1 AND event_id = $2)
	`, provider, eventID).Scan(&exists)
	return err == nil && exists
}

// markWebhookProcessed marks a webhook event as processed
func markWebhookProcessed(provider, eventID, eventType string) {
	if db == nil {
		return
	}
	_, err := db.Exec(`
		INSERT INTO sunvault.webhook_events (provider, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, eventType)
	if err != nil {
		logger.WithError(err).Warn("Failed to mark webhook as processed")
	}
}

// HandleStripeWebhook processes Stripe webhook events. Redeliveries are
// absorbed twice over: once by the webhook_events table and again by the
// stripe_session_id dedup inside the ledger engine.
func HandleStripeWebhook(c middleware.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ledgerapi.ErrorResponse{Error: "Failed to read body"})
		return
	}

	secret := config.GetEnv("STRIPE_WEBHOOK_SECRET", "")
	signature := c.GetHeader("Stripe-Signature")
	if !verifyStripeSignature(body, signature, secret) {
		c.JSON(http.StatusUnauthorized, ledgerapi.ErrorResponse{Error: "Invalid signature"})
		return
	}

	var payload StripeWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, ledgerapi.ErrorResponse{Error: "Invalid payload"})
		return
	}

	if metrics != nil && metrics.WebhooksReceived != nil {
		metrics.WebhooksReceived.WithLabelValues("stripe", payload.Type).Inc()
	}

	if isWebhookAlreadyProcessed("stripe", payload.ID) {
		logger.WithField("event_id", payload.ID).Info("Webhook already processed, skipping")
		c.JSON(http.StatusOK, map[string]string{"status": "already_processed"})
		return
	}

	switch payload.Type {
	case "checkout.session.completed":
		if err := handleCheckoutCompleted(c, payload); err != nil {
			// Transient failure: do not mark processed so Stripe redelivers
			logger.WithError(err).WithField("event_id", payload.ID).Error("Failed to process checkout completion")
			c.JSON(http.StatusInternalServerError, ledgerapi.ErrorResponse{Error: "Processing failed"})
			return
		}
	default:
		logger.WithField("type", payload.Type).Info("Ignoring unhandled Stripe event type")
	}

	markWebhookProcessed("stripe", payload.ID, payload.Type)
	c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleCheckoutCompleted credits the balance for a completed top-up
// checkout, keyed by the session id so redeliveries replay instead of
// double-crediting.
func handleCheckoutCompleted(c middleware.Context, payload StripeWebhookPayload) error {
	var sess StripeCheckoutSessionObject
	if err := json.Unmarshal(payload.Data.Object, &sess); err != nil {
		logger.WithError(err).Warn("Failed to parse checkout session object, ignoring")
		return nil
	}

	if sess.Metadata.Purpose != payments.PurposeTopup {
		logger.WithFields(logging.Fields{
			"session_id": sess.ID,
			"purpose":    sess.Metadata.Purpose,
		}).Info("Ignoring checkout with unrelated purpose")
		return nil
	}

	userID := sess.Metadata.UserID
	if userID == "" && sess.CustomerEmail != "" {
		// Older sessions carried no user id; fall back to the email.
		err := db.QueryRow(`
			SELECT id FROM sunvault.users WHERE email = $1
		`, sess.CustomerEmail).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			logger.WithField("email", sess.CustomerEmail).Warn("No user for checkout email, ignoring")
			return nil
		}
		if err != nil {
			return err
		}
	}
	if userID == "" {
		logger.WithField("session_id", sess.ID).Warn("No user_id in checkout metadata, ignoring")
		return nil
	}
	if sess.AmountTotal <= 0 {
		logger.WithFields(logging.Fields{
			"session_id":   sess.ID,
			"amount_total": sess.AmountTotal,
		}).Warn("Non-positive checkout amount, ignoring")
		return nil
	}

	result, err := engine.Apply(c.Request.Context(), userID, ledger.OpTopup, sess.AmountTotal, ledger.ApplyOptions{
		StripeSessionID: sess.ID,
		Description:     "Card top-up via Stripe",
		Metadata: models.JSONB{
			"provider": "stripe",
			"currency": sess.Currency,
		},
	})
	if err != nil {
		countOperation(ledger.OpTopup, "error")
		return err
	}

	countOperation(ledger.OpTopup, "ok")
	emitLedgerEvent(userID, ledger.OpTopup, sess.AmountTotal, result, nil)

	logger.WithFields(logging.Fields{
		"user_id":      userID,
		"session_id":   sess.ID,
		"amount_cents": sess.AmountTotal,
		"new_balance":  result.BalanceCents,
		"replayed":     result.Existing,
	}).Info("Credited balance from Stripe checkout")

	return nil
}
