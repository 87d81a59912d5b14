package handlers

import (
	"net/http"

	"sunvault/internal/payments"
	ledgerapi "sunvault/pkg/api/ledger"
	"sunvault/pkg/config"
	"sunvault/pkg/ctxkeys"
	"sunvault/pkg/middleware"
)

// CreateTopupCheckout creates a Stripe checkout session for a credit
// top-up. The balance is credited only when the completed-checkout
// webhook arrives, never here.
func CreateTopupCheckout(c middleware.Context) {
	userID := c.GetString(string(ctxkeys.KeyUserID))
	if userID == "" {
		c.JSON(http.StatusBadRequest, ledgerapi.ErrorResponse{Error: "User context required"})
		return
	}

	var req ledgerapi.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ledgerapi.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.AmountCents <= 0 {
		c.JSON(http.StatusBadRequest, ledgerapi.ErrorResponse{Error: "Amount must be positive"})
		return
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = config.GetEnv("CHECKOUT_SUCCESS_URL", "")
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = config.GetEnv("CHECKOUT_CANCEL_URL", "")
	}

	result, err := stripeClient.CreateTopupCheckout(payments.CheckoutRequest{
		UserID:      userID,
		UserEmail:   c.GetString(string(ctxkeys.KeyEmail)),
		AmountCents: req.AmountCents,
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to create checkout session")
		c.JSON(http.StatusInternalServerError, ledgerapi.ErrorResponse{Error: "Failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, ledgerapi.CheckoutResponse{
		SessionID:   result.SessionID,
		CheckoutURL: result.CheckoutURL,
	})
}
