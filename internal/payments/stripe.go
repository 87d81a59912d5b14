package payments

import (
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"

	"sunvault/pkg/logging"
)

// PurposeTopup marks checkout sessions created for credit top-ups. The
// webhook handler dispatches on this metadata value.
const PurposeTopup = "credit_topup"

// CheckoutRequest contains the parameters for a top-up checkout session
type CheckoutRequest struct {
	UserID      string
	UserEmail   string
	AmountCents int64
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// CheckoutResult contains the created checkout session
type CheckoutResult struct {
	SessionID   string
	CheckoutURL string
	ExpiresAt   time.Time
}

// StripeClient creates hosted checkout sessions for credit top-ups
type StripeClient struct {
	secretKey string
	logger    logging.Logger
}

// NewStripeClient creates a Stripe client
func NewStripeClient(secretKey string, log logging.Logger) *StripeClient {
	return &StripeClient{
		secretKey: secretKey,
		logger:    log,
	}
}

// CreateTopupCheckout creates a Stripe Checkout Session for a credit
// top-up. The user id in the session metadata ties the completed payment
// back to the ledger account.
func (c *StripeClient) CreateTopupCheckout(req CheckoutRequest) (*CheckoutResult, error) {
	if c.secretKey == "" {
		return nil, fmt.Errorf("stripe secret key not configured")
	}
	stripe.Key = c.secretKey

	if req.Currency == "" {
		req.Currency = "usd"
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(req.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Solar credit top-up"),
					},
					UnitAmount: stripe.Int64(req.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata: map[string]string{
			"purpose": PurposeTopup,
			"user_id": req.UserID,
		},
	}
	if req.UserEmail != "" {
		params.CustomerEmail = stripe.String(req.UserEmail)
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"session_id":   sess.ID,
		"user_id":      req.UserID,
		"amount_cents": req.AmountCents,
	}).Info("Created top-up checkout session")

	return &CheckoutResult{
		SessionID:   sess.ID,
		CheckoutURL: sess.URL,
		ExpiresAt:   time.Unix(sess.ExpiresAt, 0),
	}, nil
}
