package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrWebhookSignature is returned when a webhook payload fails signature verification.
var ErrWebhookSignature = errors.New("payments: invalid webhook signature")

// WebhookEvent is a provider-neutral view of a PSP webhook delivery. IntentID
// and SessionID are the correlation handles back to a stored payment record;
// OrderID is present when the session was created with order metadata.
type WebhookEvent struct {
	Provider   string
	ID         string
	Type       string
	IntentID   string
	SessionID  string
	OrderID    string
	Amount     int64
	Currency   string
	OccurredAt time.Time
	Raw        map[string]any
}

// StripeWebhookVerifier checks Stripe webhook signatures and decodes the
// payload into a WebhookEvent.
type StripeWebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeWebhookVerifier constructs a verifier for the given endpoint secret.
func NewStripeWebhookVerifier(secret string) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	return &StripeWebhookVerifier{secret: secret, tolerance: webhook.DefaultTolerance}, nil
}

// VerifyAndParse validates the Stripe-Signature header against the raw payload
// and extracts the fields the payment pipeline needs. Payloads with an API
// version newer than the pinned SDK still verify; Stripe resends the same
// object shape for the fields read here.
func (v *StripeWebhookVerifier) VerifyAndParse(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if v == nil {
		return WebhookEvent{}, errors.New("stripe: verifier is nil")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
		Tolerance:                v.tolerance,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	out := WebhookEvent{
		Provider:   "stripe",
		ID:         event.ID,
		Type:       string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data != nil {
		raw := map[string]any{}
		if err := json.Unmarshal(event.Data.Raw, &raw); err == nil {
			out.Raw = raw
		}
		if err := decodeStripeEventObject(&out, event.Type, event.Data.Raw); err != nil {
			return WebhookEvent{}, err
		}
	}
	return out, nil
}

func decodeStripeEventObject(out *WebhookEvent, eventType stripe.EventType, raw json.RawMessage) error {
	switch eventType {
	case "checkout.session.completed", "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return fmt.Errorf("stripe: decode checkout session: %w", err)
		}
		out.SessionID = session.ID
		out.Amount = session.AmountTotal
		out.Currency = string(session.Currency)
		out.OrderID = session.Metadata["order_id"]
		if session.PaymentIntent != nil {
			out.IntentID = session.PaymentIntent.ID
		}
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(raw, &intent); err != nil {
			return fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		out.IntentID = intent.ID
		out.Amount = intent.AmountReceived
		if out.Amount == 0 {
			out.Amount = intent.Amount
		}
		out.Currency = string(intent.Currency)
		out.OrderID = intent.Metadata["order_id"]
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(raw, &charge); err != nil {
			return fmt.Errorf("stripe: decode charge: %w", err)
		}
		if charge.PaymentIntent != nil {
			out.IntentID = charge.PaymentIntent.ID
		}
		out.Amount = charge.AmountRefunded
		out.Currency = string(charge.Currency)
		out.OrderID = charge.Metadata["order_id"]
	}
	return nil
}
