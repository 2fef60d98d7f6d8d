package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/timberhaven/api/internal/payments"
	"github.com/timberhaven/api/internal/platform/httpx"
	"github.com/timberhaven/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// WebhookHandlers receives PSP callbacks, verifies their signatures, and hands
// the decoded events to the payment service.
type WebhookHandlers struct {
	stripe   *payments.StripeWebhookVerifier
	payments services.PaymentService
}

// NewWebhookHandlers constructs the webhook endpoints.
func NewWebhookHandlers(stripe *payments.StripeWebhookVerifier, svc services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{
		stripe:   stripe,
		payments: svc,
	}
}

// Routes wires the /webhooks endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

type webhookAckResponse struct {
	Received bool `json:"received"`
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stripe == nil || h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "webhook processing is unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := h.stripe.VerifyAndParse(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrWebhookSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to parse webhook payload", http.StatusBadRequest))
		return
	}

	if err := h.payments.HandlePaymentEvent(ctx, services.PaymentEventCommand{
		Provider:   event.Provider,
		EventID:    event.ID,
		EventType:  event.Type,
		IntentID:   event.IntentID,
		SessionID:  event.SessionID,
		OrderID:    event.OrderID,
		Amount:     event.Amount,
		Currency:   event.Currency,
		OccurredAt: event.OccurredAt,
		Raw:        event.Raw,
	}); err != nil {
		h.writeWebhookError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
}

func (h *WebhookHandlers) writeWebhookError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidEvent):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_event", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentUnavailable):
		// 503 makes the PSP retry later instead of dropping the event.
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "payment processing is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process payment event", http.StatusInternalServerError))
	}
}
