package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/timberhaven/api/internal/platform/httpx"
	"github.com/timberhaven/api/internal/services"
)

const maxQuoteBodySize = 8 * 1024

// QuoteHandlers exposes the public delivery quote endpoint used by the
// configurator before a buyer signs in.
type QuoteHandlers struct {
	delivery services.DeliveryEstimator
}

// NewQuoteHandlers constructs the delivery quote endpoints.
func NewQuoteHandlers(delivery services.DeliveryEstimator) *QuoteHandlers {
	return &QuoteHandlers{delivery: delivery}
}

// Routes wires the /quotes endpoints onto the provided router.
func (h *QuoteHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/delivery", h.quoteDelivery)
}

type deliveryQuoteRequest struct {
	PostalCode  string `json:"postal_code"`
	Address     string `json:"address,omitempty"`
	BypassCache bool   `json:"bypass_cache,omitempty"`
}

type deliveryQuoteResponse struct {
	Quote deliveryQuotePayload `json:"quote"`
}

func (h *QuoteHandlers) quoteDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.delivery == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quotes_unavailable", "delivery estimator is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req deliveryQuoteRequest
	if err := decodeJSONBody(r, maxQuoteBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	quote, err := h.delivery.Quote(ctx, services.QuoteDeliveryCommand{
		PostalCode:  req.PostalCode,
		Address:     req.Address,
		BypassCache: req.BypassCache,
	})
	if err != nil {
		h.writeQuoteError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, deliveryQuoteResponse{Quote: buildDeliveryQuotePayload(quote)})
}

func (h *QuoteHandlers) writeQuoteError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrDeliveryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_destination", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDeliveryUnavailable):
		// Retryable: the distance provider is down, not the destination invalid.
		httpx.WriteError(ctx, w, httpx.NewError("quote_unavailable", "delivery quote is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("quote_error", "failed to compute delivery quote", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}
