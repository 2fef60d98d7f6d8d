package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/timberhaven/api/internal/platform/auth"
	"github.com/timberhaven/api/internal/platform/httpx"
	"github.com/timberhaven/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes authenticated configurator cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Put("/model", h.setModel)
	r.Put("/selections/{code}", h.upsertSelection)
	r.Delete("/selections/{code}", h.removeSelection)
	r.Put("/destination", h.setDestination)
	r.Post("/promotion", h.applyPromotion)
	r.Delete("/promotion", h.removePromotion)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCart(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.GetOrCreateCart(ctx, identity.UID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCart(ctx, w)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(ctx, identity.UID); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setCartModelRequest struct {
	ModelID string `json:"model_id"`
}

func (h *CartHandlers) setModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCart(ctx, w)
	if !ok {
		return
	}

	var req setCartModelRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cart, err := h.carts.SetModel(ctx, services.SetCartModelCommand{
		UserID:  identity.UID,
		ModelID: req.ModelID,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type upsertSelectionRequest struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandlers) upsertSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCart(ctx, w)
	if !ok {
		return
	}

	var req upsertSelectionRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cart, err := h.carts.UpsertSelection(ctx, services.UpsertCartSelectionCommand{
		UserID:   identity.UID,
		Code:     chi.URLParam(r, "code"),
		Quantity: req.Quantity,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCart(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.RemoveSelection(ctx, services.RemoveCartSelectionCommand{
		UserID: identity.UID,
		Code:   chi.URLParam(r, "code"),
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type setDestinationRequest struct {
	PostalCode string          `json:"postal_code"`
	Address    *addressPayload `json:"address,omitempty"`
}

func (h *CartHandlers) setDestination(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCart(ctx, w)
	if !ok {
		return
	}

	var req setDestinationRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cart, err := h.carts.SetDestination(ctx, services.SetCartDestinationCommand{
		UserID:     identity.UID,
		PostalCode: req.PostalCode,
		Address:    parseAddressPayload(req.Address),
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type applyPromotionRequest struct {
	Code string `json:"code"`
}

func (h *CartHandlers) applyPromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCart(ctx, w)
	if !ok {
		return
	}

	var req applyPromotionRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cart, err := h.carts.ApplyPromotion(ctx, services.ApplyCartPromotionCommand{
		UserID: identity.UID,
		Code:   req.Code,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removePromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCart(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.RemovePromotion(ctx, identity.UID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) requireCart(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartModelNotSet):
		httpx.WriteError(ctx, w, httpx.NewError("model_not_set", "select a home model before configuring options", http.StatusConflict))
	case errors.Is(err, services.ErrCartOptionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("option_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrCartPromotionRejected):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_rejected", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to update cart", http.StatusInternalServerError))
	}
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID             string                `json:"id"`
	UserID         string                `json:"user_id"`
	Currency       string                `json:"currency"`
	ModelID        string                `json:"model_id,omitempty"`
	ModelName      string                `json:"model_name,omitempty"`
	BasePrice      int64                 `json:"base_price,omitempty"`
	SetupFee       int64                 `json:"setup_fee,omitempty"`
	Selections     []selectionPayload    `json:"selections"`
	DestinationZIP string                `json:"destination_zip,omitempty"`
	Address        *addressPayload       `json:"address,omitempty"`
	Delivery       *deliveryQuotePayload `json:"delivery,omitempty"`
	Promotion      *cartPromotionPayload `json:"promotion,omitempty"`
	Breakdown      *breakdownPayload     `json:"breakdown,omitempty"`
	UpdatedAt      string                `json:"updated_at,omitempty"`
}

type cartPromotionPayload struct {
	Code           string `json:"code"`
	DiscountAmount int64  `json:"discount_amount"`
	Applied        bool   `json:"applied"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:             cart.ID,
		UserID:         cart.UserID,
		Currency:       strings.ToUpper(strings.TrimSpace(cart.Currency)),
		ModelID:        cart.ModelID,
		ModelName:      cart.ModelName,
		BasePrice:      cart.BasePrice,
		SetupFee:       cart.SetupFee,
		Selections:     buildSelectionPayloads(cart.Selections),
		DestinationZIP: cart.DestinationZIP,
		UpdatedAt:      formatTime(cart.UpdatedAt),
	}
	if cart.DeliveryAddress != nil {
		addr := buildAddressPayload(*cart.DeliveryAddress)
		payload.Address = &addr
	}
	if cart.Delivery != nil {
		quote := buildDeliveryQuotePayload(*cart.Delivery)
		payload.Delivery = &quote
	}
	if cart.Promotion != nil {
		payload.Promotion = &cartPromotionPayload{
			Code:           cart.Promotion.Code,
			DiscountAmount: cart.Promotion.DiscountAmount,
			Applied:        cart.Promotion.Applied,
		}
	}
	if cart.Breakdown != nil {
		breakdown := buildBreakdownPayload(*cart.Breakdown)
		payload.Breakdown = &breakdown
	}
	return payload
}
