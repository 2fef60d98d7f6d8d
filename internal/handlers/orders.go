package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/timberhaven/api/internal/domain"
	"github.com/timberhaven/api/internal/platform/auth"
	"github.com/timberhaven/api/internal/platform/httpx"
	"github.com/timberhaven/api/internal/services"
)

const (
	maxOrderBodySize     = 32 * 1024
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPendingPayment:   {},
	domain.OrderStatusPaid:             {},
	domain.OrderStatusInProduction:     {},
	domain.OrderStatusReadyForDelivery: {},
	domain.OrderStatusDelivered:        {},
	domain.OrderStatusCanceled:         {},
}

// OrderHandlers exposes authenticated order endpoints for the current user,
// including checkout session creation for a placed order.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	checkout services.CheckoutService
}

// NewOrderHandlers constructs handlers enforcing Firebase authentication before invoking the order services.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, checkout services.CheckoutService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		orders:   orders,
		checkout: checkout,
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/checkout", h.createCheckoutSession)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

type placeOrderRequest struct {
	Contact *orderContactPayload `json:"contact,omitempty"`
	Notes   string               `json:"notes,omitempty"`
}

type orderContactPayload struct {
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireOrders(ctx, w)
	if !ok {
		return
	}

	cmd := services.PlaceOrderCommand{UserID: identity.UID}
	if r.ContentLength != 0 {
		var req placeOrderRequest
		if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil && !errors.Is(err, errEmptyBody) {
			writeBodyError(ctx, w, err)
			return
		} else if err == nil {
			cmd.Notes = req.Notes
			if req.Contact != nil {
				cmd.Contact = &domain.OrderContact{
					Email: strings.TrimSpace(req.Contact.Email),
					Phone: strings.TrimSpace(req.Contact.Phone),
				}
			}
		}
	}

	order, err := h.orders.PlaceOrder(ctx, cmd)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireOrders(ctx, w)
	if !ok {
		return
	}

	filter := services.OrderListFilter{
		UserID:     identity.UID,
		Pagination: parsePagination(r, defaultOrderPageSize, maxOrderPageSize),
	}
	for _, raw := range r.URL.Query()["status"] {
		status, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status "+raw, http.StatusBadRequest))
			return
		}
		filter.Status = append(filter.Status, status)
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		from, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "from must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.From = &from
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		to, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "to must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.To = &to
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	orders := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		orders = append(orders, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:        orders,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireOrders(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		UserID:  identity.UID,
	})
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type checkoutSessionRequest struct {
	SuccessURL string            `json:"success_url,omitempty"`
	CancelURL  string            `json:"cancel_url,omitempty"`
	PSP        string            `json:"psp,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type checkoutSessionResponse struct {
	SessionID    string `json:"session_id"`
	PSP          string `json:"psp"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

func (h *OrderHandlers) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireOrders(ctx, w)
	if !ok {
		return
	}
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil && !errors.Is(err, errEmptyBody) {
			writeBodyError(ctx, w, err)
			return
		}
	}

	session, err := h.checkout.CreateCheckoutSession(ctx, services.CreateCheckoutSessionCommand{
		UserID:     identity.UID,
		OrderID:    chi.URLParam(r, "orderID"),
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		PSP:        req.PSP,
		Metadata:   req.Metadata,
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutSessionResponse{
		SessionID:    session.SessionID,
		PSP:          session.PSP,
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.RedirectURL,
		ExpiresAt:    formatTime(session.ExpiresAt),
	})
}

type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireOrders(ctx, w)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil && !errors.Is(err, errEmptyBody) {
			writeBodyError(ctx, w, err)
			return
		}
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		UserID:  identity.UID,
		Reason:  req.Reason,
	})
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requireOrders(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderCartNotReady):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_ready", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order", http.StatusInternalServerError))
	}
}

func (h *OrderHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutOrderNotPayable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_payable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment provider rejected the session", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to create checkout session", http.StatusInternalServerError))
	}
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := validOrderStatuses[status]
	return status, ok
}

type orderListResponse struct {
	Orders        []orderSummaryPayload `json:"orders"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	ModelName   string `json:"model_name,omitempty"`
	Total       int64  `json:"total"`
	PlacedAt    string `json:"placed_at,omitempty"`
}

type orderPayload struct {
	orderSummaryPayload
	UserID         string                `json:"user_id"`
	ModelID        string                `json:"model_id,omitempty"`
	Selections     []selectionPayload    `json:"selections"`
	DestinationZIP string                `json:"destination_zip,omitempty"`
	Address        *addressPayload       `json:"address,omitempty"`
	Delivery       *deliveryQuotePayload `json:"delivery,omitempty"`
	Promotion      *cartPromotionPayload `json:"promotion,omitempty"`
	Breakdown      breakdownPayload      `json:"breakdown"`
	Contact        *orderContactPayload  `json:"contact,omitempty"`
	Notes          string                `json:"notes,omitempty"`
	ManualReview   bool                  `json:"manual_review,omitempty"`
	Payments       []orderPaymentPayload `json:"payments,omitempty"`
	PaidAt         string                `json:"paid_at,omitempty"`
	DeliveredAt    string                `json:"delivered_at,omitempty"`
	CanceledAt     string                `json:"canceled_at,omitempty"`
	CancelReason   string                `json:"cancel_reason,omitempty"`
	UpdatedAt      string                `json:"updated_at,omitempty"`
}

type orderPaymentPayload struct {
	ID         string `json:"id"`
	Provider   string `json:"provider"`
	IntentID   string `json:"intent_id,omitempty"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	CapturedAt string `json:"captured_at,omitempty"`
	RefundedAt string `json:"refunded_at,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		ModelName:   order.ModelName,
		Total:       order.Breakdown.Total,
		PlacedAt:    formatTimePointer(order.PlacedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		orderSummaryPayload: buildOrderSummary(order),
		UserID:              order.UserID,
		ModelID:             order.ModelID,
		Selections:          buildSelectionPayloads(order.Selections),
		DestinationZIP:      order.DestinationZIP,
		Breakdown:           buildBreakdownPayload(order.Breakdown),
		Notes:               order.Notes,
		ManualReview:        order.Flags.ManualReview,
		PaidAt:              formatTimePointer(order.PaidAt),
		DeliveredAt:         formatTimePointer(order.DeliveredAt),
		CanceledAt:          formatTimePointer(order.CanceledAt),
		UpdatedAt:           formatTime(order.UpdatedAt),
	}
	if order.DeliveryAddress != nil {
		addr := buildAddressPayload(*order.DeliveryAddress)
		payload.Address = &addr
	}
	if order.Delivery != nil {
		quote := buildDeliveryQuotePayload(*order.Delivery)
		payload.Delivery = &quote
	}
	if order.Promotion != nil {
		payload.Promotion = &cartPromotionPayload{
			Code:           order.Promotion.Code,
			DiscountAmount: order.Promotion.DiscountAmount,
			Applied:        order.Promotion.Applied,
		}
	}
	if order.Contact != nil {
		payload.Contact = &orderContactPayload{
			Email: order.Contact.Email,
			Phone: order.Contact.Phone,
		}
	}
	if order.CancelReason != nil {
		payload.CancelReason = *order.CancelReason
	}
	for _, payment := range order.Payments {
		payload.Payments = append(payload.Payments, orderPaymentPayload{
			ID:         payment.ID,
			Provider:   payment.Provider,
			IntentID:   payment.IntentID,
			Status:     payment.Status,
			Amount:     payment.Amount,
			Currency:   strings.ToUpper(strings.TrimSpace(payment.Currency)),
			CapturedAt: formatTimePointer(payment.CapturedAt),
			RefundedAt: formatTimePointer(payment.RefundedAt),
		})
	}
	return payload
}
