package handlers

import (
	"net/http"
	"testing"
	"time"

	domain "github.com/timberhaven/api/internal/domain"
	"github.com/timberhaven/api/internal/services"
)

func testOrder() services.Order {
	quote := testQuote()
	placedAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return services.Order{
		ID:          "ord_1",
		OrderNumber: "TH-20260310-0001",
		UserID:      "user-1",
		Status:      domain.OrderStatusPendingPayment,
		Currency:    "usd",
		ModelID:     "mdl_cedar",
		ModelName:   "Cedar 28",
		BasePrice:   5000000,
		SetupFee:    80000,
		Selections: []services.OptionSelection{
			{Code: "flooring-upgrade", Name: "Hardwood flooring", UnitPrice: 120000, Quantity: 1},
		},
		DestinationZIP: "97031",
		Delivery:       &quote,
		Breakdown: services.PricingBreakdown{
			Currency: "usd",
			Base:     5000000,
			Options:  120000,
			Delivery: 250000,
			Setup:    80000,
			Total:    5450000,
		},
		PlacedAt:  &placedAt,
		UpdatedAt: placedAt,
	}
}

func TestPlaceOrderCreatesOrder(t *testing.T) {
	orders := &stubOrderService{order: testOrder()}
	h := NewOrderHandlers(nil, orders, &stubCheckoutService{})

	body := map[string]any{
		"contact": map[string]any{"email": "jordan@example.com", "phone": "+1 555 0100"},
		"notes":   "deliver after 9am",
	}
	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodPost, "/", body, testIdentity("user-1")))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if orders.lastPlace.UserID != "user-1" {
		t.Fatalf("user id = %q", orders.lastPlace.UserID)
	}
	if orders.lastPlace.Contact == nil || orders.lastPlace.Contact.Email != "jordan@example.com" {
		t.Fatalf("contact = %+v", orders.lastPlace.Contact)
	}
	if orders.lastPlace.Notes != "deliver after 9am" {
		t.Fatalf("notes = %q", orders.lastPlace.Notes)
	}

	var payload orderResponse
	decodeResponse(t, rec, &payload)
	if payload.Order.OrderNumber != "TH-20260310-0001" {
		t.Fatalf("order number = %q", payload.Order.OrderNumber)
	}
	if payload.Order.Breakdown.Total != 5450000 {
		t.Fatalf("total = %d", payload.Order.Breakdown.Total)
	}
}

func TestPlaceOrderWithoutBodySucceeds(t *testing.T) {
	orders := &stubOrderService{order: testOrder()}
	h := NewOrderHandlers(nil, orders, nil)

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodPost, "/", nil, testIdentity("user-1")))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if orders.lastPlace.Contact != nil {
		t.Fatalf("contact = %+v, want nil", orders.lastPlace.Contact)
	}
}

func TestPlaceOrderCartNotReady(t *testing.T) {
	h := NewOrderHandlers(nil, &stubOrderService{err: services.ErrOrderCartNotReady}, nil)

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodPost, "/", nil, testIdentity("user-1")))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if code := errorCode(t, rec); code != "cart_not_ready" {
		t.Fatalf("error code = %q", code)
	}
}

func TestListOrdersScopesToCaller(t *testing.T) {
	orders := &stubOrderService{
		page: domain.CursorPage[services.Order]{
			Items:         []services.Order{testOrder()},
			NextPageToken: "tok_next",
		},
	}
	h := NewOrderHandlers(nil, orders, nil)

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodGet, "/?status=pending_payment&status=paid&pageSize=5", nil, testIdentity("user-1")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if orders.lastFilter.UserID != "user-1" {
		t.Fatalf("filter user = %q", orders.lastFilter.UserID)
	}
	if len(orders.lastFilter.Status) != 2 {
		t.Fatalf("status filter = %v", orders.lastFilter.Status)
	}
	if orders.lastFilter.Pagination.PageSize != 5 {
		t.Fatalf("page size = %d", orders.lastFilter.Pagination.PageSize)
	}

	var payload orderListResponse
	decodeResponse(t, rec, &payload)
	if len(payload.Orders) != 1 || payload.NextPageToken != "tok_next" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestListOrdersRejectsUnknownStatus(t *testing.T) {
	h := NewOrderHandlers(nil, &stubOrderService{}, nil)

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodGet, "/?status=shipped", nil, testIdentity("user-1")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetOrderEnforcesOwnership(t *testing.T) {
	orders := &stubOrderService{order: testOrder()}
	h := NewOrderHandlers(nil, orders, nil)

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodGet, "/ord_1", nil, testIdentity("user-1")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if orders.lastGet.OrderID != "ord_1" || orders.lastGet.UserID != "user-1" {
		t.Fatalf("command = %+v", orders.lastGet)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	h := NewOrderHandlers(nil, &stubOrderService{err: services.ErrOrderNotFound}, nil)

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodGet, "/ord_missing", nil, testIdentity("user-1")))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := errorCode(t, rec); code != "order_not_found" {
		t.Fatalf("error code = %q", code)
	}
}

func TestCreateCheckoutSessionPassesCommand(t *testing.T) {
	checkout := &stubCheckoutService{
		session: services.CheckoutSession{
			SessionID:   "cs_123",
			PSP:         "stripe",
			RedirectURL: "https://checkout.stripe.com/pay/cs_123",
			ExpiresAt:   time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC),
		},
	}
	h := NewOrderHandlers(nil, &stubOrderService{}, checkout)

	body := map[string]any{
		"success_url": "https://timberhaven.example/checkout/success",
		"cancel_url":  "https://timberhaven.example/checkout/cancel",
	}
	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodPost, "/ord_1/checkout", body, testIdentity("user-1")))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if checkout.lastCmd.OrderID != "ord_1" || checkout.lastCmd.UserID != "user-1" {
		t.Fatalf("command = %+v", checkout.lastCmd)
	}
	if checkout.lastCmd.SuccessURL != "https://timberhaven.example/checkout/success" {
		t.Fatalf("success url = %q", checkout.lastCmd.SuccessURL)
	}

	var payload checkoutSessionResponse
	decodeResponse(t, rec, &payload)
	if payload.SessionID != "cs_123" || payload.PSP != "stripe" {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.RedirectURL == "" {
		t.Fatal("redirect url missing")
	}
}

func TestCreateCheckoutSessionErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "not payable", err: services.ErrCheckoutOrderNotPayable, wantStatus: http.StatusConflict, wantCode: "order_not_payable"},
		{name: "psp failure", err: services.ErrCheckoutPaymentFailed, wantStatus: http.StatusBadGateway, wantCode: "payment_failed"},
		{name: "invalid input", err: services.ErrCheckoutInvalidInput, wantStatus: http.StatusBadRequest, wantCode: "invalid_request"},
		{name: "unavailable", err: services.ErrCheckoutUnavailable, wantStatus: http.StatusServiceUnavailable, wantCode: "checkout_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewOrderHandlers(nil, &stubOrderService{}, &stubCheckoutService{err: tc.err})
			rec := serveRoutes(h.Routes, authedRequest(t, http.MethodPost, "/ord_1/checkout", nil, testIdentity("user-1")))
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if code := errorCode(t, rec); code != tc.wantCode {
				t.Fatalf("error code = %q, want %q", code, tc.wantCode)
			}
		})
	}
}

func TestCancelOrderPassesReason(t *testing.T) {
	orders := &stubOrderService{order: testOrder()}
	h := NewOrderHandlers(nil, orders, nil)

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodPost, "/ord_1/cancel", map[string]any{"reason": "changed plans"}, testIdentity("user-1")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if orders.lastCancel.OrderID != "ord_1" || orders.lastCancel.UserID != "user-1" || orders.lastCancel.Reason != "changed plans" {
		t.Fatalf("command = %+v", orders.lastCancel)
	}
}

func TestCancelOrderInvalidTransition(t *testing.T) {
	h := NewOrderHandlers(nil, &stubOrderService{err: services.ErrOrderInvalidTransition}, nil)

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodPost, "/ord_1/cancel", nil, testIdentity("user-1")))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if code := errorCode(t, rec); code != "invalid_transition" {
		t.Fatalf("error code = %q", code)
	}
}

func TestOrdersRequireIdentity(t *testing.T) {
	h := NewOrderHandlers(nil, &stubOrderService{}, nil)

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodGet, "/", nil, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
