package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/timberhaven/api/internal/services"
)

func testCart() services.Cart {
	quote := testQuote()
	return services.Cart{
		ID:             "cart_1",
		UserID:         "user-1",
		Currency:       "usd",
		ModelID:        "mdl_cedar",
		ModelName:      "Cedar 28",
		BasePrice:      5000000,
		SetupFee:       80000,
		Selections: []services.OptionSelection{
			{Code: "flooring-upgrade", Name: "Hardwood flooring", UnitPrice: 120000, Quantity: 1},
		},
		DestinationZIP: "97031",
		Delivery:       &quote,
		Breakdown: &services.PricingBreakdown{
			Currency: "usd",
			Base:     5000000,
			Options:  120000,
			Delivery: 250000,
			Setup:    80000,
			Total:    5450000,
			OptionLines: []services.OptionLineBreakdown{
				{Code: "flooring-upgrade", Name: "Hardwood flooring", UnitPrice: 120000, Quantity: 1, Subtotal: 120000},
			},
		},
		UpdatedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestGetCartReturnsPricedCart(t *testing.T) {
	carts := &stubCartService{cart: testCart()}
	h := NewCartHandlers(nil, carts)

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodGet, "/", nil, testIdentity("user-1")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if carts.lastCmd != "user-1" {
		t.Fatalf("service saw user %v", carts.lastCmd)
	}
	var payload cartResponse
	decodeResponse(t, rec, &payload)
	if payload.Cart.ID != "cart_1" || payload.Cart.Currency != "USD" {
		t.Fatalf("cart = %+v", payload.Cart)
	}
	if payload.Cart.Breakdown == nil || payload.Cart.Breakdown.Total != 5450000 {
		t.Fatalf("breakdown = %+v", payload.Cart.Breakdown)
	}
	if payload.Cart.Delivery == nil || payload.Cart.Delivery.Fee != 250000 {
		t.Fatalf("delivery = %+v", payload.Cart.Delivery)
	}
}

func TestCartRequiresIdentity(t *testing.T) {
	h := NewCartHandlers(nil, &stubCartService{cart: testCart()})

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodGet, "/", nil, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if code := errorCode(t, rec); code != "unauthenticated" {
		t.Fatalf("error code = %q", code)
	}
}

func TestSetCartModelPassesCommand(t *testing.T) {
	carts := &stubCartService{cart: testCart()}
	h := NewCartHandlers(nil, carts)

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodPut, "/model", map[string]any{"model_id": "mdl_cedar"}, testIdentity("user-1")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	cmd, ok := carts.lastCmd.(services.SetCartModelCommand)
	if !ok {
		t.Fatalf("command type %T", carts.lastCmd)
	}
	if cmd.UserID != "user-1" || cmd.ModelID != "mdl_cedar" {
		t.Fatalf("command = %+v", cmd)
	}
}

func TestUpsertSelectionUsesPathCode(t *testing.T) {
	carts := &stubCartService{cart: testCart()}
	h := NewCartHandlers(nil, carts)

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodPut, "/selections/flooring-upgrade", map[string]any{"quantity": 2}, testIdentity("user-1")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	cmd, ok := carts.lastCmd.(services.UpsertCartSelectionCommand)
	if !ok {
		t.Fatalf("command type %T", carts.lastCmd)
	}
	if cmd.Code != "flooring-upgrade" || cmd.Quantity != 2 {
		t.Fatalf("command = %+v", cmd)
	}
}

func TestSetDestinationParsesAddress(t *testing.T) {
	carts := &stubCartService{cart: testCart()}
	h := NewCartHandlers(nil, carts)

	body := map[string]any{
		"postal_code": "97031",
		"address": map[string]any{
			"recipient":   "Jordan Reyes",
			"line1":       "123 Orchard Rd",
			"city":        "Hood River",
			"postal_code": "97031",
			"country":     "US",
		},
	}
	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodPut, "/destination", body, testIdentity("user-1")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	cmd, ok := carts.lastCmd.(services.SetCartDestinationCommand)
	if !ok {
		t.Fatalf("command type %T", carts.lastCmd)
	}
	if cmd.PostalCode != "97031" {
		t.Fatalf("postal code = %q", cmd.PostalCode)
	}
	if cmd.Address == nil || cmd.Address.City != "Hood River" || cmd.Address.Recipient != "Jordan Reyes" {
		t.Fatalf("address = %+v", cmd.Address)
	}
}

func TestApplyPromotionErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "rejected code", err: services.ErrCartPromotionRejected, wantStatus: http.StatusUnprocessableEntity, wantCode: "promotion_rejected"},
		{name: "model not set", err: services.ErrCartModelNotSet, wantStatus: http.StatusConflict, wantCode: "model_not_set"},
		{name: "invalid input", err: services.ErrCartInvalidInput, wantStatus: http.StatusBadRequest, wantCode: "invalid_request"},
		{name: "unavailable", err: services.ErrCartUnavailable, wantStatus: http.StatusServiceUnavailable, wantCode: "cart_service_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewCartHandlers(nil, &stubCartService{err: tc.err})
			rec := serveRoutes(h.Routes, authedRequest(t, http.MethodPost, "/promotion", map[string]any{"code": "SPRING25"}, testIdentity("user-1")))
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if code := errorCode(t, rec); code != tc.wantCode {
				t.Fatalf("error code = %q, want %q", code, tc.wantCode)
			}
		})
	}
}

func TestRemoveSelectionNotFound(t *testing.T) {
	h := NewCartHandlers(nil, &stubCartService{err: services.ErrCartOptionNotFound})

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodDelete, "/selections/solar", nil, testIdentity("user-1")))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := errorCode(t, rec); code != "option_not_found" {
		t.Fatalf("error code = %q", code)
	}
}

func TestClearCartReturnsNoContent(t *testing.T) {
	carts := &stubCartService{}
	h := NewCartHandlers(nil, carts)

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodDelete, "/", nil, testIdentity("user-1")))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if carts.cleared != "user-1" {
		t.Fatalf("cleared = %q", carts.cleared)
	}
}
