package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/timberhaven/api/internal/domain"
	"github.com/timberhaven/api/internal/platform/auth"
	"github.com/timberhaven/api/internal/services"
)

// Shared stubs for handler tests. Each stub records the last command it saw
// and returns canned results, so tests assert the HTTP layer in isolation.

type stubCatalogService struct {
	page       domain.CursorPage[services.HomeModel]
	model      services.HomeModel
	upserted   services.HomeModel
	err        error
	lastFilter services.ModelListFilter
	lastRef    string
	lastSlug   string
	lastUpsert services.UpsertModelCommand
	deletedID  string
}

func (s *stubCatalogService) ListModels(_ context.Context, filter services.ModelListFilter) (domain.CursorPage[services.HomeModel], error) {
	s.lastFilter = filter
	return s.page, s.err
}

func (s *stubCatalogService) GetModel(_ context.Context, modelID string) (services.HomeModel, error) {
	s.lastRef = modelID
	return s.model, s.err
}

func (s *stubCatalogService) GetModelBySlug(_ context.Context, slug string) (services.HomeModel, error) {
	s.lastSlug = slug
	return s.model, s.err
}

func (s *stubCatalogService) UpsertModel(_ context.Context, cmd services.UpsertModelCommand) (services.HomeModel, error) {
	s.lastUpsert = cmd
	if s.err != nil {
		return services.HomeModel{}, s.err
	}
	if s.upserted.ID != "" {
		return s.upserted, nil
	}
	return cmd.Model, nil
}

func (s *stubCatalogService) DeleteModel(_ context.Context, modelID string) error {
	s.deletedID = modelID
	return s.err
}

type stubDeliveryEstimator struct {
	quote   services.DeliveryQuote
	err     error
	lastCmd services.QuoteDeliveryCommand
}

func (s *stubDeliveryEstimator) Quote(_ context.Context, cmd services.QuoteDeliveryCommand) (services.DeliveryQuote, error) {
	s.lastCmd = cmd
	return s.quote, s.err
}

type stubCartService struct {
	cart    services.Cart
	err     error
	lastCmd any
	cleared string
}

func (s *stubCartService) GetOrCreateCart(_ context.Context, userID string) (services.Cart, error) {
	s.lastCmd = userID
	return s.cart, s.err
}

func (s *stubCartService) SetModel(_ context.Context, cmd services.SetCartModelCommand) (services.Cart, error) {
	s.lastCmd = cmd
	return s.cart, s.err
}

func (s *stubCartService) UpsertSelection(_ context.Context, cmd services.UpsertCartSelectionCommand) (services.Cart, error) {
	s.lastCmd = cmd
	return s.cart, s.err
}

func (s *stubCartService) RemoveSelection(_ context.Context, cmd services.RemoveCartSelectionCommand) (services.Cart, error) {
	s.lastCmd = cmd
	return s.cart, s.err
}

func (s *stubCartService) SetDestination(_ context.Context, cmd services.SetCartDestinationCommand) (services.Cart, error) {
	s.lastCmd = cmd
	return s.cart, s.err
}

func (s *stubCartService) ApplyPromotion(_ context.Context, cmd services.ApplyCartPromotionCommand) (services.Cart, error) {
	s.lastCmd = cmd
	return s.cart, s.err
}

func (s *stubCartService) RemovePromotion(_ context.Context, userID string) (services.Cart, error) {
	s.lastCmd = userID
	return s.cart, s.err
}

func (s *stubCartService) ClearCart(_ context.Context, userID string) error {
	s.cleared = userID
	return s.err
}

type stubOrderService struct {
	order      services.Order
	page       domain.CursorPage[services.Order]
	err        error
	lastPlace  services.PlaceOrderCommand
	lastGet    services.GetOrderCommand
	lastFilter services.OrderListFilter
	lastStatus services.UpdateOrderStatusCommand
	lastCancel services.CancelOrderCommand
}

func (s *stubOrderService) PlaceOrder(_ context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	s.lastPlace = cmd
	return s.order, s.err
}

func (s *stubOrderService) GetOrder(_ context.Context, cmd services.GetOrderCommand) (services.Order, error) {
	s.lastGet = cmd
	return s.order, s.err
}

func (s *stubOrderService) ListOrders(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	s.lastFilter = filter
	return s.page, s.err
}

func (s *stubOrderService) UpdateStatus(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	s.lastStatus = cmd
	return s.order, s.err
}

func (s *stubOrderService) CancelOrder(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	s.lastCancel = cmd
	return s.order, s.err
}

type stubCheckoutService struct {
	session services.CheckoutSession
	err     error
	lastCmd services.CreateCheckoutSessionCommand
}

func (s *stubCheckoutService) CreateCheckoutSession(_ context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
	s.lastCmd = cmd
	return s.session, s.err
}

type stubPromotionService struct {
	result     services.PromotionValidationResult
	promotion  services.Promotion
	page       domain.CursorPage[services.Promotion]
	usage      domain.CursorPage[services.PromotionUsage]
	err        error
	lastUpsert services.UpsertPromotionCommand
	deletedID  string
}

func (s *stubPromotionService) ValidatePromotion(_ context.Context, _ services.ValidatePromotionCommand) (services.PromotionValidationResult, error) {
	return s.result, s.err
}

func (s *stubPromotionService) RecordRedemption(_ context.Context, _ services.RecordRedemptionCommand) error {
	return s.err
}

func (s *stubPromotionService) ListPromotions(_ context.Context, _ services.PromotionListFilter) (domain.CursorPage[services.Promotion], error) {
	return s.page, s.err
}

func (s *stubPromotionService) CreatePromotion(_ context.Context, cmd services.UpsertPromotionCommand) (services.Promotion, error) {
	s.lastUpsert = cmd
	return s.promotion, s.err
}

func (s *stubPromotionService) UpdatePromotion(_ context.Context, cmd services.UpsertPromotionCommand) (services.Promotion, error) {
	s.lastUpsert = cmd
	return s.promotion, s.err
}

func (s *stubPromotionService) DeletePromotion(_ context.Context, promotionID string) error {
	s.deletedID = promotionID
	return s.err
}

func (s *stubPromotionService) ListPromotionUsage(_ context.Context, _ services.PromotionUsageFilter) (domain.CursorPage[services.PromotionUsage], error) {
	return s.usage, s.err
}

type stubPaymentService struct {
	err     error
	lastCmd services.PaymentEventCommand
	calls   int
}

func (s *stubPaymentService) HandlePaymentEvent(_ context.Context, cmd services.PaymentEventCommand) error {
	s.calls++
	s.lastCmd = cmd
	return s.err
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func authedRequest(t *testing.T, method, target string, body any, identity *auth.Identity) *http.Request {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	return req
}

func serveRoutes(registrar RouteRegistrar, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Group(func(group chi.Router) {
		registrar(group)
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
	}
	decodeResponse(t, rec, &payload)
	return payload.Error
}

func testIdentity(uid string, roles ...string) *auth.Identity {
	return &auth.Identity{UID: uid, Email: uid + "@example.com", Roles: roles}
}

func testQuote() services.DeliveryQuote {
	return services.DeliveryQuote{
		Fee:           250000,
		Currency:      "usd",
		DistanceMiles: 420,
		EtaWeeksMin:   2,
		EtaWeeksMax:   5,
		PostalCode:    "97031",
		QuotedAt:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}
