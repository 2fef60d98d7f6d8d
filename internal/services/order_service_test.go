package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/timberhaven/api/internal/domain"
)

func readyCart(userID string) domain.Cart {
	return domain.Cart{
		ID:             userID,
		UserID:         userID,
		Currency:       "usd",
		ModelID:        "mdl_cedar",
		ModelName:      "Cedar 28",
		BasePrice:      5_000_000,
		SetupFee:       80_000,
		Selections:     []domain.OptionSelection{{Code: "flooring-upgrade", Name: "Upgraded Flooring", UnitPrice: 120_000, Quantity: 1}},
		DestinationZIP: "78701",
		Delivery: &domain.DeliveryQuote{
			Fee:           250_000,
			Currency:      "usd",
			DistanceMiles: 500,
			EtaWeeksMin:   2,
			EtaWeeksMax:   4,
			PostalCode:    "78701",
		},
		Breakdown: &domain.PricingBreakdown{
			Currency: "usd",
			Base:     5_000_000,
			Options:  120_000,
			Delivery: 250_000,
			Setup:    80_000,
			Total:    5_450_000,
		},
	}
}

type orderTestEnv struct {
	svc       OrderService
	orders    *fakeOrderRepo
	carts     *fakeCartRepo
	payments  *fakePaymentRepo
	counters  *fakeCounterRepo
	publisher *fakePublisher
}

func newOrderTestEnv(t *testing.T, opts ...func(*OrderServiceDeps)) *orderTestEnv {
	t.Helper()
	env := &orderTestEnv{
		orders:    newFakeOrderRepo(),
		carts:     newFakeCartRepo(),
		payments:  newFakePaymentRepo(),
		counters:  newFakeCounterRepo(),
		publisher: &fakePublisher{},
	}
	idSeq := 0
	deps := OrderServiceDeps{
		Orders:    env.orders,
		Carts:     env.carts,
		Payments:  env.payments,
		Counters:  env.counters,
		Publisher: env.publisher,
		IDGen: func() string {
			idSeq++
			return "ord_" + string(rune('a'+idSeq-1))
		},
		Clock: func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	env.svc = svc
	return env
}

func TestPlaceOrderFreezesCart(t *testing.T) {
	env := newOrderTestEnv(t)
	env.carts.carts["user-1"] = readyCart("user-1")

	order, err := env.svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:  "user-1",
		Contact: &domain.OrderContact{Email: "buyer@example.com"},
		Notes:   "deliver after the 15th",
	})
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}

	if order.OrderNumber != "TH-20260310-0001" {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected pending_payment, got %s", order.Status)
	}
	if order.Breakdown.Total != 5_450_000 {
		t.Fatalf("expected frozen total 5450000, got %d", order.Breakdown.Total)
	}
	if order.PlacedAt == nil {
		t.Fatal("expected PlacedAt set")
	}
	if order.CartRef == nil || *order.CartRef != "user-1" {
		t.Fatalf("expected cart reference, got %v", order.CartRef)
	}

	if _, ok := env.carts.carts["user-1"]; ok {
		t.Fatal("expected cart cleared after order placement")
	}

	events := env.publisher.published()
	if len(events) != 1 || events[0].Type != "order.placed" {
		t.Fatalf("expected order.placed event, got %+v", events)
	}
	if events[0].Total != 5_450_000 {
		t.Fatalf("expected event total 5450000, got %d", events[0].Total)
	}

	// Sequential orders get sequential numbers within the day.
	env.carts.carts["user-2"] = readyCart("user-2")
	second, err := env.svc.PlaceOrder(context.Background(), PlaceOrderCommand{UserID: "user-2"})
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if second.OrderNumber != "TH-20260310-0002" {
		t.Fatalf("unexpected second order number %q", second.OrderNumber)
	}
}

func TestPlaceOrderRequiresReadyCart(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Cart)
	}{
		{"no model", func(c *domain.Cart) { c.ModelID = "" }},
		{"no destination", func(c *domain.Cart) { c.DestinationZIP = ""; c.Delivery = nil }},
		{"no breakdown", func(c *domain.Cart) { c.Breakdown = nil }},
		{"zero total", func(c *domain.Cart) { c.Breakdown = &domain.PricingBreakdown{Total: 0} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newOrderTestEnv(t)
			cart := readyCart("user-1")
			tc.mutate(&cart)
			env.carts.carts["user-1"] = cart

			_, err := env.svc.PlaceOrder(context.Background(), PlaceOrderCommand{UserID: "user-1"})
			if !errors.Is(err, ErrOrderCartNotReady) {
				t.Fatalf("expected ErrOrderCartNotReady, got %v", err)
			}
		})
	}

	t.Run("missing cart", func(t *testing.T) {
		env := newOrderTestEnv(t)
		_, err := env.svc.PlaceOrder(context.Background(), PlaceOrderCommand{UserID: "user-1"})
		if !errors.Is(err, ErrOrderCartNotReady) {
			t.Fatalf("expected ErrOrderCartNotReady, got %v", err)
		}
	})
}

func TestPlaceOrderRecordsPromotionRedemption(t *testing.T) {
	recorded := make([]RecordRedemptionCommand, 0, 1)
	env := newOrderTestEnv(t, func(deps *OrderServiceDeps) {
		deps.Promotions = recordingPromotions{record: func(cmd RecordRedemptionCommand) {
			recorded = append(recorded, cmd)
		}}
	})
	cart := readyCart("user-1")
	cart.Promotion = &domain.CartPromotion{Code: "SPRING", DiscountAmount: 60_000, Applied: true}
	env.carts.carts["user-1"] = cart

	if _, err := env.svc.PlaceOrder(context.Background(), PlaceOrderCommand{UserID: "user-1"}); err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if len(recorded) != 1 || recorded[0].Code != "SPRING" || recorded[0].UserID != "user-1" {
		t.Fatalf("expected one redemption record, got %+v", recorded)
	}
}

func TestGetOrderOwnership(t *testing.T) {
	env := newOrderTestEnv(t)
	env.orders.orders["ord_1"] = domain.Order{ID: "ord_1", UserID: "user-1", Status: domain.OrderStatusPaid}

	if _, err := env.svc.GetOrder(context.Background(), GetOrderCommand{OrderID: "ord_1", UserID: "user-1"}); err != nil {
		t.Fatalf("GetOrder returned error: %v", err)
	}

	// Another user's lookup reports not-found, not forbidden.
	if _, err := env.svc.GetOrder(context.Background(), GetOrderCommand{OrderID: "ord_1", UserID: "user-2"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	// Admin callers omit the user scope.
	if _, err := env.svc.GetOrder(context.Background(), GetOrderCommand{OrderID: "ord_1"}); err != nil {
		t.Fatalf("admin GetOrder returned error: %v", err)
	}
}

func TestGetOrderAttachesPayments(t *testing.T) {
	env := newOrderTestEnv(t)
	env.orders.orders["ord_1"] = domain.Order{ID: "ord_1", UserID: "user-1"}
	env.payments.payments["pay_1"] = domain.Payment{ID: "pay_1", OrderID: "ord_1", IntentID: "pi_1"}

	order, err := env.svc.GetOrder(context.Background(), GetOrderCommand{OrderID: "ord_1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("GetOrder returned error: %v", err)
	}
	if len(order.Payments) != 1 || order.Payments[0].ID != "pay_1" {
		t.Fatalf("expected attached payment, got %+v", order.Payments)
	}
}

func TestUpdateStatusLifecycle(t *testing.T) {
	env := newOrderTestEnv(t)
	env.orders.orders["ord_1"] = domain.Order{
		ID:        "ord_1",
		UserID:    "user-1",
		Status:    domain.OrderStatusPendingPayment,
		Breakdown: domain.PricingBreakdown{Total: 5_450_000},
	}

	for _, status := range []OrderStatus{
		domain.OrderStatusPaid,
		domain.OrderStatusInProduction,
		domain.OrderStatusReadyForDelivery,
		domain.OrderStatusDelivered,
	} {
		order, err := env.svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord_1", Status: status, ActorID: "admin-1"})
		if err != nil {
			t.Fatalf("UpdateStatus(%s) returned error: %v", status, err)
		}
		if order.Status != status {
			t.Fatalf("expected status %s, got %s", status, order.Status)
		}
	}

	stored := env.orders.orders["ord_1"]
	if stored.PaidAt == nil || stored.DeliveredAt == nil {
		t.Fatalf("expected lifecycle timestamps stamped: %+v", stored)
	}

	events := env.publisher.published()
	if len(events) != 4 {
		t.Fatalf("expected 4 lifecycle events, got %d", len(events))
	}
	if events[0].Type != "order.paid" || events[3].Type != "order.delivered" {
		t.Fatalf("unexpected event types: %+v", events)
	}
}

func TestUpdateStatusRejectsInvalidTransitions(t *testing.T) {
	env := newOrderTestEnv(t)
	env.orders.orders["ord_1"] = domain.Order{ID: "ord_1", Status: domain.OrderStatusPendingPayment}

	cases := []struct {
		name   string
		status OrderStatus
		want   error
	}{
		{"skip ahead", domain.OrderStatusDelivered, ErrOrderInvalidTransition},
		{"unknown status", OrderStatus("lost_at_sea"), ErrOrderInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord_1", Status: tc.status})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	t.Run("terminal state", func(t *testing.T) {
		env.orders.orders["ord_2"] = domain.Order{ID: "ord_2", Status: domain.OrderStatusCanceled}
		_, err := env.svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord_2", Status: domain.OrderStatusPaid})
		if !errors.Is(err, ErrOrderInvalidTransition) {
			t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
		}
	})
}

func TestCancelOrder(t *testing.T) {
	env := newOrderTestEnv(t)
	env.orders.orders["ord_1"] = domain.Order{ID: "ord_1", UserID: "user-1", Status: domain.OrderStatusPendingPayment}

	order, err := env.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_1", UserID: "user-1", Reason: "changed my mind"})
	if err != nil {
		t.Fatalf("CancelOrder returned error: %v", err)
	}
	if order.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled, got %s", order.Status)
	}
	if order.CancelReason == nil || *order.CancelReason != "changed my mind" {
		t.Fatalf("expected cancel reason stored, got %v", order.CancelReason)
	}

	t.Run("foreign order", func(t *testing.T) {
		env.orders.orders["ord_2"] = domain.Order{ID: "ord_2", UserID: "user-1", Status: domain.OrderStatusPendingPayment}
		_, err := env.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_2", UserID: "user-9"})
		if !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})

	t.Run("in production", func(t *testing.T) {
		env.orders.orders["ord_3"] = domain.Order{ID: "ord_3", UserID: "user-1", Status: domain.OrderStatusInProduction}
		_, err := env.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_3", UserID: "user-1"})
		if !errors.Is(err, ErrOrderInvalidTransition) {
			t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
		}
	})
}

func TestListOrdersFilters(t *testing.T) {
	env := newOrderTestEnv(t)
	env.orders.orders["ord_1"] = domain.Order{ID: "ord_1", UserID: "user-1", Status: domain.OrderStatusPaid}
	env.orders.orders["ord_2"] = domain.Order{ID: "ord_2", UserID: "user-2", Status: domain.OrderStatusPendingPayment}

	page, err := env.svc.ListOrders(context.Background(), OrderListFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("ListOrders returned error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord_1" {
		t.Fatalf("expected only user-1 orders, got %+v", page.Items)
	}

	page, err = env.svc.ListOrders(context.Background(), OrderListFilter{Status: []OrderStatus{domain.OrderStatusPendingPayment}})
	if err != nil {
		t.Fatalf("ListOrders returned error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord_2" {
		t.Fatalf("expected only pending orders, got %+v", page.Items)
	}
}

// recordingPromotions captures redemption records while satisfying PromotionService.
type recordingPromotions struct {
	fixedPromotions
	record func(RecordRedemptionCommand)
}

func (p recordingPromotions) RecordRedemption(_ context.Context, cmd RecordRedemptionCommand) error {
	p.record(cmd)
	return nil
}
