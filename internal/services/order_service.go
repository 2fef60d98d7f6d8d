package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/timberhaven/api/internal/domain"
	"github.com/timberhaven/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates malformed order parameters.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderUnavailable indicates order dependencies are currently unreachable.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrOrderCartNotReady indicates the cart is missing a model, destination, or breakdown.
	ErrOrderCartNotReady = errors.New("order: cart not ready")
	// ErrOrderInvalidTransition indicates the requested status change is not allowed.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
)

const orderNumberPrefix = "TH"

// orderStatusTransitions is the full lifecycle graph. Terminal states have no exits.
var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPendingPayment:   {domain.OrderStatusPaid, domain.OrderStatusCanceled},
	domain.OrderStatusPaid:             {domain.OrderStatusInProduction, domain.OrderStatusCanceled},
	domain.OrderStatusInProduction:     {domain.OrderStatusReadyForDelivery, domain.OrderStatusCanceled},
	domain.OrderStatusReadyForDelivery: {domain.OrderStatusDelivered, domain.OrderStatusCanceled},
	domain.OrderStatusDelivered:        {},
	domain.OrderStatusCanceled:         {},
}

// OrderServiceDeps bundles the dependencies required to construct an OrderService.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Carts      repositories.CartRepository
	Payments   repositories.OrderPaymentRepository
	Counters   repositories.CounterRepository
	Promotions PromotionService
	Publisher  OrderEventPublisher
	IDGen      func() string
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	payments   repositories.OrderPaymentRepository
	counters   repositories.CounterRepository
	promotions PromotionService
	publisher  OrderEventPublisher
	idGen      func() string
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		payments:   deps.Payments,
		counters:   deps.Counters,
		promotions: deps.Promotions,
		publisher:  deps.Publisher,
		idGen:      idGen,
		now:        func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// PlaceOrder freezes the caller's priced cart into a new pending_payment order.
// The cart's breakdown is copied verbatim; nothing is recomputed at this point.
func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Order{}, ErrOrderCartNotReady
		}
		return Order{}, s.translateError(err)
	}
	if err := validateCartForOrder(cart); err != nil {
		return Order{}, err
	}

	now := s.now()
	orderNumber, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	cartRef := cart.ID
	order := Order{
		ID:              s.idGen(),
		OrderNumber:     orderNumber,
		UserID:          userID,
		CartRef:         &cartRef,
		Status:          domain.OrderStatusPendingPayment,
		Currency:        cart.Currency,
		ModelID:         cart.ModelID,
		ModelName:       cart.ModelName,
		BasePrice:       cart.BasePrice,
		SetupFee:        cart.SetupFee,
		Selections:      append([]OptionSelection(nil), cart.Selections...),
		DestinationZIP:  cart.DestinationZIP,
		DeliveryAddress: cart.DeliveryAddress,
		Delivery:        cart.Delivery,
		Promotion:       cart.Promotion,
		Breakdown:       *cart.Breakdown,
		Contact:         cmd.Contact,
		Notes:           strings.TrimSpace(cmd.Notes),
		CreatedAt:       now,
		UpdatedAt:       now,
		PlacedAt:        &now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.translateError(err)
	}

	if order.Promotion != nil && order.Promotion.Applied && s.promotions != nil {
		if err := s.promotions.RecordRedemption(ctx, RecordRedemptionCommand{
			Code:   order.Promotion.Code,
			UserID: userID,
		}); err != nil {
			s.logger(ctx, "order.redemption_record_failed", map[string]any{
				"orderId": order.ID,
				"code":    order.Promotion.Code,
				"error":   err.Error(),
			})
		}
	}

	if err := s.carts.DeleteCart(ctx, userID); err != nil {
		s.logger(ctx, "order.cart_cleanup_failed", map[string]any{
			"orderId": order.ID,
			"userId":  userID,
			"error":   err.Error(),
		})
	}

	s.publishEvent(ctx, "order.placed", order)
	return order, nil
}

// GetOrder fetches one order. Non-admin callers only see their own orders.
func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateError(err)
	}

	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		// Hide other users' orders rather than acknowledging their existence.
		return Order{}, ErrOrderNotFound
	}

	if s.payments != nil {
		payments, err := s.payments.List(ctx, order.ID)
		if err != nil {
			s.logger(ctx, "order.payments_list_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		} else {
			order.Payments = payments
		}
	}
	return order, nil
}

// ListOrders returns orders matching the filter, newest first.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	statuses := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		if trimmed := strings.TrimSpace(string(status)); trimmed != "" {
			statuses = append(statuses, trimmed)
		}
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     strings.TrimSpace(filter.UserID),
		Status:     statuses,
		DateRange:  domain.RangeQuery[time.Time]{From: filter.From, To: filter.To},
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateError(err)
	}
	return page, nil
}

// UpdateStatus moves an order along its lifecycle, stamping the matching timestamp.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := OrderStatus(strings.TrimSpace(string(cmd.Status)))
	if _, known := orderStatusTransitions[target]; !known {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateError(err)
	}
	if !transitionAllowed(order.Status, target) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, target)
	}

	now := s.now()
	order.Status = target
	order.UpdatedAt = now
	switch target {
	case domain.OrderStatusPaid:
		order.PaidAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCanceled:
		order.CanceledAt = &now
		if reason := strings.TrimSpace(cmd.Reason); reason != "" {
			order.CancelReason = &reason
		}
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateError(err)
	}

	s.logger(ctx, "order.status_updated", map[string]any{
		"orderId": order.ID,
		"status":  string(target),
		"actorId": strings.TrimSpace(cmd.ActorID),
	})
	s.publishEvent(ctx, "order."+string(target), order)
	return order, nil
}

// CancelOrder cancels the caller's own order while it has not entered production.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	if orderID == "" || userID == "" {
		return Order{}, fmt.Errorf("%w: order and user ids are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateError(err)
	}
	if order.UserID != userID {
		return Order{}, ErrOrderNotFound
	}
	if order.Status != domain.OrderStatusPendingPayment && order.Status != domain.OrderStatusPaid {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, domain.OrderStatusCanceled)
	}

	return s.UpdateStatus(ctx, UpdateOrderStatusCommand{
		OrderID: orderID,
		Status:  domain.OrderStatusCanceled,
		ActorID: userID,
		Reason:  cmd.Reason,
	})
}

// nextOrderNumber produces human-facing order numbers like TH-20260310-0001,
// sequenced per calendar day through the counter repository.
func (s *orderService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	day := now.Format("20060102")
	seq, err := s.counters.Next(ctx, "orders-"+day, 1)
	if err != nil {
		return "", s.translateError(err)
	}
	return fmt.Sprintf("%s-%s-%04d", orderNumberPrefix, day, seq), nil
}

func (s *orderService) publishEvent(ctx context.Context, eventType string, order Order) {
	if s.publisher == nil {
		return
	}
	event := domain.OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		Total:       order.Breakdown.Total,
		Currency:    order.Currency,
		OccurredAt:  s.now(),
	}
	if _, err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"orderId":   order.ID,
			"eventType": eventType,
			"error":     err.Error(),
		})
	}
}

func (s *orderService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		return ErrOrderUnavailable
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return fmt.Errorf("%w: concurrent modification", ErrOrderUnavailable)
		case repoErr.IsUnavailable():
			return ErrOrderUnavailable
		}
	}
	return err
}

func transitionAllowed(from, to OrderStatus) bool {
	for _, allowed := range orderStatusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func validateCartForOrder(cart Cart) error {
	if strings.TrimSpace(cart.ModelID) == "" {
		return fmt.Errorf("%w: no model configured", ErrOrderCartNotReady)
	}
	if strings.TrimSpace(cart.DestinationZIP) == "" || cart.Delivery == nil {
		return fmt.Errorf("%w: no delivery destination", ErrOrderCartNotReady)
	}
	if cart.Breakdown == nil {
		return fmt.Errorf("%w: cart has no pricing breakdown", ErrOrderCartNotReady)
	}
	if cart.Breakdown.Total <= 0 {
		return fmt.Errorf("%w: cart total must be positive", ErrOrderCartNotReady)
	}
	return nil
}
