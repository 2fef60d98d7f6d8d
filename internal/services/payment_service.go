package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/timberhaven/api/internal/domain"
	"github.com/timberhaven/api/internal/payments"
	"github.com/timberhaven/api/internal/repositories"
)

var (
	// ErrPaymentInvalidEvent indicates the webhook event is missing required fields.
	ErrPaymentInvalidEvent = errors.New("payment: invalid event")
	// ErrPaymentUnavailable indicates payment dependencies are currently unreachable.
	ErrPaymentUnavailable = errors.New("payment: unavailable")
)

// PSP event types the dispatcher understands. Everything else is acknowledged
// and ignored so the PSP does not retry forever.
const (
	eventCheckoutCompleted = "checkout.session.completed"
	eventIntentSucceeded   = "payment_intent.succeeded"
	eventIntentFailed      = "payment_intent.payment_failed"
	eventChargeRefunded    = "charge.refunded"
)

// PaymentServiceDeps bundles the dependencies required to construct a PaymentService.
type PaymentServiceDeps struct {
	Orders        repositories.OrderRepository
	OrderPayments repositories.OrderPaymentRepository
	Publisher     OrderEventPublisher
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders        repositories.OrderRepository
	orderPayments repositories.OrderPaymentRepository
	publisher     OrderEventPublisher
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentService constructs a PaymentService validating required dependencies.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.OrderPayments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		orders:        deps.Orders,
		orderPayments: deps.OrderPayments,
		publisher:     deps.Publisher,
		now:           func() time.Time { return clock().UTC() },
		logger:        logger,
	}, nil
}

// HandlePaymentEvent dispatches a normalised PSP event. Replays are safe: the
// payment record and order status converge to the same state on every delivery.
func (s *paymentService) HandlePaymentEvent(ctx context.Context, cmd PaymentEventCommand) error {
	eventType := strings.TrimSpace(cmd.EventType)
	if eventType == "" {
		return fmt.Errorf("%w: event type is required", ErrPaymentInvalidEvent)
	}

	switch eventType {
	case eventCheckoutCompleted, eventIntentSucceeded:
		return s.handleSucceeded(ctx, cmd)
	case eventIntentFailed:
		return s.handleFailed(ctx, cmd)
	case eventChargeRefunded:
		return s.handleRefunded(ctx, cmd)
	default:
		s.logger(ctx, "payment.event_ignored", map[string]any{
			"eventId":   cmd.EventID,
			"eventType": eventType,
		})
		return nil
	}
}

// handleSucceeded marks the payment captured and, when the confirmed amount
// agrees with the frozen order total, transitions the order to paid. A
// disagreeing amount never silently succeeds: the order is flagged for manual
// reconciliation instead.
func (s *paymentService) handleSucceeded(ctx context.Context, cmd PaymentEventCommand) error {
	payment, err := s.findPayment(ctx, cmd)
	if err != nil {
		return err
	}

	now := s.now()
	if payment.Status != string(payments.StatusSucceeded) {
		payment.Status = string(payments.StatusSucceeded)
		payment.Captured = true
		payment.CapturedAt = &now
		if cmd.Amount > 0 {
			payment.Amount = cmd.Amount
		}
		payment.UpdatedAt = now
		payment.Raw = cmd.Raw
		if err := s.orderPayments.Update(ctx, payment); err != nil {
			return s.translateError(err)
		}
	}

	order, err := s.orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		return s.translateError(err)
	}

	if cmd.Amount > 0 && cmd.Amount != order.Breakdown.Total {
		if !order.Flags.ManualReview {
			order.Flags.ManualReview = true
			order.UpdatedAt = now
			if err := s.orders.Update(ctx, order); err != nil {
				return s.translateError(err)
			}
		}
		s.logger(ctx, "payment.amount_mismatch", map[string]any{
			"orderId":     order.ID,
			"orderTotal":  order.Breakdown.Total,
			"paidAmount":  cmd.Amount,
			"intentId":    payment.IntentID,
			"eventId":     cmd.EventID,
			"orderNumber": order.OrderNumber,
		})
		s.publishEvent(ctx, "order.payment_mismatch", order)
		return nil
	}

	if order.Status != domain.OrderStatusPendingPayment {
		// Replay or out-of-order delivery; the order already moved on.
		return nil
	}

	order.Status = domain.OrderStatusPaid
	order.PaidAt = &now
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return s.translateError(err)
	}
	s.publishEvent(ctx, "order.paid", order)
	return nil
}

func (s *paymentService) handleFailed(ctx context.Context, cmd PaymentEventCommand) error {
	payment, err := s.findPayment(ctx, cmd)
	if err != nil {
		return err
	}
	if payment.Status == string(payments.StatusFailed) {
		return nil
	}
	payment.Status = string(payments.StatusFailed)
	payment.UpdatedAt = s.now()
	payment.Raw = cmd.Raw
	if err := s.orderPayments.Update(ctx, payment); err != nil {
		return s.translateError(err)
	}
	s.logger(ctx, "payment.failed", map[string]any{
		"orderId":  payment.OrderID,
		"intentId": payment.IntentID,
		"eventId":  cmd.EventID,
	})
	return nil
}

func (s *paymentService) handleRefunded(ctx context.Context, cmd PaymentEventCommand) error {
	payment, err := s.findPayment(ctx, cmd)
	if err != nil {
		return err
	}
	now := s.now()
	payment.Status = string(payments.StatusRefunded)
	payment.RefundedAt = &now
	payment.UpdatedAt = now
	payment.Raw = cmd.Raw
	if err := s.orderPayments.Update(ctx, payment); err != nil {
		return s.translateError(err)
	}

	order, err := s.orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		return s.translateError(err)
	}
	// Refunds always need a human decision about the build in progress.
	if !order.Flags.ManualReview {
		order.Flags.ManualReview = true
		order.UpdatedAt = now
		if err := s.orders.Update(ctx, order); err != nil {
			return s.translateError(err)
		}
	}
	s.publishEvent(ctx, "order.refunded", order)
	return nil
}

// findPayment correlates the event with a stored payment via intent ID first,
// falling back to the checkout session ID stamped at session creation.
func (s *paymentService) findPayment(ctx context.Context, cmd PaymentEventCommand) (Payment, error) {
	ids := []string{strings.TrimSpace(cmd.IntentID), strings.TrimSpace(cmd.SessionID)}
	var lastErr error
	for _, id := range ids {
		if id == "" {
			continue
		}
		payment, err := s.orderPayments.FindByIntentID(ctx, id)
		if err == nil {
			return payment, nil
		}
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			lastErr = err
			continue
		}
		return Payment{}, s.translateError(err)
	}
	if lastErr != nil {
		return Payment{}, fmt.Errorf("%w: no payment for intent %q session %q", ErrPaymentInvalidEvent, cmd.IntentID, cmd.SessionID)
	}
	return Payment{}, fmt.Errorf("%w: event carries no intent or session id", ErrPaymentInvalidEvent)
}

func (s *paymentService) publishEvent(ctx context.Context, eventType string, order Order) {
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
		s.logger(ctx, "payment.event_publish_failed", map[string]any{
			"orderId":   order.ID,
			"eventType": eventType,
			"error":     err.Error(),
		})
	}
}

func (s *paymentService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: record vanished", ErrPaymentInvalidEvent)
		case repoErr.IsUnavailable(), repoErr.IsConflict():
			return ErrPaymentUnavailable
		}
	}
	return err
}
