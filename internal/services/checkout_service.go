package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/timberhaven/api/internal/domain"
	"github.com/timberhaven/api/internal/payments"
	"github.com/timberhaven/api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid checkout parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutOrderNotPayable indicates the order is not awaiting payment.
	ErrCheckoutOrderNotPayable = errors.New("checkout: order not payable")
	// ErrCheckoutPaymentFailed indicates the PSP session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

// checkoutSessionManager abstracts payments.Manager for easier testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders        repositories.OrderRepository
	OrderPayments repositories.OrderPaymentRepository
	Payments      checkoutSessionManager
	SuccessURL    string
	CancelURL     string
	IDGen         func() string
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders        repositories.OrderRepository
	orderPayments repositories.OrderPaymentRepository
	payments      checkoutSessionManager
	successURL    string
	cancelURL     string
	idGen         func() string
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.OrderPayments == nil {
		return nil, errors.New("checkout service: payment repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
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
	return &checkoutService{
		orders:        deps.Orders,
		orderPayments: deps.OrderPayments,
		payments:      deps.Payments,
		successURL:    strings.TrimSpace(deps.SuccessURL),
		cancelURL:     strings.TrimSpace(deps.CancelURL),
		idGen:         idGen,
		now:           func() time.Time { return clock().UTC() },
		logger:        logger,
	}, nil
}

// CreateCheckoutSession opens a PSP checkout session for a pending order. The
// amount sent to the PSP is the order's frozen breakdown total, in minor units,
// with no recomputation: webhook reconciliation depends on exact agreement.
func (s *checkoutService) CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error) {
	if s == nil || s.orders == nil || s.payments == nil {
		return CheckoutSession{}, ErrCheckoutUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if userID == "" || orderID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: user and order ids are required", ErrCheckoutInvalidInput)
	}
	successURL := firstNonEmpty(strings.TrimSpace(cmd.SuccessURL), s.successURL)
	cancelURL := firstNonEmpty(strings.TrimSpace(cmd.CancelURL), s.cancelURL)
	if successURL == "" || cancelURL == "" {
		return CheckoutSession{}, fmt.Errorf("%w: success and cancel urls are required", ErrCheckoutInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return CheckoutSession{}, s.translateError(err)
	}
	if order.UserID != userID {
		return CheckoutSession{}, fmt.Errorf("%w: order %q", ErrCheckoutInvalidInput, orderID)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return CheckoutSession{}, fmt.Errorf("%w: status %s", ErrCheckoutOrderNotPayable, order.Status)
	}
	amount := order.Breakdown.Total
	if amount <= 0 {
		return CheckoutSession{}, fmt.Errorf("%w: zero total", ErrCheckoutOrderNotPayable)
	}

	currency := strings.ToUpper(strings.TrimSpace(order.Currency))
	idempotencyKey := s.idempotencyKey(cmd, order)

	metadata := map[string]string{
		"order_id":       order.ID,
		"order_number":   order.OrderNumber,
		"user_id":        order.UserID,
		"idempotencyKey": idempotencyKey,
	}
	for k, v := range cmd.Metadata {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		metadata[k] = v
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payments.PaymentContext{
		PreferredProvider: strings.TrimSpace(cmd.PSP),
		Currency:          currency,
	}, payments.CheckoutSessionRequest{
		Amount:         amount,
		Currency:       currency,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		Metadata:       metadata,
		IdempotencyKey: idempotencyKey,
		Items:          buildCheckoutLineItems(order, amount, currency),
	})
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return CheckoutSession{}, fmt.Errorf("%w: unknown provider %q", ErrCheckoutInvalidInput, cmd.PSP)
		}
		s.logger(ctx, "checkout.payment_session_failed", map[string]any{
			"orderId":  order.ID,
			"provider": strings.TrimSpace(cmd.PSP),
			"error":    err.Error(),
		})
		return CheckoutSession{}, ErrCheckoutPaymentFailed
	}

	if err := s.recordPendingPayment(ctx, order, session, amount); err != nil {
		return CheckoutSession{}, err
	}

	return CheckoutSession{
		SessionID:    session.ID,
		PSP:          session.Provider,
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.RedirectURL,
		ExpiresAt:    session.ExpiresAt.UTC(),
	}, nil
}

// recordPendingPayment stores the payment stub the webhook handler will later
// resolve by intent or session ID.
func (s *checkoutService) recordPendingPayment(ctx context.Context, order Order, session payments.CheckoutSession, amount int64) error {
	intentID := strings.TrimSpace(session.IntentID)
	if intentID == "" {
		intentID = session.ID
	}
	now := s.now()
	payment := domain.Payment{
		ID:        s.idGen(),
		OrderID:   order.ID,
		Provider:  session.Provider,
		IntentID:  intentID,
		Status:    string(payments.StatusPending),
		Amount:    amount,
		Currency:  strings.ToLower(order.Currency),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orderPayments.Insert(ctx, payment); err != nil {
		s.logger(ctx, "checkout.payment_record_failed", map[string]any{
			"orderId":  order.ID,
			"intentId": intentID,
			"error":    err.Error(),
		})
		return s.translateError(err)
	}
	return nil
}

func (s *checkoutService) idempotencyKey(cmd CreateCheckoutSessionCommand, order Order) string {
	for _, key := range []string{"idempotency_key", "idempotencyKey"} {
		if v := strings.TrimSpace(cmd.Metadata[key]); v != "" {
			return v
		}
	}
	base := fmt.Sprintf("%s|%s|%s|%d",
		strings.ToLower(strings.TrimSpace(cmd.PSP)),
		order.ID,
		order.UpdatedAt.UTC().Format(time.RFC3339Nano),
		order.Breakdown.Total,
	)
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

func (s *checkoutService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: order not found", ErrCheckoutInvalidInput)
		case repoErr.IsConflict():
			return ErrCheckoutUnavailable
		case repoErr.IsUnavailable():
			return ErrCheckoutUnavailable
		}
	}
	return ErrCheckoutUnavailable
}

// buildCheckoutLineItems itemises the breakdown for the PSP receipt. When tax
// or a discount makes the line sum disagree with the charge total, a single
// order line is sent instead so the charged amount always matches exactly.
func buildCheckoutLineItems(order Order, total int64, currency string) []payments.CheckoutLineItem {
	breakdown := order.Breakdown
	items := make([]payments.CheckoutLineItem, 0, len(breakdown.OptionLines)+3)
	var lineSum int64

	if breakdown.Base > 0 {
		items = append(items, payments.CheckoutLineItem{
			Name:     order.ModelName,
			SKU:      order.ModelID,
			Quantity: 1,
			Amount:   breakdown.Base,
			Currency: currency,
		})
		lineSum += breakdown.Base
	}
	for _, line := range breakdown.OptionLines {
		items = append(items, payments.CheckoutLineItem{
			Name:     line.Name,
			SKU:      line.Code,
			Quantity: int64(line.Quantity),
			Amount:   line.UnitPrice,
			Currency: currency,
		})
		lineSum += line.Subtotal
	}
	if breakdown.Delivery > 0 {
		items = append(items, payments.CheckoutLineItem{
			Name:     "Delivery",
			Quantity: 1,
			Amount:   breakdown.Delivery,
			Currency: currency,
		})
		lineSum += breakdown.Delivery
	}
	if breakdown.Setup > 0 {
		items = append(items, payments.CheckoutLineItem{
			Name:     "Site Setup",
			Quantity: 1,
			Amount:   breakdown.Setup,
			Currency: currency,
		})
		lineSum += breakdown.Setup
	}

	if lineSum == total && len(items) > 0 {
		return items
	}
	name := "Order"
	if order.OrderNumber != "" {
		name = "Order " + order.OrderNumber
	}
	return []payments.CheckoutLineItem{{
		Name:     name,
		Quantity: 1,
		Amount:   total,
		Currency: currency,
	}}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
