package services

import (
	"context"
	"time"

	domain "github.com/timberhaven/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination                = domain.Pagination
	SortOrder                 = domain.SortOrder
	ModelSort                 = domain.ModelSort
	HomeModel                 = domain.HomeModel
	OptionGroup               = domain.OptionGroup
	CatalogOption             = domain.CatalogOption
	OptionSelection           = domain.OptionSelection
	DeliveryQuote             = domain.DeliveryQuote
	Cart                      = domain.Cart
	CartPromotion             = domain.CartPromotion
	PricingBreakdown          = domain.PricingBreakdown
	OptionLineBreakdown       = domain.OptionLineBreakdown
	TaxDetail                 = domain.TaxDetail
	CheckoutSession           = domain.CheckoutSession
	Order                     = domain.Order
	OrderStatus               = domain.OrderStatus
	OrderContact              = domain.OrderContact
	OrderFlags                = domain.OrderFlags
	OrderEvent                = domain.OrderEvent
	Payment                   = domain.Payment
	Promotion                 = domain.Promotion
	PromotionUsage            = domain.PromotionUsage
	PromotionValidationResult = domain.PromotionValidationResult
	Address                   = domain.Address
	SystemHealthReport        = domain.SystemHealthReport
)

// CatalogService exposes the published home-model catalog and admin management of it.
type CatalogService interface {
	ListModels(ctx context.Context, filter ModelListFilter) (domain.CursorPage[HomeModel], error)
	GetModel(ctx context.Context, modelID string) (HomeModel, error)
	GetModelBySlug(ctx context.Context, slug string) (HomeModel, error)
	UpsertModel(ctx context.Context, cmd UpsertModelCommand) (HomeModel, error)
	DeleteModel(ctx context.Context, modelID string) error
}

// ModelListFilter narrows catalog listings.
type ModelListFilter struct {
	Bedrooms           *int
	MinSquareFeet      *int
	MaxSquareFeet      *int
	IncludeUnpublished bool
	SortBy             ModelSort
	SortOrder          SortOrder
	Pagination         Pagination
}

// UpsertModelCommand carries an admin create-or-replace of a home model.
type UpsertModelCommand struct {
	Model   HomeModel
	ActorID string
}

// DeliveryEstimator maps a destination postal code to a delivery fee and lead-time window.
type DeliveryEstimator interface {
	Quote(ctx context.Context, cmd QuoteDeliveryCommand) (DeliveryQuote, error)
}

// QuoteDeliveryCommand requests a delivery quote. Address is display-only and
// never influences the fee. BypassCache forces a fresh distance lookup.
type QuoteDeliveryCommand struct {
	PostalCode  string
	Address     string
	BypassCache bool
}

// TaxInput selects how tax enters the pricing computation: either a basis-point
// rate applied to base + options, or a precomputed amount. Setting both is
// invalid; setting neither means no tax.
type TaxInput struct {
	RateBasisPoints *int64
	Amount          *int64
	Jurisdiction    string
}

// PricingInput is the full set of priced lines fed to the aggregator.
// Discounts must be <= 0; every other amount must be >= 0.
type PricingInput struct {
	Currency    string
	BasePrice   int64
	Selections  []OptionSelection
	DeliveryFee int64
	SetupFee    int64
	Tax         TaxInput
	Discounts   int64
	Metadata    map[string]any
}

// PricingEngine combines priced lines into a consistent breakdown. Implementations
// must be pure: no I/O, no clock reads, identical inputs yield identical output.
type PricingEngine interface {
	ComputeBreakdown(input PricingInput) (PricingBreakdown, error)
}

// CartService manages the per-user configurator cart. Every mutation that
// changes a priced input recomputes and replaces the breakdown wholesale.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (Cart, error)
	SetModel(ctx context.Context, cmd SetCartModelCommand) (Cart, error)
	UpsertSelection(ctx context.Context, cmd UpsertCartSelectionCommand) (Cart, error)
	RemoveSelection(ctx context.Context, cmd RemoveCartSelectionCommand) (Cart, error)
	SetDestination(ctx context.Context, cmd SetCartDestinationCommand) (Cart, error)
	ApplyPromotion(ctx context.Context, cmd ApplyCartPromotionCommand) (Cart, error)
	RemovePromotion(ctx context.Context, userID string) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// SetCartModelCommand swaps the configured home model, resetting selections.
type SetCartModelCommand struct {
	UserID  string
	ModelID string
}

// UpsertCartSelectionCommand adds an option or changes its quantity.
type UpsertCartSelectionCommand struct {
	UserID   string
	Code     string
	Quantity int
}

// RemoveCartSelectionCommand deselects an option.
type RemoveCartSelectionCommand struct {
	UserID string
	Code   string
}

// SetCartDestinationCommand records the delivery destination and refreshes the quote.
type SetCartDestinationCommand struct {
	UserID     string
	PostalCode string
	Address    *Address
}

// ApplyCartPromotionCommand applies a promotion code to the cart.
type ApplyCartPromotionCommand struct {
	UserID string
	Code   string
}

// CheckoutService creates PSP checkout sessions for a priced cart.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error)
}

// CreateCheckoutSessionCommand starts checkout for the caller's cart.
type CreateCheckoutSessionCommand struct {
	UserID     string
	OrderID    string
	SuccessURL string
	CancelURL  string
	PSP        string
	Metadata   map[string]string
}

// OrderService owns order creation and the status lifecycle.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// PlaceOrderCommand freezes the caller's priced cart into a new order.
type PlaceOrderCommand struct {
	UserID  string
	Contact *OrderContact
	Notes   string
}

// GetOrderCommand fetches one order. A blank UserID skips the ownership check
// and is reserved for admin callers.
type GetOrderCommand struct {
	OrderID string
	UserID  string
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID     string
	Status     []OrderStatus
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

// UpdateOrderStatusCommand moves an order along its lifecycle.
type UpdateOrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
	ActorID string
	Reason  string
}

// CancelOrderCommand cancels an order that has not shipped.
type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Reason  string
}

// PromotionService validates promotion codes for carts and manages them for admins.
type PromotionService interface {
	ValidatePromotion(ctx context.Context, cmd ValidatePromotionCommand) (PromotionValidationResult, error)
	RecordRedemption(ctx context.Context, cmd RecordRedemptionCommand) error
	ListPromotions(ctx context.Context, filter PromotionListFilter) (domain.CursorPage[Promotion], error)
	CreatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error)
	UpdatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error)
	DeletePromotion(ctx context.Context, promotionID string) error
	ListPromotionUsage(ctx context.Context, filter PromotionUsageFilter) (domain.CursorPage[PromotionUsage], error)
}

// ValidatePromotionCommand evaluates a code against a cart subtotal.
type ValidatePromotionCommand struct {
	Code     string
	UserID   string
	Subtotal int64
	Currency string
}

// RecordRedemptionCommand counts a successful use of a promotion.
type RecordRedemptionCommand struct {
	Code   string
	UserID string
}

// UpsertPromotionCommand carries an admin create or update of a promotion.
type UpsertPromotionCommand struct {
	Promotion Promotion
	ActorID   string
}

// PromotionListFilter narrows admin promotion listings.
type PromotionListFilter struct {
	Status     string
	Pagination Pagination
}

// PromotionUsageFilter narrows usage listings for one promotion.
type PromotionUsageFilter struct {
	PromotionID string
	Pagination  Pagination
}

// PaymentService ingests normalised PSP events and reconciles them against orders.
type PaymentService interface {
	HandlePaymentEvent(ctx context.Context, cmd PaymentEventCommand) error
}

// PaymentEventCommand is a PSP webhook event reduced to the fields dispatch needs.
// OrderID comes from the session/intent metadata stamped at checkout.
type PaymentEventCommand struct {
	Provider   string
	EventID    string
	EventType  string
	IntentID   string
	SessionID  string
	OrderID    string
	Amount     int64
	Currency   string
	OccurredAt time.Time
	Raw        map[string]any
}

// OrderEventPublisher pushes order lifecycle events to the async pipeline.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) (string, error)
}

// SystemService aggregates dependency health for the readiness endpoint.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// BuildInfo carries version metadata stamped at build time, surfaced by the
// health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}
