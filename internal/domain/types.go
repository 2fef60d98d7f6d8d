package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// ModelSort indicates the field used to order home model listings.
type ModelSort string

const (
	// ModelSortPopularity sorts home models by popularity (higher first).
	ModelSortPopularity ModelSort = "popularity"
	// ModelSortBasePrice sorts home models by base price (lower first).
	ModelSortBasePrice ModelSort = "basePrice"
	// ModelSortCreatedAt sorts home models by creation time (newest first).
	ModelSortCreatedAt ModelSort = "createdAt"
)

// HomeModel describes a buildable tiny-home floor plan offered in the catalog.
type HomeModel struct {
	ID           string
	Slug         string
	Name         string
	Description  string
	Currency     string
	BasePrice    int64
	SetupFee     int64
	SquareFeet   int
	Bedrooms     int
	Bathrooms    int
	WidthFt      float64
	LengthFt     float64
	Photos       []string
	OptionGroups []OptionGroup
	Popularity   int
	IsPublished  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OptionGroup clusters mutually related configurator options (e.g. flooring, solar).
type OptionGroup struct {
	Code     string
	Name     string
	Required bool
	Options  []CatalogOption
}

// CatalogOption is a configurable add-on priced per unit in minor currency units.
type CatalogOption struct {
	Code        string
	Name        string
	Description string
	UnitPrice   int64
	MaxQuantity int
	IsAvailable bool
}

// OptionSelection records a buyer-selected option with its priced quantity.
// The code is unique within a cart or order.
type OptionSelection struct {
	Code      string
	Name      string
	UnitPrice int64
	Quantity  int
}

// DeliveryQuote captures the estimated delivery fee and lead-time window for a destination.
type DeliveryQuote struct {
	Fee           int64
	Currency      string
	DistanceMiles float64
	EtaWeeksMin   int
	EtaWeeksMax   int
	PostalCode    string
	QuotedAt      time.Time
}

// Cart aggregates the in-progress configurator state for a single buyer.
// Selections and the breakdown are replaced wholesale on every recomputation,
// never patched incrementally.
type Cart struct {
	ID              string
	UserID          string
	Currency        string
	ModelID         string
	ModelName       string
	BasePrice       int64
	SetupFee        int64
	Selections      []OptionSelection
	DestinationZIP  string
	DeliveryAddress *Address
	Delivery        *DeliveryQuote
	Promotion       *CartPromotion
	Breakdown       *PricingBreakdown
	Notes           string
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CartPromotion captures the applied promotion snapshot. DiscountAmount is the
// non-negative magnitude; the pricing breakdown carries it as a negative adjustment.
type CartPromotion struct {
	Code           string
	DiscountAmount int64
	Applied        bool
}

// CheckoutSession represents PSP checkout session metadata stored by services.
type CheckoutSession struct {
	SessionID    string
	PSP          string
	ClientSecret string
	RedirectURL  string
	ExpiresAt    time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPendingPayment indicates the order awaits payment completion.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusPaid indicates payment succeeded and the build can be scheduled.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusInProduction indicates the home is actively being built.
	OrderStatusInProduction OrderStatus = "in_production"
	// OrderStatusReadyForDelivery indicates the build is complete and awaits transport.
	OrderStatusReadyForDelivery OrderStatus = "ready_for_delivery"
	// OrderStatusDelivered indicates the home has been delivered and set up.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCanceled indicates the order has been canceled.
	OrderStatusCanceled OrderStatus = "canceled"
)

// Order captures a placed configuration with its frozen pricing breakdown.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	CartRef         *string
	Status          OrderStatus
	Currency        string
	ModelID         string
	ModelName       string
	BasePrice       int64
	SetupFee        int64
	Selections      []OptionSelection
	DestinationZIP  string
	DeliveryAddress *Address
	Delivery        *DeliveryQuote
	Promotion       *CartPromotion
	Breakdown       PricingBreakdown
	Contact         *OrderContact
	Notes           string
	Flags           OrderFlags
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PlacedAt        *time.Time
	PaidAt          *time.Time
	DeliveredAt     *time.Time
	CanceledAt      *time.Time
	CancelReason    *string
	Payments        []Payment
}

// OrderContact stores the buyer contact snapshot for notifications.
type OrderContact struct {
	Email string
	Phone string
}

// OrderFlags stores boolean indicators for manual handling requirements.
// ManualReview is set when a PSP-confirmed charge amount disagrees with the
// order total and the order needs human reconciliation.
type OrderFlags struct {
	ManualReview bool
}

// Payment encapsulates payment status and PSP references for an order.
type Payment struct {
	ID         string
	OrderID    string
	Provider   string
	IntentID   string
	Status     string
	Amount     int64
	Currency   string
	Captured   bool
	CapturedAt *time.Time
	RefundedAt *time.Time
	Raw        map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderEvent describes an order lifecycle change published for downstream consumers.
type OrderEvent struct {
	Type        string
	OrderID     string
	OrderNumber string
	UserID      string
	Status      OrderStatus
	Total       int64
	Currency    string
	OccurredAt  time.Time
	Metadata    map[string]any
}

// Promotion describes promotional rules persisted by admin services.
type Promotion struct {
	ID          string
	Code        string
	Name        string
	Description string
	Status      string
	AmountOff   int64
	StartsAt    time.Time
	EndsAt      time.Time
	UsageLimit  *int
	Metadata    map[string]any
}

// PromotionUsage tracks per-user redemption counts used to enforce usage limits.
type PromotionUsage struct {
	PromotionID string
	UserID      string
	Count       int
	FirstUsedAt time.Time
	LastUsedAt  time.Time
}

// PromotionValidationResult is returned when a promotion is evaluated for a cart or order.
type PromotionValidationResult struct {
	Code           string
	Eligible       bool
	Reason         string
	DiscountAmount int64
}

// Address represents postal address structures shared by cart and order layers.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
