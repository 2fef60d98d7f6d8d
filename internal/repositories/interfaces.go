package repositories

import (
	"context"
	"time"

	domain "github.com/timberhaven/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Carts() CartRepository
	Orders() OrderRepository
	OrderPayments() OrderPaymentRepository
	Promotions() PromotionRepository
	PromotionUsage() PromotionUsageRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogRepository stores home model documents including their option groups.
type CatalogRepository interface {
	ListModels(ctx context.Context, filter ModelFilter) (domain.CursorPage[domain.HomeModel], error)
	// GetPublishedModel retrieves a single published model. Should return a RepositoryError
	// with IsNotFound when the model is absent or unpublished.
	GetPublishedModel(ctx context.Context, modelID string) (domain.HomeModel, error)
	GetPublishedModelBySlug(ctx context.Context, slug string) (domain.HomeModel, error)
	// GetModel retrieves a model regardless of publication state (for admin/internal usage).
	GetModel(ctx context.Context, modelID string) (domain.HomeModel, error)
	UpsertModel(ctx context.Context, model domain.HomeModel) (domain.HomeModel, error)
	DeleteModel(ctx context.Context, modelID string) error
}

// CartRepository owns per-user cart persistence. Carts are stored whole; selections
// and the pricing breakdown are replaced wholesale on every write.
type CartRepository interface {
	UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	DeleteCart(ctx context.Context, userID string) error
}

// OrderRepository persists order headers and provides query helpers for users and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderPaymentRepository stores payment records underneath an order document.
type OrderPaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	Update(ctx context.Context, payment domain.Payment) error
	List(ctx context.Context, orderID string) ([]domain.Payment, error)
	// FindByIntentID locates the payment referencing a PSP intent or session identifier,
	// used by webhook dispatch to correlate events with orders.
	FindByIntentID(ctx context.Context, intentID string) (domain.Payment, error)
}

// PromotionRepository maintains promotion definitions.
type PromotionRepository interface {
	Insert(ctx context.Context, promotion domain.Promotion) error
	Update(ctx context.Context, promotion domain.Promotion) error
	Delete(ctx context.Context, promotionID string) error
	FindByCode(ctx context.Context, code string) (domain.Promotion, error)
	List(ctx context.Context, filter PromotionListFilter) (domain.CursorPage[domain.Promotion], error)
}

// PromotionUsageRepository records per-user usage counts to enforce limits.
type PromotionUsageRepository interface {
	IncrementUsage(ctx context.Context, promoID string, userID string, now time.Time) (domain.PromotionUsage, error)
	// GetUsage returns the redemption record for one user, IsNotFound when the
	// user has never redeemed the promotion.
	GetUsage(ctx context.Context, promoID string, userID string) (domain.PromotionUsage, error)
	RemoveUsage(ctx context.Context, promoID string, userID string) error
	ListUsage(ctx context.Context, promoID string, pager domain.Pagination) (domain.CursorPage[domain.PromotionUsage], error)
}

// CounterRepository provides transaction-safe sequence numbers (order numbering).
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// Filter DTOs shared across repositories ------------------------------------

type ModelFilter struct {
	Bedrooms      *int
	MinSquareFeet *int
	MaxSquareFeet *int
	OnlyPublished bool
	SortBy        domain.ModelSort
	SortOrder     domain.SortOrder
	Pagination    domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type PromotionListFilter struct {
	Status     []string
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
