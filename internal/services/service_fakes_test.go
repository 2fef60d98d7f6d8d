package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/timberhaven/api/internal/domain"
	"github.com/timberhaven/api/internal/repositories"
)

// fakeRepoError implements repositories.RepositoryError for tests.
type fakeRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e fakeRepoError) Error() string       { return e.msg }
func (e fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e fakeRepoError) IsConflict() bool    { return e.conflict }
func (e fakeRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(what string) error {
	return fakeRepoError{msg: what + " not found", notFound: true}
}

type fakeCartRepo struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
	err   error
}

func newFakeCartRepo() *fakeCartRepo {
	return &fakeCartRepo{carts: make(map[string]domain.Cart)}
}

func (r *fakeCartRepo) UpsertCart(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	if r.err != nil {
		return domain.Cart{}, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[cart.UserID] = cart
	return cart, nil
}

func (r *fakeCartRepo) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	if r.err != nil {
		return domain.Cart{}, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[userID]
	if !ok {
		return domain.Cart{}, notFoundErr("cart")
	}
	return cart, nil
}

func (r *fakeCartRepo) DeleteCart(_ context.Context, userID string) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.carts[userID]; !ok {
		return notFoundErr("cart")
	}
	delete(r.carts, userID)
	return nil
}

type fakeCatalogRepo struct {
	mu     sync.Mutex
	models map[string]domain.HomeModel
}

func newFakeCatalogRepo(models ...domain.HomeModel) *fakeCatalogRepo {
	repo := &fakeCatalogRepo{models: make(map[string]domain.HomeModel)}
	for _, model := range models {
		repo.models[model.ID] = model
	}
	return repo
}

func (r *fakeCatalogRepo) ListModels(_ context.Context, filter repositories.ModelFilter) (domain.CursorPage[domain.HomeModel], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]domain.HomeModel, 0, len(r.models))
	for _, model := range r.models {
		if filter.OnlyPublished && !model.IsPublished {
			continue
		}
		if filter.Bedrooms != nil && model.Bedrooms != *filter.Bedrooms {
			continue
		}
		items = append(items, model)
	}
	return domain.CursorPage[domain.HomeModel]{Items: items}, nil
}

func (r *fakeCatalogRepo) GetPublishedModel(_ context.Context, modelID string) (domain.HomeModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	model, ok := r.models[modelID]
	if !ok || !model.IsPublished {
		return domain.HomeModel{}, notFoundErr("model")
	}
	return model, nil
}

func (r *fakeCatalogRepo) GetPublishedModelBySlug(_ context.Context, slug string) (domain.HomeModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, model := range r.models {
		if model.Slug == slug && model.IsPublished {
			return model, nil
		}
	}
	return domain.HomeModel{}, notFoundErr("model")
}

func (r *fakeCatalogRepo) GetModel(_ context.Context, modelID string) (domain.HomeModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	model, ok := r.models[modelID]
	if !ok {
		return domain.HomeModel{}, notFoundErr("model")
	}
	return model, nil
}

func (r *fakeCatalogRepo) UpsertModel(_ context.Context, model domain.HomeModel) (domain.HomeModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[model.ID] = model
	return model, nil
}

func (r *fakeCatalogRepo) DeleteModel(_ context.Context, modelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[modelID]; !ok {
		return notFoundErr("model")
	}
	delete(r.models, modelID)
	return nil
}

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newFakeOrderRepo(orders ...domain.Order) *fakeOrderRepo {
	repo := &fakeOrderRepo{orders: make(map[string]domain.Order)}
	for _, order := range orders {
		repo.orders[order.ID] = order
	}
	return repo
}

func (r *fakeOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return fakeRepoError{msg: "order exists", conflict: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *fakeOrderRepo) Update(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; !exists {
		return notFoundErr("order")
	}
	r.orders[order.ID] = order
	return nil
}

func (r *fakeOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundErr("order")
	}
	return order, nil
}

func (r *fakeOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 {
			matched := false
			for _, status := range filter.Status {
				if strings.EqualFold(status, string(order.Status)) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		items = append(items, order)
	}
	return domain.CursorPage[domain.Order]{Items: items}, nil
}

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
}

func newFakePaymentRepo(payments ...domain.Payment) *fakePaymentRepo {
	repo := &fakePaymentRepo{payments: make(map[string]domain.Payment)}
	for _, payment := range payments {
		repo.payments[payment.ID] = payment
	}
	return repo
}

func (r *fakePaymentRepo) Insert(_ context.Context, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.payments[payment.ID]; exists {
		return fakeRepoError{msg: "payment exists", conflict: true}
	}
	r.payments[payment.ID] = payment
	return nil
}

func (r *fakePaymentRepo) Update(_ context.Context, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments[payment.ID] = payment
	return nil
}

func (r *fakePaymentRepo) List(_ context.Context, orderID string) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Payment
	for _, payment := range r.payments {
		if payment.OrderID == orderID {
			items = append(items, payment)
		}
	}
	return items, nil
}

func (r *fakePaymentRepo) FindByIntentID(_ context.Context, intentID string) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, payment := range r.payments {
		if payment.IntentID == intentID {
			return payment, nil
		}
	}
	return domain.Payment{}, notFoundErr("payment")
}

type fakePromotionRepo struct {
	mu         sync.Mutex
	promotions map[string]domain.Promotion
}

func newFakePromotionRepo(promotions ...domain.Promotion) *fakePromotionRepo {
	repo := &fakePromotionRepo{promotions: make(map[string]domain.Promotion)}
	for _, promotion := range promotions {
		repo.promotions[promotion.ID] = promotion
	}
	return repo
}

func (r *fakePromotionRepo) Insert(_ context.Context, promotion domain.Promotion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.promotions {
		if existing.Code == promotion.Code {
			return fakeRepoError{msg: "promotion exists", conflict: true}
		}
	}
	r.promotions[promotion.ID] = promotion
	return nil
}

func (r *fakePromotionRepo) Update(_ context.Context, promotion domain.Promotion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.promotions[promotion.ID]; !exists {
		return notFoundErr("promotion")
	}
	r.promotions[promotion.ID] = promotion
	return nil
}

func (r *fakePromotionRepo) Delete(_ context.Context, promotionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.promotions[promotionID]; !exists {
		return notFoundErr("promotion")
	}
	delete(r.promotions, promotionID)
	return nil
}

func (r *fakePromotionRepo) FindByCode(_ context.Context, code string) (domain.Promotion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, promotion := range r.promotions {
		if promotion.Code == code {
			return promotion, nil
		}
	}
	return domain.Promotion{}, notFoundErr("promotion")
}

func (r *fakePromotionRepo) List(_ context.Context, filter repositories.PromotionListFilter) (domain.CursorPage[domain.Promotion], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]domain.Promotion, 0, len(r.promotions))
	for _, promotion := range r.promotions {
		if len(filter.Status) > 0 {
			matched := false
			for _, status := range filter.Status {
				if strings.EqualFold(status, promotion.Status) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		items = append(items, promotion)
	}
	return domain.CursorPage[domain.Promotion]{Items: items}, nil
}

type fakeUsageRepo struct {
	mu    sync.Mutex
	usage map[string]domain.PromotionUsage
}

func newFakeUsageRepo() *fakeUsageRepo {
	return &fakeUsageRepo{usage: make(map[string]domain.PromotionUsage)}
}

func usageKey(promoID, userID string) string { return promoID + "|" + userID }

func (r *fakeUsageRepo) IncrementUsage(_ context.Context, promoID, userID string, now time.Time) (domain.PromotionUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := usageKey(promoID, userID)
	usage, ok := r.usage[key]
	if !ok {
		usage = domain.PromotionUsage{PromotionID: promoID, UserID: userID, FirstUsedAt: now}
	}
	usage.Count++
	usage.LastUsedAt = now
	r.usage[key] = usage
	return usage, nil
}

func (r *fakeUsageRepo) GetUsage(_ context.Context, promoID, userID string) (domain.PromotionUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	usage, ok := r.usage[usageKey(promoID, userID)]
	if !ok {
		return domain.PromotionUsage{}, notFoundErr("usage")
	}
	return usage, nil
}

func (r *fakeUsageRepo) RemoveUsage(_ context.Context, promoID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.usage, usageKey(promoID, userID))
	return nil
}

func (r *fakeUsageRepo) ListUsage(_ context.Context, promoID string, _ domain.Pagination) (domain.CursorPage[domain.PromotionUsage], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.PromotionUsage
	for _, usage := range r.usage {
		if usage.PromotionID == promoID {
			items = append(items, usage)
		}
	}
	return domain.CursorPage[domain.PromotionUsage]{Items: items}, nil
}

type fakeCounterRepo struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeCounterRepo() *fakeCounterRepo {
	return &fakeCounterRepo{counts: make(map[string]int64)}
}

func (r *fakeCounterRepo) Next(_ context.Context, counterID string, step int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if step <= 0 {
		step = 1
	}
	r.counts[counterID] += step
	return r.counts[counterID], nil
}

func (r *fakeCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
	err    error
}

func (p *fakePublisher) PublishOrderEvent(_ context.Context, event domain.OrderEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return fmt.Sprintf("msg-%d", len(p.events)), nil
}

func (p *fakePublisher) published() []domain.OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OrderEvent(nil), p.events...)
}

// fixedDelivery is a DeliveryEstimator stub returning a canned quote.
type fixedDelivery struct {
	quote domain.DeliveryQuote
	err   error
}

func (f fixedDelivery) Quote(_ context.Context, cmd QuoteDeliveryCommand) (domain.DeliveryQuote, error) {
	if f.err != nil {
		return domain.DeliveryQuote{}, f.err
	}
	quote := f.quote
	quote.PostalCode = strings.ToUpper(strings.TrimSpace(cmd.PostalCode))
	return quote, nil
}

// fixedPromotions is a PromotionService stub used by cart tests.
type fixedPromotions struct {
	result PromotionValidationResult
	err    error
}

func (f fixedPromotions) ValidatePromotion(context.Context, ValidatePromotionCommand) (PromotionValidationResult, error) {
	return f.result, f.err
}

func (f fixedPromotions) RecordRedemption(context.Context, RecordRedemptionCommand) error { return nil }

func (f fixedPromotions) ListPromotions(context.Context, PromotionListFilter) (domain.CursorPage[Promotion], error) {
	return domain.CursorPage[Promotion]{}, nil
}

func (f fixedPromotions) CreatePromotion(context.Context, UpsertPromotionCommand) (Promotion, error) {
	return Promotion{}, nil
}

func (f fixedPromotions) UpdatePromotion(context.Context, UpsertPromotionCommand) (Promotion, error) {
	return Promotion{}, nil
}

func (f fixedPromotions) DeletePromotion(context.Context, string) error { return nil }

func (f fixedPromotions) ListPromotionUsage(context.Context, PromotionUsageFilter) (domain.CursorPage[PromotionUsage], error) {
	return domain.CursorPage[PromotionUsage]{}, nil
}

func testHomeModel() domain.HomeModel {
	return domain.HomeModel{
		ID:          "mdl_cedar",
		Slug:        "cedar-28",
		Name:        "Cedar 28",
		Currency:    "usd",
		BasePrice:   5_000_000,
		SetupFee:    80_000,
		SquareFeet:  320,
		Bedrooms:    1,
		Bathrooms:   1,
		IsPublished: true,
		OptionGroups: []domain.OptionGroup{
			{
				Code: "interior",
				Name: "Interior",
				Options: []domain.CatalogOption{
					{Code: "flooring-upgrade", Name: "Upgraded Flooring", UnitPrice: 120_000, MaxQuantity: 1, IsAvailable: true},
					{Code: "solar", Name: "Solar Package", UnitPrice: 45_000, MaxQuantity: 4, IsAvailable: true},
					{Code: "retired-option", Name: "Retired Option", UnitPrice: 10_000, IsAvailable: false},
				},
			},
		},
	}
}
