package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/timberhaven/api/internal/domain"
	"github.com/timberhaven/api/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid cart parameters.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartUnavailable indicates cart dependencies are currently unreachable.
	ErrCartUnavailable = errors.New("cart: unavailable")
	// ErrCartModelNotSet indicates the operation requires a configured home model.
	ErrCartModelNotSet = errors.New("cart: model not set")
	// ErrCartOptionNotFound indicates the option code is not offered by the configured model.
	ErrCartOptionNotFound = errors.New("cart: option not found")
	// ErrCartPromotionRejected indicates the promotion code is not applicable.
	ErrCartPromotionRejected = errors.New("cart: promotion rejected")
)

// TaxPolicy carries the rate applied when repricing carts and orders.
type TaxPolicy struct {
	RateBasisPoints int64
	Jurisdiction    string
}

// CartServiceDeps bundles the dependencies required to construct a CartService.
type CartServiceDeps struct {
	Carts      repositories.CartRepository
	Catalog    repositories.CatalogRepository
	Pricing    PricingEngine
	Delivery   DeliveryEstimator
	Promotions PromotionService
	Tax        TaxPolicy
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts      repositories.CartRepository
	catalog    repositories.CatalogRepository
	pricing    PricingEngine
	delivery   DeliveryEstimator
	promotions PromotionService
	tax        TaxPolicy
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewCartService constructs a CartService validating required dependencies.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("cart service: pricing engine is required")
	}
	if deps.Delivery == nil {
		return nil, errors.New("cart service: delivery estimator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{
		carts:      deps.Carts,
		catalog:    deps.Catalog,
		pricing:    deps.Pricing,
		delivery:   deps.Delivery,
		promotions: deps.Promotions,
		tax:        deps.Tax,
		now:        func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// GetOrCreateCart returns the caller's cart, creating an empty one on first use.
func (s *cartService) GetOrCreateCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err == nil {
		return cart, nil
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		return Cart{}, s.translateError(err)
	}

	now := s.now()
	fresh := Cart{
		ID:        userID,
		UserID:    userID,
		Currency:  defaultQuoteCurrency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	saved, err := s.carts.UpsertCart(ctx, fresh)
	if err != nil {
		return Cart{}, s.translateError(err)
	}
	return saved, nil
}

// SetModel swaps the configured home model. Selections belong to a model's
// option catalog, so they are reset along with any applied promotion.
func (s *cartService) SetModel(ctx context.Context, cmd SetCartModelCommand) (Cart, error) {
	modelID := strings.TrimSpace(cmd.ModelID)
	if modelID == "" {
		return Cart{}, fmt.Errorf("%w: model id is required", ErrCartInvalidInput)
	}

	cart, err := s.GetOrCreateCart(ctx, cmd.UserID)
	if err != nil {
		return Cart{}, err
	}

	model, err := s.catalog.GetPublishedModel(ctx, modelID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Cart{}, fmt.Errorf("%w: model %q", ErrCartInvalidInput, modelID)
		}
		return Cart{}, s.translateError(err)
	}

	cart.ModelID = model.ID
	cart.ModelName = model.Name
	cart.BasePrice = model.BasePrice
	cart.SetupFee = model.SetupFee
	cart.Currency = model.Currency
	cart.Selections = nil
	cart.Promotion = nil

	return s.repriceAndSave(ctx, cart)
}

// UpsertSelection adds an option selection or replaces its quantity.
func (s *cartService) UpsertSelection(ctx context.Context, cmd UpsertCartSelectionCommand) (Cart, error) {
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return Cart{}, fmt.Errorf("%w: option code is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	cart, err := s.GetOrCreateCart(ctx, cmd.UserID)
	if err != nil {
		return Cart{}, err
	}
	if strings.TrimSpace(cart.ModelID) == "" {
		return Cart{}, ErrCartModelNotSet
	}

	model, err := s.catalog.GetPublishedModel(ctx, cart.ModelID)
	if err != nil {
		return Cart{}, s.translateError(err)
	}
	option, ok := findCatalogOption(model, code)
	if !ok || !option.IsAvailable {
		return Cart{}, fmt.Errorf("%w: %q", ErrCartOptionNotFound, code)
	}
	if option.MaxQuantity > 0 && cmd.Quantity > option.MaxQuantity {
		return Cart{}, fmt.Errorf("%w: option %q allows at most %d", ErrCartInvalidInput, code, option.MaxQuantity)
	}

	// Selections are replaced wholesale, never patched in place.
	next := make([]OptionSelection, 0, len(cart.Selections)+1)
	replaced := false
	for _, selection := range cart.Selections {
		if selection.Code == code {
			next = append(next, OptionSelection{Code: code, Name: option.Name, UnitPrice: option.UnitPrice, Quantity: cmd.Quantity})
			replaced = true
			continue
		}
		next = append(next, selection)
	}
	if !replaced {
		next = append(next, OptionSelection{Code: code, Name: option.Name, UnitPrice: option.UnitPrice, Quantity: cmd.Quantity})
	}
	cart.Selections = next

	return s.repriceAndSave(ctx, cart)
}

// RemoveSelection deselects an option.
func (s *cartService) RemoveSelection(ctx context.Context, cmd RemoveCartSelectionCommand) (Cart, error) {
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return Cart{}, fmt.Errorf("%w: option code is required", ErrCartInvalidInput)
	}

	cart, err := s.GetOrCreateCart(ctx, cmd.UserID)
	if err != nil {
		return Cart{}, err
	}

	next := make([]OptionSelection, 0, len(cart.Selections))
	found := false
	for _, selection := range cart.Selections {
		if selection.Code == code {
			found = true
			continue
		}
		next = append(next, selection)
	}
	if !found {
		return Cart{}, fmt.Errorf("%w: %q", ErrCartOptionNotFound, code)
	}
	cart.Selections = next

	return s.repriceAndSave(ctx, cart)
}

// SetDestination records the delivery destination and refreshes the delivery quote.
func (s *cartService) SetDestination(ctx context.Context, cmd SetCartDestinationCommand) (Cart, error) {
	cart, err := s.GetOrCreateCart(ctx, cmd.UserID)
	if err != nil {
		return Cart{}, err
	}

	quote, err := s.delivery.Quote(ctx, QuoteDeliveryCommand{PostalCode: cmd.PostalCode})
	if err != nil {
		if errors.Is(err, ErrDeliveryInvalidInput) {
			return Cart{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
		}
		return Cart{}, err
	}

	cart.DestinationZIP = quote.PostalCode
	cart.Delivery = &quote
	cart.DeliveryAddress = cmd.Address

	return s.repriceAndSave(ctx, cart)
}

// ApplyPromotion validates a promotion code and applies its discount to the cart.
func (s *cartService) ApplyPromotion(ctx context.Context, cmd ApplyCartPromotionCommand) (Cart, error) {
	if s.promotions == nil {
		return Cart{}, ErrCartUnavailable
	}
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return Cart{}, fmt.Errorf("%w: promotion code is required", ErrCartInvalidInput)
	}

	cart, err := s.GetOrCreateCart(ctx, cmd.UserID)
	if err != nil {
		return Cart{}, err
	}
	if strings.TrimSpace(cart.ModelID) == "" {
		return Cart{}, ErrCartModelNotSet
	}

	subtotal := cart.BasePrice
	for _, selection := range cart.Selections {
		subtotal += selection.UnitPrice * int64(selection.Quantity)
	}

	result, err := s.promotions.ValidatePromotion(ctx, ValidatePromotionCommand{
		Code:     code,
		UserID:   cart.UserID,
		Subtotal: subtotal,
		Currency: cart.Currency,
	})
	if err != nil {
		return Cart{}, err
	}
	if !result.Eligible {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartPromotionRejected, result.Reason)
	}

	cart.Promotion = &CartPromotion{
		Code:           result.Code,
		DiscountAmount: result.DiscountAmount,
		Applied:        true,
	}
	return s.repriceAndSave(ctx, cart)
}

// RemovePromotion drops the applied promotion and reprices.
func (s *cartService) RemovePromotion(ctx context.Context, userID string) (Cart, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	cart.Promotion = nil
	return s.repriceAndSave(ctx, cart)
}

// ClearCart deletes the caller's cart entirely.
func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if err := s.carts.DeleteCart(ctx, userID); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return s.translateError(err)
	}
	return nil
}

// repriceAndSave recomputes the breakdown from the cart's current inputs and
// persists the cart. A pricing failure leaves the stored cart untouched.
func (s *cartService) repriceAndSave(ctx context.Context, cart Cart) (Cart, error) {
	if strings.TrimSpace(cart.ModelID) != "" {
		breakdown, err := s.pricing.ComputeBreakdown(s.pricingInput(cart))
		if err != nil {
			return Cart{}, err
		}
		cart.Breakdown = &breakdown
	} else {
		cart.Breakdown = nil
	}
	cart.UpdatedAt = s.now()

	saved, err := s.carts.UpsertCart(ctx, cart)
	if err != nil {
		return Cart{}, s.translateError(err)
	}
	return saved, nil
}

func (s *cartService) pricingInput(cart Cart) PricingInput {
	input := PricingInput{
		Currency:   cart.Currency,
		BasePrice:  cart.BasePrice,
		Selections: cart.Selections,
		SetupFee:   cart.SetupFee,
	}
	if cart.Delivery != nil {
		input.DeliveryFee = cart.Delivery.Fee
	}
	if s.tax.RateBasisPoints > 0 {
		rate := s.tax.RateBasisPoints
		input.Tax = TaxInput{RateBasisPoints: &rate, Jurisdiction: s.tax.Jurisdiction}
	}
	if cart.Promotion != nil && cart.Promotion.Applied {
		input.Discounts = -cart.Promotion.DiscountAmount
	}
	return input
}

func (s *cartService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: cart not found", ErrCartInvalidInput)
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
	}
	return err
}

func findCatalogOption(model domain.HomeModel, code string) (CatalogOption, bool) {
	for _, group := range model.OptionGroups {
		for _, option := range group.Options {
			if option.Code == code {
				return option, true
			}
		}
	}
	return CatalogOption{}, false
}
