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
	// ErrPromotionInvalidInput indicates malformed promotion data or an empty code.
	ErrPromotionInvalidInput = errors.New("promotion: invalid input")
	// ErrPromotionNotFound indicates the promotion does not exist.
	ErrPromotionNotFound = errors.New("promotion: not found")
	// ErrPromotionUnavailable indicates the promotion store is unreachable.
	ErrPromotionUnavailable = errors.New("promotion: unavailable")
	// ErrPromotionConflict indicates a promotion with the same identity already exists.
	ErrPromotionConflict = errors.New("promotion: conflict")
)

// Rejection reasons surfaced through PromotionValidationResult.Reason.
const (
	promotionReasonUnknownCode  = "unknown_code"
	promotionReasonInactive     = "inactive"
	promotionReasonNotStarted   = "not_started"
	promotionReasonExpired      = "expired"
	promotionReasonLimitReached = "limit_reached"
	promotionReasonNoDiscount   = "no_discount"
)

// PromotionServiceDeps bundles the dependencies required to construct a PromotionService.
type PromotionServiceDeps struct {
	Promotions repositories.PromotionRepository
	Usage      repositories.PromotionUsageRepository
	IDGen      func() string
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type promotionService struct {
	repo   repositories.PromotionRepository
	usage  repositories.PromotionUsageRepository
	idGen  func() string
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewPromotionService wires a PromotionService backed by the provided repositories.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	if deps.Promotions == nil {
		return nil, errors.New("promotion service: promotion repository is required")
	}
	if deps.Usage == nil {
		return nil, errors.New("promotion service: usage repository is required")
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
	return &promotionService{
		repo:   deps.Promotions,
		usage:  deps.Usage,
		idGen:  idGen,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// ValidatePromotion evaluates a code against the caller's cart. An ineligible
// code is not an error: the result carries the rejection reason so the
// configurator can display it.
func (s *promotionService) ValidatePromotion(ctx context.Context, cmd ValidatePromotionCommand) (PromotionValidationResult, error) {
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return PromotionValidationResult{}, fmt.Errorf("%w: promotion code is required", ErrPromotionInvalidInput)
	}
	if cmd.Subtotal < 0 {
		return PromotionValidationResult{}, fmt.Errorf("%w: subtotal must be non-negative", ErrPromotionInvalidInput)
	}

	promotion, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return PromotionValidationResult{Code: code, Reason: promotionReasonUnknownCode}, nil
		}
		return PromotionValidationResult{}, s.translateError(err)
	}

	result := PromotionValidationResult{Code: promotion.Code}

	now := s.now()
	switch {
	case !strings.EqualFold(promotion.Status, "active"):
		result.Reason = promotionReasonInactive
		return result, nil
	case !promotion.StartsAt.IsZero() && now.Before(promotion.StartsAt):
		result.Reason = promotionReasonNotStarted
		return result, nil
	case !promotion.EndsAt.IsZero() && now.After(promotion.EndsAt):
		result.Reason = promotionReasonExpired
		return result, nil
	case promotion.AmountOff <= 0:
		result.Reason = promotionReasonNoDiscount
		return result, nil
	}

	if promotion.UsageLimit != nil && strings.TrimSpace(cmd.UserID) != "" {
		usage, err := s.usage.GetUsage(ctx, promotion.ID, cmd.UserID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
				return PromotionValidationResult{}, s.translateError(err)
			}
		} else if usage.Count >= *promotion.UsageLimit {
			result.Reason = promotionReasonLimitReached
			return result, nil
		}
	}

	discount := promotion.AmountOff
	if cmd.Subtotal > 0 && discount > cmd.Subtotal {
		discount = cmd.Subtotal
	}

	result.Eligible = true
	result.DiscountAmount = discount
	return result, nil
}

// RecordRedemption counts a successful use of a promotion, called once per placed order.
func (s *promotionService) RecordRedemption(ctx context.Context, cmd RecordRedemptionCommand) error {
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	userID := strings.TrimSpace(cmd.UserID)
	if code == "" || userID == "" {
		return fmt.Errorf("%w: code and user id are required", ErrPromotionInvalidInput)
	}

	promotion, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return ErrPromotionNotFound
		}
		return s.translateError(err)
	}

	if _, err := s.usage.IncrementUsage(ctx, promotion.ID, userID, s.now()); err != nil {
		return s.translateError(err)
	}
	return nil
}

// ListPromotions returns promotions for the admin surface.
func (s *promotionService) ListPromotions(ctx context.Context, filter PromotionListFilter) (domain.CursorPage[Promotion], error) {
	repoFilter := repositories.PromotionListFilter{Pagination: filter.Pagination}
	if status := strings.ToLower(strings.TrimSpace(filter.Status)); status != "" {
		repoFilter.Status = []string{status}
	}
	page, err := s.repo.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Promotion]{}, s.translateError(err)
	}
	return page, nil
}

// CreatePromotion registers a new promotion.
func (s *promotionService) CreatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error) {
	promotion, err := s.normalizePromotion(cmd.Promotion)
	if err != nil {
		return Promotion{}, err
	}
	if strings.TrimSpace(promotion.ID) == "" {
		promotion.ID = s.idGen()
	}

	if err := s.repo.Insert(ctx, promotion); err != nil {
		return Promotion{}, s.translateError(err)
	}
	s.logger(ctx, "promotion.created", map[string]any{
		"promotionId": promotion.ID,
		"code":        promotion.Code,
		"actorId":     strings.TrimSpace(cmd.ActorID),
	})
	return promotion, nil
}

// UpdatePromotion replaces an existing promotion definition.
func (s *promotionService) UpdatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error) {
	promotion, err := s.normalizePromotion(cmd.Promotion)
	if err != nil {
		return Promotion{}, err
	}
	if strings.TrimSpace(promotion.ID) == "" {
		return Promotion{}, fmt.Errorf("%w: promotion id is required", ErrPromotionInvalidInput)
	}

	if err := s.repo.Update(ctx, promotion); err != nil {
		return Promotion{}, s.translateError(err)
	}
	s.logger(ctx, "promotion.updated", map[string]any{
		"promotionId": promotion.ID,
		"code":        promotion.Code,
		"actorId":     strings.TrimSpace(cmd.ActorID),
	})
	return promotion, nil
}

// DeletePromotion removes a promotion.
func (s *promotionService) DeletePromotion(ctx context.Context, promotionID string) error {
	promotionID = strings.TrimSpace(promotionID)
	if promotionID == "" {
		return fmt.Errorf("%w: promotion id is required", ErrPromotionInvalidInput)
	}
	if err := s.repo.Delete(ctx, promotionID); err != nil {
		return s.translateError(err)
	}
	return nil
}

// ListPromotionUsage returns redemption records for one promotion.
func (s *promotionService) ListPromotionUsage(ctx context.Context, filter PromotionUsageFilter) (domain.CursorPage[PromotionUsage], error) {
	promotionID := strings.TrimSpace(filter.PromotionID)
	if promotionID == "" {
		return domain.CursorPage[PromotionUsage]{}, fmt.Errorf("%w: promotion id is required", ErrPromotionInvalidInput)
	}
	page, err := s.usage.ListUsage(ctx, promotionID, filter.Pagination)
	if err != nil {
		return domain.CursorPage[PromotionUsage]{}, s.translateError(err)
	}
	return page, nil
}

func (s *promotionService) normalizePromotion(promotion Promotion) (Promotion, error) {
	promotion.Code = strings.ToUpper(strings.TrimSpace(promotion.Code))
	if promotion.Code == "" {
		return Promotion{}, fmt.Errorf("%w: promotion code is required", ErrPromotionInvalidInput)
	}
	promotion.Name = strings.TrimSpace(promotion.Name)
	promotion.Description = strings.TrimSpace(promotion.Description)
	promotion.Status = strings.ToLower(strings.TrimSpace(promotion.Status))
	if promotion.Status == "" {
		promotion.Status = "active"
	}
	if promotion.AmountOff < 0 {
		return Promotion{}, fmt.Errorf("%w: amount off must be non-negative", ErrPromotionInvalidInput)
	}
	if promotion.UsageLimit != nil && *promotion.UsageLimit < 1 {
		return Promotion{}, fmt.Errorf("%w: usage limit must be positive", ErrPromotionInvalidInput)
	}
	if !promotion.StartsAt.IsZero() && !promotion.EndsAt.IsZero() && promotion.EndsAt.Before(promotion.StartsAt) {
		return Promotion{}, fmt.Errorf("%w: promotion window is inverted", ErrPromotionInvalidInput)
	}
	return promotion, nil
}

func (s *promotionService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrPromotionNotFound
		case repoErr.IsConflict():
			return ErrPromotionConflict
		case repoErr.IsUnavailable():
			return ErrPromotionUnavailable
		}
	}
	return err
}
