package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/timberhaven/api/internal/domain"
	"github.com/timberhaven/api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid model data or filters.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogModelNotFound indicates the requested model does not exist or is unpublished.
	ErrCatalogModelNotFound = errors.New("catalog: model not found")
	// ErrCatalogUnavailable indicates the catalog store is unreachable.
	ErrCatalogUnavailable = errors.New("catalog: unavailable")
)

// CatalogServiceDeps bundles the dependencies required to construct a CatalogService.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogRepository
	IDGen   func() string
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	repo      repositories.CatalogRepository
	idGen     func() string
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
	sanitizer *bluemonday.Policy
}

// NewCatalogService wires a CatalogService backed by the provided repository.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: repository is required")
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
	return &catalogService{
		repo:      deps.Catalog,
		idGen:     idGen,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
		sanitizer: bluemonday.UGCPolicy(),
	}, nil
}

// ListModels returns catalog models matching the filter. Unpublished models are
// only visible when the filter explicitly asks for them (admin surface).
func (s *catalogService) ListModels(ctx context.Context, filter ModelListFilter) (domain.CursorPage[HomeModel], error) {
	if s == nil || s.repo == nil {
		return domain.CursorPage[HomeModel]{}, ErrCatalogUnavailable
	}
	if filter.Bedrooms != nil && *filter.Bedrooms < 0 {
		return domain.CursorPage[HomeModel]{}, fmt.Errorf("%w: bedrooms must be non-negative", ErrCatalogInvalidInput)
	}
	if filter.MinSquareFeet != nil && filter.MaxSquareFeet != nil && *filter.MinSquareFeet > *filter.MaxSquareFeet {
		return domain.CursorPage[HomeModel]{}, fmt.Errorf("%w: square footage range is inverted", ErrCatalogInvalidInput)
	}

	page, err := s.repo.ListModels(ctx, repositories.ModelFilter{
		Bedrooms:      filter.Bedrooms,
		MinSquareFeet: filter.MinSquareFeet,
		MaxSquareFeet: filter.MaxSquareFeet,
		OnlyPublished: !filter.IncludeUnpublished,
		SortBy:        filter.SortBy,
		SortOrder:     filter.SortOrder,
		Pagination:    filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[HomeModel]{}, s.translateError(err)
	}
	return page, nil
}

// GetModel fetches a published model by ID.
func (s *catalogService) GetModel(ctx context.Context, modelID string) (HomeModel, error) {
	if s == nil || s.repo == nil {
		return HomeModel{}, ErrCatalogUnavailable
	}
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return HomeModel{}, fmt.Errorf("%w: model id is required", ErrCatalogInvalidInput)
	}
	model, err := s.repo.GetPublishedModel(ctx, modelID)
	if err != nil {
		return HomeModel{}, s.translateError(err)
	}
	return model, nil
}

// GetModelBySlug fetches a published model by its URL slug.
func (s *catalogService) GetModelBySlug(ctx context.Context, slug string) (HomeModel, error) {
	if s == nil || s.repo == nil {
		return HomeModel{}, ErrCatalogUnavailable
	}
	slug = normalizeSlug(slug)
	if slug == "" {
		return HomeModel{}, fmt.Errorf("%w: slug is required", ErrCatalogInvalidInput)
	}
	model, err := s.repo.GetPublishedModelBySlug(ctx, slug)
	if err != nil {
		return HomeModel{}, s.translateError(err)
	}
	return model, nil
}

// UpsertModel creates or replaces a home model. Descriptions are sanitised
// before storage since admins author them as HTML.
func (s *catalogService) UpsertModel(ctx context.Context, cmd UpsertModelCommand) (HomeModel, error) {
	if s == nil || s.repo == nil {
		return HomeModel{}, ErrCatalogUnavailable
	}

	model := cmd.Model
	model.Name = strings.TrimSpace(model.Name)
	if model.Name == "" {
		return HomeModel{}, fmt.Errorf("%w: model name is required", ErrCatalogInvalidInput)
	}
	if model.BasePrice < 0 {
		return HomeModel{}, fmt.Errorf("%w: base price must be non-negative", ErrCatalogInvalidInput)
	}
	if model.SetupFee < 0 {
		return HomeModel{}, fmt.Errorf("%w: setup fee must be non-negative", ErrCatalogInvalidInput)
	}
	if model.SquareFeet < 0 || model.Bedrooms < 0 || model.Bathrooms < 0 {
		return HomeModel{}, fmt.Errorf("%w: dimensions must be non-negative", ErrCatalogInvalidInput)
	}
	if err := validateOptionGroups(model.OptionGroups); err != nil {
		return HomeModel{}, err
	}

	model.Currency = strings.ToLower(strings.TrimSpace(model.Currency))
	if model.Currency == "" {
		model.Currency = defaultQuoteCurrency
	}
	model.Slug = normalizeSlug(model.Slug)
	if model.Slug == "" {
		model.Slug = slugify(model.Name)
	}
	model.Description = strings.TrimSpace(s.sanitizer.Sanitize(model.Description))

	now := s.now()
	if strings.TrimSpace(model.ID) == "" {
		model.ID = s.idGen()
		model.CreatedAt = now
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	model.UpdatedAt = now

	saved, err := s.repo.UpsertModel(ctx, model)
	if err != nil {
		return HomeModel{}, s.translateError(err)
	}
	model = saved

	s.logger(ctx, "catalog.model_upserted", map[string]any{
		"modelId": model.ID,
		"slug":    model.Slug,
		"actorId": strings.TrimSpace(cmd.ActorID),
	})
	return model, nil
}

// DeleteModel removes a model from the catalog.
func (s *catalogService) DeleteModel(ctx context.Context, modelID string) error {
	if s == nil || s.repo == nil {
		return ErrCatalogUnavailable
	}
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return fmt.Errorf("%w: model id is required", ErrCatalogInvalidInput)
	}
	if err := s.repo.DeleteModel(ctx, modelID); err != nil {
		return s.translateError(err)
	}
	return nil
}

func (s *catalogService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCatalogModelNotFound
		case repoErr.IsUnavailable():
			return ErrCatalogUnavailable
		}
	}
	return err
}

func validateOptionGroups(groups []OptionGroup) error {
	seenGroups := make(map[string]struct{}, len(groups))
	for _, group := range groups {
		code := strings.TrimSpace(group.Code)
		if code == "" {
			return fmt.Errorf("%w: option group code is required", ErrCatalogInvalidInput)
		}
		if _, dup := seenGroups[code]; dup {
			return fmt.Errorf("%w: duplicate option group %q", ErrCatalogInvalidInput, code)
		}
		seenGroups[code] = struct{}{}

		seenOptions := make(map[string]struct{}, len(group.Options))
		for _, option := range group.Options {
			optionCode := strings.TrimSpace(option.Code)
			if optionCode == "" {
				return fmt.Errorf("%w: option code is required in group %q", ErrCatalogInvalidInput, code)
			}
			if _, dup := seenOptions[optionCode]; dup {
				return fmt.Errorf("%w: duplicate option %q in group %q", ErrCatalogInvalidInput, optionCode, code)
			}
			seenOptions[optionCode] = struct{}{}
			if option.UnitPrice < 0 {
				return fmt.Errorf("%w: option %q has negative unit price", ErrCatalogInvalidInput, optionCode)
			}
			if option.MaxQuantity < 0 {
				return fmt.Errorf("%w: option %q has negative max quantity", ErrCatalogInvalidInput, optionCode)
			}
		}
	}
	return nil
}

func normalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
