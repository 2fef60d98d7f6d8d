package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/timberhaven/api/internal/domain"
	pfirestore "github.com/timberhaven/api/internal/platform/firestore"
	"github.com/timberhaven/api/internal/repositories"
)

const modelsCollection = "home_models"

// CatalogRepository persists home model documents including option groups.
type CatalogRepository struct {
	base *pfirestore.BaseRepository[modelDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[modelDocument](provider, modelsCollection, nil, nil)
	return &CatalogRepository{base: base}, nil
}

// ListModels returns home models matching the filter ordered by the requested sort.
func (r *CatalogRepository) ListModels(ctx context.Context, filter repositories.ModelFilter) (domain.CursorPage[domain.HomeModel], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.HomeModel]{}, errors.New("catalog repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.HomeModel]{}, fmt.Errorf("catalog repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.OnlyPublished {
			q = q.Where("isPublished", "==", true)
		}
		if filter.Bedrooms != nil {
			q = q.Where("bedrooms", "==", *filter.Bedrooms)
		}
		if filter.MinSquareFeet != nil {
			q = q.Where("squareFeet", ">=", *filter.MinSquareFeet)
		}
		if filter.MaxSquareFeet != nil {
			q = q.Where("squareFeet", "<=", *filter.MaxSquareFeet)
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.HomeModel]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.HomeModel, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeModelDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	page := domain.CursorPage[domain.HomeModel]{
		Items:         items,
		NextPageToken: nextToken,
	}
	sortModels(page.Items, filter.SortBy, filter.SortOrder)
	return page, nil
}

// GetPublishedModel fetches a model visible to buyers.
func (r *CatalogRepository) GetPublishedModel(ctx context.Context, modelID string) (domain.HomeModel, error) {
	model, err := r.GetModel(ctx, modelID)
	if err != nil {
		return domain.HomeModel{}, err
	}
	if !model.IsPublished {
		return domain.HomeModel{}, pfirestore.NewNotFoundError("home_models.get_published", modelID)
	}
	return model, nil
}

// GetPublishedModelBySlug resolves a published model by its URL slug.
func (r *CatalogRepository) GetPublishedModelBySlug(ctx context.Context, slug string) (domain.HomeModel, error) {
	if r == nil || r.base == nil {
		return domain.HomeModel{}, errors.New("catalog repository not initialised")
	}
	trimmed := strings.ToLower(strings.TrimSpace(slug))
	if trimmed == "" {
		return domain.HomeModel{}, errors.New("catalog repository: slug is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", trimmed).Where("isPublished", "==", true).Limit(1)
	})
	if err != nil {
		return domain.HomeModel{}, err
	}
	if len(docs) == 0 {
		return domain.HomeModel{}, pfirestore.NewNotFoundError("home_models.get_by_slug", trimmed)
	}
	doc := docs[0]
	return decodeModelDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// GetModel fetches a model regardless of publication state.
func (r *CatalogRepository) GetModel(ctx context.Context, modelID string) (domain.HomeModel, error) {
	if r == nil || r.base == nil {
		return domain.HomeModel{}, errors.New("catalog repository not initialised")
	}
	id := strings.TrimSpace(modelID)
	if id == "" {
		return domain.HomeModel{}, errors.New("catalog repository: model id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.HomeModel{}, err
	}
	return decodeModelDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// UpsertModel stores the model document, replacing any previous state.
func (r *CatalogRepository) UpsertModel(ctx context.Context, model domain.HomeModel) (domain.HomeModel, error) {
	if r == nil || r.base == nil {
		return domain.HomeModel{}, errors.New("catalog repository not initialised")
	}
	id := strings.TrimSpace(model.ID)
	if id == "" {
		return domain.HomeModel{}, errors.New("catalog repository: model id is required")
	}

	doc := encodeModelDocument(model)
	result, err := r.base.Set(ctx, id, doc)
	if err != nil {
		return domain.HomeModel{}, err
	}

	saved := decodeModelDocument(id, doc, doc.CreatedAt, result.UpdateTime)
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// DeleteModel removes the model document.
func (r *CatalogRepository) DeleteModel(ctx context.Context, modelID string) error {
	if r == nil || r.base == nil {
		return errors.New("catalog repository not initialised")
	}
	id := strings.TrimSpace(modelID)
	if id == "" {
		return errors.New("catalog repository: model id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("home_models.delete", err)
	}
	return nil
}

func sortModels(models []domain.HomeModel, sortBy domain.ModelSort, order domain.SortOrder) {
	if len(models) < 2 {
		return
	}
	less := func(a, b domain.HomeModel) bool {
		switch sortBy {
		case domain.ModelSortBasePrice:
			return a.BasePrice < b.BasePrice
		case domain.ModelSortPopularity:
			return a.Popularity > b.Popularity
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	}
	for i := 1; i < len(models); i++ {
		for j := i; j > 0; j-- {
			swap := less(models[j], models[j-1])
			if order == domain.SortDesc {
				swap = less(models[j-1], models[j])
			}
			if !swap {
				break
			}
			models[j], models[j-1] = models[j-1], models[j]
		}
	}
}

type modelDocument struct {
	Slug         string                `firestore:"slug"`
	Name         string                `firestore:"name"`
	Description  string                `firestore:"description,omitempty"`
	Currency     string                `firestore:"currency"`
	BasePrice    int64                 `firestore:"basePrice"`
	SetupFee     int64                 `firestore:"setupFee"`
	SquareFeet   int                   `firestore:"squareFeet"`
	Bedrooms     int                   `firestore:"bedrooms"`
	Bathrooms    int                   `firestore:"bathrooms"`
	WidthFt      float64               `firestore:"widthFt"`
	LengthFt     float64               `firestore:"lengthFt"`
	Photos       []string              `firestore:"photos,omitempty"`
	OptionGroups []optionGroupDocument `firestore:"optionGroups,omitempty"`
	Popularity   int                   `firestore:"popularity"`
	IsPublished  bool                  `firestore:"isPublished"`
	CreatedAt    time.Time             `firestore:"createdAt"`
	UpdatedAt    time.Time             `firestore:"updatedAt"`
}

type optionGroupDocument struct {
	Code     string                  `firestore:"code"`
	Name     string                  `firestore:"name"`
	Required bool                    `firestore:"required"`
	Options  []catalogOptionDocument `firestore:"options,omitempty"`
}

type catalogOptionDocument struct {
	Code        string `firestore:"code"`
	Name        string `firestore:"name"`
	Description string `firestore:"description,omitempty"`
	UnitPrice   int64  `firestore:"unitPrice"`
	MaxQuantity int    `firestore:"maxQuantity"`
	IsAvailable bool   `firestore:"isAvailable"`
}

func encodeModelDocument(model domain.HomeModel) modelDocument {
	groups := make([]optionGroupDocument, 0, len(model.OptionGroups))
	for _, group := range model.OptionGroups {
		options := make([]catalogOptionDocument, 0, len(group.Options))
		for _, option := range group.Options {
			options = append(options, catalogOptionDocument{
				Code:        strings.TrimSpace(option.Code),
				Name:        strings.TrimSpace(option.Name),
				Description: strings.TrimSpace(option.Description),
				UnitPrice:   option.UnitPrice,
				MaxQuantity: option.MaxQuantity,
				IsAvailable: option.IsAvailable,
			})
		}
		groups = append(groups, optionGroupDocument{
			Code:     strings.TrimSpace(group.Code),
			Name:     strings.TrimSpace(group.Name),
			Required: group.Required,
			Options:  options,
		})
	}

	createdAt := model.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := model.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	return modelDocument{
		Slug:         strings.ToLower(strings.TrimSpace(model.Slug)),
		Name:         strings.TrimSpace(model.Name),
		Description:  strings.TrimSpace(model.Description),
		Currency:     strings.ToLower(strings.TrimSpace(model.Currency)),
		BasePrice:    model.BasePrice,
		SetupFee:     model.SetupFee,
		SquareFeet:   model.SquareFeet,
		Bedrooms:     model.Bedrooms,
		Bathrooms:    model.Bathrooms,
		WidthFt:      model.WidthFt,
		LengthFt:     model.LengthFt,
		Photos:       cloneStrings(model.Photos),
		OptionGroups: groups,
		Popularity:   model.Popularity,
		IsPublished:  model.IsPublished,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
}

func decodeModelDocument(id string, doc modelDocument, createdAt, updatedAt time.Time) domain.HomeModel {
	groups := make([]domain.OptionGroup, 0, len(doc.OptionGroups))
	for _, group := range doc.OptionGroups {
		options := make([]domain.CatalogOption, 0, len(group.Options))
		for _, option := range group.Options {
			options = append(options, domain.CatalogOption{
				Code:        option.Code,
				Name:        option.Name,
				Description: option.Description,
				UnitPrice:   option.UnitPrice,
				MaxQuantity: option.MaxQuantity,
				IsAvailable: option.IsAvailable,
			})
		}
		groups = append(groups, domain.OptionGroup{
			Code:     group.Code,
			Name:     group.Name,
			Required: group.Required,
			Options:  options,
		})
	}

	return domain.HomeModel{
		ID:           strings.TrimSpace(id),
		Slug:         doc.Slug,
		Name:         doc.Name,
		Description:  doc.Description,
		Currency:     doc.Currency,
		BasePrice:    doc.BasePrice,
		SetupFee:     doc.SetupFee,
		SquareFeet:   doc.SquareFeet,
		Bedrooms:     doc.Bedrooms,
		Bathrooms:    doc.Bathrooms,
		WidthFt:      doc.WidthFt,
		LengthFt:     doc.LengthFt,
		Photos:       cloneStrings(doc.Photos),
		OptionGroups: groups,
		Popularity:   doc.Popularity,
		IsPublished:  doc.IsPublished,
		CreatedAt:    chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:    chooseTime(doc.UpdatedAt, updatedAt),
	}
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
