package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/timberhaven/api/internal/domain"
	"github.com/timberhaven/api/internal/platform/httpx"
	"github.com/timberhaven/api/internal/services"
)

const (
	defaultCatalogPageSize = 20
	maxCatalogPageSize     = 100
)

// CatalogHandlers exposes the public home-model catalog.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs the public catalog endpoints.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes wires the /catalog endpoints onto the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/models", h.listModels)
	r.Get("/models/{modelRef}", h.getModel)
}

func (h *CatalogHandlers) listModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	filter := services.ModelListFilter{
		Pagination: parsePagination(r, defaultCatalogPageSize, maxCatalogPageSize),
	}
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("bedrooms")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "bedrooms must be an integer", http.StatusBadRequest))
			return
		}
		filter.Bedrooms = &value
	}
	if raw := strings.TrimSpace(query.Get("minSquareFeet")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "minSquareFeet must be an integer", http.StatusBadRequest))
			return
		}
		filter.MinSquareFeet = &value
	}
	if raw := strings.TrimSpace(query.Get("maxSquareFeet")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "maxSquareFeet must be an integer", http.StatusBadRequest))
			return
		}
		filter.MaxSquareFeet = &value
	}
	switch sortBy := strings.TrimSpace(query.Get("sortBy")); sortBy {
	case "":
	case "popularity":
		filter.SortBy = domain.ModelSortPopularity
	case "basePrice":
		filter.SortBy = domain.ModelSortBasePrice
	case "createdAt":
		filter.SortBy = domain.ModelSortCreatedAt
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sortBy must be popularity, basePrice, or createdAt", http.StatusBadRequest))
		return
	}
	if order := strings.ToLower(strings.TrimSpace(query.Get("sortOrder"))); order != "" {
		if order != string(domain.SortAsc) && order != string(domain.SortDesc) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sortOrder must be asc or desc", http.StatusBadRequest))
			return
		}
		filter.SortOrder = domain.SortOrder(order)
	}

	page, err := h.catalog.ListModels(ctx, filter)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}

	models := make([]modelSummaryPayload, 0, len(page.Items))
	for _, model := range page.Items {
		models = append(models, buildModelSummary(model))
	}
	writeJSONResponse(w, http.StatusOK, modelListResponse{
		Models:        models,
		NextPageToken: page.NextPageToken,
	})
}

func (h *CatalogHandlers) getModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	ref := strings.TrimSpace(chi.URLParam(r, "modelRef"))
	if ref == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "model reference is required", http.StatusBadRequest))
		return
	}

	// References containing a dash that fail the ID lookup are retried as slugs,
	// so /catalog/models/cedar-28 and /catalog/models/<id> both resolve.
	model, err := h.catalog.GetModel(ctx, ref)
	if errors.Is(err, services.ErrCatalogModelNotFound) {
		model, err = h.catalog.GetModelBySlug(ctx, ref)
	}
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, modelResponse{Model: buildModelPayload(model)})
}

func (h *CatalogHandlers) writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogModelNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("model_not_found", "home model not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to read catalog", http.StatusInternalServerError))
	}
}

type modelListResponse struct {
	Models        []modelSummaryPayload `json:"models"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type modelResponse struct {
	Model modelPayload `json:"model"`
}

type modelSummaryPayload struct {
	ID         string   `json:"id"`
	Slug       string   `json:"slug"`
	Name       string   `json:"name"`
	Currency   string   `json:"currency"`
	BasePrice  int64    `json:"base_price"`
	SquareFeet int      `json:"square_feet"`
	Bedrooms   int      `json:"bedrooms"`
	Bathrooms  int      `json:"bathrooms"`
	Photos     []string `json:"photos,omitempty"`
}

type modelPayload struct {
	modelSummaryPayload
	Description  string               `json:"description,omitempty"`
	SetupFee     int64                `json:"setup_fee"`
	WidthFt      float64              `json:"width_ft,omitempty"`
	LengthFt     float64              `json:"length_ft,omitempty"`
	OptionGroups []optionGroupPayload `json:"option_groups"`
}

type optionGroupPayload struct {
	Code     string                `json:"code"`
	Name     string                `json:"name"`
	Required bool                  `json:"required,omitempty"`
	Options  []catalogOptionOutput `json:"options"`
}

type catalogOptionOutput struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	UnitPrice   int64  `json:"unit_price"`
	MaxQuantity int    `json:"max_quantity,omitempty"`
	IsAvailable bool   `json:"is_available"`
}

func buildModelSummary(model services.HomeModel) modelSummaryPayload {
	return modelSummaryPayload{
		ID:         model.ID,
		Slug:       model.Slug,
		Name:       model.Name,
		Currency:   strings.ToUpper(model.Currency),
		BasePrice:  model.BasePrice,
		SquareFeet: model.SquareFeet,
		Bedrooms:   model.Bedrooms,
		Bathrooms:  model.Bathrooms,
		Photos:     model.Photos,
	}
}

func buildModelPayload(model services.HomeModel) modelPayload {
	payload := modelPayload{
		modelSummaryPayload: buildModelSummary(model),
		Description:         model.Description,
		SetupFee:            model.SetupFee,
		WidthFt:             model.WidthFt,
		LengthFt:            model.LengthFt,
		OptionGroups:        make([]optionGroupPayload, 0, len(model.OptionGroups)),
	}
	for _, group := range model.OptionGroups {
		out := optionGroupPayload{
			Code:     group.Code,
			Name:     group.Name,
			Required: group.Required,
			Options:  make([]catalogOptionOutput, 0, len(group.Options)),
		}
		for _, option := range group.Options {
			out.Options = append(out.Options, catalogOptionOutput{
				Code:        option.Code,
				Name:        option.Name,
				Description: option.Description,
				UnitPrice:   option.UnitPrice,
				MaxQuantity: option.MaxQuantity,
				IsAvailable: option.IsAvailable,
			})
		}
		payload.OptionGroups = append(payload.OptionGroups, out)
	}
	return payload
}
