package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/timberhaven/api/internal/domain"
	"github.com/timberhaven/api/internal/platform/auth"
	"github.com/timberhaven/api/internal/platform/httpx"
	"github.com/timberhaven/api/internal/services"
)

const (
	maxAdminBodySize     = 128 * 1024
	defaultAdminPageSize = 50
	maxAdminPageSize     = 200
)

// AdminHandlers exposes staff-only management endpoints for the catalog,
// promotions, and order lifecycle.
type AdminHandlers struct {
	authn      *auth.Authenticator
	catalog    services.CatalogService
	promotions services.PromotionService
	orders     services.OrderService
}

// NewAdminHandlers constructs handlers gated to staff and admin roles.
func NewAdminHandlers(authn *auth.Authenticator, catalog services.CatalogService, promotions services.PromotionService, orders services.OrderService) *AdminHandlers {
	return &AdminHandlers{
		authn:      authn,
		catalog:    catalog,
		promotions: promotions,
		orders:     orders,
	}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
	}

	r.Get("/models", h.listModels)
	r.Post("/models", h.createModel)
	r.Put("/models/{modelID}", h.updateModel)
	r.Delete("/models/{modelID}", h.deleteModel)

	r.Get("/promotions", h.listPromotions)
	r.Post("/promotions", h.createPromotion)
	r.Put("/promotions/{promotionID}", h.updatePromotion)
	r.Delete("/promotions/{promotionID}", h.deletePromotion)
	r.Get("/promotions/{promotionID}/usage", h.listPromotionUsage)

	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}/status", h.updateOrderStatus)
}

func (h *AdminHandlers) requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *AdminHandlers) listModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireIdentity(ctx, w); !ok {
		return
	}

	filter := services.ModelListFilter{
		IncludeUnpublished: true,
		Pagination:         parsePagination(r, defaultAdminPageSize, maxAdminPageSize),
	}
	page, err := h.catalog.ListModels(ctx, filter)
	if err != nil {
		h.writeAdminCatalogError(ctx, w, err)
		return
	}

	models := make([]adminModelPayload, 0, len(page.Items))
	for _, model := range page.Items {
		models = append(models, buildAdminModelPayload(model))
	}
	writeJSONResponse(w, http.StatusOK, adminModelListResponse{
		Models:        models,
		NextPageToken: page.NextPageToken,
	})
}

type adminModelRequest struct {
	Slug        string                   `json:"slug,omitempty"`
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	Currency    string                   `json:"currency,omitempty"`
	BasePrice   int64                    `json:"base_price"`
	SetupFee    int64                    `json:"setup_fee,omitempty"`
	SquareFeet  int                      `json:"square_feet,omitempty"`
	Bedrooms    int                      `json:"bedrooms,omitempty"`
	Bathrooms   int                      `json:"bathrooms,omitempty"`
	WidthFt     float64                  `json:"width_ft,omitempty"`
	LengthFt    float64                  `json:"length_ft,omitempty"`
	Photos      []string                 `json:"photos,omitempty"`
	Groups      []adminModelGroupPayload `json:"option_groups,omitempty"`
	Popularity  int                      `json:"popularity,omitempty"`
	IsPublished bool                     `json:"is_published,omitempty"`
}

type adminModelGroupPayload struct {
	Code     string                    `json:"code"`
	Name     string                    `json:"name"`
	Required bool                      `json:"required,omitempty"`
	Options  []adminModelOptionPayload `json:"options"`
}

type adminModelOptionPayload struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	UnitPrice   int64  `json:"unit_price"`
	MaxQuantity int    `json:"max_quantity,omitempty"`
	IsAvailable bool   `json:"is_available"`
}

func (req adminModelRequest) toDomain(id string) domain.HomeModel {
	model := domain.HomeModel{
		ID:          id,
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		Currency:    req.Currency,
		BasePrice:   req.BasePrice,
		SetupFee:    req.SetupFee,
		SquareFeet:  req.SquareFeet,
		Bedrooms:    req.Bedrooms,
		Bathrooms:   req.Bathrooms,
		WidthFt:     req.WidthFt,
		LengthFt:    req.LengthFt,
		Photos:      req.Photos,
		Popularity:  req.Popularity,
		IsPublished: req.IsPublished,
	}
	for _, group := range req.Groups {
		out := domain.OptionGroup{
			Code:     group.Code,
			Name:     group.Name,
			Required: group.Required,
		}
		for _, option := range group.Options {
			out.Options = append(out.Options, domain.CatalogOption{
				Code:        option.Code,
				Name:        option.Name,
				Description: option.Description,
				UnitPrice:   option.UnitPrice,
				MaxQuantity: option.MaxQuantity,
				IsAvailable: option.IsAvailable,
			})
		}
		model.OptionGroups = append(model.OptionGroups, out)
	}
	return model
}

func (h *AdminHandlers) createModel(w http.ResponseWriter, r *http.Request) {
	h.upsertModel(w, r, "")
}

func (h *AdminHandlers) updateModel(w http.ResponseWriter, r *http.Request) {
	modelID := strings.TrimSpace(chi.URLParam(r, "modelID"))
	if modelID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "model id is required", http.StatusBadRequest))
		return
	}
	h.upsertModel(w, r, modelID)
}

func (h *AdminHandlers) upsertModel(w http.ResponseWriter, r *http.Request, modelID string) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req adminModelRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	model, err := h.catalog.UpsertModel(ctx, services.UpsertModelCommand{
		Model:   req.toDomain(modelID),
		ActorID: identity.UID,
	})
	if err != nil {
		h.writeAdminCatalogError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if modelID == "" {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, adminModelResponse{Model: buildAdminModelPayload(model)})
}

func (h *AdminHandlers) deleteModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireIdentity(ctx, w); !ok {
		return
	}

	if err := h.catalog.DeleteModel(ctx, chi.URLParam(r, "modelID")); err != nil {
		h.writeAdminCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) writeAdminCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogModelNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("model_not_found", "home model not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to update catalog", http.StatusInternalServerError))
	}
}

func (h *AdminHandlers) listPromotions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotions_unavailable", "promotion service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireIdentity(ctx, w); !ok {
		return
	}

	page, err := h.promotions.ListPromotions(ctx, services.PromotionListFilter{
		Status:     strings.TrimSpace(r.URL.Query().Get("status")),
		Pagination: parsePagination(r, defaultAdminPageSize, maxAdminPageSize),
	})
	if err != nil {
		h.writeAdminPromotionError(ctx, w, err)
		return
	}

	promotions := make([]adminPromotionPayload, 0, len(page.Items))
	for _, promotion := range page.Items {
		promotions = append(promotions, buildAdminPromotionPayload(promotion))
	}
	writeJSONResponse(w, http.StatusOK, adminPromotionListResponse{
		Promotions:    promotions,
		NextPageToken: page.NextPageToken,
	})
}

type adminPromotionRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	AmountOff   int64  `json:"amount_off"`
	StartsAt    string `json:"starts_at,omitempty"`
	EndsAt      string `json:"ends_at,omitempty"`
	UsageLimit  *int   `json:"usage_limit,omitempty"`
}

func (req adminPromotionRequest) toDomain(id string) (domain.Promotion, error) {
	promotion := domain.Promotion{
		ID:          id,
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Status:      req.Status,
		AmountOff:   req.AmountOff,
		UsageLimit:  req.UsageLimit,
	}
	if raw := strings.TrimSpace(req.StartsAt); raw != "" {
		at, err := parseRFC3339(raw)
		if err != nil {
			return domain.Promotion{}, errors.New("starts_at must be an RFC3339 timestamp")
		}
		promotion.StartsAt = at
	}
	if raw := strings.TrimSpace(req.EndsAt); raw != "" {
		at, err := parseRFC3339(raw)
		if err != nil {
			return domain.Promotion{}, errors.New("ends_at must be an RFC3339 timestamp")
		}
		promotion.EndsAt = at
	}
	return promotion, nil
}

func (h *AdminHandlers) createPromotion(w http.ResponseWriter, r *http.Request) {
	h.upsertPromotion(w, r, "")
}

func (h *AdminHandlers) updatePromotion(w http.ResponseWriter, r *http.Request) {
	promotionID := strings.TrimSpace(chi.URLParam(r, "promotionID"))
	if promotionID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "promotion id is required", http.StatusBadRequest))
		return
	}
	h.upsertPromotion(w, r, promotionID)
}

func (h *AdminHandlers) upsertPromotion(w http.ResponseWriter, r *http.Request, promotionID string) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotions_unavailable", "promotion service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req adminPromotionRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	model, err := req.toDomain(promotionID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.UpsertPromotionCommand{
		Promotion: model,
		ActorID:   identity.UID,
	}
	var promotion services.Promotion
	if promotionID == "" {
		promotion, err = h.promotions.CreatePromotion(ctx, cmd)
	} else {
		promotion, err = h.promotions.UpdatePromotion(ctx, cmd)
	}
	if err != nil {
		h.writeAdminPromotionError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if promotionID == "" {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, adminPromotionResponse{Promotion: buildAdminPromotionPayload(promotion)})
}

func (h *AdminHandlers) deletePromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotions_unavailable", "promotion service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireIdentity(ctx, w); !ok {
		return
	}

	if err := h.promotions.DeletePromotion(ctx, chi.URLParam(r, "promotionID")); err != nil {
		h.writeAdminPromotionError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) listPromotionUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotions_unavailable", "promotion service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireIdentity(ctx, w); !ok {
		return
	}

	page, err := h.promotions.ListPromotionUsage(ctx, services.PromotionUsageFilter{
		PromotionID: chi.URLParam(r, "promotionID"),
		Pagination:  parsePagination(r, defaultAdminPageSize, maxAdminPageSize),
	})
	if err != nil {
		h.writeAdminPromotionError(ctx, w, err)
		return
	}

	usage := make([]promotionUsagePayload, 0, len(page.Items))
	for _, record := range page.Items {
		usage = append(usage, promotionUsagePayload{
			PromotionID: record.PromotionID,
			UserID:      record.UserID,
			Count:       record.Count,
			FirstUsedAt: formatTime(record.FirstUsedAt),
			LastUsedAt:  formatTime(record.LastUsedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, promotionUsageListResponse{
		Usage:         usage,
		NextPageToken: page.NextPageToken,
	})
}

func (h *AdminHandlers) writeAdminPromotionError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPromotionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPromotionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_not_found", "promotion not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPromotionConflict):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPromotionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("promotions_unavailable", "promotion service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("promotion_error", "failed to update promotion", http.StatusInternalServerError))
	}
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireIdentity(ctx, w); !ok {
		return
	}

	filter := services.OrderListFilter{
		UserID:     strings.TrimSpace(r.URL.Query().Get("userId")),
		Pagination: parsePagination(r, defaultAdminPageSize, maxAdminPageSize),
	}
	for _, raw := range r.URL.Query()["status"] {
		status, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status "+raw, http.StatusBadRequest))
			return
		}
		filter.Status = append(filter.Status, status)
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		h.writeAdminOrderError(ctx, w, err)
		return
	}

	orders := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		orders = append(orders, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:        orders,
		NextPageToken: page.NextPageToken,
	})
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireIdentity(ctx, w); !ok {
		return
	}

	// Blank UserID skips the ownership check for staff lookups.
	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
	})
	if err != nil {
		h.writeAdminOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (h *AdminHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req updateOrderStatusRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	status, valid := parseOrderStatus(req.Status)
	if !valid {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status "+req.Status, http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Status:  status,
		ActorID: identity.UID,
		Reason:  req.Reason,
	})
	if err != nil {
		h.writeAdminOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) writeAdminOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order", http.StatusInternalServerError))
	}
}

type adminModelListResponse struct {
	Models        []adminModelPayload `json:"models"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

type adminModelResponse struct {
	Model adminModelPayload `json:"model"`
}

// adminModelPayload includes lifecycle fields the public catalog view hides.
type adminModelPayload struct {
	modelPayload
	Popularity  int    `json:"popularity"`
	IsPublished bool   `json:"is_published"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

func buildAdminModelPayload(model services.HomeModel) adminModelPayload {
	return adminModelPayload{
		modelPayload: buildModelPayload(model),
		Popularity:   model.Popularity,
		IsPublished:  model.IsPublished,
		CreatedAt:    formatTime(model.CreatedAt),
		UpdatedAt:    formatTime(model.UpdatedAt),
	}
}

type adminPromotionListResponse struct {
	Promotions    []adminPromotionPayload `json:"promotions"`
	NextPageToken string                  `json:"next_page_token,omitempty"`
}

type adminPromotionResponse struct {
	Promotion adminPromotionPayload `json:"promotion"`
}

type adminPromotionPayload struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	AmountOff   int64  `json:"amount_off"`
	StartsAt    string `json:"starts_at,omitempty"`
	EndsAt      string `json:"ends_at,omitempty"`
	UsageLimit  *int   `json:"usage_limit,omitempty"`
}

func buildAdminPromotionPayload(promotion services.Promotion) adminPromotionPayload {
	return adminPromotionPayload{
		ID:          promotion.ID,
		Code:        promotion.Code,
		Name:        promotion.Name,
		Description: promotion.Description,
		Status:      promotion.Status,
		AmountOff:   promotion.AmountOff,
		StartsAt:    formatTime(promotion.StartsAt),
		EndsAt:      formatTime(promotion.EndsAt),
		UsageLimit:  promotion.UsageLimit,
	}
}

type promotionUsageListResponse struct {
	Usage         []promotionUsagePayload `json:"usage"`
	NextPageToken string                  `json:"next_page_token,omitempty"`
}

type promotionUsagePayload struct {
	PromotionID string `json:"promotion_id"`
	UserID      string `json:"user_id"`
	Count       int    `json:"count"`
	FirstUsedAt string `json:"first_used_at,omitempty"`
	LastUsedAt  string `json:"last_used_at,omitempty"`
}
