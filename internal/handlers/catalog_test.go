package handlers

import (
	"net/http"
	"testing"

	domain "github.com/timberhaven/api/internal/domain"
	"github.com/timberhaven/api/internal/services"
)

func catalogModel() services.HomeModel {
	return services.HomeModel{
		ID:         "mdl_cedar",
		Slug:       "cedar-28",
		Name:       "Cedar 28",
		Currency:   "usd",
		BasePrice:  5000000,
		SetupFee:   80000,
		SquareFeet: 310,
		Bedrooms:   1,
		Bathrooms:  1,
		OptionGroups: []services.OptionGroup{
			{
				Code: "interior",
				Name: "Interior",
				Options: []services.CatalogOption{
					{Code: "flooring-upgrade", Name: "Hardwood flooring", UnitPrice: 120000, MaxQuantity: 1, IsAvailable: true},
				},
			},
		},
		IsPublished: true,
	}
}

func TestListModelsParsesFilters(t *testing.T) {
	catalog := &stubCatalogService{
		page: domain.CursorPage[services.HomeModel]{
			Items:         []services.HomeModel{catalogModel()},
			NextPageToken: "tok_2",
		},
	}
	h := NewCatalogHandlers(catalog)

	req := authedRequest(t, http.MethodGet, "/models?bedrooms=1&minSquareFeet=200&sortBy=basePrice&sortOrder=desc&pageSize=10", nil, nil)
	rec := serveRoutes(h.Routes, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if catalog.lastFilter.Bedrooms == nil || *catalog.lastFilter.Bedrooms != 1 {
		t.Fatalf("bedrooms filter = %v", catalog.lastFilter.Bedrooms)
	}
	if catalog.lastFilter.MinSquareFeet == nil || *catalog.lastFilter.MinSquareFeet != 200 {
		t.Fatalf("minSquareFeet filter = %v", catalog.lastFilter.MinSquareFeet)
	}
	if catalog.lastFilter.SortBy != domain.ModelSortBasePrice || catalog.lastFilter.SortOrder != domain.SortDesc {
		t.Fatalf("sort = %v %v", catalog.lastFilter.SortBy, catalog.lastFilter.SortOrder)
	}
	if catalog.lastFilter.IncludeUnpublished {
		t.Fatal("public listing must not include unpublished models")
	}
	if catalog.lastFilter.Pagination.PageSize != 10 {
		t.Fatalf("page size = %d, want 10", catalog.lastFilter.Pagination.PageSize)
	}

	var payload modelListResponse
	decodeResponse(t, rec, &payload)
	if len(payload.Models) != 1 || payload.Models[0].ID != "mdl_cedar" {
		t.Fatalf("models = %+v", payload.Models)
	}
	if payload.Models[0].Currency != "USD" {
		t.Fatalf("currency = %q, want USD", payload.Models[0].Currency)
	}
	if payload.NextPageToken != "tok_2" {
		t.Fatalf("next page token = %q", payload.NextPageToken)
	}
}

func TestListModelsRejectsBadFilters(t *testing.T) {
	h := NewCatalogHandlers(&stubCatalogService{})

	cases := []struct {
		name   string
		target string
	}{
		{name: "non-numeric bedrooms", target: "/models?bedrooms=two"},
		{name: "non-numeric square feet", target: "/models?minSquareFeet=big"},
		{name: "unknown sort", target: "/models?sortBy=price"},
		{name: "unknown sort order", target: "/models?sortOrder=sideways"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serveRoutes(h.Routes, authedRequest(t, http.MethodGet, tc.target, nil, nil))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if code := errorCode(t, rec); code != "invalid_request" {
				t.Fatalf("error code = %q", code)
			}
		})
	}
}

func TestGetModelFallsBackToSlug(t *testing.T) {
	catalog := &stubCatalogService{err: services.ErrCatalogModelNotFound}
	h := NewCatalogHandlers(catalog)

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodGet, "/models/cedar-28", nil, nil))

	if catalog.lastRef != "cedar-28" {
		t.Fatalf("id lookup ref = %q", catalog.lastRef)
	}
	if catalog.lastSlug != "cedar-28" {
		t.Fatalf("slug lookup ref = %q", catalog.lastSlug)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := errorCode(t, rec); code != "model_not_found" {
		t.Fatalf("error code = %q", code)
	}
}

func TestGetModelReturnsDetail(t *testing.T) {
	catalog := &stubCatalogService{model: catalogModel()}
	h := NewCatalogHandlers(catalog)

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodGet, "/models/mdl_cedar", nil, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var payload modelResponse
	decodeResponse(t, rec, &payload)
	if payload.Model.ID != "mdl_cedar" || payload.Model.SetupFee != 80000 {
		t.Fatalf("model = %+v", payload.Model)
	}
	if len(payload.Model.OptionGroups) != 1 || len(payload.Model.OptionGroups[0].Options) != 1 {
		t.Fatalf("option groups = %+v", payload.Model.OptionGroups)
	}
	if payload.Model.OptionGroups[0].Options[0].UnitPrice != 120000 {
		t.Fatalf("unit price = %d", payload.Model.OptionGroups[0].Options[0].UnitPrice)
	}
}

func TestCatalogUnavailableMapsTo503(t *testing.T) {
	h := NewCatalogHandlers(&stubCatalogService{err: services.ErrCatalogUnavailable})

	rec := serveRoutes(h.Routes, authedRequest(t, http.MethodGet, "/models", nil, nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if code := errorCode(t, rec); code != "catalog_unavailable" {
		t.Fatalf("error code = %q", code)
	}
}
