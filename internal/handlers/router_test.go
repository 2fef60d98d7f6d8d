package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRouterServesHealthEndpoints(t *testing.T) {
	r := NewRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, want 200", rec.Code)
	}
}

func TestRouterUnwiredGroupsReturnNotImplemented(t *testing.T) {
	r := NewRouter()

	for _, target := range []string{
		"/api/v1/catalog/models",
		"/api/v1/quotes/delivery",
		"/api/v1/cart",
		"/api/v1/orders",
		"/api/v1/admin/models",
		"/api/v1/webhooks/stripe",
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusNotImplemented {
			t.Fatalf("%s status = %d, want 501", target, rec.Code)
		}
	}
}

func TestRouterMountsRegistrars(t *testing.T) {
	r := NewRouter(
		WithCatalogRoutes(func(group chi.Router) {
			group.Get("/models", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		}),
	)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/catalog/models", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRouterAppliesGroupMiddlewares(t *testing.T) {
	var sawHeader bool
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sawHeader = req.Header.Get("Idempotency-Key") != ""
			next.ServeHTTP(w, req)
		})
	}
	r := NewRouter(
		WithOrderRoutes(func(group chi.Router) {
			group.Post("/", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusCreated)
			})
		}),
		WithOrderMiddlewares(mw),
	)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/", nil)
	req.Header.Set("Idempotency-Key", "key-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if !sawHeader {
		t.Fatal("order middleware did not run")
	}
}

func TestRouterUnknownRouteReturnsJSONError(t *testing.T) {
	r := NewRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := errorCode(t, rec); code != "route_not_found" {
		t.Fatalf("error code = %q", code)
	}
}
