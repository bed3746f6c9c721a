package router

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxlane/voxlane-platform/internal/analytics"
)

func TestRouterHealth(t *testing.T) {
	h := New(&Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if rec.Body.String() == "" {
		t.Fatal("expected health body")
	}
}

func TestRouterHealthDegraded(t *testing.T) {
	h := New(&Config{
		ReadyCheck: func() error { return errors.New("db down") },
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestRouterMetricsMounted(t *testing.T) {
	h := New(&Config{
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestRouterAPIRequiresAuth(t *testing.T) {
	h := New(&Config{
		AuthSecret: "secret",
		Analytics:  analytics.NewHandler(nil, nil, nil, nil, nil, analytics.HandlerConfig{}, nil),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}
