package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxlane/voxlane-platform/internal/access"
	"github.com/voxlane/voxlane-platform/internal/tenancy"
)

type stubScopes struct {
	scope access.Scope
	err   error
}

func (s stubScopes) Resolve(ctx context.Context, callerID string) (access.Scope, error) {
	return s.scope, s.err
}

func newTestRouter(t *testing.T, scope access.Scope) (pgxmock.PgxPoolIface, *chi.Mux) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)

	engine := NewEngineWithDB(mock, nil, nil)
	table := NewTableWithDB(mock, nil, nil)
	exporter := NewExporterWithDB(mock, 10000, nil, nil)
	h := NewHandler(stubScopes{scope: scope}, engine, table, exporter,
		prometheus.NewRegistry(), HandlerConfig{}, nil)

	r := chi.NewRouter()
	h.Routes(r)
	return mock, r
}

func authedRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(tenancy.WithCallerID(req.Context(), "caller-1"))
}

func TestHandler_Unauthenticated(t *testing.T) {
	_, router := newTestRouter(t, access.AdminScope())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHandler_Dashboard(t *testing.T) {
	mock, router := newTestRouter(t, access.NewScope([]string{"acme"}, []string{"d1"}, false))

	// The handler derives the window from the clock, so the time args
	// are wildcards; both windows carry start, end and the tenant set.
	expectAggregateQueries(mock, anyArgs(3), acmeScalars(), nil, nil, nil)
	expectAggregateQueries(mock, anyArgs(3), acmeScalars(), nil, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/dashboard?days=7"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp DashboardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Comparison == nil || resp.Comparison.Current == nil {
		t.Fatal("missing comparison payload")
	}
	if resp.Comparison.Current.TotalInteractions != 3 {
		t.Errorf("current total = %d, want 3", resp.Comparison.Current.TotalInteractions)
	}
	// Identical windows: every defined delta is exactly zero.
	if resp.Comparison.Deltas.TotalInteractions == nil || *resp.Comparison.Deltas.TotalInteractions != 0 {
		t.Errorf("total delta = %v, want 0", resp.Comparison.Deltas.TotalInteractions)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHandler_Dashboard_WindowValidation(t *testing.T) {
	_, router := newTestRouter(t, access.AdminScope())

	cases := []struct {
		name  string
		query string
	}{
		{"start without end", "?start=2026-08-01T00:00:00Z"},
		{"malformed start", "?start=yesterday&end=2026-08-08T00:00:00Z"},
		{"inverted range", "?start=2026-08-08T00:00:00Z&end=2026-08-01T00:00:00Z"},
		{"days too large", "?days=365"},
		{"days zero", "?days=0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, authedRequest(http.MethodGet, "/dashboard"+tc.query))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandler_Dashboard_BadFacet(t *testing.T) {
	_, router := newTestRouter(t, access.AdminScope())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/dashboard?outcome=exploded"))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_Dashboard_OutOfScopeTenant(t *testing.T) {
	_, router := newTestRouter(t, access.NewScope([]string{"acme"}, nil, false))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/dashboard?tenant_id=rival"))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestHandler_Dashboard_UnknownDeploymentFilter(t *testing.T) {
	mock, router := newTestRouter(t, access.AdminScope())

	// The id clears scope membership (admin sees everything) but
	// matches no deployment row, so the store check must reject it
	// instead of aggregating an empty slice.
	mock.ExpectQuery(`SELECT tenant_id FROM deployments WHERE id = \$1`).
		WithArgs("no-such-deployment").
		WillReturnError(pgx.ErrNoRows)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/dashboard?deployment_id=no-such-deployment"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHandler_DeploymentDrillDown_OutOfScope(t *testing.T) {
	_, router := newTestRouter(t, access.NewScope([]string{"acme"}, nil, false))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/dashboard/tenants/rival/deployments"))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestHandler_Interactions_BadParams(t *testing.T) {
	_, router := newTestRouter(t, access.AdminScope())

	cases := []struct {
		name  string
		query string
	}{
		{"unknown sort", "?sort=favorite_color"},
		{"unsortable sort", "?sort=transcript"},
		{"bad order", "?order=upwards"},
		{"bad page", "?page=-1"},
		{"page size too large", "?page_size=5000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, authedRequest(http.MethodGet, "/interactions"+tc.query))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandler_Columns(t *testing.T) {
	_, router := newTestRouter(t, access.AdminScope())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/interactions/columns"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Columns []ColumnDef `json:"columns"`
		Groups  []string    `json:"groups"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Columns) != 14 {
		t.Errorf("got %d columns, want 14", len(resp.Columns))
	}
	if len(resp.Groups) != 4 {
		t.Errorf("got %d groups, want 4", len(resp.Groups))
	}
}

func TestHandler_Export(t *testing.T) {
	mock, router := newTestRouter(t, access.NewScope([]string{"acme"}, nil, false))

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`LIMIT`).
		WithArgs(append(anyArgs(3), 10001)...).
		WillReturnRows(pgxmock.NewRows(rowCols).
			AddRow(sampleRow("i1", start.Add(time.Hour))...))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet,
		"/interactions/export?start=2026-08-01T00:00:00Z&end=2026-08-08T00:00:00Z"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q, want attachment", cd)
	}
	if !strings.Contains(rec.Body.String(), "Started At") {
		t.Error("csv body missing header row")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHandler_AdminTenants_Forbidden(t *testing.T) {
	_, router := newTestRouter(t, access.NewScope([]string{"acme"}, nil, false))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/admin/tenants"))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestHandler_AdminTenants(t *testing.T) {
	mock, router := newTestRouter(t, access.AdminScope())

	mock.ExpectQuery(`SELECT id, name FROM tenants ORDER BY name ASC`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).
			AddRow("acme", "Acme Dental"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/admin/tenants"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Acme Dental") {
		t.Errorf("body = %s", rec.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
