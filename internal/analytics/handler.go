package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxlane/voxlane-platform/internal/access"
	"github.com/voxlane/voxlane-platform/internal/tenancy"
	"github.com/voxlane/voxlane-platform/pkg/logging"
)

type scopeResolver interface {
	Resolve(ctx context.Context, callerID string) (access.Scope, error)
}

// HandlerConfig carries the request-shaping limits the handler enforces.
type HandlerConfig struct {
	WindowDaysDefault int
	WindowDaysMax     int
	PageSizeDefault   int
	PageSizeMax       int
}

// Handler serves the analytics dashboard, drill-down, table and export
// endpoints. Every request resolves the caller's scope first; the scope
// then rides through every query the request fans out to.
type Handler struct {
	scopes   scopeResolver
	engine   *Engine
	table    *Table
	exporter *Exporter
	gatherer prometheus.Gatherer
	cfg      HandlerConfig
	logger   *logging.Logger
}

func NewHandler(scopes scopeResolver, engine *Engine, table *Table, exporter *Exporter, gatherer prometheus.Gatherer, cfg HandlerConfig, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if cfg.WindowDaysDefault < 1 {
		cfg.WindowDaysDefault = 30
	}
	if cfg.WindowDaysMax < cfg.WindowDaysDefault {
		cfg.WindowDaysMax = 90
	}
	if cfg.PageSizeDefault < 1 {
		cfg.PageSizeDefault = 20
	}
	if cfg.PageSizeMax < cfg.PageSizeDefault {
		cfg.PageSizeMax = 100
	}
	return &Handler{
		scopes:   scopes,
		engine:   engine,
		table:    table,
		exporter: exporter,
		gatherer: gatherer,
		cfg:      cfg,
		logger:   logger,
	}
}

// Routes mounts the analytics endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/dashboard", h.GetDashboard)
	r.Get("/dashboard/tenants", h.GetTenantDrillDown)
	r.Get("/dashboard/tenants/{tenantID}/deployments", h.GetDeploymentDrillDown)
	r.Get("/dashboard/deployments/{deploymentID}/channels", h.GetChannelDrillDown)
	r.Get("/interactions", h.GetInteractions)
	r.Get("/interactions/columns", h.GetColumns)
	r.Get("/interactions/export", h.ExportInteractions)
	r.Get("/admin/tenants", h.ListTenants)
}

// DashboardResponse is the top-level dashboard payload: the current
// window's metric bag, the previous window's, the deltas between them,
// and a snapshot of the engine's own query latency.
type DashboardResponse struct {
	Comparison   *PeriodComparison    `json:"comparison"`
	QueryLatency QueryLatencySnapshot `json:"query_latency"`
}

// GetDashboard returns the aggregate metric bag with period comparison.
// GET /api/v1/dashboard
// Query params:
//   - start, end: RFC3339 timestamps (both or neither)
//   - days: integer window when start/end omitted
//   - tenant_id (repeatable), deployment_id, agent_type, outcome
//     (repeatable), emotion (repeatable), direction, channel, q
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	scope, f, ok := h.resolveRequest(w, r)
	if !ok {
		return
	}

	cmp, err := h.engine.Compare(r.Context(), f, scope)
	if err != nil {
		h.writeError(w, r, err, "compare periods")
		return
	}

	writeJSON(w, http.StatusOK, DashboardResponse{
		Comparison:   cmp,
		QueryLatency: snapshotQueryLatency(h.gatherer),
	})
}

// DrillDownResponse is one level of the tenant -> deployment -> channel
// hierarchy, one node per child entity.
type DrillDownResponse struct {
	Level       DrillLevel      `json:"level"`
	PeriodStart string          `json:"period_start"`
	PeriodEnd   string          `json:"period_end"`
	Nodes       []DrillDownNode `json:"nodes"`
}

// GetTenantDrillDown returns per-tenant metric bags.
// GET /api/v1/dashboard/tenants
func (h *Handler) GetTenantDrillDown(w http.ResponseWriter, r *http.Request) {
	scope, f, ok := h.resolveRequest(w, r)
	if !ok {
		return
	}
	nodes, err := h.engine.AggregateByTenant(r.Context(), f, scope)
	if err != nil {
		h.writeError(w, r, err, "drill down by tenant")
		return
	}
	h.writeDrillDown(w, r, LevelTenant, f, nodes)
}

// GetDeploymentDrillDown returns per-deployment metric bags for one tenant.
// GET /api/v1/dashboard/tenants/{tenantID}/deployments
func (h *Handler) GetDeploymentDrillDown(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(chi.URLParam(r, "tenantID"))
	if tenantID == "" {
		jsonError(w, http.StatusBadRequest, "tenant_id required")
		return
	}
	scope, f, ok := h.resolveRequest(w, r)
	if !ok {
		return
	}
	nodes, err := h.engine.AggregateByDeployment(r.Context(), tenantID, f, scope)
	if err != nil {
		h.writeError(w, r, err, "drill down by deployment")
		return
	}
	h.writeDrillDown(w, r, LevelDeployment, f, nodes)
}

// GetChannelDrillDown returns per-channel metric bags for one deployment.
// GET /api/v1/dashboard/deployments/{deploymentID}/channels
func (h *Handler) GetChannelDrillDown(w http.ResponseWriter, r *http.Request) {
	deploymentID := strings.TrimSpace(chi.URLParam(r, "deploymentID"))
	if deploymentID == "" {
		jsonError(w, http.StatusBadRequest, "deployment_id required")
		return
	}
	scope, f, ok := h.resolveRequest(w, r)
	if !ok {
		return
	}
	nodes, err := h.engine.AggregateByChannel(r.Context(), deploymentID, f, scope)
	if err != nil {
		h.writeError(w, r, err, "drill down by channel")
		return
	}
	h.writeDrillDown(w, r, LevelChannel, f, nodes)
}

// writeDrillDown renders a drill-down level as JSON, or as CSV when the
// request asks for format=csv.
func (h *Handler) writeDrillDown(w http.ResponseWriter, r *http.Request, level DrillLevel, f Filter, nodes []DrillDownNode) {
	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(string(level))))
		if _, err := h.exporter.ExportDrillDown(r.Context(), w, nodes); err != nil {
			h.logger.Error("failed to stream drilldown csv", "level", level, "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, DrillDownResponse{
		Level:       level,
		PeriodStart: f.Start.Format(time.RFC3339),
		PeriodEnd:   f.End.Format(time.RFC3339),
		Nodes:       nodes,
	})
}

// GetInteractions returns one page of the calls table.
// GET /api/v1/interactions
// Extra query params over the dashboard set:
//   - sort: column key (default started_at), order: asc|desc
//   - page (default 1), page_size
func (h *Handler) GetInteractions(w http.ResponseWriter, r *http.Request) {
	scope, f, ok := h.resolveRequest(w, r)
	if !ok {
		return
	}
	sort, page, pageSize, err := h.parseTableParams(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.table.Page(r.Context(), f, scope, sort, page, pageSize)
	if err != nil {
		h.writeError(w, r, err, "page interactions")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ColumnDef is the wire shape of one registry column.
type ColumnDef struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Group    string `json:"group"`
	Sortable bool   `json:"sortable"`
}

// GetColumns returns the table's column registry and group order so the
// frontend never hardcodes either.
// GET /api/v1/interactions/columns
func (h *Handler) GetColumns(w http.ResponseWriter, r *http.Request) {
	cols := Columns()
	defs := make([]ColumnDef, 0, len(cols))
	for _, c := range cols {
		defs = append(defs, ColumnDef{Key: c.Key, Label: c.Label, Group: c.Group, Sortable: c.Sortable})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"columns": defs,
		"groups":  ColumnGroups(),
	})
}

// ExportInteractions streams the filtered rows as a capped CSV file.
// Clients detect truncation by comparing the file's row count against
// the table endpoint's total_count.
// GET /api/v1/interactions/export
func (h *Handler) ExportInteractions(w http.ResponseWriter, r *http.Request) {
	scope, f, ok := h.resolveRequest(w, r)
	if !ok {
		return
	}
	sort, _, _, err := h.parseTableParams(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename("interactions")))

	res, err := h.exporter.ExportRows(r.Context(), w, f, scope, sort)
	if err != nil {
		// Header may already be out; log and stop rather than
		// corrupting the file with a JSON error body.
		h.logger.Error("failed to stream interactions csv", "error", err)
		return
	}
	h.logger.Info("exported interactions csv",
		"rows", res.RowsWritten, "limit_reached", res.LimitReached)
}

// ListTenants returns every tenant's id and name. Operator admins only.
// GET /api/v1/admin/tenants
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.resolveScope(w, r)
	if !ok {
		return
	}
	if !scope.IsAdmin {
		jsonError(w, http.StatusForbidden, "operator admin required")
		return
	}
	children, err := h.engine.tenantChildren(r.Context(), scope)
	if err != nil {
		h.writeError(w, r, err, "list tenants")
		return
	}
	type tenant struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	out := make([]tenant, 0, len(children))
	for _, c := range children {
		out = append(out, tenant{ID: c.ID, Name: c.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": out})
}

// resolveRequest resolves the caller's scope and parses the shared
// window and filter params. On failure it writes the error response and
// returns ok=false.
func (h *Handler) resolveRequest(w http.ResponseWriter, r *http.Request) (access.Scope, Filter, bool) {
	scope, ok := h.resolveScope(w, r)
	if !ok {
		return access.Scope{}, Filter{}, false
	}

	start, end, err := h.parseWindow(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return access.Scope{}, Filter{}, false
	}

	opts, err := filterOptions(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return access.Scope{}, Filter{}, false
	}

	f, err := NewFilter(start, end, scope, opts...)
	if err != nil {
		h.writeError(w, r, err, "build filter")
		return access.Scope{}, Filter{}, false
	}

	// NewFilter checks scope membership of the deployment id; only the
	// store knows whether the id exists at all.
	if f.DeploymentID != "" {
		if err := h.engine.checkDeployment(r.Context(), f.DeploymentID, scope); err != nil {
			h.writeError(w, r, err, "check deployment filter")
			return access.Scope{}, Filter{}, false
		}
	}
	return scope, f, true
}

func (h *Handler) resolveScope(w http.ResponseWriter, r *http.Request) (access.Scope, bool) {
	callerID, ok := tenancy.CallerIDFromContext(r.Context())
	if !ok || callerID == "" {
		jsonError(w, http.StatusUnauthorized, "authentication required")
		return access.Scope{}, false
	}
	scope, err := h.scopes.Resolve(r.Context(), callerID)
	if err != nil {
		h.logger.Error("failed to resolve access scope", "caller_id", callerID, "error", err)
		jsonError(w, http.StatusInternalServerError, "internal server error")
		return access.Scope{}, false
	}
	return scope, true
}

func (h *Handler) parseWindow(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()

	startRaw := strings.TrimSpace(q.Get("start"))
	endRaw := strings.TrimSpace(q.Get("end"))
	if (startRaw == "") != (endRaw == "") {
		return time.Time{}, time.Time{}, fmt.Errorf("both start and end must be provided, or neither")
	}
	if startRaw != "" {
		start, err := time.Parse(time.RFC3339, startRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start time, use RFC3339 format")
		}
		end, err := time.Parse(time.RFC3339, endRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end time, use RFC3339 format")
		}
		if !end.After(start) {
			return time.Time{}, time.Time{}, fmt.Errorf("end must be after start")
		}
		return start.UTC(), end.UTC(), nil
	}

	days := h.cfg.WindowDaysDefault
	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > h.cfg.WindowDaysMax {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid days; must be 1-%d", h.cfg.WindowDaysMax)
		}
		days = parsed
	}

	now := time.Now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -days)
	return start, end, nil
}

// filterOptions translates query params into filter options. Facet
// value validation belongs to NewFilter; this only shapes input.
func filterOptions(r *http.Request) ([]FilterOption, error) {
	q := r.URL.Query()
	var opts []FilterOption

	if ids := splitMulti(q["tenant_id"]); len(ids) > 0 {
		opts = append(opts, WithTenants(ids...))
	}
	if id := strings.TrimSpace(q.Get("deployment_id")); id != "" {
		opts = append(opts, WithDeployment(id))
	}
	if at := strings.TrimSpace(q.Get("agent_type")); at != "" {
		opts = append(opts, WithAgentType(at))
	}
	if raw := splitMulti(q["outcome"]); len(raw) > 0 {
		outcomes := make([]Outcome, 0, len(raw))
		for _, o := range raw {
			outcomes = append(outcomes, Outcome(o))
		}
		opts = append(opts, WithOutcomes(outcomes...))
	}
	if raw := splitMulti(q["emotion"]); len(raw) > 0 {
		emotions := make([]Emotion, 0, len(raw))
		for _, e := range raw {
			emotions = append(emotions, Emotion(e))
		}
		opts = append(opts, WithEmotions(emotions...))
	}
	if d := strings.TrimSpace(q.Get("direction")); d != "" {
		opts = append(opts, WithDirection(Direction(d)))
	}
	if c := strings.TrimSpace(q.Get("channel")); c != "" {
		opts = append(opts, WithChannel(Channel(c)))
	}
	if s := strings.TrimSpace(q.Get("q")); s != "" {
		opts = append(opts, WithSearch(s))
	}
	return opts, nil
}

// splitMulti accepts both repeated params and comma-separated values.
func splitMulti(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (h *Handler) parseTableParams(r *http.Request) (Sort, int, int, error) {
	q := r.URL.Query()

	// Newest first unless the caller picks a column.
	sort := Sort{Column: "started_at", Descending: true}
	if col := strings.TrimSpace(q.Get("sort")); col != "" {
		sort = Sort{Column: col}
	}
	if order := strings.ToLower(strings.TrimSpace(q.Get("order"))); order != "" {
		switch order {
		case "asc":
			sort.Descending = false
		case "desc":
			sort.Descending = true
		default:
			return Sort{}, 0, 0, fmt.Errorf("invalid order; use asc or desc")
		}
	}

	page := 1
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return Sort{}, 0, 0, fmt.Errorf("invalid page")
		}
		page = parsed
	}

	pageSize := h.cfg.PageSizeDefault
	if raw := strings.TrimSpace(q.Get("page_size")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > h.cfg.PageSizeMax {
			return Sort{}, 0, 0, fmt.Errorf("invalid page_size; must be 1-%d", h.cfg.PageSizeMax)
		}
		pageSize = parsed
	}

	return sort, page, pageSize, nil
}

// writeError maps domain sentinels to HTTP statuses. Anything
// unrecognized is an internal error and is logged, not leaked.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, ErrInvalidWindow),
		errors.Is(err, ErrBadFacet),
		errors.Is(err, ErrUnsortableColumn):
		jsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrOutOfScope):
		jsonError(w, http.StatusForbidden, "requested entity is outside your access scope")
	case errors.Is(err, ErrUnknownDeployment):
		jsonError(w, http.StatusNotFound, "deployment not found")
	default:
		h.logger.Error("analytics request failed",
			"action", action, "path", r.URL.Path, "error", err)
		jsonError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func exportFilename(kind string) string {
	return fmt.Sprintf("voxlane_%s_%s.csv", kind, time.Now().UTC().Format("20060102T150405Z"))
}
