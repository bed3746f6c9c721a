package analytics

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxlane/voxlane-platform/internal/access"
	"github.com/voxlane/voxlane-platform/internal/observability/metrics"
	"github.com/voxlane/voxlane-platform/pkg/logging"
)

// ExportResult reports what an export actually wrote.
type ExportResult struct {
	RowsWritten  int  `json:"rows_written"`
	LimitReached bool `json:"limit_reached"`
}

// Exporter streams filtered interaction rows as CSV, capped at a fixed
// row budget. The cap bounds memory and response size; callers learn
// from LimitReached that the filtered set was larger than the file.
type Exporter struct {
	db      engineDB
	maxRows int
	metrics *metrics.AnalyticsMetrics
	logger  *logging.Logger
}

// NewExporter creates an exporter on a pgx pool. maxRows values below
// one fall back to the default cap of 10000.
func NewExporter(pool *pgxpool.Pool, maxRows int, m *metrics.AnalyticsMetrics, logger *logging.Logger) *Exporter {
	if pool == nil {
		panic("analytics: pgx pool required for exporter")
	}
	return NewExporterWithDB(pool, maxRows, m, logger)
}

// NewExporterWithDB allows injecting a mock database for testing.
func NewExporterWithDB(db engineDB, maxRows int, m *metrics.AnalyticsMetrics, logger *logging.Logger) *Exporter {
	if maxRows < 1 {
		maxRows = 10000
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Exporter{db: db, maxRows: maxRows, metrics: m, logger: logger}
}

// ExportRows writes the filtered rows to w as CSV in registry column
// order, stopping at the row cap. The query fetches one row past the
// cap so a full file can still report whether it was truncated.
func (e *Exporter) ExportRows(ctx context.Context, w io.Writer, f Filter, scope access.Scope, sort Sort) (*ExportResult, error) {
	started := time.Now()

	orderBy, err := resolveSort(sort)
	if err != nil {
		return nil, err
	}

	where := buildWhere(f, scope.IsEmpty())
	args := append(append([]any{}, where.args...), e.maxRows+1)
	query := `SELECT ` + rowSelect + ` FROM interactions ` + where.sql +
		` ORDER BY ` + orderBy + `, id ASC` +
		` LIMIT $` + strconv.Itoa(len(where.args)+1)

	rows, err := e.db.Query(ctx, query, args...)
	if err != nil {
		e.observe(started, err)
		return nil, fmt.Errorf("analytics: query export: %w", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	cols := interactionColumns.ordered
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Label
	}
	if err := cw.Write(header); err != nil {
		e.observe(started, err)
		return nil, fmt.Errorf("analytics: write export header: %w", err)
	}

	res := &ExportResult{}
	record := make([]string, len(cols))
	for rows.Next() {
		var r InteractionRow
		if err := rows.Scan(
			&r.ID, &r.TenantID, &r.DeploymentID, &r.Channel, &r.Direction, &r.StartedAt,
			&r.DurationSeconds, &r.Outcome, &r.Emotion, &r.RevenueCents, &r.CostCents,
			&r.LatencyTotalMs, &r.ContactName, &r.Transcript, &r.RecordingURL,
		); err != nil {
			e.observe(started, err)
			return nil, fmt.Errorf("analytics: scan export row: %w", err)
		}
		if res.RowsWritten == e.maxRows {
			res.LimitReached = true
			break
		}
		for i, c := range cols {
			record[i] = csvSafe(c.Format(rowCell(c.Key, r)))
		}
		if err := cw.Write(record); err != nil {
			e.observe(started, err)
			return nil, fmt.Errorf("analytics: write export row: %w", err)
		}
		res.RowsWritten++
	}
	if err := rows.Err(); err != nil {
		e.observe(started, err)
		return nil, fmt.Errorf("analytics: iterate export: %w", err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		e.observe(started, err)
		return nil, fmt.Errorf("analytics: flush export: %w", err)
	}

	e.metrics.ObserveExport(res.RowsWritten, res.LimitReached)
	e.observe(started, nil)
	return res, nil
}

// drillHeader is the fixed column set of a drill-down export.
var drillHeader = []string{
	"Name", "Total", "Answered", "Answer Rate", "Appointments",
	"Conversion Rate", "Revenue", "Cost", "Margin",
}

// ExportDrillDown writes one CSV line per drill-down node with its
// headline metrics. Node counts are bounded by the entity hierarchy,
// so no row cap applies here.
func (e *Exporter) ExportDrillDown(ctx context.Context, w io.Writer, nodes []DrillDownNode) (*ExportResult, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(drillHeader); err != nil {
		return nil, fmt.Errorf("analytics: write drilldown header: %w", err)
	}

	res := &ExportResult{}
	for _, n := range nodes {
		m := n.Metrics
		record := []string{
			csvSafe(n.Name),
			strconv.FormatInt(m.TotalInteractions, 10),
			strconv.FormatInt(m.AnsweredCount, 10),
			fmt.Sprintf("%.3f", m.AnswerRate),
			strconv.FormatInt(m.AppointmentsScheduled, 10),
			fmt.Sprintf("%.3f", m.ConversionRate),
			fmt.Sprintf("%.2f", float64(m.TotalRevenueCents)/100.0),
			fmt.Sprintf("%.2f", float64(m.TotalCostCents)/100.0),
			fmt.Sprintf("%.2f", float64(m.MarginCents)/100.0),
		}
		if err := cw.Write(record); err != nil {
			return nil, fmt.Errorf("analytics: write drilldown row: %w", err)
		}
		res.RowsWritten++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("analytics: flush drilldown export: %w", err)
	}
	return res, nil
}

// csvSafe neutralizes spreadsheet formula injection. Cells whose first
// character would be interpreted as a formula get a leading apostrophe.
func csvSafe(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

// rowCell maps a registry column key to the typed value the kind
// formatter expects.
func rowCell(key string, r InteractionRow) any {
	switch key {
	case "started_at":
		return r.StartedAt
	case "tenant_id":
		return r.TenantID
	case "deployment_id":
		return r.DeploymentID
	case "channel":
		return r.Channel
	case "direction":
		return r.Direction
	case "contact_name":
		return r.ContactName
	case "duration_seconds":
		return r.DurationSeconds
	case "outcome":
		return r.Outcome
	case "emotion":
		return r.Emotion
	case "revenue_cents":
		return r.RevenueCents
	case "cost_cents":
		return r.CostCents
	case "latency_total_ms":
		return r.LatencyTotalMs
	case "transcript":
		return strings.ToValidUTF8(r.Transcript, "")
	case "recording_url":
		return r.RecordingURL
	default:
		return ""
	}
}

func (e *Exporter) observe(started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		e.metrics.ObserveStoreError("export_rows")
	}
	e.metrics.ObserveQuery("export_rows", status, time.Since(started).Seconds())
}
