package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxlane/voxlane-platform/internal/access"
	"github.com/voxlane/voxlane-platform/internal/observability/metrics"
	"github.com/voxlane/voxlane-platform/pkg/logging"
)

// InteractionRow is one row of the calls table.
type InteractionRow struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	DeploymentID    string    `json:"deployment_id"`
	Channel         string    `json:"channel"`
	Direction       string    `json:"direction"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int64     `json:"duration_seconds"`
	Outcome         string    `json:"outcome"`
	Emotion         string    `json:"emotion"`
	RevenueCents    int64     `json:"revenue_cents"`
	CostCents       int64     `json:"cost_cents"`
	LatencyTotalMs  int64     `json:"latency_total_ms"`
	ContactName     string    `json:"contact_name"`
	Transcript      string    `json:"transcript"`
	RecordingURL    string    `json:"recording_url"`
}

// TablePage is one page of the calls table. TotalCount always reflects
// the full filtered set, not the page.
type TablePage struct {
	Rows       []InteractionRow `json:"rows"`
	TotalCount int64            `json:"total_count"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

// Table serves the paginated, sorted operational review of raw
// interaction records. It shares the Filter/Scope contract with the
// aggregation engine but is otherwise independent of it.
type Table struct {
	db      engineDB
	metrics *metrics.AnalyticsMetrics
	logger  *logging.Logger
}

// NewTable creates a table reader on a pgx pool.
func NewTable(pool *pgxpool.Pool, m *metrics.AnalyticsMetrics, logger *logging.Logger) *Table {
	if pool == nil {
		panic("analytics: pgx pool required for table")
	}
	return NewTableWithDB(pool, m, logger)
}

// NewTableWithDB allows injecting a mock database for testing.
func NewTableWithDB(db engineDB, m *metrics.AnalyticsMetrics, logger *logging.Logger) *Table {
	if logger == nil {
		logger = logging.Default()
	}
	return &Table{db: db, metrics: m, logger: logger}
}

// rowSelect lists the row columns; cost is summed from its components
// at read time so there is no separate total to drift.
const rowSelect = `id, tenant_id, deployment_id, channel, direction, started_at,
	duration_seconds, COALESCE(outcome, ''), COALESCE(emotion, ''), revenue_cents,
	(cost_stt_cents + cost_tts_cents + cost_llm_cents + cost_telecom_cents + cost_commission_cents),
	latency_total_ms, COALESCE(contact_name, ''), COALESCE(transcript, ''), COALESCE(recording_url, '')`

// Page returns one page of interaction rows. The sort must name a
// sortable registry column; offsets past the end return empty rows
// with the correct total count, not an error.
func (t *Table) Page(ctx context.Context, f Filter, scope access.Scope, sort Sort, page, pageSize int) (*TablePage, error) {
	started := time.Now()

	orderBy, err := resolveSort(sort)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	where := buildWhere(f, scope.IsEmpty())

	var total int64
	countQuery := `SELECT COUNT(*) FROM interactions ` + where.sql
	if err := t.db.QueryRow(ctx, countQuery, where.args...).Scan(&total); err != nil {
		t.observe(started, err)
		return nil, fmt.Errorf("analytics: count rows: %w", err)
	}

	// Stable secondary key so page boundaries never duplicate or drop
	// rows when the sort column has ties.
	args := append(append([]any{}, where.args...), pageSize, (page-1)*pageSize)
	query := `SELECT ` + rowSelect + ` FROM interactions ` + where.sql +
		` ORDER BY ` + orderBy + `, id ASC` +
		` LIMIT $` + strconv.Itoa(len(where.args)+1) +
		` OFFSET $` + strconv.Itoa(len(where.args)+2)

	rows, err := t.db.Query(ctx, query, args...)
	if err != nil {
		t.observe(started, err)
		return nil, fmt.Errorf("analytics: query rows: %w", err)
	}
	defer rows.Close()

	out := make([]InteractionRow, 0, pageSize)
	for rows.Next() {
		var r InteractionRow
		if err := rows.Scan(
			&r.ID, &r.TenantID, &r.DeploymentID, &r.Channel, &r.Direction, &r.StartedAt,
			&r.DurationSeconds, &r.Outcome, &r.Emotion, &r.RevenueCents, &r.CostCents,
			&r.LatencyTotalMs, &r.ContactName, &r.Transcript, &r.RecordingURL,
		); err != nil {
			t.observe(started, err)
			return nil, fmt.Errorf("analytics: scan row: %w", err)
		}
		r.StartedAt = r.StartedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		t.observe(started, err)
		return nil, fmt.Errorf("analytics: iterate rows: %w", err)
	}

	t.observe(started, nil)
	return &TablePage{
		Rows:       out,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	}, nil
}

func (t *Table) observe(started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		t.metrics.ObserveStoreError("table_page")
	}
	t.metrics.ObserveQuery("table_page", status, time.Since(started).Seconds())
}
