package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxlane/voxlane-platform/internal/access"
	"github.com/voxlane/voxlane-platform/internal/observability/metrics"
	"github.com/voxlane/voxlane-platform/pkg/logging"
)

// answeredCond defines "answered": a voice interaction with nonzero
// duration that did not land in voicemail. Shared by every query so
// the definition cannot drift between levels.
const answeredCond = `channel = 'voice' AND duration_seconds > 0 AND outcome <> 'voicemail'`

// engineDB is the database surface the engine needs.
type engineDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Engine computes the metric bags over interaction records. It is
// request-scoped and stateless between calls: every method is an
// independent read-only computation, safe for any number of
// concurrent callers.
type Engine struct {
	db      engineDB
	metrics *metrics.AnalyticsMetrics
	logger  *logging.Logger
	tracer  trace.Tracer
}

// NewEngine creates an engine on a pgx pool.
func NewEngine(pool *pgxpool.Pool, m *metrics.AnalyticsMetrics, logger *logging.Logger) *Engine {
	if pool == nil {
		panic("analytics: pgx pool required for engine")
	}
	return newEngine(pool, m, logger)
}

// NewEngineWithDB allows injecting a mock database for testing.
func NewEngineWithDB(db engineDB, m *metrics.AnalyticsMetrics, logger *logging.Logger) *Engine {
	return newEngine(db, m, logger)
}

func newEngine(db engineDB, m *metrics.AnalyticsMetrics, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		db:      db,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("voxlane.internal.analytics.engine"),
	}
}

// scalarRow carries the single-pass aggregates of one record slice.
type scalarRow struct {
	total        int64
	answered     int64
	avgDuration  float64
	appointments int64
	stt          int64
	tts          int64
	llm          int64
	telecom      int64
	commission   int64
	revenue      int64
	latencyCount int64
	avgLatLLM    float64
	avgLatTTS    float64
	avgLatTotal  float64
	p95LatTotal  float64
}

// scalarSelect is the aggregate expression list shared by the flat and
// grouped queries. Counts and sums are exact; rates are derived later
// and never rounded inside the engine.
const scalarSelect = `COUNT(*),
	COUNT(*) FILTER (WHERE ` + answeredCond + `),
	COALESCE(AVG(duration_seconds) FILTER (WHERE ` + answeredCond + `), 0),
	COUNT(*) FILTER (WHERE outcome = 'appointment_scheduled'),
	COALESCE(SUM(cost_stt_cents), 0),
	COALESCE(SUM(cost_tts_cents), 0),
	COALESCE(SUM(cost_llm_cents), 0),
	COALESCE(SUM(cost_telecom_cents), 0),
	COALESCE(SUM(cost_commission_cents), 0),
	COALESCE(SUM(revenue_cents), 0),
	COUNT(*) FILTER (WHERE channel = 'voice' AND latency_total_ms > 0),
	COALESCE(AVG(latency_llm_ms) FILTER (WHERE channel = 'voice' AND latency_llm_ms > 0), 0),
	COALESCE(AVG(latency_tts_ms) FILTER (WHERE channel = 'voice' AND latency_tts_ms > 0), 0),
	COALESCE(AVG(latency_total_ms) FILTER (WHERE channel = 'voice' AND latency_total_ms > 0), 0),
	COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY latency_total_ms) FILTER (WHERE channel = 'voice' AND latency_total_ms > 0), 0)`

// Aggregate computes the full metric bag for the records matching the
// filter under the caller's scope. Zero matching records is not an
// error: the result is structurally complete with every metric at zero
// and every enumerated category present.
func (e *Engine) Aggregate(ctx context.Context, f Filter, scope access.Scope) (*AggregateResult, error) {
	ctx, span := e.tracer.Start(ctx, "analytics.aggregate")
	defer span.End()
	started := time.Now()

	result, err := e.aggregateOnce(ctx, f, scope)
	e.observe("aggregate", started, err)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("total_interactions", result.TotalInteractions))
	return result, nil
}

func (e *Engine) aggregateOnce(ctx context.Context, f Filter, scope access.Scope) (*AggregateResult, error) {
	where := buildWhere(f, scope.IsEmpty())

	var s scalarRow
	query := `SELECT ` + scalarSelect + ` FROM interactions ` + where.sql
	if err := e.db.QueryRow(ctx, query, where.args...).Scan(
		&s.total, &s.answered, &s.avgDuration, &s.appointments,
		&s.stt, &s.tts, &s.llm, &s.telecom, &s.commission, &s.revenue,
		&s.latencyCount, &s.avgLatLLM, &s.avgLatTTS, &s.avgLatTotal, &s.p95LatTotal,
	); err != nil {
		return nil, fmt.Errorf("analytics: scalar aggregates: %w", err)
	}

	outcomes, err := e.outcomeDistribution(ctx, where)
	if err != nil {
		return nil, err
	}
	emotions, err := e.emotionDistribution(ctx, where)
	if err != nil {
		return nil, err
	}
	daily, err := e.dailySeries(ctx, where)
	if err != nil {
		return nil, err
	}

	return buildResult(f, s, outcomes, emotions, fillMissingDays(daily, f.Start, f.End)), nil
}

// checkDeployment resolves the deployment's owning tenant and verifies
// it against the scope. A deployment id that matches no row is
// ErrUnknownDeployment; a row owned by a tenant the caller cannot see,
// and not granted directly, is ErrOutOfScope.
func (e *Engine) checkDeployment(ctx context.Context, deploymentID string, scope access.Scope) error {
	var tenantID string
	err := e.db.QueryRow(ctx,
		`SELECT tenant_id FROM deployments WHERE id = $1`, deploymentID,
	).Scan(&tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("analytics: deployment %q: %w", deploymentID, ErrUnknownDeployment)
	}
	if err != nil {
		return fmt.Errorf("analytics: resolve deployment owner: %w", err)
	}
	if !scope.AllowsTenant(tenantID) && !scope.AllowsDeployment(deploymentID) {
		return fmt.Errorf("analytics: deployment %q: %w", deploymentID, ErrOutOfScope)
	}
	return nil
}

func (e *Engine) outcomeDistribution(ctx context.Context, where whereClause) (map[Outcome]int64, error) {
	dist := make(map[Outcome]int64, len(AllOutcomes()))
	for _, o := range AllOutcomes() {
		dist[o] = 0
	}

	query := `SELECT COALESCE(NULLIF(outcome, ''), 'unclassified'), COUNT(*) FROM interactions ` +
		where.sql + ` GROUP BY 1`
	rows, err := e.db.Query(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("analytics: outcome distribution: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("analytics: scan outcome: %w", err)
		}
		key := Outcome(outcome)
		if _, known := dist[key]; !known {
			key = OutcomeUnclassified
		}
		dist[key] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics: iterate outcomes: %w", err)
	}
	return dist, nil
}

func (e *Engine) emotionDistribution(ctx context.Context, where whereClause) (map[Emotion]int64, error) {
	dist := make(map[Emotion]int64, len(AllEmotions()))
	for _, em := range AllEmotions() {
		dist[em] = 0
	}

	// Emotion is enriched on voice interactions only; rows still waiting
	// for enrichment carry an empty emotion and are excluded here rather
	// than miscounted as neutral.
	query := `SELECT emotion, COUNT(*) FROM interactions ` + where.sql +
		` AND channel = 'voice' AND emotion <> '' GROUP BY emotion`
	rows, err := e.db.Query(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("analytics: emotion distribution: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var emotion string
		var count int64
		if err := rows.Scan(&emotion, &count); err != nil {
			return nil, fmt.Errorf("analytics: scan emotion: %w", err)
		}
		if _, known := dist[Emotion(emotion)]; known {
			dist[Emotion(emotion)] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics: iterate emotions: %w", err)
	}
	return dist, nil
}

func (e *Engine) dailySeries(ctx context.Context, where whereClause) ([]DailyBucket, error) {
	query := `SELECT date_trunc('day', started_at) AS day,
		COUNT(*),
		COUNT(*) FILTER (WHERE ` + answeredCond + `),
		COUNT(*) FILTER (WHERE outcome = 'appointment_scheduled')
	FROM interactions ` + where.sql + `
	GROUP BY day
	ORDER BY day`

	rows, err := e.db.Query(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("analytics: daily series: %w", err)
	}
	defer rows.Close()

	var series []DailyBucket
	for rows.Next() {
		var day time.Time
		var b DailyBucket
		if err := rows.Scan(&day, &b.Total, &b.Answered, &b.Appointments); err != nil {
			return nil, fmt.Errorf("analytics: scan daily bucket: %w", err)
		}
		b.Day = day.UTC()
		b.DayLabel = b.Day.Format("2006-01-02")
		series = append(series, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics: iterate daily series: %w", err)
	}
	return series, nil
}

// buildResult derives the rate metrics from exact counts. Division
// guards: rates are 0 (not NaN) on an empty slice, and
// cost_per_appointment divides by max(appointments, 1) with the
// unprofitable flag raised explicitly when appointments are 0 but cost
// is not.
func buildResult(f Filter, s scalarRow, outcomes map[Outcome]int64, emotions map[Emotion]int64, daily []DailyBucket) *AggregateResult {
	r := &AggregateResult{
		PeriodStart:           f.Start.Format(time.RFC3339),
		PeriodEnd:             f.End.Format(time.RFC3339),
		TotalInteractions:     s.total,
		AnsweredCount:         s.answered,
		AppointmentsScheduled: s.appointments,
		CostBreakdown: CostBreakdown{
			SpeechToTextCents:  s.stt,
			TextToSpeechCents:  s.tts,
			LanguageModelCents: s.llm,
			TelecomCents:       s.telecom,
			CommissionCents:    s.commission,
		},
		TotalRevenueCents: s.revenue,
		Outcomes:          outcomes,
		Emotions:          emotions,
		Daily:             daily,
	}

	r.TotalCostCents = r.CostBreakdown.Total()
	r.MarginCents = r.TotalRevenueCents - r.TotalCostCents

	if s.total > 0 {
		r.AnswerRate = float64(s.answered) / float64(s.total)
		r.ConversionRate = float64(s.appointments) / float64(s.total)
	}

	if s.answered > 0 {
		r.AvgDurationSeconds = Known(s.avgDuration)
	} else {
		r.AvgDurationSeconds = NotApplicable()
	}

	appts := s.appointments
	if appts < 1 {
		appts = 1
	}
	r.CostPerAppointmentCents = r.TotalCostCents / appts
	r.UnprofitablePeriod = s.appointments == 0 && r.TotalCostCents > 0

	if s.latencyCount > 0 {
		r.Latency = LatencySummary{
			AvgLanguageModelMs: Known(s.avgLatLLM),
			AvgSynthesisMs:     Known(s.avgLatTTS),
			AvgTotalMs:         Known(s.avgLatTotal),
			P95TotalMs:         Known(s.p95LatTotal),
		}
	} else {
		r.Latency = LatencySummary{
			AvgLanguageModelMs: NotApplicable(),
			AvgSynthesisMs:     NotApplicable(),
			AvgTotalMs:         NotApplicable(),
			P95TotalMs:         NotApplicable(),
		}
	}

	return r
}

// fillMissingDays expands the sparse daily series to cover every UTC
// day touched by [start, end), inserting zero buckets for quiet days.
func fillMissingDays(existing []DailyBucket, start, end time.Time) []DailyBucket {
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	if end.After(endDay) {
		endDay = endDay.AddDate(0, 0, 1)
	}

	lookup := make(map[string]DailyBucket, len(existing))
	for _, b := range existing {
		lookup[b.Day.UTC().Format("2006-01-02")] = b
	}

	out := make([]DailyBucket, 0, int(endDay.Sub(startDay).Hours()/24))
	for day := startDay; day.Before(endDay); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		if found, ok := lookup[key]; ok {
			out = append(out, found)
			continue
		}
		out = append(out, DailyBucket{Day: day, DayLabel: key})
	}
	return out
}

func (e *Engine) observe(operation string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		e.metrics.ObserveStoreError(operation)
	}
	e.metrics.ObserveQuery(operation, status, time.Since(started).Seconds())
}
