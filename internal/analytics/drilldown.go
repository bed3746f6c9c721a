package analytics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/voxlane/voxlane-platform/internal/access"
)

// childEntity is one row of the hierarchy's entity listing.
type childEntity struct {
	ID   string
	Name string
}

// groupSlice is the per-child raw aggregation state before it becomes
// a DrillDownNode.
type groupSlice struct {
	scalars  scalarRow
	outcomes map[Outcome]int64
	emotions map[Emotion]int64
	daily    []DailyBucket
}

// AggregateByTenant returns one node per tenant visible to the caller,
// with the full metric bag computed over only that tenant's records.
// Tenants with no activity in the window still appear, zero-filled, so
// the child list always matches the entity list.
func (e *Engine) AggregateByTenant(ctx context.Context, f Filter, scope access.Scope) ([]DrillDownNode, error) {
	ctx, span := e.tracer.Start(ctx, "analytics.drilldown.tenant")
	defer span.End()
	started := time.Now()

	children, err := e.tenantChildren(ctx, scope)
	if err != nil {
		e.observe("drilldown_tenant", started, err)
		return nil, err
	}

	nodes, err := e.drillDown(ctx, LevelTenant, "tenant_id", f, scope, children)
	e.observe("drilldown_tenant", started, err)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("children", len(nodes)))
	return nodes, nil
}

// AggregateByDeployment returns one node per deployment of the tenant.
func (e *Engine) AggregateByDeployment(ctx context.Context, tenantID string, f Filter, scope access.Scope) ([]DrillDownNode, error) {
	ctx, span := e.tracer.Start(ctx, "analytics.drilldown.deployment")
	defer span.End()
	started := time.Now()

	if !scope.AllowsTenant(tenantID) {
		return nil, fmt.Errorf("analytics: tenant %q: %w", tenantID, ErrOutOfScope)
	}

	children, err := e.deploymentChildren(ctx, tenantID)
	if err != nil {
		e.observe("drilldown_deployment", started, err)
		return nil, err
	}

	narrowed := f
	narrowed.TenantIDs = []string{tenantID}

	nodes, err := e.drillDown(ctx, LevelDeployment, "deployment_id", narrowed, scope, children)
	e.observe("drilldown_deployment", started, err)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("children", len(nodes)))
	return nodes, nil
}

// AggregateByChannel returns one node per channel (voice, sms, email)
// of the deployment. All three channels are always present.
func (e *Engine) AggregateByChannel(ctx context.Context, deploymentID string, f Filter, scope access.Scope) ([]DrillDownNode, error) {
	ctx, span := e.tracer.Start(ctx, "analytics.drilldown.channel")
	defer span.End()
	started := time.Now()

	if !scope.AllowsDeployment(deploymentID) {
		return nil, fmt.Errorf("analytics: deployment %q: %w", deploymentID, ErrOutOfScope)
	}
	if err := e.checkDeployment(ctx, deploymentID, scope); err != nil {
		return nil, err
	}

	children := []childEntity{
		{ID: string(ChannelVoice), Name: "Voice"},
		{ID: string(ChannelSMS), Name: "SMS"},
		{ID: string(ChannelEmail), Name: "Email"},
	}

	narrowed := f
	narrowed.DeploymentID = deploymentID

	nodes, err := e.drillDown(ctx, LevelChannel, "channel", narrowed, scope, children)
	e.observe("drilldown_channel", started, err)
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// drillDown runs the grouped aggregation queries for one hierarchy
// level, a fixed number of queries regardless of how many children
// exist, and assembles one node per child. Money stays in integer
// cents through the grouping, so sibling nodes sum exactly to the
// parent's totals for the same filter.
func (e *Engine) drillDown(ctx context.Context, level DrillLevel, groupCol string, f Filter, scope access.Scope, children []childEntity) ([]DrillDownNode, error) {
	where := buildWhere(f, scope.IsEmpty())

	slices, err := e.groupedScalars(ctx, groupCol, where)
	if err != nil {
		return nil, err
	}
	if err := e.groupedOutcomes(ctx, groupCol, where, slices); err != nil {
		return nil, err
	}
	if err := e.groupedEmotions(ctx, groupCol, where, slices); err != nil {
		return nil, err
	}
	if err := e.groupedDaily(ctx, groupCol, where, slices); err != nil {
		return nil, err
	}

	nodes := make([]DrillDownNode, 0, len(children))
	for _, child := range children {
		slice, ok := slices[child.ID]
		if !ok {
			slice = &groupSlice{}
		}
		nodes = append(nodes, DrillDownNode{
			Level: level,
			ID:    child.ID,
			Name:  child.Name,
			Metrics: buildResult(f, slice.scalars,
				completeOutcomes(slice.outcomes),
				completeEmotions(slice.emotions),
				fillMissingDays(slice.daily, f.Start, f.End)),
		})
	}
	return nodes, nil
}

func (e *Engine) groupedScalars(ctx context.Context, groupCol string, where whereClause) (map[string]*groupSlice, error) {
	query := `SELECT ` + groupCol + `, ` + scalarSelect + ` FROM interactions ` + where.sql +
		` GROUP BY ` + groupCol
	rows, err := e.db.Query(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("analytics: grouped scalars by %s: %w", groupCol, err)
	}
	defer rows.Close()

	slices := map[string]*groupSlice{}
	for rows.Next() {
		var key string
		var s scalarRow
		if err := rows.Scan(
			&key, &s.total, &s.answered, &s.avgDuration, &s.appointments,
			&s.stt, &s.tts, &s.llm, &s.telecom, &s.commission, &s.revenue,
			&s.latencyCount, &s.avgLatLLM, &s.avgLatTTS, &s.avgLatTotal, &s.p95LatTotal,
		); err != nil {
			return nil, fmt.Errorf("analytics: scan grouped scalars: %w", err)
		}
		slices[key] = &groupSlice{scalars: s}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics: iterate grouped scalars: %w", err)
	}
	return slices, nil
}

func (e *Engine) groupedOutcomes(ctx context.Context, groupCol string, where whereClause, slices map[string]*groupSlice) error {
	query := `SELECT ` + groupCol + `, COALESCE(NULLIF(outcome, ''), 'unclassified'), COUNT(*)
	FROM interactions ` + where.sql + ` GROUP BY 1, 2`
	rows, err := e.db.Query(ctx, query, where.args...)
	if err != nil {
		return fmt.Errorf("analytics: grouped outcomes by %s: %w", groupCol, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, outcome string
		var count int64
		if err := rows.Scan(&key, &outcome, &count); err != nil {
			return fmt.Errorf("analytics: scan grouped outcome: %w", err)
		}
		slice, ok := slices[key]
		if !ok {
			continue
		}
		if slice.outcomes == nil {
			slice.outcomes = map[Outcome]int64{}
		}
		o := Outcome(outcome)
		if !validOutcome(o) {
			o = OutcomeUnclassified
		}
		slice.outcomes[o] += count
	}
	return rows.Err()
}

func (e *Engine) groupedEmotions(ctx context.Context, groupCol string, where whereClause, slices map[string]*groupSlice) error {
	query := `SELECT ` + groupCol + `, emotion, COUNT(*)
	FROM interactions ` + where.sql + ` AND channel = 'voice' AND emotion <> '' GROUP BY 1, 2`
	rows, err := e.db.Query(ctx, query, where.args...)
	if err != nil {
		return fmt.Errorf("analytics: grouped emotions by %s: %w", groupCol, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, emotion string
		var count int64
		if err := rows.Scan(&key, &emotion, &count); err != nil {
			return fmt.Errorf("analytics: scan grouped emotion: %w", err)
		}
		slice, ok := slices[key]
		if !ok || !validEmotion(Emotion(emotion)) {
			continue
		}
		if slice.emotions == nil {
			slice.emotions = map[Emotion]int64{}
		}
		slice.emotions[Emotion(emotion)] += count
	}
	return rows.Err()
}

func (e *Engine) groupedDaily(ctx context.Context, groupCol string, where whereClause, slices map[string]*groupSlice) error {
	query := `SELECT ` + groupCol + `, date_trunc('day', started_at) AS day,
		COUNT(*),
		COUNT(*) FILTER (WHERE ` + answeredCond + `),
		COUNT(*) FILTER (WHERE outcome = 'appointment_scheduled')
	FROM interactions ` + where.sql + `
	GROUP BY 1, day
	ORDER BY 1, day`
	rows, err := e.db.Query(ctx, query, where.args...)
	if err != nil {
		return fmt.Errorf("analytics: grouped daily by %s: %w", groupCol, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var day time.Time
		var b DailyBucket
		if err := rows.Scan(&key, &day, &b.Total, &b.Answered, &b.Appointments); err != nil {
			return fmt.Errorf("analytics: scan grouped daily: %w", err)
		}
		slice, ok := slices[key]
		if !ok {
			continue
		}
		b.Day = day.UTC()
		b.DayLabel = b.Day.Format("2006-01-02")
		slice.daily = append(slice.daily, b)
	}
	return rows.Err()
}

// tenantChildren lists the tenants the caller may see, by name.
func (e *Engine) tenantChildren(ctx context.Context, scope access.Scope) ([]childEntity, error) {
	if scope.IsEmpty() {
		return nil, nil
	}

	query := `SELECT id, name FROM tenants ORDER BY name ASC`
	args := []any{}
	if !scope.IsAdmin {
		query = `SELECT id, name FROM tenants WHERE id = ANY($1) ORDER BY name ASC`
		args = append(args, scope.TenantList())
	}

	rows, err := e.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("analytics: list tenants: %w", err)
	}
	defer rows.Close()

	var children []childEntity
	for rows.Next() {
		var c childEntity
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("analytics: scan tenant: %w", err)
		}
		children = append(children, c)
	}
	return children, rows.Err()
}

func (e *Engine) deploymentChildren(ctx context.Context, tenantID string) ([]childEntity, error) {
	rows, err := e.db.Query(ctx,
		`SELECT id, name FROM deployments WHERE tenant_id = $1 ORDER BY name ASC`, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("analytics: list deployments: %w", err)
	}
	defer rows.Close()

	var children []childEntity
	for rows.Next() {
		var c childEntity
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("analytics: scan deployment: %w", err)
		}
		children = append(children, c)
	}
	return children, rows.Err()
}

func completeOutcomes(partial map[Outcome]int64) map[Outcome]int64 {
	dist := make(map[Outcome]int64, len(AllOutcomes()))
	for _, o := range AllOutcomes() {
		dist[o] = partial[o]
	}
	return dist
}

func completeEmotions(partial map[Emotion]int64) map[Emotion]int64 {
	dist := make(map[Emotion]int64, len(AllEmotions()))
	for _, em := range AllEmotions() {
		dist[em] = partial[em]
	}
	return dist
}
