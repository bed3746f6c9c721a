package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/voxlane/voxlane-platform/internal/access"
)

// expectGroupedQueries queues the four grouped queries one drill-down
// level issues, keyed on groupCol. All four carry the same filter args.
func expectGroupedQueries(mock pgxmock.PgxPoolIface, groupCol string, args []any, scalars [][]any, outcomes [][]any, daily [][]any) {
	scalarRows := pgxmock.NewRows(append([]string{"key"}, scalarCols...))
	for _, r := range scalars {
		scalarRows.AddRow(r...)
	}
	mock.ExpectQuery(`SELECT `+groupCol+`, COUNT\(\*\),`).WithArgs(args...).WillReturnRows(scalarRows)

	outcomeRows := pgxmock.NewRows([]string{"key", "outcome", "count"})
	for _, r := range outcomes {
		outcomeRows.AddRow(r...)
	}
	mock.ExpectQuery(`SELECT `+groupCol+`, COALESCE\(NULLIF`).WithArgs(args...).WillReturnRows(outcomeRows)

	mock.ExpectQuery(`SELECT `+groupCol+`, emotion,`).WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"key", "emotion", "count"}))

	dailyRows := pgxmock.NewRows([]string{"key", "day", "total", "answered", "appointments"})
	for _, r := range daily {
		dailyRows.AddRow(r...)
	}
	mock.ExpectQuery(`SELECT `+groupCol+`, date_trunc`).WithArgs(args...).WillReturnRows(dailyRows)
}

func TestEngine_AggregateByTenant_Reconciles(t *testing.T) {
	mock, engine := newMockEngine(t)
	scope := access.NewScope([]string{"acme", "beta"}, nil, false)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f := mustFilter(t, start, start.AddDate(0, 0, 7), scope)

	// The tenant set comes off a map, so its order is not fixed.
	mock.ExpectQuery(`SELECT id, name FROM tenants WHERE id = ANY\(\$1\)`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).
			AddRow("acme", "Acme Dental").
			AddRow("beta", "Beta Logistics"))

	day := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	expectGroupedQueries(mock, "tenant_id", windowArgs(f),
		[][]any{{
			"acme",
			int64(3), int64(2), 93.5, int64(1),
			int64(30), int64(45), int64(60), int64(15), int64(0), int64(5000),
			int64(2), 410.0, 95.0, 820.0, 1150.0,
		}},
		[][]any{
			{"acme", "appointment_scheduled", int64(1)},
			{"acme", "voicemail", int64(1)},
			{"acme", "not_interested", int64(1)},
		},
		[][]any{{"acme", day, int64(3), int64(2), int64(1)}},
	)

	nodes, err := engine.AggregateByTenant(context.Background(), f, scope)
	if err != nil {
		t.Fatalf("AggregateByTenant failed: %v", err)
	}

	if len(nodes) != 2 {
		t.Fatalf("got %d nodes, want one per visible tenant", len(nodes))
	}
	if nodes[0].ID != "acme" || nodes[0].Name != "Acme Dental" {
		t.Errorf("nodes[0] = %s/%s, want acme ordered by name", nodes[0].ID, nodes[0].Name)
	}
	if nodes[0].Level != LevelTenant {
		t.Errorf("Level = %q, want tenant", nodes[0].Level)
	}

	// Quiet tenant still appears, fully zero-filled.
	beta := nodes[1]
	if beta.ID != "beta" {
		t.Fatalf("nodes[1].ID = %q, want beta", beta.ID)
	}
	if beta.Metrics.TotalInteractions != 0 || beta.Metrics.TotalCostCents != 0 {
		t.Errorf("quiet tenant metrics = %+v, want zeros", beta.Metrics)
	}
	if len(beta.Metrics.Outcomes) != len(AllOutcomes()) {
		t.Error("quiet tenant must still carry the full outcome enum")
	}
	if len(beta.Metrics.Daily) != 7 {
		t.Errorf("quiet tenant Daily has %d buckets, want 7", len(beta.Metrics.Daily))
	}

	// Sibling nodes reconcile exactly against the window totals.
	var revenue, cost, margin, total int64
	for _, n := range nodes {
		revenue += n.Metrics.TotalRevenueCents
		cost += n.Metrics.TotalCostCents
		margin += n.Metrics.MarginCents
		total += n.Metrics.TotalInteractions
	}
	if revenue != 5000 || cost != 150 || margin != 4850 || total != 3 {
		t.Errorf("sibling sums revenue=%d cost=%d margin=%d total=%d, want 5000/150/4850/3",
			revenue, cost, margin, total)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEngine_AggregateByDeployment_OutOfScope(t *testing.T) {
	_, engine := newMockEngine(t)
	scope := access.NewScope([]string{"acme"}, nil, false)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f := mustFilter(t, start, start.AddDate(0, 0, 7), scope)

	_, err := engine.AggregateByDeployment(context.Background(), "rival", f, scope)
	if !errors.Is(err, ErrOutOfScope) {
		t.Fatalf("err = %v, want ErrOutOfScope", err)
	}
}

func TestEngine_AggregateByChannel_AlwaysThreeNodes(t *testing.T) {
	mock, engine := newMockEngine(t)
	scope := access.NewScope([]string{"acme"}, []string{"d1"}, false)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f := mustFilter(t, start, start.AddDate(0, 0, 7), scope)

	mock.ExpectQuery(`SELECT tenant_id FROM deployments WHERE id = \$1`).
		WithArgs("d1").
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id"}).AddRow("acme"))

	// The channel level pins the deployment in the predicate.
	expectGroupedQueries(mock, "channel", append(windowArgs(f), "d1"),
		[][]any{{
			"voice",
			int64(2), int64(2), 80.0, int64(1),
			int64(20), int64(30), int64(40), int64(10), int64(0), int64(2000),
			int64(2), 400.0, 90.0, 800.0, 1000.0,
		}},
		[][]any{{"voice", "appointment_scheduled", int64(1)}, {"voice", "not_interested", int64(1)}},
		nil,
	)

	nodes, err := engine.AggregateByChannel(context.Background(), "d1", f, scope)
	if err != nil {
		t.Fatalf("AggregateByChannel failed: %v", err)
	}

	if len(nodes) != 3 {
		t.Fatalf("got %d nodes, want voice, sms and email", len(nodes))
	}
	if nodes[0].ID != "voice" || nodes[1].ID != "sms" || nodes[2].ID != "email" {
		t.Errorf("node order = %s/%s/%s", nodes[0].ID, nodes[1].ID, nodes[2].ID)
	}
	if nodes[0].Metrics.TotalInteractions != 2 {
		t.Errorf("voice total = %d, want 2", nodes[0].Metrics.TotalInteractions)
	}
	for _, quiet := range nodes[1:] {
		if quiet.Metrics.TotalInteractions != 0 {
			t.Errorf("channel %s total = %d, want 0", quiet.ID, quiet.Metrics.TotalInteractions)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEngine_AggregateByChannel_UnknownDeployment(t *testing.T) {
	mock, engine := newMockEngine(t)
	scope := access.AdminScope()
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f := mustFilter(t, start, start.AddDate(0, 0, 7), scope)

	// Admin scope allows any id, so only the store can reject it.
	mock.ExpectQuery(`SELECT tenant_id FROM deployments WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := engine.AggregateByChannel(context.Background(), "ghost", f, scope)
	if !errors.Is(err, ErrUnknownDeployment) {
		t.Fatalf("err = %v, want ErrUnknownDeployment", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEngine_AggregateByChannel_OutOfScope(t *testing.T) {
	_, engine := newMockEngine(t)
	scope := access.NewScope([]string{"acme"}, []string{"d1"}, false)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f := mustFilter(t, start, start.AddDate(0, 0, 7), scope)

	_, err := engine.AggregateByChannel(context.Background(), "d9", f, scope)
	if !errors.Is(err, ErrOutOfScope) {
		t.Fatalf("err = %v, want ErrOutOfScope", err)
	}
}
