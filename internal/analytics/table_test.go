package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/voxlane/voxlane-platform/internal/access"
)

var rowCols = []string{
	"id", "tenant_id", "deployment_id", "channel", "direction", "started_at",
	"duration_seconds", "outcome", "emotion", "revenue_cents", "cost_cents",
	"latency_total_ms", "contact_name", "transcript", "recording_url",
}

func sampleRow(id string, started time.Time) []any {
	return []any{
		id, "acme", "d1", "voice", "inbound", started,
		int64(120), "appointment_scheduled", "positive", int64(5000), int64(150),
		int64(820), "Pat Jones", "Hi, I'd like to book...", "https://recordings.example/" + id,
	}
}

func newMockTable(t *testing.T) (pgxmock.PgxPoolIface, *Table) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, NewTableWithDB(mock, nil, nil)
}

func TestTable_Page(t *testing.T) {
	mock, table := newMockTable(t)
	scope := access.NewScope([]string{"acme"}, []string{"d1"}, false)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f := mustFilter(t, start, start.AddDate(0, 0, 7), scope)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM interactions`).
		WithArgs(windowArgs(f)...).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(45)))
	mock.ExpectQuery(`ORDER BY started_at DESC, id ASC LIMIT \$4 OFFSET \$5`).
		WithArgs(append(windowArgs(f), 2, 2)...).
		WillReturnRows(pgxmock.NewRows(rowCols).
			AddRow(sampleRow("i2", start.Add(26*time.Hour))...).
			AddRow(sampleRow("i1", start.Add(2*time.Hour))...))

	page, err := table.Page(context.Background(), f, scope, Sort{Column: "started_at", Descending: true}, 2, 2)
	if err != nil {
		t.Fatalf("Page failed: %v", err)
	}

	if page.TotalCount != 45 {
		t.Errorf("TotalCount = %d, want 45", page.TotalCount)
	}
	if page.TotalPages != 23 {
		t.Errorf("TotalPages = %d, want 23", page.TotalPages)
	}
	if len(page.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(page.Rows))
	}
	if page.Rows[0].ID != "i2" || page.Rows[0].CostCents != 150 {
		t.Errorf("Rows[0] = %+v", page.Rows[0])
	}
	if page.Page != 2 || page.PageSize != 2 {
		t.Errorf("page meta = %d/%d, want 2/2", page.Page, page.PageSize)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTable_Page_PastTheEnd(t *testing.T) {
	mock, table := newMockTable(t)
	scope := access.NewScope([]string{"acme"}, nil, false)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f := mustFilter(t, start, start.AddDate(0, 0, 7), scope)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM interactions`).
		WithArgs(windowArgs(f)...).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(`ORDER BY started_at ASC, id ASC`).
		WithArgs(append(windowArgs(f), 20, 980)...).
		WillReturnRows(pgxmock.NewRows(rowCols))

	page, err := table.Page(context.Background(), f, scope, Sort{Column: "started_at"}, 50, 20)
	if err != nil {
		t.Fatalf("Page failed: %v", err)
	}
	if len(page.Rows) != 0 {
		t.Errorf("got %d rows, want none past the end", len(page.Rows))
	}
	if page.TotalCount != 3 {
		t.Errorf("TotalCount = %d, want the real total even past the end", page.TotalCount)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTable_Page_UnsortableColumn(t *testing.T) {
	_, table := newMockTable(t)
	scope := access.NewScope([]string{"acme"}, nil, false)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f := mustFilter(t, start, start.AddDate(0, 0, 7), scope)

	_, err := table.Page(context.Background(), f, scope, Sort{Column: "transcript"}, 1, 20)
	if !errors.Is(err, ErrUnsortableColumn) {
		t.Fatalf("err = %v, want ErrUnsortableColumn", err)
	}
}
