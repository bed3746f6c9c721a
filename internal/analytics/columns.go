package analytics

import (
	"fmt"
	"strings"
	"time"
)

// ColumnKind is a closed union of value kinds a table column can have.
// Each kind owns exactly one formatter, resolved once when the
// registry is built rather than per cell on a string key.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindNumeric
	KindCurrency
	KindEnumBadge
	KindDuration
	KindDateTime
	KindLink
)

// cellFormatter renders one typed cell value for flat output (CSV and
// the like). JSON responses carry the raw typed value instead.
type cellFormatter func(v any) string

// Column describes one column of the interactions table.
type Column struct {
	Key      string
	Label    string
	Kind     ColumnKind
	Group    string
	Sortable bool
	// sortExpr is the SQL expression ORDER BY uses. Only registry
	// entries ever reach the query, so it is not caller input.
	sortExpr string
	format   cellFormatter
}

// Format renders a cell value with the column's kind formatter.
func (c Column) Format(v any) string {
	return c.format(v)
}

// formatterFor resolves the single formatter for a kind.
func formatterFor(kind ColumnKind) cellFormatter {
	switch kind {
	case KindNumeric:
		return func(v any) string {
			switch n := v.(type) {
			case int64:
				return fmt.Sprintf("%d", n)
			case float64:
				return fmt.Sprintf("%g", n)
			default:
				return fmt.Sprintf("%v", v)
			}
		}
	case KindCurrency:
		return func(v any) string {
			cents, ok := v.(int64)
			if !ok {
				return ""
			}
			return fmt.Sprintf("%.2f", float64(cents)/100.0)
		}
	case KindEnumBadge:
		return func(v any) string {
			return strings.ReplaceAll(fmt.Sprintf("%v", v), "_", " ")
		}
	case KindDuration:
		return func(v any) string {
			secs, ok := v.(int64)
			if !ok {
				return ""
			}
			return (time.Duration(secs) * time.Second).String()
		}
	case KindDateTime:
		return func(v any) string {
			t, ok := v.(time.Time)
			if !ok {
				return ""
			}
			return t.UTC().Format(time.RFC3339)
		}
	case KindLink:
		return func(v any) string {
			return fmt.Sprintf("%v", v)
		}
	default:
		return func(v any) string {
			return fmt.Sprintf("%v", v)
		}
	}
}

// interactionColumns is the closed registry for the calls table. Order
// here is presentation order for exports.
var interactionColumns = buildColumnRegistry([]Column{
	{Key: "started_at", Label: "Started At", Kind: KindDateTime, Group: "call", Sortable: true, sortExpr: "started_at"},
	{Key: "tenant_id", Label: "Tenant", Kind: KindText, Group: "call", Sortable: true, sortExpr: "tenant_id"},
	{Key: "deployment_id", Label: "Deployment", Kind: KindText, Group: "call", Sortable: true, sortExpr: "deployment_id"},
	{Key: "channel", Label: "Channel", Kind: KindEnumBadge, Group: "call", Sortable: true, sortExpr: "channel"},
	{Key: "direction", Label: "Direction", Kind: KindEnumBadge, Group: "call", Sortable: true, sortExpr: "direction"},
	{Key: "contact_name", Label: "Contact", Kind: KindText, Group: "call", Sortable: true, sortExpr: "contact_name"},
	{Key: "duration_seconds", Label: "Duration", Kind: KindDuration, Group: "call", Sortable: true, sortExpr: "duration_seconds"},
	{Key: "outcome", Label: "Outcome", Kind: KindEnumBadge, Group: "result", Sortable: true, sortExpr: "outcome"},
	{Key: "emotion", Label: "Emotion", Kind: KindEnumBadge, Group: "result", Sortable: true, sortExpr: "emotion"},
	{Key: "revenue_cents", Label: "Revenue", Kind: KindCurrency, Group: "financial", Sortable: true, sortExpr: "revenue_cents"},
	{Key: "cost_cents", Label: "Cost", Kind: KindCurrency, Group: "financial", Sortable: true,
		sortExpr: "(cost_stt_cents + cost_tts_cents + cost_llm_cents + cost_telecom_cents + cost_commission_cents)"},
	{Key: "latency_total_ms", Label: "Latency (ms)", Kind: KindNumeric, Group: "quality", Sortable: true, sortExpr: "latency_total_ms"},
	{Key: "transcript", Label: "Transcript", Kind: KindText, Group: "quality", Sortable: false},
	{Key: "recording_url", Label: "Recording", Kind: KindLink, Group: "quality", Sortable: false},
})

type columnRegistry struct {
	ordered []Column
	byKey   map[string]Column
}

func buildColumnRegistry(cols []Column) columnRegistry {
	reg := columnRegistry{byKey: make(map[string]Column, len(cols))}
	for _, c := range cols {
		c.format = formatterFor(c.Kind)
		reg.ordered = append(reg.ordered, c)
		reg.byKey[c.Key] = c
	}
	return reg
}

// Columns returns the table's column definitions in presentation order.
func Columns() []Column {
	out := make([]Column, len(interactionColumns.ordered))
	copy(out, interactionColumns.ordered)
	return out
}

// ColumnGroups returns the distinct column groups in order. Group
// visibility is purely presentational: hiding a group never changes
// which rows a page returns or its total count.
func ColumnGroups() []string {
	seen := map[string]bool{}
	var groups []string
	for _, c := range interactionColumns.ordered {
		if !seen[c.Group] {
			seen[c.Group] = true
			groups = append(groups, c.Group)
		}
	}
	return groups
}

// Sort is a single (column, direction) ordering.
type Sort struct {
	Column     string
	Descending bool
}

// resolveSort validates a sort against the registry. Unknown or
// non-sortable columns are rejected, not silently ignored.
func resolveSort(s Sort) (string, error) {
	col, ok := interactionColumns.byKey[s.Column]
	if !ok || !col.Sortable {
		return "", fmt.Errorf("analytics: sort %q: %w", s.Column, ErrUnsortableColumn)
	}
	dir := " ASC"
	if s.Descending {
		dir = " DESC"
	}
	return col.sortExpr + dir, nil
}
