package analytics

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/voxlane/voxlane-platform/internal/access"
)

// Filter is the normalized query description every analytics call
// takes: a half-open date range [Start, End), optional tenant set,
// optional single deployment, optional facets and free-text search.
// It is an immutable value; build one with NewFilter and hand it to
// the engine. The engine never reads ambient request state.
type Filter struct {
	Start time.Time
	End   time.Time

	TenantIDs    []string
	DeploymentID string
	AgentType    string
	Channel      Channel
	Outcomes     []Outcome
	Emotions     []Emotion
	Direction    Direction
	Search       string
}

// NewFilter validates the inputs against the caller's scope and
// returns a filter whose tenant set is already intersected with that
// scope. Invalid input fails fast so callers can tell "no data" from
// "malformed request":
//
//   - inverted or zero-length windows are ErrInvalidWindow
//   - a tenant outside scope is ErrOutOfScope
//   - facet values outside their enums are ErrBadFacet
//
// The deployment-to-tenant ownership check needs the store and lives
// in Engine.checkDeployment; scope membership of the deployment id is
// checked here.
func NewFilter(start, end time.Time, scope access.Scope, opts ...FilterOption) (Filter, error) {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return Filter{}, fmt.Errorf("analytics: window [%s, %s): %w",
			start.Format(time.RFC3339), end.Format(time.RFC3339), ErrInvalidWindow)
	}

	f := Filter{Start: start.UTC(), End: end.UTC()}
	for _, opt := range opts {
		opt(&f)
	}

	// Intersect the requested tenant set with scope. Requesting a tenant
	// the caller cannot see is an error, not a silent narrowing.
	if len(f.TenantIDs) > 0 {
		for _, id := range f.TenantIDs {
			if !scope.AllowsTenant(id) {
				return Filter{}, fmt.Errorf("analytics: tenant %q: %w", id, ErrOutOfScope)
			}
		}
	} else {
		f.TenantIDs = scope.TenantList()
	}

	if f.DeploymentID != "" && !scope.AllowsDeployment(f.DeploymentID) {
		return Filter{}, fmt.Errorf("analytics: deployment %q: %w", f.DeploymentID, ErrOutOfScope)
	}

	for _, o := range f.Outcomes {
		if !validOutcome(o) {
			return Filter{}, fmt.Errorf("analytics: outcome %q: %w", o, ErrBadFacet)
		}
	}
	for _, e := range f.Emotions {
		if !validEmotion(e) {
			return Filter{}, fmt.Errorf("analytics: emotion %q: %w", e, ErrBadFacet)
		}
	}
	if f.Direction != "" && f.Direction != DirectionInbound && f.Direction != DirectionOutbound {
		return Filter{}, fmt.Errorf("analytics: direction %q: %w", f.Direction, ErrBadFacet)
	}
	if f.Channel != "" && f.Channel != ChannelVoice && f.Channel != ChannelSMS && f.Channel != ChannelEmail {
		return Filter{}, fmt.Errorf("analytics: channel %q: %w", f.Channel, ErrBadFacet)
	}

	f.Search = strings.TrimSpace(f.Search)
	return f, nil
}

// FilterOption sets an optional filter field.
type FilterOption func(*Filter)

func WithTenants(ids ...string) FilterOption {
	return func(f *Filter) { f.TenantIDs = append(f.TenantIDs, ids...) }
}

func WithDeployment(id string) FilterOption {
	return func(f *Filter) { f.DeploymentID = id }
}

func WithAgentType(agentType string) FilterOption {
	return func(f *Filter) { f.AgentType = agentType }
}

func WithOutcomes(outcomes ...Outcome) FilterOption {
	return func(f *Filter) { f.Outcomes = append(f.Outcomes, outcomes...) }
}

func WithEmotions(emotions ...Emotion) FilterOption {
	return func(f *Filter) { f.Emotions = append(f.Emotions, emotions...) }
}

func WithDirection(d Direction) FilterOption {
	return func(f *Filter) { f.Direction = d }
}

func WithChannel(c Channel) FilterOption {
	return func(f *Filter) { f.Channel = c }
}

func WithSearch(text string) FilterOption {
	return func(f *Filter) { f.Search = text }
}

// WindowLength returns the filter's window length.
func (f Filter) WindowLength() time.Duration {
	return f.End.Sub(f.Start)
}

// PreviousWindow derives the filter for the immediately preceding
// window of identical length. A 30-day window compares against the
// preceding 30 days, not the same days a year prior; seasonality is
// not adjusted for.
func (f Filter) PreviousWindow() Filter {
	prev := f
	length := f.WindowLength()
	prev.End = f.Start
	prev.Start = f.Start.Add(-length)
	return prev
}

func validOutcome(o Outcome) bool {
	for _, v := range AllOutcomes() {
		if o == v {
			return true
		}
	}
	return false
}

func validEmotion(e Emotion) bool {
	for _, v := range AllEmotions() {
		if e == v {
			return true
		}
	}
	return false
}

// whereClause builds the SQL predicate all analytics queries share.
// scoped is true when the caller's scope is already folded into
// f.TenantIDs (NewFilter guarantees this). An empty non-admin tenant
// set can match nothing, which the caller encodes as "FALSE".
type whereClause struct {
	sql  string
	args []any
}

// buildWhere renders the filter into "WHERE ..." with positional args
// starting at $1. scopeEmpty must be access.Scope.IsEmpty() for the
// scope the filter was built with.
func buildWhere(f Filter, scopeEmpty bool) whereClause {
	var sb strings.Builder
	var args []any

	sb.WriteString("WHERE started_at >= $1 AND started_at < $2")
	args = append(args, f.Start, f.End)

	next := func() string { return "$" + strconv.Itoa(len(args)+1) }

	if scopeEmpty {
		// Caller sees nothing; guarantee an empty slice without a trip
		// through every partition.
		sb.WriteString(" AND FALSE")
		return whereClause{sql: sb.String(), args: args}
	}

	if len(f.TenantIDs) > 0 {
		sb.WriteString(" AND tenant_id = ANY(" + next() + ")")
		args = append(args, f.TenantIDs)
	}
	if f.DeploymentID != "" {
		sb.WriteString(" AND deployment_id = " + next())
		args = append(args, f.DeploymentID)
	}
	if f.AgentType != "" {
		sb.WriteString(" AND deployment_id IN (SELECT id FROM deployments WHERE agent_type = " + next() + ")")
		args = append(args, f.AgentType)
	}
	if len(f.Outcomes) > 0 {
		sb.WriteString(" AND outcome = ANY(" + next() + ")")
		args = append(args, outcomeStrings(f.Outcomes))
	}
	if len(f.Emotions) > 0 {
		sb.WriteString(" AND emotion = ANY(" + next() + ")")
		args = append(args, emotionStrings(f.Emotions))
	}
	if f.Direction != "" {
		sb.WriteString(" AND direction = " + next())
		args = append(args, string(f.Direction))
	}
	if f.Channel != "" {
		sb.WriteString(" AND channel = " + next())
		args = append(args, string(f.Channel))
	}
	if f.Search != "" {
		placeholder := next()
		sb.WriteString(" AND (contact_name ILIKE " + placeholder + " OR transcript ILIKE " + placeholder + ")")
		args = append(args, "%"+f.Search+"%")
	}

	return whereClause{sql: sb.String(), args: args}
}

func outcomeStrings(outcomes []Outcome) []string {
	out := make([]string, len(outcomes))
	for i, o := range outcomes {
		out[i] = string(o)
	}
	return out
}

func emotionStrings(emotions []Emotion) []string {
	out := make([]string, len(emotions))
	for i, e := range emotions {
		out[i] = string(e)
	}
	return out
}
