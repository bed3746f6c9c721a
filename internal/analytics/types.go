package analytics

import (
	"encoding/json"
	"time"
)

// Channel is the contact medium of an interaction.
type Channel string

const (
	ChannelVoice Channel = "voice"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// AllChannels lists every channel in presentation order.
func AllChannels() []Channel {
	return []Channel{ChannelVoice, ChannelSMS, ChannelEmail}
}

// Outcome is the classified result of an interaction.
type Outcome string

const (
	OutcomeAppointmentScheduled Outcome = "appointment_scheduled"
	OutcomeAppointmentRefused   Outcome = "appointment_refused"
	OutcomeVoicemail            Outcome = "voicemail"
	OutcomeCallbackRequested    Outcome = "callback_requested"
	OutcomeNotInterested        Outcome = "not_interested"
	OutcomeCallFailed           Outcome = "call_failed"
	OutcomeTooShort             Outcome = "too_short"
	OutcomeUnclassified         Outcome = "unclassified"
)

// AllOutcomes lists every outcome enum value. Distributions are keyed
// on this list so a zero-count category is still present in output.
func AllOutcomes() []Outcome {
	return []Outcome{
		OutcomeAppointmentScheduled,
		OutcomeAppointmentRefused,
		OutcomeVoicemail,
		OutcomeCallbackRequested,
		OutcomeNotInterested,
		OutcomeCallFailed,
		OutcomeTooShort,
		OutcomeUnclassified,
	}
}

// Emotion is the classified caller emotion, meaningful for voice only.
type Emotion string

const (
	EmotionPositive Emotion = "positive"
	EmotionNeutral  Emotion = "neutral"
	EmotionNegative Emotion = "negative"
)

// AllEmotions lists every emotion enum value.
func AllEmotions() []Emotion {
	return []Emotion{EmotionPositive, EmotionNeutral, EmotionNegative}
}

// Direction is who initiated the interaction.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DeploymentStatus is the lifecycle state of a deployment.
type DeploymentStatus string

const (
	DeploymentActive   DeploymentStatus = "active"
	DeploymentPaused   DeploymentStatus = "paused"
	DeploymentArchived DeploymentStatus = "archived"
)

// CostBreakdown splits an interaction's cost by component, in cents.
// The components sum to the total cost; there is no separate total
// column that could drift.
type CostBreakdown struct {
	SpeechToTextCents  int64 `json:"speech_to_text_cents"`
	TextToSpeechCents  int64 `json:"text_to_speech_cents"`
	LanguageModelCents int64 `json:"language_model_cents"`
	TelecomCents       int64 `json:"telecom_cents"`
	CommissionCents    int64 `json:"commission_cents"`
}

// Total returns the summed cost in cents.
func (c CostBreakdown) Total() int64 {
	return c.SpeechToTextCents + c.TextToSpeechCents + c.LanguageModelCents +
		c.TelecomCents + c.CommissionCents
}

// MetricState distinguishes "known value", "does not apply" (e.g.
// emotion on an email interaction) and "not yet known" (enrichment
// pending). Overloading null for all three breaks the drill-down
// reconciliation invariant.
type MetricState string

const (
	MetricKnown         MetricState = "known"
	MetricNotApplicable MetricState = "not_applicable"
	MetricUnknown       MetricState = "unknown"
)

// MetricValue is a tri-state numeric metric.
type MetricValue struct {
	Value float64
	State MetricState
}

// Known wraps a known value.
func Known(v float64) MetricValue {
	return MetricValue{Value: v, State: MetricKnown}
}

// NotApplicable marks a metric that has no meaning in this context.
func NotApplicable() MetricValue {
	return MetricValue{State: MetricNotApplicable}
}

// UnknownValue marks a metric whose enrichment has not arrived.
func UnknownValue() MetricValue {
	return MetricValue{State: MetricUnknown}
}

// MarshalJSON renders {"value": <num>|null, "state": "..."}.
func (m MetricValue) MarshalJSON() ([]byte, error) {
	type payload struct {
		Value *float64    `json:"value"`
		State MetricState `json:"state"`
	}
	p := payload{State: m.State}
	if p.State == "" {
		p.State = MetricUnknown
	}
	if m.State == MetricKnown {
		v := m.Value
		p.Value = &v
	}
	return json.Marshal(p)
}

// UnmarshalJSON parses the MarshalJSON form.
func (m *MetricValue) UnmarshalJSON(data []byte) error {
	var p struct {
		Value *float64    `json:"value"`
		State MetricState `json:"state"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	m.State = p.State
	if m.State == "" {
		m.State = MetricUnknown
	}
	if p.Value != nil {
		m.Value = *p.Value
	}
	return nil
}

// InteractionRecord is one completed or attempted contact attempt.
// Records are immutable after the interaction ends except for the
// enrichment fields (outcome, emotion, transcript, quality score),
// which a later pipeline pass may attach.
type InteractionRecord struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	DeploymentID    string        `json:"deployment_id"`
	Channel         Channel       `json:"channel"`
	Direction       Direction     `json:"direction"`
	StartedAt       time.Time     `json:"started_at"`
	DurationSeconds int64         `json:"duration_seconds"`
	Outcome         Outcome       `json:"outcome"`
	Emotion         MetricValue   `json:"emotion_score"`
	Cost            CostBreakdown `json:"cost"`
	RevenueCents    int64         `json:"revenue_cents"`
	LatencyLLMMs    int64         `json:"latency_llm_ms"`
	LatencyTTSMs    int64         `json:"latency_tts_ms"`
	LatencyTotalMs  int64         `json:"latency_total_ms"`
	ContactName     string        `json:"contact_name"`
	Transcript      string        `json:"transcript,omitempty"`
}

// DailyBucket is one day of the time-bucketed series, zero-filled for
// days with no activity.
type DailyBucket struct {
	Day          time.Time `json:"-"`
	DayLabel     string    `json:"day"`
	Total        int64     `json:"total"`
	Answered     int64     `json:"answered"`
	Appointments int64     `json:"appointments"`
}

// LatencySummary aggregates the per-stage latency samples in a slice.
type LatencySummary struct {
	AvgLanguageModelMs MetricValue `json:"avg_language_model_ms"`
	AvgSynthesisMs     MetricValue `json:"avg_synthesis_ms"`
	AvgTotalMs         MetricValue `json:"avg_total_ms"`
	P95TotalMs         MetricValue `json:"p95_total_ms"`
}

// AggregateResult is the metric bag computed over one filtered,
// access-scoped slice of interaction records. It is derived state:
// never persisted, always recomputed at query time. Rates keep full
// precision here; rounding is presentation's job.
type AggregateResult struct {
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`

	TotalInteractions     int64       `json:"total_interactions"`
	AnsweredCount         int64       `json:"answered_count"`
	AnswerRate            float64     `json:"answer_rate"`
	AvgDurationSeconds    MetricValue `json:"avg_duration_seconds"`
	AppointmentsScheduled int64       `json:"appointments_scheduled"`
	ConversionRate        float64     `json:"conversion_rate"`

	TotalCostCents          int64         `json:"total_cost_cents"`
	CostBreakdown           CostBreakdown `json:"cost_breakdown"`
	TotalRevenueCents       int64         `json:"total_revenue_cents"`
	MarginCents             int64         `json:"margin_cents"`
	CostPerAppointmentCents int64         `json:"cost_per_appointment_cents"`
	// UnprofitablePeriod is set when the period carried cost but booked no
	// appointments, so cost_per_appointment (cost / max(appts, 1)) is a
	// floor, not a true unit cost.
	UnprofitablePeriod bool `json:"unprofitable_period"`

	Outcomes map[Outcome]int64 `json:"outcomes"`
	Emotions map[Emotion]int64 `json:"emotions"`
	Latency  LatencySummary    `json:"latency"`
	Daily    []DailyBucket     `json:"daily"`
}

// DrillLevel names a level of the tenant -> deployment -> channel hierarchy.
type DrillLevel string

const (
	LevelTenant     DrillLevel = "tenant"
	LevelDeployment DrillLevel = "deployment"
	LevelChannel    DrillLevel = "channel"
)

// DrillDownNode is one child entity's metric bag at a hierarchy level.
// Sibling nodes must sum to the parent's revenue, cost, margin and
// volume for the same filter; money stays in integer cents so the
// reconciliation is exact.
type DrillDownNode struct {
	Level   DrillLevel       `json:"level"`
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Metrics *AggregateResult `json:"metrics"`
}

// MetricDeltas carries the period-over-period signed percentage change
// per numeric metric. A nil entry means the delta is undefined because
// the previous value was zero; it is never coerced to 0.
type MetricDeltas struct {
	TotalInteractions     *float64 `json:"total_interactions"`
	AnsweredCount         *float64 `json:"answered_count"`
	AnswerRate            *float64 `json:"answer_rate"`
	AvgDurationSeconds    *float64 `json:"avg_duration_seconds"`
	AppointmentsScheduled *float64 `json:"appointments_scheduled"`
	ConversionRate        *float64 `json:"conversion_rate"`
	TotalCost             *float64 `json:"total_cost"`
	TotalRevenue          *float64 `json:"total_revenue"`
	Margin                *float64 `json:"margin"`
}

// PeriodComparison pairs the current window's aggregates with the
// immediately preceding window of equal length.
type PeriodComparison struct {
	Current  *AggregateResult `json:"current"`
	Previous *AggregateResult `json:"previous,omitempty"`
	// PreviousUnavailable is set when the previous window could not be
	// computed; Current is still valid and all deltas are undefined.
	PreviousUnavailable bool         `json:"previous_unavailable"`
	Deltas              MetricDeltas `json:"deltas"`
}
