package analytics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/voxlane/voxlane-platform/internal/access"
)

// Compare computes the filter's window and the immediately preceding
// window of equal length under the same scope, plus per-metric signed
// percentage deltas. Both windows are recomputed from the engine;
// deltas are never derived from previously-aggregated data.
//
// Failure handling is asymmetric: an error on the current window
// propagates, while an error on the previous window degrades to
// "deltas undefined" with the current result intact.
func (e *Engine) Compare(ctx context.Context, f Filter, scope access.Scope) (*PeriodComparison, error) {
	ctx, span := e.tracer.Start(ctx, "analytics.compare")
	defer span.End()
	started := time.Now()

	current, err := e.aggregateOnce(ctx, f, scope)
	if err != nil {
		e.observe("compare", started, err)
		return nil, err
	}

	previous, prevErr := e.aggregateOnce(ctx, f.PreviousWindow(), scope)
	e.observe("compare", started, prevErr)
	if prevErr != nil {
		e.logger.Warn("previous window aggregation failed; returning current only",
			"period_start", f.Start.Format(time.RFC3339),
			"error", prevErr,
		)
		span.SetAttributes(attribute.Bool("previous_unavailable", true))
		return &PeriodComparison{
			Current:             current,
			PreviousUnavailable: true,
		}, nil
	}

	return &PeriodComparison{
		Current:  current,
		Previous: previous,
		Deltas:   computeDeltas(current, previous),
	}, nil
}

// computeDeltas returns (current - previous) / previous * 100 per
// metric, leaving the delta nil (undefined, not zero) whenever the
// previous value is exactly zero.
func computeDeltas(current, previous *AggregateResult) MetricDeltas {
	return MetricDeltas{
		TotalInteractions:     deltaPct(float64(current.TotalInteractions), float64(previous.TotalInteractions)),
		AnsweredCount:         deltaPct(float64(current.AnsweredCount), float64(previous.AnsweredCount)),
		AnswerRate:            deltaPct(current.AnswerRate, previous.AnswerRate),
		AvgDurationSeconds:    metricDeltaPct(current.AvgDurationSeconds, previous.AvgDurationSeconds),
		AppointmentsScheduled: deltaPct(float64(current.AppointmentsScheduled), float64(previous.AppointmentsScheduled)),
		ConversionRate:        deltaPct(current.ConversionRate, previous.ConversionRate),
		TotalCost:             deltaPct(float64(current.TotalCostCents), float64(previous.TotalCostCents)),
		TotalRevenue:          deltaPct(float64(current.TotalRevenueCents), float64(previous.TotalRevenueCents)),
		Margin:                deltaPct(float64(current.MarginCents), float64(previous.MarginCents)),
	}
}

func deltaPct(current, previous float64) *float64 {
	if previous == 0 {
		return nil
	}
	d := (current - previous) / previous * 100.0
	return &d
}

func metricDeltaPct(current, previous MetricValue) *float64 {
	if current.State != MetricKnown || previous.State != MetricKnown {
		return nil
	}
	return deltaPct(current.Value, previous.Value)
}
