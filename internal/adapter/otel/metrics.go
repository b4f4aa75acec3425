package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "decisiongate"

// Metrics holds all decisiongate metric instruments.
type Metrics struct {
	CandidatesEvaluated metric.Int64Counter
	ActionsEnqueued     metric.Int64Counter
	ActionsEvicted      metric.Int64Counter
	ActionsExecuted     metric.Int64Counter
	ActionsFailed       metric.Int64Counter
	ExecutionDuration   metric.Float64Histogram
	OutcomesRecorded    metric.Int64Counter
	ThresholdAdjusted   metric.Int64Counter
	CoordinationRuns    metric.Int64Counter
	EmergencyTrips      metric.Int64Counter
	LaneDepth           metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.CandidatesEvaluated, err = meter.Int64Counter("decisiongate.candidates.evaluated",
		metric.WithDescription("Number of candidates scored")); err != nil {
		return nil, err
	}
	if m.ActionsEnqueued, err = meter.Int64Counter("decisiongate.actions.enqueued",
		metric.WithDescription("Number of actions enqueued, by level")); err != nil {
		return nil, err
	}
	if m.ActionsEvicted, err = meter.Int64Counter("decisiongate.actions.evicted",
		metric.WithDescription("Number of advisory actions evicted under backpressure")); err != nil {
		return nil, err
	}
	if m.ActionsExecuted, err = meter.Int64Counter("decisiongate.actions.executed",
		metric.WithDescription("Number of actions executed successfully")); err != nil {
		return nil, err
	}
	if m.ActionsFailed, err = meter.Int64Counter("decisiongate.actions.failed",
		metric.WithDescription("Number of actions failed, by reason")); err != nil {
		return nil, err
	}
	if m.ExecutionDuration, err = meter.Float64Histogram("decisiongate.execution.duration_seconds",
		metric.WithDescription("Action execution duration in seconds")); err != nil {
		return nil, err
	}
	if m.OutcomesRecorded, err = meter.Int64Counter("decisiongate.outcomes.recorded",
		metric.WithDescription("Number of decision outcomes recorded")); err != nil {
		return nil, err
	}
	if m.ThresholdAdjusted, err = meter.Int64Counter("decisiongate.thresholds.adjusted",
		metric.WithDescription("Number of threshold adjustments, by direction")); err != nil {
		return nil, err
	}
	if m.CoordinationRuns, err = meter.Int64Counter("decisiongate.coordination.runs",
		metric.WithDescription("Number of coordination runs, by trigger and status")); err != nil {
		return nil, err
	}
	if m.EmergencyTrips, err = meter.Int64Counter("decisiongate.emergency.trips",
		metric.WithDescription("Number of emergency circuit breaker trips")); err != nil {
		return nil, err
	}
	if m.LaneDepth, err = meter.Int64UpDownCounter("decisiongate.lane.depth",
		metric.WithDescription("Pending actions per lane")); err != nil {
		return nil, err
	}

	return m, nil
}
