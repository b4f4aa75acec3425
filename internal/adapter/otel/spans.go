package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "decisiongate"

// StartEvaluateSpan starts a span for scoring a candidate batch.
func StartEvaluateSpan(ctx context.Context, batchSize int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "evaluate",
		trace.WithAttributes(attribute.Int("candidates.count", batchSize)),
	)
}

// StartExecutionSpan starts a span for one action execution attempt.
func StartExecutionSpan(ctx context.Context, actionID, capability, level string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "action.execute",
		trace.WithAttributes(
			attribute.String("action.id", actionID),
			attribute.String("action.capability", capability),
			attribute.String("action.level", level),
			attribute.Int("action.attempt", attempt),
		),
	)
}

// StartCoordinationSpan starts a span for a coordination run.
func StartCoordinationSpan(ctx context.Context, eventID, trigger string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "coordination.run",
		trace.WithAttributes(
			attribute.String("coordination.event_id", eventID),
			attribute.String("coordination.trigger", trigger),
		),
	)
}

// StartStepSpan starts a span for one coordination step.
func StartStepSpan(ctx context.Context, index int, target, operation string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "coordination.step",
		trace.WithAttributes(
			attribute.Int("step.index", index),
			attribute.String("step.target", target),
			attribute.String("step.operation", operation),
		),
	)
}
