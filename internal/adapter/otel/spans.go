package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "conductor"

// StartContinueSpan starts a span for one executor step.
func StartContinueSpan(ctx context.Context, taskID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "workflow.continue",
		trace.WithAttributes(attribute.String("task.id", taskID)),
	)
}

// StartDispatchSpan starts a span for sending a do message to an agent.
func StartDispatchSpan(ctx context.Context, taskID, agentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "workflow.dispatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("agent.id", agentID),
		),
	)
}

// StartDoSpan starts a span for an inbound user message.
func StartDoSpan(ctx context.Context, conversationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "conductor.do",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
}

// StartDidSpan starts a span for an agent result callback.
func StartDidSpan(ctx context.Context, taskID, status string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "conductor.did",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("did.status", status),
		),
	)
}
