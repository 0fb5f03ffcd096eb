package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "finsight"

// StartRequestSpan starts the root span for one advisory request.
func StartRequestSpan(ctx context.Context, correlationID, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "advice.request",
		trace.WithAttributes(
			attribute.String("correlation.id", correlationID),
			attribute.String("session.id", sessionID),
		),
	)
}

// StartSpecialistSpan starts a span for one specialist invocation.
func StartSpecialistSpan(ctx context.Context, correlationID, tag string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "advice.specialist",
		trace.WithAttributes(
			attribute.String("correlation.id", correlationID),
			attribute.String("specialist.tag", tag),
		),
	)
}

// StartDraftSpan starts a span for one router drafting round.
func StartDraftSpan(ctx context.Context, correlationID string, round int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "advice.draft",
		trace.WithAttributes(
			attribute.String("correlation.id", correlationID),
			attribute.Int("debate.round", round),
		),
	)
}

// StartCriticSpan starts a span for one critic review.
func StartCriticSpan(ctx context.Context, correlationID string, round int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "advice.critic",
		trace.WithAttributes(
			attribute.String("correlation.id", correlationID),
			attribute.Int("debate.round", round),
		),
	)
}
