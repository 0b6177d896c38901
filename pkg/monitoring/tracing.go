package monitoring

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name registered with OTel.
const tracerName = "conductor"

// Tracer is the package-level OTel tracer for the conductor.
// It returns a noop tracer when no TracerProvider is registered,
// making instrumentation zero-cost in the default configuration.
var Tracer = otel.Tracer(tracerName)

// StartMessageSpan starts a span covering the processing of one lifecycle
// event, annotated with the correlation id and target instance. Callers must
// call span.End() when processing completes.
func StartMessageSpan(ctx context.Context, messageType, eventID, resourceName string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "conductor.process",
		trace.WithAttributes(
			attribute.String("conductor.message_type", messageType),
			attribute.String("conductor.event_id", eventID),
			attribute.String("conductor.resource_name", resourceName),
		),
	)
}

// EndSpan records err on the span (if any) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
