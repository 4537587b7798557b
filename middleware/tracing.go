package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/conduct-dev/conduct/command"
)

// tracerName is the instrumentation scope name for conduct tracing.
const tracerName = "github.com/conduct-dev/conduct"

// Tracing returns middleware that wraps command execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through
// with zero overhead.
//
// Span attributes include: conduct.command.id, conduct.command.type,
// conduct.queue, conduct.attempt, conduct.profile, conduct.trace_id.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, c *command.Command, next Handler) error {
		ctx, span := tracer.Start(ctx, "conduct.command.execute",
			trace.WithAttributes(
				attribute.String("conduct.command.id", c.ID.String()),
				attribute.String("conduct.command.type", c.Type),
				attribute.String("conduct.queue", c.Queue),
				attribute.Int("conduct.attempt", c.AttemptCount+1),
				attribute.String("conduct.profile", c.Profile),
				attribute.String("conduct.trace_id", c.TraceID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
