package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxpipe/voxpipe/job"
)

// tracerName is the instrumentation scope name for voxpipe tracing.
const tracerName = "github.com/voxpipe/voxpipe"

// Tracing returns middleware that wraps stage execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: voxpipe.job.id, voxpipe.stage,
// voxpipe.total_parts, voxpipe.completed_parts, voxpipe.attempts.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "voxpipe.stage.execute",
			trace.WithAttributes(
				attribute.String("voxpipe.job.id", j.ID.String()),
				attribute.String("voxpipe.stage", string(j.Stage)),
				attribute.Int("voxpipe.total_parts", j.TotalParts),
				attribute.Int("voxpipe.completed_parts", j.CompletedParts()),
				attribute.Int("voxpipe.attempts", j.Attempts),
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
