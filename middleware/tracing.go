package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/longhaul/job"
)

// tracerName is the instrumentation scope name for longhaul tracing.
const tracerName = "github.com/xraph/longhaul"

// Tracing returns middleware that wraps job execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through with zero
// overhead.
//
// Span attributes: longhaul.job.id, longhaul.job.name, longhaul.job.owner,
// longhaul.job.checkpoint (the resume position, when present). On error,
// the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("longhaul.job.id", j.ID.String()),
			attribute.String("longhaul.job.name", j.Name),
			attribute.String("longhaul.job.owner", j.Owner),
		}
		if ckpt, ok := j.Checkpoint(); ok {
			attrs = append(attrs, attribute.Int("longhaul.job.checkpoint", ckpt))
		}

		ctx, span := tracer.Start(ctx, "longhaul.job.execute",
			trace.WithAttributes(attrs...),
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
