package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the epochflow tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("epochflow")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartRunSpan starts a span for the entire dataflow run.
	StartRunSpan(ctx context.Context, flow, runID string, resumeEpoch uint64) (context.Context, trace.Span)

	// StartWorkerSpan starts a span for one worker. It should be a child
	// of the run span.
	StartWorkerSpan(ctx context.Context, workerIndex int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartRunSpan starts a span for the entire run.
func (m *otelSpanManager) StartRunSpan(ctx context.Context, flow, runID string, resumeEpoch uint64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "epochflow.run",
		trace.WithAttributes(
			attribute.String("flow.name", flow),
			attribute.String("run.id", runID),
			attribute.Int64("resume.epoch", int64(resumeEpoch)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartWorkerSpan starts a span for one worker.
func (m *otelSpanManager) StartWorkerSpan(ctx context.Context, workerIndex int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "epochflow.worker",
		trace.WithAttributes(
			attribute.Int("worker.index", workerIndex),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
