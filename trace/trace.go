// Package trace provides tracing instrumentation tailored for check runs.
package trace

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "navcheck.check"

// Tracer generates spans for check runs and their steps. Every span carries
// the tracer metadata as attributes.
type Tracer struct {
	trace.Tracer

	metadata []attribute.KeyValue
}

// NewTracer creates a new Tracer from the given TracerProvider.
func NewTracer(tp trace.TracerProvider, metadata map[string]string, options ...trace.TracerOption) *Tracer {
	return &Tracer{
		Tracer:   tp.Tracer(tracerName, options...),
		metadata: buildMetadataAttributes(metadata),
	}
}

// NewNoopTracer returns a Tracer whose spans are never recorded.
func NewNoopTracer() *Tracer {
	return NewTracer(noop.NewTracerProvider(), nil)
}

// Start overrides the underlying OTEL tracer method to include the tracer metadata.
func (t *Tracer) Start(
	ctx context.Context, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(t.metadata...))
	return t.Tracer.Start(ctx, spanName, opts...)
}

// TraceCheck starts the root span of a check run. It is the caller's
// responsibility to end it.
func (t *Tracer) TraceCheck(ctx context.Context, check, launcher string) (context.Context, trace.Span) {
	return t.Start(ctx, "check "+check, trace.WithAttributes(
		attribute.String("check.name", check),
		attribute.String("check.launcher", launcher),
	))
}

// TraceStep starts a span for one step as a child of the span in ctx.
func (t *Tracer) TraceStep(ctx context.Context, step string, index int, desc string) (context.Context, trace.Span) {
	return t.Start(ctx, step, trace.WithAttributes(
		attribute.String("step.name", step),
		attribute.Int("step.index", index),
		attribute.String("step.description", desc),
	))
}

// End ends span, recording err on it if there is one.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// GetTraceID returns the hex trace ID of spanCtx or an empty string.
func GetTraceID(spanCtx trace.SpanContext) string {
	if spanCtx.HasTraceID() {
		traceID := spanCtx.TraceID()
		return traceID.String()
	}
	return ""
}

func buildMetadataAttributes(metadata map[string]string) []attribute.KeyValue {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	meta := make([]attribute.KeyValue, 0, len(metadata))
	for _, k := range keys {
		meta = append(meta, attribute.String(k, metadata[k]))
	}

	return meta
}
