package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracer(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tr := NewTracer(tp, map[string]string{"run": "42"})

	ctx, root := tr.TraceCheck(context.Background(), "github", "chromedp")
	_, step := tr.TraceStep(ctx, "click", 2, "click css=.repo")
	End(step, errors.New("boom"))
	End(root, nil)

	spans := rec.Ended()
	require.Len(t, spans, 2)

	stepSpan, rootSpan := spans[0], spans[1]
	assert.Equal(t, "click", stepSpan.Name())
	assert.Equal(t, "check github", rootSpan.Name())
	assert.Equal(t, rootSpan.SpanContext().SpanID(), stepSpan.Parent().SpanID())
	assert.Equal(t, codes.Error, stepSpan.Status().Code)
	assert.Equal(t, codes.Ok, rootSpan.Status().Code)
	assert.Contains(t, stepSpan.Attributes(), attribute.String("run", "42"))
	assert.Contains(t, stepSpan.Attributes(), attribute.Int("step.index", 2))
	assert.Contains(t, rootSpan.Attributes(), attribute.String("check.launcher", "chromedp"))
	assert.NotEmpty(t, GetTraceID(rootSpan.SpanContext()))
}

func TestNoopTracer(t *testing.T) {
	t.Parallel()

	_, span := NewNoopTracer().TraceCheck(context.Background(), "x", "y")
	assert.False(t, span.IsRecording())
	assert.Empty(t, GetTraceID(span.SpanContext()))
	End(span, nil)
}
