// Package otel provides higher level APIs around Open Telemetry instrumentation.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "navcheck"

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

var (
	// ErrUnsupportedExporter indicates that the configured exporter is not supported.
	ErrUnsupportedExporter = errors.New("unsupported trace exporter")
	// ErrMissingEndpoint is returned for the otlp exporter without an endpoint.
	ErrMissingEndpoint = errors.New("otlp exporter needs an endpoint")
)

// Options select and configure the span exporter.
type Options struct {
	// Exporter is one of none, stdout or otlp.
	Exporter string
	// Endpoint is the host:port of the OTLP/HTTP collector.
	Endpoint string
	// Insecure sends OTLP over plain HTTP.
	Insecure bool
	// Out receives stdout spans as JSON. It defaults to os.Stdout.
	Out io.Writer
}

// TraceProvider provides methods for tracers initialization and shutdown of the
// processing pipeline.
type TraceProvider interface {
	trace.TracerProvider
	Shutdown(ctx context.Context) error
}

type traceProvider struct {
	trace.TracerProvider

	noop bool

	shutdown func(ctx context.Context) error
}

// NewTraceProvider creates a trace provider for opts.Exporter and installs
// it as the global one.
func NewTraceProvider(ctx context.Context, opts Options) (TraceProvider, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch strings.ToLower(opts.Exporter) {
	case "", ExporterNone:
		return NewNoopTraceProvider(), nil
	case ExporterStdout:
		exp, err = newStdoutExporter(opts.Out)
	case ExporterOTLP:
		exp, err = newOTLPExporter(ctx, opts.Endpoint, opts.Insecure)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedExporter, opts.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	prov := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(newResource()),
	)

	otel.SetTracerProvider(prov)

	return &traceProvider{
		TracerProvider: prov,
		shutdown:       prov.Shutdown,
	}, nil
}

func newStdoutExporter(w io.Writer) (sdktrace.SpanExporter, error) {
	if w == nil {
		w = os.Stdout
	}
	return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
}

func newOTLPExporter(ctx context.Context, endpoint string, insecure bool) (sdktrace.SpanExporter, error) {
	if endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	return otlptrace.New(ctx, newHTTPClient(endpoint, insecure))
}

func newHTTPClient(endpoint string, insecure bool) otlptrace.Client {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
	}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.NewClient(opts...)
}

func newResource() *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)
}

// NewNoopTraceProvider creates a new noop trace provider.
func NewNoopTraceProvider() TraceProvider {
	prov := noop.NewTracerProvider()

	otel.SetTracerProvider(prov)

	return &traceProvider{
		TracerProvider: prov,
		noop:           true,
	}
}

// Shutdown flushes pending spans and releases the exporter.
// After Shutdown is called, all methods are no-ops.
func (tp *traceProvider) Shutdown(ctx context.Context) error {
	if tp.noop {
		return nil
	}

	return tp.shutdown(ctx)
}
