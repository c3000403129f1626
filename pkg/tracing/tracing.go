// Package tracing wraps the four analysis pipeline stages (parse,
// accumulate, reduce, assemble) in their own spans under a single
// "tunnelstats" tracer, defaulting to the stdout exporter so a run never
// needs a collector, and swapping to OTLP over HTTP when configured.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tunnelstats"

// Provider owns the tracer provider's lifecycle. Its zero value is not
// usable; construct with New.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// New builds a Provider. When otlpEndpoint is empty, spans are exported to
// stdout; otherwise they are shipped via OTLP/HTTP to otlpEndpoint.
func New(ctx context.Context, otlpEndpoint string) (*Provider, error) {
	exporter, err := newExporter(ctx, otlpEndpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes("", attribute.String("service.name", tracerName)))
	if err != nil {
		return nil, fmt.Errorf("tracing: resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return &Provider{tp: tp, tracer: tp.Tracer(tracerName)}, nil
}

func newExporter(ctx context.Context, otlpEndpoint string) (sdktrace.SpanExporter, error) {
	if otlpEndpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	return otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(otlpEndpoint), otlptracehttp.WithInsecure())
}

// Shutdown flushes pending spans and releases exporter resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// StartRun starts the top-level span for one analysis run, tagging it with
// the run id and the log's line count.
func (p *Provider) StartRun(ctx context.Context, runID string, lineCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("tunnelstats.run_id", runID),
			attribute.Int("tunnelstats.line_count", lineCount),
		))
}

// StartStage starts a child span for one pipeline stage ("parse",
// "accumulate", "reduce", or "assemble").
func (p *Provider) StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, stage)
}

// Noop returns a Provider whose spans are discarded, for callers that do
// not want tracing overhead (e.g. unit tests).
func Noop() *Provider {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
	return &Provider{tp: tp, tracer: tp.Tracer(tracerName)}
}
