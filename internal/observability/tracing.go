package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span names for the engine's stages.
const (
	SpanDecide      = "foreman.decision.decide"
	SpanToolExecute = "foreman.tool.execute"
	SpanPipelineRun = "foreman.pipeline.run"
	SpanVerifyRun   = "foreman.verify.run"
	SpanWorkerRun   = "foreman.worker.run"
)

// Attribute keys attached to spans.
const (
	AttrWorkerID = "foreman.worker_id"
	AttrToolName = "foreman.tool_name"
	AttrDecision = "foreman.decision_kind"
)

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	Enabled        bool
	Exporter       string // otlp | zipkin | none
	OTLPEndpoint   string
	ZipkinEndpoint string
	SampleRate     float64
	ServiceVersion string
}

// TracerProvider wraps the OpenTelemetry tracer; disabled tracing yields a
// noop tracer so call sites never branch.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider creates the tracer provider for the configured exporter.
func NewTracerProvider(cfg TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled || cfg.Exporter == "" || cfg.Exporter == "none" {
		return &TracerProvider{tracer: noop.NewTracerProvider().Tracer("foreman")}, nil
	}

	if cfg.SampleRate <= 0 || cfg.SampleRate > 1.0 {
		cfg.SampleRate = 1.0
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp":
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exporter, err = otlptracehttp.New(context.Background(),
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		endpoint := cfg.ZipkinEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName("foreman"),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider, tracer: provider.Tracer("foreman")}, nil
}

// Start opens a span with the given name and attributes.
func (tp *TracerProvider) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tp == nil || tp.tracer == nil {
		return noop.NewTracerProvider().Tracer("foreman").Start(ctx, name)
	}
	return tp.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}
