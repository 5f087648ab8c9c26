package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Meter records completion-service usage through the OpenTelemetry metric
// API, exported into the same Prometheus registry as the engine collectors so
// one scrape endpoint serves both.
type Meter struct {
	provider *sdkmetric.MeterProvider

	completionRequests metric.Int64Counter
	completionTokens   metric.Int64Counter
	completionLatency  metric.Float64Histogram
}

// NewMeter builds a Meter exporting into reg. A nil registry uses the default
// registerer.
func NewMeter(reg prometheus.Registerer) (*Meter, error) {
	opts := []otelprom.Option{}
	if reg != nil {
		opts = append(opts, otelprom.WithRegisterer(reg))
	}
	exporter, err := otelprom.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("foreman")

	requests, err := meter.Int64Counter("foreman.completion.requests",
		metric.WithDescription("Completion calls by worker and outcome"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	tokens, err := meter.Int64Counter("foreman.completion.tokens",
		metric.WithDescription("Token usage by direction"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("foreman.completion.latency",
		metric.WithDescription("Completion call latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Meter{
		provider:           provider,
		completionRequests: requests,
		completionTokens:   tokens,
		completionLatency:  latency,
	}, nil
}

// RecordCompletion records one completion call.
func (m *Meter) RecordCompletion(ctx context.Context, worker string, success bool, latency time.Duration, promptTokens, completionTokens int) {
	if m == nil || m.completionRequests == nil {
		return
	}
	workerAttr := attribute.String("worker", worker)
	m.completionRequests.Add(ctx, 1, metric.WithAttributes(workerAttr, attribute.String("outcome", outcome(success))))
	m.completionTokens.Add(ctx, int64(promptTokens), metric.WithAttributes(workerAttr, attribute.String("direction", "prompt")))
	m.completionTokens.Add(ctx, int64(completionTokens), metric.WithAttributes(workerAttr, attribute.String("direction", "completion")))
	m.completionLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(workerAttr))
}

// Shutdown flushes and stops the meter provider.
func (m *Meter) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
