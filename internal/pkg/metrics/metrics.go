// Package metrics records pipeline counters with OpenTelemetry and exposes
// them in Prometheus format.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Outcome labels shared by the instruments.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the instruments used by the API. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	renders        otelmetric.Int64Counter
	renderDuration otelmetric.Float64Histogram
	generations    otelmetric.Int64Counter
	llmRequests    otelmetric.Int64Counter
}

// New creates a meter provider exporting to a dedicated Prometheus registry
// and installs it as the global provider.
func New(serviceName string) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	m, err := newWithReader(serviceName, exporter)
	if err != nil {
		return nil, err
	}
	m.registry = registry
	otel.SetMeterProvider(m.provider)
	return m, nil
}

func newWithReader(serviceName string, reader sdkmetric.Reader) (*Metrics, error) {
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter(serviceName)

	renders, err := meter.Int64Counter("renders.total",
		otelmetric.WithDescription("Render attempts by outcome and quality"),
	)
	if err != nil {
		return nil, err
	}

	renderDuration, err := meter.Float64Histogram("renders.duration",
		otelmetric.WithDescription("Render attempt duration"),
		otelmetric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	generations, err := meter.Int64Counter("generations.total",
		otelmetric.WithDescription("Generate requests by outcome"),
	)
	if err != nil {
		return nil, err
	}

	llmRequests, err := meter.Int64Counter("llm.requests.total",
		otelmetric.WithDescription("Chat completion calls by kind and outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		provider:       provider,
		renders:        renders,
		renderDuration: renderDuration,
		generations:    generations,
		llmRequests:    llmRequests,
	}, nil
}

// Handler serves the Prometheus exposition.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRender counts one renderer invocation.
func (m *Metrics) RecordRender(ctx context.Context, outcome, quality string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("quality", quality),
	)
	m.renders.Add(ctx, 1, attrs)
	m.renderDuration.Record(ctx, float64(d.Milliseconds()), attrs)
}

// RecordGeneration counts one finished pipeline run.
func (m *Metrics) RecordGeneration(ctx context.Context, outcome string, corrected bool) {
	if m == nil {
		return
	}
	m.generations.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("corrected", strconv.FormatBool(corrected)),
	))
}

// RecordLLMRequest counts one chat completion call. kind is "generate" or "fix".
func (m *Metrics) RecordLLMRequest(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.llmRequests.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
