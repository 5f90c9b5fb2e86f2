package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Exporter owns the SDK MeterProvider behind the gateway instruments and
// serves them in the Prometheus text format
type Exporter struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry
	metrics  *Metrics
}

// NewExporter creates a MeterProvider that exports into its own Prometheus
// registry, together with Go runtime and process collectors
func NewExporter(serviceName, version string) (*Exporter, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reader, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		)),
	)

	return &Exporter{
		provider: provider,
		registry: registry,
		metrics:  NewWithMeter(provider.Meter(meterName)),
	}, nil
}

// Metrics returns the instruments recorded through this exporter
func (e *Exporter) Metrics() *Metrics {
	return e.metrics
}

// MeterProvider returns the SDK provider, for installing as the global one
func (e *Exporter) MeterProvider() *sdkmetric.MeterProvider {
	return e.provider
}

// Handler serves the scrape endpoint
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the MeterProvider
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
