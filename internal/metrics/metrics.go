// Package metrics records gateway counters through OpenTelemetry. The
// services install an Exporter's MeterProvider and serve it to Prometheus;
// instruments created on an unconfigured global provider are no-ops.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for gateway metrics
const meterName = "github.com/cuongbtq/vendor-gateway"

// Metrics holds the gateway instruments
type Metrics struct {
	jobsCompleted  metric.Int64Counter
	jobsFailed     metric.Int64Counter
	rateLimited    metric.Int64Counter
	retries        metric.Int64Counter
	deadLettered   metric.Int64Counter
	webhooks       metric.Int64Counter
	flushed        metric.Int64Counter
	flushErrors    metric.Int64Counter
	sweepRequeued  metric.Int64Counter
	vendorDuration metric.Float64Histogram
}

// New creates instruments on the global MeterProvider
func New() *Metrics {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter creates instruments on the given meter.
// Instrument errors fall back to the noop instruments the API returns.
func NewWithMeter(meter metric.Meter) *Metrics {
	m := &Metrics{}
	m.jobsCompleted, _ = meter.Int64Counter("gateway.jobs.completed",
		metric.WithDescription("Jobs that reached complete"),
		metric.WithUnit("{job}"))
	m.jobsFailed, _ = meter.Int64Counter("gateway.jobs.failed",
		metric.WithDescription("Jobs that reached failed"),
		metric.WithUnit("{job}"))
	m.rateLimited, _ = meter.Int64Counter("gateway.dispatch.rate_limited",
		metric.WithDescription("Dispatches deferred by the vendor rate limit"),
		metric.WithUnit("{dispatch}"))
	m.retries, _ = meter.Int64Counter("gateway.dispatch.retries",
		metric.WithDescription("Dispatch tasks re-enqueued after a transport failure"),
		metric.WithUnit("{task}"))
	m.deadLettered, _ = meter.Int64Counter("gateway.dispatch.dead_lettered",
		metric.WithDescription("Dispatch tasks routed to the dead-letter queue"),
		metric.WithUnit("{task}"))
	m.webhooks, _ = meter.Int64Counter("gateway.webhooks.received",
		metric.WithDescription("Vendor callbacks received"),
		metric.WithUnit("{webhook}"))
	m.flushed, _ = meter.Int64Counter("gateway.buffer.flushed",
		metric.WithDescription("Buffered writes applied to the durable store"),
		metric.WithUnit("{record}"))
	m.flushErrors, _ = meter.Int64Counter("gateway.buffer.flush_errors",
		metric.WithDescription("Buffered write batches that failed and were kept for retry"),
		metric.WithUnit("{batch}"))
	m.sweepRequeued, _ = meter.Int64Counter("gateway.sweep.requeued",
		metric.WithDescription("Failed jobs re-admitted by the retry sweep"),
		metric.WithUnit("{job}"))
	m.vendorDuration, _ = meter.Float64Histogram("gateway.vendor.call.duration",
		metric.WithDescription("Vendor call duration in seconds"),
		metric.WithUnit("s"))
	return m
}

// JobCompleted counts a job that reached complete
func (m *Metrics) JobCompleted(ctx context.Context, vendorType string) {
	m.jobsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("vendor_type", vendorType)))
}

// JobFailed counts a job that reached failed
func (m *Metrics) JobFailed(ctx context.Context, vendorType string) {
	m.jobsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("vendor_type", vendorType)))
}

// RateLimited counts a dispatch deferred by the vendor's window
func (m *Metrics) RateLimited(ctx context.Context, vendor string) {
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("vendor", vendor)))
}

// RetryScheduled counts a task re-enqueued with backoff
func (m *Metrics) RetryScheduled(ctx context.Context) {
	m.retries.Add(ctx, 1)
}

// DeadLettered counts a task sent to the dead-letter queue
func (m *Metrics) DeadLettered(ctx context.Context) {
	m.deadLettered.Add(ctx, 1)
}

// WebhookReceived counts a callback by outcome
func (m *Metrics) WebhookReceived(ctx context.Context, outcome string) {
	m.webhooks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Flushed counts records written by the flusher; kind is "create" or "update"
func (m *Metrics) Flushed(ctx context.Context, kind string, n int) {
	if n <= 0 {
		return
	}
	m.flushed.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
}

// FlushFailed counts a failed flush batch
func (m *Metrics) FlushFailed(ctx context.Context, kind string) {
	m.flushErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// SweepRequeued counts a failed job re-admitted by the sweep
func (m *Metrics) SweepRequeued(ctx context.Context) {
	m.sweepRequeued.Add(ctx, 1)
}

// VendorCall records the duration of a vendor call
func (m *Metrics) VendorCall(ctx context.Context, vendor string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.vendorDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("vendor", vendor),
		attribute.String("status", status),
	))
}
