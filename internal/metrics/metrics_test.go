package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupTestMeter() (*sdkmetric.ManualReader, *Metrics) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, NewWithMeter(mp.Meter("test"))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	m := findMetric(rm, name)
	require.NotNil(t, m, "metric %s not found", name)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64] for %s", name)

	var total int64
	for _, dp := range sum.DataPoints {
		if v, found := dp.Attributes.Value(attr.Key); found && v == attr.Value {
			total += dp.Value
		}
	}
	return total
}

func TestMetrics_JobCounters(t *testing.T) {
	reader, m := setupTestMeter()
	ctx := context.Background()

	m.JobCompleted(ctx, "sync")
	m.JobCompleted(ctx, "sync")
	m.JobCompleted(ctx, "async")
	m.JobFailed(ctx, "sync")

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sumFor(t, rm, "gateway.jobs.completed", attribute.String("vendor_type", "sync")))
	assert.Equal(t, int64(1), sumFor(t, rm, "gateway.jobs.completed", attribute.String("vendor_type", "async")))
	assert.Equal(t, int64(1), sumFor(t, rm, "gateway.jobs.failed", attribute.String("vendor_type", "sync")))
}

func TestMetrics_FlushCounters(t *testing.T) {
	reader, m := setupTestMeter()
	ctx := context.Background()

	m.Flushed(ctx, "create", 3)
	m.Flushed(ctx, "update", 0)
	m.FlushFailed(ctx, "update")

	rm := collect(t, reader)
	assert.Equal(t, int64(3), sumFor(t, rm, "gateway.buffer.flushed", attribute.String("kind", "create")))
	assert.Equal(t, int64(0), sumFor(t, rm, "gateway.buffer.flushed", attribute.String("kind", "update")))
	assert.Equal(t, int64(1), sumFor(t, rm, "gateway.buffer.flush_errors", attribute.String("kind", "update")))
}

func TestMetrics_VendorCallDuration(t *testing.T) {
	reader, m := setupTestMeter()

	m.VendorCall(context.Background(), "syncVendor", 250*time.Millisecond, nil)
	m.VendorCall(context.Background(), "syncVendor", time.Second, errors.New("boom"))

	rm := collect(t, reader)
	found := findMetric(rm, "gateway.vendor.call.duration")
	require.NotNil(t, found)

	hist, ok := found.Data.(metricdata.Histogram[float64])
	require.True(t, ok)

	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestNew_UsesGlobalProvider(t *testing.T) {
	m := New()
	require.NotNil(t, m)
	m.RateLimited(context.Background(), "syncVendor")
	m.SweepRequeued(context.Background())
}

func TestExporter_ServesPrometheus(t *testing.T) {
	exporter, err := NewExporter("vendor-gateway-test", "1.0.0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = exporter.Shutdown(context.Background()) })

	ctx := context.Background()
	exporter.Metrics().JobCompleted(ctx, "sync")
	exporter.Metrics().DeadLettered(ctx)
	exporter.Metrics().FlushFailed(ctx, "update")

	rec := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "gateway_jobs_completed_total")
	assert.Contains(t, body, `vendor_type="sync"`)
	assert.Contains(t, body, "gateway_dispatch_dead_lettered_total")
	assert.Contains(t, body, "gateway_buffer_flush_errors_total")
	assert.Contains(t, body, "go_goroutines")
}
