package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider and returns the reader.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}

	return reader, cleanup
}

// collectMetrics collects all metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return &rm
}

// findMetric finds a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the int64 sum datapoint carrying attribute key=value.
func sumFor(t *testing.T, rm *metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		return 0, false
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "Expected Sum type for %s", name)
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestNewMetricsRecorder(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordRequest(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordRequest(ctx, "ping", OutcomeFulfilled, 20*time.Millisecond)
	m.RecordRequest(ctx, "ping", OutcomeTimeout, time.Second)

	rm := collectMetrics(t, reader)

	v, ok := sumFor(t, rm, "relay.requests", "outcome", OutcomeTimeout)
	require.True(t, ok, "Expected datapoint for outcome=timeout")
	assert.Equal(t, int64(1), v)

	latency := findMetric(rm, "relay.request.latency_ms")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "Expected Histogram type")
	assert.Len(t, hist.DataPoints, 2)
}

func TestAddInFlight(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.AddInFlight(ctx, "ping", 1)
	m.AddInFlight(ctx, "ping", 1)
	m.AddInFlight(ctx, "ping", -1)

	v, ok := sumFor(t, collectMetrics(t, reader), "relay.requests.in_flight", "event", "ping")
	require.True(t, ok)
	assert.Equal(t, int64(1), v)
}

func TestRecordHandler(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordHandler(ctx, "echo", time.Millisecond, nil)
	m.RecordHandler(ctx, "echo", time.Millisecond, errors.New("failed"))

	rm := collectMetrics(t, reader)

	calls, ok := sumFor(t, rm, "relay.handler.invocations", "event", "echo")
	require.True(t, ok)
	assert.Equal(t, int64(2), calls)

	failures, ok := sumFor(t, rm, "relay.handler.errors", "event", "echo")
	require.True(t, ok)
	assert.Equal(t, int64(1), failures)
}

func TestRecordPublishAndStale(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordPublish(ctx, "news")
	m.RecordStaleAnswer(ctx, "ping")

	rm := collectMetrics(t, reader)

	published, ok := sumFor(t, rm, "relay.publishes", "event", "news")
	require.True(t, ok)
	assert.Equal(t, int64(1), published)

	stale, ok := sumFor(t, rm, "relay.answers.stale", "event", "ping")
	require.True(t, ok)
	assert.Equal(t, int64(1), stale)
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordRequest(ctx, "ping", OutcomeFulfilled, time.Second)
		m.AddInFlight(ctx, "ping", 1)
		m.RecordPublish(ctx, "ping")
		m.RecordHandler(ctx, "ping", time.Second, errors.New("x"))
		m.RecordStaleAnswer(ctx, "ping")
	})
}
