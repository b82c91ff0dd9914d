package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Request outcomes recorded on relay.requests.
const (
	OutcomeFulfilled = "fulfilled"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeClosed    = "closed"
	OutcomeFailed    = "failed"
)

// MetricsRecorder records messenger metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordRequest records a finished request with its outcome and latency.
	RecordRequest(ctx context.Context, event, outcome string, duration time.Duration)

	// AddInFlight adjusts the number of pending requests.
	AddInFlight(ctx context.Context, event string, delta int64)

	// RecordPublish records a fire-and-forget emit.
	RecordPublish(ctx context.Context, event string)

	// RecordHandler records a handler invocation with its duration and error status.
	RecordHandler(ctx context.Context, event string, duration time.Duration, err error)

	// RecordStaleAnswer records an answer that matched no pending request.
	RecordStaleAnswer(ctx context.Context, event string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	requests       metric.Int64Counter
	requestLatency metric.Float64Histogram
	inFlight       metric.Int64UpDownCounter
	publishes      metric.Int64Counter
	handlerCalls   metric.Int64Counter
	handlerErrors  metric.Int64Counter
	handlerLatency metric.Float64Histogram
	staleAnswers   metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("relay")

	requests, err := meter.Int64Counter("relay.requests",
		metric.WithDescription("Number of finished requests by outcome"),
	)
	if err != nil {
		return nil, err
	}

	requestLatency, err := meter.Float64Histogram("relay.request.latency_ms",
		metric.WithDescription("Time from send to completion in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64UpDownCounter("relay.requests.in_flight",
		metric.WithDescription("Number of requests awaiting an answer"),
	)
	if err != nil {
		return nil, err
	}

	publishes, err := meter.Int64Counter("relay.publishes",
		metric.WithDescription("Number of fire-and-forget emits"),
	)
	if err != nil {
		return nil, err
	}

	handlerCalls, err := meter.Int64Counter("relay.handler.invocations",
		metric.WithDescription("Number of handler invocations"),
	)
	if err != nil {
		return nil, err
	}

	handlerErrors, err := meter.Int64Counter("relay.handler.errors",
		metric.WithDescription("Number of handler invocations that failed"),
	)
	if err != nil {
		return nil, err
	}

	handlerLatency, err := meter.Float64Histogram("relay.handler.latency_ms",
		metric.WithDescription("Handler latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	staleAnswers, err := meter.Int64Counter("relay.answers.stale",
		metric.WithDescription("Number of answers that matched no pending request"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		requests:       requests,
		requestLatency: requestLatency,
		inFlight:       inFlight,
		publishes:      publishes,
		handlerCalls:   handlerCalls,
		handlerErrors:  handlerErrors,
		handlerLatency: handlerLatency,
		staleAnswers:   staleAnswers,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordRequest records a finished request.
func (m *otelMetrics) RecordRequest(ctx context.Context, event, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("outcome", outcome),
	)
	m.requests.Add(ctx, 1, attrs)
	m.requestLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// AddInFlight adjusts the in-flight gauge.
func (m *otelMetrics) AddInFlight(ctx context.Context, event string, delta int64) {
	m.inFlight.Add(ctx, delta, metric.WithAttributes(attribute.String("event", event)))
}

// RecordPublish records a publish.
func (m *otelMetrics) RecordPublish(ctx context.Context, event string) {
	m.publishes.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordHandler records a handler invocation.
func (m *otelMetrics) RecordHandler(ctx context.Context, event string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("event", event))

	m.handlerCalls.Add(ctx, 1, attrs)
	m.handlerLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)

	if err != nil {
		m.handlerErrors.Add(ctx, 1, attrs)
	}
}

// RecordStaleAnswer records an unmatched answer.
func (m *otelMetrics) RecordStaleAnswer(ctx context.Context, event string) {
	m.staleAnswers.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}
