package relay

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/relay/pkg/relay/config"
	"github.com/randalmurphal/relay/pkg/relay/deadletter"
	"github.com/randalmurphal/relay/pkg/relay/observability"
)

// DefaultTimeout bounds a request when no WithTimeout option is given.
const DefaultTimeout = 5 * time.Second

// messengerConfig holds configuration for a Messenger.
type messengerConfig struct {
	timeout     time.Duration
	logger      *slog.Logger
	metrics     observability.MetricsRecorder
	spans       observability.SpanManager
	answerEvent func(string) string
	async       bool
	deadLetters deadletter.Store
	ids         *IDGenerator
}

// defaultMessengerConfig returns the configuration used by New without options.
func defaultMessengerConfig() messengerConfig {
	return messengerConfig{
		timeout:     DefaultTimeout,
		metrics:     observability.NoopMetrics{},
		spans:       observability.NoopSpanManager{},
		answerEvent: func(event string) string { return event },
	}
}

// Option configures a Messenger.
type Option func(*messengerConfig)

// WithTimeout sets how long a request waits for its answer.
// Default: 5s. Non-positive values are ignored.
//
// Example:
//
//	m := relay.New(t, relay.WithTimeout(500*time.Millisecond))
func WithTimeout(d time.Duration) Option {
	return func(c *messengerConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *messengerConfig) {
		c.logger = logger
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Metrics use the global meter provider. Default: disabled.
func WithMetrics(enabled bool) Option {
	return func(c *messengerConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithMetricsRecorder sets a custom metrics recorder.
func WithMetricsRecorder(m observability.MetricsRecorder) Option {
	return func(c *messengerConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables or disables OpenTelemetry tracing.
// Spans use the global tracer provider. Default: disabled.
func WithTracing(enabled bool) Option {
	return func(c *messengerConfig) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithSpanManager sets a custom span manager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(c *messengerConfig) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithAnswerEvent sets the function naming the answer event of a request
// event. Default: answers travel on the request event itself.
//
// Both ends of a connection must agree on the mapping.
func WithAnswerEvent(fn func(event string) string) Option {
	return func(c *messengerConfig) {
		if fn != nil {
			c.answerEvent = fn
		}
	}
}

// WithAnswerSuffix names answer events by appending suffix to the request
// event. An endpoint that both sends and handles the same event name needs
// a suffix, otherwise its own answers and inbound requests share one event.
func WithAnswerSuffix(suffix string) Option {
	return WithAnswerEvent(func(event string) string { return event + suffix })
}

// WithAsyncHandlers makes every handler run on its own goroutine unless it
// was registered WithSync. Default: handlers run on the delivery goroutine.
func WithAsyncHandlers(async bool) Option {
	return func(c *messengerConfig) {
		c.async = async
	}
}

// WithDeadLetter records failed handler invocations in store.
func WithDeadLetter(store deadletter.Store) Option {
	return func(c *messengerConfig) {
		c.deadLetters = store
	}
}

// WithIDGenerator sets the correlation id source. Default: a fresh generator.
func WithIDGenerator(g *IDGenerator) Option {
	return func(c *messengerConfig) {
		if g != nil {
			c.ids = g
		}
	}
}

// SettingsOptions translates loaded settings into messenger options.
// Dead-letter storage is opened by the caller and passed WithDeadLetter.
func SettingsOptions(s config.Settings) []Option {
	opts := []Option{
		WithTimeout(s.RequestTimeout),
		WithAsyncHandlers(s.AsyncHandlers),
		WithMetrics(s.Metrics),
		WithTracing(s.Tracing),
	}
	if s.AnswerSuffix != "" {
		opts = append(opts, WithAnswerSuffix(s.AnswerSuffix))
	}
	return opts
}
