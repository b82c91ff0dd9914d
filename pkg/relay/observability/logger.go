// Package observability provides logging, metrics and tracing helpers for
// the relay messenger.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every helper accepts a nil logger.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds request context to a logger.
// Returns a new logger with event, correlation_id and peer fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "ping", 7, "")
//	enriched.Info("answered") // includes event, correlation_id, peer
func EnrichLogger(logger *slog.Logger, event string, id int64, peer string) *slog.Logger {
	if logger == nil {
		return nil
	}
	attrs := []any{
		slog.String("event", event),
		slog.Int64("correlation_id", id),
	}
	if peer != "" {
		attrs = append(attrs, slog.String("peer", peer))
	}
	return logger.With(attrs...)
}

// LogRequestSent logs an outgoing request.
func LogRequestSent(logger *slog.Logger, event string, id int64, timeout time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("request sent",
		slog.String("event", event),
		slog.Int64("correlation_id", id),
		slog.Duration("timeout", timeout),
	)
}

// LogRequestTimeout logs a request whose answer never arrived in time.
// logger is expected to come from EnrichLogger.
func LogRequestTimeout(logger *slog.Logger, timeout time.Duration) {
	if logger == nil {
		return
	}
	logger.Warn("request timed out", slog.Duration("timeout", timeout))
}

// LogStaleAnswer logs an answer that matched no pending request.
func LogStaleAnswer(logger *slog.Logger, event string, id int64) {
	if logger == nil {
		return
	}
	logger.Debug("answer without pending request",
		slog.String("event", event),
		slog.Int64("correlation_id", id),
	)
}

// LogMalformedAnswer logs an answer frame without a usable correlation id.
func LogMalformedAnswer(logger *slog.Logger, event string, first any) {
	if logger == nil {
		return
	}
	logger.Debug("dropping answer without correlation id",
		slog.String("event", event),
		slog.Any("first", first),
	)
}

// LogHandlerError logs a handler that returned an error or panicked.
// logger is expected to come from EnrichLogger.
func LogHandlerError(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Error("handler failed", slog.String("error", err.Error()))
}

// LogEmitError logs a transport emit failure.
func LogEmitError(logger *slog.Logger, event string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("emit failed",
		slog.String("event", event),
		slog.String("error", err.Error()),
	)
}

// LogDeadLetterError logs a failure to persist a dead letter (non-fatal).
func LogDeadLetterError(logger *slog.Logger, event string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("dead letter save failed",
		slog.String("event", event),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	elapsed := done()
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
