package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the relay tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("relay")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartSendSpan starts a client span covering a request from send to completion.
	StartSendSpan(ctx context.Context, event string, id int64) (context.Context, trace.Span)

	// StartHandlerSpan starts a server span for a single handler invocation.
	StartHandlerSpan(ctx context.Context, event string, id int64) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartSendSpan starts a span for an outgoing request.
func (m *otelSpanManager) StartSendSpan(ctx context.Context, event string, id int64) (context.Context, trace.Span) {
	return StartSendSpan(ctx, event, id)
}

// StartHandlerSpan starts a span for a handler invocation.
func (m *otelSpanManager) StartHandlerSpan(ctx context.Context, event string, id int64) (context.Context, trace.Span) {
	return StartHandlerSpan(ctx, event, id)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// StartSendSpan starts a span for an outgoing request.
// Uses the global OTel tracer.
func StartSendSpan(ctx context.Context, event string, id int64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "relay.send "+event,
		trace.WithAttributes(
			attribute.String("relay.event", event),
			attribute.Int64("relay.correlation_id", id),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartHandlerSpan starts a span for a handler invocation.
// Uses the global OTel tracer. A request without a correlation id is
// recorded as a consumer span.
func StartHandlerSpan(ctx context.Context, event string, id int64) (context.Context, trace.Span) {
	kind := trace.SpanKindServer
	if id == 0 {
		kind = trace.SpanKindConsumer
	}
	return tracer.Start(ctx, "relay.handle "+event,
		trace.WithAttributes(
			attribute.String("relay.event", event),
			attribute.Int64("relay.correlation_id", id),
		),
		trace.WithSpanKind(kind),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
