// Package telemetry installs the OpenTelemetry providers used by the relay
// command.
package telemetry

import (
	"context"
	"errors"

	"github.com/randalmurphal/relay/pkg/relay/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Providers holds what Setup installed.
type Providers struct {
	// Metrics reads the relay instruments on demand. Nil unless metrics are
	// enabled.
	Metrics *sdkmetric.ManualReader

	shutdown []func(context.Context) error
}

// Shutdown flushes pending spans and stops the providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// Setup installs global providers for serviceName according to s.
//
// Tracing is opt-in: it needs both s.Tracing and s.OTLPEndpoint, and then
// exports spans over OTLP/HTTP. Metrics are kept in process and read through
// Providers.Metrics.
func Setup(ctx context.Context, serviceName string, s config.Settings) (*Providers, error) {
	p := &Providers{}
	if !s.Tracing && !s.Metrics {
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return p, err
	}

	if s.Tracing && s.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(s.OTLPEndpoint),
		)
		if err != nil {
			return p, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
		p.shutdown = append(p.shutdown, tp.Shutdown)
	}

	if s.Metrics {
		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		p.Metrics = reader
		p.shutdown = append(p.shutdown, mp.Shutdown)
	}

	return p, nil
}
