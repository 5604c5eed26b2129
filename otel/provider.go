package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/monkeyml/session"
)

// InstrumentationName is the tracer and meter name used for session
// telemetry.
const InstrumentationName = "github.com/petal-labs/monkeyml"

// Config controls telemetry setup.
type Config struct {
	// OTLPEndpoint is the OTLP/HTTP collector URL (for example
	// http://localhost:4318). Spans are only exported when it is set.
	OTLPEndpoint string

	// Register installs the providers as the global OpenTelemetry providers.
	Register bool
}

// Telemetry bundles the providers and event handlers created by Setup.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider

	// Reader is a manual reader attached to MeterProvider, used to serve
	// metric snapshots on demand.
	Reader *sdkmetric.ManualReader

	Metrics *MetricsHandler
	Tracing *TracingHandler
}

// Setup builds a tracer provider (exporting over OTLP/HTTP when an endpoint
// is configured) and a meter provider backed by a manual reader.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	var tpOpts []sdktrace.TracerProviderOption
	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("otel: create otlp exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := NewMetricsHandler(mp.Meter(InstrumentationName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("otel: create metrics handler: %w", err)
	}

	if cfg.Register {
		otelapi.SetTracerProvider(tp)
		otelapi.SetMeterProvider(mp)
	}

	return &Telemetry{
		TracerProvider: tp,
		MeterProvider:  mp,
		Reader:         reader,
		Metrics:        metrics,
		Tracing:        NewTracingHandler(tp.Tracer(InstrumentationName)),
	}, nil
}

// Handler returns a session.EventHandler feeding both metrics and tracing.
func (t *Telemetry) Handler() session.EventHandler {
	return session.MultiEventHandler(t.Metrics.Handle, t.Tracing.Handle)
}

// Decorator returns the emitter decorator that stamps trace IDs on events.
func (t *Telemetry) Decorator() session.EventEmitterDecorator {
	return Decorator(t.Tracing)
}

// Shutdown flushes and stops both providers, waiting at most five seconds.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return errors.Join(
		t.TracerProvider.Shutdown(ctx),
		t.MeterProvider.Shutdown(ctx),
	)
}
