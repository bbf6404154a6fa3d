package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// defaultServiceName identifies this process in exported telemetry.
const defaultServiceName = "voxfacile"

// Option adjusts telemetry setup.
type Option func(*setupConfig)

type setupConfig struct {
	serviceName    string
	serviceVersion string
	spanExporter   sdktrace.SpanExporter
}

// WithServiceName overrides the reported service name.
func WithServiceName(name string) Option {
	return func(c *setupConfig) { c.serviceName = name }
}

// WithServiceVersion sets the reported service version.
func WithServiceVersion(version string) Option {
	return func(c *setupConfig) { c.serviceVersion = version }
}

// WithSpanExporter ships finished spans through exp, typically OTLP. Without
// one, spans are still recorded in-process, so trace IDs keep appearing in
// logs; they just never leave the process.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(c *setupConfig) { c.spanExporter = exp }
}

// Setup installs the process-wide OpenTelemetry providers: a meter provider
// backed by the Prometheus bridge, so every instrument in this package lands
// on the /metrics scrape, and a tracer provider feeding the configured span
// exporter. W3C trace-context propagation is enabled so browser clients can
// correlate their requests.
//
// The returned function flushes and stops both providers; call it once the
// server has drained.
func Setup(ctx context.Context, opts ...Option) (func(context.Context) error, error) {
	cfg := setupConfig{serviceName: defaultServiceName}
	for _, opt := range opts {
		opt(&cfg)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.serviceName),
		semconv.ServiceVersion(cfg.serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: describing service: %w", err)
	}

	bridge, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus bridge: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(bridge),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.spanExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.spanExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
