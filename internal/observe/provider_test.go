package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetup_InstallsProvidersAndShutsDown(t *testing.T) {
	prevTP := otel.GetTracerProvider()
	prevMP := otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	}()

	shutdown, err := Setup(context.Background(),
		WithServiceName("voxfacile-test"),
		WithServiceVersion("0.0.0-test"),
	)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Error("global tracer provider is not the SDK provider")
	}
	if _, ok := otel.GetMeterProvider().(*sdkmetric.MeterProvider); !ok {
		t.Error("global meter provider is not the SDK provider")
	}

	// Spans record even without a span exporter configured.
	ctx, span := StartSpan(context.Background(), "session.start")
	if !span.IsRecording() {
		t.Error("span is not recording")
	}
	if CorrelationID(ctx) == "" {
		t.Error("no trace ID for an active span")
	}
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
