// Package observe provides observability primitives for voxfacile:
// OpenTelemetry metrics, tracing, structured logging, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Setup]
// installs a Prometheus exporter bridge so they can be scraped from the
// standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxfacile metrics.
const meterName = "github.com/voxfacile/voxfacile"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ResponseLatency tracks the time from committing a user utterance to
	// the first response delta from the service.
	ResponseLatency metric.Float64Histogram

	// SpeechSegmentDuration tracks the length of detected user utterances.
	SpeechSegmentDuration metric.Float64Histogram

	// --- Counters ---

	// TurnTransitions counts turn state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...), attribute.String("cause", ...)
	TurnTransitions metric.Int64Counter

	// BargeIns counts user interruptions of an in-flight AI utterance.
	BargeIns metric.Int64Counter

	// ReconnectAttempts counts realtime reconnect attempts. Use with
	// attribute: attribute.String("status", "ok"|"fail")
	ReconnectAttempts metric.Int64Counter

	// DroppedFrames counts audio frames discarded before reaching the
	// service. Use with attribute: attribute.String("reason", ...)
	DroppedFrames metric.Int64Counter

	// RemoteErrors counts errors reported by the realtime service.
	RemoteErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live facilitation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// conversational voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ResponseLatency, err = m.Float64Histogram("voxfacile.response.latency",
		metric.WithDescription("Time from utterance commit to first response delta."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeechSegmentDuration, err = m.Float64Histogram("voxfacile.speech.segment.duration",
		metric.WithDescription("Length of detected user utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TurnTransitions, err = m.Int64Counter("voxfacile.turn.transitions",
		metric.WithDescription("Total turn state transitions by from, to, and cause."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voxfacile.barge_ins",
		metric.WithDescription("Total user interruptions of an in-flight AI utterance."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("voxfacile.reconnect.attempts",
		metric.WithDescription("Total realtime reconnect attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("voxfacile.audio.dropped_frames",
		metric.WithDescription("Total audio frames discarded before reaching the service, by reason."),
	); err != nil {
		return nil, err
	}
	if met.RemoteErrors, err = m.Int64Counter("voxfacile.remote.errors",
		metric.WithDescription("Total errors reported by the realtime service."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxfacile.active_sessions",
		metric.WithDescription("Number of live facilitation sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxfacile.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurnTransition records one turn state change with the standard
// attribute set.
func (m *Metrics) RecordTurnTransition(ctx context.Context, from, to, cause string) {
	m.TurnTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
			attribute.String("cause", cause),
		),
	)
}

// RecordBargeIn records one user interruption.
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	m.BargeIns.Add(ctx, 1)
}

// RecordReconnectAttempt records one reconnect attempt by outcome.
func (m *Metrics) RecordReconnectAttempt(ctx context.Context, ok bool) {
	status := "ok"
	if !ok {
		status = "fail"
	}
	m.ReconnectAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordDroppedFrame records one discarded audio frame by reason.
func (m *Metrics) RecordDroppedFrame(ctx context.Context, reason string) {
	m.DroppedFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordRemoteError records one error reported by the realtime service.
func (m *Metrics) RecordRemoteError(ctx context.Context) {
	m.RemoteErrors.Add(ctx, 1)
}

// RecordResponseLatency records the time from utterance commit to the first
// response delta.
func (m *Metrics) RecordResponseLatency(ctx context.Context, seconds float64) {
	m.ResponseLatency.Record(ctx, seconds)
}

// RecordSpeechSegment records the length of one detected user utterance.
func (m *Metrics) RecordSpeechSegment(ctx context.Context, seconds float64) {
	m.SpeechSegmentDuration.Record(ctx, seconds)
}
