package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// scopeName is the instrumentation scope for every span this module opens.
const scopeName = "github.com/voxfacile/voxfacile"

// Tracer returns the module's tracer from the globally registered provider.
func Tracer() trace.Tracer { return otel.Tracer(scopeName) }

// StartSpan opens a span under whatever span ctx already carries. The
// gateway middleware opens the root span per request; session internals
// nest under it through the context. Callers end the span themselves.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the trace ID of the span in ctx, or empty when there is
// none. It is what the UI shows next to a surfaced error so a report can be
// matched to server logs.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger bound to ctx's trace and span IDs, so a
// log line written deep in the frame path can be tied back to the request
// that produced it. Without an active span it is just [slog.Default].
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
