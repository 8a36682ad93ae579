package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/tessera"

// Span attribute keys shared by the host, the API and the MCP tools.
const (
	AttrModule   = attribute.Key("tessera.module")
	AttrKind     = attribute.Key("tessera.module.kind")
	AttrWorldgen = attribute.Key("tessera.worldgen")
	AttrTopology = attribute.Key("tessera.topology")
	AttrCells    = attribute.Key("tessera.cells")
	AttrTick     = attribute.Key("tessera.tick")
)

// Tracer returns the Tessera tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller ends it, usually with
// [EndSpan].
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartModuleSpan starts a span for a lifecycle operation on one module,
// e.g. "host.load_module".
func StartModuleSpan(ctx context.Context, op, module, kind string) (context.Context, trace.Span) {
	return StartSpan(ctx, op, AttrModule.String(module), AttrKind.String(kind))
}

// StartWorldgenSpan starts a span for one generation request routed to the
// module that owns worldgen.
func StartWorldgenSpan(ctx context.Context, op, worldgen, module string) (context.Context, trace.Span) {
	return StartSpan(ctx, op, AttrWorldgen.String(worldgen), AttrModule.String(module))
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// EndSpan sets attrs on span, records err as the span status and ends it.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
