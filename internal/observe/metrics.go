// Package observe provides application-wide observability primitives for
// Tessera: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Tessera metrics.
const meterName = "github.com/MrWong99/tessera"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- World generation ---

	// GenerateDuration tracks world generation latency. Use with attribute:
	//   attribute.String("worldgen", ...)
	GenerateDuration metric.Float64Histogram

	// WorldgenRequests counts generation requests. Use with attributes:
	//   attribute.String("worldgen", ...), attribute.String("status", ...)
	WorldgenRequests metric.Int64Counter

	// CellsGenerated counts cells in successful generation results. Use with
	// attributes: attribute.String("worldgen", ...), attribute.String("topology", ...)
	CellsGenerated metric.Int64Counter

	// --- Simulation loop ---

	// TickDuration tracks the duration of a full host tick.
	TickDuration metric.Float64Histogram

	// SystemDuration tracks a single system run. Use with attribute:
	//   attribute.String("system", ...)
	SystemDuration metric.Float64Histogram

	// SystemErrors counts failed system runs by system name.
	SystemErrors metric.Int64Counter

	// --- Module lifecycle ---

	// ModuleEvents counts lifecycle transitions. Use with attributes:
	//   attribute.String("module", ...), attribute.String("event", ...)
	ModuleEvents metric.Int64Counter

	// ActiveModules tracks the number of initialised, not yet shut down modules.
	ActiveModules metric.Int64UpDownCounter

	// --- Surfaces ---

	// TickSubscribers tracks connected tick stream clients.
	TickSubscribers metric.Int64UpDownCounter

	// ToolCalls counts MCP tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// generation calls, which range from sub-millisecond chunks to large grids.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// tickBuckets covers tick and system durations, which must stay well below
// the tick interval.
var tickBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.GenerateDuration, err = m.Float64Histogram("tessera.worldgen.duration",
		metric.WithDescription("Latency of world generation calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TickDuration, err = m.Float64Histogram("tessera.tick.duration",
		metric.WithDescription("Duration of a host tick including all systems."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SystemDuration, err = m.Float64Histogram("tessera.system.duration",
		metric.WithDescription("Duration of a single system run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.WorldgenRequests, err = m.Int64Counter("tessera.worldgen.requests",
		metric.WithDescription("Total world generation requests by worldgen and status."),
	); err != nil {
		return nil, err
	}
	if met.CellsGenerated, err = m.Int64Counter("tessera.worldgen.cells",
		metric.WithDescription("Total cells produced by successful generation calls."),
	); err != nil {
		return nil, err
	}
	if met.SystemErrors, err = m.Int64Counter("tessera.system.errors",
		metric.WithDescription("Total failed system runs by system name."),
	); err != nil {
		return nil, err
	}
	if met.ModuleEvents, err = m.Int64Counter("tessera.module.events",
		metric.WithDescription("Total module lifecycle events by module and event."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("tessera.tool.calls",
		metric.WithDescription("Total MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveModules, err = m.Int64UpDownCounter("tessera.active_modules",
		metric.WithDescription("Number of initialised modules that have not shut down."),
	); err != nil {
		return nil, err
	}
	if met.TickSubscribers, err = m.Int64UpDownCounter("tessera.tick_subscribers",
		metric.WithDescription("Number of connected tick stream clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tessera.http.request.duration",
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

// RecordWorldgen records one generation request: its latency, its outcome
// and, on success, the number of cells produced.
func (m *Metrics) RecordWorldgen(ctx context.Context, worldgen, topology, status string, seconds float64, cells int) {
	m.GenerateDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("worldgen", worldgen)))
	m.WorldgenRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("worldgen", worldgen),
			attribute.String("status", status),
		),
	)
	if cells > 0 {
		m.CellsGenerated.Add(ctx, int64(cells),
			metric.WithAttributes(
				attribute.String("worldgen", worldgen),
				attribute.String("topology", topology),
			),
		)
	}
}

// RecordModuleEvent records a lifecycle event such as "init", "init_failed"
// or "shutdown" and adjusts [Metrics.ActiveModules] accordingly.
func (m *Metrics) RecordModuleEvent(ctx context.Context, module, event string) {
	m.ModuleEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("module", module),
			attribute.String("event", event),
		),
	)
	switch event {
	case "init":
		m.ActiveModules.Add(ctx, 1)
	case "shutdown":
		m.ActiveModules.Add(ctx, -1)
	}
}

// RecordSystem records one system run.
func (m *Metrics) RecordSystem(ctx context.Context, system string, seconds float64, err error) {
	attrs := metric.WithAttributes(attribute.String("system", system))
	m.SystemDuration.Record(ctx, seconds, attrs)
	if err != nil {
		m.SystemErrors.Add(ctx, 1, attrs)
	}
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}
