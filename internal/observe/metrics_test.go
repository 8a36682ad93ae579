package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the data point value of an int64 sum whose attributes
// contain key=value, and whether such a point exists.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value, true
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value, true
			}
		}
	}
	return 0, false
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"tessera.worldgen.duration", m.GenerateDuration},
		{"tessera.tick.duration", m.TickDuration},
		{"tessera.system.duration", m.SystemDuration},
		{"tessera.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.0123)
		tc.h.Record(ctx, 0.0456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordWorldgen(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWorldgen(ctx, "simple_square", "square", "ok", 0.002, 12)
	m.RecordWorldgen(ctx, "simple_square", "square", "ok", 0.003, 12)
	m.RecordWorldgen(ctx, "simple_square", "", "param_error", 0.0001, 0)

	rm := collect(t, reader)

	if got, ok := sumValue(t, rm, "tessera.worldgen.requests", "status", "ok"); !ok || got != 2 {
		t.Errorf("requests{status=ok} = %d (found %v), want 2", got, ok)
	}
	if got, ok := sumValue(t, rm, "tessera.worldgen.requests", "status", "param_error"); !ok || got != 1 {
		t.Errorf("requests{status=param_error} = %d (found %v), want 1", got, ok)
	}
	if got, ok := sumValue(t, rm, "tessera.worldgen.cells", "topology", "square"); !ok || got != 24 {
		t.Errorf("cells{topology=square} = %d (found %v), want 24", got, ok)
	}

	met := findMetric(rm, "tessera.worldgen.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if got := hist.DataPoints[0].Count; got != 3 {
		t.Errorf("duration sample count = %d, want 3", got)
	}
}

func TestRecordModuleEvent_TracksActiveModules(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordModuleEvent(ctx, "terrain", "init")
	m.RecordModuleEvent(ctx, "clock", "init")
	m.RecordModuleEvent(ctx, "broken", "init_failed")
	m.RecordModuleEvent(ctx, "clock", "shutdown")

	rm := collect(t, reader)

	if got, _ := sumValue(t, rm, "tessera.active_modules", "", ""); got != 1 {
		t.Errorf("active modules = %d, want 1", got)
	}
	if got, ok := sumValue(t, rm, "tessera.module.events", "event", "init_failed"); !ok || got != 1 {
		t.Errorf("events{event=init_failed} = %d (found %v), want 1", got, ok)
	}
}

func TestRecordSystem(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSystem(ctx, "clock.publish", 0.0001, nil)
	m.RecordSystem(ctx, "weather.advance", 0.0002, errors.New("boom"))
	m.RecordSystem(ctx, "weather.advance", 0.0002, errors.New("boom"))

	rm := collect(t, reader)

	if got, ok := sumValue(t, rm, "tessera.system.errors", "system", "weather.advance"); !ok || got != 2 {
		t.Errorf("errors{system=weather.advance} = %d (found %v), want 2", got, ok)
	}
	if _, ok := sumValue(t, rm, "tessera.system.errors", "system", "clock.publish"); ok {
		t.Error("successful system run was counted as an error")
	}
}

func TestToolCallsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "generate_world", "ok")
	m.RecordToolCall(ctx, "generate_world", "error")

	rm := collect(t, reader)
	if got, ok := sumValue(t, rm, "tessera.tool.calls", "status", "ok"); !ok || got != 1 {
		t.Errorf("tool calls{status=ok} = %d (found %v), want 1", got, ok)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// UpDownCounters are additive, so we simulate Set(n) as Add(n).
	m.TickSubscribers.Add(ctx, 1)
	m.TickSubscribers.Add(ctx, 1)
	m.TickSubscribers.Add(ctx, -1)
	m.ActiveModules.Add(ctx, 3)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"tessera.tick_subscribers", 1},
		{"tessera.active_modules", 3},
	}

	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			if got, _ := sumValue(t, rm, tc.name, "", ""); got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "tessera.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
