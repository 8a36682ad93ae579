package host_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/tessera/internal/host"
	"github.com/MrWong99/tessera/internal/observe"
	"github.com/MrWong99/tessera/pkg/module"
	"github.com/MrWong99/tessera/pkg/module/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestHost(t *testing.T, opts ...host.Option) (*host.Host, *mock.Capabilities) {
	t.Helper()
	caps := &mock.Capabilities{}
	opts = append([]host.Option{host.WithMetrics(testMetrics(t))}, opts...)
	return host.New(module.NewWorld(caps), opts...), caps
}

func newMock(name string) *mock.Module {
	return &mock.Module{ModuleInfo: module.Info{Name: name, Version: "1.0.0", ABIVersion: module.ABIVersion}}
}

func loaded(m *mock.Module, deps ...string) host.Loaded {
	return host.Loaded{
		Manifest: module.Manifest{
			Name:         m.ModuleInfo.Name,
			Version:      m.ModuleInfo.Version,
			Kind:         "mock",
			Dependencies: deps,
		},
		Module: m,
	}
}

// initOrder records the order in which modules are initialised.
type initOrder struct {
	mu    sync.Mutex
	names []string
}

func (o *initOrder) hook(name string) func(context.Context, *module.World) error {
	return func(context.Context, *module.World) error {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.names = append(o.names, name)
		return nil
	}
}

func moduleNames(st []host.ModuleStatus) []string {
	out := make([]string, len(st))
	for i, s := range st {
		out[i] = s.Name
	}
	return out
}

func TestHost_LoadResolvesDependencies(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)

	var order initOrder
	terrain, rivers, cities := newMock("terrain"), newMock("rivers"), newMock("cities")
	terrain.OnInit = order.hook("terrain")
	rivers.OnInit = order.hook("rivers")
	cities.OnInit = order.hook("cities")

	err := h.Load(context.Background(), []host.Loaded{
		loaded(cities, "rivers", "terrain"),
		loaded(rivers, "terrain"),
		loaded(terrain),
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"terrain", "rivers", "cities"}
	if !slices.Equal(order.names, want) {
		t.Errorf("init order = %v, want %v", order.names, want)
	}
	st := h.Modules()
	if got := moduleNames(st); !slices.Equal(got, want) {
		t.Errorf("Modules() = %v, want %v", got, want)
	}
	for _, s := range st {
		if s.State != "initialized" || s.Kind != "mock" || s.Version != "1.0.0" {
			t.Errorf("status %+v, want initialized mock 1.0.0", s)
		}
	}
	if h.Running() != 3 {
		t.Errorf("Running() = %d, want 3", h.Running())
	}
}

func TestHost_LoadAcrossCalls(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)
	ctx := context.Background()

	base := newMock("base")
	if err := h.Load(ctx, []host.Loaded{loaded(base)}); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	addon := newMock("addon")
	if err := h.Load(ctx, []host.Loaded{loaded(addon, "base")}); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if err := h.Load(ctx, []host.Loaded{loaded(newMock("base"))}); !errors.Is(err, module.ErrDuplicateModule) {
		t.Errorf("reloading a name err = %v, want ErrDuplicateModule", err)
	}
}

func TestHost_LoadInvalidGraph(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)

	a := newMock("a")
	err := h.Load(context.Background(), []host.Loaded{loaded(a, "ghost")})
	if !errors.Is(err, module.ErrMissingDependency) {
		t.Fatalf("err = %v, want ErrMissingDependency", err)
	}
	if a.InitCalls != 0 {
		t.Errorf("InitCalls = %d, want 0", a.InitCalls)
	}
	if len(h.Modules()) != 0 {
		t.Errorf("Modules() = %v, want empty", h.Modules())
	}
}

func TestHost_FailedModulesNeverRun(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)
	ctx := context.Background()

	broken := newMock("broken")
	broken.InitErr = errors.New("missing asset")
	stale := newMock("stale")
	stale.ModuleInfo.ABIVersion = module.ABIVersion + 1
	dependent := newMock("dependent")
	healthy := newMock("healthy")

	err := h.Load(ctx, []host.Loaded{
		loaded(broken),
		loaded(stale),
		loaded(dependent, "broken"),
		loaded(healthy),
	})
	if err == nil {
		t.Fatal("expected joined load errors")
	}
	for _, want := range []error{module.ErrABIMismatch, host.ErrDependencyFailed} {
		if !errors.Is(err, want) {
			t.Errorf("err = %v, want it to wrap %v", err, want)
		}
	}
	if !strings.Contains(err.Error(), "missing asset") {
		t.Errorf("err = %v, want the init failure message", err)
	}
	if dependent.InitCalls != 0 {
		t.Errorf("dependent InitCalls = %d, want 0", dependent.InitCalls)
	}

	if _, err := h.Tick(ctx, 0.05); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if broken.UpdateCount() != 0 || stale.UpdateCount() != 0 {
		t.Error("failed modules received Update")
	}
	if healthy.UpdateCount() != 1 {
		t.Errorf("healthy UpdateCount = %d, want 1", healthy.UpdateCount())
	}

	states := map[string]string{}
	for _, s := range h.Modules() {
		states[s.Name] = s.State
	}
	if states["broken"] != "failed" || states["stale"] != "failed" || states["healthy"] != "running" {
		t.Errorf("states = %v", states)
	}
	if _, ok := states["dependent"]; ok {
		t.Error("skipped module is tracked")
	}

	h.Shutdown(ctx)
	if broken.ShutdownCount() != 1 || stale.ShutdownCount() != 1 {
		t.Error("shutdown was not delivered to failed modules")
	}
	if dependent.ShutdownCount() != 0 {
		t.Error("shutdown delivered to a module that was never loaded")
	}
}

func TestHost_DisabledModuleSkipped(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)

	off := false
	m := newMock("off")
	l := loaded(m)
	l.Manifest.Enabled = &off

	if err := h.Load(context.Background(), []host.Loaded{l}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.InitCalls != 0 || len(h.Modules()) != 0 {
		t.Error("disabled module was loaded")
	}
}

func TestHost_TickUpdatesThenRunsSystems(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		events []string
	)
	log := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, s)
	}

	var reports []host.TickReport
	h, _ := newTestHost(t, host.WithTickObserver(func(r host.TickReport) { reports = append(reports, r) }))

	m := newMock("sim")
	m.Systems = []module.System{
		{Name: "sim.render", After: []string{"sim.physics"}, Run: func(context.Context, *module.World, float64) error {
			log("render")
			return nil
		}},
		{Name: "sim.physics", Run: func(context.Context, *module.World, float64) error {
			log("physics")
			return nil
		}},
	}
	ctx := context.Background()
	if err := h.Load(ctx, []host.Loaded{loaded(m)}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for range 2 {
		if _, err := h.Tick(ctx, 0.05); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	if got := m.UpdateCalls; !slices.Equal(got, []float64{0.05, 0.05}) {
		t.Errorf("UpdateCalls = %v", got)
	}
	if want := []string{"physics", "render", "physics", "render"}; !slices.Equal(events, want) {
		t.Errorf("system order = %v, want %v", events, want)
	}
	if len(reports) != 2 {
		t.Fatalf("observer got %d reports, want 2", len(reports))
	}
	if reports[1].Tick != 2 || reports[1].DT != 0.05 {
		t.Errorf("report = %+v, want tick 2 dt 0.05", reports[1])
	}
	if n := len(reports[0].Systems); n != 2 {
		t.Errorf("report has %d system results, want 2", n)
	}

	st := h.Modules()[0]
	if !slices.Equal(st.Systems, []string{"sim.render", "sim.physics"}) {
		t.Errorf("status systems = %v", st.Systems)
	}
}

func TestHost_TickReportsSystemErrors(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)

	m := newMock("weather")
	m.Systems = []module.System{{Name: "weather.rain", Run: func(context.Context, *module.World, float64) error {
		return errors.New("cloud missing")
	}}}
	ctx := context.Background()
	if err := h.Load(ctx, []host.Loaded{loaded(m)}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	report, err := h.Tick(ctx, 0.1)
	if err == nil || !strings.Contains(err.Error(), "cloud missing") {
		t.Fatalf("Tick err = %v, want system error", err)
	}
	if len(report.Errors) != 1 || report.Systems[0].Error == "" {
		t.Errorf("report = %+v, want the failure recorded", report)
	}
}

func TestHost_DuplicateSystemReported(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)

	ctx := context.Background()

	noop := func(context.Context, *module.World, float64) error { return nil }
	a, b, c := newMock("a"), newMock("b"), newMock("c")
	a.Systems = []module.System{{Name: "shared", Run: noop}}
	b.Systems = []module.System{{Name: "b.own", Run: noop}, {Name: "shared", Run: noop}}

	err := h.Load(ctx, []host.Loaded{loaded(a), loaded(b), loaded(c, "b")})
	if !errors.Is(err, host.ErrDuplicateSystem) {
		t.Fatalf("err = %v, want ErrDuplicateSystem", err)
	}
	if !errors.Is(err, host.ErrDependencyFailed) {
		t.Errorf("err = %v, want the dependent module reported as skipped", err)
	}
	// The module that lost the name is withdrawn entirely, including the
	// system it did register.
	if got := h.Systems().Names(); !slices.Equal(got, []string{"shared"}) {
		t.Errorf("Names() = %v, want [shared]", got)
	}

	states := make(map[string]string)
	for _, s := range h.Modules() {
		states[s.Name] = s.State
	}
	if states["b"] != module.StateShutDown.String() {
		t.Errorf("b state = %q, want shut_down", states["b"])
	}
	if _, ok := states["c"]; ok {
		t.Error("module depending on b was loaded")
	}
	if h.Running() != 1 {
		t.Errorf("Running() = %d, want 1", h.Running())
	}

	if _, err := h.Tick(ctx, 0.05); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if b.UpdateCount() != 0 {
		t.Errorf("b UpdateCount = %d, want 0", b.UpdateCount())
	}
	if a.UpdateCount() != 1 {
		t.Errorf("a UpdateCount = %d, want 1", a.UpdateCount())
	}

	h.Shutdown(ctx)
	if b.ShutdownCount() != 1 {
		t.Errorf("b ShutdownCount = %d, want 1", b.ShutdownCount())
	}
}

func TestHost_SetTickRateConcurrent(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)

	// No Run loop drains the channel; concurrent callers must still return.
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.SetTickRate(float64(10 + i))
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SetTickRate blocked")
	}
}

func TestHost_Shutdown(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)
	ctx := context.Background()

	mods := []*mock.Module{newMock("first"), newMock("second"), newMock("third")}
	var ls []host.Loaded
	for i, m := range mods {
		name := m.ModuleInfo.Name
		m.Systems = []module.System{{Name: name + ".sys", Run: func(context.Context, *module.World, float64) error { return nil }}}
		var deps []string
		if i > 0 {
			deps = []string{mods[i-1].ModuleInfo.Name}
		}
		ls = append(ls, loaded(m, deps...))
	}
	if err := h.Load(ctx, ls); err != nil {
		t.Fatalf("Load: %v", err)
	}

	w := h.World()
	h.Shutdown(ctx)
	h.Shutdown(ctx)

	for _, m := range mods {
		if m.ShutdownCount() != 1 {
			t.Errorf("%s ShutdownCount = %d, want 1", m.ModuleInfo.Name, m.ShutdownCount())
		}
	}
	if w.Valid() {
		t.Error("world handle still valid after shutdown")
	}
	if got := h.Systems().Names(); len(got) != 0 {
		t.Errorf("systems left after shutdown: %v", got)
	}
	if got := h.Worldgens(); len(got) != 0 {
		t.Errorf("worldgens left after shutdown: %v", got)
	}
	if _, err := h.Tick(ctx, 0.05); !errors.Is(err, host.ErrHostShutDown) {
		t.Errorf("Tick err = %v, want ErrHostShutDown", err)
	}
	if err := h.Load(ctx, []host.Loaded{loaded(newMock("late"))}); !errors.Is(err, host.ErrHostShutDown) {
		t.Errorf("Load err = %v, want ErrHostShutDown", err)
	}
	for _, s := range h.Modules() {
		if s.State != "shut_down" {
			t.Errorf("%s state = %s, want shut_down", s.Name, s.State)
		}
	}
}

// orderedShutdown is a module that appends its name to a shared log on
// Shutdown.
type orderedShutdown struct {
	*mock.Module
	log *[]string
}

func (m orderedShutdown) Shutdown() {
	m.Module.Shutdown()
	*m.log = append(*m.log, m.ModuleInfo.Name)
}

func TestHost_ShutdownOrderIsReverseLoadOrder(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)
	ctx := context.Background()

	var log []string
	a := orderedShutdown{Module: newMock("a"), log: &log}
	b := orderedShutdown{Module: newMock("b"), log: &log}
	c := orderedShutdown{Module: newMock("c"), log: &log}

	err := h.Load(ctx, []host.Loaded{
		{Manifest: module.Manifest{Name: "c", Version: "1", Kind: "mock", Dependencies: []string{"b"}}, Module: c},
		{Manifest: module.Manifest{Name: "a", Version: "1", Kind: "mock"}, Module: a},
		{Manifest: module.Manifest{Name: "b", Version: "1", Kind: "mock", Dependencies: []string{"a"}}, Module: b},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	h.Shutdown(ctx)

	if want := []string{"c", "b", "a"}; !slices.Equal(log, want) {
		t.Errorf("shutdown order = %v, want %v", log, want)
	}
}

func TestHost_Run(t *testing.T) {
	t.Parallel()

	ticks := make(chan host.TickReport, 64)
	h, _ := newTestHost(t, host.WithTickObserver(func(r host.TickReport) {
		select {
		case ticks <- r:
		default:
		}
	}))
	m := newMock("sim")
	if err := h.Load(context.Background(), []host.Loaded{loaded(m)}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, 200) }()

	deadline := time.After(5 * time.Second)
	for i := 0; i < 3; i++ {
		select {
		case r := <-ticks:
			if r.DT != 1.0/200 {
				t.Errorf("dt = %v, want %v", r.DT, 1.0/200)
			}
		case <-deadline:
			t.Fatal("timed out waiting for ticks")
		}
	}

	h.SetTickRate(100)
	h.SetTickRate(400)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if m.UpdateCount() < 3 {
		t.Errorf("UpdateCount = %d, want at least 3", m.UpdateCount())
	}
}
