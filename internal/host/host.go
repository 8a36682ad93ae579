// Package host loads world generation modules and drives them.
//
// A [Host] owns the module lifecycle: it initialises modules in dependency
// order, advances them once per tick, runs the systems they contribute,
// dispatches world generation requests by worldgen name and finally shuts
// every module down in reverse order.
//
// All exported methods are safe for concurrent use.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/tessera/internal/gridmap"
	"github.com/MrWong99/tessera/internal/observe"
	"github.com/MrWong99/tessera/internal/resilience"
	"github.com/MrWong99/tessera/pkg/module"
)

// DefaultTickRate is used by [Host.Run] when the requested rate is not
// positive.
const DefaultTickRate = 20.0

var (
	// ErrHostShutDown is returned by [Host.Load] and [Host.Tick] after
	// [Host.Shutdown].
	ErrHostShutDown = errors.New("host: shut down")

	// ErrDependencyFailed is reported for modules skipped because a
	// dependency failed to initialise.
	ErrDependencyFailed = errors.New("host: dependency failed")
)

// Loaded pairs a constructed module with the manifest it was built from.
type Loaded struct {
	Manifest module.Manifest
	Module   module.Module
}

// ModuleStatus is a point-in-time view of one loaded module.
type ModuleStatus struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Version  string   `json:"version"`
	State    string   `json:"state"`
	Worldgen string   `json:"worldgen,omitempty"`
	Systems  []string `json:"systems,omitempty"`
}

// TickReport summarises one completed tick.
type TickReport struct {
	Tick     uint64         `json:"tick"`
	DT       float64        `json:"dt"`
	Duration time.Duration  `json:"duration_ns"`
	Systems  []SystemResult `json:"systems,omitempty"`
	Errors   []string       `json:"errors,omitempty"`
}

// TickObserver receives every [TickReport]. It is called synchronously from
// the tick and must not block.
type TickObserver func(TickReport)

type loadedModule struct {
	manifest module.Manifest
	inst     *module.Instance
	worldgen string
	systems  []string
}

// Host drives a set of modules against one shared world.
type Host struct {
	world      *module.World
	metrics    *observe.Metrics
	breakerCfg resilience.CircuitBreakerConfig
	observers  []TickObserver
	systems    *SystemRegistry
	rateCh     chan float64
	rateMu     sync.Mutex

	mu             sync.RWMutex
	modules        []*loadedModule
	byName         map[string]*loadedModule
	worldgens      map[string]*worldgenEntry
	postprocessors []func(*gridmap.Map)
	validators     []func(*gridmap.Map) error
	shutdown       bool

	// tickMu serialises ticks.
	tickMu sync.Mutex
	ticks  uint64
}

// Option configures a [Host] during construction.
type Option func(*Host)

// WithMetrics records host activity on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// WithBreakerConfig sets the template for the per-worldgen circuit
// breakers. Name and IsFailure are filled in by the host.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(h *Host) { h.breakerCfg = cfg }
}

// WithTickObserver adds an observer that receives every [TickReport].
func WithTickObserver(o TickObserver) Option {
	return func(h *Host) { h.observers = append(h.observers, o) }
}

// New creates a host around the shared world handle w.
func New(w *module.World, opts ...Option) *Host {
	h := &Host{
		world:     w,
		byName:    make(map[string]*loadedModule),
		worldgens: make(map[string]*worldgenEntry),
		rateCh:    make(chan float64, 1),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	h.systems = NewSystemRegistry(h.metrics)
	return h
}

// World returns the shared world handle.
func (h *Host) World() *module.World { return h.world }

// Systems returns the host's system registry.
func (h *Host) Systems() *SystemRegistry { return h.systems }

// Load initialises mods in dependency order, registers their worldgens and
// systems, and starts tracking them. Dependencies may name modules loaded by
// an earlier call. A module whose Init fails never runs, and modules that
// depend on it are skipped; all such failures are returned joined. Load
// fails without initialising anything when the dependency graph is invalid.
func (h *Host) Load(ctx context.Context, mods []Loaded) error {
	h.mu.RLock()
	closed := h.shutdown
	loaded := make(map[string]bool, len(h.byName))
	for name := range h.byName {
		loaded[name] = true
	}
	h.mu.RUnlock()
	if closed {
		return ErrHostShutDown
	}

	manifests := make([]module.Manifest, 0, len(mods))
	byName := make(map[string]module.Module, len(mods))
	for _, l := range mods {
		if !l.Manifest.IsEnabled() {
			slog.Info("module disabled, skipping", "module", l.Manifest.Name)
			continue
		}
		if loaded[l.Manifest.Name] {
			return fmt.Errorf("%w: %q is already loaded", module.ErrDuplicateModule, l.Manifest.Name)
		}
		m := l.Manifest
		m.Dependencies = slices.DeleteFunc(slices.Clone(m.Dependencies), func(dep string) bool { return loaded[dep] })
		manifests = append(manifests, m)
		byName[m.Name] = l.Module
	}

	order, err := module.ResolveLoadOrder(manifests)
	if err != nil {
		return fmt.Errorf("host: resolve load order: %w", err)
	}

	var errs []error
	failed := make(map[string]bool)
	for _, m := range order {
		if i := slices.IndexFunc(m.Dependencies, func(dep string) bool { return failed[dep] }); i >= 0 {
			failed[m.Name] = true
			errs = append(errs, fmt.Errorf("%w: module %q needs %q", ErrDependencyFailed, m.Name, m.Dependencies[i]))
			slog.Warn("module skipped", "module", m.Name, "dependency", m.Dependencies[i])
			continue
		}
		if err := h.loadOne(ctx, m, byName[m.Name]); err != nil {
			failed[m.Name] = true
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// loadOne initialises a single module and registers what it contributes.
// The module is tracked even when Init fails so that Shutdown still reaches
// it.
func (h *Host) loadOne(ctx context.Context, m module.Manifest, mod module.Module) error {
	ctx, span := observe.StartModuleSpan(ctx, "host.load_module", m.Name, m.Kind)

	lm := &loadedModule{manifest: m, inst: module.NewInstance(mod)}
	h.mu.Lock()
	h.modules = append(h.modules, lm)
	h.byName[m.Name] = lm
	h.mu.Unlock()

	if err := lm.inst.Init(ctx, h.world); err != nil {
		h.metrics.RecordModuleEvent(ctx, m.Name, "init_failed")
		slog.Error("module init failed", "module", m.Name, "kind", m.Kind, "status", module.StatusOf(err).String(), "err", err)
		observe.EndSpan(span, err)
		return err
	}
	h.metrics.RecordModuleEvent(ctx, m.Name, "init")

	var errs []error
	if name, ok := lm.inst.WorldgenName(); ok && name != "" {
		if err := h.registerWorldgen(name, lm); err != nil {
			errs = append(errs, err)
		}
	}

	systems, err := lm.inst.RegisterSystems(ctx, h.world)
	if err != nil {
		errs = append(errs, fmt.Errorf("module %q: register systems: %w", m.Name, err))
	}
	var registered []string
	for _, s := range systems {
		if err := h.systems.Register(m.Name, s); err != nil {
			errs = append(errs, err)
			continue
		}
		registered = append(registered, s.Name)
	}
	h.mu.Lock()
	lm.systems = registered
	worldgen := lm.worldgen
	h.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		h.abandon(ctx, lm)
		slog.Error("module registration failed", "module", m.Name, "kind", m.Kind, "err", err)
		observe.EndSpan(span, err)
		return err
	}

	slog.Info("module initialised", "module", m.Name, "kind", m.Kind, "version", m.Version,
		"worldgen", worldgen, "systems", len(registered))
	observe.EndSpan(span, nil)
	return nil
}

// abandon shuts down a module that initialised but could not register
// everything it contributes. Its worldgen and systems are withdrawn so that
// it never runs, matching a module whose Init failed.
func (h *Host) abandon(ctx context.Context, lm *loadedModule) {
	name := lm.manifest.Name
	h.systems.UnregisterOwner(name)

	h.mu.Lock()
	if e, ok := h.worldgens[lm.worldgen]; ok && e.owner == lm {
		delete(h.worldgens, lm.worldgen)
	}
	lm.worldgen = ""
	lm.systems = nil
	h.mu.Unlock()

	if err := lm.inst.Shutdown(); err == nil {
		h.metrics.RecordModuleEvent(ctx, name, "shutdown")
	}
}

// Tick advances every active module by dt seconds in load order, then runs
// all registered systems. The report is passed to every observer and
// returned together with any system errors.
func (h *Host) Tick(ctx context.Context, dt float64) (TickReport, error) {
	h.tickMu.Lock()
	defer h.tickMu.Unlock()

	h.mu.RLock()
	if h.shutdown {
		h.mu.RUnlock()
		return TickReport{}, ErrHostShutDown
	}
	mods := slices.Clone(h.modules)
	h.mu.RUnlock()

	h.ticks++
	ctx, span := observe.StartSpan(ctx, "host.tick", observe.AttrTick.Int64(int64(h.ticks)))
	start := time.Now()
	report := TickReport{Tick: h.ticks, DT: dt}

	for _, lm := range mods {
		switch lm.inst.State() {
		case module.StateInitialized, module.StateRunning:
		default:
			continue
		}
		if err := lm.inst.Update(dt); err != nil && !errors.Is(err, module.ErrShutDown) {
			slog.Warn("module update rejected", "module", lm.manifest.Name, "err", err)
		}
	}

	results, err := h.systems.runAll(ctx, h.world, dt)
	report.Systems = results
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	report.Duration = time.Since(start)

	h.metrics.TickDuration.Record(ctx, report.Duration.Seconds())
	observe.EndSpan(span, err)

	for _, o := range h.observers {
		o(report)
	}
	return report, err
}

// SetTickRate changes the rate of a running [Host.Run] loop. It never
// blocks; only the most recent rate is kept.
func (h *Host) SetTickRate(rate float64) {
	h.rateMu.Lock()
	defer h.rateMu.Unlock()
	select {
	case <-h.rateCh:
	default:
	}
	// Only Run receives from rateCh, so under rateMu the slot is free.
	select {
	case h.rateCh <- rate:
	default:
	}
}

// Run ticks the host at rate ticks per second until ctx is done. Every tick
// uses a fixed step of 1/rate seconds.
func (h *Host) Run(ctx context.Context, rate float64) error {
	if rate <= 0 {
		rate = DefaultTickRate
	}
	ticker := time.NewTicker(interval(rate))
	defer ticker.Stop()

	slog.Info("tick loop started", "tick_rate", rate)
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-h.rateCh:
			if r <= 0 {
				r = DefaultTickRate
			}
			if r != rate {
				rate = r
				ticker.Reset(interval(rate))
				slog.Info("tick rate changed", "tick_rate", rate)
			}
		case <-ticker.C:
			if _, err := h.Tick(ctx, 1/rate); err != nil {
				if errors.Is(err, ErrHostShutDown) {
					return nil
				}
				slog.Warn("tick completed with errors", "err", err)
			}
		}
	}
}

func interval(rate float64) time.Duration {
	return time.Duration(float64(time.Second) / rate)
}

// Shutdown shuts every module down exactly once in reverse load order,
// drops their systems and worldgens, and invalidates the world handle.
// Calling Shutdown again is a no-op.
func (h *Host) Shutdown(ctx context.Context) {
	h.tickMu.Lock()
	defer h.tickMu.Unlock()

	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		return
	}
	h.shutdown = true
	mods := slices.Clone(h.modules)
	clear(h.worldgens)
	h.mu.Unlock()

	for _, lm := range slices.Backward(mods) {
		name := lm.manifest.Name
		h.systems.UnregisterOwner(name)
		if lm.inst.State() == module.StateShutDown {
			continue
		}
		wasActive := lm.inst.State() == module.StateInitialized || lm.inst.State() == module.StateRunning
		if err := lm.inst.Shutdown(); err != nil {
			slog.Warn("module shutdown", "module", name, "err", err)
			continue
		}
		if wasActive {
			h.metrics.RecordModuleEvent(ctx, name, "shutdown")
		}
		slog.Info("module shut down", "module", name)
	}
	h.world.Invalidate()
}

// Modules returns the status of every tracked module in load order.
func (h *Host) Modules() []ModuleStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ModuleStatus, len(h.modules))
	for i, lm := range h.modules {
		out[i] = ModuleStatus{
			Name:     lm.manifest.Name,
			Kind:     lm.manifest.Kind,
			Version:  lm.manifest.Version,
			State:    lm.inst.State().String(),
			Worldgen: lm.worldgen,
			Systems:  slices.Clone(lm.systems),
		}
	}
	return out
}

// Running returns the number of modules that are initialised or running.
func (h *Host) Running() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, lm := range h.modules {
		switch lm.inst.State() {
		case module.StateInitialized, module.StateRunning:
			n++
		}
	}
	return n
}
