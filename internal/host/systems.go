package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/tessera/internal/observe"
	"github.com/MrWong99/tessera/pkg/module"
)

var (
	// ErrDuplicateSystem is returned when a system name is already registered.
	ErrDuplicateSystem = errors.New("host: duplicate system")

	// ErrSystemNotFound is returned for operations on an unregistered system.
	ErrSystemNotFound = errors.New("host: system not found")

	// ErrSystemCycle is returned when system dependencies form a cycle.
	ErrSystemCycle = errors.New("host: system dependency cycle")

	// ErrInvalidSystem is returned for systems without a name or callback.
	ErrInvalidSystem = errors.New("host: invalid system")
)

type systemEntry struct {
	owner string
	sys   module.System
	after []string
	seq   int
}

// SystemResult is the outcome of one system run within a tick.
type SystemResult struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// SystemRegistry holds the per-tick systems contributed by modules and runs
// them in dependency order. Systems may be added and removed at any time,
// including between ticks. All methods are safe for concurrent use.
type SystemRegistry struct {
	metrics *observe.Metrics

	mu      sync.RWMutex
	systems map[string]*systemEntry
	seq     int
}

// NewSystemRegistry creates an empty registry. m may be nil.
func NewSystemRegistry(m *observe.Metrics) *SystemRegistry {
	return &SystemRegistry{metrics: m, systems: make(map[string]*systemEntry)}
}

// Register adds s on behalf of the module named owner. The system's After
// list becomes its initial dependencies.
func (r *SystemRegistry) Register(owner string, s module.System) error {
	if s.Name == "" || s.Run == nil {
		return fmt.Errorf("%w: system of module %q needs a name and a callback", ErrInvalidSystem, owner)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.systems[s.Name]; ok {
		return fmt.Errorf("%w: %q already registered by module %q", ErrDuplicateSystem, s.Name, prev.owner)
	}
	r.seq++
	r.systems[s.Name] = &systemEntry{
		owner: owner,
		sys:   s,
		after: slices.Clone(s.After),
		seq:   r.seq,
	}
	slog.Debug("system registered", "system", s.Name, "module", owner)
	return nil
}

// Unregister removes the system called name.
func (r *SystemRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.systems[name]; !ok {
		return fmt.Errorf("%w: %q", ErrSystemNotFound, name)
	}
	delete(r.systems, name)
	return nil
}

// UnregisterOwner removes every system registered by owner and returns
// their names in registration order.
func (r *SystemRegistry) UnregisterOwner(owner string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*systemEntry
	for name, e := range r.systems {
		if e.owner == owner {
			removed = append(removed, e)
			delete(r.systems, name)
		}
	}
	slices.SortFunc(removed, func(a, b *systemEntry) int { return a.seq - b.seq })
	names := make([]string, len(removed))
	for i, e := range removed {
		names[i] = e.sys.Name
	}
	return names
}

// SetDependencies replaces the list of systems that must run before name.
func (r *SystemRegistry) SetDependencies(name string, after []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.systems[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSystemNotFound, name)
	}
	e.after = slices.Clone(after)
	return nil
}

// Names returns all registered system names in registration order.
func (r *SystemRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.sortedLocked()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.sys.Name
	}
	return names
}

// Order returns the run order: every system follows its dependencies, and
// among ready systems the earlier registration runs first. Dependencies on
// systems that are not registered are ignored.
func (r *SystemRegistry) Order() ([]string, error) {
	r.mu.RLock()
	entries, err := r.orderLocked()
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.sys.Name
	}
	return names, nil
}

// Run invokes the single system called name.
func (r *SystemRegistry) Run(ctx context.Context, name string, w *module.World, dt float64) error {
	r.mu.RLock()
	e, ok := r.systems[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrSystemNotFound, name)
	}
	return r.run(ctx, e, w, dt).err
}

// RunAll invokes every system once in [SystemRegistry.Order]. A failing
// system does not stop the others; all failures are returned joined.
func (r *SystemRegistry) RunAll(ctx context.Context, w *module.World, dt float64) error {
	_, err := r.runAll(ctx, w, dt)
	return err
}

func (r *SystemRegistry) runAll(ctx context.Context, w *module.World, dt float64) ([]SystemResult, error) {
	r.mu.RLock()
	entries, err := r.orderLocked()
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	results := make([]SystemResult, 0, len(entries))
	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		out := r.run(ctx, e, w, dt)
		res := SystemResult{Name: e.sys.Name, Duration: out.took}
		if out.err != nil {
			res.Error = out.err.Error()
			errs = append(errs, out.err)
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

type runOutcome struct {
	took time.Duration
	err  error
}

func (r *SystemRegistry) run(ctx context.Context, e *systemEntry, w *module.World, dt float64) runOutcome {
	start := time.Now()
	err := e.sys.Run(ctx, w, dt)
	took := time.Since(start)
	if err != nil {
		err = fmt.Errorf("system %q: %w", e.sys.Name, err)
	}
	if r.metrics != nil {
		r.metrics.RecordSystem(ctx, e.sys.Name, took.Seconds(), err)
	}
	return runOutcome{took: took, err: err}
}

// sortedLocked returns entries in registration order. Must be called with
// r.mu held.
func (r *SystemRegistry) sortedLocked() []*systemEntry {
	entries := make([]*systemEntry, 0, len(r.systems))
	for _, e := range r.systems {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *systemEntry) int { return a.seq - b.seq })
	return entries
}

// orderLocked must be called with r.mu held.
func (r *SystemRegistry) orderLocked() ([]*systemEntry, error) {
	pending := r.sortedLocked()
	placed := make(map[string]bool, len(pending))
	order := make([]*systemEntry, 0, len(pending))

	deps := make(map[*systemEntry][]string, len(pending))
	for _, e := range pending {
		for _, dep := range e.after {
			if _, known := r.systems[dep]; !known {
				slog.Debug("ignoring dependency on unregistered system", "system", e.sys.Name, "after", dep)
				continue
			}
			deps[e] = append(deps[e], dep)
		}
	}

	ready := func(e *systemEntry) bool {
		for _, dep := range deps[e] {
			if !placed[dep] {
				return false
			}
		}
		return true
	}

	for len(pending) > 0 {
		i := slices.IndexFunc(pending, ready)
		if i < 0 {
			stuck := make([]string, len(pending))
			for j, e := range pending {
				stuck[j] = e.sys.Name
			}
			return nil, fmt.Errorf("%w: %s", ErrSystemCycle, strings.Join(stuck, ", "))
		}
		e := pending[i]
		placed[e.sys.Name] = true
		order = append(order, e)
		pending = slices.Delete(pending, i, i+1)
	}
	return order, nil
}
