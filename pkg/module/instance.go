package module

import (
	"context"
	"fmt"
	"sync"
)

// State is the lifecycle position of a module [Instance].
type State int

const (
	// StateUnloaded is the state of a constructed but not yet initialised module.
	StateUnloaded State = iota

	// StateInitialized follows a successful Init.
	StateInitialized

	// StateRunning is entered on the first Update.
	StateRunning

	// StateShutDown is terminal. No further calls reach the module.
	StateShutDown

	// StateFailed is entered when Init returns an error. The module never
	// runs; only Shutdown is still delivered.
	StateFailed
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateShutDown:
		return "shut_down"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Instance drives a [Module] through its lifecycle and rejects calls that
// arrive out of order. Calls into one module are serialised; an Instance is
// safe for concurrent use.
type Instance struct {
	mod Module

	mu    sync.Mutex
	state State
}

// NewInstance wraps m in the [StateUnloaded] state.
func NewInstance(m Module) *Instance {
	return &Instance{mod: m}
}

// Module returns the wrapped module.
func (i *Instance) Module() Module { return i.mod }

// Info returns the wrapped module's metadata.
func (i *Instance) Info() Info { return i.mod.Info() }

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Init initialises the module. It fails with [ErrABIMismatch] when the module
// was built against another contract revision, and moves the instance to
// [StateFailed] when the module's own Init fails.
func (i *Instance) Init(ctx context.Context, w *World) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch i.state {
	case StateUnloaded:
	case StateShutDown:
		return ErrShutDown
	case StateFailed:
		return ErrInitFailed
	default:
		return ErrAlreadyInitialized
	}

	info := i.mod.Info()
	if info.ABIVersion != ABIVersion {
		i.state = StateFailed
		return fmt.Errorf("%w: module %q reports %d, host supports %d",
			ErrABIMismatch, info.Name, info.ABIVersion, ABIVersion)
	}

	if err := i.mod.Init(ctx, w); err != nil {
		i.state = StateFailed
		return fmt.Errorf("module %q: init: %w", info.Name, err)
	}
	i.state = StateInitialized
	return nil
}

// Update advances the module by dt. The first successful Update moves the
// instance to [StateRunning].
func (i *Instance) Update(dt float64) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.checkActive(); err != nil {
		return err
	}
	i.mod.Update(dt)
	i.state = StateRunning
	return nil
}

// WorldgenName returns the module's dispatch key and true when the module is
// a [Generator].
func (i *Instance) WorldgenName() (string, bool) {
	g, ok := i.mod.(Generator)
	if !ok {
		return "", false
	}
	return g.WorldgenName(), true
}

// GenerateWorld forwards a generation request. It is valid while the
// instance is initialised or running.
func (i *Instance) GenerateWorld(ctx context.Context, params []byte) (*Document, error) {
	g, ok := i.mod.(Generator)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotGenerator, i.mod.Info().Name)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.checkActive(); err != nil {
		return nil, err
	}
	return g.GenerateWorld(ctx, params)
}

// RegisterSystems asks a [SystemProvider] module for its systems. Modules
// without systems return nil.
func (i *Instance) RegisterSystems(ctx context.Context, w *World) ([]System, error) {
	sp, ok := i.mod.(SystemProvider)
	if !ok {
		return nil, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.checkActive(); err != nil {
		return nil, err
	}
	return sp.RegisterSystems(ctx, w)
}

// Shutdown delivers the module's Shutdown exactly once, from any state. A
// second call returns [ErrShutDown].
func (i *Instance) Shutdown() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state == StateShutDown {
		return ErrShutDown
	}
	i.mod.Shutdown()
	i.state = StateShutDown
	return nil
}

// checkActive returns nil when the instance may receive work calls. Must be
// called with i.mu held.
func (i *Instance) checkActive() error {
	switch i.state {
	case StateInitialized, StateRunning:
		return nil
	case StateShutDown:
		return ErrShutDown
	case StateFailed:
		return ErrInitFailed
	default:
		return ErrNotInitialized
	}
}
