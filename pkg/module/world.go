package module

import (
	"context"
	"encoding/json"
	"sync/atomic"
)

// EntityID identifies an entity in the host's world.
type EntityID uint32

// Capabilities is the set of host operations a module may use to affect the
// live simulation. Implementations must be safe for concurrent use; the
// host's world storage owns its own locking.
type Capabilities interface {
	// SpawnEntity creates a new, component-less entity.
	SpawnEntity(ctx context.Context) (EntityID, error)

	// SetComponent attaches or replaces the named component on id. value must
	// be a JSON document.
	SetComponent(ctx context.Context, id EntityID, name string, value json.RawMessage) error
}

// World is the handle to the live simulation that the host passes to
// modules. It is shared by every loaded module and valid until the host
// calls [World.Invalidate], after which every operation fails with
// [ErrWorldClosed].
type World struct {
	caps   Capabilities
	closed atomic.Bool
}

// NewWorld wraps caps in a world handle.
func NewWorld(caps Capabilities) *World {
	return &World{caps: caps}
}

// SpawnEntity creates a new entity through the host's capabilities.
func (w *World) SpawnEntity(ctx context.Context) (EntityID, error) {
	if w.closed.Load() {
		return 0, ErrWorldClosed
	}
	return w.caps.SpawnEntity(ctx)
}

// SetComponent sets a component through the host's capabilities.
func (w *World) SetComponent(ctx context.Context, id EntityID, name string, value json.RawMessage) error {
	if w.closed.Load() {
		return ErrWorldClosed
	}
	return w.caps.SetComponent(ctx, id, name, value)
}

// Invalidate ends the handle's lifetime. Modules holding a reference
// afterwards observe [ErrWorldClosed].
func (w *World) Invalidate() {
	w.closed.Store(true)
}

// Valid reports whether the handle may still be used.
func (w *World) Valid() bool {
	return !w.closed.Load()
}
