// Package clock provides a small systems module that keeps a simulation
// clock entity in the world.
//
// On Init the module spawns one entity carrying a SimClock component. Every
// Update advances the clock, and the module's publish system writes the
// current reading back to the component once per tick.
package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/MrWong99/tessera/pkg/module"
)

const (
	// Kind is the registry key of the clock factory.
	Kind = "clock"

	// ComponentName is the component the clock entity carries.
	ComponentName = "SimClock"

	// Version is the module's release version.
	Version = "1.0.0"
)

var _ module.SystemProvider = (*Module)(nil)

// Reading is the value stored in the SimClock component.
type Reading struct {
	Ticks   uint64  `json:"ticks"`
	Elapsed float64 `json:"elapsed"`
}

// Module is the clock module.
type Module struct {
	name  string
	scale float64

	mu      sync.Mutex
	entity  module.EntityID
	reading Reading
}

// New is a [module.Factory]. The optional "time_scale" option multiplies
// every delta before it is accumulated; it must be positive.
func New(name string, opts module.Options) (module.Module, error) {
	scale := opts.Float("time_scale", 1)
	if scale <= 0 {
		return nil, fmt.Errorf("clock: time_scale must be positive, got %v", scale)
	}
	return &Module{name: name, scale: scale}, nil
}

// Info implements [module.Module].
func (m *Module) Info() module.Info {
	return module.Info{Name: m.name, Version: Version, ABIVersion: module.ABIVersion}
}

// Init spawns the clock entity and sets its initial reading.
func (m *Module) Init(ctx context.Context, w *module.World) error {
	id, err := w.SpawnEntity(ctx)
	if err != nil {
		return fmt.Errorf("clock: spawn entity: %w", err)
	}
	m.mu.Lock()
	m.entity = id
	m.mu.Unlock()

	if err := m.publish(ctx, w); err != nil {
		return fmt.Errorf("%w: %w", module.ErrComponentSet, err)
	}
	return nil
}

// Update advances the clock by dt scaled by the configured time scale.
func (m *Module) Update(dt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reading.Ticks++
	m.reading.Elapsed += dt * m.scale
}

// Shutdown implements [module.Module].
func (m *Module) Shutdown() {}

// RegisterSystems returns the publish system, named "<module>.publish".
func (m *Module) RegisterSystems(context.Context, *module.World) ([]module.System, error) {
	return []module.System{{
		Name: m.name + ".publish",
		Run: func(ctx context.Context, w *module.World, _ float64) error {
			return m.publish(ctx, w)
		},
	}}, nil
}

// Entity returns the clock entity spawned during Init.
func (m *Module) Entity() module.EntityID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entity
}

// Reading returns the current clock reading.
func (m *Module) Reading() Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reading
}

func (m *Module) publish(ctx context.Context, w *module.World) error {
	m.mu.Lock()
	id, r := m.entity, m.reading
	m.mu.Unlock()

	value, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return w.SetComponent(ctx, id, ComponentName, value)
}
