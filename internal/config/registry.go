package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/tessera/internal/suggest"
	"github.com/MrWong99/tessera/pkg/module"
)

// ErrModuleNotRegistered is returned by [Registry.CreateModule] when no
// factory has been registered under the requested kind.
var ErrModuleNotRegistered = errors.New("config: module kind not registered")

// Registry maps module kinds to their factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]module.Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]module.Factory)}
}

// RegisterModule registers a module factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) RegisterModule(kind string, factory module.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// CreateModule instantiates the module described by m using the factory
// registered under m.Kind. Returns [ErrModuleNotRegistered] if no factory
// has been registered for that kind.
func (r *Registry) CreateModule(m module.Manifest) (module.Module, error) {
	r.mu.RLock()
	factory, ok := r.factories[m.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: module/%q%s", ErrModuleNotRegistered, m.Kind, suggest.Hint(m.Kind, r.Kinds()))
	}
	mod, err := factory(m.Name, m.Options)
	if err != nil {
		return nil, fmt.Errorf("config: create module %q: %w", m.Name, err)
	}
	return mod, nil
}
