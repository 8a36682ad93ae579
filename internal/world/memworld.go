package world

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/tessera/pkg/module"
)

// Compile-time assertion that MemWorld satisfies the Store interface.
var _ Store = (*MemWorld)(nil)

// MemWorld is a thread-safe, in-memory implementation of [Store].
// Entity ids are handed out sequentially starting at 1.
type MemWorld struct {
	mu       sync.RWMutex
	next     module.EntityID
	entities map[module.EntityID]map[string]json.RawMessage
}

// NewMemWorld returns an empty [MemWorld].
func NewMemWorld() *MemWorld {
	return &MemWorld{entities: make(map[module.EntityID]map[string]json.RawMessage)}
}

// SpawnEntity implements [module.Capabilities].
func (w *MemWorld) SpawnEntity(ctx context.Context) (module.EntityID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	w.entities[w.next] = make(map[string]json.RawMessage)
	return w.next, nil
}

// SetComponent implements [module.Capabilities]. The value is copied.
func (w *MemWorld) SetComponent(ctx context.Context, id module.EntityID, name string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateComponent(name, value); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	comps, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	comps[name] = slices.Clone(value)
	return nil
}

// Component implements [Store].
func (w *MemWorld) Component(_ context.Context, id module.EntityID, name string) (json.RawMessage, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	comps, ok := w.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	v, ok := comps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %d/%s", ErrComponentNotFound, id, name)
	}
	return slices.Clone(v), nil
}

// Components implements [Store].
func (w *MemWorld) Components(_ context.Context, id module.EntityID) (map[string]json.RawMessage, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	comps, ok := w.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	out := make(map[string]json.RawMessage, len(comps))
	for k, v := range comps {
		out[k] = slices.Clone(v)
	}
	return out, nil
}

// Entities implements [Store].
func (w *MemWorld) Entities(context.Context) ([]module.EntityID, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Sorted(maps.Keys(w.entities)), nil
}
