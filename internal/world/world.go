// Package world provides the entity/component stores behind the capability
// table handed to modules.
//
// A store assigns entity ids and keeps one JSON value per (entity, component
// name). [MemWorld] keeps everything in memory; the postgres sub-package
// persists it in PostgreSQL.
package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/tessera/pkg/module"
)

var (
	// ErrUnknownEntity is returned when a component targets an entity the
	// store never handed out.
	ErrUnknownEntity = errors.New("world: unknown entity")

	// ErrInvalidComponent is returned for an empty component name or a value
	// that is not valid JSON.
	ErrInvalidComponent = errors.New("world: invalid component")

	// ErrComponentNotFound is returned by Component lookups for an entity
	// that does not carry the named component.
	ErrComponentNotFound = errors.New("world: component not found")
)

// Store is a capability table that can also be inspected.
type Store interface {
	module.Capabilities

	// Component returns the value of one component.
	Component(ctx context.Context, id module.EntityID, name string) (json.RawMessage, error)

	// Components returns every component of an entity keyed by name.
	Components(ctx context.Context, id module.EntityID) (map[string]json.RawMessage, error)

	// Entities lists all entities in ascending id order.
	Entities(ctx context.Context) ([]module.EntityID, error)
}

// ValidateComponent checks a component write before it reaches a store.
func ValidateComponent(name string, value json.RawMessage) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidComponent)
	}
	if !json.Valid(value) {
		return fmt.Errorf("%w: %q value is not valid JSON", ErrInvalidComponent, name)
	}
	return nil
}
