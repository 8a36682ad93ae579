// Package module defines the contract between the simulation host and the
// world-generation modules it loads.
//
// A module is constructed by a [Factory], initialised once with a [World]
// handle, updated once per simulation tick, and shut down exactly once.
// Modules that generate worlds additionally implement [Generator]; modules
// that contribute per-tick callbacks implement [SystemProvider]. The host
// discovers these optional capabilities with type assertions.
//
// Hosts should drive modules through an [Instance], which enforces the
// lifecycle ordering and rejects calls made out of turn.
package module

import (
	"context"
	"encoding/json"
)

// ABIVersion is the contract revision implemented by this package. A host
// refuses modules that report a different revision in [Info].
const ABIVersion = 1

// Info describes a module to the host.
type Info struct {
	// Name is the module's unique instance name.
	Name string

	// Version is the module's own release version (free-form, usually semver).
	Version string

	// ABIVersion is the contract revision the module was built against.
	// Must equal [ABIVersion].
	ABIVersion int
}

// Module is the lifecycle surface every loaded module implements.
//
// The host guarantees that Init strictly precedes every other call and that
// Shutdown is the last call. Update is called once per tick; modules must
// not assume any ordering relative to sibling modules.
type Module interface {
	// Info returns static metadata about the module. It may be called in any
	// lifecycle state.
	Info() Info

	// Init prepares the module and may populate the live world through w.
	// A non-nil error prevents the module from ever running.
	Init(ctx context.Context, w *World) error

	// Update advances the module by dt seconds of simulation time.
	Update(dt float64)

	// Shutdown releases module resources. It is called exactly once.
	Shutdown()
}

// Generator is implemented by modules that generate world chunks.
type Generator interface {
	Module

	// WorldgenName is the dispatch key the host registers the module under.
	// It is pure and stable for the module's lifetime.
	WorldgenName() string

	// GenerateWorld decodes params, generates one chunk and returns the
	// encoded result as an owned [Document]. On error no document is
	// returned.
	GenerateWorld(ctx context.Context, params []byte) (*Document, error)
}

// SystemProvider is implemented by modules that contribute per-tick systems.
type SystemProvider interface {
	Module

	// RegisterSystems is called once, after a successful Init. The returned
	// callbacks stay owned by the module and must remain valid until
	// Shutdown.
	RegisterSystems(ctx context.Context, w *World) ([]System, error)
}

// System is a named per-tick callback contributed by a module.
type System struct {
	// Name identifies the system in the host's registry. Must be unique
	// across all loaded modules.
	Name string

	// After lists systems that must run before this one within a tick.
	After []string

	// Run is invoked by the host with the shared world handle and the tick's
	// delta time in seconds.
	Run func(ctx context.Context, w *World, dt float64) error
}

// Options carries module-specific configuration values into a [Factory].
type Options map[string]any

// String returns the string option key, or "" when absent or not a string.
func (o Options) String(key string) string {
	s, _ := o[key].(string)
	return s
}

// Float returns the numeric option key as a float64, or def when absent.
func (o Options) Float(key string, def float64) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}

// Factory constructs a fresh, fully initialised module instance. Factories
// replace load-time registration side effects: every call returns an
// independent module.
type Factory func(name string, opts Options) (Module, error)
