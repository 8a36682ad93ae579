// Package gridgen exposes the grid generator as loadable world-generation
// modules, one per topology.
//
// Each factory returns a fresh module holding no generation state; the
// worldgen name defaults to simple_<topology> and can be overridden with
// the "worldgen_name" option.
package gridgen

import (
	"context"
	"sync/atomic"

	"github.com/MrWong99/tessera/pkg/module"
	"github.com/MrWong99/tessera/pkg/worldgen"
)

// Version is the release version reported by the built-in grid modules.
const Version = "1.0.0"

var _ module.Generator = (*Module)(nil)

// Module adapts a [worldgen.Generator] to the module contract.
type Module struct {
	name     string
	worldgen string
	gen      worldgen.Generator
	closed   atomic.Bool
}

// New wraps gen as a module named name.
func New(name string, gen worldgen.Generator, opts module.Options) *Module {
	wg := opts.String("worldgen_name")
	if wg == "" {
		wg = "simple_" + string(gen.Topology())
	}
	return &Module{name: name, worldgen: wg, gen: gen}
}

// NewSquare is a [module.Factory] for the square grid module.
func NewSquare(name string, opts module.Options) (module.Module, error) {
	return New(name, worldgen.NewSquare(), opts), nil
}

// NewHex is a [module.Factory] for the hex grid module.
func NewHex(name string, opts module.Options) (module.Module, error) {
	return New(name, worldgen.NewHex(), opts), nil
}

// NewProvince is a [module.Factory] for the fixed province module.
func NewProvince(name string, opts module.Options) (module.Module, error) {
	return New(name, worldgen.NewProvince(), opts), nil
}

// Factories maps module kinds to the built-in grid factories.
func Factories() map[string]module.Factory {
	return map[string]module.Factory{
		string(worldgen.TopologySquare):   NewSquare,
		string(worldgen.TopologyHex):      NewHex,
		string(worldgen.TopologyProvince): NewProvince,
	}
}

// Info implements [module.Module].
func (m *Module) Info() module.Info {
	return module.Info{Name: m.name, Version: Version, ABIVersion: module.ABIVersion}
}

// Init implements [module.Module]. Grid modules do not touch the world.
func (m *Module) Init(context.Context, *module.World) error { return nil }

// Update implements [module.Module].
func (m *Module) Update(float64) {}

// Shutdown implements [module.Module]. Generation requests arriving
// afterwards are refused with [module.ErrShutDown].
func (m *Module) Shutdown() { m.closed.Store(true) }

// WorldgenName implements [module.Generator].
func (m *Module) WorldgenName() string { return m.worldgen }

// Topology reports the topology the module generates.
func (m *Module) Topology() worldgen.Topology { return m.gen.Topology() }

// GenerateWorld implements [module.Generator].
func (m *Module) GenerateWorld(_ context.Context, params []byte) (*module.Document, error) {
	if m.closed.Load() {
		return nil, module.ErrShutDown
	}
	doc, err := worldgen.GenerateDocument(params, m.gen.Topology())
	if err != nil {
		return nil, err
	}
	return module.NewDocument(doc), nil
}
