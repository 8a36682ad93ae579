// Package mock provides test doubles for the module contract.
//
// [Module] implements module.Generator and module.SystemProvider with
// configurable results and call records. [Capabilities] is an in-memory
// capability table that records every spawn and component write.
//
// Example:
//
//	m := &mock.Module{
//	    ModuleInfo:    module.Info{Name: "test", Version: "1.0.0", ABIVersion: module.ABIVersion},
//	    Worldgen:      "test_gen",
//	    GenerateDoc:   []byte(`{"topology":"province","cells":[]}`),
//	}
//	inst := module.NewInstance(m)
package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/MrWong99/tessera/pkg/module"
)

var (
	_ module.Generator      = (*Module)(nil)
	_ module.SystemProvider = (*Module)(nil)
	_ module.Capabilities   = (*Capabilities)(nil)
)

// GenerateCall records a single invocation of GenerateWorld.
type GenerateCall struct {
	// Params is a copy of the request document.
	Params []byte
}

// Module is a mock implementation of the module contract.
type Module struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ModuleInfo is returned by Info.
	ModuleInfo module.Info

	// Worldgen is returned by WorldgenName.
	Worldgen string

	// InitErr, if non-nil, is returned by Init.
	InitErr error

	// OnInit, if set, is called by Init before InitErr is returned.
	OnInit func(ctx context.Context, w *module.World) error

	// GenerateDoc is wrapped in a new document on every GenerateWorld call.
	GenerateDoc []byte

	// GenerateErr, if non-nil, is returned by GenerateWorld.
	GenerateErr error

	// Systems is returned by RegisterSystems.
	Systems []module.System

	// RegisterErr, if non-nil, is returned by RegisterSystems.
	RegisterErr error

	// --- Call records ---

	// InitCalls counts Init invocations.
	InitCalls int

	// UpdateCalls records the dt of every Update in order.
	UpdateCalls []float64

	// GenerateCalls records every GenerateWorld in order.
	GenerateCalls []GenerateCall

	// RegisterCalls counts RegisterSystems invocations.
	RegisterCalls int

	// ShutdownCalls counts Shutdown invocations.
	ShutdownCalls int
}

// Info implements module.Module.
func (m *Module) Info() module.Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ModuleInfo
}

// Init records the call, runs OnInit and returns InitErr.
func (m *Module) Init(ctx context.Context, w *module.World) error {
	m.mu.Lock()
	m.InitCalls++
	hook := m.OnInit
	err := m.InitErr
	m.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx, w); herr != nil {
			return herr
		}
	}
	return err
}

// Update records dt.
func (m *Module) Update(dt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls = append(m.UpdateCalls, dt)
}

// Shutdown records the call.
func (m *Module) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShutdownCalls++
}

// WorldgenName returns Worldgen.
func (m *Module) WorldgenName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Worldgen
}

// GenerateWorld records the call and returns GenerateErr or a fresh
// document holding a copy of GenerateDoc.
func (m *Module) GenerateWorld(_ context.Context, params []byte) (*module.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GenerateCalls = append(m.GenerateCalls, GenerateCall{Params: append([]byte(nil), params...)})
	if m.GenerateErr != nil {
		return nil, m.GenerateErr
	}
	return module.NewDocument(append([]byte(nil), m.GenerateDoc...)), nil
}

// RegisterSystems records the call and returns Systems.
func (m *Module) RegisterSystems(context.Context, *module.World) ([]module.System, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RegisterCalls++
	if m.RegisterErr != nil {
		return nil, m.RegisterErr
	}
	return m.Systems, nil
}

// UpdateCount returns the number of Update calls so far.
func (m *Module) UpdateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.UpdateCalls)
}

// ShutdownCount returns the number of Shutdown calls so far.
func (m *Module) ShutdownCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ShutdownCalls
}

// Reset clears all call records. Configured responses are kept.
func (m *Module) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitCalls = 0
	m.UpdateCalls = nil
	m.GenerateCalls = nil
	m.RegisterCalls = 0
	m.ShutdownCalls = 0
}

// SetComponentCall records a single invocation of SetComponent.
type SetComponentCall struct {
	ID    module.EntityID
	Name  string
	Value json.RawMessage
}

// Capabilities is a mock capability table.
type Capabilities struct {
	mu sync.Mutex

	// SpawnErr, if non-nil, is returned by SpawnEntity.
	SpawnErr error

	// SetErr, if non-nil, is returned by SetComponent.
	SetErr error

	// Spawned lists every entity handed out, in order.
	Spawned []module.EntityID

	// SetCalls records every SetComponent call in order.
	SetCalls []SetComponentCall

	next module.EntityID
}

// SpawnEntity hands out sequential ids starting at 1.
func (c *Capabilities) SpawnEntity(context.Context) (module.EntityID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SpawnErr != nil {
		return 0, c.SpawnErr
	}
	c.next++
	c.Spawned = append(c.Spawned, c.next)
	return c.next, nil
}

// SetComponent records the call and returns SetErr.
func (c *Capabilities) SetComponent(_ context.Context, id module.EntityID, name string, value json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetCalls = append(c.SetCalls, SetComponentCall{ID: id, Name: name, Value: append(json.RawMessage(nil), value...)})
	return c.SetErr
}

// Calls returns a snapshot of the recorded SetComponent calls.
func (c *Capabilities) Calls() []SetComponentCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SetComponentCall(nil), c.SetCalls...)
}
