package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/MrWong99/tessera/internal/gridmap"
	"github.com/MrWong99/tessera/internal/observe"
	"github.com/MrWong99/tessera/internal/resilience"
	"github.com/MrWong99/tessera/internal/suggest"
	"github.com/MrWong99/tessera/pkg/module"
)

var (
	// ErrWorldgenNotFound is returned by [Host.Generate] for unknown names.
	ErrWorldgenNotFound = errors.New("host: worldgen not found")

	// ErrDuplicateWorldgen is returned when two modules report the same
	// worldgen name.
	ErrDuplicateWorldgen = errors.New("host: duplicate worldgen")

	// ErrValidation wraps errors returned by map validators.
	ErrValidation = errors.New("host: map validation failed")
)

type worldgenEntry struct {
	owner   *loadedModule
	breaker *resilience.CircuitBreaker
}

// Generated is the result of a successful [Host.Generate] call.
type Generated struct {
	Worldgen string
	Module   string
	Map      *gridmap.Map

	// Document is the encoded map after postprocessing.
	Document []byte
}

// AddPostprocessor registers fn to run on every generated map before
// validation. Postprocessors run in registration order.
func (h *Host) AddPostprocessor(fn func(*gridmap.Map)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.postprocessors = append(h.postprocessors, fn)
}

// AddValidator registers fn to check every generated map after
// postprocessing. The first failing validator aborts the request.
func (h *Host) AddValidator(fn func(*gridmap.Map) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.validators = append(h.validators, fn)
}

// Worldgens returns the registered worldgen names, sorted.
func (h *Host) Worldgens() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.worldgens))
	for name := range h.worldgens {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// BreakerState returns the circuit breaker state of the worldgen name.
func (h *Host) BreakerState(name string) (resilience.State, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	e, ok := h.worldgens[name]
	if !ok {
		return resilience.StateClosed, false
	}
	return e.breaker.State(), true
}

func (h *Host) registerWorldgen(name string, lm *loadedModule) error {
	cfg := h.breakerCfg
	cfg.Name = name
	cfg.IsFailure = isModuleFailure

	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.worldgens[name]; ok {
		return fmt.Errorf("%w: %q is provided by %q and %q",
			ErrDuplicateWorldgen, name, prev.owner.manifest.Name, lm.manifest.Name)
	}
	h.worldgens[name] = &worldgenEntry{owner: lm, breaker: resilience.NewCircuitBreaker(cfg)}
	lm.worldgen = name
	return nil
}

// isModuleFailure reports whether err should count against a module's
// breaker. Malformed requests and cancelled callers are not the module's
// fault.
func isModuleFailure(err error) bool {
	switch {
	case errors.Is(err, module.ErrParam),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Generate dispatches params to the module registered as name and returns
// the decoded, postprocessed and validated map.
//
// The module's document is checked for the required fields, handed to the
// postprocessors, checked again, and finally passed to the validators.
func (h *Host) Generate(ctx context.Context, name string, params []byte) (*Generated, error) {
	h.mu.RLock()
	e, ok := h.worldgens[name]
	post := slices.Clone(h.postprocessors)
	validators := slices.Clone(h.validators)
	var known []string
	if !ok {
		known = make([]string, 0, len(h.worldgens))
		for n := range h.worldgens {
			known = append(known, n)
		}
	}
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q%s", ErrWorldgenNotFound, name, suggest.Hint(name, known))
	}

	owner := e.owner.manifest.Name
	ctx, span := observe.StartWorldgenSpan(ctx, "host.generate", name, owner)
	start := time.Now()

	out, err := h.generate(ctx, e, name, params, post, validators)

	status := module.StatusOf(err).String()
	if errors.Is(err, resilience.ErrCircuitOpen) {
		status = "circuit_open"
	}
	var topology string
	var cells int
	if out != nil {
		topology = string(out.Map.Topology())
		cells = out.Map.Len()
	}
	h.metrics.RecordWorldgen(ctx, name, topology, status, time.Since(start).Seconds(), cells)
	observe.EndSpan(span, err, observe.AttrTopology.String(topology), observe.AttrCells.Int(cells))

	if err != nil {
		observe.Logger(ctx).Warn("world generation failed", "worldgen", name, "module", owner, "status", status, "err", err)
		return nil, err
	}
	observe.Logger(ctx).Debug("world generated", "worldgen", name, "module", owner, "cells", cells, "topology", topology)
	return out, nil
}

func (h *Host) generate(ctx context.Context, e *worldgenEntry, name string, params []byte,
	post []func(*gridmap.Map), validators []func(*gridmap.Map) error) (*Generated, error) {
	var raw []byte
	err := e.breaker.Execute(func() error {
		doc, err := e.owner.inst.GenerateWorld(ctx, params)
		if err != nil {
			return err
		}
		raw, err = doc.Take()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("worldgen %q: %w", name, err)
	}

	m, err := gridmap.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("worldgen %q: module document: %w", name, err)
	}

	if len(post) > 0 {
		for _, fn := range post {
			fn(m)
		}
		if raw, err = m.Encode(); err != nil {
			return nil, fmt.Errorf("worldgen %q: encode: %w", name, err)
		}
		if m, err = gridmap.Decode(raw); err != nil {
			return nil, fmt.Errorf("worldgen %q: after postprocessing: %w", name, err)
		}
	}

	for _, fn := range validators {
		if err := fn(m); err != nil {
			return nil, fmt.Errorf("%w: worldgen %q: %w", ErrValidation, name, err)
		}
	}

	if len(post) == 0 {
		// Re-encode so callers always receive the canonical document shape.
		if raw, err = m.Encode(); err != nil {
			return nil, fmt.Errorf("worldgen %q: encode: %w", name, err)
		}
	}
	return &Generated{Worldgen: name, Module: e.owner.manifest.Name, Map: m, Document: raw}, nil
}

// GenerateChunks generates an n×n block of adjacent chunks and merges them
// into one map. params is the base request; its chunk offsets are
// overwritten so that chunk (i, j) starts at cell (i*width, j*height).
func (h *Host) GenerateChunks(ctx context.Context, name string, params map[string]any, n int) (*gridmap.Map, error) {
	if n <= 0 {
		n = 1
	}
	width, height := intParam(params, "width"), intParam(params, "height")

	var merged *gridmap.Map
	for j := range n {
		for i := range n {
			doc, err := chunkParams(params, i*width, j*height)
			if err != nil {
				return nil, err
			}
			g, err := h.Generate(ctx, name, doc)
			if err != nil {
				return nil, fmt.Errorf("chunk (%d,%d): %w", i, j, err)
			}
			if merged == nil {
				merged = g.Map
				continue
			}
			if err := merged.Merge(g.Map); err != nil {
				return nil, fmt.Errorf("chunk (%d,%d): %w", i, j, err)
			}
		}
	}
	slog.Debug("chunks merged", "worldgen", name, "chunks", n*n, "cells", merged.Len())
	return merged, nil
}

func chunkParams(base map[string]any, x, y int) ([]byte, error) {
	p := maps.Clone(base)
	if p == nil {
		p = make(map[string]any, 4)
	}
	p["chunk_x"], p["chunk_y"] = x, y
	p["chunk_q"], p["chunk_r"] = x, y
	doc, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", module.ErrParam, err)
	}
	return doc, nil
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}
