// Package worldgen implements the deterministic chunk grid generator.
//
// A generation call maps a [Request] (chunk extent, chunk offset and an
// ordered biome palette) to a topology-tagged [Result]: a list of cells with
// neighbor lists trimmed to the chunk and optional biome/terrain tags.
//
// Three topologies are supported:
//
//   - [TopologySquare]: 4-connected square grid, cells identified by "gx,gy,z".
//   - [TopologyHex]: 6-connected axial hex grid (q, r, z).
//   - [TopologyProvince]: a fixed, hand-placed region graph.
//
// Generation is a pure function of its inputs. Biome and terrain selection
// use modulo hashing over global coordinates; there is no random source.
package worldgen

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrParam is returned when a request document is missing, malformed or
// carries values of the wrong type. No partial result accompanies it.
var ErrParam = errors.New("worldgen: invalid request parameters")

// ErrAlloc is returned when a result document cannot be materialised.
var ErrAlloc = errors.New("worldgen: result document could not be encoded")

// ErrUnknownTopology is returned for a topology name that has no generator.
var ErrUnknownTopology = errors.New("worldgen: unknown topology")

// Topology names the connectivity scheme of a generated chunk.
type Topology string

const (
	TopologySquare   Topology = "square"
	TopologyHex      Topology = "hex"
	TopologyProvince Topology = "province"
)

// IsValid reports whether t is a recognised topology.
func (t Topology) IsValid() bool {
	switch t {
	case TopologySquare, TopologyHex, TopologyProvince:
		return true
	}
	return false
}

// Coord is a global cell coordinate. For hex cells X and Y hold the axial
// q and r components.
type Coord struct {
	X, Y, Z int
}

// Cell is a single generated cell. Which fields are populated depends on the
// topology of the enclosing [Result]:
//
//   - square: ID, Coord, Neighbors
//   - hex: Coord, Neighbors
//   - province: ID, NeighborIDs
//
// Tagged is set when a palette was applied; only then are Biome and Terrain
// meaningful and encoded.
type Cell struct {
	ID          string
	Coord       Coord
	Neighbors   []Coord
	NeighborIDs []string
	Tagged      bool
	Biome       string
	Terrain     string
}

// Result is the output of one generation call.
type Result struct {
	Topology Topology
	Cells    []Cell
}

// Generator produces the cells of one chunk for a single topology.
//
// Implementations hold no mutable state; a Generator may be shared freely.
type Generator interface {
	// Topology reports which topology this generator produces.
	Topology() Topology

	// Generate returns the cells for req. It never fails: request decoding
	// is the only fallible step and happens in [DecodeRequest].
	Generate(req Request) *Result
}

// ForTopology returns the generator variant registered for topo.
func ForTopology(topo Topology) (Generator, error) {
	switch topo {
	case TopologySquare:
		return NewSquare(), nil
	case TopologyHex:
		return NewHex(), nil
	case TopologyProvince:
		return NewProvince(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTopology, topo)
}

// Generate runs the generator for topo against req.
func Generate(req Request, topo Topology) (*Result, error) {
	g, err := ForTopology(topo)
	if err != nil {
		return nil, err
	}
	if topo != TopologyProvince {
		if err := req.checkExtent(); err != nil {
			return nil, err
		}
	}
	return g.Generate(req), nil
}

// GenerateDocument decodes params, generates the chunk and encodes the
// result document. Decoding failures wrap [ErrParam]; encoding failures wrap
// [ErrAlloc].
func GenerateDocument(params []byte, topo Topology) ([]byte, error) {
	g, err := ForTopology(topo)
	if err != nil {
		return nil, err
	}
	req, err := DecodeRequest(params, topo)
	if err != nil {
		return nil, err
	}
	doc, err := json.Marshal(g.Generate(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlloc, err)
	}
	return doc, nil
}
