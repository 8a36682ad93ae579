package worldgen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// Request is a decoded generation request. Extents are never negative once
// produced by [DecodeRequest]. For hex requests ChunkX and ChunkY carry the
// chunk_q and chunk_r offsets.
type Request struct {
	Width   int
	Height  int
	ZLevels int
	ChunkX  int
	ChunkY  int
	Biomes  []Biome
}

// MaxCells bounds the number of cells a single square or hex request may
// produce. Larger requests are rejected with [ErrParam] before any cell is
// allocated.
const MaxCells = 1 << 22

// Biome is one palette entry. A nil Name means the document carried no
// string name; a nil entry in Tiles is a tile that is not a string.
type Biome struct {
	Name  *string
	Tiles []*string
}

// DecodeRequest parses a generation request document for the given
// topology. The document must be a JSON object; anything else wraps
// [ErrParam]. Beyond that, fields are read leniently: an absent or
// non-integer number reads as 0, a biomes value that is not an array is
// ignored, and a biome name or tile that is not a string is left unset.
//
// Hex requests read their offset from chunk_q/chunk_r, every other topology
// from chunk_x/chunk_y. Square and hex requests whose cell count exceeds
// [MaxCells] wrap [ErrParam].
func DecodeRequest(doc []byte, topo Topology) (Request, error) {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 {
		return Request{}, fmt.Errorf("%w: empty document", ErrParam)
	}
	if trimmed[0] != '{' {
		return Request{}, fmt.Errorf("%w: document is not an object", ErrParam)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrParam, err)
	}
	if dec.More() {
		return Request{}, fmt.Errorf("%w: trailing data after document", ErrParam)
	}

	var req Request
	ints := []struct {
		key string
		dst *int
	}{
		{"width", &req.Width},
		{"height", &req.Height},
		{"z_levels", &req.ZLevels},
		{"chunk_x", &req.ChunkX},
		{"chunk_y", &req.ChunkY},
	}
	if topo == TopologyHex {
		ints[3].key, ints[4].key = "chunk_q", "chunk_r"
	}
	for _, f := range ints {
		v, err := intField(fields[f.key])
		if err != nil {
			return Request{}, fmt.Errorf("%w: %s: %w", ErrParam, f.key, err)
		}
		*f.dst = v
	}
	req.Width = max(req.Width, 0)
	req.Height = max(req.Height, 0)
	req.ZLevels = max(req.ZLevels, 0)
	req.Biomes = biomesField(fields["biomes"])

	if topo != TopologyProvince {
		if err := req.checkExtent(); err != nil {
			return Request{}, err
		}
	}
	return req, nil
}

// intField reads an integer field. Values that are not integers read as 0;
// integer literals outside the int range are an error.
func intField(v any) (int, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, nil
	}
	if strings.ContainsAny(string(n), ".eE") {
		return 0, nil
	}
	i, err := strconv.ParseInt(string(n), 10, strconv.IntSize)
	if err != nil {
		return 0, fmt.Errorf("integer %s out of range", n)
	}
	return int(i), nil
}

func biomesField(v any) []Biome {
	entries, ok := v.([]any)
	if !ok {
		return nil
	}
	biomes := make([]Biome, len(entries))
	for i, e := range entries {
		obj, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := obj["name"].(string); ok {
			biomes[i].Name = &name
		}
		tiles, ok := obj["tiles"].([]any)
		if !ok {
			continue
		}
		biomes[i].Tiles = make([]*string, len(tiles))
		for j, t := range tiles {
			if s, ok := t.(string); ok {
				biomes[i].Tiles[j] = &s
			}
		}
	}
	return biomes
}

// CellCount reports how many cells a square or hex generation of r yields.
// ok is false when the count overflows int.
func (r Request) CellCount() (n int, ok bool) {
	if r.Width < 0 || r.Height < 0 || r.ZLevels < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(r.Width), uint64(r.Height))
	if hi != 0 {
		return 0, false
	}
	hi, lo = bits.Mul64(lo, uint64(r.ZLevels))
	if hi != 0 || lo > math.MaxInt {
		return 0, false
	}
	return int(lo), true
}

// checkExtent rejects negative, overflowing or over-limit extents.
func (r Request) checkExtent() error {
	n, ok := r.CellCount()
	if !ok {
		return fmt.Errorf("%w: %dx%dx%d cells overflow", ErrParam, r.Width, r.Height, r.ZLevels)
	}
	if n > MaxCells {
		return fmt.Errorf("%w: %d cells exceed the limit of %d", ErrParam, n, MaxCells)
	}
	return nil
}

// capacity is the slice capacity to preallocate for r, bounded by MaxCells.
func (r Request) capacity() int {
	n, ok := r.CellCount()
	if !ok {
		return MaxCells
	}
	return min(n, MaxCells)
}
