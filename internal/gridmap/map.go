// Package gridmap decodes generation result documents into a navigable map.
//
// A [Map] keeps cells in document order together with their neighbor sets,
// biome and terrain tags and free-form JSON metadata. Maps of the same
// topology can be merged, which is how adjacent chunks are stitched into one
// world, and searched with [Map.FindPath].
package gridmap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/MrWong99/tessera/pkg/worldgen"
)

var (
	// ErrInvalidMap is returned by [Decode] when a required field is missing
	// or has the wrong type.
	ErrInvalidMap = errors.New("gridmap: invalid map document")

	// ErrTopologyMismatch is returned by [Map.Merge] for maps of different
	// topologies.
	ErrTopologyMismatch = errors.New("gridmap: topology mismatch")
)

// CellKey identifies a cell. Square and hex cells use X, Y, Z (hex: q, r, z);
// province cells use ID.
type CellKey struct {
	Topology worldgen.Topology
	X, Y, Z  int
	ID       string
}

// SquareKey returns the key of the square cell at (x, y, z).
func SquareKey(x, y, z int) CellKey {
	return CellKey{Topology: worldgen.TopologySquare, X: x, Y: y, Z: z}
}

// HexKey returns the key of the hex cell at axial (q, r) on level z.
func HexKey(q, r, z int) CellKey {
	return CellKey{Topology: worldgen.TopologyHex, X: q, Y: r, Z: z}
}

// ProvinceKey returns the key of the province cell id.
func ProvinceKey(id string) CellKey {
	return CellKey{Topology: worldgen.TopologyProvince, ID: id}
}

// String formats k as "x,y,z" for grid cells and as the id for provinces.
func (k CellKey) String() string {
	if k.Topology == worldgen.TopologyProvince {
		return k.ID
	}
	b := make([]byte, 0, 16)
	b = strconv.AppendInt(b, int64(k.X), 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(k.Y), 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(k.Z), 10)
	return string(b)
}

type cell struct {
	neighbors []CellKey
	biome     *string
	terrain   *string
	metadata  json.RawMessage
}

// Map is a decoded world map. The zero value is not usable; create maps with
// [New] or [Decode]. A Map is not safe for concurrent mutation.
type Map struct {
	topology worldgen.Topology
	order    []CellKey
	cells    map[CellKey]*cell
}

// New returns an empty map of the given topology.
func New(topology worldgen.Topology) *Map {
	return &Map{topology: topology, cells: make(map[CellKey]*cell)}
}

// Topology returns the map's topology.
func (m *Map) Topology() worldgen.Topology { return m.topology }

// Len returns the number of cells.
func (m *Map) Len() int { return len(m.order) }

// Cells returns all cell keys in insertion order.
func (m *Map) Cells() []CellKey { return slices.Clone(m.order) }

// Contains reports whether k is a cell of m.
func (m *Map) Contains(k CellKey) bool {
	_, ok := m.cells[k]
	return ok
}

// AddCell adds k if it is not present yet.
func (m *Map) AddCell(k CellKey) {
	m.get(k)
}

func (m *Map) get(k CellKey) *cell {
	c, ok := m.cells[k]
	if !ok {
		c = &cell{}
		m.cells[k] = c
		m.order = append(m.order, k)
	}
	return c
}

// AddNeighbor records to as a neighbor of from, creating from if missing.
// Edges are directed and to need not be a cell of m.
func (m *Map) AddNeighbor(from, to CellKey) {
	c := m.get(from)
	if !slices.Contains(c.neighbors, to) {
		c.neighbors = append(c.neighbors, to)
	}
}

// Neighbors returns the neighbors of k in insertion order.
func (m *Map) Neighbors(k CellKey) []CellKey {
	if c, ok := m.cells[k]; ok {
		return slices.Clone(c.neighbors)
	}
	return nil
}

// Metadata returns the metadata attached to k.
func (m *Map) Metadata(k CellKey) (json.RawMessage, bool) {
	c, ok := m.cells[k]
	if !ok || len(c.metadata) == 0 {
		return nil, false
	}
	return c.metadata, true
}

// SetMetadata attaches raw JSON metadata to k, creating the cell if needed.
func (m *Map) SetMetadata(k CellKey, raw json.RawMessage) {
	m.get(k).metadata = slices.Clone(raw)
}

// Biome returns the biome tag of k.
func (m *Map) Biome(k CellKey) (string, bool) {
	if c, ok := m.cells[k]; ok && c.biome != nil {
		return *c.biome, true
	}
	return "", false
}

// SetBiome tags k with biome.
func (m *Map) SetBiome(k CellKey, biome string) { m.get(k).biome = &biome }

// Terrain returns the terrain tag of k.
func (m *Map) Terrain(k CellKey) (string, bool) {
	if c, ok := m.cells[k]; ok && c.terrain != nil {
		return *c.terrain, true
	}
	return "", false
}

// SetTerrain tags k with terrain.
func (m *Map) SetTerrain(k CellKey, terrain string) { m.get(k).terrain = &terrain }

// Merge folds other into m. Cells new to m are appended in other's order,
// neighbor sets are unioned, and tags or metadata already present in m win.
func (m *Map) Merge(other *Map) error {
	if m.topology != other.topology {
		return fmt.Errorf("%w: %s and %s", ErrTopologyMismatch, m.topology, other.topology)
	}
	for _, k := range other.order {
		oc := other.cells[k]
		c := m.get(k)
		for _, n := range oc.neighbors {
			if !slices.Contains(c.neighbors, n) {
				c.neighbors = append(c.neighbors, n)
			}
		}
		if c.biome == nil && oc.biome != nil {
			b := *oc.biome
			c.biome = &b
		}
		if c.terrain == nil && oc.terrain != nil {
			t := *oc.terrain
			c.terrain = &t
		}
		if len(c.metadata) == 0 && len(oc.metadata) > 0 {
			c.metadata = slices.Clone(oc.metadata)
		}
	}
	return nil
}

// ── Decoding ──────────────────────────────────────────────────────────────────

type rawDoc struct {
	Topology *string         `json:"topology"`
	Cells    json.RawMessage `json:"cells"`
}

type rawCell struct {
	ID        *string         `json:"id"`
	X         *int            `json:"x"`
	Y         *int            `json:"y"`
	Q         *int            `json:"q"`
	R         *int            `json:"r"`
	Z         *int            `json:"z"`
	Neighbors json.RawMessage `json:"neighbors"`
	Biome     *string         `json:"biome"`
	Terrain   *string         `json:"terrain"`
	Metadata  json.RawMessage `json:"metadata"`
}

type rawCoord struct {
	X *int `json:"x"`
	Y *int `json:"y"`
	Q *int `json:"q"`
	R *int `json:"r"`
	Z *int `json:"z"`
}

var (
	squareOffsets = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	hexOffsets    = [6][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, -1}, {-1, 1}}
)

// Decode parses a result document. Only presence and type of the fields a
// topology needs are checked. Square and hex cells without a neighbors field
// get neighbors inferred from the cell set; province neighbors must be
// listed explicitly.
func Decode(doc []byte) (*Map, error) {
	var d rawDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMap, err)
	}
	if d.Topology == nil {
		return nil, fmt.Errorf("%w: topology is required", ErrInvalidMap)
	}
	topo := worldgen.Topology(*d.Topology)
	if !topo.IsValid() {
		return nil, fmt.Errorf("%w: unknown topology %q", ErrInvalidMap, *d.Topology)
	}
	if isAbsent(d.Cells) {
		return nil, fmt.Errorf("%w: cells is required", ErrInvalidMap)
	}
	var cells []rawCell
	if err := json.Unmarshal(d.Cells, &cells); err != nil {
		return nil, fmt.Errorf("%w: cells: %w", ErrInvalidMap, err)
	}

	m := New(topo)
	keys := make([]CellKey, len(cells))
	for i, rc := range cells {
		k, err := cellKey(topo, rc.ID, rc.X, rc.Y, rc.Q, rc.R, rc.Z)
		if err != nil {
			return nil, fmt.Errorf("%w: cells[%d]: %w", ErrInvalidMap, i, err)
		}
		keys[i] = k
		m.AddCell(k)
	}

	for i, rc := range cells {
		k := keys[i]
		if isAbsent(rc.Neighbors) {
			m.inferNeighbors(k)
		} else if err := m.decodeNeighbors(k, rc.Neighbors); err != nil {
			return nil, fmt.Errorf("%w: cells[%d].neighbors: %w", ErrInvalidMap, i, err)
		}
		c := m.cells[k]
		if rc.Biome != nil {
			c.biome = rc.Biome
		}
		if rc.Terrain != nil {
			c.terrain = rc.Terrain
		}
		if !isAbsent(rc.Metadata) {
			c.metadata = slices.Clone(rc.Metadata)
		}
	}
	return m, nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func cellKey(topo worldgen.Topology, id *string, x, y, q, r, z *int) (CellKey, error) {
	switch topo {
	case worldgen.TopologySquare:
		if x == nil || y == nil || z == nil {
			return CellKey{}, errors.New("square cells need x, y and z")
		}
		return SquareKey(*x, *y, *z), nil
	case worldgen.TopologyHex:
		if q == nil || r == nil || z == nil {
			return CellKey{}, errors.New("hex cells need q, r and z")
		}
		return HexKey(*q, *r, *z), nil
	default:
		if id == nil {
			return CellKey{}, errors.New("province cells need an id")
		}
		return ProvinceKey(*id), nil
	}
}

func (m *Map) decodeNeighbors(k CellKey, raw json.RawMessage) error {
	if m.topology == worldgen.TopologyProvince {
		var ids []string
		if err := json.Unmarshal(raw, &ids); err != nil {
			return err
		}
		for _, id := range ids {
			m.AddNeighbor(k, ProvinceKey(id))
		}
		return nil
	}

	var coords []rawCoord
	if err := json.Unmarshal(raw, &coords); err != nil {
		return err
	}
	for j, c := range coords {
		n, err := cellKey(m.topology, nil, c.X, c.Y, c.Q, c.R, c.Z)
		if err != nil {
			return fmt.Errorf("[%d]: %w", j, err)
		}
		m.AddNeighbor(k, n)
	}
	return nil
}

func (m *Map) inferNeighbors(k CellKey) {
	var offsets [][2]int
	switch m.topology {
	case worldgen.TopologySquare:
		offsets = squareOffsets[:]
	case worldgen.TopologyHex:
		offsets = hexOffsets[:]
	default:
		return
	}
	for _, o := range offsets {
		n := k
		n.X += o[0]
		n.Y += o[1]
		if m.Contains(n) {
			m.AddNeighbor(k, n)
		}
	}
}

// ── Encoding ──────────────────────────────────────────────────────────────────

type xyz struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

type qrz struct {
	Q int `json:"q"`
	R int `json:"r"`
	Z int `json:"z"`
}

type squareCellDoc struct {
	ID        string          `json:"id"`
	X         int             `json:"x"`
	Y         int             `json:"y"`
	Z         int             `json:"z"`
	Neighbors []xyz           `json:"neighbors"`
	Biome     *string         `json:"biome,omitempty"`
	Terrain   *string         `json:"terrain,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type hexCellDoc struct {
	Q         int             `json:"q"`
	R         int             `json:"r"`
	Z         int             `json:"z"`
	Neighbors []qrz           `json:"neighbors"`
	Biome     *string         `json:"biome,omitempty"`
	Terrain   *string         `json:"terrain,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type provinceCellDoc struct {
	ID        string          `json:"id"`
	Neighbors []string        `json:"neighbors"`
	Biome     *string         `json:"biome,omitempty"`
	Terrain   *string         `json:"terrain,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type mapDoc struct {
	Topology worldgen.Topology `json:"topology"`
	Cells    any               `json:"cells"`
}

// MarshalJSON encodes m in the result document shape, listing every
// neighbor explicitly.
func (m *Map) MarshalJSON() ([]byte, error) {
	switch m.topology {
	case worldgen.TopologySquare:
		cells := make([]squareCellDoc, len(m.order))
		for i, k := range m.order {
			c := m.cells[k]
			ns := make([]xyz, len(c.neighbors))
			for j, n := range c.neighbors {
				ns[j] = xyz{X: n.X, Y: n.Y, Z: n.Z}
			}
			cells[i] = squareCellDoc{
				ID: worldgen.SquareID(k.X, k.Y, k.Z), X: k.X, Y: k.Y, Z: k.Z,
				Neighbors: ns, Biome: c.biome, Terrain: c.terrain, Metadata: c.metadata,
			}
		}
		return json.Marshal(mapDoc{Topology: m.topology, Cells: cells})

	case worldgen.TopologyHex:
		cells := make([]hexCellDoc, len(m.order))
		for i, k := range m.order {
			c := m.cells[k]
			ns := make([]qrz, len(c.neighbors))
			for j, n := range c.neighbors {
				ns[j] = qrz{Q: n.X, R: n.Y, Z: n.Z}
			}
			cells[i] = hexCellDoc{
				Q: k.X, R: k.Y, Z: k.Z,
				Neighbors: ns, Biome: c.biome, Terrain: c.terrain, Metadata: c.metadata,
			}
		}
		return json.Marshal(mapDoc{Topology: m.topology, Cells: cells})

	case worldgen.TopologyProvince:
		cells := make([]provinceCellDoc, len(m.order))
		for i, k := range m.order {
			c := m.cells[k]
			ns := make([]string, len(c.neighbors))
			for j, n := range c.neighbors {
				ns[j] = n.ID
			}
			cells[i] = provinceCellDoc{
				ID: k.ID, Neighbors: ns, Biome: c.biome, Terrain: c.terrain, Metadata: c.metadata,
			}
		}
		return json.Marshal(mapDoc{Topology: m.topology, Cells: cells})
	}
	return nil, fmt.Errorf("%w: %q", worldgen.ErrUnknownTopology, m.topology)
}

// Encode is shorthand for json.Marshal(m).
func (m *Map) Encode() ([]byte, error) {
	return m.MarshalJSON()
}
