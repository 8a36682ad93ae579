package worldgen

import (
	"encoding/json"
	"fmt"
)

type squareXYZ struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

type hexQRZ struct {
	Q int `json:"q"`
	R int `json:"r"`
	Z int `json:"z"`
}

type squareCellDoc struct {
	ID        string      `json:"id"`
	X         int         `json:"x"`
	Y         int         `json:"y"`
	Z         int         `json:"z"`
	Neighbors []squareXYZ `json:"neighbors"`
	Biome     *string     `json:"biome,omitempty"`
	Terrain   *string     `json:"terrain,omitempty"`
}

type hexCellDoc struct {
	Q         int      `json:"q"`
	R         int      `json:"r"`
	Z         int      `json:"z"`
	Neighbors []hexQRZ `json:"neighbors"`
	Biome     *string  `json:"biome,omitempty"`
	Terrain   *string  `json:"terrain,omitempty"`
}

type provinceCellDoc struct {
	ID        string   `json:"id"`
	Neighbors []string `json:"neighbors"`
}

// tags returns the biome and terrain of c for encoding, or nils when c was
// generated without a palette.
func tags(c Cell) (biome, terrain *string) {
	if !c.Tagged {
		return nil, nil
	}
	return &c.Biome, &c.Terrain
}

type resultDoc struct {
	Topology Topology `json:"topology"`
	Cells    any      `json:"cells"`
}

// MarshalJSON encodes r as a generation result document. The cell shape
// follows the topology: square cells carry id/x/y/z, hex cells q/r/z and
// province cells id with a list of neighbor ids.
func (r *Result) MarshalJSON() ([]byte, error) {
	switch r.Topology {
	case TopologySquare:
		cells := make([]squareCellDoc, len(r.Cells))
		for i, c := range r.Cells {
			ns := make([]squareXYZ, len(c.Neighbors))
			for j, n := range c.Neighbors {
				ns[j] = squareXYZ{X: n.X, Y: n.Y, Z: n.Z}
			}
			biome, terrain := tags(c)
			cells[i] = squareCellDoc{
				ID: c.ID, X: c.Coord.X, Y: c.Coord.Y, Z: c.Coord.Z,
				Neighbors: ns, Biome: biome, Terrain: terrain,
			}
		}
		return json.Marshal(resultDoc{Topology: r.Topology, Cells: cells})

	case TopologyHex:
		cells := make([]hexCellDoc, len(r.Cells))
		for i, c := range r.Cells {
			ns := make([]hexQRZ, len(c.Neighbors))
			for j, n := range c.Neighbors {
				ns[j] = hexQRZ{Q: n.X, R: n.Y, Z: n.Z}
			}
			biome, terrain := tags(c)
			cells[i] = hexCellDoc{
				Q: c.Coord.X, R: c.Coord.Y, Z: c.Coord.Z,
				Neighbors: ns, Biome: biome, Terrain: terrain,
			}
		}
		return json.Marshal(resultDoc{Topology: r.Topology, Cells: cells})

	case TopologyProvince:
		cells := make([]provinceCellDoc, len(r.Cells))
		for i, c := range r.Cells {
			ns := c.NeighborIDs
			if ns == nil {
				ns = []string{}
			}
			cells[i] = provinceCellDoc{ID: c.ID, Neighbors: ns}
		}
		return json.Marshal(resultDoc{Topology: r.Topology, Cells: cells})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTopology, r.Topology)
}
