package worldgen

// HexDirections are the six axial neighbor offsets, in emission order.
var HexDirections = [6][2]int{
	{+1, 0}, {+1, -1}, {0, -1},
	{-1, 0}, {-1, +1}, {0, +1},
}

// Hex generates 6-connected axial hex grid chunks.
type Hex struct{}

var _ Generator = Hex{}

// NewHex returns the hex grid generator.
func NewHex() Hex { return Hex{} }

// Topology implements [Generator].
func (Hex) Topology() Topology { return TopologyHex }

// Generate implements [Generator]. Cells are emitted q-major, then r, then
// z. A neighbor is kept only when both its q and r fall inside the chunk;
// neighbors always share the cell's layer.
func (Hex) Generate(req Request) *Result {
	res := &Result{
		Topology: TopologyHex,
		Cells:    make([]Cell, 0, req.capacity()),
	}
	q0, r0 := req.ChunkX, req.ChunkY
	inChunk := func(q, r int) bool {
		return q >= q0 && q < q0+req.Width && r >= r0 && r < r0+req.Height
	}

	for dq := 0; dq < req.Width; dq++ {
		for dr := 0; dr < req.Height; dr++ {
			for z := 0; z < req.ZLevels; z++ {
				q, r := q0+dq, r0+dr
				c := Cell{
					Coord:     Coord{X: q, Y: r, Z: z},
					Neighbors: make([]Coord, 0, len(HexDirections)),
				}
				for _, d := range HexDirections {
					nq, nr := q+d[0], r+d[1]
					if inChunk(nq, nr) {
						c.Neighbors = append(c.Neighbors, Coord{nq, nr, z})
					}
				}
				assign(&c, req.Biomes, q, r, z)
				res.Cells = append(res.Cells, c)
			}
		}
	}
	return res
}
