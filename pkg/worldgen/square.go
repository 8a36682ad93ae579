package worldgen

import "strconv"

// Square generates 4-connected square grid chunks.
type Square struct{}

var _ Generator = Square{}

// NewSquare returns the square grid generator.
func NewSquare() Square { return Square{} }

// Topology implements [Generator].
func (Square) Topology() Topology { return TopologySquare }

// Generate implements [Generator]. Cells are emitted x-major, then y, then z.
// Neighbors never cross the chunk edge and are listed in the order
// west, east, north, south.
func (Square) Generate(req Request) *Result {
	res := &Result{
		Topology: TopologySquare,
		Cells:    make([]Cell, 0, req.capacity()),
	}
	for x := 0; x < req.Width; x++ {
		for y := 0; y < req.Height; y++ {
			for z := 0; z < req.ZLevels; z++ {
				gx, gy := req.ChunkX+x, req.ChunkY+y
				c := Cell{
					ID:        SquareID(gx, gy, z),
					Coord:     Coord{X: gx, Y: gy, Z: z},
					Neighbors: make([]Coord, 0, 4),
				}
				if x > 0 {
					c.Neighbors = append(c.Neighbors, Coord{gx - 1, gy, z})
				}
				if x < req.Width-1 {
					c.Neighbors = append(c.Neighbors, Coord{gx + 1, gy, z})
				}
				if y > 0 {
					c.Neighbors = append(c.Neighbors, Coord{gx, gy - 1, z})
				}
				if y < req.Height-1 {
					c.Neighbors = append(c.Neighbors, Coord{gx, gy + 1, z})
				}
				assign(&c, req.Biomes, gx, gy, z)
				res.Cells = append(res.Cells, c)
			}
		}
	}
	return res
}

// SquareID renders the id of the square cell at (x, y, z).
func SquareID(x, y, z int) string {
	buf := make([]byte, 0, 16)
	buf = strconv.AppendInt(buf, int64(x), 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, int64(y), 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, int64(z), 10)
	return string(buf)
}
