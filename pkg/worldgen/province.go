package worldgen

// Province produces a fixed region graph that ignores every request field.
// It stands in for hand-authored region maps, where adjacency is declared
// rather than derived from coordinates. The declared adjacency need not be
// symmetric: A lists B and C, while B and C list only A.
type Province struct{}

var _ Generator = Province{}

// NewProvince returns the fixed province generator.
func NewProvince() Province { return Province{} }

// Topology implements [Generator].
func (Province) Topology() Topology { return TopologyProvince }

// Generate implements [Generator].
func (Province) Generate(Request) *Result {
	return &Result{
		Topology: TopologyProvince,
		Cells: []Cell{
			{ID: "A", NeighborIDs: []string{"B", "C"}},
			{ID: "B", NeighborIDs: []string{"A"}},
			{ID: "C", NeighborIDs: []string{"A"}},
		},
	}
}
