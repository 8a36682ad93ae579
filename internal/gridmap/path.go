package gridmap

import (
	"container/heap"
	"encoding/json"
	"math"
	"slices"

	"github.com/MrWong99/tessera/pkg/worldgen"
)

// Path is the result of a successful [Map.FindPath] search.
type Path struct {
	// Cells runs from start to goal inclusive.
	Cells []CellKey

	// Cost is the sum of the step costs of every cell after start.
	Cost float64
}

// StepCost returns the cost of entering a cell with the given metadata.
// A "walkable": false entry makes the cell impassable (+Inf); otherwise a
// numeric "cost" entry is used, and 1 when there is none.
func StepCost(meta json.RawMessage) float64 {
	if len(meta) == 0 {
		return 1
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(meta, &fields); err != nil {
		return 1
	}
	if raw, ok := fields["walkable"]; ok {
		var walkable bool
		if json.Unmarshal(raw, &walkable) == nil && !walkable {
			return math.Inf(1)
		}
	}
	if raw, ok := fields["cost"]; ok {
		var cost float64
		if json.Unmarshal(raw, &cost) == nil {
			return cost
		}
	}
	return 1
}

// heuristic is the Manhattan distance for square maps and zero otherwise,
// which turns the search into Dijkstra.
func heuristic(a, b CellKey) float64 {
	if a.Topology != worldgen.TopologySquare || b.Topology != worldgen.TopologySquare {
		return 0
	}
	return float64(abs(a.X-b.X) + abs(a.Y-b.Y) + abs(a.Z-b.Z))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// FindPath runs an A* search from start to goal over the neighbor graph.
// ok is false when either end is not a cell of m or goal is unreachable.
func (m *Map) FindPath(start, goal CellKey) (p Path, ok bool) {
	if !m.Contains(start) || !m.Contains(goal) {
		return Path{}, false
	}

	var (
		open     = &nodeQueue{}
		cameFrom = make(map[CellKey]CellKey)
		gScore   = map[CellKey]float64{start: 0}
		closed   = make(map[CellKey]bool)
		costs    = make(map[CellKey]float64)
		seq      int
	)
	heap.Push(open, node{key: start, estimate: heuristic(start, goal)})

	for open.Len() > 0 {
		cur := heap.Pop(open).(node).key
		if cur == goal {
			path := []CellKey{cur}
			for k, found := cameFrom[cur]; found; k, found = cameFrom[k] {
				path = append(path, k)
			}
			slices.Reverse(path)
			return Path{Cells: path, Cost: gScore[goal]}, true
		}
		if closed[cur] {
			continue
		}
		closed[cur] = true

		for _, n := range m.cells[cur].neighbors {
			if closed[n] || !m.Contains(n) {
				continue
			}
			step, cached := costs[n]
			if !cached {
				meta, _ := m.Metadata(n)
				step = StepCost(meta)
				costs[n] = step
			}
			if math.IsInf(step, 1) {
				continue
			}
			tentative := gScore[cur] + step
			if prev, seen := gScore[n]; !seen || tentative < prev {
				cameFrom[n] = cur
				gScore[n] = tentative
				seq++
				heap.Push(open, node{key: n, estimate: tentative + heuristic(n, goal), seq: seq})
			}
		}
	}
	return Path{}, false
}

type node struct {
	key      CellKey
	estimate float64
	seq      int
}

// nodeQueue is a min-heap on estimate; ties go to the earlier push.
type nodeQueue []node

func (q nodeQueue) Len() int { return len(q) }
func (q nodeQueue) Less(i, j int) bool {
	if q[i].estimate != q[j].estimate {
		return q[i].estimate < q[j].estimate
	}
	return q[i].seq < q[j].seq
}
func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x any)   { *q = append(*q, x.(node)) }
func (q *nodeQueue) Pop() any {
	old := *q
	n := old[len(old)-1]
	*q = old[:len(old)-1]
	return n
}
