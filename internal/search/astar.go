// Package search implements the grid planners: a static A* used by TSWAP to
// find each agent's desired next step, and a time-expanded A* used to find a
// single-agent path that respects other agents' reserved (cell,time) and
// (edge,time) commitments.
//
// Both planners share the same frontier idiom: a container/heap priority
// queue keyed by (f, g, id) so every replica of the algorithm produces
// identical tie-breaks (required for TSWAP determinism, §4.4). This mirrors
// the corpus's own choice of container/heap for Dijkstra-family search
// (katalvlaran-lvlath/graph/dijkstra.go) rather than reaching for an external
// priority-queue library that the corpus never uses.
package search

import (
	"container/heap"

	"github.com/niceyeti/mapd/internal/grid"
)

// astarItem is one entry in the static-A* frontier.
type astarItem struct {
	node  int
	g     int
	f     int
	index int
}

type astarQueue []*astarItem

func (q astarQueue) Len() int { return len(q) }

// Less implements the tie-break of §4.4: lower f first, then lower g
// preferred after equal f (i.e. higher g sorts later), then lower node id.
func (q astarQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.f != b.f {
		return a.f < b.f
	}
	if a.g != b.g {
		return a.g < b.g
	}
	return a.node < b.node
}

func (q astarQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *astarQueue) Push(x any) {
	item := x.(*astarItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *astarQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Static runs A* from start to goal over graph g. It returns the node id
// sequence from start to goal inclusive.
//
// If start == goal, it returns [start]. If no path exists, it falls back to
// a two-element sequence [start, bestNeighbor] where bestNeighbor minimizes
// the Manhattan heuristic to goal; if start has no neighbors at all, it
// returns [start]. This fallback exists because TSWAP only ever consumes
// path[1] as a "desired next step", and a defined one even under local
// obstruction keeps deadlock reasoning simple (§4.2).
func Static(g *grid.Graph, start, goal int) []int {
	if start == goal {
		return []int{start}
	}

	goalPos := g.Pos(goal)
	h := func(n int) int { return grid.ManhattanDistance(g.Pos(n), goalPos) }

	gScore := map[int]int{start: 0}
	cameFrom := map[int]int{}
	visited := map[int]bool{}

	pq := &astarQueue{}
	heap.Init(pq)
	heap.Push(pq, &astarItem{node: start, g: 0, f: h(start)})

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*astarItem)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true

		if cur.node == goal {
			return reconstruct(cameFrom, start, goal)
		}

		for _, nb := range g.Neighbors(cur.node) {
			if visited[nb] {
				continue
			}
			tentativeG := cur.g + 1
			if best, ok := gScore[nb]; !ok || tentativeG < best {
				gScore[nb] = tentativeG
				cameFrom[nb] = cur.node
				heap.Push(pq, &astarItem{node: nb, g: tentativeG, f: tentativeG + h(nb)})
			}
		}
	}

	// No path: fall back to the best available neighbor.
	neighbors := g.Neighbors(start)
	if len(neighbors) == 0 {
		return []int{start}
	}
	best := neighbors[0]
	bestH := h(best)
	for _, nb := range neighbors[1:] {
		if hh := h(nb); hh < bestH {
			best, bestH = nb, hh
		}
	}
	return []int{start, best}
}

func reconstruct(cameFrom map[int]int, start, goal int) []int {
	path := []int{goal}
	cur := goal
	for cur != start {
		cur = cameFrom[cur]
		path = append(path, cur)
	}
	// reverse
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
