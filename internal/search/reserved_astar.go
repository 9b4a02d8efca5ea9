package search

import (
	"container/heap"

	"github.com/niceyeti/mapd/internal/grid"
)

// Edge is a directed transition u->v, used as an edge-reservation key. Both
// directions of a traversal are consulted when checking for a reserved edge
// (§4.2 rule 3 and the head-on-swap rule), so reservation callers are
// expected to have inserted both directions' entries if blocking a
// bidirectional traversal, or just the single direction actually committed.
type Edge struct {
	U, V int
}

// NodeReservation forbids occupying Cell at Time.
type NodeReservation struct {
	Cell grid.Cell
	Time int
}

// EdgeReservation forbids the transition Edge arriving at Time.
type EdgeReservation struct {
	Edge Edge
	Time int
}

// Reservations is the combined node/edge reservation table consulted by
// Reserved. Both sets are plain Go sets (struct key -> presence) since they
// are built fresh per search and never mutated concurrently with a lookup.
type Reservations struct {
	Nodes map[NodeReservation]struct{}
	Edges map[EdgeReservation]struct{}
}

// NewReservations returns an empty reservation table.
func NewReservations() *Reservations {
	return &Reservations{
		Nodes: make(map[NodeReservation]struct{}),
		Edges: make(map[EdgeReservation]struct{}),
	}
}

// ReserveNode forbids occupying cell at time t.
func (r *Reservations) ReserveNode(cell grid.Cell, t int) {
	r.Nodes[NodeReservation{Cell: cell, Time: t}] = struct{}{}
}

// ReserveEdge forbids the directed transition u->v arriving at time t.
func (r *Reservations) ReserveEdge(u, v int, t int) {
	r.Edges[EdgeReservation{Edge: Edge{U: u, V: v}, Time: t}] = struct{}{}
}

func (r *Reservations) hasNode(cell grid.Cell, t int) bool {
	_, ok := r.Nodes[NodeReservation{Cell: cell, Time: t}]
	return ok
}

func (r *Reservations) hasEdge(u, v int, t int) bool {
	_, ok := r.Edges[EdgeReservation{Edge: Edge{U: u, V: v}, Time: t}]
	return ok
}

// timeState is one (cell, time) node in the time-expanded search space.
type timeState struct {
	node int
	time int
}

type teItem struct {
	state timeState
	g     int
	f     int
	index int
}

type teQueue []*teItem

func (q teQueue) Len() int { return len(q) }
func (q teQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.f != b.f {
		return a.f < b.f
	}
	if a.g != b.g {
		return a.g < b.g
	}
	if a.state.node != b.state.node {
		return a.state.node < b.state.node
	}
	return a.state.time < b.state.time
}
func (q teQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *teQueue) Push(x any) {
	item := x.(*teItem)
	item.index = len(*q)
	*q = append(*q, item)
}
func (q *teQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// maxExpansions bounds the time-expanded search so a fully blocked
// reservation table cannot spin the search forever.
const maxExpansions = 200000

// Reserved runs time-expanded A* from (start, startTime) to goal, subject to
// node and edge reservations, with 4-connected moves plus a WAIT action that
// advances time by one without moving. It returns the cell sequence from
// start to goal (inclusive), or nil if no reserved-feasible path exists
// within maxExpansions expansions.
func Reserved(
	g *grid.Graph,
	start, goal grid.Cell,
	res *Reservations,
	startTime int,
) []grid.Cell {
	startID, ok := g.NodeAt(start)
	if !ok {
		return nil
	}
	goalID, ok := g.NodeAt(goal)
	if !ok {
		return nil
	}

	h := func(c grid.Cell) int { return grid.ManhattanDistance(c, goal) }

	startState := timeState{node: startID, time: startTime}
	gScore := map[timeState]int{startState: 0}
	cameFrom := map[timeState]timeState{}
	visited := map[timeState]bool{}

	pq := &teQueue{}
	heap.Init(pq)
	heap.Push(pq, &teItem{state: startState, g: 0, f: h(start)})

	expansions := 0
	for pq.Len() > 0 {
		expansions++
		if expansions > maxExpansions {
			return nil
		}

		cur := heap.Pop(pq).(*teItem)
		if visited[cur.state] {
			continue
		}
		visited[cur.state] = true

		if cur.state.node == goalID {
			return reconstructCells(g, cameFrom, startState, cur.state)
		}

		pos := g.Pos(cur.state.node)
		t := cur.state.time

		// WAIT action: stay at pos, advancing time by one.
		tryExpand(g, res, cur.state.node, cur.state.node, pos, pos, t, cur.g, gScore, cameFrom, visited, pq, h)

		for _, nb := range g.Neighbors(cur.state.node) {
			tryExpand(g, res, cur.state.node, nb, pos, g.Pos(nb), t, cur.g, gScore, cameFrom, visited, pq, h)
		}
	}

	return nil
}

// tryExpand attempts the transition pos(cur)->npPos arriving at t+1, applying
// the five rejection rules of §4.2.
func tryExpand(
	g *grid.Graph,
	res *Reservations,
	curNode, npNode int,
	pos, npPos grid.Cell,
	t, curG int,
	gScore map[timeState]int,
	cameFrom map[timeState]timeState,
	visited map[timeState]bool,
	pq *teQueue,
	h func(grid.Cell) int,
) {
	nt := t + 1

	// Rule 1 is implicitly satisfied: npNode only ranges over graph
	// neighbors (or curNode for WAIT), which are always free/in-bounds.

	// Rule 2: node reservation on the destination.
	if res.hasNode(npPos, nt) {
		return
	}

	isWait := npNode == curNode
	if !isWait {
		// Rule 3: edge reservation, either direction.
		if res.hasEdge(curNode, npNode, nt) || res.hasEdge(npNode, curNode, nt) {
			return
		}
		// Rule 5: head-on swap detection.
		if res.hasEdge(npNode, curNode, t) && res.hasEdge(curNode, npNode, nt) {
			return
		}
	} else {
		// Rule 4: the agent cannot remain in place if its own cell becomes reserved.
		if res.hasNode(pos, nt) {
			return
		}
	}

	next := timeState{node: npNode, time: nt}
	if visited[next] {
		return
	}
	tentativeG := curG + 1
	if best, ok := gScore[next]; ok && tentativeG >= best {
		return
	}
	gScore[next] = tentativeG
	cameFrom[next] = timeState{node: curNode, time: t}
	heap.Push(pq, &teItem{state: next, g: tentativeG, f: tentativeG + h(npPos)})
}

func reconstructCells(
	g *grid.Graph,
	cameFrom map[timeState]timeState,
	start, goal timeState,
) []grid.Cell {
	path := []grid.Cell{g.Pos(goal.node)}
	cur := goal
	for cur != start {
		cur = cameFrom[cur]
		path = append(path, g.Pos(cur.node))
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
