package grid

// Node is one free cell in the graph, carrying a dense integer id and the ids
// of its 4-connected free neighbors. The neighbor order is fixed
// (N, E, S, W) so path reconstruction and tie-breaking are deterministic
// across replicas, per spec's determinism requirement for TSWAP.
type Node struct {
	ID        int
	Pos       Cell
	Neighbors []int
}

// Graph is the dense, immutable 4-connected graph over a Grid's free cells.
// Construction is single-shot at startup (see §4.1); thereafter the graph may
// be shared across goroutines without synchronization, same as the teacher's
// process-wide immutable track data (models.Track).
type Graph struct {
	nodes  []Node
	byCell map[Cell]int
	grid   *Grid
}

var deltas = [4]Cell{
	{X: 0, Y: -1}, // N
	{X: 1, Y: 0},  // E
	{X: 0, Y: 1},  // S
	{X: -1, Y: 0}, // W
}

// BuildGraph constructs the node/edge set for all free cells of g.
func BuildGraph(g *Grid) *Graph {
	graph := &Graph{
		grid:   g,
		byCell: make(map[Cell]int, len(g.FreeCells())),
	}
	for i, c := range g.FreeCells() {
		graph.byCell[c] = i
	}
	graph.nodes = make([]Node, len(g.FreeCells()))
	for i, c := range g.FreeCells() {
		node := Node{ID: i, Pos: c}
		for _, d := range deltas {
			nx, ny := c.X+d.X, c.Y+d.Y
			if g.IsFree(nx, ny) {
				node.Neighbors = append(node.Neighbors, graph.byCell[Cell{X: nx, Y: ny}])
			}
		}
		graph.nodes[i] = node
	}
	return graph
}

// Grid returns the underlying parsed map.
func (g *Graph) Grid() *Grid { return g.grid }

// N returns the number of nodes (free cells) in the graph.
func (g *Graph) N() int { return len(g.nodes) }

// Node returns the node with the given id. Panics if id is out of range,
// since node ids are only ever produced by this package.
func (g *Graph) Node(id int) Node { return g.nodes[id] }

// NodeAt returns the node id for a cell and whether that cell is a graph
// node (i.e. free).
func (g *Graph) NodeAt(c Cell) (int, bool) {
	id, ok := g.byCell[c]
	return id, ok
}

// Neighbors returns the neighbor node ids of id.
func (g *Graph) Neighbors(id int) []int {
	return g.nodes[id].Neighbors
}

// Pos returns the cell position of node id.
func (g *Graph) Pos(id int) Cell {
	return g.nodes[id].Pos
}
