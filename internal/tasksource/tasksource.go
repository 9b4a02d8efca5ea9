// Package tasksource is the stateless C3 task generator: it samples two
// distinct free cells uniformly at random to form a pickup/delivery pair.
// The generation idiom (draw a random free cell from a grid) is
// grounded on the teacher's reinforcement/learning.go get_random_start_state.
package tasksource

import (
	"fmt"
	"math/rand"

	"github.com/niceyeti/mapd/internal/grid"
)

// Task is an ungenerated transport task: a pickup and delivery cell with no
// assigned peer or id yet (the caller stamps both, per §4.3).
type Task struct {
	Pickup   grid.Cell
	Delivery grid.Cell
}

// ErrNoFreeCells is returned when fewer than two free cells exist in the
// grid, so no pickup/delivery pair can be formed.
var ErrNoFreeCells = fmt.Errorf("tasksource: fewer than two free cells available")

// Generate picks two distinct free cells of g uniformly at random using rng.
// If rng is nil, the package-level math/rand source is used.
func Generate(g *grid.Grid, rng *rand.Rand) (Task, error) {
	cells := g.FreeCells()
	if len(cells) < 2 {
		return Task{}, ErrNoFreeCells
	}

	intn := rand.Intn
	if rng != nil {
		intn = rng.Intn
	}

	i := intn(len(cells))
	j := intn(len(cells) - 1)
	if j >= i {
		j++
	}

	return Task{Pickup: cells[i], Delivery: cells[j]}, nil
}
