// Package tswap implements the target-swap coordination rule (§4.4): a
// one-tick, collision-free motion planner for a set of co-located agents
// that resolves blocking via goal swapping (Rule 3) and deadlock rotation
// (Rule 4).
//
// The chain-walk cycle detection is grounded on original_source's
// src/algorithm/tswap.rs (an index-chain walked with a visited set and three
// termination cases), adapted to Go's slice/map idiom; the surrounding
// per-tick array-of-agents ownership model follows §5's "owned by the loop,
// mutated only in event handlers, snapshot before the planning pass" rule,
// the same single-writer discipline the teacher's reinforcement/learning.go
// uses for its (disjoint) worker-owned episode slices.
package tswap

import (
	"sort"

	"github.com/niceyeti/mapd/internal/grid"
	"github.com/niceyeti/mapd/internal/search"
)

// Agent is one agent's current and goal position, keyed by a stable integer
// id used for deterministic processing order.
type Agent struct {
	ID   int
	Pos  grid.Cell
	Goal grid.Cell
}

// StepStats counts the coordination events of one Step call, useful for
// metrics and tests; it gives callers visibility into deadlock resolution
// frequency without changing Step's core contract.
type StepStats struct {
	GoalSwaps     int // Rule 3 applications
	Rotations     int // Rule 4 cycle rotations
	AbortedChains int // chain walks that hit case (c): revisited a non-initial agent
}

// Step computes the next tick's positions for every agent, per §4.4's two
// phases. Agents may be supplied in any order; processing order is always
// ascending by ID, per the determinism requirement. The returned slice is a
// new slice in the same order as the input, with updated Pos/Goal.
func Step(g *grid.Graph, agents []Agent) ([]Agent, StepStats) {
	n := len(agents)
	out := make([]Agent, n)
	copy(out, agents)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return out[order[a]].ID < out[order[b]].ID })

	stats := StepStats{}
	phaseA(g, out, order, &stats)
	phaseB(g, out, order)
	return out, stats
}

// desiredNext returns the node (pos) an agent wants to move to next,
// (false, _) if the agent has no path/has no next step. Agents already at
// their goal never reach here in practice since callers check that first.
func desiredNext(g *grid.Graph, pos, goal grid.Cell) (grid.Cell, bool) {
	startNode, ok := g.NodeAt(pos)
	if !ok {
		return grid.Cell{}, false
	}
	goalNode, ok := g.NodeAt(goal)
	if !ok {
		return grid.Cell{}, false
	}
	path := search.Static(g, startNode, goalNode)
	if len(path) < 2 {
		return grid.Cell{}, false
	}
	return g.Pos(path[1]), true
}

// phaseA rewrites goals only: Rule 3 (goal swap at rest) and Rule 4
// (deadlock rotation). Occupancy is computed once from the (unchanged
// during this phase) current positions.
func phaseA(g *grid.Graph, agents []Agent, order []int, stats *StepStats) {
	occByPos := make(map[grid.Cell]int, len(agents))
	for idx, a := range agents {
		occByPos[a.Pos] = idx
	}

	for _, i := range order {
		if agents[i].Pos == agents[i].Goal {
			continue
		}
		u, ok := desiredNext(g, agents[i].Pos, agents[i].Goal)
		if !ok {
			continue
		}
		j, occupied := occByPos[u]
		if !occupied || j == i {
			continue
		}

		if agents[j].Pos == agents[j].Goal {
			// Rule 3: j is parked at its own goal and blocking i. Trade
			// goals so j has a reason to move away.
			agents[i].Goal, agents[j].Goal = agents[j].Goal, agents[i].Goal
			stats.GoalSwaps++
			continue
		}

		// Rule 4: walk the "blocks" chain starting at j.
		seen := map[int]bool{j: true}
		chain := []int{j}
		head := j
		cycle := false
		aborted := false
		for {
			if agents[head].Pos == agents[head].Goal {
				break // case (a): head already at its goal
			}
			hu, ok := desiredNext(g, agents[head].Pos, agents[head].Goal)
			if !ok {
				break // no defined desired-next for head
			}
			occ, ok := occByPos[hu]
			if !ok {
				break // case (b): nothing occupies head's desired next
			}
			if occ == i {
				// case (d): chain closes back on i. A chain of length 1
				// (j directly desires i's cell) is a plain head-on pair;
				// Phase B resolves that with a direct position swap, so
				// only a chain of length >=2 (no single swap can satisfy
				// it) is treated as a rotation-worthy cycle.
				cycle = len(chain) >= 2
				break
			}
			if seen[occ] {
				aborted = true // case (c): revisits an already-seen agent
				break
			}
			seen[occ] = true
			chain = append(chain, occ)
			head = occ
		}

		if cycle && !aborted && len(chain) >= 1 {
			participants := append([]int{i}, chain...)
			rotateGoals(agents, participants)
			stats.Rotations++
		} else if aborted {
			stats.AbortedChains++
		}
	}
}

// rotateGoals rotates goals one step around participants (in cycle order):
// the first agent receives the last agent's goal, and each other agent
// receives the goal previously held by its predecessor.
func rotateGoals(agents []Agent, participants []int) {
	n := len(participants)
	if n < 2 {
		return
	}
	oldGoals := make([]grid.Cell, n)
	for k, p := range participants {
		oldGoals[k] = agents[p].Goal
	}
	agents[participants[0]].Goal = oldGoals[n-1]
	for k := 1; k < n; k++ {
		agents[participants[k]].Goal = oldGoals[k-1]
	}
}

// phaseB writes new positions: plain moves into empty cells, and mutual
// swaps when two agents each desire the other's cell. Occupancy is a live
// map updated as agents move, so later agents in the scan observe earlier
// agents' results, per §4.4's "deterministic index scan".
//
// committed marks every agent that already moved or swapped this phase: a
// mutual swap mutates both i's and j's Pos, and when j's own turn in order
// later comes up (j > i), Pos no longer equals Goal, so without this guard
// j would be treated as a fresh mover and advance a second cell in the same
// tick, violating the one-step-per-tick model (§4.4/§5, §E).
func phaseB(g *grid.Graph, agents []Agent, order []int) {
	occByPos := make(map[grid.Cell]int, len(agents))
	for idx, a := range agents {
		occByPos[a.Pos] = idx
	}
	committed := make(map[int]bool, len(agents))

	for _, i := range order {
		if committed[i] {
			continue
		}
		if agents[i].Pos == agents[i].Goal {
			continue
		}
		u, ok := desiredNext(g, agents[i].Pos, agents[i].Goal)
		if !ok {
			continue
		}

		j, occupied := occByPos[u]
		if !occupied {
			delete(occByPos, agents[i].Pos)
			agents[i].Pos = u
			occByPos[u] = i
			committed[i] = true
			continue
		}
		if j == i {
			continue
		}

		if agents[j].Pos == agents[j].Goal {
			continue // parked agent never initiates a swap; i stays put
		}
		ju, ok := desiredNext(g, agents[j].Pos, agents[j].Goal)
		if !ok || ju != agents[i].Pos {
			continue // not a mutual swap; i stays put
		}

		oldVi, oldVj := agents[i].Pos, agents[j].Pos
		agents[i].Pos, agents[j].Pos = oldVj, oldVi
		occByPos[oldVi] = j
		occByPos[oldVj] = i
		committed[i] = true
		committed[j] = true
	}
}
