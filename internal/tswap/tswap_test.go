package tswap

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/niceyeti/mapd/internal/grid"
)

func buildGraph(t *testing.T, text string) *grid.Graph {
	t.Helper()
	g, err := grid.Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return grid.BuildGraph(g)
}

func TestStepSimpleMove(t *testing.T) {
	Convey("Given a single agent on an open corridor", t, func() {
		g := buildGraph(t, "....")
		agents := []Agent{
			{ID: 1, Pos: grid.Cell{X: 0, Y: 0}, Goal: grid.Cell{X: 3, Y: 0}},
		}

		Convey("Step moves it one cell toward its goal", func() {
			out, stats := Step(g, agents)
			So(out[0].Pos, ShouldResemble, grid.Cell{X: 1, Y: 0})
			So(out[0].Goal, ShouldResemble, grid.Cell{X: 3, Y: 0})
			So(stats.GoalSwaps, ShouldEqual, 0)
			So(stats.Rotations, ShouldEqual, 0)
		})
	})
}

func TestStepGoalSwap(t *testing.T) {
	Convey("Given agent 1 blocked by agent 2 parked at its own goal", t, func() {
		g := buildGraph(t, "...")
		agents := []Agent{
			{ID: 1, Pos: grid.Cell{X: 0, Y: 0}, Goal: grid.Cell{X: 2, Y: 0}},
			{ID: 2, Pos: grid.Cell{X: 1, Y: 0}, Goal: grid.Cell{X: 1, Y: 0}},
		}

		Convey("Rule 3 swaps goals so agent 2 moves off and agent 1 advances next tick", func() {
			out, stats := Step(g, agents)
			So(stats.GoalSwaps, ShouldEqual, 1)
			// Agent 2 now desires agent 1's former goal; agent 1 inherits
			// agent 2's former (already-reached) goal.
			So(out[1].Goal, ShouldResemble, grid.Cell{X: 2, Y: 0})
			So(out[0].Goal, ShouldResemble, grid.Cell{X: 1, Y: 0})
			// Phase B: agent 1's next step (1,0) is still held by agent 2,
			// which does not want (0,0), so agent 1 waits; agent 2's next
			// step (2,0) is free, so it moves.
			So(out[1].Pos, ShouldResemble, grid.Cell{X: 2, Y: 0})
			So(out[0].Pos, ShouldResemble, grid.Cell{X: 0, Y: 0})
		})
	})
}

func TestStepMutualSwap(t *testing.T) {
	Convey("Given two agents each wanting the other's cell", t, func() {
		g := buildGraph(t, "..")
		agents := []Agent{
			{ID: 1, Pos: grid.Cell{X: 0, Y: 0}, Goal: grid.Cell{X: 1, Y: 0}},
			{ID: 2, Pos: grid.Cell{X: 1, Y: 0}, Goal: grid.Cell{X: 0, Y: 0}},
		}

		Convey("Phase B swaps their positions directly", func() {
			out, _ := Step(g, agents)
			So(out[0].Pos, ShouldResemble, grid.Cell{X: 1, Y: 0})
			So(out[1].Pos, ShouldResemble, grid.Cell{X: 0, Y: 0})
		})
	})
}

func TestStepMutualSwapAsymmetricGoals(t *testing.T) {
	Convey("Given a mutual swap where the higher-ID partner's goal lies beyond the swap cell", t, func() {
		// 3-cell corridor: agent 0 swaps into agent 1's cell at (0,0), its
		// goal, and stops there; agent 1 swaps into (1,0), one cell short of
		// its own goal at (2,0). Without committed-tracking, the ascending-ID
		// scan would reach agent 1 a second time after the swap and move it
		// again toward (2,0), advancing it two cells in one tick.
		g := buildGraph(t, "...")
		agents := []Agent{
			{ID: 0, Pos: grid.Cell{X: 1, Y: 0}, Goal: grid.Cell{X: 0, Y: 0}},
			{ID: 1, Pos: grid.Cell{X: 0, Y: 0}, Goal: grid.Cell{X: 2, Y: 0}},
		}

		Convey("Each agent advances at most one cell this tick", func() {
			out, _ := Step(g, agents)
			So(out[0].Pos, ShouldResemble, grid.Cell{X: 0, Y: 0})
			So(out[1].Pos, ShouldResemble, grid.Cell{X: 1, Y: 0})
		})
	})
}

func TestStepDeadlockRotation(t *testing.T) {
	Convey("Given four agents occupying a 2x2 ring, each wanting the next cell clockwise", t, func() {
		// Ring: (0,0)-(1,0)-(1,1)-(0,1)-(0,0). All four cells are occupied,
		// so no agent can simply move; each one's chain walk closes back on
		// itself, forcing a goal rotation instead of a motion.
		g := buildGraph(t, "..\n..")
		agents := []Agent{
			{ID: 1, Pos: grid.Cell{X: 0, Y: 0}, Goal: grid.Cell{X: 1, Y: 0}},
			{ID: 2, Pos: grid.Cell{X: 1, Y: 0}, Goal: grid.Cell{X: 1, Y: 1}},
			{ID: 3, Pos: grid.Cell{X: 1, Y: 1}, Goal: grid.Cell{X: 0, Y: 1}},
			{ID: 4, Pos: grid.Cell{X: 0, Y: 1}, Goal: grid.Cell{X: 0, Y: 0}},
		}

		Convey("Rule 4 rotates goals so every agent is already at its new goal", func() {
			out, stats := Step(g, agents)
			So(stats.Rotations, ShouldEqual, 1)
			for _, a := range out {
				So(a.Pos, ShouldResemble, a.Goal)
			}
		})
	})
}

func TestStepNoOccupantAbandonsChain(t *testing.T) {
	Convey("Given an agent blocked by another whose desired-next is empty", t, func() {
		g := buildGraph(t, "...")
		agents := []Agent{
			{ID: 1, Pos: grid.Cell{X: 0, Y: 0}, Goal: grid.Cell{X: 2, Y: 0}},
			{ID: 2, Pos: grid.Cell{X: 1, Y: 0}, Goal: grid.Cell{X: 2, Y: 0}},
		}

		Convey("No rotation or swap occurs; agent 2 simply advances", func() {
			out, stats := Step(g, agents)
			So(stats.Rotations, ShouldEqual, 0)
			So(stats.GoalSwaps, ShouldEqual, 0)
			So(out[1].Pos, ShouldResemble, grid.Cell{X: 2, Y: 0})
			So(out[0].Pos, ShouldResemble, grid.Cell{X: 0, Y: 0})
		})
	})
}

func TestStepOrderIsByIDNotSliceIndex(t *testing.T) {
	Convey("Given agents supplied out of ID order", t, func() {
		g := buildGraph(t, "...")
		agents := []Agent{
			{ID: 2, Pos: grid.Cell{X: 1, Y: 0}, Goal: grid.Cell{X: 1, Y: 0}},
			{ID: 1, Pos: grid.Cell{X: 0, Y: 0}, Goal: grid.Cell{X: 2, Y: 0}},
		}

		Convey("Processing still proceeds in ascending ID order", func() {
			out, stats := Step(g, agents)
			So(stats.GoalSwaps, ShouldEqual, 1)
			// out keeps the caller's slice order; index 0 is still ID 2.
			So(out[0].ID, ShouldEqual, 2)
			So(out[1].ID, ShouldEqual, 1)
		})
	})

	Convey("Given two agents contesting the same free cell, the higher ID first in the slice", t, func() {
		g := buildGraph(t, "...")
		agents := []Agent{
			{ID: 2, Pos: grid.Cell{X: 0, Y: 0}, Goal: grid.Cell{X: 1, Y: 0}},
			{ID: 1, Pos: grid.Cell{X: 2, Y: 0}, Goal: grid.Cell{X: 1, Y: 0}},
		}

		Convey("The lower ID moves first and takes the cell", func() {
			out, _ := Step(g, agents)
			So(out[1].Pos, ShouldResemble, grid.Cell{X: 1, Y: 0})
			So(out[0].Pos, ShouldResemble, grid.Cell{X: 0, Y: 0})
		})
	})
}
