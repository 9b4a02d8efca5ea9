package search

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

func TestStatic(t *testing.T) {
	Convey("Given a 4x4 open grid", t, func() {
		g := buildGraph(t, "....\n....\n....\n....")

		Convey("Start equal to goal returns a single-node path", func() {
			start, _ := g.NodeAt(grid.Cell{X: 1, Y: 1})
			path := Static(g, start, start)
			So(path, ShouldResemble, []int{start})
		})

		Convey("A reachable goal returns a shortest path with correct endpoints", func() {
			start, _ := g.NodeAt(grid.Cell{X: 0, Y: 0})
			goal, _ := g.NodeAt(grid.Cell{X: 3, Y: 0})
			path := Static(g, start, goal)
			So(path[0], ShouldEqual, start)
			So(path[len(path)-1], ShouldEqual, goal)
			So(len(path), ShouldEqual, 4)
		})
	})

	Convey("Given a grid with no path to the goal", t, func() {
		// Two disconnected 1x1 rooms.
		g := buildGraph(t, ".@.")
		start, _ := g.NodeAt(grid.Cell{X: 0, Y: 0})
		goal, _ := g.NodeAt(grid.Cell{X: 2, Y: 0})

		Convey("It falls back to a path holding only the start, which has no free neighbor", func() {
			path := Static(g, start, goal)
			So(len(path), ShouldEqual, 1)
			So(path[0], ShouldEqual, start)
		})
	})

	Convey("Given an isolated start node with no neighbors", t, func() {
		g := buildGraph(t, ".@.\n@@@\n.@.")
		start, _ := g.NodeAt(grid.Cell{X: 0, Y: 0})
		goal, _ := g.NodeAt(grid.Cell{X: 2, Y: 2})

		Convey("It returns just the start node", func() {
			path := Static(g, start, goal)
			So(path, ShouldResemble, []int{start})
		})
	})
}

func TestReserved(t *testing.T) {
	Convey("Given a 5x5 open grid with a reservation on (2,2) at tick 4", t, func() {
		g := buildGraph(t, ".....\n.....\n.....\n.....\n.....")
		res := NewReservations()
		res.ReserveNode(grid.Cell{X: 2, Y: 2}, 4)

		Convey("The returned path avoids (2,2) at tick 4 and has cost 8 (S4)", func() {
			path := Reserved(g, grid.Cell{X: 0, Y: 0}, grid.Cell{X: 4, Y: 4}, res, 0)
			So(path, ShouldNotBeNil)
			So(len(path), ShouldEqual, 9)
			So(path[4], ShouldNotResemble, grid.Cell{X: 2, Y: 2})
			So(path[0], ShouldResemble, grid.Cell{X: 0, Y: 0})
			So(path[len(path)-1], ShouldResemble, grid.Cell{X: 4, Y: 4})
		})
	})

	Convey("Given an edge reservation blocking a head-on swap", t, func() {
		g := buildGraph(t, "...")
		a, _ := g.NodeAt(grid.Cell{X: 0, Y: 0})
		b, _ := g.NodeAt(grid.Cell{X: 1, Y: 0})
		res := NewReservations()
		// Another agent commits to traversing b->a arriving at t=1.
		res.ReserveEdge(b, a, 1)

		Convey("Traversing a->b arriving at t=1 is rejected", func() {
			path := Reserved(g, grid.Cell{X: 0, Y: 0}, grid.Cell{X: 1, Y: 0}, res, 0)
			// Must detour via WAIT or fail; it must never step straight through
			// at t=1 if that violates rule 3 (reserved edge, either direction).
			if path != nil {
				So(len(path), ShouldBeGreaterThan, 2)
			}
		})
	})

	Convey("Given no free path exists", t, func() {
		g := buildGraph(t, ".@.")
		res := NewReservations()

		Convey("Reserved returns nil", func() {
			path := Reserved(g, grid.Cell{X: 0, Y: 0}, grid.Cell{X: 2, Y: 0}, res, 0)
			So(path, ShouldBeNil)
		})
	})
}
