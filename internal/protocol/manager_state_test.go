package protocol

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/niceyeti/mapd/internal/grid"
)

func TestManagerPeerLifecycle(t *testing.T) {
	Convey("Given a newly discovered peer record", t, func() {
		r := &PeerRecord{PeerID: "a1"}
		So(r.Phase, ShouldEqual, Unknown)

		Convey("Its first position update moves it to Available", func() {
			r.OnPositionUpdate(grid.Cell{X: 0, Y: 0}, grid.Cell{X: 0, Y: 0}, 1)
			So(r.Phase, ShouldEqual, Available)

			Convey("Dispatch moves it to AssignedMovingToPickup", func() {
				So(r.Dispatch("t1", grid.Cell{X: 2, Y: 0}, grid.Cell{X: 4, Y: 0}), ShouldBeTrue)
				So(r.Phase, ShouldEqual, AssignedMovingToPickup)
				So(r.Goal, ShouldResemble, grid.Cell{X: 2, Y: 0})

				Convey("ReachPickup is a no-op until position equals pickup", func() {
					So(r.ReachPickup(), ShouldBeFalse)
					r.OnPositionUpdate(grid.Cell{X: 2, Y: 0}, r.Goal, 2)
					So(r.ReachPickup(), ShouldBeTrue)
					So(r.Phase, ShouldEqual, AssignedMovingToDelivery)
					So(r.Goal, ShouldResemble, grid.Cell{X: 4, Y: 0})

					Convey("Complete requires a matching task_id and returns to Available", func() {
						So(r.Complete("wrong-id"), ShouldBeFalse)
						So(r.Complete("t1"), ShouldBeTrue)
						So(r.Phase, ShouldEqual, Available)
						So(r.TaskID, ShouldEqual, "")
					})
				})
			})
		})

		Convey("A stale (non-increasing) timestamp is dropped", func() {
			r.OnPositionUpdate(grid.Cell{X: 1, Y: 1}, grid.Cell{X: 1, Y: 1}, 5)
			r.OnPositionUpdate(grid.Cell{X: 9, Y: 9}, grid.Cell{X: 9, Y: 9}, 3)
			So(r.Pos, ShouldResemble, grid.Cell{X: 1, Y: 1})
		})
	})
}
