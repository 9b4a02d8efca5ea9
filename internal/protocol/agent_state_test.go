package protocol

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/niceyeti/mapd/internal/grid"
)

func TestAgentTaskLifecycle(t *testing.T) {
	Convey("Given an idle agent", t, func() {
		var a AgentTaskState
		So(a.Lifecycle, ShouldEqual, Idle)

		Convey("Receiving a task moves it to MovingToPickup", func() {
			a.ReceiveTask(Task{Pickup: grid.Cell{X: 1, Y: 1}, Delivery: grid.Cell{X: 2, Y: 2}, TaskID: "t1"})
			So(a.Lifecycle, ShouldEqual, MovingToPickup)

			Convey("Arriving at pickup moves it to MovingToDelivery", func() {
				So(a.ArriveAtPickup(), ShouldBeTrue)
				So(a.Lifecycle, ShouldEqual, MovingToDelivery)

				Convey("Arriving at delivery completes the task and returns to Idle", func() {
					completed, ok := a.ArriveAtDelivery()
					So(ok, ShouldBeTrue)
					So(completed.TaskID, ShouldEqual, "t1")
					So(a.Lifecycle, ShouldEqual, Idle)
					So(a.Task, ShouldBeNil)
				})
			})
		})

		Convey("ArriveAtPickup is a no-op while Idle", func() {
			So(a.ArriveAtPickup(), ShouldBeFalse)
			So(a.Lifecycle, ShouldEqual, Idle)
		})
	})
}
