package protocol

import (
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDedupFirstWriteWins(t *testing.T) {
	Convey("Given an empty dedup ledger", t, func() {
		d := NewDedup(4)

		Convey("The first sighting of an id reports true", func() {
			So(d.FirstSeen("r1"), ShouldBeTrue)
			So(d.Len(), ShouldEqual, 1)
		})

		Convey("A repeated id reports false", func() {
			So(d.FirstSeen("r1"), ShouldBeTrue)
			So(d.FirstSeen("r1"), ShouldBeFalse)
			So(d.Len(), ShouldEqual, 1)
		})
	})

	Convey("Given a ledger at capacity", t, func() {
		d := NewDedup(2)
		So(d.FirstSeen("r1"), ShouldBeTrue)
		So(d.FirstSeen("r2"), ShouldBeTrue)

		Convey("Inserting a third id evicts the oldest", func() {
			So(d.FirstSeen("r3"), ShouldBeTrue)
			So(d.Len(), ShouldEqual, 2)
			// r1 was evicted, so it is reported first-seen again.
			So(d.FirstSeen("r1"), ShouldBeTrue)
		})
	})
}

func TestDedupManyIDs(t *testing.T) {
	Convey("Given many distinct ids inserted in sequence", t, func() {
		d := NewDedup(10)
		for i := 0; i < 10; i++ {
			So(d.FirstSeen(fmt.Sprintf("id-%d", i)), ShouldBeTrue)
		}

		Convey("All are retained up to capacity and none is seen as new twice", func() {
			So(d.Len(), ShouldEqual, 10)
			for i := 0; i < 10; i++ {
				So(d.FirstSeen(fmt.Sprintf("id-%d", i)), ShouldBeFalse)
			}
		})
	})
}
