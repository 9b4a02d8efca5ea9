package metrics

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTaskLedgerLifecycle(t *testing.T) {
	Convey("Given a task added to the ledger", t, func() {
		l := NewTaskLedger()
		l.Add("t1", "a1", 1000, 0)

		Convey("It advances Sent -> Received -> Running -> Completed", func() {
			So(l.UpdateReceived("t1", 1100), ShouldBeTrue)
			So(l.UpdateStarted("t1", 1200), ShouldBeTrue)
			So(l.UpdateCompleted("t1", 1500), ShouldBeTrue)

			row, ok := l.Get("t1")
			So(ok, ShouldBeTrue)
			So(row.Status, ShouldEqual, Completed)
			So(row.TotalTime(), ShouldEqual, int64(500))
			So(row.ProcessingTime(), ShouldEqual, int64(300))
			So(row.StartupLatency(), ShouldEqual, int64(200))
		})

		Convey("Out-of-order updates are rejected", func() {
			So(l.UpdateStarted("t1", 1200), ShouldBeFalse) // must go through Received first
			So(l.UpdateCompleted("t1", 1500), ShouldBeFalse)
		})

		Convey("A completed task is terminal", func() {
			l.UpdateReceived("t1", 1100)
			l.UpdateStarted("t1", 1200)
			l.UpdateCompleted("t1", 1500)
			So(l.UpdateFailed("t1", 1600), ShouldBeFalse)
		})
	})
}

func TestTaskLedgerWatchdog(t *testing.T) {
	Convey("Given a task with a tick budget of 2", t, func() {
		l := NewTaskLedger()
		l.Add("t1", "a1", 0, 2)

		Convey("It is not failed within budget", func() {
			failed := l.WatchdogTick(1)
			So(failed, ShouldBeEmpty)
			failed = l.WatchdogTick(2)
			So(failed, ShouldBeEmpty)
		})

		Convey("It fails on the tick exceeding budget", func() {
			l.WatchdogTick(1)
			l.WatchdogTick(2)
			failed := l.WatchdogTick(3)
			So(failed, ShouldResemble, []string{"t1"})

			row, _ := l.Get("t1")
			So(row.Status, ShouldEqual, Failed)
		})

		Convey("A completed task is never watchdog-failed", func() {
			l.UpdateReceived("t1", 1)
			l.UpdateStarted("t1", 1)
			l.UpdateCompleted("t1", 1)
			for i := 0; i < 5; i++ {
				So(l.WatchdogTick(int64(i)), ShouldBeEmpty)
			}
		})
	})
}

func TestTaskLedgerStats(t *testing.T) {
	Convey("Given a mix of completed and in-flight tasks", t, func() {
		l := NewTaskLedger()
		l.Add("t1", "a1", 0, 0)
		l.UpdateReceived("t1", 10)
		l.UpdateStarted("t1", 20)
		l.UpdateCompleted("t1", 50) // total 50, processing 30, startup 20

		l.Add("t2", "a2", 0, 0)
		l.UpdateReceived("t2", 5)
		l.UpdateStarted("t2", 10)
		l.UpdateCompleted("t2", 30) // total 30, processing 20, startup 10

		l.Add("t3", "a3", 0, 0) // still Sent

		Convey("Stats counts every status and averages only Completed", func() {
			st := l.Stats()
			So(st.CountCompleted, ShouldEqual, 2)
			So(st.CountSent, ShouldEqual, 1)
			So(st.AvgTotalTime, ShouldEqual, 40.0)
			So(st.MinTotalTime, ShouldEqual, 30.0)
			So(st.MaxTotalTime, ShouldEqual, 50.0)
		})
	})
}
