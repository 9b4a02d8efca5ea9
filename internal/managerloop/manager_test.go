package managerloop

import (
	"context"
	"encoding/json"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/niceyeti/mapd/internal/config"
	"github.com/niceyeti/mapd/internal/grid"
	"github.com/niceyeti/mapd/internal/metrics"
	"github.com/niceyeti/mapd/internal/overlay"
	"github.com/niceyeti/mapd/internal/protocol"
)

func testGraph(t *testing.T) *grid.Graph {
	t.Helper()
	g, err := grid.Parse("....\n....\n....\n....\n")
	if err != nil {
		t.Fatal(err)
	}
	return grid.BuildGraph(g)
}

func newTestManager(g *grid.Graph) *Manager {
	broker := overlay.NewInprocBroker()
	peer := broker.NewPeer()
	return New(config.Defaults(), g, peer, overlay.Topic("mapd"), func(string, ...any) {})
}

func mustEncode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func TestPositionUpdateTriggersDispatch(t *testing.T) {
	Convey("Given a manager and a freshly-seen peer", t, func() {
		g := testGraph(t)
		m := newTestManager(g)
		ctx := context.Background()

		m.handleMessage(ctx, overlay.Event{
			Kind: overlay.Message,
			Payload: mustEncode(protocol.Position{
				Type: protocol.KindPosition, PeerID: "a1",
				Pos: grid.Cell{X: 0, Y: 0}, Goal: grid.Cell{X: 0, Y: 0}, Timestamp: 1,
			}),
		})

		Convey("Its first position_update makes it Available and immediately dispatches a task", func() {
			rec := m.peers["a1"]
			So(rec, ShouldNotBeNil)
			So(rec.Phase, ShouldEqual, protocol.AssignedMovingToPickup)

			row, ok := m.taskLedger.Get("t1")
			So(ok, ShouldBeTrue)
			So(row.PeerID, ShouldEqual, "a1")
			So(row.Status, ShouldEqual, metrics.Running)
		})
	})
}

func TestRunPlanTickMovesAssignedPeer(t *testing.T) {
	Convey("Given a peer assigned a task two cells away", t, func() {
		g := testGraph(t)
		m := newTestManager(g)
		ctx := context.Background()

		rec := m.recordPeer("a1")
		rec.OnPositionUpdate(grid.Cell{X: 0, Y: 0}, grid.Cell{X: 0, Y: 0}, 1)
		So(rec.Dispatch("t1", grid.Cell{X: 2, Y: 0}, grid.Cell{X: 3, Y: 0}), ShouldBeTrue)

		Convey("One plan tick advances it one step toward pickup", func() {
			m.runPlanTick(ctx, 1)
			So(rec.Pos, ShouldResemble, grid.Cell{X: 1, Y: 0})
			So(rec.Phase, ShouldEqual, protocol.AssignedMovingToPickup)

			Convey("A second tick reaches pickup and advances the phase", func() {
				m.runPlanTick(ctx, 2)
				So(rec.Pos, ShouldResemble, grid.Cell{X: 2, Y: 0})
				So(rec.Phase, ShouldEqual, protocol.AssignedMovingToDelivery)
				So(rec.Goal, ShouldResemble, grid.Cell{X: 3, Y: 0})
			})
		})
	})
}

func TestPositionEchoFromAssignedPeerDoesNotOverwritePosition(t *testing.T) {
	Convey("Given a peer the manager has already dispatched and advanced via planning", t, func() {
		g := testGraph(t)
		m := newTestManager(g)
		ctx := context.Background()

		rec := m.recordPeer("a1")
		rec.OnPositionUpdate(grid.Cell{X: 0, Y: 0}, grid.Cell{X: 0, Y: 0}, 1)
		So(rec.Dispatch("t1", grid.Cell{X: 2, Y: 0}, grid.Cell{X: 3, Y: 0}), ShouldBeTrue)
		m.runPlanTick(ctx, 2)
		advanced := rec.Pos

		Convey("A lagging position echo from the agent updates liveness only, not Pos/Goal", func() {
			m.handleMessage(ctx, overlay.Event{
				Kind: overlay.Message,
				Payload: mustEncode(protocol.Position{
					Type: protocol.KindPosition, PeerID: "a1",
					Pos: grid.Cell{X: 0, Y: 0}, Goal: grid.Cell{X: 0, Y: 0}, Timestamp: 3,
				}),
			})
			So(rec.Pos, ShouldResemble, advanced)
			So(rec.Goal, ShouldResemble, grid.Cell{X: 2, Y: 0})
			So(rec.Timestamp, ShouldEqual, int64(3))
		})
	})
}

func TestHandleDoneReturnsPeerToAvailable(t *testing.T) {
	Convey("Given a peer delivering task t1 with auto-dispatch disabled", t, func() {
		g := testGraph(t)
		m := newTestManager(g)
		m.cfg.AutoDispatch = false
		ctx := context.Background()

		rec := m.recordPeer("a1")
		rec.OnPositionUpdate(grid.Cell{X: 3, Y: 0}, grid.Cell{X: 3, Y: 0}, 1)
		rec.Phase = protocol.AssignedMovingToDelivery
		rec.TaskID = "t1"
		m.taskLedger.Add("t1", "a1", 0, 0)
		m.taskLedger.UpdateReceived("t1", 0)
		m.taskLedger.UpdateStarted("t1", 0)

		m.handleMessage(ctx, overlay.Event{
			Kind:    overlay.Message,
			Payload: mustEncode(protocol.Done{Status: "done", TaskID: "t1"}),
		})

		Convey("The peer returns to Available with no task and no auto-redispatch", func() {
			So(rec.Phase, ShouldEqual, protocol.Available)
			So(rec.TaskID, ShouldEqual, "")
		})

		Convey("A duplicate done for the same task_id is deduped and ignored", func() {
			rec.Phase = protocol.AssignedMovingToDelivery // simulate it having been reassigned since
			rec.TaskID = "t1"
			m.handleMessage(ctx, overlay.Event{
				Kind:    overlay.Message,
				Payload: mustEncode(protocol.Done{Status: "done", TaskID: "t1"}),
			})
			So(rec.Phase, ShouldEqual, protocol.AssignedMovingToDelivery)
		})
	})
}

func TestHandleCommandTasksDispatchesToAvailablePeer(t *testing.T) {
	Convey("Given one Available peer and no queued tasks", t, func() {
		g := testGraph(t)
		m := newTestManager(g)
		ctx := context.Background()
		rec := m.recordPeer("a1")
		rec.OnPositionUpdate(grid.Cell{X: 0, Y: 0}, grid.Cell{X: 0, Y: 0}, 1)

		Convey("'tasks 2' queues two and immediately dispatches one", func() {
			m.handleCommand(ctx, "tasks 2")
			So(rec.Phase, ShouldEqual, protocol.AssignedMovingToPickup)
			So(len(m.pending), ShouldEqual, 1)
		})
	})
}

func TestHandleCommandReset(t *testing.T) {
	Convey("Given a manager with recorded peers and pending tasks", t, func() {
		g := testGraph(t)
		m := newTestManager(g)
		ctx := context.Background()
		m.recordPeer("a1")
		m.handleCommand(ctx, "tasks 1")

		Convey("'reset' clears all peer and task state", func() {
			m.handleCommand(ctx, "reset")
			So(len(m.peers), ShouldEqual, 0)
			So(len(m.peerOrder), ShouldEqual, 0)
			So(len(m.pending), ShouldEqual, 0)
		})
	})
}
