package overlay

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func drain(t *testing.T, ch <-chan Event, want EventKind) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %v", want)
		return Event{}
	}
}

func TestInprocDiscoveryAndMessaging(t *testing.T) {
	Convey("Given a broker with two peers", t, func() {
		broker := NewInprocBroker()
		a := broker.NewPeer()
		b := broker.NewPeer()
		ctx := context.Background()

		Convey("Each peer observes the other's Discovered event", func() {
			ea := drain(t, a.Events(), Discovered)
			eb := drain(t, b.Events(), Discovered)
			So(ea.Kind, ShouldEqual, Discovered)
			So(ea.Peer, ShouldEqual, b.id)
			So(eb.Kind, ShouldEqual, Discovered)
			So(eb.Peer, ShouldEqual, a.id)
		})

		Convey("A subscribes and b publishes; a receives the message", func() {
			drain(t, a.Events(), Discovered) // consume a's pending Discovered(b)
			So(a.Subscribe(ctx, "positions"), ShouldBeNil)
			So(b.Publish(ctx, "positions", []byte("hello")), ShouldBeNil)

			msg := drain(t, a.Events(), Message)
			So(msg.Kind, ShouldEqual, Message)
			So(msg.Peer, ShouldEqual, b.id)
			So(msg.Topic, ShouldEqual, Topic("positions"))
			So(string(msg.Payload), ShouldEqual, "hello")
		})

		Convey("Closing a peer emits Expired to the remaining peer", func() {
			// Drain the two Discovered events first.
			drain(t, a.Events(), Discovered)
			drain(t, b.Events(), Discovered)

			So(a.Close(), ShouldBeNil)
			e := drain(t, b.Events(), Expired)
			So(e.Kind, ShouldEqual, Expired)
			So(e.Peer, ShouldEqual, a.id)
		})
	})
}

func TestInprocUnsubscribeStopsDelivery(t *testing.T) {
	Convey("Given a subscribed peer that unsubscribes", t, func() {
		broker := NewInprocBroker()
		a := broker.NewPeer()
		b := broker.NewPeer()
		ctx := context.Background()
		drain(t, a.Events(), Discovered)
		drain(t, b.Events(), Discovered)

		So(a.Subscribe(ctx, "tasks"), ShouldBeNil)
		drain(t, b.Events(), Subscribed)
		So(a.Unsubscribe(ctx, "tasks"), ShouldBeNil)
		drain(t, b.Events(), Unsubscribed)

		Convey("A subsequent publish is not delivered", func() {
			So(b.Publish(ctx, "tasks", []byte("x")), ShouldBeNil)
			select {
			case e := <-a.Events():
				t.Fatalf("unexpected event after unsubscribe: %+v", e)
			case <-time.After(100 * time.Millisecond):
			}
		})
	})
}
