package overlay

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
)

// Client dials a remote Hub's websocket endpoint and implements Overlay
// from the connecting side. It sees the hub itself as its one discoverable
// peer; messages the hub relays from other, hub-side peers arrive as plain
// Message events (the wire frame carries no origin peer id, so Peer is left
// empty on relayed messages — acceptable since agents address messages by
// task/agent id inside Payload, not by overlay PeerID).
//
// Grounded directly on the teacher's fastview/client.go client[T]: same
// dial-and-run-an-errgroup-triad shape, generalized to a bidirectional
// connection instead of a one-way update publisher.
type Client struct {
	hubAddr PeerID
	conn    *wsConn
	inbox   chan wireFrame
	events  chan Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial connects to a Hub previously started with NewHub, at ws://addr/overlay/ws.
func Dial(ctx context.Context, addr string) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/overlay/ws"}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("overlay: dial %s: %w", addr, err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	inbox := make(chan wireFrame, 64)
	c := &Client{
		hubAddr: PeerID(addr),
		conn:    newWSConn(ws, inbox),
		inbox:   inbox,
		events:  make(chan Event, 256),
		ctx:     cctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go c.run()
	c.emit(Event{Kind: Discovered, Peer: c.hubAddr})
	return c, nil
}

func (c *Client) run() {
	defer close(c.done)
	defer close(c.events)

	errc := make(chan error, 1)
	go func() { errc <- c.conn.run(c.ctx) }()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-errc:
			c.emit(Event{Kind: Expired, Peer: c.hubAddr})
			return
		case f := <-c.inbox:
			switch f.Kind {
			case framePublish:
				c.emit(Event{Kind: Message, Topic: f.Topic, Payload: f.Payload})
			case frameSubscribe:
				c.emit(Event{Kind: Subscribed, Peer: c.hubAddr, Topic: f.Topic})
			case frameUnsubscribe:
				c.emit(Event{Kind: Unsubscribed, Peer: c.hubAddr, Topic: f.Topic})
			}
		}
	}
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	default:
	}
}

func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) Publish(ctx context.Context, topic Topic, payload []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	c.conn.send(wireFrame{Kind: framePublish, Topic: topic, Payload: payload})
	return nil
}

func (c *Client) Subscribe(ctx context.Context, topic Topic) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	c.conn.send(wireFrame{Kind: frameSubscribe, Topic: topic})
	return nil
}

func (c *Client) Unsubscribe(ctx context.Context, topic Topic) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	c.conn.send(wireFrame{Kind: frameUnsubscribe, Topic: topic})
	return nil
}

func (c *Client) ListenAddr() string { return "" }

func (c *Client) Close() error {
	c.cancel()
	<-c.done
	return nil
}
