package overlay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait      = 2 * time.Second
	maxMessageSize = 1 << 16
	pingResolution = 2 * time.Second
	pongWait       = pingResolution * 4
)

// ErrPongDeadlineExceeded marks a peer unreachable after a missed liveness
// check, the overlay-level trigger for an Expired event.
var ErrPongDeadlineExceeded = errors.New("overlay: pong deadline exceeded")

// wsConn runs the bidirectional errgroup triad (read/ping/write) over one
// websocket connection and is shared by both the hub's accept side and the
// client's dial side. It is grounded directly on the teacher's
// fastview/client.go client[T] (Sync spawning readMessages/pingPong/publish
// under one errgroup), generalized from a one-way update publisher to a
// two-way frame exchange since the overlay must both receive subscribe/
// publish frames from peers and publish its own.
type wsConn struct {
	sock   *websock
	outbox chan wireFrame
	inbox  chan<- wireFrame // delivered to the owner (hub or client)
}

func newWSConn(ws *websocket.Conn, inbox chan<- wireFrame) *wsConn {
	ws.SetReadLimit(maxMessageSize)
	return &wsConn{
		sock:   newWebsock(ws),
		outbox: make(chan wireFrame, 64),
		inbox:  inbox,
	}
}

// send enqueues a frame for transmission; it never blocks indefinitely.
func (c *wsConn) send(f wireFrame) {
	select {
	case c.outbox <- f:
	default:
	}
}

// run drives the connection until ctx is cancelled or a fatal I/O error
// occurs, at which point it returns (the caller treats any return as peer
// loss and emits Expired).
func (c *wsConn) run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error { return c.readLoop(groupCtx) })
	group.Go(func() error { return c.pingLoop(groupCtx) })
	group.Go(func() error { return c.writeLoop(groupCtx) })

	err := group.Wait()
	c.sock.Close()
	return err
}

func (c *wsConn) readLoop(ctx context.Context) error {
	for {
		var frame wireFrame
		err := c.sock.Read(ctx, func(ws *websocket.Conn) error {
			return ws.ReadJSON(&frame)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if isUnexpectedClose(err) {
				return fmt.Errorf("overlay: read failed: %w", err)
			}
			return err
		}

		select {
		case c.inbox <- frame:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *wsConn) pingLoop(ctx context.Context) error {
	pong := make(chan struct{}, 1)
	c.sock.Conn().SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	ticker := channerics.NewTicker(ctx.Done(), pingResolution)
	lastPong := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker:
			if time.Since(lastPong) > pongWait {
				return ErrPongDeadlineExceeded
			}
			err := c.sock.Write(ctx, func(ws *websocket.Conn) error {
				return ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			})
			if err != nil {
				return err
			}
		case <-pong:
			lastPong = time.Now()
		}
	}
}

func (c *wsConn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-c.outbox:
			if !ok {
				return nil
			}
			err := c.sock.Write(ctx, func(ws *websocket.Conn) error {
				if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					return err
				}
				return ws.WriteJSON(frame)
			})
			if err != nil {
				return err
			}
		}
	}
}
