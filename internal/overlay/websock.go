package overlay

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readDeadline     = 2 * time.Second
	writeDeadline    = 2 * time.Second
	closeGracePeriod = 2 * time.Second
)

// ErrSockCongestion indicates too many waiters on the socket for a given op.
var ErrSockCongestion = errors.New("overlay: socket congested")

// websock serializes reads and writes to a single websocket connection,
// whose constraint is at most one concurrent reader and one concurrent
// writer. Lifted directly from the teacher's fastview/client.go websock
// type (same field names, same channel-as-mutex idiom), since the
// constraint it encodes is intrinsic to gorilla/websocket, not specific to
// the teacher's domain.
type websock struct {
	readSem  chan struct{}
	writeSem chan struct{}
	ws       *websocket.Conn
}

func newWebsock(ws *websocket.Conn) *websock {
	return &websock{
		readSem:  make(chan struct{}, 1),
		writeSem: make(chan struct{}, 1),
		ws:       ws,
	}
}

func (s *websock) Conn() *websocket.Conn { return s.ws }

func (s *websock) Close() {
	s.readSem <- struct{}{}
	s.writeSem <- struct{}{}

	_ = s.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	_ = s.ws.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	time.Sleep(closeGracePeriod)
	_ = s.ws.Close()
}

func (s *websock) Read(ctx context.Context, readFn func(*websocket.Conn) error) error {
	select {
	case <-ctx.Done():
		return nil
	case s.readSem <- struct{}{}:
		defer func() { <-s.readSem }()
		return readFn(s.ws)
	case <-time.After(readDeadline):
		return ErrSockCongestion
	}
}

func (s *websock) Write(ctx context.Context, writeFn func(*websocket.Conn) error) error {
	select {
	case <-ctx.Done():
		return nil
	case s.writeSem <- struct{}{}:
		defer func() { <-s.writeSem }()
		return writeFn(s.ws)
	case <-time.After(writeDeadline):
		return ErrSockCongestion
	}
}

func isUnexpectedClose(err error) bool {
	return err != nil && websocket.IsUnexpectedCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}
