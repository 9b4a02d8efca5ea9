package overlay

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type hubCtrlKind int

const (
	ctrlRegister hubCtrlKind = iota
	ctrlUnregister
	ctrlFrame
	ctrlPublish
	ctrlLocalSub
	ctrlLocalUnsub
)

type hubCtrl struct {
	kind  hubCtrlKind
	peer  PeerID
	conn  *wsConn
	frame wireFrame
	topic Topic
}

type hubPeer struct {
	id   PeerID
	conn *wsConn
}

// Hub is a websocket-based Overlay server: every connecting peer becomes a
// discoverable participant, and publish/subscribe frames are relayed
// between them. All mutable state (peers, subscriptions) is owned by a
// single goroutine (run) that drains ctrlCh; every other goroutine
// (accepted-connection readers/writers, the public Overlay methods)
// communicates with it only by channel send, the same "owned by the loop"
// discipline §5 requires of the coordination loops themselves.
//
// Grounded on the teacher's server/server.go (gorilla upgrade, addr,
// Serve/http.ListenAndServe) generalized from one hardcoded "/ws" handler
// and a single implicit client to a gorilla/mux-routed, multi-peer hub.
type Hub struct {
	addr   string
	router *mux.Router
	srv    *http.Server

	events chan Event
	ctrlCh chan hubCtrl

	peers  map[PeerID]*hubPeer
	subs   map[Topic]map[PeerID]struct{}
	nextID int64 // assigned via atomic.AddInt64, since concurrent accepts call handleWS

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub constructs a Hub listening on addr (e.g. ":7000") once Serve is
// called, and starts its single owning goroutine immediately so Events()
// is live right away.
func NewHub(addr string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		addr:   addr,
		router: mux.NewRouter(),
		events: make(chan Event, 256),
		ctrlCh: make(chan hubCtrl, 256),
		peers:  make(map[PeerID]*hubPeer),
		subs:   make(map[Topic]map[PeerID]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	h.router.HandleFunc("/overlay/ws", h.handleWS)
	h.srv = &http.Server{Addr: addr, Handler: h.router}
	go h.run()
	return h
}

// Serve blocks serving http until Close is called.
func (h *Hub) Serve() error {
	if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("overlay: serve: %w", err)
	}
	return nil
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	id := PeerID(fmt.Sprintf("peer-%d", atomic.AddInt64(&h.nextID, 1)))
	raw := make(chan wireFrame, 64)
	conn := newWSConn(ws, raw)

	connCtx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	select {
	case h.ctrlCh <- hubCtrl{kind: ctrlRegister, peer: id, conn: conn}:
	case <-h.ctx.Done():
		return
	}

	go func() {
		for {
			select {
			case f, ok := <-raw:
				if !ok {
					return
				}
				select {
				case h.ctrlCh <- hubCtrl{kind: ctrlFrame, peer: id, frame: f}:
				case <-connCtx.Done():
					return
				}
			case <-connCtx.Done():
				return
			}
		}
	}()

	_ = conn.run(connCtx)

	select {
	case h.ctrlCh <- hubCtrl{kind: ctrlUnregister, peer: id}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			close(h.events)
			return
		case ctrl := <-h.ctrlCh:
			h.handleCtrl(ctrl)
		}
	}
}

func (h *Hub) handleCtrl(ctrl hubCtrl) {
	switch ctrl.kind {
	case ctrlRegister:
		h.peers[ctrl.peer] = &hubPeer{id: ctrl.peer, conn: ctrl.conn}
		h.emit(Event{Kind: Discovered, Peer: ctrl.peer})

	case ctrlUnregister:
		if _, ok := h.peers[ctrl.peer]; !ok {
			return
		}
		delete(h.peers, ctrl.peer)
		for _, set := range h.subs {
			delete(set, ctrl.peer)
		}
		h.emit(Event{Kind: Expired, Peer: ctrl.peer})

	case ctrlFrame:
		h.handleFrame(ctrl.peer, ctrl.frame)

	case ctrlPublish:
		h.broadcast(ctrl.frame)
		h.emit(Event{Kind: Message, Topic: ctrl.frame.Topic, Payload: ctrl.frame.Payload})

	case ctrlLocalSub:
		h.emit(Event{Kind: Subscribed, Peer: "self", Topic: ctrl.topic})

	case ctrlLocalUnsub:
		h.emit(Event{Kind: Unsubscribed, Peer: "self", Topic: ctrl.topic})
	}
}

func (h *Hub) handleFrame(peer PeerID, f wireFrame) {
	switch f.Kind {
	case frameSubscribe:
		if h.subs[f.Topic] == nil {
			h.subs[f.Topic] = make(map[PeerID]struct{})
		}
		h.subs[f.Topic][peer] = struct{}{}
		h.emit(Event{Kind: Subscribed, Peer: peer, Topic: f.Topic})

	case frameUnsubscribe:
		delete(h.subs[f.Topic], peer)
		h.emit(Event{Kind: Unsubscribed, Peer: peer, Topic: f.Topic})

	case framePublish:
		h.emit(Event{Kind: Message, Peer: peer, Topic: f.Topic, Payload: f.Payload})
		for pid := range h.subs[f.Topic] {
			if pid == peer {
				continue
			}
			if p, ok := h.peers[pid]; ok {
				p.conn.send(f)
			}
		}
	}
}

func (h *Hub) broadcast(f wireFrame) {
	for pid := range h.subs[f.Topic] {
		if p, ok := h.peers[pid]; ok {
			p.conn.send(f)
		}
	}
}

func (h *Hub) emit(e Event) {
	select {
	case h.events <- e:
	default:
	}
}

func (h *Hub) Events() <-chan Event { return h.events }

func (h *Hub) Publish(ctx context.Context, topic Topic, payload []byte) error {
	frame := wireFrame{Kind: framePublish, Topic: topic, Payload: payload}
	select {
	case h.ctrlCh <- hubCtrl{kind: ctrlPublish, frame: frame}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrClosed
	}
}

func (h *Hub) Subscribe(ctx context.Context, topic Topic) error {
	select {
	case h.ctrlCh <- hubCtrl{kind: ctrlLocalSub, topic: topic}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrClosed
	}
}

func (h *Hub) Unsubscribe(ctx context.Context, topic Topic) error {
	select {
	case h.ctrlCh <- hubCtrl{kind: ctrlLocalUnsub, topic: topic}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrClosed
	}
}

func (h *Hub) ListenAddr() string { return h.addr }

// Close shuts down the http server and cancels every connection's context.
func (h *Hub) Close() error {
	h.cancel()
	return h.srv.Close()
}
