package overlay

import (
	"context"
	"fmt"
	"sync"
)

// inprocBroker is the shared registry behind every inproc peer created from
// the same NewInprocBroker call: it tracks who subscribes to what and fans
// out Publish calls, exactly the role a real network overlay plays, but
// within one process. Useful for running a full multi-agent simulation (or
// its tests) without any sockets.
type inprocBroker struct {
	mu       sync.Mutex
	peers    map[PeerID]*InprocPeer
	subs     map[Topic]map[PeerID]struct{}
	nextPeer int
}

// NewInprocBroker returns a broker from which in-process overlay peers are
// minted via NewPeer.
func NewInprocBroker() *inprocBroker {
	return &inprocBroker{
		peers: make(map[PeerID]*InprocPeer),
		subs:  make(map[Topic]map[PeerID]struct{}),
	}
}

// InprocPeer is one participant's view of an inprocBroker; it implements
// Overlay.
type InprocPeer struct {
	id     PeerID
	broker *inprocBroker
	events chan Event

	mu     sync.Mutex
	closed bool
}

// NewPeer registers a new peer on the broker and announces it as Discovered
// to every other already-registered peer (and announces them to it).
func (b *inprocBroker) NewPeer() *InprocPeer {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextPeer++
	id := PeerID(fmt.Sprintf("inproc-%d", b.nextPeer))
	p := &InprocPeer{
		id:     id,
		broker: b,
		events: make(chan Event, 64),
	}
	b.peers[id] = p

	for otherID, other := range b.peers {
		if otherID == id {
			continue
		}
		other.deliver(Event{Kind: Discovered, Peer: id})
		p.deliver(Event{Kind: Discovered, Peer: otherID})
	}

	return p
}

func (p *InprocPeer) deliver(e Event) {
	select {
	case p.events <- e:
	default:
		// Slow consumer: drop rather than block the broker, matching the
		// teacher's "drop updates when receiving too quickly" discipline
		// in fastview/client.go, generalized from a rate cap to a full
		// buffer since overlay events are not simply periodic samples.
	}
}

func (p *InprocPeer) Events() <-chan Event { return p.events }

func (p *InprocPeer) Publish(ctx context.Context, topic Topic, payload []byte) error {
	p.broker.mu.Lock()
	defer p.broker.mu.Unlock()

	for peerID := range p.broker.subs[topic] {
		if peerID == p.id {
			continue
		}
		if peer, ok := p.broker.peers[peerID]; ok {
			peer.deliver(Event{Kind: Message, Peer: p.id, Topic: topic, Payload: payload})
		}
	}
	return nil
}

func (p *InprocPeer) Subscribe(ctx context.Context, topic Topic) error {
	p.broker.mu.Lock()
	defer p.broker.mu.Unlock()

	if p.broker.subs[topic] == nil {
		p.broker.subs[topic] = make(map[PeerID]struct{})
	}
	p.broker.subs[topic][p.id] = struct{}{}

	for otherID, other := range p.broker.peers {
		if otherID == p.id {
			continue
		}
		other.deliver(Event{Kind: Subscribed, Peer: p.id, Topic: topic})
	}
	return nil
}

func (p *InprocPeer) Unsubscribe(ctx context.Context, topic Topic) error {
	p.broker.mu.Lock()
	defer p.broker.mu.Unlock()

	delete(p.broker.subs[topic], p.id)

	for otherID, other := range p.broker.peers {
		if otherID == p.id {
			continue
		}
		other.deliver(Event{Kind: Unsubscribed, Peer: p.id, Topic: topic})
	}
	return nil
}

func (p *InprocPeer) ListenAddr() string { return string(p.id) }

func (p *InprocPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.broker.mu.Lock()
	delete(p.broker.peers, p.id)
	for _, set := range p.broker.subs {
		delete(set, p.id)
	}
	others := make([]*InprocPeer, 0, len(p.broker.peers))
	for _, other := range p.broker.peers {
		others = append(others, other)
	}
	p.broker.mu.Unlock()

	for _, other := range others {
		other.deliver(Event{Kind: Expired, Peer: p.id})
	}
	close(p.events)
	return nil
}
