// Package agentloop is the agent-side orchestration shell: the
// cooperative single-threaded event loop that ties internal/grid,
// internal/search, internal/overlay, internal/protocol and
// internal/config together into the running behavior of one agent,
// in either centralized-executor or decentralized-TSWAP mode (§4.5).
//
// All of pos/goal/neighbors/task is owned by exactly one goroutine's
// select loop, fed by channerics.OrDone/NewTicker-wrapped producers
// (overlay events, position/cleanup/plan tickers) — the same single-
// consumer discipline internal/overlay's Hub.run() uses for its
// ctrlCh, rather than wsconn.go's triad of independent sub-loops
// (which never share mutable domain state with each other and so can
// safely run concurrently; this agent's state cannot).
package agentloop

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	channerics "github.com/niceyeti/channerics/channels"

	"github.com/niceyeti/mapd/internal/config"
	"github.com/niceyeti/mapd/internal/grid"
	"github.com/niceyeti/mapd/internal/overlay"
	"github.com/niceyeti/mapd/internal/protocol"
	"github.com/niceyeti/mapd/internal/search"
)

// Mode selects which half of §4.5's coordination protocol an agent
// runs. Encoded as a named int enum rather than a bool per §9.
type Mode int

const (
	// CentralizedExecutor agents only broadcast position and apply
	// move_instruction messages; a manager owns all planning.
	CentralizedExecutor Mode = iota
	// Decentralized agents run TSWAP themselves against a local
	// neighborhood snapshot and negotiate goal-swap/target-rotation
	// with peers directly.
	Decentralized
)

// neighborInfo is the decentralized view of one other peer (§3).
type neighborInfo struct {
	peerID    overlay.PeerID
	pos       grid.Cell
	goal      grid.Cell
	timestamp int64
}

// Agent is one running agent process.
type Agent struct {
	cfg   config.Config
	graph *grid.Graph
	ov    overlay.Overlay
	topic overlay.Topic
	id    overlay.PeerID
	mode  Mode
	rng   *rand.Rand

	pos  grid.Cell
	goal grid.Cell
	task protocol.AgentTaskState

	neighbors map[overlay.PeerID]neighborInfo
	dedup     *protocol.Dedup

	// pendingGoalSwaps remembers, per outstanding goal_swap_request this
	// agent initiated, the peer's pre-swap goal, so that on an accepted
	// response this agent can adopt it without the response needing to
	// repeat it (§4.5's "both sides eventually consistent after one
	// round trip").
	pendingGoalSwaps map[string]grid.Cell
	requestCounter   int

	lastInstructionTS int64 // monotonic guard for applied move_instructions

	out func(format string, args ...any)
}

// New constructs an agent bound to ov (already dialed/connected) and
// ready to run Run.
func New(cfg config.Config, g *grid.Graph, ov overlay.Overlay, topic overlay.Topic, peerID string, mode Mode, log func(string, ...any)) *Agent {
	if log == nil {
		log = func(format string, args ...any) { fmt.Printf(format+"\n", args...) }
	}
	return &Agent{
		cfg:              cfg,
		graph:            g,
		ov:               ov,
		topic:            topic,
		id:               overlay.PeerID(peerID),
		mode:             mode,
		rng:              rand.New(rand.NewSource(seedFor(peerID))),
		neighbors:        make(map[overlay.PeerID]neighborInfo),
		dedup:            protocol.NewDedup(cfg.NPeersMax * 4),
		pendingGoalSwaps: make(map[string]grid.Cell),
		out:              log,
	}
}

func seedFor(peerID string) int64 {
	var h int64 = 1469598103934665603
	for _, b := range []byte(peerID) {
		h ^= int64(b)
		h *= 1099511628211
	}
	if h < 0 {
		h = -h
	}
	return h
}

// Run subscribes to topic, completes the initial election, then drives
// the agent's event loop until ctx is cancelled or the overlay closes.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.ov.Subscribe(ctx, a.topic); err != nil {
		return fmt.Errorf("agentloop: subscribe: %w", err)
	}

	if err := a.runElection(ctx); err != nil {
		return fmt.Errorf("agentloop: election: %w", err)
	}
	a.out("[agent %s] elected starting cell %v", a.id, a.pos)

	a.publishPosition(ctx)

	return a.eventLoop(ctx)
}

// eventLoop is this agent's single owning goroutine: overlay ingress and
// every ticker are merely producers fanned through channerics, and all
// reads/writes of pos/goal/neighbors/task happen only inside this select.
// planTicker is left nil (and so never selected) outside Decentralized
// mode, per the usual "nil channel blocks forever" idiom.
func (a *Agent) eventLoop(ctx context.Context) error {
	events := channerics.OrDone(ctx.Done(), a.ov.Events())
	posTicker := channerics.NewTicker(ctx.Done(), a.cfg.TPos)
	cleanupTicker := channerics.NewTicker(ctx.Done(), a.cfg.TCleanup)

	var planTicker <-chan time.Time
	if a.mode == Decentralized {
		planTicker = channerics.NewTicker(ctx.Done(), a.cfg.TPlan)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.handleEvent(ctx, e)
		case _, ok := <-posTicker:
			if !ok {
				return nil
			}
			a.publishPosition(ctx)
		case _, ok := <-cleanupTicker:
			if !ok {
				return nil
			}
			a.sweepStaleNeighbors()
		case _, ok := <-planTicker:
			if !ok {
				return nil
			}
			a.decentralizedTick(ctx)
			a.checkTaskProgress(ctx)
		}
	}
}

// runElection implements §4.5's initial position election: a bounded
// discovery window, an occupied_request broadcast, a bounded (or
// early-exiting, per SPEC_FULL §D.1) response collection window, then a
// uniform-random pick among free cells minus reported occupied cells.
func (a *Agent) runElection(ctx context.Context) error {
	discovered := map[overlay.PeerID]bool{}
	discoveryDeadline := time.NewTimer(a.cfg.ElectionDiscoveryWindow)
	defer discoveryDeadline.Stop()

	events := channerics.OrDone(ctx.Done(), a.ov.Events())
drain1:
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-discoveryDeadline.C:
			break drain1
		case e, ok := <-events:
			if !ok {
				break drain1
			}
			if e.Kind == overlay.Discovered {
				discovered[e.Peer] = true
			}
		}
	}

	if err := a.ov.Publish(ctx, a.topic, mustEncode(protocol.OccupiedRequest{
		Type:   protocol.KindOccupiedRequest,
		PeerID: string(a.id),
	})); err != nil {
		a.out("[agent %s] occupied_request publish failed: %v", a.id, err)
	}

	occupied := map[grid.Cell]bool{}
	responded := map[overlay.PeerID]bool{}
	collectionDeadline := time.NewTimer(a.cfg.ElectionCollectionWindow)
	defer collectionDeadline.Stop()

drain2:
	for {
		if len(discovered) > 0 && len(responded) >= len(discovered) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-collectionDeadline.C:
			break drain2
		case e, ok := <-events:
			if !ok {
				break drain2
			}
			if e.Kind != overlay.Message {
				continue
			}
			msg, err := protocol.Decode(e.Payload)
			if err != nil {
				continue
			}
			if resp, ok := msg.(protocol.OccupiedResponse); ok {
				occupied[resp.Occupied] = true
				responded[e.Peer] = true
			}
		}
	}

	var candidates []grid.Cell
	for _, c := range a.graph.Grid().FreeCells() {
		if !occupied[c] {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no free cells remain after election")
	}
	a.pos = candidates[a.rng.Intn(len(candidates))]
	a.goal = a.pos
	return nil
}

func mustEncode(v any) []byte {
	data, err := encodeJSON(v)
	if err != nil {
		// Every type passed here is one of internal/protocol's message
		// structs with only json-marshalable fields; a failure means a
		// programming error, not a runtime condition to recover from.
		panic(fmt.Sprintf("agentloop: encode: %v", err))
	}
	return data
}

func (a *Agent) publish(ctx context.Context, v any) {
	if err := a.ov.Publish(ctx, a.topic, mustEncode(v)); err != nil {
		a.out("[overlay] publish failed: %v", err)
	}
}

func (a *Agent) publishPosition(ctx context.Context) {
	a.publish(ctx, protocol.Position{
		Type:      protocol.KindPosition,
		PeerID:    string(a.id),
		Pos:       a.pos,
		Goal:      a.goal,
		Timestamp: time.Now().UnixNano(),
	})
}

func (a *Agent) sweepStaleNeighbors() {
	cutoff := time.Now().UnixNano() - a.cfg.TStale.Nanoseconds()
	for id, n := range a.neighbors {
		if n.timestamp < cutoff {
			delete(a.neighbors, id)
		}
	}
}

func (a *Agent) handleEvent(ctx context.Context, e overlay.Event) {
	switch e.Kind {
	case overlay.Expired:
		delete(a.neighbors, e.Peer)
	case overlay.Message:
		a.handleMessage(ctx, e)
	}
}

func (a *Agent) handleMessage(ctx context.Context, e overlay.Event) {
	msg, err := protocol.Decode(e.Payload)
	if err != nil {
		return // malformed; another peer's bug, drop silently (§7)
	}
	switch m := msg.(type) {
	case protocol.Position:
		if m.PeerID == string(a.id) {
			return
		}
		a.neighbors[overlay.PeerID(m.PeerID)] = neighborInfo{
			peerID: overlay.PeerID(m.PeerID), pos: m.Pos, goal: m.Goal, timestamp: m.Timestamp,
		}
	case protocol.OccupiedRequest:
		if m.PeerID == string(a.id) {
			return
		}
		a.publish(ctx, protocol.OccupiedResponse{
			Type: protocol.KindOccupiedResponse, PeerID: string(a.id), Occupied: a.pos,
		})
	case protocol.Task:
		if m.PeerID != string(a.id) || a.task.Lifecycle != protocol.Idle {
			return
		}
		if !a.dedup.FirstSeen("task:" + m.TaskID) {
			return
		}
		a.task.ReceiveTask(m)
		a.goal = m.Pickup
	case protocol.MoveInstruction:
		a.applyMoveInstruction(ctx, m)
	case protocol.GoalSwapRequest:
		a.handleGoalSwapRequest(ctx, m)
	case protocol.GoalSwapResponse:
		a.handleGoalSwapResponse(m)
	case protocol.TargetRotationRequest:
		a.handleTargetRotationRequest(m)
	}
}

// applyMoveInstruction implements centralized-executor mode: the
// manager is the sole authority on cell transitions (§5), so the
// instruction is applied unconditionally once addressed to self,
// subject only to the monotonic-timestamp guard (§E) that rejects a
// reordered, older instruction.
func (a *Agent) applyMoveInstruction(ctx context.Context, m protocol.MoveInstruction) {
	if m.PeerID != string(a.id) {
		return
	}
	if m.Timestamp <= a.lastInstructionTS && a.lastInstructionTS != 0 {
		return
	}
	a.lastInstructionTS = m.Timestamp
	a.pos = m.NextPos
	a.checkTaskProgress(ctx)
}

func (a *Agent) checkTaskProgress(ctx context.Context) {
	if a.task.Task == nil {
		return
	}
	if a.task.Lifecycle == protocol.MovingToPickup && a.pos == a.task.Task.Pickup {
		a.task.ArriveAtPickup()
		a.goal = a.task.Task.Delivery
		return
	}
	if a.task.Lifecycle == protocol.MovingToDelivery && a.pos == a.task.Task.Delivery {
		if completed, ok := a.task.ArriveAtDelivery(); ok {
			a.publish(ctx, protocol.Done{Status: "done", TaskID: completed.TaskID})
			a.goal = a.pos
		}
	}
}

func (a *Agent) handleGoalSwapRequest(ctx context.Context, m protocol.GoalSwapRequest) {
	if m.ToPeer != string(a.id) {
		return
	}
	if !a.dedup.FirstSeen("goalswap:" + m.RequestID) {
		return
	}
	a.goal = m.MyGoal
	a.publish(ctx, protocol.GoalSwapResponse{
		Type: protocol.KindGoalSwapResponse, RequestID: m.RequestID,
		FromPeer: string(a.id), ToPeer: m.FromPeer, MyGoal: a.goal, Accepted: true,
	})
}

func (a *Agent) handleGoalSwapResponse(m protocol.GoalSwapResponse) {
	if m.ToPeer != string(a.id) || !m.Accepted {
		return
	}
	if !a.dedup.FirstSeen("goalswapresp:" + m.RequestID) {
		return
	}
	if oldGoal, ok := a.pendingGoalSwaps[m.RequestID]; ok {
		a.goal = oldGoal
		delete(a.pendingGoalSwaps, m.RequestID)
	}
}

func (a *Agent) handleTargetRotationRequest(m protocol.TargetRotationRequest) {
	if !a.dedup.FirstSeen("rotation:" + m.RequestID) {
		return
	}
	n := len(m.Participants)
	if n == 0 || n != len(m.Goals) {
		return
	}
	for idx, p := range m.Participants {
		if p == string(a.id) {
			a.goal = m.Goals[(idx+1)%n]
			return
		}
	}
}

// desiredNext mirrors internal/tswap's private helper of the same
// name, applied to this agent's own (pos, goal) rather than a shared
// array, since the decentralized agent never owns a peer's state
// directly and must negotiate it via messages instead.
func desiredNext(g *grid.Graph, pos, goal grid.Cell) (grid.Cell, bool) {
	if pos == goal {
		return grid.Cell{}, false
	}
	startNode, ok := g.NodeAt(pos)
	if !ok {
		return grid.Cell{}, false
	}
	goalNode, ok := g.NodeAt(goal)
	if !ok {
		return grid.Cell{}, false
	}
	path := search.Static(g, startNode, goalNode)
	if len(path) < 2 {
		return grid.Cell{}, false
	}
	return g.Pos(path[1]), true
}

func (a *Agent) occupantAt(c grid.Cell) (neighborInfo, bool) {
	for _, n := range a.neighbors {
		if n.pos == c {
			return n, true
		}
	}
	return neighborInfo{}, false
}

func (a *Agent) decentralizedTick(ctx context.Context) {
	if a.pos == a.goal {
		return
	}
	u, ok := desiredNext(a.graph, a.pos, a.goal)
	if !ok {
		return
	}
	occ, occupied := a.occupantAt(u)
	if !occupied {
		a.pos = u
		return
	}

	if occ.pos == occ.goal {
		// Rule 3: occ is parked and blocking us. Propose a goal swap;
		// our own goal adopts occ's old goal only once accepted.
		a.requestCounter++
		reqID := fmt.Sprintf("%s-%d", a.id, a.requestCounter)
		a.pendingGoalSwaps[reqID] = occ.goal
		a.publish(ctx, protocol.GoalSwapRequest{
			Type: protocol.KindGoalSwapRequest, RequestID: reqID,
			FromPeer: string(a.id), ToPeer: string(occ.peerID), MyGoal: a.goal,
		})
		return
	}

	// Phase B mutual swap: occ directly desires our cell. Both sides
	// derive this decision independently from the same (assumed
	// synchronized) NeighborInfo view, so no message round-trip is
	// needed to commit the move, mirroring internal/tswap's phaseB.
	if occU, ok := desiredNext(a.graph, occ.pos, occ.goal); ok && occU == a.pos {
		a.pos = u
		return
	}

	// Rule 4: walk the blocks chain starting at occ, exactly as
	// internal/tswap's phaseA does, but over NeighborInfo instead of a
	// shared agent array, and only this agent can commit the rotation,
	// so it is proposed via target_rotation_request (§4.5) rather than
	// applied silently.
	seen := map[overlay.PeerID]bool{occ.peerID: true}
	chain := []neighborInfo{occ}
	head := occ
	cycle := false
	aborted := false
	for {
		if head.pos == head.goal {
			break
		}
		hu, ok := desiredNext(a.graph, head.pos, head.goal)
		if !ok {
			break
		}
		next, ok := a.occupantAt(hu)
		if !ok {
			if hu == a.pos {
				cycle = len(chain) >= 2
			}
			break
		}
		if next.peerID == a.id {
			cycle = len(chain) >= 2
			break
		}
		if seen[next.peerID] {
			aborted = true
			break
		}
		seen[next.peerID] = true
		chain = append(chain, next)
		head = next
	}

	if !cycle || aborted {
		return
	}

	participants := make([]string, 0, len(chain)+1)
	goals := make([]grid.Cell, 0, len(chain)+1)
	participants = append(participants, string(a.id))
	goals = append(goals, a.goal)
	for _, m := range chain {
		participants = append(participants, string(m.peerID))
		goals = append(goals, m.goal)
	}

	a.requestCounter++
	reqID := fmt.Sprintf("%s-rot-%d", a.id, a.requestCounter)
	a.dedup.FirstSeen("rotation:" + reqID) // never re-process our own broadcast
	n := len(participants)
	a.goal = goals[1%n]
	a.publish(ctx, protocol.TargetRotationRequest{
		Type: protocol.KindTargetRotationReq, RequestID: reqID,
		Initiator: string(a.id), Participants: participants, Goals: goals,
	})
}
