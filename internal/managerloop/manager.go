// Package managerloop is the centralized-manager orchestration shell:
// it drives C1 (grid), C2 (search), C3 (tasksource) and C4 (tswap)
// locally, emits C5 move_instruction/task messages over the overlay,
// and maintains C6 metrics, per §2's "centralized manager" row.
//
// All of peers/pending/ledgers is owned by exactly one goroutine's
// select loop (eventLoop), fed by channerics-wrapped producers (overlay
// events, the plan/cleanup tickers, an operator-stdin scanner) — the
// same single-consumer discipline internal/overlay's Hub.run() uses for
// its ctrlCh. golang.org/x/sync/semaphore still bounds the one genuinely
// concurrent piece of work, diagnosticReplans' background A* pool, whose
// results land only in internal/metrics.PathMetrics's own CAS-guarded
// aggregates.
package managerloop

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/semaphore"

	"github.com/niceyeti/mapd/internal/config"
	"github.com/niceyeti/mapd/internal/grid"
	"github.com/niceyeti/mapd/internal/metrics"
	"github.com/niceyeti/mapd/internal/overlay"
	"github.com/niceyeti/mapd/internal/protocol"
	"github.com/niceyeti/mapd/internal/search"
	"github.com/niceyeti/mapd/internal/tasksource"
	"github.com/niceyeti/mapd/internal/tswap"
)

// Manager is the centralized coordinator process.
type Manager struct {
	cfg   config.Config
	graph *grid.Graph
	ov    overlay.Overlay
	topic overlay.Topic
	rng   *rand.Rand

	peers     map[string]*protocol.PeerRecord
	peerOrder []string // known peer_ids in first-contact order; the oldest is evicted first

	pending []tasksource.Task // queued, undispatched tasks
	nextTID int64

	dedup       *protocol.Dedup
	taskLedger  *metrics.TaskLedger
	pathMetrics *metrics.PathMetrics
	replanSem   *semaphore.Weighted

	snapshotReq chan chan Snapshot

	out func(format string, args ...any)
}

// New constructs a manager bound to ov and ready to run Run.
func New(cfg config.Config, g *grid.Graph, ov overlay.Overlay, topic overlay.Topic, log func(string, ...any)) *Manager {
	if log == nil {
		log = func(format string, args ...any) { fmt.Printf(format+"\n", args...) }
	}
	return &Manager{
		cfg:         cfg,
		graph:       g,
		ov:          ov,
		topic:       topic,
		rng:         rand.New(rand.NewSource(1)),
		peers:       make(map[string]*protocol.PeerRecord),
		dedup:       protocol.NewDedup(cfg.NPeersMax * 4),
		taskLedger:  metrics.NewTaskLedger(),
		pathMetrics: metrics.NewPathMetrics(),
		replanSem:   semaphore.NewWeighted(4),
		snapshotReq: make(chan chan Snapshot),
		out:         log,
	}
}

// Run subscribes to topic and drives the manager's event loop until
// ctx is cancelled or the overlay closes.
func (m *Manager) Run(ctx context.Context, stdin io.Reader) error {
	if err := m.ov.Subscribe(ctx, m.topic); err != nil {
		return fmt.Errorf("managerloop: subscribe: %w", err)
	}
	return m.eventLoop(ctx, stdin)
}

// eventLoop is the manager's single owning goroutine: peers/pending/
// ledgers are read and mutated only here. Overlay events, the plan and
// cleanup tickers, and operator stdin lines are all merely producers —
// stdinLines' scanning goroutine only pushes strings onto a channel and
// touches no Manager state itself, the same producer/consumer split
// internal/overlay's Hub.run() uses for its ctrlCh.
func (m *Manager) eventLoop(ctx context.Context, stdin io.Reader) error {
	events := channerics.OrDone(ctx.Done(), m.ov.Events())
	planTicker := channerics.NewTicker(ctx.Done(), m.cfg.TPlan)
	cleanupTicker := channerics.NewTicker(ctx.Done(), m.cfg.TCleanup)
	lines := m.stdinLines(ctx, stdin)

	var tick int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			m.handleEvent(ctx, e)
		case _, ok := <-planTicker:
			if !ok {
				return nil
			}
			tick++
			m.runPlanTick(ctx, tick)
		case _, ok := <-cleanupTicker:
			if !ok {
				return nil
			}
			m.sweepStalePeers()
		case line, ok := <-lines:
			if !ok {
				lines = nil // stdin closed: stop selecting it without busy-looping
				continue
			}
			m.handleCommand(ctx, line)
		case reply := <-m.snapshotReq:
			reply <- m.buildSnapshot()
		}
	}
}

// stdinLines scans stdin on its own goroutine and forwards each line on
// the returned channel, closing it when stdin is exhausted or ctx ends;
// it touches no Manager state, so it is safe to run concurrently with
// eventLoop.
func (m *Manager) stdinLines(ctx context.Context, stdin io.Reader) <-chan string {
	if stdin == nil {
		stdin = os.Stdin
	}
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func (m *Manager) publish(ctx context.Context, v any) {
	data, err := encodeJSON(v)
	if err != nil {
		panic(fmt.Sprintf("managerloop: encode: %v", err))
	}
	if err := m.ov.Publish(ctx, m.topic, data); err != nil {
		m.out("[overlay] publish failed: %v", err)
	}
}

func (m *Manager) handleEvent(ctx context.Context, e overlay.Event) {
	switch e.Kind {
	case overlay.Discovered:
		m.recordPeer(string(e.Peer))
	case overlay.Expired:
		m.evictPeer(string(e.Peer))
	case overlay.Message:
		m.handleMessage(ctx, e)
	}
}

// recordPeer ensures a peer_id has a record and an entry in peerOrder.
// (runPlanTick derives tswap.Agent IDs from the sorted peer_ids, not
// from peerOrder.) Evicts the oldest entry first if N_peers_max is exceeded (§5).
func (m *Manager) recordPeer(peerID string) *protocol.PeerRecord {
	if rec, ok := m.peers[peerID]; ok {
		return rec
	}
	if len(m.peerOrder) >= m.cfg.NPeersMax && len(m.peerOrder) > 0 {
		oldest := m.peerOrder[0]
		m.peerOrder = m.peerOrder[1:]
		delete(m.peers, oldest)
	}
	rec := &protocol.PeerRecord{PeerID: peerID}
	m.peers[peerID] = rec
	m.peerOrder = append(m.peerOrder, peerID)
	return rec
}

// enforceAgentCap evicts the oldest tracked agents (Phase != Unknown) beyond
// N_agents_max, oldest-first (§5). This is a separate, smaller cap than
// N_peers_max, which bounds the raw overlay-peer/dedup ledger and also
// covers peers that have never reported a position.
func (m *Manager) enforceAgentCap() {
	if m.cfg.NAgentsMax <= 0 {
		return
	}
	tracked := make([]string, 0, len(m.peerOrder))
	for _, id := range m.peerOrder {
		if m.peers[id].Phase != protocol.Unknown {
			tracked = append(tracked, id)
		}
	}
	for len(tracked) > m.cfg.NAgentsMax {
		oldest := tracked[0]
		tracked = tracked[1:]
		m.evictPeer(oldest)
	}
}

func (m *Manager) evictPeer(peerID string) {
	delete(m.peers, peerID)
	for i, id := range m.peerOrder {
		if id == peerID {
			m.peerOrder = append(m.peerOrder[:i], m.peerOrder[i+1:]...)
			break
		}
	}
}

func (m *Manager) handleMessage(ctx context.Context, e overlay.Event) {
	msg, err := protocol.Decode(e.Payload)
	if err != nil {
		return
	}
	switch v := msg.(type) {
	case protocol.OccupiedRequest:
		m.handleOccupiedRequest(ctx, v)
	case protocol.Position:
		rec := m.recordPeer(v.PeerID)
		if rec.Phase == protocol.Unknown {
			rec.OnPositionUpdate(v.Pos, v.Goal, v.Timestamp)
			if rec.Phase == protocol.Available {
				m.enforceAgentCap()
				m.tryDispatchTo(ctx, rec)
			}
		} else {
			// Once tracked, the manager's own tswap.Step output is the sole
			// authority on Pos/Goal (§5); the agent's echo only proves it is
			// still alive.
			rec.Touch(v.Timestamp)
		}
	case protocol.Done:
		m.handleDone(ctx, v)
	}
}

// handleOccupiedRequest answers an agent's election-time query with
// every currently known peer position, letting a freshly starting
// agent avoid cells the manager has already observed in use.
func (m *Manager) handleOccupiedRequest(ctx context.Context, req protocol.OccupiedRequest) {
	for _, rec := range m.peers {
		if rec.PeerID == req.PeerID || rec.Phase == protocol.Unknown {
			continue
		}
		m.publish(ctx, protocol.OccupiedResponse{
			Type: protocol.KindOccupiedResponse, PeerID: rec.PeerID, Occupied: rec.Pos,
		})
	}
}

func (m *Manager) handleDone(ctx context.Context, d protocol.Done) {
	if !m.dedup.FirstSeen("done:" + d.TaskID) {
		return
	}
	m.taskLedger.UpdateCompleted(d.TaskID, nowTicks())

	for _, rec := range m.peers {
		if rec.TaskID == d.TaskID {
			rec.Complete(d.TaskID)
			if m.cfg.AutoDispatch {
				m.tryDispatchTo(ctx, rec)
			}
			return
		}
	}
}

// tryDispatchTo assigns the next queued task to rec if it is
// Available, generating a fresh task first if the queue is empty and
// auto-dispatch allows it.
func (m *Manager) tryDispatchTo(ctx context.Context, rec *protocol.PeerRecord) {
	if rec.Phase != protocol.Available {
		return
	}
	if len(m.pending) == 0 {
		t, err := tasksource.Generate(m.graph.Grid(), m.rng)
		if err != nil {
			m.out("[task] generation failed: %v", err)
			return
		}
		m.pending = append(m.pending, t)
	}
	t := m.pending[0]
	m.pending = m.pending[1:]
	m.dispatch(ctx, rec, t)
}

func (m *Manager) dispatch(ctx context.Context, rec *protocol.PeerRecord, t tasksource.Task) {
	m.nextTID++
	taskID := fmt.Sprintf("t%d", m.nextTID)
	if !rec.Dispatch(taskID, t.Pickup, t.Delivery) {
		return
	}
	m.taskLedger.Add(taskID, rec.PeerID, nowTicks(), m.cfg.TaskWatchdogTicks)
	m.taskLedger.UpdateReceived(taskID, nowTicks())
	m.taskLedger.UpdateStarted(taskID, nowTicks())
	m.publish(ctx, protocol.Task{Pickup: t.Pickup, Delivery: t.Delivery, PeerID: rec.PeerID, TaskID: taskID})
}

// DispatchOne dispatches a single task to the first available peer
// (queuing it if none is available), for the CLI's "task" command.
func (m *Manager) DispatchOne(ctx context.Context) {
	for _, id := range m.peerOrder {
		rec := m.peers[id]
		if rec.Phase == protocol.Available {
			m.tryDispatchTo(ctx, rec)
			return
		}
	}
	t, err := tasksource.Generate(m.graph.Grid(), m.rng)
	if err != nil {
		m.out("[task] generation failed: %v", err)
		return
	}
	m.pending = append(m.pending, t)
}

// QueueTasks enqueues n tasks, then immediately assigns any it can to
// currently-idle peers, for the CLI's "tasks N" command.
func (m *Manager) QueueTasks(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		t, err := tasksource.Generate(m.graph.Grid(), m.rng)
		if err != nil {
			m.out("[task] generation failed: %v", err)
			return
		}
		m.pending = append(m.pending, t)
	}
	for _, id := range m.peerOrder {
		if len(m.pending) == 0 {
			return
		}
		if rec := m.peers[id]; rec.Phase == protocol.Available {
			m.tryDispatchTo(ctx, rec)
		}
	}
}

// runPlanTick runs TSWAP Step on the manager's own authoritative
// snapshot every T_plan and publishes one move_instruction per
// affected agent, per §4.5. The manager's internal position model is
// advanced by Step's output directly (it is the sole authority on
// cell transitions, §5), not re-synchronized from position echoes.
func (m *Manager) runPlanTick(ctx context.Context, tick int64) {
	start := time.Now()

	assigned := make([]string, 0, len(m.peerOrder))
	for _, id := range m.peerOrder {
		if rec := m.peers[id]; rec.Phase != protocol.Unknown {
			assigned = append(assigned, id)
		}
	}
	sort.Strings(assigned) // a stable, reproducible ascending order over peer_ids

	agents := make([]tswap.Agent, len(assigned))
	for i, id := range assigned {
		rec := m.peers[id]
		agents[i] = tswap.Agent{ID: i, Pos: rec.Pos, Goal: rec.Goal}
	}

	next, _ := tswap.Step(m.graph, agents)

	for i, id := range assigned {
		rec := m.peers[id]
		if next[i].Pos == rec.Pos && next[i].Goal == rec.Goal {
			continue
		}
		rec.Pos = next[i].Pos
		rec.Goal = next[i].Goal
		if rec.Phase == protocol.AssignedMovingToPickup {
			rec.ReachPickup()
		}
		m.publish(ctx, protocol.MoveInstruction{
			Type: protocol.KindMoveInstruction, PeerID: id, NextPos: rec.Pos, Timestamp: tick,
		})
	}

	m.pathMetrics.Record(time.Since(start))
	m.diagnosticReplans(ctx, assigned)

	failed := m.taskLedger.WatchdogTick(nowTicks())
	for _, id := range failed {
		m.out("[task] %s exceeded its tick budget; marked Failed", id)
	}
}

// diagnosticReplans issues a semaphore-bounded pool of full A*
// recomputations from each busy agent's current position to its goal,
// purely as an instrumentation signal (never consulted for movement):
// it feeds PathMetrics with a sample of full-path planning cost
// alongside the single-step cost TSWAP itself incurs, using
// golang.org/x/sync/semaphore to bound concurrency per §5.
func (m *Manager) diagnosticReplans(ctx context.Context, assigned []string) {
	for _, id := range assigned {
		rec := m.peers[id]
		if rec.Pos == rec.Goal {
			continue
		}
		startNode, ok1 := m.graph.NodeAt(rec.Pos)
		goalNode, ok2 := m.graph.NodeAt(rec.Goal)
		if !ok1 || !ok2 {
			continue
		}
		if err := m.replanSem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(s, goal int) {
			defer m.replanSem.Release(1)
			started := time.Now()
			search.Static(m.graph, s, goal)
			m.pathMetrics.Record(time.Since(started))
		}(startNode, goalNode)
	}
}

func (m *Manager) sweepStalePeers() {
	staleNanos := m.cfg.TStale.Nanoseconds()
	now := time.Now().UnixNano()
	for _, id := range append([]string(nil), m.peerOrder...) {
		rec := m.peers[id]
		if rec.Timestamp != 0 && now-rec.Timestamp > staleNanos {
			m.evictPeer(id)
		}
	}
}

// handleCommand implements the manager's CLI surface (§6).
func (m *Manager) handleCommand(ctx context.Context, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "task":
		m.DispatchOne(ctx)
	case "tasks":
		if len(fields) < 2 {
			m.out("usage: tasks N")
			return
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 0 {
			m.out("usage: tasks N")
			return
		}
		m.QueueTasks(ctx, n)
	case "metrics":
		ts := m.taskLedger.Stats()
		ps := m.pathMetrics.Stats()
		m.out("tasks: completed=%d sent=%d received=%d running=%d failed=%d avg_total=%.1f",
			ts.CountCompleted, ts.CountSent, ts.CountReceived, ts.CountRunning, ts.CountFailed, ts.AvgTotalTime)
		m.out("paths: count=%d mean=%.1fus min=%.1fus max=%.1fus", ps.Count, ps.Mean, ps.Min, ps.Max)
	case "save":
		m.handleSave(fields[1:])
	case "reset":
		m.reset()
	default:
		m.publish(ctx, rawChatPayload(line))
	}
}

func (m *Manager) handleSave(args []string) {
	if len(args) == 0 {
		m.out("usage: save <file> | save path <file>")
		return
	}
	if args[0] == "path" {
		if len(args) < 2 {
			m.out("usage: save path <file>")
			return
		}
		f, err := os.Create(args[1])
		if err != nil {
			m.out("[metrics] save failed: %v", err)
			return
		}
		defer f.Close()
		if err := metrics.WritePathCSV(f, m.pathMetrics.Samples()); err != nil {
			m.out("[metrics] save failed: %v", err)
		}
		return
	}
	f, err := os.Create(args[0])
	if err != nil {
		m.out("[metrics] save failed: %v", err)
		return
	}
	defer f.Close()
	if err := metrics.WriteTaskCSV(f, m.taskLedger.Rows()); err != nil {
		m.out("[metrics] save failed: %v", err)
	}
}

func (m *Manager) reset() {
	m.peers = make(map[string]*protocol.PeerRecord)
	m.peerOrder = nil
	m.pending = nil
	m.nextTID = 0
	m.dedup = protocol.NewDedup(m.cfg.NPeersMax * 4)
	m.taskLedger = metrics.NewTaskLedger()
	m.pathMetrics = metrics.NewPathMetrics()
}

// PeerSnapshot is a read-only copy of one tracked peer, for status
// reporting outside the event loop.
type PeerSnapshot struct {
	PeerID string
	Phase  string
	Pos    grid.Cell
	Goal   grid.Cell
	TaskID string
}

// Snapshot is a point-in-time read-only view of manager state, returned to
// an HTTP dashboard handler (or any other outside caller) across the
// snapshotReq channel rather than by reading Manager fields directly, so
// the event loop remains the only goroutine that ever touches peers/
// pending/the ledgers (§5).
type Snapshot struct {
	Peers     []PeerSnapshot
	Pending   int
	TaskStats metrics.TaskStats
	PathStats metrics.PathStats
}

// buildSnapshot is called only from eventLoop in response to a
// snapshotReq; it is the single place outside of the mutating handlers
// that reads peers/peerOrder/pending/the ledgers.
func (m *Manager) buildSnapshot() Snapshot {
	peers := make([]PeerSnapshot, 0, len(m.peerOrder))
	for _, id := range m.peerOrder {
		rec := m.peers[id]
		peers = append(peers, PeerSnapshot{
			PeerID: rec.PeerID, Phase: rec.Phase.String(), Pos: rec.Pos, Goal: rec.Goal, TaskID: rec.TaskID,
		})
	}
	return Snapshot{
		Peers:     peers,
		Pending:   len(m.pending),
		TaskStats: m.taskLedger.Stats(),
		PathStats: m.pathMetrics.Stats(),
	}
}

// Snapshot asks the event loop for a consistent point-in-time view of
// manager state and blocks until it replies or ctx is cancelled. Safe to
// call concurrently with Run from any goroutine (the manager's HTTP status
// dashboard, in particular).
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case m.snapshotReq <- reply:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func nowTicks() int64 { return time.Now().UnixNano() }

// rawChatPayload wraps an operator line as an opaque payload; per §6's
// "any other line" rule it is published on the topic as the JSON
// object {"chat": line}, so a receiver unable to parse it as a known message shape simply ignores
// it (§7's "unknown message type" / decode-failure policy already
// covers this on the receiving side).
func rawChatPayload(line string) chatLine { return chatLine{Text: line} }

type chatLine struct {
	Text string `json:"chat"`
}
