package protocol

import "github.com/niceyeti/mapd/internal/grid"

// ManagerPhase is the centralized manager's per-agent state machine (§4.5):
// Unknown -> (position_update) -> Available -> (task dispatched) ->
// AssignedMovingToPickup -> (position=pickup) -> AssignedMovingToDelivery ->
// (done received) -> Available.
type ManagerPhase int

const (
	Unknown ManagerPhase = iota
	Available
	AssignedMovingToPickup
	AssignedMovingToDelivery
)

func (p ManagerPhase) String() string {
	switch p {
	case Unknown:
		return "unknown"
	case Available:
		return "available"
	case AssignedMovingToPickup:
		return "assigned_moving_to_pickup"
	case AssignedMovingToDelivery:
		return "assigned_moving_to_delivery"
	default:
		return "unknown_phase"
	}
}

// PeerRecord is the manager's view of one agent: its phase, last reported
// position/goal, and (while assigned) which task it carries.
type PeerRecord struct {
	PeerID    string
	Phase     ManagerPhase
	Pos       grid.Cell
	Goal      grid.Cell
	TaskID    string
	Pickup    grid.Cell
	Delivery  grid.Cell
	Timestamp int64 // last applied position_update timestamp, for monotonic ordering
}

// OnPositionUpdate applies a position report, transitioning Unknown ->
// Available on first contact. Updates are dropped if ts does not exceed the
// last applied timestamp, per §9's monotonic-timestamp rule. Callers should
// only reach this once per peer, for the first-contact transition out of
// Unknown; afterward the centralized manager is the sole authority over
// Pos/Goal (§5) and subsequent reports should use Touch instead.
func (r *PeerRecord) OnPositionUpdate(pos, goal grid.Cell, ts int64) {
	if ts <= r.Timestamp && r.Timestamp != 0 {
		return
	}
	r.Timestamp = ts
	r.Pos = pos
	r.Goal = goal
	if r.Phase == Unknown {
		r.Phase = Available
	}
}

// Touch records a position report's timestamp for liveness/staleness
// purposes (§9's neighbor staleness bound) without touching Pos/Goal, for
// peers the manager already tracks authoritatively (Phase != Unknown). A
// lagging or reordered echo from an already-tracked agent must not reset
// the manager's own position model backward.
func (r *PeerRecord) Touch(ts int64) {
	if ts <= r.Timestamp && r.Timestamp != 0 {
		return
	}
	r.Timestamp = ts
}

// Dispatch transitions Available -> AssignedMovingToPickup, recording the
// dispatched task. Returns false if called outside Available.
func (r *PeerRecord) Dispatch(taskID string, pickup, delivery grid.Cell) bool {
	if r.Phase != Available {
		return false
	}
	r.Phase = AssignedMovingToPickup
	r.TaskID = taskID
	r.Pickup = pickup
	r.Delivery = delivery
	r.Goal = pickup
	return true
}

// ReachPickup transitions AssignedMovingToPickup -> AssignedMovingToDelivery
// once the agent's reported position equals its assigned pickup cell.
func (r *PeerRecord) ReachPickup() bool {
	if r.Phase != AssignedMovingToPickup || r.Pos != r.Pickup {
		return false
	}
	r.Phase = AssignedMovingToDelivery
	r.Goal = r.Delivery
	return true
}

// Complete transitions AssignedMovingToDelivery -> Available on receipt of
// a matching Done message, clearing the task.
func (r *PeerRecord) Complete(taskID string) bool {
	if r.Phase != AssignedMovingToDelivery || r.TaskID != taskID {
		return false
	}
	r.Phase = Available
	r.TaskID = ""
	r.Pickup = grid.Cell{}
	r.Delivery = grid.Cell{}
	return true
}
