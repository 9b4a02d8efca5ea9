package protocol

// AgentLifecycle is the agent task-lifecycle state machine (§4.5): Idle ->
// (task received) -> MovingToPickup -> (current=pickup) -> MovingToDelivery
// -> (current=delivery) -> emit done -> Idle. Encoded as a named int enum,
// not booleans, per §9's "polymorphic agent state...tagged variant with a
// fixed set of values".
type AgentLifecycle int

const (
	Idle AgentLifecycle = iota
	MovingToPickup
	MovingToDelivery
)

func (s AgentLifecycle) String() string {
	switch s {
	case Idle:
		return "idle"
	case MovingToPickup:
		return "moving_to_pickup"
	case MovingToDelivery:
		return "moving_to_delivery"
	default:
		return "unknown"
	}
}

// AgentTaskState tracks one agent's own lifecycle and current task.
type AgentTaskState struct {
	Lifecycle AgentLifecycle
	Task      *Task
}

// ReceiveTask transitions Idle -> MovingToPickup. Receipt of a task while
// not Idle is a protocol violation the caller should log and ignore rather
// than call this (the manager never double-dispatches per §4.5).
func (a *AgentTaskState) ReceiveTask(t Task) {
	a.Task = &t
	a.Lifecycle = MovingToPickup
}

// ArriveAtPickup transitions MovingToPickup -> MovingToDelivery when the
// agent's current position equals its task's pickup cell. Returns false if
// called outside MovingToPickup (a no-op).
func (a *AgentTaskState) ArriveAtPickup() bool {
	if a.Lifecycle != MovingToPickup {
		return false
	}
	a.Lifecycle = MovingToDelivery
	return true
}

// ArriveAtDelivery transitions MovingToDelivery -> Idle when the agent's
// current position equals its task's delivery cell, returning the
// completed task so the caller can emit a Done message. ok is false if
// called outside MovingToDelivery.
func (a *AgentTaskState) ArriveAtDelivery() (completed Task, ok bool) {
	if a.Lifecycle != MovingToDelivery || a.Task == nil {
		return Task{}, false
	}
	completed = *a.Task
	a.Task = nil
	a.Lifecycle = Idle
	return completed, true
}
