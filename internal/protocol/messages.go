// Package protocol is the C5 coordination protocol: one JSON envelope shape
// per message kind in spec §4.5, a tagged-variant decode step (§9:
// "message dispatch...maps naturally to a tagged-variant decode step: decode
// into a sum over all known message shapes; default branch = ignore"), the
// two state machines, and the request_id/task_id dedup ledger.
//
// The decode-by-discriminator idiom is grounded on the teacher's
// fastview.EleUpdate/Op pattern: a small typed payload round-tripped with
// encoding/json and ws.WriteJSON, generalized here from one update shape to
// the full message catalogue.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/niceyeti/mapd/internal/grid"
)

// Kind discriminates every typed message except the completion notice and
// the raw task envelope, neither of which carries a "type" field (§6: "An
// optional binary task envelope...is the only message without a type
// field").
type Kind string

const (
	KindOccupiedRequest   Kind = "occupied_request"
	KindOccupiedResponse  Kind = "occupied_response"
	KindPosition          Kind = "position"
	KindGoalSwapRequest   Kind = "goal_swap_request"
	KindGoalSwapResponse  Kind = "goal_swap_response"
	KindTargetRotationReq Kind = "target_rotation_request"
	KindMoveInstruction   Kind = "move_instruction"
	KindSwapRequest       Kind = "swap_request"
	KindSwapResponse      Kind = "swap_response"
)

// ErrUnrecognized is returned by Decode for a payload matching none of the
// known shapes; per §7 the caller's response is to ignore it, not to treat
// it as fatal.
var ErrUnrecognized = errors.New("protocol: unrecognized message")

// Task is the raw task-dispatch envelope (§6): pickup, delivery, peer_id,
// task_id, with no "type" discriminator. Receivers decode it by falling
// through the typed dispatch on failure, per §6.
type Task struct {
	Pickup   grid.Cell `json:"pickup"`
	Delivery grid.Cell `json:"delivery"`
	PeerID   string    `json:"peer_id"`
	TaskID   string    `json:"task_id"`
}

// Done is the completion notice (§4.5: "{status:\"done\", task_id}"),
// distinguished by its "status" field rather than a "type" discriminator.
type Done struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
}

type OccupiedRequest struct {
	Type   Kind   `json:"type"`
	PeerID string `json:"peer_id"`
}

type OccupiedResponse struct {
	Type     Kind      `json:"type"`
	PeerID   string    `json:"peer_id"`
	Occupied grid.Cell `json:"occupied"`
}

// Position is the periodic broadcast (§4.5, every T_pos).
type Position struct {
	Type      Kind      `json:"type"`
	PeerID    string    `json:"peer_id"`
	Pos       grid.Cell `json:"pos"`
	Goal      grid.Cell `json:"goal"`
	Timestamp int64     `json:"timestamp"`
}

type GoalSwapRequest struct {
	Type      Kind      `json:"type"`
	RequestID string    `json:"request_id"`
	FromPeer  string    `json:"from_peer"`
	ToPeer    string    `json:"to_peer"`
	MyGoal    grid.Cell `json:"my_goal"`
}

type GoalSwapResponse struct {
	Type      Kind      `json:"type"`
	RequestID string    `json:"request_id"`
	FromPeer  string    `json:"from_peer"`
	ToPeer    string    `json:"to_peer"`
	MyGoal    grid.Cell `json:"my_goal"`
	Accepted  bool      `json:"accepted"`
}

// TargetRotationRequest carries the Rule 4 cycle in index order.
// Goals[i] is the *current* goal of Participants[i]; the participant at
// index i adopts Goals[(i+1) mod n], so the rotation is computed by the
// receiver, not precomputed by the sender.
type TargetRotationRequest struct {
	Type         Kind        `json:"type"`
	RequestID    string      `json:"request_id"`
	Initiator    string      `json:"initiator"`
	Participants []string    `json:"participants"`
	Goals        []grid.Cell `json:"goals"`
}

// MoveInstruction is the centralized manager's per-tick directive (§4.5).
type MoveInstruction struct {
	Type      Kind      `json:"type"`
	PeerID    string    `json:"peer_id"`
	NextPos   grid.Cell `json:"next_pos"`
	Timestamp int64     `json:"timestamp"`
}

// SwapRequest/SwapResponse implement the optional decentralized task-swap
// alternative (§4.5, §D.2): an agent blocked by a peer holding its own task
// proposes trading tasks outright.
type SwapRequest struct {
	Type     Kind   `json:"type"`
	FromPeer string `json:"from_peer"`
	ToPeer   string `json:"to_peer"`
	Task     Task   `json:"task"`
}

type SwapResponse struct {
	Type     Kind   `json:"type"`
	FromPeer string `json:"from_peer"`
	ToPeer   string `json:"to_peer"`
	Task     Task   `json:"task"`
}

// header is decoded first to determine which concrete shape to unmarshal
// the payload into.
type header struct {
	Type   Kind   `json:"type"`
	Status string `json:"status"`
}

// Decode inspects data's discriminator and returns the corresponding typed
// value (one of the types above), or ErrUnrecognized if data matches none
// of them. Decode never returns a decode error for a structurally valid but
// unknown message — callers ignore ErrUnrecognized per §7's "unknown
// message type -> ignore" policy; a non-ErrUnrecognized error means data
// itself was not valid JSON.
func Decode(data []byte) (any, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}

	if h.Status == "done" {
		var d Done
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	}

	switch h.Type {
	case KindOccupiedRequest:
		var m OccupiedRequest
		return decodeInto(data, &m)
	case KindOccupiedResponse:
		var m OccupiedResponse
		return decodeInto(data, &m)
	case KindPosition:
		var m Position
		return decodeInto(data, &m)
	case KindGoalSwapRequest:
		var m GoalSwapRequest
		return decodeInto(data, &m)
	case KindGoalSwapResponse:
		var m GoalSwapResponse
		return decodeInto(data, &m)
	case KindTargetRotationReq:
		var m TargetRotationRequest
		return decodeInto(data, &m)
	case KindMoveInstruction:
		var m MoveInstruction
		return decodeInto(data, &m)
	case KindSwapRequest:
		var m SwapRequest
		return decodeInto(data, &m)
	case KindSwapResponse:
		var m SwapResponse
		return decodeInto(data, &m)
	case "":
		// No "type" and no "status": the only remaining known shape is the
		// raw task-dispatch envelope.
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, err
		}
		if t.TaskID == "" && t.PeerID == "" {
			return nil, ErrUnrecognized
		}
		return t, nil
	default:
		return nil, ErrUnrecognized
	}
}

func decodeInto[T any](data []byte, out *T) (any, error) {
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return *out, nil
}
