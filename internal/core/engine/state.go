package engine

import "time"

// ConnState is the connection state machine driven by token availability
// and channel lifecycle callbacks.
type ConnState uint8

const (
	StateOffline ConnState = iota
	StateConnecting
	StateRealtime
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRealtime:
		return "realtime"
	default:
		return "offline"
	}
}

// Status is emitted on every state transition for UI consumption.
type Status struct {
	Mode     string    `json:"mode"`
	Detail   string    `json:"detail"`
	LastOKAt time.Time `json:"lastOkAt"`
}

// Bus event types published by the engine.
const (
	// EventStatus carries a Status value.
	EventStatus = "sync.status"
	// EventApplied carries the sync.ChangeEvent that was just applied to
	// the local cache.
	EventApplied = "sync.applied"
)
