package events

import "time"

// Reason enumerates why presentation state may have changed.
type Reason string

const (
	ReasonTick         Reason = "tick"
	ReasonDisconnected Reason = "disconnected"
	ReasonReconnected  Reason = "reconnected"
	ReasonRecovered    Reason = "recovered"
	ReasonSubmitted    Reason = "submitted"
	ReasonControl      Reason = "control"
	ReasonCleared      Reason = "cleared"
)

// UpdatedMsg tells subscribers to re-read the job buckets.
type UpdatedMsg struct {
	Reason Reason    `json:"reason"`
	Seq    uint64    `json:"seq"`
	At     time.Time `json:"at"`
}
