package types

import (
	"fmt"
	"time"
)

// JobState is the lifecycle state of a queued download job.
type JobState int

const (
	StateWaiting JobState = iota
	StateDownloading
	StatePaused
	StateStopped
	StateError
	StateComplete
)

var stateNames = [...]string{
	StateWaiting:     "waiting",
	StateDownloading: "downloading",
	StatePaused:      "paused",
	StateStopped:     "stopped",
	StateError:       "error",
	StateComplete:    "complete",
}

func (s JobState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("JobState(%d)", int(s))
	}
	return stateNames[s]
}

// ParseJobState is the inverse of JobState.String.
func ParseJobState(s string) (JobState, error) {
	for i, name := range stateNames {
		if name == s {
			return JobState(i), nil
		}
	}
	return StateWaiting, fmt.Errorf("unknown job state %q", s)
}

func (s JobState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *JobState) UnmarshalText(text []byte) error {
	v, err := ParseJobState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// IsTerminal reports whether the state is absorbing (Stopped, Error, Complete).
func (s JobState) IsTerminal() bool {
	switch s {
	case StateStopped, StateError, StateComplete:
		return true
	default:
		return false
	}
}

// Bucket is one of the three presentation partitions a job belongs to.
type Bucket int

const (
	BucketActive Bucket = iota
	BucketQueued
	BucketHistory
)

func (b Bucket) String() string {
	switch b {
	case BucketActive:
		return "active"
	case BucketQueued:
		return "queued"
	case BucketHistory:
		return "history"
	default:
		return fmt.Sprintf("Bucket(%d)", int(b))
	}
}

// BucketOf maps a state to its bucket. Paused jobs stay with the active transfers.
func BucketOf(s JobState) Bucket {
	switch s {
	case StateDownloading, StatePaused:
		return BucketActive
	case StateWaiting:
		return BucketQueued
	case StateStopped, StateError, StateComplete:
		return BucketHistory
	default:
		return BucketHistory
	}
}

// Raw states reported by the download engine.
const (
	RawActive   = "active"
	RawWaiting  = "waiting"
	RawPaused   = "paused"
	RawError    = "error"
	RawComplete = "complete"
	RawRemoved  = "removed"
)

// MapRawState translates an engine status string into a JobState.
// Anything unrecognised is treated as Stopped.
func MapRawState(raw string) JobState {
	switch raw {
	case RawActive:
		return StateDownloading
	case RawWaiting:
		return StateWaiting
	case RawPaused:
		return StatePaused
	case RawError:
		return StateError
	case RawComplete:
		return StateComplete
	default:
		return StateStopped
	}
}

// Job is one queued download. The zero value of every time field means "not set".
// Job is comparable so a tick can detect changes with ==.
type Job struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id,omitempty"`

	URL         string `json:"url"`
	TargetDir   string `json:"target_dir,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Connections int    `json:"connections"`

	TotalBytes int64 `json:"total_bytes"`
	DoneBytes  int64 `json:"done_bytes"`
	Speed      int64 `json:"speed"` // bytes/sec, live only while downloading

	State                 JobState `json:"state"`
	PausedDueToDisconnect bool     `json:"paused_due_to_disconnect,omitempty"`

	AddedAt    time.Time `json:"added_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	ErrorMessage string `json:"error_message,omitempty"`
	LocalPath    string `json:"local_path,omitempty"`
}

// Percent returns progress in the range [0, 100].
func (j Job) Percent() float64 {
	if j.TotalBytes <= 0 {
		return 0
	}
	return float64(j.DoneBytes) * 100 / float64(j.TotalBytes)
}

// ETA estimates the remaining transfer time. Zero when unknown.
func (j Job) ETA() time.Duration {
	if j.State != StateDownloading || j.Speed <= 0 || j.TotalBytes <= 0 {
		return 0
	}
	remaining := j.TotalBytes - j.DoneBytes
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / float64(j.Speed) * float64(time.Second))
}

// DisplayName is the filename if set, otherwise the URL.
func (j Job) DisplayName() string {
	if j.Filename != "" {
		return j.Filename
	}
	return j.URL
}

// BackendStatus is one entry of the engine's status listing.
type BackendStatus struct {
	ExternalID string `json:"external_id"`
	TotalBytes int64  `json:"total_bytes"`
	DoneBytes  int64  `json:"done_bytes"`
	Speed      int64  `json:"speed"`
	RawState   string `json:"raw_state"`
}

// ActiveCount counts entries the engine reports as actively transferring.
func ActiveCount(statuses []BackendStatus) int {
	n := 0
	for _, st := range statuses {
		if st.RawState == RawActive {
			n++
		}
	}
	return n
}
