package core

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/blazeload/blaze/internal/backend"
	"github.com/blazeload/blaze/internal/engine/types"
)

// FreeSlots is the number of jobs that may be submitted given the engine's
// own count of active transfers.
func FreeSlots(ceiling, active int) int {
	return max(0, ceiling-active)
}

// Candidates returns the jobs eligible for admission in FIFO order: Waiting
// jobs that have never been handed to the current engine.
func Candidates(jobs []types.Job) []types.Job {
	var out []types.Job
	for _, j := range jobs {
		if j.State == types.StateWaiting && j.ExternalID == "" {
			out = append(out, j)
		}
	}
	slices.SortStableFunc(out, byAge)
	return out
}

func byAge(a, b types.Job) int {
	if c := a.AddedAt.Compare(b.AddedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Admission is the outcome of submitting one job.
type Admission struct {
	JobID      string
	ExternalID string
	Err        error
}

// Admit submits up to free jobs from waiting, in order. A failed submission
// does not stop the batch unless the engine became unreachable, in which case
// the remaining jobs are left untouched.
func Admit(ctx context.Context, client backend.Client, free int, waiting []types.Job) []Admission {
	if free <= 0 {
		return nil
	}
	var out []Admission
	for _, j := range waiting[:min(free, len(waiting))] {
		eid, err := client.Submit(ctx, submitRequest(j))
		out = append(out, Admission{JobID: j.ID, ExternalID: eid, Err: err})
		if backend.IsConnectivity(err) {
			break
		}
	}
	return out
}

func submitRequest(j types.Job) backend.SubmitRequest {
	return backend.SubmitRequest{
		URL:         j.URL,
		Dir:         j.TargetDir,
		Filename:    j.Filename,
		Connections: j.Connections,
	}
}

// markSubmitted records a successful (re)submission.
func markSubmitted(j *types.Job, externalID string, now time.Time) {
	j.ExternalID = externalID
	j.State = types.StateDownloading
	j.PausedDueToDisconnect = false
	j.StartedAt = now
	j.ErrorMessage = ""
}

// markFailed records a rejected submission or control call.
func markFailed(j *types.Job, err error, now time.Time) {
	j.State = types.StateError
	j.PausedDueToDisconnect = false
	j.Speed = 0
	j.ErrorMessage = err.Error()
	if j.FinishedAt.IsZero() {
		j.FinishedAt = now
	}
}

// demote sends a job back to the queue for a fresh submission.
func demote(j *types.Job) {
	j.State = types.StateWaiting
	j.ExternalID = ""
	j.PausedDueToDisconnect = false
	j.Speed = 0
}
