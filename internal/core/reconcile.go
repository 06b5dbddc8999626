package core

import (
	"context"
	"fmt"
	"time"

	"github.com/blazeload/blaze/internal/backend"
	"github.com/blazeload/blaze/internal/engine/events"
	"github.com/blazeload/blaze/internal/engine/types"
	"github.com/blazeload/blaze/internal/observability"
	"github.com/blazeload/blaze/internal/utils"
)

// TickResult describes how a reconciliation tick ended.
type TickResult int

const (
	TickOK TickResult = iota
	TickSkipped
	TickDisconnected
	TickFailed
)

func (r TickResult) outcome() string {
	switch r {
	case TickSkipped:
		return observability.OutcomeSkipped
	case TickDisconnected:
		return observability.OutcomeDisconnected
	case TickFailed:
		return observability.OutcomeFailed
	default:
		return observability.OutcomeOK
	}
}

// Run recovers in-flight jobs and then reconciles every poll interval until
// ctx is cancelled. A tick in progress always runs to completion.
func (s *LocalDownloadService) Run(ctx context.Context) error {
	if err := s.Recover(ctx); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if s.Tick(ctx) != TickDisconnected || s.opts.DisconnectCooldown == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.opts.DisconnectCooldown):
		}
	}
}

// Tick runs one reconciliation pass. If another tick or a control operation
// holds the loop, the tick is skipped.
func (s *LocalDownloadService) Tick(ctx context.Context) TickResult {
	if !s.tickMu.TryLock() {
		s.metrics.RecordTick(ctx, observability.OutcomeSkipped, 0)
		return TickSkipped
	}
	defer s.tickMu.Unlock()

	start := time.Now()
	res := s.tick(context.WithoutCancel(ctx))
	s.metrics.RecordTick(ctx, res.outcome(), time.Since(start).Seconds())
	return res
}

func (s *LocalDownloadService) tick(ctx context.Context) TickResult {
	statuses, err := s.Backend.ListStatuses(ctx)
	if err != nil {
		if !backend.IsConnectivity(err) {
			utils.Debug("tick: list statuses: %v", err)
			return TickFailed
		}
		if s.handleDisconnect(err) {
			s.persist(ctx)
			s.publish(ctx, events.ReasonDisconnected)
		}
		return TickDisconnected
	}

	reason := events.ReasonTick
	var resubmitted int
	var cancelled map[string]bool
	if !s.connected.Load() {
		resubmitted, cancelled, err = s.reconnect(ctx, statuses)
		if err != nil {
			utils.Debug("tick: engine lost again during reconnect: %v", err)
			s.persist(ctx)
			s.publish(ctx, events.ReasonDisconnected)
			return TickDisconnected
		}
		reason = events.ReasonReconnected
	}

	completed := s.applyStatuses(ctx, statuses)
	s.resolvePaths(ctx, completed)
	s.recomputeSpeed()

	active := resubmitted
	for _, st := range statuses {
		if st.RawState == types.RawActive && !cancelled[st.ExternalID] {
			active++
		}
	}
	s.admit(ctx, FreeSlots(s.opts.MaxConcurrent, active))

	s.persist(ctx)
	s.publish(ctx, reason)
	return TickOK
}

type completion struct {
	jobID      string
	externalID string
}

// applyStatuses folds the engine listing into the registry and returns the
// jobs that reached Complete in this pass.
func (s *LocalDownloadService) applyStatuses(ctx context.Context, statuses []types.BackendStatus) []completion {
	byExt := make(map[string]types.BackendStatus, len(statuses))
	for _, st := range statuses {
		byExt[st.ExternalID] = st
	}

	matched := make(map[string]struct{}, len(statuses))
	var done []completion
	now := s.now()

	s.Registry.Update(func(tx *RegistryTx) {
		for _, j := range tx.All() {
			// Parked jobs carry a handle from a previous engine lifetime.
			if j.ExternalID == "" || j.PausedDueToDisconnect {
				continue
			}
			st, ok := byExt[j.ExternalID]
			if !ok {
				continue
			}
			matched[j.ExternalID] = struct{}{}
			if j.State.IsTerminal() {
				continue
			}

			before := *j
			applyStatus(j, st, now)
			if j.State == types.StateComplete {
				done = append(done, completion{jobID: j.ID, externalID: j.ExternalID})
			}
			tx.Reclassify(j)
			if *j != before {
				s.dirty[j.ID] = struct{}{}
			}
		}
	})

	for _, st := range statuses {
		if _, ok := matched[st.ExternalID]; ok {
			continue
		}
		if _, seen := s.foreign[st.ExternalID]; seen {
			continue
		}
		s.foreign[st.ExternalID] = struct{}{}
		utils.Debug("tick: ignoring status for unknown download %s (%s)", st.ExternalID, st.RawState)
		s.metrics.RecordForeignStatus(ctx)
	}
	return done
}

// applyStatus maps one engine status onto a non-terminal job. Progress moves
// only while downloading; reaching Complete applies one final correction.
func applyStatus(j *types.Job, st types.BackendStatus, now time.Time) {
	next := types.MapRawState(st.RawState)

	switch next {
	case types.StateDownloading, types.StateComplete:
		j.TotalBytes = st.TotalBytes
		j.DoneBytes = st.DoneBytes
		if j.TotalBytes > 0 && j.DoneBytes > j.TotalBytes {
			j.DoneBytes = j.TotalBytes
		}
	}
	if next == types.StateDownloading {
		j.Speed = st.Speed
	} else {
		j.Speed = 0
	}

	if next == j.State {
		return
	}
	if next.IsTerminal() && j.FinishedAt.IsZero() {
		j.FinishedAt = now
	}
	if next == types.StateError && j.ErrorMessage == "" {
		j.ErrorMessage = "download failed in engine"
	}
	j.State = next
}

// resolvePaths asks the engine once for the file of each newly completed job.
func (s *LocalDownloadService) resolvePaths(ctx context.Context, done []completion) {
	for _, c := range done {
		path, err := s.Backend.ResolveLocalPath(ctx, c.externalID)
		if err != nil {
			utils.Debug("tick: resolve path for %s: %v", c.jobID, err)
			continue
		}
		s.Registry.Update(func(tx *RegistryTx) {
			j := tx.ByID(c.jobID)
			if j == nil || j.ExternalID != c.externalID || j.LocalPath == path {
				return
			}
			j.LocalPath = path
			s.dirty[j.ID] = struct{}{}
		})
	}
}

// recomputeSpeed sums the speed of all downloading jobs from scratch.
func (s *LocalDownloadService) recomputeSpeed() {
	var total int64
	for _, j := range s.Registry.Select(func(j types.Job) bool { return j.State == types.StateDownloading }) {
		total += j.Speed
	}
	s.totalSpeed.Store(total)
}

// admit submits the oldest eligible Waiting jobs into the free slots.
func (s *LocalDownloadService) admit(ctx context.Context, free int) {
	if free == 0 {
		return
	}
	waiting := Candidates(s.Registry.Select(func(j types.Job) bool { return j.State == types.StateWaiting }))
	if len(waiting) == 0 {
		return
	}

	results := Admit(ctx, s.Backend, free, waiting)
	now := s.now()

	s.Registry.Update(func(tx *RegistryTx) {
		for _, a := range results {
			j := tx.ByID(a.JobID)
			if j == nil {
				continue
			}
			switch {
			case a.Err == nil:
				markSubmitted(j, a.ExternalID, now)
			case backend.IsConnectivity(a.Err):
				utils.Debug("admit: %s left queued: %v", j.ID, a.Err)
				continue
			default:
				utils.Debug("admit: %s rejected: %v", j.ID, a.Err)
				markFailed(j, a.Err, now)
			}
			tx.Reclassify(j)
			s.dirty[j.ID] = struct{}{}
		}
	})

	for _, a := range results {
		s.metrics.RecordSubmission(ctx, a.Err == nil)
	}
}

// persist flushes dirty jobs. A failed write is retried on the next tick.
func (s *LocalDownloadService) persist(ctx context.Context) {
	if err := s.flush(ctx); err != nil {
		utils.Debug("tick: %v (will retry)", err)
	}
}

// publish records bucket gauges and emits one update notification.
func (s *LocalDownloadService) publish(ctx context.Context, reason events.Reason) {
	if s.metrics != nil {
		active, queued, history := s.Registry.Counts()
		s.metrics.RecordSnapshot(ctx, active, queued, history, s.totalSpeed.Load(), s.connected.Load())
	}
	s.emit(reason)
}
