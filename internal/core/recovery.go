package core

import (
	"context"
	"fmt"
	"slices"

	"github.com/blazeload/blaze/internal/backend"
	"github.com/blazeload/blaze/internal/engine/events"
	"github.com/blazeload/blaze/internal/engine/types"
	"github.com/blazeload/blaze/internal/utils"
)

// Recover rebuilds the registry from the store and resubmits jobs that were
// running (or parked by an outage) when the process last stopped. Jobs that
// do not fit into the engine's free slots go back to the queue.
func (s *LocalDownloadService) Recover(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	jobs, err := s.Store.LoadAll()
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	s.Registry.Load(jobs)
	utils.Debug("recovery: loaded %d jobs", len(jobs))

	statuses, err := s.Backend.ListStatuses(ctx)
	if err != nil {
		// Start out disconnected; the first successful tick resubmits as
		// many parked jobs as the engine has room for.
		s.connected.Store(true)
		s.handleDisconnect(err)
		for _, j := range s.Registry.Select(isParked) {
			s.gated[j.ID] = struct{}{}
		}
		s.persist(ctx)
		s.publish(ctx, events.ReasonRecovered)
		return nil
	}
	s.connected.Store(true)

	present := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		present[st.ExternalID] = true
	}
	s.clearStaleHandles(present)

	var pending []types.Job
	for _, j := range s.Registry.Select(func(types.Job) bool { return true }) {
		switch {
		case j.State == types.StateDownloading && j.ExternalID != "" && present[j.ExternalID]:
			// Still known to the engine; the first tick picks it up.
		case j.State == types.StateDownloading, j.State == types.StatePaused && j.PausedDueToDisconnect:
			pending = append(pending, j)
		}
	}

	// Running jobs first, then parked ones, oldest first within each.
	slices.SortStableFunc(pending, func(a, b types.Job) int {
		if a.State != b.State {
			if a.State == types.StateDownloading {
				return -1
			}
			return 1
		}
		return byAge(a, b)
	})

	free := FreeSlots(s.opts.MaxConcurrent, types.ActiveCount(statuses))
	now := s.now()
	reachable := true
	resubmitted, requeued := 0, 0

	for _, j := range pending {
		if free > 0 && reachable {
			eid, err := s.Backend.Submit(ctx, submitRequest(j))
			s.metrics.RecordSubmission(ctx, err == nil)
			switch {
			case err == nil:
				markSubmitted(&j, eid, now)
				s.commit(j)
				free--
				resubmitted++
				continue
			case backend.IsConnectivity(err):
				utils.Debug("recovery: engine lost while resubmitting %s: %v", j.ID, err)
				reachable = false
			default:
				utils.Debug("recovery: resubmit %s: %v", j.ID, err)
				markFailed(&j, err, now)
				s.commit(j)
				continue
			}
		}
		demote(&j)
		s.commit(j)
		requeued++
	}
	if !reachable {
		s.connected.Store(false)
	}

	utils.Debug("recovery: %d resubmitted, %d re-queued", resubmitted, requeued)
	s.recomputeSpeed()
	s.persist(ctx)
	s.publish(ctx, events.ReasonRecovered)
	return nil
}
