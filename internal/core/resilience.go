package core

import (
	"context"
	"slices"

	"github.com/blazeload/blaze/internal/backend"
	"github.com/blazeload/blaze/internal/engine/types"
	"github.com/blazeload/blaze/internal/utils"
)

// handleDisconnect parks every Downloading job. It reports whether this is a
// new outage; repeated failures while already disconnected change nothing.
// Caller holds tickMu.
func (s *LocalDownloadService) handleDisconnect(err error) bool {
	if !s.connected.CompareAndSwap(true, false) {
		return false
	}
	utils.Debug("engine unreachable: %v", err)

	parked := 0
	s.Registry.Update(func(tx *RegistryTx) {
		for _, j := range tx.InState(types.StateDownloading) {
			park(j)
			tx.Reclassify(j)
			s.dirty[j.ID] = struct{}{}
			parked++
		}
	})
	s.totalSpeed.Store(0)
	utils.Debug("parked %d downloading jobs", parked)
	return true
}

// park pauses a job because the engine went away. Its external id is kept but
// no longer trusted.
func park(j *types.Job) {
	j.State = types.StatePaused
	j.PausedDueToDisconnect = true
	j.Speed = 0
}

// reconnect resubmits every parked job for a fresh external id. Jobs parked
// by an unreachable startup only go back into free slots; the rest of them are
// re-queued. statuses is the listing that showed the engine is back. It
// returns how many jobs now occupy engine slots and which listed ids were
// cancelled. A non-nil error means the engine dropped again; the remaining
// jobs stay parked.
// Caller holds tickMu.
func (s *LocalDownloadService) reconnect(ctx context.Context, statuses []types.BackendStatus) (int, map[string]bool, error) {
	utils.Debug("engine reachable again, %d entries listed", len(statuses))

	present := make(map[string]bool, len(statuses))
	running := make(map[string]bool)
	for _, st := range statuses {
		present[st.ExternalID] = true
		if st.RawState == types.RawActive {
			running[st.ExternalID] = true
		}
	}

	s.clearStaleHandles(present)

	cancelled := make(map[string]bool)
	submitted, requeued := 0, 0
	active := len(running)
	now := s.now()

	parked := s.collectParked()

	// A surviving old handle means the engine did not restart. Drop it to
	// avoid two transfers of the same job.
	for _, j := range parked {
		if j.ExternalID == "" || !present[j.ExternalID] {
			continue
		}
		if err := s.Backend.Cancel(ctx, j.ExternalID); err != nil {
			utils.Debug("reconnect: cancel stale %s for %s: %v", j.ExternalID, j.ID, err)
			continue
		}
		cancelled[j.ExternalID] = true
		if running[j.ExternalID] {
			active--
		}
	}

	for _, j := range parked {
		if _, gated := s.gated[j.ID]; gated && FreeSlots(s.opts.MaxConcurrent, active) == 0 {
			demote(&j)
			s.commit(j)
			delete(s.gated, j.ID)
			requeued++
			continue
		}

		eid, err := s.Backend.Submit(ctx, submitRequest(j))
		s.metrics.RecordSubmission(ctx, err == nil)
		if backend.IsConnectivity(err) {
			return submitted, cancelled, err
		}
		if err != nil {
			utils.Debug("reconnect: resubmit %s: %v", j.ID, err)
			markFailed(&j, err, now)
		} else {
			markSubmitted(&j, eid, now)
			submitted++
			active++
		}
		s.commit(j)
		delete(s.gated, j.ID)
	}

	clear(s.gated)
	s.connected.Store(true)
	utils.Debug("reconnect: %d jobs resubmitted, %d re-queued", submitted, requeued)
	return submitted, cancelled, nil
}

func isParked(j types.Job) bool {
	return j.State == types.StatePaused && j.PausedDueToDisconnect
}

// collectParked returns disconnect-paused jobs from memory and the store,
// oldest first. Stored jobs the registry does not know yet are added to it.
func (s *LocalDownloadService) collectParked() []types.Job {
	parked := s.Registry.Select(isParked)

	stored, err := s.Store.LoadAll()
	if err != nil {
		utils.Debug("reconnect: load stored jobs: %v", err)
	}
	for _, j := range stored {
		if !isParked(j) {
			continue
		}
		if _, tracked := s.Registry.Get(j.ID); tracked {
			continue
		}
		s.Registry.Add(j)
		parked = append(parked, j)
	}

	slices.SortStableFunc(parked, byAge)
	return parked
}

// clearStaleHandles forgets external ids of queued and user-paused jobs that
// the engine no longer lists. Caller holds tickMu.
func (s *LocalDownloadService) clearStaleHandles(present map[string]bool) {
	s.Registry.Update(func(tx *RegistryTx) {
		for _, j := range tx.InState(types.StateWaiting, types.StatePaused) {
			if j.PausedDueToDisconnect || j.ExternalID == "" || present[j.ExternalID] {
				continue
			}
			j.ExternalID = ""
			s.dirty[j.ID] = struct{}{}
		}
	})
}
