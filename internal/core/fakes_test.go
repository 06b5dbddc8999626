package core

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blazeload/blaze/internal/backend"
	"github.com/blazeload/blaze/internal/engine/types"
)

var errConnRefused = &backend.ConnectivityError{Op: "aria2.tellActive", Err: errors.New("connection refused")}

// fakeBackend is an in-memory download engine.
type fakeBackend struct {
	mu sync.Mutex

	statuses []types.BackendStatus
	listErr  error

	// Submitted jobs show up as active in later listings.
	autoActivate bool
	submitErr    error
	submitErrFor map[string]error // by URL
	controlErr   map[string]error // by external id
	nextID       int

	submitted []backend.SubmitRequest
	paused    []string
	resumed   []string
	cancelled []string
	resolved  []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		autoActivate: true,
		submitErrFor: map[string]error{},
		controlErr:   map[string]error{},
	}
}

func (f *fakeBackend) Submit(_ context.Context, req backend.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if err := f.submitErrFor[req.URL]; err != nil {
		return "", err
	}
	f.nextID++
	gid := fmt.Sprintf("gid-%d", f.nextID)
	f.submitted = append(f.submitted, req)
	if f.autoActivate {
		f.statuses = append(f.statuses, types.BackendStatus{ExternalID: gid, RawState: types.RawActive})
	}
	return gid, nil
}

func (f *fakeBackend) control(list *[]string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.controlErr[id]; err != nil {
		return err
	}
	*list = append(*list, id)
	return nil
}

func (f *fakeBackend) Pause(_ context.Context, id string) error  { return f.control(&f.paused, id) }
func (f *fakeBackend) Resume(_ context.Context, id string) error { return f.control(&f.resumed, id) }
func (f *fakeBackend) Cancel(_ context.Context, id string) error {
	if err := f.control(&f.cancelled, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = slices.DeleteFunc(f.statuses, func(st types.BackendStatus) bool { return st.ExternalID == id })
	return nil
}

func (f *fakeBackend) ListStatuses(context.Context) ([]types.BackendStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return slices.Clone(f.statuses), nil
}

func (f *fakeBackend) ResolveLocalPath(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, id)
	return "/downloads/" + id + ".bin", nil
}

func (f *fakeBackend) setStatus(st types.BackendStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.statuses {
		if f.statuses[i].ExternalID == st.ExternalID {
			f.statuses[i] = st
			return
		}
	}
	f.statuses = append(f.statuses, st)
}

func (f *fakeBackend) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// restart simulates the engine coming back with an empty state.
func (f *fakeBackend) restart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = nil
	f.statuses = nil
}

func (f *fakeBackend) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func (f *fakeBackend) resolveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resolved)
}

// memStore is an in-memory Store that counts writes.
type memStore struct {
	mu      sync.Mutex
	jobs    map[string]types.Job
	upserts int
	written int
	err     error
}

func newMemStore(jobs ...types.Job) *memStore {
	s := &memStore{jobs: map[string]types.Job{}}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *memStore) LoadAll() ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	slices.SortFunc(out, func(a, b types.Job) int {
		if c := a.AddedAt.Compare(b.AddedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *memStore) Upsert(jobs ...types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.upserts++
	for _, j := range jobs {
		s.jobs[j.ID] = j
		s.written++
	}
	return nil
}

func (s *memStore) DeleteWhere(pred func(types.Job) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	n := 0
	for id, j := range s.jobs {
		if pred(j) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) get(id string) (types.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

func (s *memStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

func (s *memStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// fakeClock advances one second per reading so every job gets a distinct AddedAt.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, b *fakeBackend, st *memStore, ceiling int) *LocalDownloadService {
	t.Helper()
	svc := NewLocalDownloadService(b, st, Options{
		MaxConcurrent:      ceiling,
		PollInterval:       10 * time.Millisecond,
		DefaultDir:         "/downloads",
		DefaultConnections: 4,
	})
	clock := &fakeClock{t: epoch}
	svc.now = clock.now
	t.Cleanup(func() { _ = svc.Shutdown() })
	return svc
}

// startedService is newTestService followed by a successful Recover.
func startedService(t *testing.T, b *fakeBackend, st *memStore, ceiling int) *LocalDownloadService {
	t.Helper()
	svc := newTestService(t, b, st, ceiling)
	require.NoError(t, svc.Recover(context.Background()))
	return svc
}

func addJobs(t *testing.T, svc *LocalDownloadService, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		id, err := svc.Add(fmt.Sprintf("https://example.com/file-%d.bin", i), "", "", 0)
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func mustGet(t *testing.T, svc *LocalDownloadService, id string) types.Job {
	t.Helper()
	j, ok := svc.Registry.Get(id)
	require.True(t, ok, "job %s not in registry", id)
	return j
}

func countState(svc *LocalDownloadService, state types.JobState) int {
	return len(svc.Registry.Select(func(j types.Job) bool { return j.State == state }))
}

// assertBucketsConsistent checks that every job sits in exactly one bucket,
// the one its state maps to.
func assertBucketsConsistent(t *testing.T, svc *LocalDownloadService) {
	t.Helper()
	snap := svc.Registry.Snapshot()
	seen := map[string]types.Bucket{}
	check := func(b types.Bucket, jobs []types.Job) {
		for _, j := range jobs {
			prev, dup := seen[j.ID]
			assert.False(t, dup, "job %s in both %s and %s", j.ID, prev, b)
			seen[j.ID] = b
			assert.Equal(t, types.BucketOf(j.State), b, "job %s (%s) in wrong bucket", j.ID, j.State)
		}
	}
	check(types.BucketActive, snap.Active)
	check(types.BucketQueued, snap.Queued)
	check(types.BucketHistory, snap.History)
	assert.Equal(t, svc.Registry.Len(), len(seen), "jobs missing from buckets")
}
