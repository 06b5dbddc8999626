package core

import (
	"slices"
	"sync"

	"github.com/blazeload/blaze/internal/engine/types"
)

// Registry is the in-memory view of all jobs, partitioned into the Active,
// Queued and History buckets. All writes go through Update; readers get copies.
type Registry struct {
	mu      sync.RWMutex
	jobs    map[string]*types.Job
	buckets [3][]string // job ids per bucket, in arrival order
	where   map[string]types.Bucket
	last    map[string]types.JobState
}

func NewRegistry() *Registry {
	return &Registry{
		jobs:  make(map[string]*types.Job),
		where: make(map[string]types.Bucket),
		last:  make(map[string]types.JobState),
	}
}

// Buckets is a point-in-time copy of the registry.
type Buckets struct {
	Active  []types.Job `json:"active"`
	Queued  []types.Job `json:"queued"`
	History []types.Job `json:"history"`
}

// Load replaces the registry contents with jobs, keeping their order.
func (r *Registry) Load(jobs []types.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs = make(map[string]*types.Job, len(jobs))
	r.where = make(map[string]types.Bucket, len(jobs))
	r.last = make(map[string]types.JobState, len(jobs))
	r.buckets = [3][]string{}

	tx := &RegistryTx{r: r}
	for _, j := range jobs {
		tx.Add(j)
	}
}

// Add inserts a new job into the bucket its state maps to.
func (r *Registry) Add(j types.Job) {
	r.Update(func(tx *RegistryTx) { tx.Add(j) })
}

// Get returns a copy of the job with the given id.
func (r *Registry) Get(id string) (types.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return types.Job{}, false
	}
	return *j, true
}

// Snapshot returns copies of all three buckets.
func (r *Registry) Snapshot() Buckets {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Buckets{
		Active:  r.copyBucket(types.BucketActive),
		Queued:  r.copyBucket(types.BucketQueued),
		History: r.copyBucket(types.BucketHistory),
	}
}

func (r *Registry) copyBucket(b types.Bucket) []types.Job {
	ids := r.buckets[b]
	out := make([]types.Job, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.jobs[id])
	}
	return out
}

// Select returns copies of every job matching pred, in bucket order.
func (r *Registry) Select(pred func(types.Job) bool) []types.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Job
	for _, ids := range r.buckets {
		for _, id := range ids {
			if j := r.jobs[id]; pred(*j) {
				out = append(out, *j)
			}
		}
	}
	return out
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Update runs fn with exclusive access to the registry.
func (r *Registry) Update(fn func(tx *RegistryTx)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&RegistryTx{r: r})
}

// RegistryTx is the mutable view handed to Update. It must not escape fn.
type RegistryTx struct {
	r *Registry
}

// ByID returns the live job, or nil.
func (tx *RegistryTx) ByID(id string) *types.Job {
	return tx.r.jobs[id]
}

// All returns the live jobs in bucket order.
func (tx *RegistryTx) All() []*types.Job {
	out := make([]*types.Job, 0, len(tx.r.jobs))
	for _, ids := range tx.r.buckets {
		for _, id := range ids {
			out = append(out, tx.r.jobs[id])
		}
	}
	return out
}

// InState returns the live jobs whose state is one of states.
func (tx *RegistryTx) InState(states ...types.JobState) []*types.Job {
	var out []*types.Job
	for _, j := range tx.All() {
		if slices.Contains(states, j.State) {
			out = append(out, j)
		}
	}
	return out
}

// Add inserts j, or overwrites and reclassifies it if already tracked.
func (tx *RegistryTx) Add(j types.Job) {
	if cur, ok := tx.r.jobs[j.ID]; ok {
		*cur = j
		tx.Reclassify(cur)
		return
	}
	job := j
	tx.r.jobs[j.ID] = &job
	tx.Reclassify(&job)
}

// Remove drops a job from the registry.
func (tx *RegistryTx) Remove(id string) {
	if b, ok := tx.r.where[id]; ok {
		tx.r.buckets[b] = slices.DeleteFunc(tx.r.buckets[b], func(s string) bool { return s == id })
	}
	delete(tx.r.jobs, id)
	delete(tx.r.where, id)
	delete(tx.r.last, id)
}

// Reclassify moves j to the bucket its current state maps to. It is a no-op
// when the state has not changed since the last call for this job. A job seen
// for the first time is treated as coming from Waiting.
func (tx *RegistryTx) Reclassify(j *types.Job) {
	r := tx.r
	prev, tracked := r.last[j.ID]
	if !tracked {
		prev = types.StateWaiting
	}
	src, placed := r.where[j.ID]
	if placed && prev == j.State {
		return
	}
	r.last[j.ID] = j.State

	dst := types.BucketOf(j.State)
	if placed && src == dst {
		return
	}
	if placed {
		r.buckets[src] = slices.DeleteFunc(r.buckets[src], func(s string) bool { return s == j.ID })
	}
	r.buckets[dst] = append(r.buckets[dst], j.ID)
	r.where[j.ID] = dst
}

// Counts returns the size of each bucket.
func (r *Registry) Counts() (active, queued, history int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buckets[types.BucketActive]), len(r.buckets[types.BucketQueued]), len(r.buckets[types.BucketHistory])
}
