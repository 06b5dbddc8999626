package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/blazeload/blaze/internal/backend"
	"github.com/blazeload/blaze/internal/config"
	"github.com/blazeload/blaze/internal/engine/events"
	"github.com/blazeload/blaze/internal/engine/types"
	"github.com/blazeload/blaze/internal/observability"
	"github.com/blazeload/blaze/internal/source"
	"github.com/blazeload/blaze/internal/utils"
)

var (
	ErrInvalidURL        = errors.New("invalid download url")
	ErrNotFound          = errors.New("download not found")
	ErrInvalidTransition = errors.New("operation not allowed in current state")
	ErrServiceClosed     = errors.New("download service is shut down")
)

// Store is the durable side of the job registry.
type Store interface {
	LoadAll() ([]types.Job, error)
	Upsert(jobs ...types.Job) error
	DeleteWhere(pred func(types.Job) bool) (int, error)
}

// Options configures a LocalDownloadService.
type Options struct {
	MaxConcurrent      int
	PollInterval       time.Duration
	DisconnectCooldown time.Duration
	DefaultDir         string
	DefaultConnections int
	Metrics            *observability.Metrics
}

// OptionsFromSettings maps user settings onto service options.
func OptionsFromSettings(s *config.Settings) Options {
	return Options{
		MaxConcurrent:      s.Queue.MaxConcurrentDownloads,
		PollInterval:       s.Queue.PollInterval,
		DisconnectCooldown: s.Queue.DisconnectCooldown,
		DefaultDir:         s.General.DefaultDownloadDir,
		DefaultConnections: s.General.DefaultConnections,
	}
}

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultCooldown     = time.Second
	listenerBuffer      = 16
)

// LocalDownloadService owns the job registry and keeps it in sync with the
// download engine and the store.
type LocalDownloadService struct {
	Backend  backend.Client
	Store    Store
	Registry *Registry
	InputCh  chan events.UpdatedMsg

	opts    Options
	metrics *observability.Metrics
	now     func() time.Time

	// Broadcast fields
	listeners  []chan events.UpdatedMsg
	listenerMu sync.Mutex
	inputMu    sync.RWMutex
	closed     bool
	seq        atomic.Uint64

	// tickMu serializes ticks with control operations. dirty, foreign and
	// gated are only touched while it is held.
	tickMu  sync.Mutex
	dirty   map[string]struct{}
	foreign map[string]struct{}
	// gated holds jobs parked by a recovery that could not reach the engine.
	// Reconnect resubmits them only into free slots.
	gated map[string]struct{}

	connected  atomic.Bool
	totalSpeed atomic.Int64

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
}

// NewLocalDownloadService creates a service. Call Run to recover and start reconciling.
func NewLocalDownloadService(client backend.Client, store Store, opts Options) *LocalDownloadService {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.DisconnectCooldown < 0 {
		opts.DisconnectCooldown = DefaultCooldown
	}
	opts.DefaultConnections = clampConnections(opts.DefaultConnections)

	ctx, cancel := context.WithCancel(context.Background())
	s := &LocalDownloadService{
		Backend:  client,
		Store:    store,
		Registry: NewRegistry(),
		InputCh:  make(chan events.UpdatedMsg, 100),
		opts:     opts,
		metrics:  opts.Metrics,
		now:      time.Now,
		dirty:    make(map[string]struct{}),
		foreign:  make(map[string]struct{}),
		gated:    make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.connected.Store(true)

	// Start broadcaster
	go s.broadcastLoop()

	return s
}

func clampConnections(n int) int {
	if n <= 0 {
		n = 8
	}
	return min(max(n, config.MinConnections), config.MaxConnections)
}

func (s *LocalDownloadService) broadcastLoop() {
	for msg := range s.InputCh {
		s.listenerMu.Lock()
		for _, ch := range s.listeners {
			// Non-blocking send to avoid stalling if a client is slow
			select {
			case ch <- msg:
			default:
			}
		}
		s.listenerMu.Unlock()
	}
	// Close all listeners when input closes
	s.listenerMu.Lock()
	for _, ch := range s.listeners {
		close(ch)
	}
	s.listeners = nil
	s.listenerMu.Unlock()
}

// emit queues one update notification. Dropped if the broadcaster is backed up.
func (s *LocalDownloadService) emit(reason events.Reason) {
	s.inputMu.RLock()
	defer s.inputMu.RUnlock()
	if s.closed {
		return
	}
	msg := events.UpdatedMsg{Reason: reason, Seq: s.seq.Add(1), At: s.now()}
	select {
	case s.InputCh <- msg:
	default:
	}
}

// StreamEvents subscribes to update notifications until ctx ends or cleanup is called.
func (s *LocalDownloadService) StreamEvents(ctx context.Context) (<-chan events.UpdatedMsg, func(), error) {
	ch := make(chan events.UpdatedMsg, listenerBuffer)

	s.inputMu.RLock()
	closed := s.closed
	s.inputMu.RUnlock()
	if closed {
		return nil, nil, ErrServiceClosed
	}

	s.listenerMu.Lock()
	s.listeners = append(s.listeners, ch)
	s.listenerMu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.listenerMu.Lock()
			defer s.listenerMu.Unlock()
			for i, listener := range s.listeners {
				if listener == ch {
					s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
					close(ch)
					break
				}
			}
		})
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		}
		cleanup()
	}()

	return ch, cleanup, nil
}

// Shutdown flushes pending changes and stops the broadcaster. Stop Run first
// so no tick is cut short.
func (s *LocalDownloadService) Shutdown() error {
	s.tickMu.Lock()
	err := s.flush(context.Background())
	s.tickMu.Unlock()

	s.inputMu.Lock()
	if !s.closed {
		s.closed = true
		s.cancel()
		close(s.InputCh)
	}
	s.inputMu.Unlock()

	if err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	return nil
}

// Snapshot is what presentation layers render.
type Snapshot struct {
	Buckets
	TotalSpeed int64 `json:"total_speed"`
	Connected  bool  `json:"connected"`
}

func (s Snapshot) ActiveCount() int { return len(s.Active) }
func (s Snapshot) QueuedCount() int { return len(s.Queued) }
func (s Snapshot) TotalCount() int  { return len(s.Active) + len(s.Queued) + len(s.History) }

// List returns a copy of all buckets.
func (s *LocalDownloadService) List() (Snapshot, error) {
	return Snapshot{
		Buckets:    s.Registry.Snapshot(),
		TotalSpeed: s.totalSpeed.Load(),
		Connected:  s.connected.Load(),
	}, nil
}

// Add creates a Waiting job. It never talks to the engine; admission happens on the next tick.
func (s *LocalDownloadService) Add(rawURL, dir, filename string, connections int) (string, error) {
	if s.ctx.Err() != nil {
		return "", ErrServiceClosed
	}

	rawURL = source.Normalize(rawURL)
	if !source.IsSupported(rawURL) {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if dir == "" {
		dir = s.opts.DefaultDir
	}
	if connections <= 0 {
		connections = s.opts.DefaultConnections
	}

	job := types.Job{
		ID:          uuid.New().String(),
		URL:         rawURL,
		TargetDir:   utils.EnsureAbsPath(dir),
		Filename:    filename,
		Connections: clampConnections(connections),
		State:       types.StateWaiting,
		AddedAt:     s.now(),
	}

	if err := s.Store.Upsert(job); err != nil {
		return "", fmt.Errorf("persist new job: %w", err)
	}
	s.Registry.Add(job)
	utils.Debug("Add: queued %s as %s", rawURL, job.ID)
	s.emit(events.ReasonSubmitted)
	return job.ID, nil
}

// Pause pauses a Downloading or Waiting job.
func (s *LocalDownloadService) Pause(id string) error {
	return s.control(id, s.pauseJob, types.StateDownloading, types.StateWaiting)
}

// Resume continues a Paused job. Jobs without a live engine handle are re-queued.
func (s *LocalDownloadService) Resume(id string) error {
	return s.control(id, s.resumeJob, types.StatePaused)
}

// Stop cancels any non-terminal job.
func (s *LocalDownloadService) Stop(id string) error {
	return s.control(id, s.stopJob, types.StateWaiting, types.StateDownloading, types.StatePaused)
}

// control applies op to one job. On failure the job is left as it was.
func (s *LocalDownloadService) control(id string, op func(context.Context, *types.Job) error, allowed ...types.JobState) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	j, ok := s.Registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !slices.Contains(allowed, j.State) {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, j.State)
	}

	if err := op(s.ctx, &j); err != nil {
		return err
	}
	s.commit(j)
	if err := s.flush(s.ctx); err != nil {
		utils.Debug("control %s: %v", id, err)
	}
	s.emit(events.ReasonControl)
	return nil
}

// commit writes j back into the registry and marks it for persistence.
// Caller holds tickMu.
func (s *LocalDownloadService) commit(j types.Job) {
	s.Registry.Update(func(tx *RegistryTx) {
		live := tx.ByID(j.ID)
		if live == nil {
			return
		}
		if *live != j {
			*live = j
			s.dirty[j.ID] = struct{}{}
		}
		tx.Reclassify(live)
	})
}

func (s *LocalDownloadService) pauseJob(ctx context.Context, j *types.Job) error {
	if j.ExternalID != "" {
		if err := s.Backend.Pause(ctx, j.ExternalID); err != nil {
			return fmt.Errorf("pause %s: %w", j.ID, err)
		}
	}
	j.State = types.StatePaused
	j.PausedDueToDisconnect = false
	j.Speed = 0
	return nil
}

func (s *LocalDownloadService) resumeJob(ctx context.Context, j *types.Job) error {
	if j.PausedDueToDisconnect || j.ExternalID == "" {
		demote(j)
		return nil
	}
	if err := s.Backend.Resume(ctx, j.ExternalID); err != nil {
		if backend.IsNotFound(err) {
			demote(j)
			return nil
		}
		return fmt.Errorf("resume %s: %w", j.ID, err)
	}
	j.State = types.StateDownloading
	return nil
}

func (s *LocalDownloadService) stopJob(ctx context.Context, j *types.Job) error {
	if j.ExternalID != "" && !j.PausedDueToDisconnect {
		if err := s.Backend.Cancel(ctx, j.ExternalID); err != nil {
			return fmt.Errorf("stop %s: %w", j.ID, err)
		}
	}
	j.State = types.StateStopped
	j.PausedDueToDisconnect = false
	j.Speed = 0
	if j.FinishedAt.IsZero() {
		j.FinishedAt = s.now()
	}
	return nil
}

// BulkResult summarises a PauseAll or StopAll.
type BulkResult struct {
	Affected int `json:"affected"`
	Failed   int `json:"failed"`
}

// PauseAll pauses every Downloading or Waiting job. Per-job failures turn that job into Error.
func (s *LocalDownloadService) PauseAll() (BulkResult, error) {
	return s.bulk("pause", s.pauseJob)
}

// StopAll stops every Downloading or Waiting job. Per-job failures turn that job into Error.
func (s *LocalDownloadService) StopAll() (BulkResult, error) {
	return s.bulk("stop", s.stopJob)
}

func (s *LocalDownloadService) bulk(name string, op func(context.Context, *types.Job) error) (BulkResult, error) {
	if s.ctx.Err() != nil {
		return BulkResult{}, ErrServiceClosed
	}
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	targets := s.Registry.Select(func(j types.Job) bool {
		return j.State == types.StateDownloading || j.State == types.StateWaiting
	})

	var res BulkResult
	for _, j := range targets {
		if err := op(s.ctx, &j); err != nil {
			utils.Debug("%s all: %v", name, err)
			markFailed(&j, err, s.now())
			res.Failed++
		} else {
			res.Affected++
		}
		s.commit(j)
	}

	if err := s.flush(s.ctx); err != nil {
		utils.Debug("%s all: %v", name, err)
	}
	if len(targets) > 0 {
		s.emit(events.ReasonControl)
	}
	return res, nil
}

// ClearHistory removes the jobs the registry holds as terminal, from the store
// first and then from memory. The store delete matches by id, so a record whose
// terminal state has not been written yet is still removed.
func (s *LocalDownloadService) ClearHistory() (int, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	history := s.Registry.Select(func(j types.Job) bool { return j.State.IsTerminal() })
	if len(history) == 0 {
		return 0, nil
	}
	ids := make(map[string]struct{}, len(history))
	for _, j := range history {
		ids[j.ID] = struct{}{}
	}

	if _, err := s.Store.DeleteWhere(func(j types.Job) bool {
		_, ok := ids[j.ID]
		return ok
	}); err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}

	s.Registry.Update(func(tx *RegistryTx) {
		for id := range ids {
			tx.Remove(id)
			delete(s.dirty, id)
		}
	})

	s.emit(events.ReasonCleared)
	return len(ids), nil
}

// flush writes every dirty job in one batch. On failure the set is kept for
// the next attempt. Caller holds tickMu.
func (s *LocalDownloadService) flush(ctx context.Context) error {
	if len(s.dirty) == 0 {
		return nil
	}

	batch := make([]types.Job, 0, len(s.dirty))
	for id := range s.dirty {
		j, ok := s.Registry.Get(id)
		if !ok {
			delete(s.dirty, id)
			continue
		}
		batch = append(batch, j)
	}
	if len(batch) == 0 {
		return nil
	}

	err := s.Store.Upsert(batch...)
	s.metrics.RecordPersist(ctx, len(batch), err)
	if err != nil {
		return fmt.Errorf("persist %d jobs: %w", len(batch), err)
	}
	clear(s.dirty)
	return nil
}
