package core

import (
	"context"

	"github.com/blazeload/blaze/internal/engine/events"
)

// DownloadService defines the interface for interacting with the job queue.
// The daemon uses the local implementation; CLI subcommands talk to a running
// daemon through the remote one.
type DownloadService interface {
	// List returns a snapshot of the Active, Queued and History buckets.
	List() (Snapshot, error)

	// Add queues a new download. It always lands in Waiting.
	Add(url string, dir string, filename string, connections int) (string, error)

	// Pause pauses a single download.
	Pause(id string) error

	// Resume resumes a paused download.
	Resume(id string) error

	// Stop cancels a download.
	Stop(id string) error

	// PauseAll pauses every downloading or waiting job.
	PauseAll() (BulkResult, error)

	// StopAll stops every downloading or waiting job.
	StopAll() (BulkResult, error)

	// ClearHistory removes finished, stopped and failed jobs.
	ClearHistory() (int, error)

	// StreamEvents returns a channel of update notifications and a function
	// that unsubscribes.
	StreamEvents(ctx context.Context) (<-chan events.UpdatedMsg, func(), error)

	// Shutdown handles graceful shutdown of the service
	Shutdown() error
}

var (
	_ DownloadService = (*LocalDownloadService)(nil)
	_ DownloadService = (*RemoteDownloadService)(nil)
)
