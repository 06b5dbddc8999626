// Package backend talks to the external download engine that performs the
// actual byte transfer.
package backend

import (
	"context"

	"github.com/blazeload/blaze/internal/engine/types"
)

// SubmitRequest carries the creation-time parameters of a job.
type SubmitRequest struct {
	URL         string
	Dir         string
	Filename    string
	Connections int
}

// Client is the remote-control surface of a download engine. Every call may
// fail with a *ConnectivityError when the engine is unreachable.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Pause(ctx context.Context, externalID string) error
	Resume(ctx context.Context, externalID string) error
	Cancel(ctx context.Context, externalID string) error
	ListStatuses(ctx context.Context) ([]types.BackendStatus, error)
	ResolveLocalPath(ctx context.Context, externalID string) (string, error)
}
