package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blazeload/blaze/internal/backend"
	"github.com/blazeload/blaze/internal/engine/types"
)

func TestFreeSlots(t *testing.T) {
	tests := []struct {
		ceiling, active, want int
	}{
		{2, 0, 2},
		{2, 1, 1},
		{2, 2, 0},
		{2, 5, 0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FreeSlots(tt.ceiling, tt.active), "ceiling=%d active=%d", tt.ceiling, tt.active)
	}
}

func TestCandidates_FIFOWithIDTieBreak(t *testing.T) {
	t0 := time.Unix(100, 0)
	jobs := []types.Job{
		{ID: "late", State: types.StateWaiting, AddedAt: t0.Add(2 * time.Second)},
		{ID: "b", State: types.StateWaiting, AddedAt: t0},
		{ID: "a", State: types.StateWaiting, AddedAt: t0},
		{ID: "submitted", State: types.StateWaiting, ExternalID: "gid", AddedAt: t0.Add(-time.Hour)},
		{ID: "running", State: types.StateDownloading, AddedAt: t0.Add(-time.Hour)},
		{ID: "paused", State: types.StatePaused, AddedAt: t0.Add(-time.Hour)},
	}

	assert.Equal(t, []string{"a", "b", "late"}, jobIDs(Candidates(jobs)))
}

func TestAdmit_RespectsFreeSlots(t *testing.T) {
	b := newFakeBackend()
	waiting := []types.Job{{ID: "1", URL: "http://x/1"}, {ID: "2", URL: "http://x/2"}, {ID: "3", URL: "http://x/3"}}

	assert.Empty(t, Admit(context.Background(), b, 0, waiting))
	assert.Zero(t, b.submitCount())

	res := Admit(context.Background(), b, 2, waiting)
	require.Len(t, res, 2)
	assert.Equal(t, "1", res[0].JobID)
	assert.Equal(t, "2", res[1].JobID)
	assert.Equal(t, 2, b.submitCount())

	res = Admit(context.Background(), b, 10, waiting[:1])
	assert.Len(t, res, 1)
}

func TestAdmit_FailureDoesNotBlockBatch(t *testing.T) {
	b := newFakeBackend()
	b.submitErrFor["http://x/1"] = &backend.RPCError{Method: "aria2.addUri", Code: 1, Message: "bad uri"}
	waiting := []types.Job{{ID: "1", URL: "http://x/1"}, {ID: "2", URL: "http://x/2"}}

	res := Admit(context.Background(), b, 2, waiting)
	require.Len(t, res, 2)
	assert.Error(t, res[0].Err)
	assert.NoError(t, res[1].Err)
	assert.Equal(t, "gid-1", res[1].ExternalID)
}

func TestAdmit_StopsWhenEngineUnreachable(t *testing.T) {
	b := newFakeBackend()
	b.submitErr = errConnRefused
	waiting := []types.Job{{ID: "1"}, {ID: "2"}, {ID: "3"}}

	res := Admit(context.Background(), b, 3, waiting)
	require.Len(t, res, 1)
	assert.True(t, errors.Is(res[0].Err, backend.ErrNotConnected))
}

func TestSubmitRequestCarriesJobParameters(t *testing.T) {
	req := submitRequest(types.Job{URL: "http://x/y", TargetDir: "/d", Filename: "f", Connections: 3})
	assert.Equal(t, backend.SubmitRequest{URL: "http://x/y", Dir: "/d", Filename: "f", Connections: 3}, req)
}
