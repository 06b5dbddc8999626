package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapRawState(t *testing.T) {
	tests := []struct {
		raw  string
		want JobState
	}{
		{RawActive, StateDownloading},
		{RawWaiting, StateWaiting},
		{RawPaused, StatePaused},
		{RawError, StateError},
		{RawComplete, StateComplete},
		{RawRemoved, StateStopped},
		{"", StateStopped},
		{"something-new", StateStopped},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, MapRawState(tt.raw))
		})
	}
}

func TestBucketOf(t *testing.T) {
	assert.Equal(t, BucketActive, BucketOf(StateDownloading))
	assert.Equal(t, BucketActive, BucketOf(StatePaused))
	assert.Equal(t, BucketQueued, BucketOf(StateWaiting))
	assert.Equal(t, BucketHistory, BucketOf(StateStopped))
	assert.Equal(t, BucketHistory, BucketOf(StateError))
	assert.Equal(t, BucketHistory, BucketOf(StateComplete))
}

func TestJobState_RoundTripText(t *testing.T) {
	for s := StateWaiting; s <= StateComplete; s++ {
		parsed, err := ParseJobState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseJobState("bogus")
	assert.Error(t, err)
	assert.Equal(t, "JobState(42)", JobState(42).String())
}

func TestJobState_IsTerminal(t *testing.T) {
	assert.False(t, StateWaiting.IsTerminal())
	assert.False(t, StateDownloading.IsTerminal())
	assert.False(t, StatePaused.IsTerminal())
	assert.True(t, StateStopped.IsTerminal())
	assert.True(t, StateError.IsTerminal())
	assert.True(t, StateComplete.IsTerminal())
}

func TestJob_JSONUsesStateNames(t *testing.T) {
	j := Job{ID: "a", URL: "http://x/y", State: StateDownloading, AddedAt: time.Unix(10, 0).UTC()}

	data, err := json.Marshal(j)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"downloading"`)
	assert.NotContains(t, string(data), "started_at")

	var back Job
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, j, back)
}

func TestJob_PercentAndETA(t *testing.T) {
	j := Job{State: StateDownloading, TotalBytes: 1000, DoneBytes: 250, Speed: 250}
	assert.InDelta(t, 25.0, j.Percent(), 0.001)
	assert.Equal(t, 3*time.Second, j.ETA())

	j.State = StatePaused
	assert.Zero(t, j.ETA(), "no ETA unless downloading")

	assert.Zero(t, Job{}.Percent())
}

func TestJob_DisplayName(t *testing.T) {
	assert.Equal(t, "file.iso", Job{URL: "http://x/file", Filename: "file.iso"}.DisplayName())
	assert.Equal(t, "http://x/file", Job{URL: "http://x/file"}.DisplayName())
}

func TestActiveCount(t *testing.T) {
	statuses := []BackendStatus{
		{ExternalID: "1", RawState: RawActive},
		{ExternalID: "2", RawState: RawWaiting},
		{ExternalID: "3", RawState: RawActive},
		{ExternalID: "4", RawState: RawComplete},
	}
	assert.Equal(t, 2, ActiveCount(statuses))
	assert.Zero(t, ActiveCount(nil))
}
