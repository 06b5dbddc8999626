package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()
	metrics, handler, err := NewMetrics(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, metrics)
	assert.NotNil(t, handler)
}

func TestRecordedMetricsAreServed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, handler, err := NewMetrics(ctx)
	require.NoError(t, err)

	m.RecordTick(ctx, OutcomeOK, 0.002)
	m.RecordTick(ctx, OutcomeSkipped, 0)
	m.RecordSubmission(ctx, true)
	m.RecordSubmission(ctx, false)
	m.RecordPersist(ctx, 3, nil)
	m.RecordPersist(ctx, 0, errors.New("disk full"))
	m.RecordForeignStatus(ctx)
	m.RecordSnapshot(ctx, 2, 5, 1, 4096, true)
	m.RecordHTTPRequest(ctx, "POST", "/api/downloads/abc/pause", 204, 0.001)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, "blaze_ticks")
	assert.Contains(t, out, "blaze_submissions")
	assert.Contains(t, out, "blaze_persisted_jobs")
	assert.Contains(t, out, "blaze_jobs")
	assert.Contains(t, out, `bucket="queued"`)
	assert.Contains(t, out, "blaze_engine_connected")
	assert.Contains(t, out, `path="/api/downloads/{id}/pause"`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordTick(ctx, OutcomeOK, 1)
		m.RecordSubmission(ctx, true)
		m.RecordPersist(ctx, 1, nil)
		m.RecordForeignStatus(ctx)
		m.RecordSnapshot(ctx, 0, 0, 0, 0, false)
		m.RecordHTTPRequest(ctx, "GET", "/health", 200, 0)
	})
	assert.NoError(t, m.Shutdown(ctx))
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/api/downloads", "/api/downloads"},
		{"/api/downloads/pause-all", "/api/downloads/pause-all"},
		{"/api/downloads/history", "/api/downloads/history"},
		{"/api/downloads/abc123", "/api/downloads/{id}"},
		{"/api/downloads/abc123/resume", "/api/downloads/{id}/resume"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input), tt.input)
	}
}
