package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpsl-research/trust-ros/internal/fusion"
	"github.com/cpsl-research/trust-ros/internal/publish"
)

type fakeSyncStats struct{ stats fusion.SyncStats }

func (f *fakeSyncStats) Stats() fusion.SyncStats { return f.stats }

type fakePipelineStats struct{ stats fusion.OrchestratorStats }

func (f *fakePipelineStats) Stats() fusion.OrchestratorStats { return f.stats }

type fakePublisherStats struct{ stats publish.PublisherStats }

func (f *fakePublisherStats) Stats() publish.PublisherStats { return f.stats }

type fakeHistory struct {
	estimates []fusion.TrustEstimate
	err       error
	gotTarget string
	gotLimit  int
}

func (f *fakeHistory) TrustHistory(targetID string, limit int) ([]fusion.TrustEstimate, error) {
	f.gotTarget = targetID
	f.gotLimit = limit
	return f.estimates, f.err
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeSyncStats{}, nil, nil, nil)
	rec := get(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthzReportsStall(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeSyncStats{stats: fusion.SyncStats{Stalled: true}}, nil, nil, nil)
	rec := get(t, s, "/healthz")

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "stalled", body["status"])
	assert.Equal(t, true, body["stalled"])
}

func TestSyncStats(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeSyncStats{stats: fusion.SyncStats{EmittedBatches: 7}}, nil, nil, nil)
	rec := get(t, s, "/api/sync_stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats fusion.SyncStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(7), stats.EmittedBatches)
}

func TestPipelineStats(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, &fakePipelineStats{stats: fusion.OrchestratorStats{Completed: 3}}, nil, nil)
	rec := get(t, s, "/api/pipeline_stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats fusion.OrchestratorStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(3), stats.Completed)
}

func TestPublisherStatsUnavailable(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil, nil, nil)
	rec := get(t, s, "/api/publisher_stats")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTrustHistory(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{estimates: []fusion.TrustEstimate{{TargetID: "agent0", Mean: 0.7}}}
	s := NewServer(nil, nil, nil, history)

	rec := get(t, s, "/api/trust_history?target=agent0&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "agent0", history.gotTarget)
	assert.Equal(t, 5, history.gotLimit)

	var body struct {
		Target    string                `json:"target"`
		Estimates []fusion.TrustEstimate `json:"estimates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Estimates, 1)
	assert.Equal(t, 0.7, body.Estimates[0].Mean)
}

func TestTrustHistoryValidation(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil, nil, &fakeHistory{})

	rec := get(t, s, "/api/trust_history")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, s, "/api/trust_history?target=agent0&limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeSyncStats{}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/sync_stats", nil)
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
