package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/viral-detector-go/internal/model"
	"github.com/user/viral-detector-go/internal/store"
)

type fixedStatus string

func (f fixedStatus) StateName() string { return string(f) }

// downStore is a store whose database is unreachable
type downStore struct {
	*store.MemoryStore
}

func (downStore) Ping(ctx context.Context) error {
	return errors.New("dial tcp 127.0.0.1:3306: connection refused")
}

func getHealth(t *testing.T, s *Server) (*httptest.ResponseRecorder, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHealth_ReportsLastRun(t *testing.T) {
	st := store.NewMemoryStore()
	finished := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.RecordRun(context.Background(), &model.RunRecord{
		RunID:      "run-1",
		Outcome:    model.RunOutcomePartialSuccess,
		Viral:      7,
		FinishedAt: finished,
	}))

	rec, resp := getHealth(t, NewServer(st, fixedStatus("collecting")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "collecting", resp.State)
	require.NotNil(t, resp.LastRun)
	assert.Equal(t, "run-1", resp.LastRun.RunID)
	assert.Equal(t, model.RunOutcomePartialSuccess, resp.LastRun.Outcome)
	assert.Equal(t, 7, resp.LastRun.Viral)
	assert.True(t, finished.Equal(resp.LastRun.FinishedAt))
}

func TestHealth_NoRunsYet(t *testing.T) {
	rec, resp := getHealth(t, NewServer(store.NewMemoryStore(), nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, resp.LastRun)
	assert.Empty(t, resp.State)
}

func TestHealth_DatabaseDown(t *testing.T) {
	rec, resp := getHealth(t, NewServer(downStore{store.NewMemoryStore()}, nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.True(t, strings.HasPrefix(resp.Database, "unhealthy: "))
}

func TestMetrics_ExposesCollectors(t *testing.T) {
	RecordRegion("us", 3, 1, 2, 0)
	RecordFetchError("unreachable")
	RecordExport("csv", "ok")
	RecordRun(model.RunOutcomeSuccess, 2*time.Second)
	UpdateVideoCounts(store.Counts{Total: 10, Viral: 4})

	rec := httptest.NewRecorder()
	NewServer(store.NewMemoryStore(), nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, want := range []string{
		`viral_detector_records_total{region="us",result="processed"}`,
		`viral_detector_fetch_errors_total{type="unreachable"}`,
		`viral_detector_exports_total{exporter="csv",status="ok"}`,
		`viral_detector_runs_total{outcome="success"}`,
		`viral_detector_videos_total{set="viral"} 4`,
		`viral_detector_run_duration_seconds_count`,
	} {
		assert.Contains(t, body, want)
	}
}
