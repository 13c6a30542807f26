package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ShayCichocki/baton/internal/metrics"
	"github.com/ShayCichocki/baton/internal/state"
	"github.com/ShayCichocki/baton/pkg/models"
)

func setupServer(t *testing.T) (*Server, *state.Store) {
	t.Helper()
	store, err := state.OpenStore(t.TempDir(), state.DriverSQLite, state.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(metrics.NewStoreCollector(store.Statistics)))

	srv, err := NewServer(store, reg, zap.NewNop(), "")
	require.NoError(t, err)
	return srv, store
}

func do(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer_RequiresStore(t *testing.T) {
	_, err := NewServer(nil, nil, nil, "")
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	srv, _ := setupServer(t)
	rec := do(t, srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSessionEndpoints(t *testing.T) {
	srv, store := setupServer(t)
	id, err := store.CreateSession("wf", models.AgentCoder, nil)
	require.NoError(t, err)

	rec := do(t, srv, http.MethodGet, "/api/v1/sessions/active")
	require.Equal(t, http.StatusOK, rec.Code)
	var list SessionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []string{id}, list.SessionIDs)
	assert.Equal(t, 1, list.Count)

	rec = do(t, srv, http.MethodGet, "/api/v1/sessions/"+id)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess models.WorkflowSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, "wf", sess.WorkflowName)
	assert.Equal(t, models.SessionActive, sess.State)

	rec = do(t, srv, http.MethodPost, "/api/v1/sessions/"+id+"/pause")
	require.Equal(t, http.StatusOK, rec.Code)
	got, _ := store.Session(id)
	assert.Equal(t, models.SessionPaused, got.State)

	rec = do(t, srv, http.MethodGet, "/api/v1/sessions/resumable")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list.SessionIDs, "a paused session without packets is not resumable")
	assert.NotNil(t, list.SessionIDs)
}

func TestSessionNotFound(t *testing.T) {
	srv, _ := setupServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/v1/sessions/nope").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/api/v1/sessions/nope/pause").Code)
}

func TestPauseFinishedSessionConflicts(t *testing.T) {
	srv, store := setupServer(t)
	id, err := store.CreateSession("wf", models.AgentCoder, nil)
	require.NoError(t, err)
	_, err = store.AddPacket(id, &models.HandoffPacket{
		CompletedTaskID:    "coder-1",
		AgentName:          "Coder",
		Status:             models.PacketFailure,
		ArtifactsProduced:  []string{},
		NextStepSuggestion: models.NextStepHumanApproval,
		Notes:              "broke",
		Timestamp:          "2026-01-01T00:00:00Z",
	}, false)
	require.NoError(t, err)

	assert.Equal(t, http.StatusConflict, do(t, srv, http.MethodPost, "/api/v1/sessions/"+id+"/pause").Code)
}

func TestStatsAndMetrics(t *testing.T) {
	srv, store := setupServer(t)
	_, err := store.CreateSession("wf", models.AgentCoder, nil)
	require.NoError(t, err)

	rec := do(t, srv, http.MethodGet, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	for _, key := range []string{
		"sessions_created", "sessions_resumed", "packets_cached", "checkpoints_created",
		"workflows_completed", "workflows_failed", "cache_hit_rate", "active_sessions",
	} {
		assert.Contains(t, stats, key)
	}
	assert.Equal(t, 1.0, stats["sessions_created"])

	rec = do(t, srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "baton_store_sessions_created 1"))
}
