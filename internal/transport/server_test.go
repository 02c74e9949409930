package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vallancelee/biomcp/internal/jobs"
	"github.com/vallancelee/biomcp/internal/limiter"
	"github.com/vallancelee/biomcp/internal/ready"
	"github.com/vallancelee/biomcp/internal/tools"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	q, err := jobs.New(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	lim := limiter.New(limiter.Config{Global: 10, PerTool: map[string]int{}})
	registry := tools.NewRegistry(&tools.PingHandler{Now: func() time.Time {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}})
	invoker := tools.NewInvoker(registry, lim, nil)
	orchestrator := ready.New()

	return New("127.0.0.1:0", invoker, q, orchestrator)
}

func TestInvokeHandler_PingSucceeds(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"tool": "ping", "params": map[string]string{"message": "hi"}})

	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.invokeHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var env tools.Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.True(t, env.Ok)
}

func TestInvokeHandler_UnknownToolReturns404(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"tool": "nope"})

	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.invokeHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvokeHandler_RejectsNonPost(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/invoke", nil)
	rec := httptest.NewRecorder()
	s.invokeHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestJobsHandler_EnqueueReturns202(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"tool": "sync", "params": map[string]string{"query_key": "k"}})

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.jobsHandler(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp["job_id"])
	assert.Equal(t, "queued", resp["state"])
}

func TestJobByIDHandler_NotFoundReturns404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.jobByIDHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLiveHandler_AlwaysReturns200(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	rec := httptest.NewRecorder()
	s.liveHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyHandler_NoProbesMeansReady(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.readyHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint_ServesPrometheusFormat(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}
