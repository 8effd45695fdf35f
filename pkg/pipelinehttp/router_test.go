package pipelinehttp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/pkg/orchestrator"
)

func newTestServer() *Server {
	cfg := &orchestrator.Config{}
	cfg.SetDefaults()
	machine := orchestrator.NewStateMachine(cfg, orchestrator.Deps{})
	engine := orchestrator.NewRecoveryEngine(cfg, machine, orchestrator.RecoveryDeps{})
	return NewServer(orchestrator.NewControlSurface(machine, engine))
}

func doRequest(t *testing.T, srv *Server, method, path, workspace string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if workspace != "" {
		req.Header.Set(WorkspaceHeader, workspace)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHandleStartPipelineSuccess(t *testing.T) {
	srv := newTestServer()
	rec := doRequest(t, srv, http.MethodPost, "/pipelines", "ws-1", map[string]any{"projectId": "proj-1"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	var result orchestrator.StartResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, orchestrator.StatePlanning, result.State)
}

func TestHandleStartPipelineMissingWorkspaceIsBadRequest(t *testing.T) {
	srv := newTestServer()
	rec := doRequest(t, srv, http.MethodPost, "/pipelines", "", map[string]any{"projectId": "proj-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStartPipelineDuplicateIsConflict(t *testing.T) {
	srv := newTestServer()
	doRequest(t, srv, http.MethodPost, "/pipelines", "ws-1", map[string]any{"projectId": "proj-1"})
	rec := doRequest(t, srv, http.MethodPost, "/pipelines", "ws-1", map[string]any{"projectId": "proj-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleGetStateNotFound(t *testing.T) {
	srv := newTestServer()
	rec := doRequest(t, srv, http.MethodGet, "/pipelines/nonexistent", "ws-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetStateSuccess(t *testing.T) {
	srv := newTestServer()
	doRequest(t, srv, http.MethodPost, "/pipelines", "ws-1", map[string]any{"projectId": "proj-1"})

	rec := doRequest(t, srv, http.MethodGet, "/pipelines/proj-1", "ws-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var pctx orchestrator.PipelineContext
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pctx))
	assert.Equal(t, orchestrator.StatePlanning, pctx.CurrentState)
}

func TestHandlePauseAndResumePipeline(t *testing.T) {
	srv := newTestServer()
	doRequest(t, srv, http.MethodPost, "/pipelines", "ws-1", map[string]any{"projectId": "proj-1"})

	rec := doRequest(t, srv, http.MethodPost, "/pipelines/proj-1/pause", "ws-1", map[string]any{"triggeredBy": "user:bob"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/pipelines/proj-1/resume", "ws-1", map[string]any{"triggeredBy": "user:bob"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlePhaseComplete(t *testing.T) {
	srv := newTestServer()
	doRequest(t, srv, http.MethodPost, "/pipelines", "ws-1", map[string]any{"projectId": "proj-1"})

	rec := doRequest(t, srv, http.MethodPost, "/pipelines/proj-1/phase-complete", "ws-1", map[string]any{"phase": "planning"})
	assert.Equal(t, http.StatusOK, rec.Code)

	var pctx orchestrator.PipelineContext
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pctx))
	assert.Equal(t, orchestrator.StateImplementing, pctx.CurrentState)
}

func TestHandlePhaseCompleteInvalidBody(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/pipelines/proj-1/phase-complete", bytes.NewBufferString("not json"))
	req.Header.Set(WorkspaceHeader, "ws-1")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReportFailure(t *testing.T) {
	srv := newTestServer()
	doRequest(t, srv, http.MethodPost, "/pipelines", "ws-1", map[string]any{"projectId": "proj-1"})

	rec := doRequest(t, srv, http.MethodPost, "/failures", "ws-1", map[string]any{
		"projectId": "proj-1", "failureType": "transient",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var result orchestrator.RecoveryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, orchestrator.StrategyRetry, result.Strategy)
}

func TestHandleGetHistoryDefaultsToEmptyWithoutHistoryStore(t *testing.T) {
	srv := newTestServer()
	doRequest(t, srv, http.MethodPost, "/pipelines", "ws-1", map[string]any{"projectId": "proj-1"})

	rec := doRequest(t, srv, http.MethodGet, "/pipelines/proj-1/history", "ws-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())
}

func TestHandleGetRecoveryStatus(t *testing.T) {
	srv := newTestServer()
	doRequest(t, srv, http.MethodPost, "/pipelines", "ws-1", map[string]any{"projectId": "proj-1"})

	rec := doRequest(t, srv, http.MethodGet, "/pipelines/proj-1/recovery", "ws-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var status orchestrator.RecoveryStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.IsEscalated)
}

func TestHandleGetDTOSchemaKnownName(t *testing.T) {
	srv := newTestServer()
	rec := doRequest(t, srv, http.MethodGet, "/schema/start-pipeline", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schema))
	assert.Equal(t, "start-pipeline", schema["title"])
	assert.Contains(t, schema, "properties")
}

func TestHandleGetDTOSchemaUnknownName(t *testing.T) {
	srv := newTestServer()
	rec := doRequest(t, srv, http.MethodGet, "/schema/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
