package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/agents"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/hooks"
	"github.com/ternarybob/relay/internal/orchestrator"
	"github.com/ternarybob/relay/internal/queue"
	"github.com/ternarybob/relay/internal/storage/memory"
	"github.com/ternarybob/relay/internal/workers"
)

// newTestHandler wires an orchestrate handler onto an in-process engine
// backed by memory storage. Plans in these tests use agents and hooks
// only, so no consumer pool runs.
func newTestHandler(t *testing.T) *OrchestrateHandler {
	t.Helper()
	logger := arbor.NewLogger()

	config := common.NewDefaultConfig()
	config.Storage.Type = "memory"

	store := memory.NewManager(logger)
	queues := queue.NewManager(logger, config)
	t.Cleanup(func() { queues.Close() })

	router := agents.NewRouter(logger, config.Orchestrator.MaxAgentDepth)
	agents.RegisterBuiltins(router)

	dispatcher := workers.NewDispatcher(logger, config, queues, store.JobStore())
	library := orchestrator.NewLibrary(logger)
	runLocks := common.NewKeyedMutex()
	engine := orchestrator.NewEngine(logger, config, store.RunRegistry(), store.JobStore(), router, dispatcher, library, runLocks, nil)
	hookReg := hooks.NewRegistry(logger, store.RunRegistry(), runLocks, engine, nil)

	return NewOrchestrateHandler(logger, engine, hookReg)
}

func postJSON(t *testing.T, handler http.HandlerFunc, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStartHandler_InlinePlanCompletes(t *testing.T) {
	h := newTestHandler(t)

	body := `{"config": {"id": "greeting", "steps": [{"id": "greet", "agent": "util/echo", "input": {"text": "hello"}}]}}`
	rec := postJSON(t, h.StartHandler, "/orchestrate", body)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "completed", resp["status"])
	assert.NotEmpty(t, resp["runId"])
	assert.Equal(t, map[string]any{"text": "hello"}, resp["result"])
}

func TestStartHandler_InvalidBody(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(t, h.StartHandler, "/orchestrate", "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody(t, rec)
	assert.Contains(t, resp["error"], "invalid request body")
}

func TestStartHandler_MissingPlan(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(t, h.StartHandler, "/orchestrate", `{"input": {"x": 1}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartHandler_UnknownPlanID(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(t, h.StartHandler, "/orchestrate", `{"planId": "no-such-plan"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunRoutes_StatusUnknownRun(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest("GET", "/orchestrate/run_missing", nil)
	rec := httptest.NewRecorder()
	h.RunRoutes(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrchestrateHandler_HookPauseSignalResume(t *testing.T) {
	h := newTestHandler(t)

	body := `{"config": {"id": "approval-flow", "steps": [
		{"id": "approval", "token": "tok-approve-1"},
		{"id": "finish", "agent": "util/echo", "input": {"done": true}}
	]}}`
	rec := postJSON(t, h.StartHandler, "/orchestrate", body)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	require.Equal(t, "paused", resp["status"])
	runID := resp["runId"].(string)

	hook, ok := resp["hook"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tok-approve-1", hook["token"])

	req := httptest.NewRequest("GET", "/orchestrate/"+runID, nil)
	getRec := httptest.NewRecorder()
	h.RunRoutes(getRec, req)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Equal(t, "paused", decodeBody(t, getRec)["status"])

	sigRec := postJSON(t, h.SignalHandler, "/orchestrate/signal",
		`{"token": "tok-approve-1", "payload": {"approved": true}}`)
	require.Equal(t, http.StatusOK, sigRec.Code)
	sigResp := decodeBody(t, sigRec)
	assert.Equal(t, true, sigResp["success"])
	assert.Equal(t, runID, sigResp["runId"])
	assert.Equal(t, "completed", sigResp["status"])
}

func TestSignalHandler_EmptyToken(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(t, h.SignalHandler, "/orchestrate/signal", `{"payload": {}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "token")
}

func TestSignalHandler_UnknownToken(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(t, h.SignalHandler, "/orchestrate/signal", `{"token": "tok-nobody"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunRoutes_CancelPausedRun(t *testing.T) {
	h := newTestHandler(t)

	body := `{"config": {"id": "waiting", "steps": [{"id": "gate", "token": "tok-gate"}]}}`
	rec := postJSON(t, h.StartHandler, "/orchestrate", body)
	require.Equal(t, http.StatusOK, rec.Code)
	runID := decodeBody(t, rec)["runId"].(string)

	cancelRec := postJSON(t, h.RunRoutes, "/orchestrate/"+runID+"/cancel", "")
	require.Equal(t, http.StatusOK, cancelRec.Code)
	resp := decodeBody(t, cancelRec)
	assert.Equal(t, "failed", resp["status"])
	assert.Contains(t, resp["error"], "cancelled")
}

func TestListHandler_FiltersByStatus(t *testing.T) {
	h := newTestHandler(t)

	done := `{"config": {"id": "done", "steps": [{"agent": "util/echo", "input": {"n": 1}}]}}`
	waiting := `{"config": {"id": "waiting", "steps": [{"id": "gate", "token": "tok-list"}]}}`
	require.Equal(t, http.StatusOK, postJSON(t, h.StartHandler, "/orchestrate", done).Code)
	require.Equal(t, http.StatusOK, postJSON(t, h.StartHandler, "/orchestrate", waiting).Code)

	req := httptest.NewRequest("GET", "/orchestrate?status=paused", nil)
	rec := httptest.NewRecorder()
	h.ListHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, float64(1), resp["count"])
	runs := resp["runs"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, "paused", runs[0].(map[string]any)["status"])
}

func TestRootRoute_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest("DELETE", "/orchestrate", nil)
	rec := httptest.NewRecorder()
	h.RootRoute(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRunRoutes_UnknownSubroute(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest("POST", "/orchestrate/run_x/restart", nil)
	rec := httptest.NewRecorder()
	h.RunRoutes(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
