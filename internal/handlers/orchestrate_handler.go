package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/hooks"
	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/orchestrator"
)

// startBody is the POST /orchestrate request shape. Config carries an
// inline plan; planId selects one from the library instead.
type startBody struct {
	Config      json.RawMessage   `json:"config,omitempty"`
	PlanID      string            `json:"planId,omitempty"`
	ExecutionID string            `json:"executionId,omitempty"`
	HookTokens  map[string]string `json:"hookTokens,omitempty"`
	Input       map[string]any    `json:"input,omitempty"`
	Messages    []any             `json:"messages,omitempty"`
}

type signalBody struct {
	Token   string         `json:"token"`
	Payload map[string]any `json:"payload,omitempty"`
}

type hookInfo struct {
	Token string `json:"token,omitempty"`
}

// runResponse is the caller-facing view of a run
type runResponse struct {
	RunID     string    `json:"runId"`
	Status    string    `json:"status"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Hook      *hookInfo `json:"hook,omitempty"`
	CreatedAt string    `json:"createdAt,omitempty"`
	UpdatedAt string    `json:"updatedAt,omitempty"`
}

func newRunResponse(run *models.Run) *runResponse {
	resp := &runResponse{
		RunID:     run.ID,
		Status:    string(run.Status),
		CreatedAt: run.CreatedAt.Format(time.RFC3339),
		UpdatedAt: run.UpdatedAt.Format(time.RFC3339),
	}
	if run.Status == models.RunStatusCompleted {
		resp.Result = run.Result()
	}
	if run.Error != nil {
		resp.Error = run.Error.Message
	}
	if run.Status == models.RunStatusPaused && run.WaitingHookToken != "" {
		resp.Hook = &hookInfo{Token: run.WaitingHookToken}
	}
	return resp
}

// OrchestrateHandler serves the orchestration HTTP surface
type OrchestrateHandler struct {
	engine *orchestrator.Engine
	hooks  *hooks.Registry
	logger arbor.ILogger
}

// NewOrchestrateHandler creates the orchestration handler
func NewOrchestrateHandler(logger arbor.ILogger, engine *orchestrator.Engine, hookRegistry *hooks.Registry) *OrchestrateHandler {
	return &OrchestrateHandler{
		engine: engine,
		hooks:  hookRegistry,
		logger: logger,
	}
}

// RootRoute dispatches /orchestrate: POST starts a run, GET lists runs
func (h *OrchestrateHandler) RootRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "POST":
		h.StartHandler(w, r)
	case "GET":
		h.ListHandler(w, r)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// StartHandler handles POST /orchestrate
func (h *OrchestrateHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var body startBody
	if err := DecodeJSON(r, &body); err != nil {
		WriteFailure(w, err)
		return
	}

	req := &orchestrator.StartRequest{
		PlanID:      body.PlanID,
		ExecutionID: body.ExecutionID,
		Input:       body.Input,
		HookTokens:  body.HookTokens,
		Messages:    body.Messages,
	}
	if len(body.Config) > 0 {
		plan, err := models.PlanFromJSON(body.Config)
		if err != nil {
			WriteFailure(w, err)
			return
		}
		req.Plan = plan
	}

	run, err := h.engine.Start(r.Context(), req)
	if err != nil {
		h.logger.Warn().Err(err).Str("execution_id", body.ExecutionID).Msg("Start failed")
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newRunResponse(run))
}

// ListHandler handles GET /orchestrate
func (h *OrchestrateHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	status := models.RunStatus(r.URL.Query().Get("status"))
	limit := 50
	offset := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	runs, err := h.engine.List(r.Context(), status, limit, offset)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	out := make([]*runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunResponse(run))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"runs": out, "count": len(out)})
}

// SignalHandler handles POST /orchestrate/signal
func (h *OrchestrateHandler) SignalHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var body signalBody
	if err := DecodeJSON(r, &body); err != nil {
		WriteFailure(w, err)
		return
	}
	if body.Token == "" {
		WriteFailure(w, models.ValidationError("token is required"))
		return
	}

	run, err := h.hooks.Resume(r.Context(), &models.Signal{
		Token:     body.Token,
		Payload:   body.Payload,
		CreatedAt: time.Now(),
	})
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "runId": run.ID, "status": string(run.Status)})
}

// RunRoutes handles /orchestrate/{runId} and /orchestrate/{runId}/cancel
func (h *OrchestrateHandler) RunRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/orchestrate/")
	parts := strings.SplitN(rest, "/", 2)
	runID := parts[0]
	if runID == "" {
		WriteError(w, http.StatusNotFound, "run id is required")
		return
	}

	if len(parts) == 2 && parts[1] == "cancel" {
		h.cancel(w, r, runID)
		return
	}
	if len(parts) == 2 {
		WriteError(w, http.StatusNotFound, "unknown orchestrate route")
		return
	}
	h.status(w, r, runID)
}

// status handles GET /orchestrate/{runId}
func (h *OrchestrateHandler) status(w http.ResponseWriter, r *http.Request, runID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	run, err := h.engine.Get(r.Context(), runID)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newRunResponse(run))
}

// cancel handles POST /orchestrate/{runId}/cancel
func (h *OrchestrateHandler) cancel(w http.ResponseWriter, r *http.Request, runID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	run, err := h.engine.Cancel(r.Context(), runID)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newRunResponse(run))
}
