package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/workers"
)

type dispatchBody struct {
	Input        map[string]any `json:"input,omitempty"`
	Await        bool           `json:"await,omitempty"`
	JobID        string         `json:"jobId,omitempty"`
	DelaySeconds int            `json:"delaySeconds,omitempty"`
	WebhookURL   string         `json:"webhookUrl,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type createJobBody struct {
	JobID string         `json:"jobId"`
	Input map[string]any `json:"input,omitempty"`
}

type updateJobBody struct {
	JobID    string           `json:"jobId"`
	Status   models.JobStatus `json:"status,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
	Output   any              `json:"output,omitempty"`
	Error    *models.JobError `json:"error,omitempty"`
}

type webhookBody struct {
	JobID    string           `json:"jobId"`
	Status   string           `json:"status"`
	Output   any              `json:"output,omitempty"`
	Error    *models.JobError `json:"error,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// WorkerHandler serves the worker HTTP surface: dispatch, job records,
// internal updates and completion webhooks.
type WorkerHandler struct {
	dispatcher *workers.Dispatcher
	jobs       interfaces.JobStore
	poll       workers.PollSettings
	logger     arbor.ILogger
}

// NewWorkerHandler creates the worker handler
func NewWorkerHandler(logger arbor.ILogger, dispatcher *workers.Dispatcher, jobs interfaces.JobStore, poll workers.PollSettings) *WorkerHandler {
	return &WorkerHandler{
		dispatcher: dispatcher,
		jobs:       jobs,
		poll:       poll,
		logger:     logger,
	}
}

// Routes handles every /workers/{id}... path
func (h *WorkerHandler) Routes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/workers/")
	parts := strings.SplitN(rest, "/", 2)
	workerID := parts[0]
	if workerID == "" {
		WriteError(w, http.StatusNotFound, "worker id is required")
		return
	}

	if len(parts) == 1 {
		h.dispatch(w, r, workerID)
		return
	}

	switch parts[1] {
	case "job":
		h.createJob(w, r, workerID)
	case "update":
		h.updateJob(w, r, workerID)
	case "webhook":
		h.webhook(w, r, workerID)
	default:
		h.getJob(w, r, parts[1])
	}
}

// dispatch handles POST /workers/{id}
func (h *WorkerHandler) dispatch(w http.ResponseWriter, r *http.Request, workerID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var body dispatchBody
	if err := DecodeJSON(r, &body); err != nil {
		WriteFailure(w, err)
		return
	}

	opts := &workers.DispatchOptions{
		JobID:      body.JobID,
		Input:      body.Input,
		WebhookURL: body.WebhookURL,
		Metadata:   body.Metadata,
	}

	if body.Await {
		job, err := h.dispatcher.DispatchAwait(r.Context(), workerID, opts, h.poll)
		if err != nil {
			WriteFailure(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, job)
		return
	}

	opts.Delay = time.Duration(body.DelaySeconds) * time.Second
	job, err := h.dispatcher.Dispatch(r.Context(), workerID, opts)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"jobId":  job.ID,
		"status": string(job.Status),
	})
}

// createJob handles POST /workers/{id}/job
func (h *WorkerHandler) createJob(w http.ResponseWriter, r *http.Request, workerID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var body createJobBody
	if err := DecodeJSON(r, &body); err != nil {
		WriteFailure(w, err)
		return
	}
	if body.JobID == "" {
		WriteFailure(w, models.ValidationError("jobId is required"))
		return
	}

	patch := &models.JobPatch{
		WorkerID: workerID,
		Status:   models.JobStatusQueued,
		Input:    body.Input,
	}
	if err := h.jobs.SetJob(r.Context(), body.JobID, patch); err != nil {
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"jobId": body.JobID, "status": string(models.JobStatusQueued)})
}

// updateJob handles POST /workers/{id}/update
func (h *WorkerHandler) updateJob(w http.ResponseWriter, r *http.Request, workerID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var body updateJobBody
	if err := DecodeJSON(r, &body); err != nil {
		WriteFailure(w, err)
		return
	}
	if body.JobID == "" {
		WriteFailure(w, models.ValidationError("jobId is required"))
		return
	}

	patch := &models.JobPatch{
		Status:   body.Status,
		Metadata: body.Metadata,
		Output:   body.Output,
		Error:    body.Error,
	}
	if err := h.jobs.UpdateJob(r.Context(), body.JobID, patch); err != nil {
		WriteFailure(w, err)
		return
	}
	job, err := h.jobs.GetJob(r.Context(), body.JobID)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// webhook handles POST /workers/{id}/webhook, the completion callback a
// remote worker posts when it finishes a job.
func (h *WorkerHandler) webhook(w http.ResponseWriter, r *http.Request, workerID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var body webhookBody
	if err := DecodeJSON(r, &body); err != nil {
		WriteFailure(w, err)
		return
	}
	if body.JobID == "" {
		WriteFailure(w, models.ValidationError("jobId is required"))
		return
	}

	status := models.JobStatusCompleted
	if body.Status == models.WebhookStatusError {
		status = models.JobStatusFailed
	}
	patch := &models.JobPatch{
		WorkerID: workerID,
		Status:   status,
		Output:   body.Output,
		Error:    body.Error,
		Metadata: body.Metadata,
	}
	if err := h.jobs.SetJob(r.Context(), body.JobID, patch); err != nil {
		WriteFailure(w, err)
		return
	}

	h.logger.Info().
		Str("job_id", body.JobID).
		Str("worker_id", workerID).
		Str("status", string(status)).
		Msg("Webhook received")
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// getJob handles GET /workers/{id}/{jobId}
func (h *WorkerHandler) getJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}
