package workers

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// HandlerContext is the façade a handler sees: its identifiers, a scoped
// logger, job-store access, and worker-to-worker dispatch.
type HandlerContext struct {
	Context   context.Context
	JobID     string
	WorkerID  string
	RequestID string
	Input     map[string]any
	Metadata  map[string]any

	runtime *Runtime
	logger  arbor.ILogger
}

// Logger returns a logger prefixed with the job correlation id
func (hc *HandlerContext) Logger() arbor.ILogger {
	return hc.logger
}

// GetJob reads a job record
func (hc *HandlerContext) GetJob(jobID string) (*models.Job, error) {
	return hc.runtime.jobs.GetJob(hc.Context, jobID)
}

// UpdateJob applies a partial update to a job record
func (hc *HandlerContext) UpdateJob(jobID string, patch *models.JobPatch) error {
	return hc.runtime.jobs.UpdateJob(hc.Context, jobID, patch)
}

// AppendInternalJob links a child job to a parent
func (hc *HandlerContext) AppendInternalJob(parentJobID string, ref models.JobRef) error {
	return hc.runtime.jobs.AppendInternalJob(hc.Context, parentJobID, ref)
}

// DispatchWorker dispatches a child job from inside a handler. The child is
// linked to this job via internalJobs and metadata.parentJobId.
func (hc *HandlerContext) DispatchWorker(workerID string, input map[string]any, opts *DispatchOptions) (*models.Job, error) {
	if opts == nil {
		opts = &DispatchOptions{}
	}
	opts.Input = input
	opts.RequestID = hc.RequestID
	opts.ParentJobID = hc.JobID
	return hc.runtime.dispatcher.Dispatch(hc.Context, workerID, opts)
}

// DispatchWorkerAwait dispatches a child job and blocks until it is
// terminal, returning its output or its recorded error.
func (hc *HandlerContext) DispatchWorkerAwait(workerID string, input map[string]any, poll *models.PollConfig) (any, error) {
	opts := &DispatchOptions{
		Input:       input,
		RequestID:   hc.RequestID,
		ParentJobID: hc.JobID,
	}
	settings := ResolvePoll(poll, nil, &hc.runtime.config.Workers)
	job, err := hc.runtime.dispatcher.DispatchAwait(hc.Context, workerID, opts, settings)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusFailed {
		if job.Error != nil {
			return nil, models.HandlerError("worker %s: %s", workerID, job.Error.Message)
		}
		return nil, models.HandlerError("worker %s failed", workerID)
	}
	return job.Output, nil
}

// Runtime executes queue messages against registered handlers and keeps the
// job store authoritative for every transition.
type Runtime struct {
	registry   *Registry
	jobs       interfaces.JobStore
	dispatcher *Dispatcher
	events     interfaces.EventService
	config     *common.Config
	http       *resty.Client
	logger     arbor.ILogger
}

// NewRuntime creates a worker runtime
func NewRuntime(logger arbor.ILogger, config *common.Config, registry *Registry, jobs interfaces.JobStore, dispatcher *Dispatcher, events interfaces.EventService) *Runtime {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)

	return &Runtime{
		registry:   registry,
		jobs:       jobs,
		dispatcher: dispatcher,
		events:     events,
		config:     config,
		http:       client,
		logger:     logger,
	}
}

// Process runs one queue message to its terminal job state. The returned
// error signals the queue layer to redeliver; terminal handler failures are
// recorded on the job before being returned.
func (r *Runtime) Process(ctx context.Context, msg *models.QueueMessage) error {
	logger := r.logger.WithCorrelationId(msg.JobID)

	// Idempotency: a redelivered message for a terminal job is a no-op
	existing, err := r.jobs.GetJob(ctx, msg.JobID)
	if err != nil && !models.IsNotFound(err) {
		return err
	}
	if existing != nil && existing.Status.Terminal() {
		logger.Debug().Str("status", string(existing.Status)).Msg("Skipping terminal job")
		return nil
	}

	if existing == nil {
		patch := &models.JobPatch{
			WorkerID: msg.WorkerID,
			Status:   models.JobStatusQueued,
			Input:    msg.Input,
			Metadata: msg.Metadata,
		}
		if err := r.jobs.SetJob(ctx, msg.JobID, patch); err != nil {
			return err
		}
	}

	worker, ok := r.registry.Get(msg.WorkerID)
	if !ok {
		err := models.NotFoundError("worker %s is not registered", msg.WorkerID)
		r.finishJob(ctx, msg, models.JobStatusFailed, nil, jobError(err), logger)
		return err
	}

	if err := r.jobs.UpdateJob(ctx, msg.JobID, &models.JobPatch{Status: models.JobStatusRunning}); err != nil {
		return err
	}
	r.publish(msg, models.JobStatusRunning)
	logger.Info().Str("worker_id", msg.WorkerID).Msg("Processing job")

	output, err := r.runHandler(ctx, worker, msg, logger)
	if err == nil {
		err = worker.validate(output)
	}

	if err != nil {
		logger.Warn().Err(err).Str("worker_id", msg.WorkerID).Msg("Job failed")
		r.finishJob(ctx, msg, models.JobStatusFailed, nil, jobError(err), logger)
		return err
	}

	r.finishJob(ctx, msg, models.JobStatusCompleted, output, nil, logger)
	logger.Info().Str("worker_id", msg.WorkerID).Msg("Job completed")
	return nil
}

// runHandler executes the handler, converting panics into handler errors
func (r *Runtime) runHandler(ctx context.Context, worker *Worker, msg *models.QueueMessage, logger arbor.ILogger) (output map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = models.HandlerError("worker %s panicked: %v", worker.ID, rec)
			logger.Error().Str("stack", string(debug.Stack())).Msg("Handler panic")
		}
	}()

	hc := &HandlerContext{
		Context:   ctx,
		JobID:     msg.JobID,
		WorkerID:  msg.WorkerID,
		RequestID: msg.Context.RequestID,
		Input:     msg.Input,
		Metadata:  msg.Metadata,
		runtime:   r,
		logger:    logger,
	}
	return worker.Handler(hc)
}

// finishJob writes the terminal state and fires the webhook. Store failures
// here log and fail open so the webhook still reports the outcome.
func (r *Runtime) finishJob(ctx context.Context, msg *models.QueueMessage, status models.JobStatus, output map[string]any, jobErr *models.JobError, logger arbor.ILogger) {
	patch := &models.JobPatch{Status: status, Error: jobErr}
	if output != nil {
		patch.Output = output
	}
	if err := r.jobs.UpdateJob(ctx, msg.JobID, patch); err != nil {
		logger.Error().Err(err).Msg("Failed to store terminal job state")
	}
	r.publish(msg, status)

	if msg.WebhookURL == "" {
		return
	}
	job, err := r.jobs.GetJob(ctx, msg.JobID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load job for webhook")
		return
	}
	r.postWebhook(ctx, msg.WebhookURL, models.NewWebhookPayload(job), logger)
}

// postWebhook delivers the terminal payload. Failures log and never fail
// the job.
func (r *Runtime) postWebhook(ctx context.Context, url string, payload *models.WebhookPayload, logger arbor.ILogger) {
	resp, err := r.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(url)
	if err != nil {
		logger.Warn().Err(err).Str("url", url).Msg("Webhook delivery failed")
		return
	}
	if resp.IsError() {
		logger.Warn().Int("status", resp.StatusCode()).Str("url", url).Msg("Webhook returned error status")
		return
	}
	logger.Debug().Str("url", url).Msg("Webhook delivered")
}

func (r *Runtime) publish(msg *models.QueueMessage, status models.JobStatus) {
	if r.events == nil {
		return
	}
	r.events.Publish(interfaces.Event{
		Type:      "job",
		JobID:     msg.JobID,
		Status:    string(status),
		Timestamp: time.Now(),
	})
}

func jobError(err error) *models.JobError {
	name := "HandlerError"
	switch {
	case models.IsValidation(err):
		name = "ValidationError"
	case models.IsNotFound(err):
		name = "NotFoundError"
	case models.IsTimeout(err):
		name = "TimeoutError"
	}
	return &models.JobError{
		Message: err.Error(),
		Name:    name,
	}
}
