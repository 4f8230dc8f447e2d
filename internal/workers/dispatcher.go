package workers

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/queue"
)

// MaxDispatchDelay bounds per-message delays, matching common queue backends
const MaxDispatchDelay = 900 * time.Second

// DispatchOptions shapes one dispatch call. Delay applies to fire-and-forget
// only and is ignored when the caller awaits.
type DispatchOptions struct {
	JobID       string
	Input       map[string]any
	Delay       time.Duration
	WebhookURL  string
	Metadata    map[string]any
	RequestID   string
	ParentJobID string
}

// Dispatcher creates job records and enqueues worker messages. It holds no
// state beyond its collaborators and the env-derived queue map.
type Dispatcher struct {
	queues *queue.Manager
	jobs   interfaces.JobStore
	config *common.Config
	logger arbor.ILogger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(logger arbor.ILogger, config *common.Config, queues *queue.Manager, jobs interfaces.JobStore) *Dispatcher {
	return &Dispatcher{
		queues: queues,
		jobs:   jobs,
		config: config,
		logger: logger,
	}
}

// Dispatch records a queued job and sends its message to the worker's queue.
// The job record exists before the message is visible, so a consumer always
// finds it.
func (d *Dispatcher) Dispatch(ctx context.Context, workerID string, opts *DispatchOptions) (*models.Job, error) {
	if workerID == "" {
		return nil, models.ValidationError("worker id is required")
	}
	if opts == nil {
		opts = &DispatchOptions{}
	}
	if opts.Delay < 0 || opts.Delay > MaxDispatchDelay {
		return nil, models.ValidationError("dispatch delay %s is outside 0-%s", opts.Delay, MaxDispatchDelay)
	}

	jobID := opts.JobID
	if jobID == "" {
		jobID = common.NewJobID()
	}

	metadata := make(map[string]any, len(opts.Metadata)+1)
	for k, v := range opts.Metadata {
		metadata[k] = v
	}
	if opts.ParentJobID != "" {
		metadata["parentJobId"] = opts.ParentJobID
	}

	patch := &models.JobPatch{
		WorkerID: workerID,
		Status:   models.JobStatusQueued,
		Input:    opts.Input,
		Metadata: metadata,
	}
	if err := d.jobs.SetJob(ctx, jobID, patch); err != nil {
		return nil, err
	}
	if opts.ParentJobID != "" {
		ref := models.JobRef{JobID: jobID, WorkerID: workerID}
		if err := d.jobs.AppendInternalJob(ctx, opts.ParentJobID, ref); err != nil {
			d.logger.Warn().Err(err).Str("job_id", jobID).Str("parent_job_id", opts.ParentJobID).Msg("Failed to link child job")
		}
	}

	msg := &models.QueueMessage{
		WorkerID:   workerID,
		JobID:      jobID,
		Input:      opts.Input,
		Context:    models.MessageContext{RequestID: opts.RequestID},
		WebhookURL: d.webhookURL(workerID, opts.WebhookURL),
		Metadata:   metadata,
		Timestamp:  time.Now(),
	}

	q, err := d.queues.QueueFor(workerID)
	if err != nil {
		return nil, models.DispatchError("no queue for worker %s: %v", workerID, err)
	}
	if err := q.Send(ctx, msg, opts.Delay); err != nil {
		return nil, err
	}

	d.logger.Info().Str("worker_id", workerID).Str("job_id", jobID).Msg("Dispatched worker job")

	job, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// DispatchAwait dispatches and then polls the job store until the child job
// is terminal. Delay is ignored for awaited calls.
func (d *Dispatcher) DispatchAwait(ctx context.Context, workerID string, opts *DispatchOptions, settings PollSettings) (*models.Job, error) {
	if opts == nil {
		opts = &DispatchOptions{}
	}
	opts.Delay = 0

	job, err := d.Dispatch(ctx, workerID, opts)
	if err != nil {
		return nil, err
	}
	return AwaitJob(ctx, d.jobs, job.ID, settings)
}

// webhookURL picks the explicit URL or derives one from the configured base
func (d *Dispatcher) webhookURL(workerID, explicit string) string {
	if explicit != "" {
		return explicit
	}
	base := d.config.Workers.WebhookBaseURL
	if base == "" {
		return ""
	}
	return strings.TrimSuffix(base, "/") + "/workers/" + workerID + "/webhook"
}
