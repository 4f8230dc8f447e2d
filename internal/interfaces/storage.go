package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/relay/internal/models"
)

// RunListOptions filters run listings
type RunListOptions struct {
	Status models.RunStatus
	Limit  int
	Offset int

	// Maintenance filters, used by the scheduler sweeps
	WakeBefore         *time.Time
	HookDeadlineBefore *time.Time
	DeadlineBefore     *time.Time
}

// RunRegistry stores run records. Implementations must make CreateRun fail
// on duplicate ids so starts stay idempotent per execution id.
type RunRegistry interface {
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	UpdateRun(ctx context.Context, run *models.Run) error
	ListRuns(ctx context.Context, opts *RunListOptions) ([]*models.Run, error)

	// FindRunByHookToken locates the run currently waiting on token, or the
	// run that already consumed it (for idempotent resume no-ops).
	FindRunByHookToken(ctx context.Context, token string) (*models.Run, error)
}

// JobStore is the durable record of worker jobs. SetJob upserts, UpdateJob
// requires an existing record; both enforce the terminal-transition rules
// (a terminal job ignores further status writes, CompletedAt is stamped
// exactly once).
type JobStore interface {
	SetJob(ctx context.Context, jobID string, patch *models.JobPatch) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	UpdateJob(ctx context.Context, jobID string, patch *models.JobPatch) error
	AppendInternalJob(ctx context.Context, parentJobID string, ref models.JobRef) error
	ListJobsByWorker(ctx context.Context, workerID string) ([]*models.Job, error)

	// DeleteExpiredJobs removes terminal jobs older than the retention
	// window. Backends with native expiry (mongo TTL index, redis EXPIRE)
	// implement this as a no-op.
	DeleteExpiredJobs(ctx context.Context, olderThan time.Time) (int, error)
}

// StorageManager owns the backend connection and hands out the typed stores
type StorageManager interface {
	RunRegistry() RunRegistry
	JobStore() JobStore
	Close() error
}
