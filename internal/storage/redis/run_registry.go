package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// RunRegistry stores runs as JSON strings with a per-status index set and a
// token -> run pointer for signal lookups. Hook-token pointers outlive
// consumption (bounded by tokenTTL) so repeated signals resolve to the run
// that already consumed them.
type RunRegistry struct {
	conn     *Conn
	tokenTTL time.Duration
	logger   arbor.ILogger
}

// NewRunRegistry creates a redis-backed run registry
func NewRunRegistry(conn *Conn, tokenTTL time.Duration, logger arbor.ILogger) *RunRegistry {
	return &RunRegistry{conn: conn, tokenTTL: tokenTTL, logger: logger}
}

func runKey(runID string) string        { return runKeyPrefix + runID }
func statusKey(status string) string    { return runsByStatusPrefix + status }
func hookTokenKey(token string) string  { return hookTokenPrefix + token }

func (r *RunRegistry) write(ctx context.Context, run *models.Run, previousStatus models.RunStatus) error {
	data, err := run.ToJSON()
	if err != nil {
		return err
	}

	pipe := r.conn.Client().TxPipeline()
	pipe.Set(ctx, runKey(run.ID), data, 0)
	if previousStatus != "" && previousStatus != run.Status {
		pipe.SRem(ctx, statusKey(string(previousStatus)), run.ID)
	}
	pipe.SAdd(ctx, statusKey(string(run.Status)), run.ID)
	if run.WaitingHookToken != "" {
		pipe.Set(ctx, hookTokenKey(run.WaitingHookToken), run.ID, r.tokenTTL)
	}
	for _, consumed := range run.ConsumedHookTokens {
		pipe.Set(ctx, hookTokenKey(consumed), run.ID, r.tokenTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write run %s: %w", run.ID, err)
	}
	return nil
}

func (r *RunRegistry) CreateRun(ctx context.Context, run *models.Run) error {
	data, err := run.ToJSON()
	if err != nil {
		return err
	}
	created, err := r.conn.Client().SetNX(ctx, runKey(run.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	if !created {
		return models.ConflictError("run %s already exists", run.ID)
	}
	if err := r.conn.Client().SAdd(ctx, statusKey(string(run.Status)), run.ID).Err(); err != nil {
		return fmt.Errorf("failed to index run %s: %w", run.ID, err)
	}
	return nil
}

func (r *RunRegistry) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	data, err := r.conn.Client().Get(ctx, runKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, models.NotFoundError("run %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return models.RunFromJSON(data)
}

func (r *RunRegistry) UpdateRun(ctx context.Context, run *models.Run) error {
	previous, err := r.GetRun(ctx, run.ID)
	if err != nil {
		return err
	}
	run.UpdatedAt = time.Now()
	return r.write(ctx, run, previous.Status)
}

func (r *RunRegistry) ListRuns(ctx context.Context, opts *interfaces.RunListOptions) ([]*models.Run, error) {
	statuses := []models.RunStatus{
		models.RunStatusPending, models.RunStatusRunning, models.RunStatusPaused,
		models.RunStatusCompleted, models.RunStatusFailed,
	}
	if opts != nil && opts.Status != "" {
		statuses = []models.RunStatus{opts.Status}
	}

	var out []*models.Run
	for _, status := range statuses {
		ids, err := r.conn.Client().SMembers(ctx, statusKey(string(status))).Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to list %s runs: %w", status, err)
		}
		for _, id := range ids {
			run, err := r.GetRun(ctx, id)
			if err != nil {
				if models.IsNotFound(err) {
					r.conn.Client().SRem(ctx, statusKey(string(status)), id)
					continue
				}
				return nil, err
			}
			if !runMatches(run, opts) {
				continue
			}
			out = append(out, run)
		}
	}

	sortRunsByCreated(out)
	if opts != nil {
		if opts.Offset > 0 {
			if opts.Offset >= len(out) {
				return nil, nil
			}
			out = out[opts.Offset:]
		}
		if opts.Limit > 0 && len(out) > opts.Limit {
			out = out[:opts.Limit]
		}
	}
	return out, nil
}

func runMatches(run *models.Run, opts *interfaces.RunListOptions) bool {
	if opts == nil {
		return true
	}
	if opts.WakeBefore != nil && (run.WakeAt == nil || run.WakeAt.After(*opts.WakeBefore)) {
		return false
	}
	if opts.HookDeadlineBefore != nil && (run.HookDeadline == nil || run.HookDeadline.After(*opts.HookDeadlineBefore)) {
		return false
	}
	if opts.DeadlineBefore != nil && (run.Deadline == nil || run.Deadline.After(*opts.DeadlineBefore)) {
		return false
	}
	return true
}

func sortRunsByCreated(runs []*models.Run) {
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}

func (r *RunRegistry) FindRunByHookToken(ctx context.Context, token string) (*models.Run, error) {
	runID, err := r.conn.Client().Get(ctx, hookTokenKey(token)).Result()
	if err == redis.Nil {
		return nil, models.NotFoundError("no run waiting on token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hook token: %w", err)
	}
	return r.GetRun(ctx, runID)
}
