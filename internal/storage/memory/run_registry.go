package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// RunRegistry stores runs in a map. Run pointers are shared with callers;
// the orchestrator's per-run mutex serialises mutation.
type RunRegistry struct {
	mu   sync.RWMutex
	runs map[string]*models.Run
}

// NewRunRegistry creates an empty in-memory run registry
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[string]*models.Run)}
}

func (r *RunRegistry) CreateRun(ctx context.Context, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[run.ID]; exists {
		return models.ConflictError("run %s already exists", run.ID)
	}
	r.runs[run.ID] = run
	return nil
}

func (r *RunRegistry) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, models.NotFoundError("run %s", runID)
	}
	return run, nil
}

func (r *RunRegistry) UpdateRun(ctx context.Context, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return models.NotFoundError("run %s", run.ID)
	}
	run.UpdatedAt = time.Now()
	r.runs[run.ID] = run
	return nil
}

func (r *RunRegistry) ListRuns(ctx context.Context, opts *interfaces.RunListOptions) ([]*models.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Run
	for _, run := range r.runs {
		if !matches(run, opts) {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
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

func matches(run *models.Run, opts *interfaces.RunListOptions) bool {
	if opts == nil {
		return true
	}
	if opts.Status != "" && run.Status != opts.Status {
		return false
	}
	if opts.WakeBefore != nil {
		if run.WakeAt == nil || run.WakeAt.After(*opts.WakeBefore) {
			return false
		}
	}
	if opts.HookDeadlineBefore != nil {
		if run.HookDeadline == nil || run.HookDeadline.After(*opts.HookDeadlineBefore) {
			return false
		}
	}
	if opts.DeadlineBefore != nil {
		if run.Deadline == nil || run.Deadline.After(*opts.DeadlineBefore) {
			return false
		}
	}
	return true
}

func (r *RunRegistry) FindRunByHookToken(ctx context.Context, token string) (*models.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, run := range r.runs {
		if run.WaitingHookToken == token {
			return run, nil
		}
	}
	for _, run := range r.runs {
		for _, consumed := range run.ConsumedHookTokens {
			if consumed == token {
				return run, nil
			}
		}
	}
	return nil, models.NotFoundError("no run waiting on token")
}
