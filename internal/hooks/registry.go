package hooks

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// Registry resumes paused runs from externally-supplied tokens. Tokens are
// minted by callers; the registry only matches them against waiting runs.
type Registry struct {
	runs     interfaces.RunRegistry
	advancer interfaces.Advancer
	runLocks *common.KeyedMutex
	events   interfaces.EventService
	logger   arbor.ILogger
}

// NewRegistry creates a hook registry. The advancer re-enters the
// interpreter after a successful resume.
func NewRegistry(logger arbor.ILogger, runs interfaces.RunRegistry, runLocks *common.KeyedMutex, advancer interfaces.Advancer, events interfaces.EventService) *Registry {
	return &Registry{
		runs:     runs,
		advancer: advancer,
		runLocks: runLocks,
		events:   events,
		logger:   logger,
	}
}

// Resume matches a signal token to its paused run, records the payload as
// the hook step's output, and advances the run. A repeat signal for an
// already-consumed token is a success no-op; a token held by a run in any
// other state is a conflict.
func (r *Registry) Resume(ctx context.Context, signal *models.Signal) (*models.Run, error) {
	if signal == nil || signal.Token == "" {
		return nil, models.ValidationError("signal token is required")
	}

	run, err := r.runs.FindRunByHookToken(ctx, signal.Token)
	if err != nil {
		return nil, err
	}

	r.runLocks.Lock(run.ID)
	resumed, err := r.consume(ctx, run.ID, signal)
	r.runLocks.Unlock(run.ID)
	if err != nil {
		return nil, err
	}
	if resumed == nil {
		// Token already consumed, nothing to advance
		return run, nil
	}

	r.logger.Info().
		Str("run_id", resumed.ID).
		Str("token", signal.Token).
		Msg("Resumed run from signal")

	if err := r.advancer.Advance(ctx, resumed.ID); err != nil {
		return nil, err
	}
	return r.runs.GetRun(ctx, resumed.ID)
}

// consume applies the signal under the run lock. It returns nil when the
// token was already consumed.
func (r *Registry) consume(ctx context.Context, runID string, signal *models.Signal) (*models.Run, error) {
	// Reload under the lock so a racing resume is observed
	run, err := r.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	for _, consumed := range run.ConsumedHookTokens {
		if consumed == signal.Token {
			r.logger.Debug().Str("run_id", run.ID).Str("token", signal.Token).Msg("Ignoring repeat signal")
			return nil, nil
		}
	}

	if run.Status != models.RunStatusPaused || run.WaitingHookToken != signal.Token {
		return nil, models.ConflictError("run %s is not waiting on this token", run.ID)
	}

	step, err := run.Plan.StepAt(run.Cursor)
	if err != nil {
		return nil, err
	}

	// The signal payload becomes the hook step's output
	run.Context.RecordStep(step.ID, payloadValue(signal.Payload))
	run.ConsumedHookTokens = append(run.ConsumedHookTokens, signal.Token)
	run.WaitingHookToken = ""
	run.HookDeadline = nil
	run.SkipCursor = true
	run.Status = models.RunStatusRunning
	run.UpdatedAt = time.Now()

	if err := r.runs.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	r.publish(run)
	return run, nil
}

func (r *Registry) publish(run *models.Run) {
	if r.events == nil {
		return
	}
	r.events.Publish(interfaces.Event{
		Type:      "run",
		RunID:     run.ID,
		Status:    string(run.Status),
		Timestamp: time.Now(),
	})
}

// payloadValue keeps nil payloads distinguishable from empty objects
func payloadValue(payload map[string]any) any {
	if payload == nil {
		return map[string]any{}
	}
	return payload
}
