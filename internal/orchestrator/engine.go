package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/agents"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/workers"
)

// StartRequest is one start call: an inline plan or a library plan id, the
// caller's execution id, and optional input, hook tokens and messages.
type StartRequest struct {
	Plan        *models.Plan
	PlanID      string
	ExecutionID string
	Input       map[string]any
	HookTokens  map[string]string
	Messages    []any
	ParentRunID string
}

// Engine drives plans to completion. It is request-driven and single
// threaded per run: every entry point takes the run's mutex, reloads the
// record, and interprets from the persisted cursor.
type Engine struct {
	runs       interfaces.RunRegistry
	jobs       interfaces.JobStore
	router     *agents.Router
	dispatcher *workers.Dispatcher
	library    *Library
	events     interfaces.EventService
	runLocks   *common.KeyedMutex
	config     *common.Config
	logger     arbor.ILogger

	// In-memory cancel flags, observed between steps by in-flight drives
	// that hold the run lock the registry-backed flag would need.
	cancels sync.Map
}

// NewEngine creates the orchestration engine
func NewEngine(logger arbor.ILogger, config *common.Config, runs interfaces.RunRegistry, jobs interfaces.JobStore, router *agents.Router, dispatcher *workers.Dispatcher, library *Library, runLocks *common.KeyedMutex, events interfaces.EventService) *Engine {
	return &Engine{
		runs:       runs,
		jobs:       jobs,
		router:     router,
		dispatcher: dispatcher,
		library:    library,
		events:     events,
		runLocks:   runLocks,
		config:     config,
		logger:     logger,
	}
}

// RunIDForExecution derives the run id from a caller's execution id, so a
// retried start lands on the same run.
func RunIDForExecution(executionID string) string {
	if executionID == "" {
		return common.NewRunID()
	}
	return "run_" + sanitizeID(executionID)
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, id)
}

// Start validates and normalises the plan, creates the run, and drives it
// until it suspends or finishes. Starting the same execution id again
// returns the existing run instead of a duplicate.
func (e *Engine) Start(ctx context.Context, req *StartRequest) (*models.Run, error) {
	plan := req.Plan
	if plan == nil {
		if req.PlanID == "" {
			return nil, models.ValidationError("a plan or plan id is required")
		}
		library, ok := e.library.Get(req.PlanID)
		if !ok {
			return nil, models.NotFoundError("plan %s is not in the library", req.PlanID)
		}
		plan = library
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	normalized := plan.Normalize()

	input := req.Input
	if len(req.Messages) > 0 {
		if input == nil {
			input = make(map[string]any)
		}
		input["messages"] = req.Messages
	}

	runID := RunIDForExecution(req.ExecutionID)
	run := models.NewRun(runID, normalized, input, req.HookTokens)
	run.ParentRunID = req.ParentRunID

	if err := e.runs.CreateRun(ctx, run); err != nil {
		if models.IsConflict(err) {
			e.logger.Debug().Str("run_id", runID).Msg("Start is idempotent, returning existing run")
			return e.runs.GetRun(ctx, runID)
		}
		return nil, err
	}

	e.logger.Info().
		Str("run_id", runID).
		Str("plan_id", normalized.ID).
		Int("steps", len(normalized.Steps)).
		Msg("Started run")

	if err := e.Advance(ctx, runID); err != nil {
		return nil, err
	}
	return e.runs.GetRun(ctx, runID)
}

// Get returns a run record
func (e *Engine) Get(ctx context.Context, runID string) (*models.Run, error) {
	return e.runs.GetRun(ctx, runID)
}

// List returns runs, optionally filtered by status
func (e *Engine) List(ctx context.Context, status models.RunStatus, limit, offset int) ([]*models.Run, error) {
	return e.runs.ListRuns(ctx, &interfaces.RunListOptions{Status: status, Limit: limit, Offset: offset})
}

// Advance re-enters the interpreter for a run. Paused runs that are still
// waiting on their token or timer are left alone.
func (e *Engine) Advance(ctx context.Context, runID string) error {
	e.runLocks.Lock(runID)
	defer e.runLocks.Unlock(runID)

	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}
	if run.Status == models.RunStatusPaused && !run.SkipCursor {
		return nil
	}
	return e.drive(ctx, run)
}

// Cancel requests a soft cancel. A paused run fails immediately; a running
// run observes the flag between steps.
func (e *Engine) Cancel(ctx context.Context, runID string) (*models.Run, error) {
	e.cancels.Store(runID, struct{}{})

	e.runLocks.Lock(runID)
	defer e.runLocks.Unlock(runID)

	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}

	run.CancelRequested = true
	if run.Status == models.RunStatusPaused {
		run.MarkFailed(e.cursorStepID(run), run.CurrentStep(), models.ErrCancelled)
		e.clearCancel(run.ID)
	}
	if err := e.runs.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	e.publish(run)
	e.logger.Info().Str("run_id", runID).Str("status", string(run.Status)).Msg("Cancel requested")
	return run, nil
}

func (e *Engine) cancelRequested(run *models.Run) bool {
	if run.CancelRequested {
		return true
	}
	_, ok := e.cancels.Load(run.ID)
	return ok
}

func (e *Engine) clearCancel(runID string) {
	e.cancels.Delete(runID)
}

func (e *Engine) cursorStepID(run *models.Run) string {
	step, err := run.Plan.StepAt(run.Cursor)
	if err != nil {
		return ""
	}
	return step.ID
}

// WakeDueRuns resumes paused runs whose sleep timer has fired
func (e *Engine) WakeDueRuns(ctx context.Context) int {
	now := time.Now()
	due, err := e.runs.ListRuns(ctx, &interfaces.RunListOptions{
		Status:     models.RunStatusPaused,
		WakeBefore: &now,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to list due timers")
		return 0
	}

	woken := 0
	for _, candidate := range due {
		if e.wake(ctx, candidate.ID) {
			woken++
		}
	}
	return woken
}

// wake marks a slept run runnable and advances it
func (e *Engine) wake(ctx context.Context, runID string) bool {
	e.runLocks.Lock(runID)
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil || run.Status != models.RunStatusPaused || run.WakeAt == nil || run.WakeAt.After(time.Now()) {
		e.runLocks.Unlock(runID)
		return false
	}

	run.WakeAt = nil
	run.SkipCursor = true
	run.Status = models.RunStatusRunning
	run.UpdatedAt = time.Now()
	if err := e.runs.UpdateRun(ctx, run); err != nil {
		e.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to wake run")
		e.runLocks.Unlock(runID)
		return false
	}
	e.runLocks.Unlock(runID)

	e.logger.Info().Str("run_id", runID).Msg("Timer fired, resuming run")
	if err := e.Advance(ctx, runID); err != nil {
		e.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to advance woken run")
	}
	return true
}

// ExpireHooks fails paused runs whose hook deadline has passed
func (e *Engine) ExpireHooks(ctx context.Context) int {
	now := time.Now()
	due, err := e.runs.ListRuns(ctx, &interfaces.RunListOptions{
		Status:             models.RunStatusPaused,
		HookDeadlineBefore: &now,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to list expired hooks")
		return 0
	}

	expired := 0
	for _, candidate := range due {
		if e.expire(ctx, candidate.ID, "hook wait exceeded its deadline") {
			expired++
		}
	}
	return expired
}

// ExpireDeadlines fails runs whose plan-level timeout has passed
func (e *Engine) ExpireDeadlines(ctx context.Context) int {
	now := time.Now()
	expired := 0
	for _, status := range []models.RunStatus{models.RunStatusRunning, models.RunStatusPaused, models.RunStatusPending} {
		due, err := e.runs.ListRuns(ctx, &interfaces.RunListOptions{
			Status:         status,
			DeadlineBefore: &now,
		})
		if err != nil {
			e.logger.Warn().Err(err).Msg("Failed to list expired runs")
			continue
		}
		for _, candidate := range due {
			if e.expire(ctx, candidate.ID, "plan timeout exceeded") {
				expired++
			}
		}
	}
	return expired
}

func (e *Engine) expire(ctx context.Context, runID, reason string) bool {
	e.runLocks.Lock(runID)
	defer e.runLocks.Unlock(runID)

	run, err := e.runs.GetRun(ctx, runID)
	if err != nil || run.Status.Terminal() {
		return false
	}

	run.MarkFailed(e.cursorStepID(run), run.CurrentStep(), models.TimeoutError("%s", reason))
	if err := e.runs.UpdateRun(ctx, run); err != nil {
		e.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to expire run")
		return false
	}
	e.publish(run)
	e.logger.Info().Str("run_id", runID).Str("reason", reason).Msg("Run timed out")
	return true
}

func (e *Engine) publish(run *models.Run) {
	if e.events == nil {
		return
	}
	e.events.Publish(interfaces.Event{
		Type:      "run",
		RunID:     run.ID,
		Status:    string(run.Status),
		Timestamp: time.Now(),
	})
}
