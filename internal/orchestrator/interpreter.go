package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/workers"
)

// stepFailure carries the failing step's identity up to the run record
type stepFailure struct {
	stepID string
	index  int
	err    error
}

func (f *stepFailure) Error() string { return f.err.Error() }
func (f *stepFailure) Unwrap() error { return f.err }

// drive interprets the run from its persisted cursor until it suspends,
// completes, or fails. The caller holds the run's mutex.
func (e *Engine) drive(ctx context.Context, run *models.Run) error {
	if run.Status == models.RunStatusPending {
		run.Status = models.RunStatusRunning
	}

	entry := run.Cursor.Clone()
	suspended, err := e.runBlock(ctx, run, run.Plan.Steps, nil, "", entry)

	if err != nil {
		failure := asStepFailure(err)
		run.MarkFailed(failure.stepID, failure.index, failure.err)
		e.clearCancel(run.ID)
		if uerr := e.runs.UpdateRun(ctx, run); uerr != nil {
			return uerr
		}
		e.publish(run)
		e.logger.Warn().
			Str("run_id", run.ID).
			Str("step", failure.stepID).
			Err(failure.err).
			Msg("Run failed")
		return nil
	}

	if suspended {
		if uerr := e.runs.UpdateRun(ctx, run); uerr != nil {
			return uerr
		}
		e.publish(run)
		e.logger.Info().
			Str("run_id", run.ID).
			Str("status", string(run.Status)).
			Msg("Run suspended")
		return nil
	}

	run.MarkCompleted()
	e.clearCancel(run.ID)
	if uerr := e.runs.UpdateRun(ctx, run); uerr != nil {
		return uerr
	}
	e.publish(run)
	e.logger.Info().Str("run_id", run.ID).Msg("Run completed")
	return nil
}

func asStepFailure(err error) *stepFailure {
	if failure, ok := err.(*stepFailure); ok {
		return failure
	}
	return &stepFailure{err: err}
}

// cursorHasPrefix reports whether cursor starts with the given prefix
func cursorHasPrefix(cursor, prefix models.Cursor) bool {
	if len(cursor) < len(prefix) {
		return false
	}
	for i, seg := range prefix {
		if cursor[i] != seg {
			return false
		}
	}
	return true
}

// runBlock executes one block of steps. base addresses the block in the
// plan tree and branch names which sub-block of base's last step it is.
// entry is the cursor as drive found it, used to resume mid-block.
func (e *Engine) runBlock(ctx context.Context, run *models.Run, steps []models.Step, base models.Cursor, branch string, entry models.Cursor) (bool, error) {
	depth := len(base)
	start := 0
	resume := false
	if cursorHasPrefix(entry, base) && len(entry) > depth && entry[depth].Branch == branch {
		start = entry[depth].Index
		resume = true
	}
	if start >= len(steps) {
		return false, nil
	}

	for i := start; i < len(steps); i++ {
		step := &steps[i]
		cursor := append(base.Clone(), models.CursorSeg{Index: i, Branch: branch})
		run.Cursor = cursor

		resuming := resume && i == start
		// deep means the entry cursor descends into this step's sub-blocks
		deep := resuming && len(entry) > depth+1

		if e.cancelRequested(run) {
			return false, &stepFailure{stepID: step.ID, index: cursor.Top(), err: models.ErrCancelled}
		}
		if run.Deadline != nil && time.Now().After(*run.Deadline) {
			return false, &stepFailure{stepID: step.ID, index: cursor.Top(), err: models.TimeoutError("plan timeout exceeded")}
		}

		// A skip-marked cursor step was satisfied externally (signal or
		// timer); its output is already recorded.
		if resuming && !deep && run.SkipCursor {
			run.SkipCursor = false
			continue
		}

		suspend, err := e.execStep(ctx, run, step, cursor, resuming, deep, entry)
		if err != nil {
			if run.Plan.ContinueOnError {
				run.Context.RecordError(stepName(step, cursor), err)
				if step.ID != "" {
					run.Context.Steps[step.ID] = nil
				}
				continue
			}
			return false, &stepFailure{stepID: step.ID, index: cursor.Top(), err: err}
		}
		if suspend {
			return true, nil
		}
	}
	return false, nil
}

func stepName(step *models.Step, cursor models.Cursor) string {
	if step.ID != "" {
		return step.ID
	}
	name := ""
	for _, seg := range cursor {
		if seg.Branch != "" {
			name += seg.Branch + "."
		}
		name += fmt.Sprintf("%d.", seg.Index)
	}
	return name + string(step.Type)
}

// execStep runs one step. It returns suspend=true when the run must leave
// the current invocation (hook wait or persisted timer).
func (e *Engine) execStep(ctx context.Context, run *models.Run, step *models.Step, cursor models.Cursor, resuming, deep bool, entry models.Cursor) (bool, error) {
	switch step.Type {
	case models.StepStatusUpdate:
		run.Status = step.Status
		return false, nil
	case models.StepAgent:
		return false, e.execAgent(ctx, run, step)
	case models.StepHook:
		return e.execHook(run, step)
	case models.StepSleep:
		return e.execSleep(ctx, run, step)
	case models.StepCondition:
		return e.execCondition(ctx, run, step, cursor, deep, entry)
	case models.StepParallel:
		return false, e.execParallel(ctx, run, step)
	case models.StepWorker:
		return false, e.execWorker(ctx, run, step, resuming)
	case models.StepWorkflow:
		return false, e.execWorkflow(ctx, run, step, cursor, resuming)
	default:
		return false, models.ValidationError("unknown step type %q", step.Type)
	}
}

func (e *Engine) execAgent(ctx context.Context, run *models.Run, step *models.Step) error {
	resolved, err := ResolveInput(step, run.Context)
	if err != nil {
		return err
	}
	output, err := e.router.Invoke(ctx, step.Agent, asInputMap(resolved), run.ID)
	if err != nil {
		return err
	}
	run.Context.RecordStep(step.ID, output)
	return nil
}

// execHook parks the run on its token. The preceding _statusUpdate already
// set the paused status; the hook records what the run is waiting for.
func (e *Engine) execHook(run *models.Run, step *models.Step) (bool, error) {
	token := e.hookToken(run, step)
	if token == "" {
		return false, models.ValidationError("hook step %q resolved an empty token", step.ID)
	}

	timeout := e.config.Orchestrator.HookTimeout.Std()
	if run.Plan.HookTimeout > 0 {
		timeout = run.Plan.HookTimeout.Std()
	}
	deadline := time.Now().Add(timeout)

	run.WaitingHookToken = token
	run.HookDeadline = &deadline
	run.Status = models.RunStatusPaused
	e.logger.Info().
		Str("run_id", run.ID).
		Str("step", step.ID).
		Str("token", token).
		Msg("Run waiting on hook")
	return true, nil
}

// hookToken resolves the token: a plan token function wins, then the
// caller's hookTokens map, then the literal on the step.
func (e *Engine) hookToken(run *models.Run, step *models.Step) string {
	if step.TokenFunc != nil {
		return step.TokenFunc(run.Context)
	}
	if step.ID != "" {
		if token, ok := run.HookTokens[step.ID]; ok && token != "" {
			return token
		}
	}
	return step.Token
}

// execSleep waits inline for short durations and persists a timer for long
// ones. A persisted timer suspends the run until the scheduler wakes it.
func (e *Engine) execSleep(ctx context.Context, run *models.Run, step *models.Step) (bool, error) {
	duration := step.Duration.Std()
	if duration <= e.config.Orchestrator.InlineSleepMax.Std() {
		select {
		case <-ctx.Done():
			return false, models.ErrCancelled
		case <-time.After(duration):
		}
		return false, nil
	}

	wake := time.Now().Add(duration)
	run.WakeAt = &wake
	run.Status = models.RunStatusPaused
	e.logger.Info().
		Str("run_id", run.ID).
		Str("wake_at", wake.Format(time.RFC3339)).
		Msg("Run sleeping on timer")
	return true, nil
}

// execCondition picks a branch and executes it in the current frame. On a
// deep resume the branch comes from the cursor, not a re-evaluation, so the
// original decision stands.
func (e *Engine) execCondition(ctx context.Context, run *models.Run, step *models.Step, cursor models.Cursor, deep bool, entry models.Cursor) (bool, error) {
	branch := ""
	if deep {
		branch = entry[len(cursor)].Branch
	} else {
		ok, err := step.If.Evaluate(run.Context)
		if err != nil {
			return false, err
		}
		if ok {
			branch = models.BranchThen
		} else {
			branch = models.BranchElse
		}
	}

	var steps []models.Step
	switch branch {
	case models.BranchThen:
		steps = models.NormalizeSteps(step.Then)
	case models.BranchElse:
		steps = models.NormalizeSteps(step.Else)
	}
	if len(steps) == 0 {
		return false, nil
	}
	return e.runBlock(ctx, run, steps, cursor, branch, entry)
}

// execWorker dispatches a worker job. Fire-and-forget records a reference
// and moves on; awaited polls the job store until terminal. On resume after
// a crash the pending job id re-enters the poll without re-dispatching.
func (e *Engine) execWorker(ctx context.Context, run *models.Run, step *models.Step, resuming bool) error {
	awaited := step.Awaited()

	var jobID string
	if resuming && run.PendingJobID != "" {
		jobID = run.PendingJobID
	} else {
		resolved, err := ResolveInput(step, run.Context)
		if err != nil {
			return err
		}
		job, err := e.dispatcher.Dispatch(ctx, step.Worker, &workers.DispatchOptions{
			Input:     asInputMap(resolved),
			RequestID: run.ID,
			Metadata:  map[string]any{"runId": run.ID, "stepId": step.ID},
		})
		if err != nil {
			return err
		}
		jobID = job.ID

		if !awaited {
			run.Context.RecordStep(step.ID, map[string]any{
				"jobId":  jobID,
				"status": string(models.JobStatusQueued),
			})
			return nil
		}

		run.PendingJobID = jobID
		if err := e.runs.UpdateRun(ctx, run); err != nil {
			return err
		}
	}

	settings := workers.ResolvePoll(step.WorkerPoll, run.Plan.WorkerPoll, &e.config.Workers)
	pollCtx, stop := e.cancelAwareContext(ctx, run)
	job, err := workers.AwaitJob(pollCtx, e.jobs, jobID, settings)
	stop()
	run.PendingJobID = ""
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusFailed {
		if job.Error != nil {
			return models.HandlerError("worker %s: %s", step.Worker, job.Error.Message)
		}
		return models.HandlerError("worker %s failed", step.Worker)
	}
	run.Context.RecordStep(step.ID, job.Output)
	return nil
}

// execWorkflow starts a child run. The child's run id derives from this
// run and step, so starting is idempotent and a crash-retry lands on the
// same child.
func (e *Engine) execWorkflow(ctx context.Context, run *models.Run, step *models.Step, cursor models.Cursor, resuming bool) error {
	awaited := step.Awaited()

	resolved, err := ResolveInput(step, run.Context)
	if err != nil {
		return err
	}
	executionID := run.ID + ":" + stepName(step, cursor)
	childID := RunIDForExecution(executionID)
	req := &StartRequest{
		PlanID:      step.Workflow,
		ExecutionID: executionID,
		Input:       asInputMap(resolved),
		ParentRunID: run.ID,
	}

	if !awaited {
		go func() {
			if _, err := e.Start(context.Background(), req); err != nil {
				e.logger.Warn().Err(err).Str("child_run_id", childID).Msg("Fire-and-forget workflow failed to start")
			}
		}()
		run.Context.RecordStep(step.ID, map[string]any{
			"runId":  childID,
			"status": string(models.RunStatusPending),
		})
		return nil
	}

	if !resuming || run.PendingChildRunID == "" {
		run.PendingChildRunID = childID
		if err := e.runs.UpdateRun(ctx, run); err != nil {
			return err
		}
	}
	if _, err := e.Start(ctx, req); err != nil {
		run.PendingChildRunID = ""
		return err
	}

	settings := workers.ResolvePoll(step.WorkerPoll, run.Plan.WorkerPoll, &e.config.Workers)
	pollCtx, stop := e.cancelAwareContext(ctx, run)
	child, err := e.awaitRun(pollCtx, childID, settings)
	stop()
	run.PendingChildRunID = ""
	if err != nil {
		return err
	}
	if child.Status == models.RunStatusFailed {
		if child.Error != nil {
			return models.HandlerError("workflow %s: %s", step.Workflow, child.Error.Message)
		}
		return models.HandlerError("workflow %s failed", step.Workflow)
	}
	run.Context.RecordStep(step.ID, child.Result())
	return nil
}

// awaitRun polls the run registry until the child run is terminal
func (e *Engine) awaitRun(ctx context.Context, runID string, settings workers.PollSettings) (*models.Run, error) {
	deadline := time.Now().Add(settings.Timeout)
	ticker := time.NewTicker(settings.Interval)
	defer ticker.Stop()

	for attempt := 0; attempt < settings.MaxRetries; attempt++ {
		child, err := e.runs.GetRun(ctx, runID)
		if err != nil && !models.IsNotFound(err) {
			return nil, err
		}
		if child != nil && child.Status.Terminal() {
			return child, nil
		}
		if time.Now().After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return nil, models.ErrCancelled
		case <-ticker.C:
		}
	}
	return nil, models.TimeoutError("run %s did not complete within %s", runID, settings.Timeout)
}

// cancelAwareContext cancels the returned context when a soft cancel is
// requested, so awaited polls stop promptly.
func (e *Engine) cancelAwareContext(ctx context.Context, run *models.Run) (context.Context, func()) {
	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				if e.cancelRequested(run) {
					cancel()
					return
				}
			}
		}
	}()

	return pollCtx, func() {
		close(done)
		cancel()
	}
}
