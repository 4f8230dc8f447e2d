package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/workers"
)

// parallelWrite is a deferred context write produced by a parallel child.
// Writes are buffered during the fan-out and applied after the join, in
// child index order, so context.previous is deterministic.
type parallelWrite struct {
	id     string
	output any
}

// blockResult accumulates a child's deferred writes, plus collected errors
// and nil-output step ids under continueOnError.
type blockResult struct {
	writes []parallelWrite
	errs   []models.StepError
	nilIDs []string
}

func (b *blockResult) merge(other blockResult) {
	b.writes = append(b.writes, other.writes...)
	b.errs = append(b.errs, other.errs...)
	b.nilIDs = append(b.nilIDs, other.nilIDs...)
}

// execParallel fans a block's children out concurrently and joins them.
// Fail-fast by default: the first failure cancels pending children and
// propagates. Under continueOnError every child settles; failures land in
// context.errors and context.previous is the last successful child by
// index.
func (e *Engine) execParallel(ctx context.Context, run *models.Run, step *models.Step) error {
	result, err := e.fanOut(ctx, run, step.Steps)

	for _, write := range result.writes {
		run.Context.RecordStep(write.id, write.output)
	}
	for _, id := range result.nilIDs {
		run.Context.Steps[id] = nil
	}
	run.Context.Errors = append(run.Context.Errors, result.errs...)

	return err
}

// fanOut runs steps concurrently and merges their results in index order
func (e *Engine) fanOut(ctx context.Context, run *models.Run, steps []models.Step) (blockResult, error) {
	type childOutcome struct {
		result blockResult
		err    error
	}

	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make([]childOutcome, len(steps))
	var wg sync.WaitGroup
	for i := range steps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := e.execChildSeq(fanCtx, run, &steps[i])
			outcomes[i] = childOutcome{result: result, err: err}
			if err != nil && !run.Plan.ContinueOnError {
				cancel()
			}
		}(i)
	}
	wg.Wait()

	var merged blockResult
	var firstErr error
	for i := range outcomes {
		outcome := outcomes[i]
		if outcome.err != nil {
			if run.Plan.ContinueOnError {
				merged.errs = append(merged.errs, models.StepError{
					Step:  stepName(&steps[i], nil),
					Error: outcome.err.Error(),
				})
				if steps[i].ID != "" {
					merged.nilIDs = append(merged.nilIDs, steps[i].ID)
				}
				continue
			}
			if firstErr == nil {
				firstErr = outcome.err
			}
			continue
		}
		merged.merge(outcome.result)
	}
	return merged, firstErr
}

// execChildSeq executes one step inside a parallel block, buffering its
// context writes. Hooks are rejected at validation, so nothing here can
// suspend; long sleeps run inline for the block's duration.
func (e *Engine) execChildSeq(ctx context.Context, run *models.Run, step *models.Step) (blockResult, error) {
	var result blockResult

	switch step.Type {
	case models.StepAgent:
		resolved, err := ResolveInput(step, run.Context)
		if err != nil {
			return result, err
		}
		output, err := e.router.Invoke(ctx, step.Agent, asInputMap(resolved), run.ID)
		if err != nil {
			return result, err
		}
		result.writes = append(result.writes, parallelWrite{id: step.ID, output: output})
		return result, nil

	case models.StepWorker:
		return e.execChildWorker(ctx, run, step)

	case models.StepWorkflow:
		return e.execChildWorkflow(ctx, run, step)

	case models.StepSleep:
		select {
		case <-ctx.Done():
			return result, models.ErrCancelled
		case <-time.After(step.Duration.Std()):
		}
		return result, nil

	case models.StepCondition:
		ok, err := step.If.Evaluate(run.Context)
		if err != nil {
			return result, err
		}
		branch := step.Else
		if ok {
			branch = step.Then
		}
		return e.execBranchSeq(ctx, run, branch)

	case models.StepParallel:
		return e.fanOut(ctx, run, step.Steps)

	case models.StepStatusUpdate:
		return result, nil

	default:
		return result, models.ValidationError("step type %q is not supported inside parallel blocks", step.Type)
	}
}

// execBranchSeq runs a condition branch sequentially inside a parallel child
func (e *Engine) execBranchSeq(ctx context.Context, run *models.Run, steps []models.Step) (blockResult, error) {
	var merged blockResult
	for i := range steps {
		result, err := e.execChildSeq(ctx, run, &steps[i])
		if err != nil {
			if run.Plan.ContinueOnError {
				merged.errs = append(merged.errs, models.StepError{
					Step:  stepName(&steps[i], nil),
					Error: err.Error(),
				})
				if steps[i].ID != "" {
					merged.nilIDs = append(merged.nilIDs, steps[i].ID)
				}
				continue
			}
			return merged, err
		}
		merged.merge(result)
	}
	return merged, nil
}

func (e *Engine) execChildWorker(ctx context.Context, run *models.Run, step *models.Step) (blockResult, error) {
	var result blockResult

	resolved, err := ResolveInput(step, run.Context)
	if err != nil {
		return result, err
	}
	job, err := e.dispatcher.Dispatch(ctx, step.Worker, &workers.DispatchOptions{
		Input:     asInputMap(resolved),
		RequestID: run.ID,
		Metadata:  map[string]any{"runId": run.ID, "stepId": step.ID},
	})
	if err != nil {
		return result, err
	}

	if !step.Awaited() {
		result.writes = append(result.writes, parallelWrite{id: step.ID, output: map[string]any{
			"jobId":  job.ID,
			"status": string(models.JobStatusQueued),
		}})
		return result, nil
	}

	settings := workers.ResolvePoll(step.WorkerPoll, run.Plan.WorkerPoll, &e.config.Workers)
	done, err := workers.AwaitJob(ctx, e.jobs, job.ID, settings)
	if err != nil {
		return result, err
	}
	if done.Status == models.JobStatusFailed {
		if done.Error != nil {
			return result, models.HandlerError("worker %s: %s", step.Worker, done.Error.Message)
		}
		return result, models.HandlerError("worker %s failed", step.Worker)
	}
	result.writes = append(result.writes, parallelWrite{id: step.ID, output: done.Output})
	return result, nil
}

func (e *Engine) execChildWorkflow(ctx context.Context, run *models.Run, step *models.Step) (blockResult, error) {
	var result blockResult

	resolved, err := ResolveInput(step, run.Context)
	if err != nil {
		return result, err
	}
	executionID := run.ID + ":parallel:" + stepName(step, nil)
	childID := RunIDForExecution(executionID)
	req := &StartRequest{
		PlanID:      step.Workflow,
		ExecutionID: executionID,
		Input:       asInputMap(resolved),
		ParentRunID: run.ID,
	}

	if !step.Awaited() {
		go func() {
			if _, err := e.Start(context.Background(), req); err != nil {
				e.logger.Warn().Err(err).Str("child_run_id", childID).Msg("Fire-and-forget workflow failed to start")
			}
		}()
		result.writes = append(result.writes, parallelWrite{id: step.ID, output: map[string]any{
			"runId":  childID,
			"status": string(models.RunStatusPending),
		}})
		return result, nil
	}

	if _, err := e.Start(ctx, req); err != nil {
		return result, err
	}
	settings := workers.ResolvePoll(step.WorkerPoll, run.Plan.WorkerPoll, &e.config.Workers)
	child, err := e.awaitRun(ctx, childID, settings)
	if err != nil {
		return result, err
	}
	if child.Status == models.RunStatusFailed {
		if child.Error != nil {
			return result, models.HandlerError("workflow %s: %s", step.Workflow, child.Error.Message)
		}
		return result, models.HandlerError("workflow %s failed", step.Workflow)
	}
	result.writes = append(result.writes, parallelWrite{id: step.ID, output: child.Result()})
	return result, nil
}
