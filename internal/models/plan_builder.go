package models

import (
	"time"

	"github.com/ternarybob/relay/internal/common"
)

// PlanBuilder assembles a plan fluently for in-process callers. Plans that
// travel over the wire are built as raw data instead.
type PlanBuilder struct {
	plan Plan
}

// NewPlan creates a builder for a plan with an optional id
func NewPlan(id string) *PlanBuilder {
	return &PlanBuilder{plan: Plan{ID: id}}
}

// StepOption mutates a step as it is appended
type StepOption func(*Step)

// WithID sets the step id, making its output addressable from later steps
func WithID(id string) StepOption {
	return func(s *Step) { s.ID = id }
}

// WithAwait overrides the step's await default
func WithAwait(await bool) StepOption {
	return func(s *Step) { s.Await = &await }
}

// WithInputFunc sets a context function computed at execution time
func WithInputFunc(fn ContextFunc) StepOption {
	return func(s *Step) { s.InputFunc = fn }
}

// WithPoll overrides the awaited-worker poll bounds for this step
func WithPoll(intervalMs, timeoutMs, maxRetries int) StepOption {
	return func(s *Step) {
		s.WorkerPoll = &PollConfig{IntervalMs: intervalMs, TimeoutMs: timeoutMs, MaxRetries: maxRetries}
	}
}

func (b *PlanBuilder) append(step Step, opts ...StepOption) *PlanBuilder {
	for _, opt := range opts {
		opt(&step)
	}
	b.plan.Steps = append(b.plan.Steps, step)
	return b
}

// Agent appends an in-process agent step
func (b *PlanBuilder) Agent(path string, input map[string]any, opts ...StepOption) *PlanBuilder {
	return b.append(Step{Type: StepAgent, Agent: path, Input: input}, opts...)
}

// Worker appends a worker dispatch step (fire-and-forget unless WithAwait)
func (b *PlanBuilder) Worker(workerID string, input map[string]any, opts ...StepOption) *PlanBuilder {
	return b.append(Step{Type: StepWorker, Worker: workerID, Input: input}, opts...)
}

// Workflow appends a child-run step (awaited unless WithAwait(false))
func (b *PlanBuilder) Workflow(workflowID string, input map[string]any, opts ...StepOption) *PlanBuilder {
	return b.append(Step{Type: StepWorkflow, Workflow: workflowID, Input: input}, opts...)
}

// Hook appends a pause point resumed by the given token
func (b *PlanBuilder) Hook(token string, opts ...StepOption) *PlanBuilder {
	return b.append(Step{Type: StepHook, Token: token}, opts...)
}

// HookFn appends a pause point whose token is derived at step entry
func (b *PlanBuilder) HookFn(fn TokenFunc, opts ...StepOption) *PlanBuilder {
	return b.append(Step{Type: StepHook, TokenFunc: fn}, opts...)
}

// Sleep appends a timer step
func (b *PlanBuilder) Sleep(d time.Duration, opts ...StepOption) *PlanBuilder {
	return b.append(Step{Type: StepSleep, Duration: common.Duration(d)}, opts...)
}

// Condition appends a conditional block
func (b *PlanBuilder) Condition(cond *Condition, then []Step, els []Step, opts ...StepOption) *PlanBuilder {
	return b.append(Step{Type: StepCondition, If: cond, Then: then, Else: els}, opts...)
}

// Parallel appends a block whose children run concurrently
func (b *PlanBuilder) Parallel(steps ...Step) *PlanBuilder {
	return b.append(Step{Type: StepParallel, Steps: steps})
}

// ContinueOnError makes step failures accumulate instead of failing the run
func (b *PlanBuilder) ContinueOnError() *PlanBuilder {
	b.plan.ContinueOnError = true
	return b
}

// Timeout bounds the run's total wall-clock time
func (b *PlanBuilder) Timeout(d time.Duration) *PlanBuilder {
	b.plan.Timeout = common.Duration(d)
	return b
}

// HookTimeout bounds how long any hook in the plan waits for its signal
func (b *PlanBuilder) HookTimeout(d time.Duration) *PlanBuilder {
	b.plan.HookTimeout = common.Duration(d)
	return b
}

// WorkerPoll sets plan-level awaited-job polling bounds
func (b *PlanBuilder) WorkerPoll(intervalMs, timeoutMs, maxRetries int) *PlanBuilder {
	b.plan.WorkerPoll = &PollConfig{IntervalMs: intervalMs, TimeoutMs: timeoutMs, MaxRetries: maxRetries}
	return b
}

// AgentStep builds a standalone agent step for condition/parallel blocks
func AgentStep(path string, input map[string]any, opts ...StepOption) Step {
	step := Step{Type: StepAgent, Agent: path, Input: input}
	for _, opt := range opts {
		opt(&step)
	}
	return step
}

// WorkerStep builds a standalone worker step for condition/parallel blocks
func WorkerStep(workerID string, input map[string]any, opts ...StepOption) Step {
	step := Step{Type: StepWorker, Worker: workerID, Input: input}
	for _, opt := range opts {
		opt(&step)
	}
	return step
}

// Build validates and returns the plan
func (b *PlanBuilder) Build() (*Plan, error) {
	plan := b.plan
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}
