package models

import (
	"encoding/json"
	"fmt"

	"github.com/ternarybob/relay/internal/common"
)

// StepType discriminates the plan step variants
type StepType string

// Step type constants
const (
	StepAgent        StepType = "agent"
	StepHook         StepType = "hook"
	StepSleep        StepType = "sleep"
	StepCondition    StepType = "condition"
	StepParallel     StepType = "parallel"
	StepWorker       StepType = "worker"
	StepWorkflow     StepType = "workflow"
	StepStatusUpdate StepType = "_statusUpdate"
)

// IsValidStepType checks if a given StepType is one of the known variants
func IsValidStepType(t StepType) bool {
	switch t {
	case StepAgent, StepHook, StepSleep, StepCondition, StepParallel,
		StepWorker, StepWorkflow, StepStatusUpdate:
		return true
	default:
		return false
	}
}

// ContextFunc computes a value from the run context at step execution time.
// Closure-valued fields are only valid for in-process plans; plans that
// cross a process boundary must use the serialisable templating form.
type ContextFunc func(ctx *Context) any

// TokenFunc derives a hook token from the run context at step entry
type TokenFunc func(ctx *Context) string

// PollConfig bounds how awaited worker jobs are polled. Step-level config
// overrides plan-level, which overrides the runtime defaults.
type PollConfig struct {
	IntervalMs int `json:"intervalMs,omitempty"`
	TimeoutMs  int `json:"timeoutMs,omitempty"`
	MaxRetries int `json:"maxRetries,omitempty"`
}

// Step is a tagged variant: exactly one of the kind-specific field groups is
// populated, discriminated by Type. On the JSON wire the type tag may be
// omitted and is inferred from which field is present.
type Step struct {
	Type StepType `json:"type,omitempty"`
	ID   string   `json:"id,omitempty"`

	// agent: in-process synchronous callee resolved by path
	Agent string `json:"agent,omitempty"`

	// worker: out-of-process callee dispatched over a queue
	Worker     string      `json:"worker,omitempty"`
	WorkerPoll *PollConfig `json:"workerPoll,omitempty"`

	// workflow: child run of a named or inline plan
	Workflow string `json:"workflow,omitempty"`

	// Await: agent and workflow steps default to awaited, worker steps to
	// fire-and-forget. nil means "use the kind's default".
	Await *bool `json:"await,omitempty"`

	// Input: a literal map, a templating map (_fromSteps/_path/_join), or,
	// for in-process plans only, InputFunc.
	Input     map[string]any `json:"input,omitempty"`
	InputFunc ContextFunc    `json:"-"`

	// hook: pause until an external signal arrives for the token
	Token     string    `json:"token,omitempty"`
	TokenFunc TokenFunc `json:"-"`

	// sleep
	Duration common.Duration `json:"duration,omitempty"`

	// condition
	If   *Condition `json:"if,omitempty"`
	Then []Step     `json:"then,omitempty"`
	Else []Step     `json:"else,omitempty"`

	// parallel
	Steps []Step `json:"steps,omitempty"`

	// _statusUpdate (internal, injected by the normaliser)
	Status    RunStatus `json:"status,omitempty"`
	HookToken string    `json:"hookToken,omitempty"`
}

// Awaited reports whether the step blocks on its callee's result
func (s *Step) Awaited() bool {
	if s.Await != nil {
		return *s.Await
	}
	switch s.Type {
	case StepWorker:
		return false
	default:
		return true
	}
}

// stepAlias avoids recursing into UnmarshalJSON
type stepAlias Step

// UnmarshalJSON decodes a step and infers the type tag when absent
func (s *Step) UnmarshalJSON(data []byte) error {
	var alias stepAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*s = Step(alias)

	if s.Type != "" {
		return nil
	}
	switch {
	case s.Agent != "":
		s.Type = StepAgent
	case s.Worker != "":
		s.Type = StepWorker
	case s.Workflow != "":
		s.Type = StepWorkflow
	case s.Token != "":
		s.Type = StepHook
	case s.If != nil:
		s.Type = StepCondition
	case len(s.Steps) > 0:
		s.Type = StepParallel
	case s.Duration != 0:
		s.Type = StepSleep
	case s.Status != "":
		s.Type = StepStatusUpdate
	default:
		return fmt.Errorf("cannot infer step type: %s", string(data))
	}
	return nil
}

// Plan is the immutable, serialisable description of a run: an ordered
// sequence of steps plus run-wide policies.
type Plan struct {
	ID              string          `json:"id,omitempty"`
	Steps           []Step          `json:"steps"`
	HookTimeout     common.Duration `json:"hookTimeout,omitempty"`
	ContinueOnError bool            `json:"continueOnError,omitempty"`
	Timeout         common.Duration `json:"timeout,omitempty"`
	WorkerPoll      *PollConfig     `json:"workerPoll,omitempty"`
}

// Validate checks the plan: at least one step, known step types, required
// per-kind fields, and step ids unique across the whole plan tree.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return ValidationError("plan must have at least one step")
	}
	seen := make(map[string]bool)
	return validateSteps(p.Steps, seen, false)
}

func validateSteps(steps []Step, seen map[string]bool, inParallel bool) error {
	for i := range steps {
		step := &steps[i]
		if !IsValidStepType(step.Type) {
			return ValidationError("step %d: unknown step type %q", i, step.Type)
		}
		if step.ID != "" {
			if seen[step.ID] {
				return ValidationError("duplicate step id %q", step.ID)
			}
			seen[step.ID] = true
		}

		switch step.Type {
		case StepAgent:
			if step.Agent == "" {
				return ValidationError("step %d: agent path is required", i)
			}
		case StepWorker:
			if step.Worker == "" {
				return ValidationError("step %d: worker id is required", i)
			}
		case StepWorkflow:
			if step.Workflow == "" {
				return ValidationError("step %d: workflow id is required", i)
			}
		case StepHook:
			if step.Token == "" && step.TokenFunc == nil {
				return ValidationError("step %d: hook token is required", i)
			}
			if inParallel {
				return ValidationError("step %d: hook steps are not supported inside parallel blocks", i)
			}
		case StepSleep:
			if step.Duration <= 0 {
				return ValidationError("step %d: sleep duration must be positive", i)
			}
		case StepCondition:
			if step.If == nil {
				return ValidationError("step %d: condition requires an if clause", i)
			}
			if len(step.Then) == 0 {
				return ValidationError("step %d: condition requires a then branch", i)
			}
			if err := validateSteps(step.Then, seen, inParallel); err != nil {
				return err
			}
			if err := validateSteps(step.Else, seen, inParallel); err != nil {
				return err
			}
		case StepParallel:
			if len(step.Steps) == 0 {
				return ValidationError("step %d: parallel requires at least one child step", i)
			}
			if err := validateSteps(step.Steps, seen, true); err != nil {
				return err
			}
		case StepStatusUpdate:
			if step.Status != RunStatusPaused && step.Status != RunStatusRunning {
				return ValidationError("step %d: status update must be paused or running", i)
			}
		}
	}
	return nil
}

// Normalize returns a copy of the plan with _statusUpdate steps injected
// around every top-level hook and sleep: paused before, running after. The
// pass is idempotent (steps already surrounded are left alone) and does
// not recurse; inner blocks are normalised by the interpreter on entry.
func (p *Plan) Normalize() *Plan {
	normalized := *p
	normalized.Steps = NormalizeSteps(p.Steps)
	return &normalized
}

// NormalizeSteps injects _statusUpdate pairs around hook and sleep steps
func NormalizeSteps(steps []Step) []Step {
	out := make([]Step, 0, len(steps))
	for i := range steps {
		step := steps[i]
		if step.Type != StepHook && step.Type != StepSleep {
			out = append(out, step)
			continue
		}

		if len(out) == 0 || out[len(out)-1].Type != StepStatusUpdate {
			pause := Step{Type: StepStatusUpdate, Status: RunStatusPaused}
			if step.Type == StepHook {
				pause.HookToken = step.Token
			}
			out = append(out, pause)
		}
		out = append(out, step)
		if i+1 >= len(steps) || steps[i+1].Type != StepStatusUpdate {
			out = append(out, Step{Type: StepStatusUpdate, Status: RunStatusRunning})
		}
	}
	return out
}

// StepAt navigates the plan tree along a cursor and returns the addressed
// step. Branch segments descend into condition branches.
func (p *Plan) StepAt(cursor Cursor) (*Step, error) {
	steps := p.Steps
	var step *Step
	for depth, seg := range cursor {
		if depth > 0 {
			if step == nil {
				return nil, fmt.Errorf("invalid cursor %v: no parent step", cursor)
			}
			switch seg.Branch {
			case BranchThen:
				steps = NormalizeSteps(step.Then)
			case BranchElse:
				steps = NormalizeSteps(step.Else)
			default:
				return nil, fmt.Errorf("invalid cursor %v: unknown branch %q", cursor, seg.Branch)
			}
		}
		if seg.Index < 0 || seg.Index >= len(steps) {
			return nil, fmt.Errorf("invalid cursor %v: index out of range", cursor)
		}
		step = &steps[seg.Index]
	}
	if step == nil {
		return nil, fmt.Errorf("empty cursor")
	}
	return step, nil
}

// ToJSON serialises the plan for transport or storage
func (p *Plan) ToJSON() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plan: %w", err)
	}
	return data, nil
}

// PlanFromJSON deserialises a plan. Closure-valued fields cannot travel as
// JSON, so anything decoded here is guaranteed serialisable.
func PlanFromJSON(data []byte) (*Plan, error) {
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, ValidationError("failed to unmarshal plan: %v", err)
	}
	return &plan, nil
}
