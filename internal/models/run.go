package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a run
type RunStatus string

// Run status constants
const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final. Terminal runs never move
// back to a non-terminal status.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Branch names for cursor segments descending into condition branches
const (
	BranchThen = "then"
	BranchElse = "else"
)

// CursorSeg addresses one level of the plan tree: Index is the position in
// the current block, Branch says which sub-block of the previous segment's
// step this block is (empty at the top level).
type CursorSeg struct {
	Index  int    `json:"index"`
	Branch string `json:"branch,omitempty"`
}

// Cursor addresses the step the interpreter is on. An empty cursor means
// execution has not started.
type Cursor []CursorSeg

// Top returns the top-level step index the cursor is under
func (c Cursor) Top() int {
	if len(c) == 0 {
		return 0
	}
	return c[0].Index
}

// Clone copies the cursor
func (c Cursor) Clone() Cursor {
	out := make(Cursor, len(c))
	copy(out, c)
	return out
}

// RunError records why a run failed
type RunError struct {
	Step    string `json:"step,omitempty"`
	Index   int    `json:"index"`
	Message string `json:"message"`
}

func (e *RunError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("step %q (index %d): %s", e.Step, e.Index, e.Message)
	}
	return fmt.Sprintf("step index %d: %s", e.Index, e.Message)
}

// Run is one execution of a plan. The record carries everything needed to
// resume interpretation in a fresh request handler: the normalised plan,
// the accumulated context, and the cursor of the step in flight.
type Run struct {
	ID     string    `json:"id" badgerhold:"key"`
	PlanID string    `json:"planId,omitempty"`
	Plan   *Plan     `json:"plan"`
	Status RunStatus `json:"status"`

	Cursor     Cursor   `json:"cursor,omitempty"`
	Context    *Context `json:"context"`
	HookTokens map[string]string `json:"hookTokens,omitempty"` // stepID -> caller-supplied token

	// Suspension state. A paused run has exactly one of WaitingHookToken or
	// WakeAt set.
	WaitingHookToken   string     `json:"waitingHookToken,omitempty"`
	ConsumedHookTokens []string   `json:"consumedHookTokens,omitempty"`
	WakeAt             *time.Time `json:"wakeAt,omitempty"`
	HookDeadline       *time.Time `json:"hookDeadline,omitempty"`
	Deadline           *time.Time `json:"deadline,omitempty"` // plan-level timeout

	// SkipCursor marks the step at the cursor as externally satisfied
	// (signal or timer); the interpreter continues after it on re-entry.
	SkipCursor bool `json:"skipCursor,omitempty"`

	// Dispatched-but-unfinished awaited callees, for crash-safe re-entry
	PendingJobID      string `json:"pendingJobId,omitempty"`
	PendingChildRunID string `json:"pendingChildRunId,omitempty"`

	CancelRequested bool   `json:"cancelRequested,omitempty"`
	ParentRunID     string `json:"parentRunId,omitempty"`

	Error *RunError `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// NewRun creates a pending run for a normalised plan
func NewRun(id string, plan *Plan, input map[string]any, hookTokens map[string]string) *Run {
	now := time.Now()
	run := &Run{
		ID:         id,
		PlanID:     plan.ID,
		Plan:       plan,
		Status:     RunStatusPending,
		Context:    NewContext(input),
		HookTokens: hookTokens,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if plan.Timeout > 0 {
		deadline := now.Add(plan.Timeout.Std())
		run.Deadline = &deadline
	}
	return run
}

// CurrentStep returns the top-level index of the step in flight
func (r *Run) CurrentStep() int {
	return r.Cursor.Top()
}

// Result returns the run's final output: the last completed step's output
func (r *Run) Result() any {
	if r.Context == nil {
		return nil
	}
	return r.Context.Previous
}

// MarkCompleted transitions the run to its terminal success state
func (r *Run) MarkCompleted() {
	now := time.Now()
	r.Status = RunStatusCompleted
	r.WaitingHookToken = ""
	r.WakeAt = nil
	r.UpdatedAt = now
	r.CompletedAt = &now
}

// MarkFailed transitions the run to its terminal failure state
func (r *Run) MarkFailed(stepID string, index int, err error) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.WaitingHookToken = ""
	r.WakeAt = nil
	r.Error = &RunError{Step: stepID, Index: index, Message: err.Error()}
	r.UpdatedAt = now
	r.CompletedAt = &now
}

// ToJSON serialises the run for storage backends that persist documents
func (r *Run) ToJSON() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run: %w", err)
	}
	return data, nil
}

// RunFromJSON deserialises a stored run
func RunFromJSON(data []byte) (*Run, error) {
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}
