package models

// StepError records a step failure collected under continueOnError
type StepError struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// Context is the per-run accumulative map available to later steps. It is
// persisted inside the Run record and mutated only while the run's mutex is
// held, so reads and writes are serialised per run.
type Context struct {
	Input    map[string]any `json:"input"`
	Steps    map[string]any `json:"steps"`
	Previous any            `json:"previous,omitempty"`
	All      []any          `json:"all"`
	Errors   []StepError    `json:"errors,omitempty"`
}

// NewContext creates a context seeded with the run's start input
func NewContext(input map[string]any) *Context {
	if input == nil {
		input = make(map[string]any)
	}
	return &Context{
		Input: input,
		Steps: make(map[string]any),
		All:   []any{},
	}
}

// RecordStep stores a completed step's output: steps[id] when the step has
// an id, always appended to all, and previous always tracks the last append.
func (c *Context) RecordStep(id string, output any) {
	if c.Steps == nil {
		c.Steps = make(map[string]any)
	}
	if id != "" {
		c.Steps[id] = output
	}
	c.All = append(c.All, output)
	c.Previous = output
}

// RecordError appends a step failure for continueOnError plans
func (c *Context) RecordError(step string, err error) {
	c.Errors = append(c.Errors, StepError{Step: step, Error: err.Error()})
}

// StepOutput returns the recorded output for a step id
func (c *Context) StepOutput(id string) (any, bool) {
	output, ok := c.Steps[id]
	return output, ok
}
