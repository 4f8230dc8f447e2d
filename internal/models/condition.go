package models

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/ternarybob/relay/internal/common"
)

// PredicateOp is the comparison applied by a serialisable step predicate
type PredicateOp string

// Predicate operators
const (
	OpEq        PredicateOp = "eq"
	OpNeq       PredicateOp = "neq"
	OpTruthy    PredicateOp = "truthy"
	OpFalsy     PredicateOp = "falsy"
	OpExists    PredicateOp = "exists"
	OpNotExists PredicateOp = "notExists"
)

// ConditionFunc evaluates a condition against the run context. Closures are
// only valid for in-process plans.
type ConditionFunc func(ctx *Context) bool

// StepPredicate is the serialisable condition form: look up a prior step's
// output, apply a dot path, and compare.
type StepPredicate struct {
	StepID string      `json:"stepId"`
	Path   string      `json:"path,omitempty"`
	Op     PredicateOp `json:"op"`
	Value  any         `json:"value,omitempty"`
}

// Evaluate applies the predicate against the context
func (p *StepPredicate) Evaluate(ctx *Context) (bool, error) {
	output, stepFound := ctx.StepOutput(p.StepID)
	var value any
	pathFound := false
	if stepFound {
		value, pathFound = common.GetAtPath(output, p.Path)
	}

	switch p.Op {
	case OpExists:
		return stepFound && pathFound, nil
	case OpNotExists:
		return !stepFound || !pathFound, nil
	case OpTruthy:
		return pathFound && common.Truthy(value), nil
	case OpFalsy:
		return !pathFound || !common.Truthy(value), nil
	case OpEq:
		return pathFound && looseEqual(value, p.Value), nil
	case OpNeq:
		return !pathFound || !looseEqual(value, p.Value), nil
	default:
		return false, ValidationError("unknown predicate op %q", p.Op)
	}
}

// looseEqual compares decoded JSON values. Numbers compare by value so that
// int-typed literals from builders match float64-decoded wire values.
func looseEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Condition is one of: a boolean literal, an in-process closure, or a
// serialisable step predicate. Exactly one field is set.
type Condition struct {
	Literal *bool
	Func    ConditionFunc
	When    *StepPredicate
}

// ConditionLiteral builds a literal condition
func ConditionLiteral(value bool) *Condition {
	return &Condition{Literal: &value}
}

// ConditionFn builds a closure condition for in-process plans
func ConditionFn(fn ConditionFunc) *Condition {
	return &Condition{Func: fn}
}

// WhenStep builds the serialisable predicate form
func WhenStep(stepID, path string, op PredicateOp, value any) *Condition {
	return &Condition{When: &StepPredicate{StepID: stepID, Path: path, Op: op, Value: value}}
}

// Evaluate resolves the condition against the run context
func (c *Condition) Evaluate(ctx *Context) (bool, error) {
	switch {
	case c.Literal != nil:
		return *c.Literal, nil
	case c.Func != nil:
		return c.Func(ctx), nil
	case c.When != nil:
		return c.When.Evaluate(ctx)
	default:
		return false, ValidationError("condition has no clause")
	}
}

// MarshalJSON emits the literal or predicate form. Closure conditions are
// not serialisable and marshal as an error.
func (c *Condition) MarshalJSON() ([]byte, error) {
	switch {
	case c.Literal != nil:
		return json.Marshal(*c.Literal)
	case c.When != nil:
		return json.Marshal(c.When)
	case c.Func != nil:
		return nil, fmt.Errorf("closure conditions cannot be serialised; use the stepId predicate form")
	default:
		return json.Marshal(false)
	}
}

// UnmarshalJSON accepts a boolean literal or a step predicate object
func (c *Condition) UnmarshalJSON(data []byte) error {
	var literal bool
	if err := json.Unmarshal(data, &literal); err == nil {
		c.Literal = &literal
		return nil
	}

	var when StepPredicate
	if err := json.Unmarshal(data, &when); err != nil {
		return ValidationError("invalid condition: %v", err)
	}
	if when.StepID == "" || when.Op == "" {
		return ValidationError("condition predicate requires stepId and op")
	}
	c.When = &when
	return nil
}
