package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// conditionContext builds a context with one recorded step output
func conditionContext(stepID string, output any) *Context {
	ctx := NewContext(nil)
	ctx.RecordStep(stepID, output)
	return ctx
}

func TestConditionEvaluate_Literal(t *testing.T) {
	ctx := NewContext(nil)

	ok, err := ConditionLiteral(true).Evaluate(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ConditionLiteral(false).Evaluate(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConditionEvaluate_Func(t *testing.T) {
	ctx := conditionContext("check", map[string]any{"score": float64(8)})

	cond := ConditionFn(func(c *Context) bool {
		output, _ := c.StepOutput("check")
		score := output.(map[string]any)["score"].(float64)
		return score > 5
	})

	ok, err := cond.Evaluate(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConditionEvaluate_Empty(t *testing.T) {
	cond := &Condition{}
	_, err := cond.Evaluate(NewContext(nil))
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestStepPredicate_Eq(t *testing.T) {
	ctx := conditionContext("check", map[string]any{"kind": "invoice"})

	ok, err := WhenStep("check", "kind", OpEq, "invoice").Evaluate(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = WhenStep("check", "kind", OpEq, "receipt").Evaluate(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStepPredicate_EqNumericCoercion(t *testing.T) {
	// Wire values decode as float64; builder literals are int
	ctx := conditionContext("check", map[string]any{"count": float64(3)})

	ok, err := WhenStep("check", "count", OpEq, 3).Evaluate(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStepPredicate_Neq(t *testing.T) {
	ctx := conditionContext("check", map[string]any{"kind": "invoice"})

	ok, err := WhenStep("check", "kind", OpNeq, "receipt").Evaluate(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// A missing path is "not equal" to anything
	ok, err = WhenStep("check", "missing", OpNeq, "receipt").Evaluate(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStepPredicate_Truthy(t *testing.T) {
	ctx := conditionContext("check", map[string]any{
		"yes":   "text",
		"no":    "",
		"zero":  float64(0),
		"items": []any{1},
	})

	cases := map[string]bool{
		"yes":     true,
		"no":      false,
		"zero":    false,
		"items":   true,
		"missing": false,
	}
	for path, expected := range cases {
		ok, err := WhenStep("check", path, OpTruthy, nil).Evaluate(ctx)
		require.NoError(t, err)
		assert.Equal(t, expected, ok, "path %q", path)
	}
}

func TestStepPredicate_Falsy(t *testing.T) {
	ctx := conditionContext("check", map[string]any{"flag": false})

	ok, err := WhenStep("check", "flag", OpFalsy, nil).Evaluate(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = WhenStep("check", "missing", OpFalsy, nil).Evaluate(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStepPredicate_Exists(t *testing.T) {
	ctx := conditionContext("check", map[string]any{"nested": map[string]any{"deep": nil}})

	ok, err := WhenStep("check", "nested.deep", OpExists, nil).Evaluate(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = WhenStep("check", "nested.other", OpExists, nil).Evaluate(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = WhenStep("unknown", "", OpExists, nil).Evaluate(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStepPredicate_NotExists(t *testing.T) {
	ctx := conditionContext("check", map[string]any{"present": 1})

	ok, err := WhenStep("check", "present", OpNotExists, nil).Evaluate(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = WhenStep("check", "absent", OpNotExists, nil).Evaluate(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStepPredicate_UnknownOp(t *testing.T) {
	ctx := conditionContext("check", map[string]any{})
	_, err := WhenStep("check", "", PredicateOp("like"), nil).Evaluate(ctx)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestConditionJSON_BoolLiteral(t *testing.T) {
	var cond Condition
	require.NoError(t, json.Unmarshal([]byte(`true`), &cond))
	require.NotNil(t, cond.Literal)
	assert.True(t, *cond.Literal)

	data, err := json.Marshal(&cond)
	require.NoError(t, err)
	assert.Equal(t, `true`, string(data))
}

func TestConditionJSON_Predicate(t *testing.T) {
	raw := `{"stepId":"check","path":"score","op":"eq","value":7}`
	var cond Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &cond))
	require.NotNil(t, cond.When)
	assert.Equal(t, "check", cond.When.StepID)
	assert.Equal(t, OpEq, cond.When.Op)
}

func TestConditionJSON_PredicateMissingOp(t *testing.T) {
	var cond Condition
	err := json.Unmarshal([]byte(`{"stepId":"check"}`), &cond)
	require.Error(t, err)
}

func TestConditionJSON_ClosureNotSerialisable(t *testing.T) {
	cond := ConditionFn(func(*Context) bool { return true })
	_, err := json.Marshal(cond)
	require.Error(t, err)
}
