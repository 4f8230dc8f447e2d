package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/relay/internal/common"
)

func TestPlanValidate_Empty(t *testing.T) {
	plan := &Plan{}
	err := plan.Validate()
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestPlanValidate_AgentRequiresPath(t *testing.T) {
	plan := &Plan{Steps: []Step{{Type: StepAgent}}}
	err := plan.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent path")
}

func TestPlanValidate_DuplicateStepID(t *testing.T) {
	plan := &Plan{Steps: []Step{
		{Type: StepAgent, ID: "a", Agent: "echo"},
		{Type: StepAgent, ID: "a", Agent: "echo"},
	}}
	err := plan.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")
}

func TestPlanValidate_DuplicateIDAcrossBranches(t *testing.T) {
	plan := &Plan{Steps: []Step{
		{Type: StepAgent, ID: "a", Agent: "echo"},
		{
			Type: StepCondition,
			If:   ConditionLiteral(true),
			Then: []Step{{Type: StepAgent, ID: "a", Agent: "echo"}},
		},
	}}
	err := plan.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")
}

func TestPlanValidate_HookInsideParallel(t *testing.T) {
	plan := &Plan{Steps: []Step{
		{Type: StepParallel, Steps: []Step{
			{Type: StepHook, Token: "tok"},
		}},
	}}
	err := plan.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallel")
}

func TestPlanValidate_SleepRequiresPositiveDuration(t *testing.T) {
	plan := &Plan{Steps: []Step{{Type: StepSleep}}}
	err := plan.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duration")
}

func TestPlanValidate_ConditionRequiresThen(t *testing.T) {
	plan := &Plan{Steps: []Step{
		{Type: StepCondition, If: ConditionLiteral(true)},
	}}
	err := plan.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "then")
}

func TestPlanValidate_Valid(t *testing.T) {
	plan, err := NewPlan("test").
		Agent("echo", map[string]any{"text": "hi"}, WithID("first")).
		Hook("tok-1", WithID("approval")).
		Worker("mailer", nil, WithID("send")).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "test", plan.ID)
	assert.Len(t, plan.Steps, 3)
}

func TestNormalizeSteps_SurroundsHook(t *testing.T) {
	steps := NormalizeSteps([]Step{
		{Type: StepAgent, Agent: "echo"},
		{Type: StepHook, Token: "tok"},
		{Type: StepAgent, Agent: "echo"},
	})

	require.Len(t, steps, 5)
	assert.Equal(t, StepAgent, steps[0].Type)
	assert.Equal(t, StepStatusUpdate, steps[1].Type)
	assert.Equal(t, RunStatusPaused, steps[1].Status)
	assert.Equal(t, "tok", steps[1].HookToken)
	assert.Equal(t, StepHook, steps[2].Type)
	assert.Equal(t, StepStatusUpdate, steps[3].Type)
	assert.Equal(t, RunStatusRunning, steps[3].Status)
	assert.Equal(t, StepAgent, steps[4].Type)
}

func TestNormalizeSteps_Idempotent(t *testing.T) {
	once := NormalizeSteps([]Step{
		{Type: StepSleep, Duration: common.Duration(time.Minute)},
	})
	twice := NormalizeSteps(once)
	assert.Equal(t, once, twice)
}

func TestNormalizeSteps_AdjacentHooksShareMarker(t *testing.T) {
	steps := NormalizeSteps([]Step{
		{Type: StepHook, Token: "a"},
		{Type: StepHook, Token: "b"},
	})

	// The running marker after hook a doubles as the marker before hook b,
	// so only one paused marker is injected.
	var hooks, pauses int
	for _, step := range steps {
		if step.Type == StepHook {
			hooks++
		}
		if step.Type == StepStatusUpdate && step.Status == RunStatusPaused {
			pauses++
		}
	}
	assert.Equal(t, 2, hooks)
	assert.Equal(t, 1, pauses)
}

func TestStepUnmarshal_InfersAgent(t *testing.T) {
	var step Step
	require.NoError(t, json.Unmarshal([]byte(`{"agent":"summarize","id":"s1"}`), &step))
	assert.Equal(t, StepAgent, step.Type)
	assert.Equal(t, "summarize", step.Agent)
}

func TestStepUnmarshal_InfersWorker(t *testing.T) {
	var step Step
	require.NoError(t, json.Unmarshal([]byte(`{"worker":"mailer"}`), &step))
	assert.Equal(t, StepWorker, step.Type)
}

func TestStepUnmarshal_InfersHook(t *testing.T) {
	var step Step
	require.NoError(t, json.Unmarshal([]byte(`{"token":"tok-99"}`), &step))
	assert.Equal(t, StepHook, step.Type)
}

func TestStepUnmarshal_InfersSleepFromDuration(t *testing.T) {
	var step Step
	require.NoError(t, json.Unmarshal([]byte(`{"duration":"5m"}`), &step))
	assert.Equal(t, StepSleep, step.Type)
	assert.Equal(t, 5*time.Minute, step.Duration.Std())
}

func TestStepUnmarshal_InfersCondition(t *testing.T) {
	var step Step
	raw := `{"if":{"stepId":"check","op":"truthy"},"then":[{"agent":"echo"}]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &step))
	assert.Equal(t, StepCondition, step.Type)
	require.Len(t, step.Then, 1)
	assert.Equal(t, StepAgent, step.Then[0].Type)
}

func TestStepUnmarshal_ExplicitTypeWins(t *testing.T) {
	var step Step
	require.NoError(t, json.Unmarshal([]byte(`{"type":"workflow","workflow":"child"}`), &step))
	assert.Equal(t, StepWorkflow, step.Type)
}

func TestStepUnmarshal_Uninferable(t *testing.T) {
	var step Step
	err := json.Unmarshal([]byte(`{"id":"mystery"}`), &step)
	require.Error(t, err)
}

func TestStepAwaited_Defaults(t *testing.T) {
	assert.False(t, (&Step{Type: StepWorker}).Awaited())
	assert.True(t, (&Step{Type: StepAgent}).Awaited())
	assert.True(t, (&Step{Type: StepWorkflow}).Awaited())
}

func TestStepAwaited_Override(t *testing.T) {
	await := true
	assert.True(t, (&Step{Type: StepWorker, Await: &await}).Awaited())
	noAwait := false
	assert.False(t, (&Step{Type: StepWorkflow, Await: &noAwait}).Awaited())
}

func TestStepAt_TopLevel(t *testing.T) {
	plan := &Plan{Steps: []Step{
		{Type: StepAgent, ID: "a", Agent: "echo"},
		{Type: StepAgent, ID: "b", Agent: "echo"},
	}}

	step, err := plan.StepAt(Cursor{{Index: 1}})
	require.NoError(t, err)
	assert.Equal(t, "b", step.ID)
}

func TestStepAt_ConditionBranch(t *testing.T) {
	plan := &Plan{Steps: []Step{
		{
			Type: StepCondition,
			If:   ConditionLiteral(true),
			Then: []Step{{Type: StepAgent, ID: "inner", Agent: "echo"}},
			Else: []Step{{Type: StepAgent, ID: "other", Agent: "echo"}},
		},
	}}

	step, err := plan.StepAt(Cursor{{Index: 0}, {Index: 0, Branch: BranchThen}})
	require.NoError(t, err)
	assert.Equal(t, "inner", step.ID)

	step, err = plan.StepAt(Cursor{{Index: 0}, {Index: 0, Branch: BranchElse}})
	require.NoError(t, err)
	assert.Equal(t, "other", step.ID)
}

func TestStepAt_OutOfRange(t *testing.T) {
	plan := &Plan{Steps: []Step{{Type: StepAgent, Agent: "echo"}}}
	_, err := plan.StepAt(Cursor{{Index: 7}})
	require.Error(t, err)
}

func TestPlanRoundTrip_JSON(t *testing.T) {
	plan, err := NewPlan("roundtrip").
		Agent("echo", map[string]any{"text": "hi"}, WithID("first")).
		Sleep(30*time.Second, WithID("wait")).
		Build()
	require.NoError(t, err)

	data, err := plan.ToJSON()
	require.NoError(t, err)

	decoded, err := PlanFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, decoded.ID)
	require.Len(t, decoded.Steps, 2)
	assert.Equal(t, StepSleep, decoded.Steps[1].Type)
	assert.Equal(t, 30*time.Second, decoded.Steps[1].Duration.Std())
}
