package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContext_NilInput(t *testing.T) {
	ctx := NewContext(nil)
	assert.NotNil(t, ctx.Input)
	assert.NotNil(t, ctx.Steps)
	assert.Empty(t, ctx.All)
}

func TestContextRecordStep_WithID(t *testing.T) {
	ctx := NewContext(nil)
	ctx.RecordStep("first", map[string]any{"n": 1})

	output, ok := ctx.StepOutput("first")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"n": 1}, output)
	assert.Equal(t, output, ctx.Previous)
	assert.Len(t, ctx.All, 1)
}

func TestContextRecordStep_AnonymousStillAppends(t *testing.T) {
	ctx := NewContext(nil)
	ctx.RecordStep("", "anonymous output")

	assert.Empty(t, ctx.Steps)
	assert.Equal(t, "anonymous output", ctx.Previous)
	assert.Len(t, ctx.All, 1)
}

func TestContextRecordError(t *testing.T) {
	ctx := NewContext(nil)
	ctx.RecordError("flaky", HandlerError("boom"))

	require.Len(t, ctx.Errors, 1)
	assert.Equal(t, "flaky", ctx.Errors[0].Step)
	assert.Contains(t, ctx.Errors[0].Error, "boom")
}

func TestFromSteps_BuildsTemplate(t *testing.T) {
	input := FromSteps([]string{"a", "b"}, "text", "\n")
	assert.True(t, IsTemplated(input))
	assert.Equal(t, []any{"a", "b"}, input[KeyFromSteps])
	assert.Equal(t, "text", input[KeyPath])
	assert.Equal(t, "\n", input[KeyJoin])
}

func TestIsTemplated_PlainMap(t *testing.T) {
	assert.False(t, IsTemplated(map[string]any{"text": "hi"}))
	assert.False(t, IsTemplated(nil))
}
