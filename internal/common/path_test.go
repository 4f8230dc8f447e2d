package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAtPath_EmptyPathReturnsValue(t *testing.T) {
	value, ok := GetAtPath(map[string]any{"a": 1}, "")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": 1}, value)
}

func TestGetAtPath_NestedMap(t *testing.T) {
	input := map[string]any{
		"result": map[string]any{
			"summary": map[string]any{"text": "hello"},
		},
	}

	value, ok := GetAtPath(input, "result.summary.text")
	require.True(t, ok)
	assert.Equal(t, "hello", value)
}

func TestGetAtPath_SliceIndex(t *testing.T) {
	input := map[string]any{
		"items": []any{"zero", "one", "two"},
	}

	value, ok := GetAtPath(input, "items.1")
	require.True(t, ok)
	assert.Equal(t, "one", value)

	_, ok = GetAtPath(input, "items.9")
	assert.False(t, ok)

	_, ok = GetAtPath(input, "items.x")
	assert.False(t, ok)
}

func TestGetAtPath_MissingSegment(t *testing.T) {
	input := map[string]any{"a": map[string]any{"b": 1}}

	_, ok := GetAtPath(input, "a.c")
	assert.False(t, ok)

	_, ok = GetAtPath(input, "a.b.c")
	assert.False(t, ok)
}

func TestGetAtPath_NilValueResolves(t *testing.T) {
	input := map[string]any{"a": nil}

	value, ok := GetAtPath(input, "a")
	require.True(t, ok)
	assert.Nil(t, value)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.True(t, Truthy(true))
	assert.False(t, Truthy(""))
	assert.True(t, Truthy("text"))
	assert.False(t, Truthy(float64(0)))
	assert.True(t, Truthy(float64(1.5)))
	assert.False(t, Truthy(0))
	assert.True(t, Truthy(42))
	assert.False(t, Truthy(map[string]any{}))
	assert.True(t, Truthy(map[string]any{"k": 1}))
	assert.False(t, Truthy([]any{}))
	assert.True(t, Truthy([]any{1}))
	assert.True(t, Truthy(struct{}{}))
}
