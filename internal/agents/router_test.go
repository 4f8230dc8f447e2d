package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/models"
)

func newTestRouter(maxDepth int) *Router {
	return NewRouter(arbor.NewLogger(), maxDepth)
}

func TestRouterInvoke_RegisteredAgent(t *testing.T) {
	router := newTestRouter(10)
	router.Register("test/greet", func(ctx context.Context, call *Call) (map[string]any, error) {
		name, _ := call.Input["name"].(string)
		return map[string]any{"greeting": "hello " + name}, nil
	})

	output, err := router.Invoke(context.Background(), "test/greet", map[string]any{"name": "relay"}, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "hello relay", output["greeting"])
}

func TestRouterInvoke_UnknownAgent(t *testing.T) {
	router := newTestRouter(10)

	_, err := router.Invoke(context.Background(), "test/ghost", nil, "req-1")
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestRouterInvoke_HandlerErrorWrapped(t *testing.T) {
	router := newTestRouter(10)
	router.Register("test/broken", func(ctx context.Context, call *Call) (map[string]any, error) {
		return nil, assert.AnError
	})

	_, err := router.Invoke(context.Background(), "test/broken", nil, "req-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test/broken")
}

func TestRouterInvoke_SubCallsIncrementDepth(t *testing.T) {
	router := newTestRouter(10)
	router.Register("test/outer", func(ctx context.Context, call *Call) (map[string]any, error) {
		assert.Equal(t, 0, call.Depth)
		return call.Invoke(ctx, "test/inner", nil)
	})
	router.Register("test/inner", func(ctx context.Context, call *Call) (map[string]any, error) {
		assert.Equal(t, 1, call.Depth)
		assert.Equal(t, "req-1", call.RequestID)
		return map[string]any{"depth": call.Depth}, nil
	})

	output, err := router.Invoke(context.Background(), "test/outer", nil, "req-1")
	require.NoError(t, err)
	assert.Equal(t, 1, output["depth"])
}

func TestRouterInvoke_DepthLimit(t *testing.T) {
	router := newTestRouter(3)
	router.Register("test/loop", func(ctx context.Context, call *Call) (map[string]any, error) {
		return call.Invoke(ctx, "test/loop", nil)
	})

	_, err := router.Invoke(context.Background(), "test/loop", nil, "req-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depth")
}

func TestRouterRegister_Replaces(t *testing.T) {
	router := newTestRouter(10)
	router.Register("test/v", func(ctx context.Context, call *Call) (map[string]any, error) {
		return map[string]any{"v": 1}, nil
	})
	router.Register("test/v", func(ctx context.Context, call *Call) (map[string]any, error) {
		return map[string]any{"v": 2}, nil
	})

	output, err := router.Invoke(context.Background(), "test/v", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 2, output["v"])
}

func TestRouterPaths_Sorted(t *testing.T) {
	router := newTestRouter(10)
	RegisterBuiltins(router)

	paths := router.Paths()
	assert.Contains(t, paths, "util/echo")
	assert.Contains(t, paths, "util/now")
	assert.IsIncreasing(t, paths)
}

func TestBuiltinConcat(t *testing.T) {
	router := newTestRouter(10)
	RegisterBuiltins(router)

	output, err := router.Invoke(context.Background(), "util/concat", map[string]any{
		"values":    []any{"a", "b", "c"},
		"separator": "-",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "a-b-c", output["content"])
}

func TestBuiltinPick(t *testing.T) {
	router := newTestRouter(10)
	RegisterBuiltins(router)

	output, err := router.Invoke(context.Background(), "util/pick", map[string]any{
		"value": map[string]any{"a": map[string]any{"b": "deep"}},
		"path":  "a.b",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "deep", output["value"])
	assert.Equal(t, true, output["found"])
}
