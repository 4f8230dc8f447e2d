package agents

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ternarybob/relay/internal/common"
)

// RegisterBuiltins installs the utility agents every deployment gets
func RegisterBuiltins(router *Router) {
	router.Register("util/now", nowAgent)
	router.Register("util/echo", echoAgent)
	router.Register("util/uuid", uuidAgent)
	router.Register("util/concat", concatAgent)
	router.Register("util/pick", pickAgent)
}

// nowAgent returns the current time in a few useful shapes
func nowAgent(ctx context.Context, call *Call) (map[string]any, error) {
	now := time.Now().UTC()
	return map[string]any{
		"iso":    now.Format(time.RFC3339),
		"unixMs": now.UnixMilli(),
	}, nil
}

// echoAgent returns its input unchanged
func echoAgent(ctx context.Context, call *Call) (map[string]any, error) {
	if call.Input == nil {
		return map[string]any{}, nil
	}
	return call.Input, nil
}

// uuidAgent mints a fresh identifier
func uuidAgent(ctx context.Context, call *Call) (map[string]any, error) {
	return map[string]any{"uuid": uuid.New().String()}, nil
}

// concatAgent joins the string entries of input["values"] with
// input["separator"] (default "")
func concatAgent(ctx context.Context, call *Call) (map[string]any, error) {
	sep, _ := call.Input["separator"].(string)

	var parts []string
	if values, ok := call.Input["values"].([]any); ok {
		for _, v := range values {
			if s, ok := v.(string); ok {
				parts = append(parts, s)
			}
		}
	}
	return map[string]any{"content": strings.Join(parts, sep)}, nil
}

// pickAgent extracts input["path"] from input["value"] using dot notation
func pickAgent(ctx context.Context, call *Call) (map[string]any, error) {
	path, _ := call.Input["path"].(string)
	value, found := common.GetAtPath(call.Input["value"], path)
	return map[string]any{"value": value, "found": found}, nil
}
