package orchestrator

import (
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/models"
)

// ResolveInput computes a step's effective input from the run context.
// Resolution order: an in-process InputFunc closure wins, then the
// serialisable templating form, then the literal map verbatim.
func ResolveInput(step *models.Step, ctx *models.Context) (any, error) {
	if step.InputFunc != nil {
		return step.InputFunc(ctx), nil
	}
	if models.IsTemplated(step.Input) {
		return resolveTemplated(step.Input, ctx)
	}
	if step.Input == nil {
		return map[string]any{}, nil
	}
	return step.Input, nil
}

// resolveTemplated expands the _fromSteps/_path/_join form. _fromSteps
// selects prior outputs, _path dives into each, _join folds string results
// into one string. Non-reserved keys pass through; when any are present the
// selection lands under "value" in the resulting map.
func resolveTemplated(input map[string]any, ctx *models.Context) (any, error) {
	ids, err := stepIDList(input[models.KeyFromSteps])
	if err != nil {
		return nil, err
	}
	path, _ := input[models.KeyPath].(string)

	selected := make([]any, 0, len(ids))
	for _, id := range ids {
		output, ok := ctx.StepOutput(id)
		if !ok {
			return nil, models.ValidationError("templated input references unknown step %q", id)
		}
		value, found := common.GetAtPath(output, path)
		if !found {
			return nil, models.ValidationError("path %q not found in output of step %q", path, id)
		}
		selected = append(selected, value)
	}

	var resolved any = selected
	if sep, ok := input[models.KeyJoin].(string); ok {
		joined, err := joinStrings(selected, sep)
		if err != nil {
			return nil, err
		}
		resolved = joined
	}

	passthrough := make(map[string]any)
	for key, value := range input {
		switch key {
		case models.KeyFromSteps, models.KeyPath, models.KeyJoin:
		default:
			passthrough[key] = value
		}
	}
	if len(passthrough) == 0 {
		return resolved, nil
	}
	passthrough["value"] = resolved
	return passthrough, nil
}

func stepIDList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		ids := make([]string, 0, len(v))
		for _, entry := range v {
			id, ok := entry.(string)
			if !ok {
				return nil, models.ValidationError("_fromSteps entries must be step ids")
			}
			ids = append(ids, id)
		}
		return ids, nil
	default:
		return nil, models.ValidationError("_fromSteps must be a list of step ids")
	}
}

func joinStrings(values []any, sep string) (string, error) {
	out := ""
	for i, value := range values {
		s, ok := value.(string)
		if !ok {
			return "", models.ValidationError("_join requires string values, got %T", value)
		}
		if i > 0 {
			out += sep
		}
		out += s
	}
	return out, nil
}

// asInputMap shapes a resolved input for callees that take a keyed input.
// Non-map values are carried under "value".
func asInputMap(resolved any) map[string]any {
	switch v := resolved.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	default:
		return map[string]any{"value": v}
	}
}
