package models

// Reserved keys of the input templating form. The templating object exists
// so step inputs stay JSON-serialisable for plans crossing process
// boundaries; in-process plans may use InputFunc closures instead.
const (
	KeyFromSteps = "_fromSteps"
	KeyPath      = "_path"
	KeyJoin      = "_join"
)

// FromSteps builds a templated input selecting prior step outputs, applying
// a dot path into each, and joining string results with sep.
func FromSteps(stepIDs []string, path, sep string) map[string]any {
	ids := make([]any, len(stepIDs))
	for i, id := range stepIDs {
		ids[i] = id
	}
	input := map[string]any{KeyFromSteps: ids}
	if path != "" {
		input[KeyPath] = path
	}
	if sep != "" {
		input[KeyJoin] = sep
	}
	return input
}

// IsTemplated reports whether an input map uses the templating form
func IsTemplated(input map[string]any) bool {
	if input == nil {
		return false
	}
	_, ok := input[KeyFromSteps]
	return ok
}
