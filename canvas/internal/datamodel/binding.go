package datamodel

import "regexp"

var placeholder = regexp.MustCompile(`\{\{\s*(/[^{}]*?)\s*\}\}`)

// HasBindings reports whether s contains at least one placeholder.
func HasBindings(s string) bool {
	return placeholder.MatchString(s)
}

// Resolve substitutes every {{/pointer}} in template with the stringified
// value found at that pointer. Missing values and malformed pointers resolve
// to the empty string.
func (m Model) Resolve(template string) string {
	if !HasBindings(template) {
		return template
	}
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		sub := placeholder.FindStringSubmatch(match)
		v, err := m.Get(sub[1])
		if err != nil {
			return ""
		}
		return Stringify(v)
	})
}

// ResolveValue walks v and resolves every string it contains.
func (m Model) ResolveValue(v any) any {
	switch x := v.(type) {
	case string:
		return m.Resolve(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, c := range x {
			out[k] = m.ResolveValue(c)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, c := range x {
			out[i] = m.ResolveValue(c)
		}
		return out
	default:
		return v
	}
}
