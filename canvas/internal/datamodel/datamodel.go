// Package datamodel holds a surface's JSON data tree and implements JSON
// Pointer writes and reads plus {{/pointer}} binding resolution.
//
// A Model is immutable: Set returns a new Model that shares every untouched
// branch with its parent, so keeping the old value is a complete rollback.
package datamodel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxIndexGap bounds how far past the end of a sequence a numeric segment may
// point. The gap is filled with nulls.
const MaxIndexGap = 10_000

var (
	// ErrNotFound is returned by Get when nothing lives at the pointer.
	ErrNotFound = errors.New("no value at pointer")
	// ErrInvalidValue is returned for values that are not representable as JSON.
	ErrInvalidValue = errors.New("value is not valid JSON")
)

// Model is a JSON value tree made of map[string]any, []any, string,
// float64, bool and nil.
type Model struct {
	root any
}

// New returns a model whose root is an empty object.
func New() Model {
	return Model{root: map[string]any{}}
}

// FromValue builds a model from any JSON-encodable value.
func FromValue(v any) (Model, error) {
	n, err := Normalize(v)
	if err != nil {
		return Model{}, err
	}
	return Model{root: n}, nil
}

// Root returns the tree. Callers must treat it as read-only.
func (m Model) Root() any { return m.root }

// Clone returns a deep copy of the tree that the caller may modify.
func (m Model) Clone() any { return Copy(m.root) }

func (m Model) MarshalJSON() ([]byte, error) { return json.Marshal(m.root) }

func (m *Model) UnmarshalJSON(data []byte) error {
	v, err := decode(data)
	if err != nil {
		return err
	}
	m.root = v
	return nil
}

// Set returns a model with value written at pointer. Missing intermediate
// levels are created: a numeric or "-" segment creates a sequence, any other
// segment an object. The receiver is never modified.
func (m Model) Set(pointer string, value any) (Model, error) {
	p, err := ParsePointer(pointer)
	if err != nil {
		return m, err
	}
	v, err := Normalize(value)
	if err != nil {
		return m, err
	}
	root, err := setAt(m.root, p, 0, v)
	if err != nil {
		return m, err
	}
	return Model{root: root}, nil
}

// Get returns the value at pointer.
func (m Model) Get(pointer string) (any, error) {
	p, err := ParsePointer(pointer)
	if err != nil {
		return nil, err
	}
	node := m.root
	for _, tok := range p.tokens {
		switch n := node.(type) {
		case map[string]any:
			child, ok := n[tok]
			if !ok {
				return nil, ErrNotFound
			}
			node = child
		case []any:
			idx, ok := arrayIndex(tok, len(n))
			if !ok || idx >= len(n) {
				return nil, ErrNotFound
			}
			node = n[idx]
		default:
			return nil, ErrNotFound
		}
	}
	return node, nil
}

func setAt(node any, p Pointer, depth int, value any) (any, error) {
	if depth == len(p.tokens) {
		return value, nil
	}
	tok := p.tokens[depth]

	if node == nil {
		if isIndexToken(tok) {
			node = []any{}
		} else {
			node = map[string]any{}
		}
	}

	switch n := node.(type) {
	case map[string]any:
		child, err := setAt(n[tok], p, depth+1, value)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(n)+1)
		for k, v := range n {
			out[k] = v
		}
		out[tok] = child
		return out, nil

	case []any:
		idx, ok := arrayIndex(tok, len(n))
		if !ok {
			return nil, &PointerError{Pointer: p.raw, Reason: fmt.Sprintf("segment %q is not an index into a sequence", tok)}
		}
		if idx-len(n) > MaxIndexGap {
			return nil, &PointerError{Pointer: p.raw, Reason: fmt.Sprintf("index %d too far past end (%d)", idx, len(n))}
		}
		var existing any
		if idx < len(n) {
			existing = n[idx]
		}
		child, err := setAt(existing, p, depth+1, value)
		if err != nil {
			return nil, err
		}
		size := len(n)
		if idx >= size {
			size = idx + 1
		}
		out := make([]any, size)
		copy(out, n)
		out[idx] = child
		return out, nil

	default:
		return nil, &PointerError{Pointer: p.raw, Reason: fmt.Sprintf("segment %q traverses a %s", tok, kindOf(node))}
	}
}

// Normalize converts v to the canonical JSON value types by round-tripping
// it through encoding/json.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return decode(data)
}

func decode(data []byte) (any, error) {
	var out any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return out, nil
}

// Stringify renders a value the way bindings display it: strings verbatim,
// numbers in shortest form, booleans, compact JSON for containers and the
// empty string for null.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return formatNumber(x)
	case json.Number:
		return x.String()
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func formatNumber(f float64) string {
	abs := f
	if abs < 0 {
		abs = -abs
	}
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func kindOf(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
	}
}

// Copy deep-copies a normalized JSON value.
func Copy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, c := range x {
			out[k] = Copy(c)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, c := range x {
			out[i] = Copy(c)
		}
		return out
	default:
		return v
	}
}
