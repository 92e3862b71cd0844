// Package component models the ordered component collection of a surface:
// nodes carry a typed payload for the known vocabulary plus a residual
// attribute bag that is re-emitted untouched.
package component

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/canvas/canvas/internal/datamodel"
)

// Kind is a component type tag.
type Kind string

const (
	KindColumn  Kind = "Column"
	KindRow     Kind = "Row"
	KindCard    Kind = "Card"
	KindList    Kind = "List"
	KindText    Kind = "Text"
	KindImage   Kind = "Image"
	KindDivider Kind = "Divider"
)

// Props is the typed payload of a known component kind.
type Props interface {
	kind() Kind
}

// Container covers Column, Row, Card and List; their content is Children.
type Container struct{ Kind Kind }

// Text displays a string.
type Text struct {
	Text string
}

// Image displays a picture.
type Image struct {
	Src string
	Alt string
}

// Divider is a horizontal rule.
type Divider struct{}

func (c Container) kind() Kind { return c.Kind }
func (Text) kind() Kind        { return KindText }
func (Image) kind() Kind       { return KindImage }
func (Divider) kind() Kind     { return KindDivider }

// Node is one component. Props is nil for tags outside the known vocabulary.
type Node struct {
	ID        string
	Component string
	Children  []string
	Style     map[string]any
	Props     Props
	Attrs     map[string]any
}

// ErrInvalid is the sentinel wrapped by *InvalidError.
var ErrInvalid = errors.New("invalid component")

// InvalidError reports a malformed node.
type InvalidError struct {
	Index  int
	ID     string
	Reason string
}

func (e *InvalidError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("component %q (index %d): %s", e.ID, e.Index, e.Reason)
	}
	return fmt.Sprintf("component at index %d: %s", e.Index, e.Reason)
}

func (e *InvalidError) Unwrap() error { return ErrInvalid }

// Decode builds a node from a decoded JSON object.
func Decode(index int, raw map[string]any) (Node, error) {
	invalid := func(id, format string, args ...any) (Node, error) {
		return Node{}, &InvalidError{Index: index, ID: id, Reason: fmt.Sprintf(format, args...)}
	}

	norm, err := datamodel.Normalize(raw)
	if err != nil {
		return invalid("", "%v", err)
	}
	obj, ok := norm.(map[string]any)
	if !ok {
		return invalid("", "not an object")
	}

	id, _ := obj["id"].(string)
	if id == "" {
		return invalid("", "missing or non-string id")
	}
	tag, _ := obj["component"].(string)
	if tag == "" {
		return invalid(id, "missing or non-string component type")
	}

	n := Node{ID: id, Component: tag}
	delete(obj, "id")
	delete(obj, "component")

	if v, ok := obj["children"]; ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return invalid(id, "children must be an array of ids")
		}
		n.Children = make([]string, len(list))
		for i, c := range list {
			s, ok := c.(string)
			if !ok || s == "" {
				return invalid(id, "children[%d] must be a non-empty string", i)
			}
			n.Children[i] = s
		}
	}
	delete(obj, "children")

	if v, ok := obj["style"]; ok && v != nil {
		style, ok := v.(map[string]any)
		if !ok {
			return invalid(id, "style must be an object")
		}
		n.Style = style
	}
	delete(obj, "style")

	switch Kind(tag) {
	case KindColumn, KindRow, KindCard, KindList:
		n.Props = Container{Kind: Kind(tag)}
	case KindDivider:
		n.Props = Divider{}
	case KindText:
		text, err := stringField(obj, "text")
		if err != nil {
			return invalid(id, "%v", err)
		}
		n.Props = Text{Text: text}
	case KindImage:
		src, err := stringField(obj, "src")
		if err != nil {
			return invalid(id, "%v", err)
		}
		alt, err := stringField(obj, "alt")
		if err != nil {
			return invalid(id, "%v", err)
		}
		n.Props = Image{Src: src, Alt: alt}
	}

	if len(obj) > 0 {
		n.Attrs = obj
	}
	return n, nil
}

// stringField removes key from obj and returns it as a string. Absent and
// null are the empty string.
func stringField(obj map[string]any, key string) (string, error) {
	v, ok := obj[key]
	delete(obj, key)
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

// Map renders the node as the flat JSON object viewers consume.
func (n Node) Map() map[string]any {
	out := make(map[string]any, len(n.Attrs)+5)
	for k, v := range n.Attrs {
		out[k] = datamodel.Copy(v)
	}
	switch p := n.Props.(type) {
	case Text:
		out["text"] = p.Text
	case Image:
		out["src"] = p.Src
		if p.Alt != "" {
			out["alt"] = p.Alt
		}
	}
	out["id"] = n.ID
	out["component"] = n.Component
	if n.Children != nil {
		children := make([]any, len(n.Children))
		for i, c := range n.Children {
			children[i] = c
		}
		out["children"] = children
	}
	if n.Style != nil {
		out["style"] = datamodel.Copy(n.Style)
	}
	return out
}

func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Map())
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := Decode(0, raw)
	if err != nil {
		return err
	}
	*n = decoded
	return nil
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	out := n
	if n.Children != nil {
		out.Children = append([]string(nil), n.Children...)
	}
	if n.Style != nil {
		out.Style = datamodel.Copy(n.Style).(map[string]any)
	}
	if n.Attrs != nil {
		out.Attrs = datamodel.Copy(n.Attrs).(map[string]any)
	}
	return out
}

// Resolve returns a copy of n with every binding in its string fields
// substituted from m.
func (n Node) Resolve(m datamodel.Model) Node {
	out := n.Clone()
	switch p := n.Props.(type) {
	case Text:
		out.Props = Text{Text: m.Resolve(p.Text)}
	case Image:
		out.Props = Image{Src: m.Resolve(p.Src), Alt: m.Resolve(p.Alt)}
	}
	if out.Style != nil {
		out.Style = m.ResolveValue(out.Style).(map[string]any)
	}
	if out.Attrs != nil {
		out.Attrs = m.ResolveValue(out.Attrs).(map[string]any)
	}
	return out
}
