package component

import (
	"errors"
	"fmt"
	"strings"
)

// RootID is the id of the node rendered first, when present.
const RootID = "root"

var (
	// ErrDanglingReference is wrapped by *ReferenceError.
	ErrDanglingReference = errors.New("dangling component reference")
	// ErrCycle is wrapped by *CycleError.
	ErrCycle = errors.New("component cycle")
)

// ReferenceError names a child id that does not exist in the collection.
type ReferenceError struct {
	Parent string
	Child  string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("component %q references unknown child %q", e.Parent, e.Child)
}

func (e *ReferenceError) Unwrap() error { return ErrDanglingReference }

// CycleError lists the ids forming a children cycle, first id repeated last.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "component cycle: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// Tree is a validated, ordered component collection. The zero value is empty.
type Tree struct {
	nodes []Node
	index map[string]int
}

// Build validates nodes and returns the collection. A repeated id keeps the
// position of its first occurrence and the content of its last. Every child
// reference must resolve and the children graph must be acyclic.
func Build(nodes []Node) (Tree, error) {
	t := Tree{
		nodes: make([]Node, 0, len(nodes)),
		index: make(map[string]int, len(nodes)),
	}
	for _, n := range nodes {
		if pos, ok := t.index[n.ID]; ok {
			t.nodes[pos] = n.Clone()
			continue
		}
		t.index[n.ID] = len(t.nodes)
		t.nodes = append(t.nodes, n.Clone())
	}

	for _, n := range t.nodes {
		for _, c := range n.Children {
			if _, ok := t.index[c]; !ok {
				return Tree{}, &ReferenceError{Parent: n.ID, Child: c}
			}
		}
	}
	if err := t.checkAcyclic(); err != nil {
		return Tree{}, err
	}
	return t, nil
}

// DecodeTree decodes and builds a collection from JSON objects.
func DecodeTree(raw []map[string]any) (Tree, error) {
	nodes := make([]Node, 0, len(raw))
	for i, r := range raw {
		n, err := Decode(i, r)
		if err != nil {
			return Tree{}, err
		}
		nodes = append(nodes, n)
	}
	return Build(nodes)
}

func (t Tree) checkAcyclic() error {
	const (
		unvisited = iota
		active
		done
	)
	state := make([]int, len(t.nodes))
	var stack []string

	var visit func(i int) error
	visit = func(i int) error {
		state[i] = active
		stack = append(stack, t.nodes[i].ID)
		for _, c := range t.nodes[i].Children {
			j := t.index[c]
			switch state[j] {
			case active:
				start := 0
				for k, id := range stack {
					if id == c {
						start = k
						break
					}
				}
				path := append(append([]string(nil), stack[start:]...), c)
				return &CycleError{Path: path}
			case unvisited:
				if err := visit(j); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[i] = done
		return nil
	}

	for i := range t.nodes {
		if state[i] == unvisited {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len returns the number of nodes.
func (t Tree) Len() int { return len(t.nodes) }

// Get returns the node with the given id.
func (t Tree) Get(id string) (Node, bool) {
	i, ok := t.index[id]
	if !ok {
		return Node{}, false
	}
	return t.nodes[i].Clone(), true
}

// Root returns the node with id "root", else the first node.
func (t Tree) Root() (Node, bool) {
	if n, ok := t.Get(RootID); ok {
		return n, true
	}
	if len(t.nodes) == 0 {
		return Node{}, false
	}
	return t.nodes[0].Clone(), true
}

// Nodes returns deep copies of the nodes in order.
func (t Tree) Nodes() []Node {
	out := make([]Node, len(t.nodes))
	for i, n := range t.nodes {
		out[i] = n.Clone()
	}
	return out
}

// Maps returns the nodes as JSON objects in order.
func (t Tree) Maps() []map[string]any {
	out := make([]map[string]any, len(t.nodes))
	for i, n := range t.nodes {
		out[i] = n.Map()
	}
	return out
}
