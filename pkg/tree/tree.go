// Package tree stores goal decompositions as an arena of nodes.
//
// Nodes are addressed by stable integer ids. A node keeps its parent as an
// id (NoParent for roots) and its children as an ordered id list, so the
// structure holds no reference cycles and snapshots are plain values.
package tree

import (
	"errors"
	"fmt"
	"sync"
)

// NoParent marks a root node.
const NoParent = -1

// ErrUnknownNode is returned for ids that were never issued.
var ErrUnknownNode = errors.New("unknown node")

// Node is one entry of the arena.
type Node struct {
	ID          int
	Name        string
	Description string
	Priority    int
	Parent      int
	Children    []int
}

// Tree is safe for concurrent use.
type Tree struct {
	mu    sync.RWMutex
	nodes []Node
}

func New() *Tree {
	return &Tree{}
}

// AddRoot adds a parentless node and returns its id.
func (t *Tree) AddRoot(name, description string, priority int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.add(name, description, priority, NoParent)
}

// AddChild appends a node under parent.
func (t *Tree) AddChild(parent int, name, description string, priority int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid(parent) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownNode, parent)
	}
	id := t.add(name, description, priority, parent)
	t.nodes[parent].Children = append(t.nodes[parent].Children, id)
	return id, nil
}

func (t *Tree) add(name, description string, priority, parent int) int {
	id := len(t.nodes)
	t.nodes = append(t.nodes, Node{
		ID:          id,
		Name:        name,
		Description: description,
		Priority:    priority,
		Parent:      parent,
	})
	return id
}

func (t *Tree) valid(id int) bool {
	return id >= 0 && id < len(t.nodes)
}

// Get returns a copy of the node.
func (t *Tree) Get(id int) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.valid(id) {
		return Node{}, false
	}
	return t.copyOf(id), true
}

func (t *Tree) copyOf(id int) Node {
	n := t.nodes[id]
	n.Children = append([]int(nil), n.Children...)
	return n
}

func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Siblings returns the other children of id's parent, in order.
// Roots have no siblings.
func (t *Tree) Siblings(id int) ([]Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.valid(id) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	parent := t.nodes[id].Parent
	if parent == NoParent {
		return nil, nil
	}
	var out []Node
	for _, c := range t.nodes[parent].Children {
		if c != id {
			out = append(out, t.copyOf(c))
		}
	}
	return out, nil
}

// Ancestors returns the chain from id's parent up to the root.
func (t *Tree) Ancestors(id int) ([]Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.valid(id) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	var out []Node
	for p := t.nodes[id].Parent; p != NoParent; p = t.nodes[p].Parent {
		out = append(out, t.copyOf(p))
	}
	return out, nil
}

// Walk visits the subtree under id depth-first, parents before children.
// Returning false from fn skips the children of that node.
func (t *Tree) Walk(id int, fn func(n Node, depth int) bool) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.valid(id) {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	t.walk(id, 0, fn)
	return nil
}

func (t *Tree) walk(id, depth int, fn func(Node, int) bool) {
	if !fn(t.copyOf(id), depth) {
		return
	}
	for _, c := range t.nodes[id].Children {
		t.walk(c, depth+1, fn)
	}
}

// Snapshot is a JSON-ready nested view of a subtree.
type Snapshot struct {
	ID          int        `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	Children    []Snapshot `json:"children,omitempty"`
}

// Snapshot copies the subtree under id.
func (t *Tree) Snapshot(id int) (Snapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.valid(id) {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return t.snapshot(id), nil
}

func (t *Tree) snapshot(id int) Snapshot {
	n := t.nodes[id]
	s := Snapshot{ID: n.ID, Name: n.Name, Description: n.Description, Priority: n.Priority}
	for _, c := range n.Children {
		s.Children = append(s.Children, t.snapshot(c))
	}
	return s
}
