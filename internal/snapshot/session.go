// Package snapshot clones and persists activity subtrees.
//
// All work happens through a Session. A session carries the attribute
// registry used to resolve persisted names and the bookkeeping for the
// subtree currently being copied; nothing is kept in package state, so
// independent instances can clone and persist concurrently.
package snapshot

import (
	"errors"
	"fmt"

	"github.com/roach88/arbor/internal/activity"
	"github.com/roach88/arbor/internal/attr"
)

// ErrCycle is returned when a subtree's parent links loop back on themselves.
var ErrCycle = errors.New("snapshot: cycle in activity tree")

// Session performs clone, encode and decode operations.
// A Session is not safe for concurrent use; create one per operation.
type Session struct {
	registry *attr.Registry
	visiting map[*activity.Node]bool
	copied   int
}

// NewSession creates a session resolving attributes against registry.
func NewSession(registry *attr.Registry) *Session {
	return &Session{
		registry: registry,
		visiting: make(map[*activity.Node]bool),
	}
}

// Copied returns how many nodes the session has instantiated.
func (s *Session) Copied() int {
	return s.copied
}

// Clone instantiates template's subtree.
//
// Every node in the copy has its transient runtime state reset and no
// listeners. Disabled and alternate-flow children are copied too so
// dotted paths stay valid. The copy's root is bound to template's parent.
func (s *Session) Clone(template *activity.Node) (*activity.Node, error) {
	if template == nil {
		return nil, errors.New("snapshot: clone of nil node")
	}
	root, err := s.cloneNode(template)
	if err != nil {
		return nil, err
	}
	root.BindToParent(template.Parent())
	return root, nil
}

func (s *Session) cloneNode(t *activity.Node) (*activity.Node, error) {
	if s.visiting[t] {
		return nil, fmt.Errorf("%w at %q", ErrCycle, t.Name())
	}
	s.visiting[t] = true
	defer delete(s.visiting, t)

	attrs := t.Attrs().Clone(func(d *attr.Descriptor) bool {
		return !d.Is(attr.Transient)
	})
	n := activity.NewInstance(definitionOf(t), attrs)
	s.copied++

	for _, child := range t.Children() {
		c, err := s.cloneNode(child)
		if err != nil {
			return nil, err
		}
		if err := n.AddChild(c); err != nil {
			return nil, fmt.Errorf("snapshot: clone %q: %w", t.Name(), err)
		}
	}
	return n, nil
}

// definitionOf returns the definition node behind an instantiation, so
// clones of clones still point at the sealed definition.
func definitionOf(n *activity.Node) *activity.Node {
	for n.Template() != nil {
		n = n.Template()
	}
	return n
}
