package activity

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/arbor/internal/attr"
)

var (
	// ErrAlreadyParented is returned when adding a node that already has a parent.
	ErrAlreadyParented = errors.New("node already has a parent")
	// ErrCycle is returned when adding a node would make it its own ancestor.
	ErrCycle = errors.New("node would become its own ancestor")
	// ErrNotComposite is returned when adding children to a simple node.
	ErrNotComposite = errors.New("only composite nodes have children")
	// ErrDuplicateName is returned when two nodes in one tree share a name.
	ErrDuplicateName = errors.New("duplicate node name")
	// ErrInvalidTransition is returned for a status change outside the legal edges.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Node is one activity in a workflow tree.
//
// Definition trees are built with New and AddChild and then sealed with
// Seal. Runtime instantiations of a definition subtree are produced by
// the snapshot package and bound to the definition's parent with
// BindToParent, so they resolve the same ancestors as their template
// without appearing in the parent's child list.
type Node struct {
	name      string
	shape     Shape
	caps      Capability
	parent    *Node
	children  []*Node
	attrs     *attr.Store
	behavior  any
	template  *Node
	listeners map[Event][]listener
	nextSub   Subscription
}

// Option configures a node at construction.
type Option func(*Node)

// WithCapabilities sets capability flags.
func WithCapabilities(c Capability) Option {
	return func(n *Node) { n.caps |= c }
}

// WithHandles declares synchronization handles on the node itself.
func WithHandles(handles ...string) Option {
	return func(n *Node) {
		n.attrs.Seed(HandlesProperty, normalizeHandles(handles))
	}
}

// WithBehavior attaches the node's business logic. The value is opaque
// to this package; the engine interprets it.
func WithBehavior(b any) Option {
	return func(n *Node) { n.behavior = b }
}

// Disabled marks the node as excluded from execution.
func Disabled() Option {
	return func(n *Node) { n.attrs.Seed(EnabledProperty, false) }
}

// New creates a detached node.
func New(name string, shape Shape, opts ...Option) *Node {
	n := &Node{
		name:  name,
		shape: shape,
		attrs: attr.NewStore(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NewInstance creates a node that instantiates template. Used by clone
// and decode sessions; the caller supplies the attribute store.
func NewInstance(template *Node, attrs *attr.Store) *Node {
	return &Node{
		name:     template.name,
		shape:    template.shape,
		caps:     template.caps,
		attrs:    attrs,
		behavior: template.behavior,
		template: template,
	}
}

func (n *Node) Name() string { return n.name }
func (n *Node) Shape() Shape { return n.shape }
func (n *Node) IsComposite() bool { return n.shape == ShapeComposite }
func (n *Node) Capabilities() Capability { return n.caps }
func (n *Node) Has(c Capability) bool { return n.caps&c == c }
func (n *Node) Parent() *Node { return n.parent }
func (n *Node) Attrs() *attr.Store { return n.attrs }
func (n *Node) Behavior() any { return n.behavior }

// Template returns the definition node this node was instantiated from,
// or nil for definition nodes.
func (n *Node) Template() *Node { return n.template }

// QualifiedName is the node's identity within its execution context.
func (n *Node) QualifiedName() string { return n.name }

// Children returns the ordered child list.
func (n *Node) Children() []*Node {
	return slices.Clone(n.children)
}

// EnabledChildren returns enabled children on the normal flow.
func (n *Node) EnabledChildren() []*Node {
	var out []*Node
	for _, c := range n.children {
		if c.Enabled() && !c.Has(AlternateFlow) {
			out = append(out, c)
		}
	}
	return out
}

// AlternateChildren returns enabled children flagged AlternateFlow.
func (n *Node) AlternateChildren() []*Node {
	var out []*Node
	for _, c := range n.children {
		if c.Enabled() && c.Has(AlternateFlow) {
			out = append(out, c)
		}
	}
	return out
}

// AllEnabledChildren returns every enabled child, alternate flow included.
func (n *Node) AllEnabledChildren() []*Node {
	var out []*Node
	for _, c := range n.children {
		if c.Enabled() {
			out = append(out, c)
		}
	}
	return out
}

func (n *Node) Enabled() bool {
	return attr.Get[bool](n.attrs, EnabledProperty)
}

// SetEnabled toggles the node before it starts executing.
func (n *Node) SetEnabled(enabled bool) error {
	return n.attrs.Set(EnabledProperty, enabled)
}

// Handles returns the synchronization handles declared on the node itself.
func (n *Node) Handles() []string {
	return attr.Get[[]string](n.attrs, HandlesProperty)
}

func (n *Node) Status() Status {
	return attr.Get[Status](n.attrs, StatusProperty)
}

func (n *Node) Result() Result {
	return attr.Get[Result](n.attrs, ResultProperty)
}

// SetResult records the node's outcome without touching its status.
func (n *Node) SetResult(r Result) {
	n.attrs.Seed(ResultProperty, r)
}

// AddChild appends child to n.
func (n *Node) AddChild(child *Node) error {
	return n.InsertChild(len(n.children), child)
}

// InsertChild places child at index i.
//
// The child must be detached, and must not be n or one of n's
// ancestors. Both checks walk the explicit parent chain.
func (n *Node) InsertChild(i int, child *Node) error {
	if child == nil {
		return errors.New("add child: nil node")
	}
	if !n.IsComposite() {
		return fmt.Errorf("add child %q to %q: %w", child.name, n.name, ErrNotComposite)
	}
	if child.parent != nil {
		return fmt.Errorf("add child %q to %q: %w", child.name, n.name, ErrAlreadyParented)
	}
	for a := n; a != nil; a = a.parent {
		if a == child {
			return fmt.Errorf("add child %q to %q: %w", child.name, n.name, ErrCycle)
		}
	}
	if i < 0 || i > len(n.children) {
		return fmt.Errorf("add child %q to %q: index %d out of range", child.name, n.name, i)
	}
	n.children = slices.Insert(n.children, i, child)
	child.parent = n
	return nil
}

// RemoveChild detaches child from n.
func (n *Node) RemoveChild(child *Node) error {
	i := slices.Index(n.children, child)
	if i < 0 {
		return fmt.Errorf("remove child %q from %q: not a child", child.name, n.name)
	}
	n.children = slices.Delete(n.children, i, i+1)
	child.parent = nil
	return nil
}

// BindToParent records parent as the owner of a runtime instantiation.
// The node is not added to parent's child list.
func (n *Node) BindToParent(parent *Node) {
	n.parent = parent
}

// Root follows parent links to the instance root.
func (n *Node) Root() *Node {
	r := n
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// IsAncestorOf reports whether n appears on other's parent chain.
func (n *Node) IsAncestorOf(other *Node) bool {
	for a := other.parent; a != nil; a = a.parent {
		if a == n {
			return true
		}
	}
	return false
}

// Walk visits n and its descendants in pre-order until fn returns false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// GetActivityByName resolves a qualified name. The search covers n's own
// subtree first; unless withinThisOnly is set it then falls back to the
// whole tree from the root.
func (n *Node) GetActivityByName(name string, withinThisOnly bool) *Node {
	if found := n.find(name); found != nil {
		return found
	}
	if withinThisOnly {
		return nil
	}
	return n.Root().find(name)
}

func (n *Node) find(name string) *Node {
	var found *Node
	n.Walk(func(c *Node) bool {
		if c.name == name {
			found = c
			return false
		}
		return true
	})
	return found
}

// DottedPath returns the ordinal path assigned when the definition was
// sealed, e.g. "0.2.1". The root's path is empty.
func (n *Node) DottedPath() string {
	return attr.Get[string](n.attrs, DottedPathProperty)
}

// TraverseDottedPath resolves a path of child indices below n.
func (n *Node) TraverseDottedPath(path string) (*Node, error) {
	if path == "" {
		return n, nil
	}
	cur := n
	for _, part := range strings.Split(path, ".") {
		i, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("dotted path %q: %w", path, err)
		}
		if i < 0 || i >= len(cur.children) {
			return nil, fmt.Errorf("dotted path %q: index %d out of range under %q", path, i, cur.name)
		}
		cur = cur.children[i]
	}
	return cur, nil
}

// Seal validates a definition tree and assigns dotted paths.
// Node names must be unique across the tree.
func Seal(root *Node) error {
	seen := make(map[string]string)
	var assign func(n *Node, path string) error
	assign = func(n *Node, path string) error {
		if n.name == "" {
			return fmt.Errorf("seal: node at %q has no name", path)
		}
		if prev, dup := seen[n.name]; dup {
			return fmt.Errorf("seal: %q at %q and %q: %w", n.name, prev, path, ErrDuplicateName)
		}
		seen[n.name] = path
		n.attrs.Seed(DottedPathProperty, path)
		for i, c := range n.children {
			childPath := strconv.Itoa(i)
			if path != "" {
				childPath = path + "." + childPath
			}
			if err := assign(c, childPath); err != nil {
				return err
			}
		}
		return nil
	}
	return assign(root, "")
}

// SetStatus moves n along a legal edge and fires status listeners:
// EventStatusChanged first, then the event for the new status.
//
// Entering Executing records WasExecuting. Entering Closed clears the
// hold count, primary-closed flag and WasExecuting.
func (n *Node) SetStatus(to Status) error {
	from := n.Status()
	if !CanTransition(from, to) {
		return fmt.Errorf("%s: %s -> %s: %w", n.name, from, to, ErrInvalidTransition)
	}
	if to == StatusCompensating && !n.Has(CanCompensate) {
		return fmt.Errorf("%s: %s -> %s without compensation capability: %w", n.name, from, to, ErrInvalidTransition)
	}

	n.attrs.Seed(StatusProperty, to)
	switch to {
	case StatusExecuting:
		n.attrs.Seed(WasExecutingProperty, true)
	case StatusClosed:
		_ = n.attrs.Remove(HoldCountProperty)
		_ = n.attrs.Remove(HasPrimaryClosedProperty)
		_ = n.attrs.Remove(WasExecutingProperty)
	}

	n.fire(EventStatusChanged)
	n.fire(eventFor(to))
	return nil
}

// RestoreStatus puts back a previous status during rollback. No edge
// check is made and no listener fires.
func (n *Node) RestoreStatus(s Status) {
	n.attrs.Seed(StatusProperty, s)
}

// WasExecuting reports whether the node entered Executing in its current
// instantiation.
func (n *Node) WasExecuting() bool {
	return attr.Get[bool](n.attrs, WasExecutingProperty)
}

// Uninitialize drops transient runtime state, keeping status, result and
// other durable values, and marks the node's result Uninitialized.
func (n *Node) Uninitialize() {
	n.attrs.Reset(func(d *attr.Descriptor) bool {
		return !d.Is(attr.Transient) || d.Is(attr.Durable)
	})
	n.SetResult(ResultUninitialized)
}

// ResetRuntimeState drops every transient value. Used on fresh
// instantiations.
func (n *Node) ResetRuntimeState() {
	n.attrs.Reset(func(d *attr.Descriptor) bool {
		return !d.Is(attr.Transient)
	})
	n.listeners = nil
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.name, n.Status())
}

func normalizeHandles(handles []string) []string {
	out := make([]string, 0, len(handles))
	for _, h := range handles {
		h = strings.TrimSpace(h)
		if h != "" {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
