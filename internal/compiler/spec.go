package compiler

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaSrc string

// Node kinds.
const (
	KindTask       = "task"
	KindSequence   = "sequence"
	KindParallel   = "parallel"
	KindScope      = "scope"
	KindReplicator = "replicator"
)

// NodeSpec is one node of a parsed definition.
type NodeSpec struct {
	Name           string
	Kind           string
	Compensatable  bool
	PersistOnClose bool
	Boundary       bool
	Alternate      bool
	Enabled        bool
	Handles        []string

	// Count is nil unless the definition set it.
	Count *int
	// Catch is nil unless the definition set it.
	Catch *bool
	// With holds the raw task script.
	With map[string]any

	Children []*NodeSpec
	Pos      token.Pos
}

// Spec is a parsed workflow definition.
type Spec struct {
	Name string
	Root *NodeSpec
}

// nodeFields mirrors #Node for cue.Value.Decode; children are walked
// separately so every node keeps its source position.
type nodeFields struct {
	Name           string         `json:"name"`
	Kind           string         `json:"kind"`
	Compensatable  bool           `json:"compensatable"`
	PersistOnClose bool           `json:"persist_on_close"`
	Boundary       bool           `json:"boundary"`
	Alternate      bool           `json:"alternate"`
	Enabled        bool           `json:"enabled"`
	Handles        []string       `json:"handles"`
	Count          *int           `json:"count"`
	Catch          *bool          `json:"catch"`
	With           map[string]any `json:"with"`
}

// Parse reads the workflow definition v. v is the node struct itself,
// e.g. the value at workflow.order.
func Parse(v cue.Value) (*Spec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	schema := v.Context().CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Node")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	root, err := parseNode(unified, v)
	if err != nil {
		return nil, err
	}
	if root.Name == "" {
		labels := v.Path().Selectors()
		if len(labels) > 0 {
			root.Name = labels[len(labels)-1].String()
		}
	}
	if root.Name == "" {
		return nil, &CompileError{
			Field:   "name",
			Message: "workflow root needs a name or a label",
			Pos:     v.Pos(),
		}
	}
	return &Spec{Name: root.Name, Root: root}, nil
}

// parseNode decodes the schema-unified value v; src is the same node in
// the source so positions point at the definition file.
func parseNode(v, src cue.Value) (*NodeSpec, error) {
	var f nodeFields
	if err := v.Decode(&f); err != nil {
		return nil, formatCUEError(err)
	}
	n := &NodeSpec{
		Name:           f.Name,
		Kind:           f.Kind,
		Compensatable:  f.Compensatable,
		PersistOnClose: f.PersistOnClose,
		Boundary:       f.Boundary,
		Alternate:      f.Alternate,
		Enabled:        f.Enabled,
		Handles:        f.Handles,
		Count:          f.Count,
		Catch:          f.Catch,
		With:           f.With,
		Pos:            src.Pos(),
	}

	childrenVal := v.LookupPath(cue.ParsePath("children"))
	if !childrenVal.Exists() {
		return n, nil
	}
	iter, err := childrenVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	srcIter, err := src.LookupPath(cue.ParsePath("children")).List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		srcIter.Next()
		child, err := parseNode(iter.Value(), srcIter.Value())
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}

// Walk calls fn for n and every descendant, parents first.
func (n *NodeSpec) Walk(fn func(*NodeSpec)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
