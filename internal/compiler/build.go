package compiler

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/arbor/internal/activity"
	"github.com/roach88/arbor/internal/engine"
)

// Workflow is a compiled, sealed definition.
type Workflow struct {
	Name string
	Spec *Spec
	Root *activity.Node
}

// Build validates spec and produces its sealed definition tree. All
// validation problems are returned joined.
func Build(spec *Spec) (*Workflow, error) {
	if verrs := Validate(spec); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, e := range verrs {
			errs[i] = e
		}
		return nil, fmt.Errorf("workflow %s: %w", spec.Name, errors.Join(errs...))
	}

	root, err := buildNode(spec.Root)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", spec.Name, err)
	}
	if err := activity.Seal(root); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", spec.Name, err)
	}
	return &Workflow{Name: spec.Name, Spec: spec, Root: root}, nil
}

// Compile parses and builds the definition v.
func Compile(v cue.Value) (*Workflow, error) {
	spec, err := Parse(v)
	if err != nil {
		return nil, err
	}
	return Build(spec)
}

func buildNode(n *NodeSpec) (*activity.Node, error) {
	var caps activity.Capability
	if n.Compensatable {
		caps |= activity.CanCompensate
	}
	if n.PersistOnClose {
		caps |= activity.PersistOnClose
	}
	if n.Boundary || n.Kind == KindScope {
		caps |= activity.SyncBoundary
	}
	if n.Alternate {
		caps |= activity.AlternateFlow
	}

	opts := []activity.Option{activity.WithCapabilities(caps)}
	if len(n.Handles) > 0 {
		opts = append(opts, activity.WithHandles(n.Handles...))
	}
	if !n.Enabled {
		opts = append(opts, activity.Disabled())
	}

	shape := activity.ShapeComposite
	var b *engine.Behavior
	switch n.Kind {
	case KindTask:
		shape = activity.ShapeSimple
		script, err := DecodeScript(n.With)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Name, err)
		}
		b = script.Behavior()
	case KindSequence:
		b = engine.Sequence()
	case KindParallel:
		b = engine.Parallel()
	case KindScope:
		b = engine.Scope(n.Catch != nil && *n.Catch)
	case KindReplicator:
		count := 1
		if n.Count != nil {
			count = *n.Count
		}
		b = engine.Replicator(count)
	default:
		return nil, fmt.Errorf("%s: unknown kind %q", n.Name, n.Kind)
	}
	opts = append(opts, activity.WithBehavior(b))

	node := activity.New(n.Name, shape, opts...)
	for _, c := range n.Children {
		child, err := buildNode(c)
		if err != nil {
			return nil, err
		}
		if err := node.AddChild(child); err != nil {
			return nil, fmt.Errorf("%s: %w", n.Name, err)
		}
	}
	return node, nil
}
