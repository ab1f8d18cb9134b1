package compiler

import (
	"fmt"
	"slices"
)

// Validation error codes (E100-E199)
const (
	ErrMissingName        = "E101" // non-root node without a name
	ErrDuplicateName      = "E102" // two nodes share a name
	ErrTaskChildren       = "E103" // task with children
	ErrReplicatorChildren = "E104" // replicator without exactly one enabled child
	ErrMisplacedField     = "E105" // field not valid for the node kind
	ErrInvalidScript      = "E106" // task script does not decode
	ErrAlternateRoot      = "E107" // root marked alternate or disabled
	ErrEmptyComposite     = "E108" // composite with no enabled children
)

// ValidationError represents a structural problem in a definition.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a parsed definition and returns every problem found
// (does not fail-fast). An empty result means Build will succeed.
func Validate(spec *Spec) []ValidationError {
	var errs []ValidationError
	add := func(n *NodeSpec, field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
			Line:    n.Pos.Line(),
		})
	}

	root := spec.Root
	if root.Alternate || !root.Enabled {
		add(root, spec.Name, ErrAlternateRoot, "the root must be enabled and on the normal flow")
	}

	seen := make(map[string]bool)
	var check func(n *NodeSpec, path string)
	check = func(n *NodeSpec, path string) {
		label := n.Name
		if label == "" {
			label = path
			add(n, path, ErrMissingName, "node has no name")
		} else if seen[n.Name] {
			add(n, n.Name, ErrDuplicateName, "name %q is used more than once", n.Name)
		}
		seen[n.Name] = true

		if n.Catch != nil && n.Kind != KindScope {
			add(n, label+".catch", ErrMisplacedField, "catch is only valid on a scope, not a %s", n.Kind)
		}
		if n.Count != nil && n.Kind != KindReplicator {
			add(n, label+".count", ErrMisplacedField, "count is only valid on a replicator, not a %s", n.Kind)
		}
		if n.With != nil && n.Kind != KindTask {
			add(n, label+".with", ErrMisplacedField, "with is only valid on a task, not a %s", n.Kind)
		}

		switch n.Kind {
		case KindTask:
			if len(n.Children) > 0 {
				add(n, label+".children", ErrTaskChildren, "a task cannot have children")
			}
			if n.Boundary {
				add(n, label+".boundary", ErrMisplacedField, "a task cannot be a synchronization boundary")
			}
			if _, err := DecodeScript(n.With); err != nil {
				add(n, label+".with", ErrInvalidScript, "%v", err)
			}
		case KindReplicator:
			if enabled := enabledChildren(n); len(enabled) != 1 {
				add(n, label+".children", ErrReplicatorChildren,
					"a replicator needs exactly one enabled child, has %d", len(enabled))
			}
		case KindSequence, KindScope, KindParallel:
			if len(enabledChildren(n)) == 0 {
				add(n, label+".children", ErrEmptyComposite, "a %s needs at least one enabled child", n.Kind)
			}
		}

		for i, c := range n.Children {
			check(c, fmt.Sprintf("%s.children[%d]", label, i))
		}
	}
	check(root, spec.Name)

	return errs
}

func enabledChildren(n *NodeSpec) []*NodeSpec {
	return slices.DeleteFunc(slices.Clone(n.Children), func(c *NodeSpec) bool {
		return !c.Enabled || c.Alternate
	})
}
