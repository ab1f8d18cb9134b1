package engine

import (
	"slices"

	"github.com/roach88/arbor/internal/activity"
	"github.com/roach88/arbor/internal/attr"
)

// Behavior is the business logic attached to a node with
// activity.WithBehavior. Every field is optional; a nil field falls back
// to the default for the node's shape.
//
// Lifecycle methods return the node's next status. Returning the current
// status means the operation is still in progress; returning Closed runs
// the close algorithm. A returned error that is not a *ProtocolError is a
// business fault.
type Behavior struct {
	// Kind names the behavior in traces and tree output.
	Kind string

	Execute     func(ec *ExecutionContext) (activity.Status, error)
	Cancel      func(ec *ExecutionContext) (activity.Status, error)
	Compensate  func(ec *ExecutionContext) (activity.Status, error)
	HandleFault func(ec *ExecutionContext, err error) (activity.Status, error)

	// ChildClosed is called when a child (or a context root) started
	// through this node's ExecutionContext reaches Closed.
	ChildClosed func(ec *ExecutionContext, child *activity.Node) (activity.Status, error)

	// OnClosed runs as the node closes. An error does not abort the close;
	// it marks the node Faulted and is routed like any other fault.
	OnClosed func(ec *ExecutionContext) error

	// Uninitialize runs before the node's transient state is dropped.
	Uninitialize func(ec *ExecutionContext)
}

func behaviorOf(n *activity.Node) *Behavior {
	b, _ := n.Behavior().(*Behavior)
	return b
}

// KindOf returns the behavior kind attached to n, or its shape.
func KindOf(n *activity.Node) string {
	if b := behaviorOf(n); b != nil && b.Kind != "" {
		return b.Kind
	}
	return n.Shape().String()
}

// strategy supplies the default lifecycle for one node shape.
type strategy interface {
	Execute(ec *ExecutionContext) (activity.Status, error)
	Cancel(ec *ExecutionContext) (activity.Status, error)
	Compensate(ec *ExecutionContext) (activity.Status, error)
	HandleFault(ec *ExecutionContext, err error) (activity.Status, error)
	ChildClosed(ec *ExecutionContext, child *activity.Node) (activity.Status, error)
}

var strategies = map[activity.Shape]strategy{
	activity.ShapeSimple:    simpleStrategy{},
	activity.ShapeComposite: compositeStrategy{},
}

type simpleStrategy struct{}

func (simpleStrategy) Execute(*ExecutionContext) (activity.Status, error) {
	return activity.StatusClosed, nil
}

func (simpleStrategy) Cancel(*ExecutionContext) (activity.Status, error) {
	return activity.StatusClosed, nil
}

func (simpleStrategy) Compensate(*ExecutionContext) (activity.Status, error) {
	return activity.StatusClosed, nil
}

func (simpleStrategy) HandleFault(*ExecutionContext, error) (activity.Status, error) {
	return activity.StatusClosed, nil
}

func (simpleStrategy) ChildClosed(ec *ExecutionContext, _ *activity.Node) (activity.Status, error) {
	return ec.activity.Status(), nil
}

type compositeStrategy struct{}

func (compositeStrategy) Execute(*ExecutionContext) (activity.Status, error) {
	return activity.StatusClosed, nil
}

func (compositeStrategy) Cancel(ec *ExecutionContext) (activity.Status, error) {
	return CancelChildren(ec)
}

func (compositeStrategy) Compensate(ec *ExecutionContext) (activity.Status, error) {
	return CompensateChildren(ec)
}

func (compositeStrategy) HandleFault(ec *ExecutionContext, err error) (activity.Status, error) {
	return FaultChildren(ec, err)
}

func (compositeStrategy) ChildClosed(ec *ExecutionContext, child *activity.Node) (activity.Status, error) {
	return CompositeChildClosed(ec, child)
}

// CancelChildren cancels every executing child and every execution
// context the node started. It returns Canceling while any of them is
// still running and Closed once all are settled.
func CancelChildren(ec *ExecutionContext) (activity.Status, error) {
	busy := false
	for _, c := range ec.activity.AllEnabledChildren() {
		switch c.Status() {
		case activity.StatusExecuting:
			if err := ec.CancelActivity(c); err != nil {
				return 0, err
			}
			busy = true
		case activity.StatusCanceling, activity.StatusFaulting, activity.StatusCompensating:
			busy = true
		}
	}
	for _, root := range ec.ownedContexts() {
		switch root.Status() {
		case activity.StatusClosed, activity.StatusInitialized:
			// Settled contexts are completed now rather than waited on.
			if err := ec.completeChildContext(root); err != nil {
				return 0, err
			}
			continue
		case activity.StatusExecuting:
			if err := newExecutionContext(ec.rt, root).CancelActivity(root); err != nil {
				return 0, err
			}
		}
		busy = true
	}
	if busy {
		return activity.StatusCanceling, nil
	}
	return activity.StatusClosed, nil
}

// FaultChildren is the composite fault handler: children are canceled
// and the node stays Faulting until they have closed.
func FaultChildren(ec *ExecutionContext, _ error) (activity.Status, error) {
	status, err := CancelChildren(ec)
	if status == activity.StatusCanceling {
		status = activity.StatusFaulting
	}
	return status, err
}

// CompositeChildClosed is the default ChildClosed for composites.
//
// A closed context root owned by this node's context is completed. A
// canceling or faulting node closes once its children have settled; a
// compensating node moves on to the next compensation candidate.
func CompositeChildClosed(ec *ExecutionContext, child *activity.Node) (activity.Status, error) {
	if err := ec.completeChildContext(child); err != nil {
		return 0, err
	}
	switch ec.activity.Status() {
	case activity.StatusCanceling, activity.StatusFaulting:
		if ec.quiescent() {
			return activity.StatusClosed, nil
		}
	case activity.StatusCompensating:
		return CompensateChildren(ec)
	}
	return ec.activity.Status(), nil
}

// CompensateChildren starts compensation of the newest candidate below
// the node: a succeeded compensatable descendant in this context, or a
// completed context flagged as needing compensation. Candidates are
// ordered by completion order id, newest first. It returns Closed when
// nothing is left to compensate.
func CompensateChildren(ec *ExecutionContext) (activity.Status, error) {
	var (
		best      *activity.Node
		bestDesc  *ContextDescriptor
		bestOrder = -1
	)
	for _, c := range collectCompensatable(ec.activity) {
		if c.Result() != activity.ResultSucceeded {
			continue
		}
		if o := attr.Get[int](c.Attrs(), activity.CompletedOrderIDProperty); o > bestOrder {
			best, bestOrder = c, o
		}
	}
	for _, d := range completedContexts(ContextActivity(ec.activity)) {
		if d.Flags&FlagNeedsCompensation == 0 || ec.activity.GetActivityByName(d.ActivityName, true) == nil {
			continue
		}
		if d.CompletedOrderID > bestOrder {
			best, bestDesc, bestOrder = nil, d, d.CompletedOrderID
		}
	}

	switch {
	case bestDesc != nil:
		revived, err := ec.Manager().DiscardPersistedExecutionContext(bestDesc)
		if err != nil {
			return 0, err
		}
		if err := ec.CompensateActivity(revived.Activity()); err != nil {
			return 0, err
		}
	case best != nil:
		if err := ec.CompensateActivity(best); err != nil {
			return 0, err
		}
	default:
		return activity.StatusClosed, nil
	}
	return activity.StatusCompensating, nil
}

// Sequence runs enabled children one at a time in declaration order.
func Sequence() *Behavior {
	return &Behavior{
		Kind: "sequence",
		Execute: func(ec *ExecutionContext) (activity.Status, error) {
			return executeNext(ec, nil)
		},
		ChildClosed: sequenceChildClosed,
	}
}

func sequenceChildClosed(ec *ExecutionContext, child *activity.Node) (activity.Status, error) {
	if ec.activity.Status() != activity.StatusExecuting {
		return CompositeChildClosed(ec, child)
	}
	return executeNext(ec, child)
}

func executeNext(ec *ExecutionContext, after *activity.Node) (activity.Status, error) {
	children := ec.activity.EnabledChildren()
	next := 0
	if after != nil {
		i := slices.Index(children, after)
		if i < 0 {
			return ec.activity.Status(), nil
		}
		next = i + 1
	}
	if next >= len(children) {
		return activity.StatusClosed, nil
	}
	if err := ec.ExecuteActivity(children[next]); err != nil {
		return 0, err
	}
	return activity.StatusExecuting, nil
}

// Parallel starts every enabled child at once and closes when all have
// closed.
func Parallel() *Behavior {
	return &Behavior{
		Kind: "parallel",
		Execute: func(ec *ExecutionContext) (activity.Status, error) {
			children := ec.activity.EnabledChildren()
			if len(children) == 0 {
				return activity.StatusClosed, nil
			}
			for _, c := range children {
				if err := ec.ExecuteActivity(c); err != nil {
					return 0, err
				}
			}
			return activity.StatusExecuting, nil
		},
		ChildClosed: func(ec *ExecutionContext, child *activity.Node) (activity.Status, error) {
			if ec.activity.Status() != activity.StatusExecuting {
				return CompositeChildClosed(ec, child)
			}
			if ec.quiescent() {
				return activity.StatusClosed, nil
			}
			return activity.StatusExecuting, nil
		},
	}
}

// Scope runs its children as a sequence. Scopes are the usual carriers of
// the synchronization-boundary capability. With catch set, a fault that
// reaches the scope is resolved there once its children have been
// canceled: the scope closes Faulted and its parent carries on.
func Scope(catch bool) *Behavior {
	b := Sequence()
	b.Kind = "scope"
	if !catch {
		return b
	}
	b.HandleFault = func(ec *ExecutionContext, err error) (activity.Status, error) {
		status, ferr := FaultChildren(ec, err)
		if ferr == nil && status == activity.StatusClosed {
			ec.ResolveFault()
		}
		return status, ferr
	}
	b.ChildClosed = func(ec *ExecutionContext, child *activity.Node) (activity.Status, error) {
		faulting := ec.activity.Status() == activity.StatusFaulting
		status, err := sequenceChildClosed(ec, child)
		if err == nil && faulting && status == activity.StatusClosed {
			ec.ResolveFault()
		}
		return status, err
	}
	return b
}

// Replicator runs its first enabled child count times, one iteration at a
// time, each in a fresh execution context. Each context is completed as
// its root closes.
func Replicator(count int) *Behavior {
	start := func(ec *ExecutionContext) (activity.Status, error) {
		children := ec.activity.EnabledChildren()
		if len(children) == 0 || attr.Get[int](ec.activity.Attrs(), iterationProperty) >= count {
			return activity.StatusClosed, nil
		}
		ctx, err := ec.Manager().CreateExecutionContext(children[0])
		if err != nil {
			return 0, err
		}
		ec.activity.Attrs().Seed(iterationProperty, attr.Get[int](ec.activity.Attrs(), iterationProperty)+1)
		if err := ctx.ExecuteActivity(ctx.Activity()); err != nil {
			return 0, err
		}
		return activity.StatusExecuting, nil
	}
	return &Behavior{
		Kind:    "replicator",
		Execute: start,
		ChildClosed: func(ec *ExecutionContext, child *activity.Node) (activity.Status, error) {
			if ec.activity.Status() != activity.StatusExecuting {
				return CompositeChildClosed(ec, child)
			}
			if err := ec.completeChildContext(child); err != nil {
				return 0, err
			}
			return start(ec)
		},
	}
}
