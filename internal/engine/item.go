package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/arbor/internal/activity"
)

// ErrStaleItem is returned by a Schedulable whose target has moved on
// since the item was queued. Hosts drop such items.
var ErrStaleItem = errors.New("stale item")

// Schedulable is one unit of work for the host queue.
type Schedulable interface {
	Run(rt Runtime) error
}

// OperationKind selects the lifecycle method an Item dispatches to.
type OperationKind int

const (
	OpExecute OperationKind = iota + 1
	OpCancel
	OpCompensate
	OpHandleFault
)

func (k OperationKind) String() string {
	switch k {
	case OpExecute:
		return "Execute"
	case OpCancel:
		return "Cancel"
	case OpCompensate:
		return "Compensate"
	case OpHandleFault:
		return "HandleFault"
	default:
		return fmt.Sprintf("OperationKind(%d)", int(k))
	}
}

// Item targets one node's lifecycle operation.
type Item struct {
	ContextID int
	Name      string
	Kind      OperationKind
	// Err is the fault being handled, for OpHandleFault.
	Err error
}

func (it Item) String() string {
	return fmt.Sprintf("%s %s@%d", it.Kind, it.Name, it.ContextID)
}

type operation struct {
	// expect is the status the target must still be in.
	expect activity.Status
	run    func(ec *ExecutionContext, b *Behavior, s strategy, fault error) (activity.Status, error)
}

var operations = map[OperationKind]operation{
	OpExecute: {
		expect: activity.StatusExecuting,
		run: func(ec *ExecutionContext, b *Behavior, s strategy, _ error) (activity.Status, error) {
			if b != nil && b.Execute != nil {
				return b.Execute(ec)
			}
			return s.Execute(ec)
		},
	},
	OpCancel: {
		expect: activity.StatusCanceling,
		run: func(ec *ExecutionContext, b *Behavior, s strategy, _ error) (activity.Status, error) {
			if b != nil && b.Cancel != nil {
				return b.Cancel(ec)
			}
			return s.Cancel(ec)
		},
	},
	OpCompensate: {
		expect: activity.StatusCompensating,
		run: func(ec *ExecutionContext, b *Behavior, s strategy, _ error) (activity.Status, error) {
			if b != nil && b.Compensate != nil {
				return b.Compensate(ec)
			}
			return s.Compensate(ec)
		},
	},
	OpHandleFault: {
		expect: activity.StatusFaulting,
		run: func(ec *ExecutionContext, b *Behavior, s strategy, fault error) (activity.Status, error) {
			if fault == nil {
				fault = ec.Fault()
			}
			if b != nil && b.HandleFault != nil {
				return b.HandleFault(ec, fault)
			}
			return s.HandleFault(ec, fault)
		},
	},
}

// Run resolves the target and dispatches the operation.
func (it Item) Run(rt Runtime) error {
	n, err := resolve(rt, it.ContextID, it.Name)
	if err != nil {
		return err
	}
	op, ok := operations[it.Kind]
	if !ok {
		return newProtocolError(ErrCodeInvalidArgument, n, "unknown operation %s", it.Kind)
	}
	if n.Status() != op.expect {
		return fmt.Errorf("%s on %s: %w", it.Kind, n, ErrStaleItem)
	}
	ec := newExecutionContext(rt, n)
	status, err := op.run(ec, behaviorOf(n), strategies[n.Shape()], it.Err)
	return settle(ec, status, err)
}

// Notification delivers a child's close to the node that started it.
type Notification struct {
	ContextID int
	Name      string
	Child     *activity.Node

	sub activity.Subscription
}

func (nt Notification) String() string {
	return fmt.Sprintf("ChildClosed %s@%d <- %s", nt.Name, nt.ContextID, nt.Child.QualifiedName())
}

// Run dispatches the ChildClosed continuation.
func (nt Notification) Run(rt Runtime) error {
	if nt.sub != 0 {
		nt.Child.Unsubscribe(activity.EventClosed, nt.sub)
	}
	n, err := resolve(rt, nt.ContextID, nt.Name)
	if err != nil {
		return err
	}
	switch n.Status() {
	case activity.StatusInitialized, activity.StatusClosed:
		return fmt.Errorf("child %s closed under %s: %w", nt.Child.QualifiedName(), n, ErrStaleItem)
	}
	ec := newExecutionContext(rt, n)
	var status activity.Status
	if b := behaviorOf(n); b != nil && b.ChildClosed != nil {
		status, err = b.ChildClosed(ec, nt.Child)
	} else {
		status, err = strategies[n.Shape()].ChildClosed(ec, nt.Child)
	}
	return settle(ec, status, err)
}

func resolve(rt Runtime, contextID int, name string) (*activity.Node, error) {
	ctxAct := rt.GetContextActivityForID(contextID)
	if ctxAct == nil {
		return nil, &ProtocolError{
			Code:      ErrCodeUnknownContext,
			Message:   fmt.Sprintf("no context activity registered for id %d", contextID),
			Activity:  name,
			ContextID: contextID,
		}
	}
	n := ctxAct.GetActivityByName(name, true)
	if n == nil {
		return nil, &ProtocolError{
			Code:      ErrCodeUnknownActivity,
			Message:   fmt.Sprintf("%q does not resolve under %s", name, ctxAct.QualifiedName()),
			Activity:  name,
			ContextID: contextID,
		}
	}
	return n, nil
}

// settle applies the status a behavior returned.
func settle(ec *ExecutionContext, status activity.Status, err error) error {
	n := ec.activity
	if err != nil {
		if IsProtocolError(err) {
			return err
		}
		return faultActivity(ec.rt, n, err)
	}
	if status == activity.StatusClosed {
		return closeActivity(ec.rt, n)
	}
	if status != n.Status() {
		return newProtocolError(ErrCodeInvalidTransition, n, "behavior returned %s while %s", status, n.Status())
	}
	return nil
}

// faultActivity routes a fault returned by n's own behavior. A node
// already unwinding closes as Faulted instead of taking another edge.
func faultActivity(rt Runtime, n *activity.Node, err error) error {
	switch n.Status() {
	case activity.StatusCanceling, activity.StatusFaulting, activity.StatusCompensating:
		if currentException(n) == nil {
			setCurrentException(n, err)
		}
		return closeActivity(rt, n)
	default:
		rt.RaiseException(err, n, "")
		return nil
	}
}
