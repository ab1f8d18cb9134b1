package engine

import (
	"github.com/roach88/arbor/internal/activity"
)

// ExecutionContext is the view of the runtime handed to behaviors. It is
// bound to the node the current operation targets.
type ExecutionContext struct {
	rt       Runtime
	activity *activity.Node
}

func newExecutionContext(rt Runtime, n *activity.Node) *ExecutionContext {
	return &ExecutionContext{rt: rt, activity: n}
}

// NewExecutionContext binds n to rt. Hosts use it to drive nodes from
// outside a scheduled item.
func NewExecutionContext(rt Runtime, n *activity.Node) *ExecutionContext {
	return newExecutionContext(rt, n)
}

// Activity returns the node this context is bound to.
func (ec *ExecutionContext) Activity() *activity.Node { return ec.activity }

// Runtime returns the host.
func (ec *ExecutionContext) Runtime() Runtime { return ec.rt }

// Info returns the id record of the execution context the node lives in.
func (ec *ExecutionContext) Info() ContextInfo {
	if info := ContextInfoOf(ContextActivity(ec.activity)); info != nil {
		return *info
	}
	return ContextInfo{ID: -1, ParentID: -1}
}

func (ec *ExecutionContext) ContextID() int { return ec.Info().ID }

func (ec *ExecutionContext) ContextGUID() string { return ec.Info().GUID }

func (ec *ExecutionContext) ParentContextID() int { return ec.Info().ParentID }

// Manager returns the context manager owned by this context.
func (ec *ExecutionContext) Manager() *ContextManager {
	return &ContextManager{owner: ec}
}

// Fault returns the fault currently recorded on the node.
func (ec *ExecutionContext) Fault() error {
	return currentException(ec.activity)
}

// ResolveFault clears the recorded fault so the node's close does not
// route it any further.
func (ec *ExecutionContext) ResolveFault() {
	clearCurrentException(ec.activity)
}

// Track forwards a tracking record to the host.
func (ec *ExecutionContext) Track(key string, data any) error {
	return ec.rt.Track(key, data)
}

// ExecuteActivity starts child.
//
// child must be an enabled, Initialized child of the bound node, or the
// bound node itself when it is the root of a freshly created context. The
// child moves to Executing; its Execute item is scheduled once the
// synchronization handles it needs are granted.
func (ec *ExecutionContext) ExecuteActivity(child *activity.Node) error {
	if err := ec.checkChild(child); err != nil {
		return err
	}
	if !child.Enabled() {
		return newProtocolError(ErrCodeInvalidArgument, child, "cannot execute a disabled activity")
	}
	if err := checkHandles(child); err != nil {
		return err
	}
	if err := setStatus(ec.rt, child, activity.StatusExecuting, false); err != nil {
		return err
	}
	ec.notifyOnClose(child)

	item := Item{ContextID: ContextIDOf(child), Name: child.QualifiedName(), Kind: OpExecute}
	rt := ec.rt
	acquired, err := acquireLocks(rt, child, func() { rt.ScheduleItem(item, false, false, true) })
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	rt.ScheduleItem(item, false, false, false)
	return nil
}

// CancelActivity moves an executing child to Canceling and schedules its
// Cancel operation.
func (ec *ExecutionContext) CancelActivity(child *activity.Node) error {
	if err := ec.checkChild(child); err != nil {
		return err
	}
	if err := setStatus(ec.rt, child, activity.StatusCanceling, false); err != nil {
		return err
	}
	ec.rt.ScheduleItem(Item{ContextID: ContextIDOf(child), Name: child.QualifiedName(), Kind: OpCancel}, false, false, false)
	return nil
}

// CompensateActivity moves a closed compensatable descendant (or a
// revived context root below the bound node) to Compensating and
// schedules its Compensate operation. The bound node is notified when it
// closes again.
func (ec *ExecutionContext) CompensateActivity(target *activity.Node) error {
	if target == nil {
		return newProtocolError(ErrCodeInvalidArgument, ec.activity, "compensate of nil activity")
	}
	if target != ec.activity && !ec.activity.IsAncestorOf(target) {
		return newProtocolError(ErrCodeInvalidArgument, target, "not below %s", ec.activity.QualifiedName())
	}
	if err := setStatus(ec.rt, target, activity.StatusCompensating, false); err != nil {
		return err
	}
	ec.notifyOnClose(target)
	ec.rt.ScheduleItem(Item{ContextID: ContextIDOf(target), Name: target.QualifiedName(), Kind: OpCompensate}, false, false, false)
	return nil
}

// CloseActivity closes the bound node from outside its own behavior, for
// nodes that finish on an external signal.
func (ec *ExecutionContext) CloseActivity() error {
	return closeActivity(ec.rt, ec.activity)
}

func (ec *ExecutionContext) checkChild(child *activity.Node) error {
	if child == nil {
		return newProtocolError(ErrCodeInvalidArgument, ec.activity, "nil child")
	}
	if child == ec.activity && isContextRoot(child) {
		return nil
	}
	if child.Parent() != ec.activity {
		return newProtocolError(ErrCodeInvalidArgument, child, "not a child of %s", ec.activity.QualifiedName())
	}
	return nil
}

// notifyOnClose schedules a ChildClosed notification for the node that
// started child: the bound node, or the parent when child is the bound
// context root itself.
func (ec *ExecutionContext) notifyOnClose(child *activity.Node) {
	target := ec.activity
	if child == ec.activity {
		target = child.Parent()
	}
	if target == nil {
		return
	}
	rt := ec.rt
	var sub activity.Subscription
	sub = child.Subscribe(activity.EventClosed, func(activity.StatusChange) {
		rt.ScheduleItem(Notification{
			ContextID: ContextIDOf(target),
			Name:      target.QualifiedName(),
			Child:     child,
			sub:       sub,
		}, false, false, true)
	})
}

// ownedContexts returns the active context roots whose template is a
// child of the bound node.
func (ec *ExecutionContext) ownedContexts() []*activity.Node {
	ctxAct := ContextActivity(ec.activity)
	if ctxAct == nil {
		return nil
	}
	var out []*activity.Node
	for _, root := range activeContexts(ctxAct) {
		if root.Parent() == ec.activity {
			out = append(out, root)
		}
	}
	return out
}

// quiescent reports whether every enabled child is Initialized or Closed
// and no context started below the node is still active.
func (ec *ExecutionContext) quiescent() bool {
	for _, c := range ec.activity.AllEnabledChildren() {
		if s := c.Status(); s != activity.StatusInitialized && s != activity.StatusClosed {
			return false
		}
	}
	return len(ec.ownedContexts()) == 0
}

// completeChildContext completes child's execution context when child is
// an active context root registered in this node's context.
func (ec *ExecutionContext) completeChildContext(child *activity.Node) error {
	if !isContextRoot(child) {
		return nil
	}
	m := ec.Manager()
	ctx := m.contextFor(child)
	if ctx == nil {
		return nil
	}
	return m.CompleteExecutionContext(ctx, false)
}

func setStatus(rt Runtime, n *activity.Node, to activity.Status, transacted bool) error {
	if err := n.SetStatus(to); err != nil {
		return wrapProtocolError(ErrCodeInvalidTransition, n, err)
	}
	rt.ActivityStatusChanged(n, transacted, false)
	return nil
}
