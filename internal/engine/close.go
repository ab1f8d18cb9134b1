package engine

import (
	"github.com/roach88/arbor/internal/activity"
)

// closingResult maps the status a node closes from to its result. A node
// carrying an unresolved fault closes Faulted whatever its status.
func closingResult(n *activity.Node) activity.Result {
	if currentException(n) != nil {
		return activity.ResultFaulted
	}
	switch n.Status() {
	case activity.StatusExecuting:
		return activity.ResultSucceeded
	case activity.StatusCanceling:
		return activity.ResultCanceled
	case activity.StatusFaulting:
		return activity.ResultFaulted
	case activity.StatusCompensating:
		return activity.ResultCompensated
	default:
		return n.Result()
	}
}

// closeActivity completes n: its result is set from its status, its
// synchronization handles are released transactionally, and it is marked
// closed. On failure the result and grant tables are restored.
func closeActivity(rt Runtime, n *activity.Node) error {
	prev := n.Result()
	n.SetResult(closingResult(n))
	releaseLocks(rt, n, true)
	if err := markClosed(rt, n); err != nil {
		n.SetResult(prev)
		restoreCachedLocks(n)
		return err
	}
	return nil
}

// markClosed moves n to Closed.
//
// A composite may only close once every enabled child is Initialized or
// Closed and no active execution context resolves inside it. While holds
// are outstanding the close is only recorded as primary. The instance
// root, and succeeded nodes that are compensatable or persist on close,
// close durably; everything else closes provisionally.
func markClosed(rt Runtime, n *activity.Node) error {
	switch n.Status() {
	case activity.StatusExecuting, activity.StatusCanceling,
		activity.StatusFaulting, activity.StatusCompensating:
	default:
		return newProtocolError(ErrCodeInvalidClose, n, "cannot close from %s", n.Status())
	}

	if n.IsComposite() {
		for _, c := range n.AllEnabledChildren() {
			if s := c.Status(); s != activity.StatusInitialized && s != activity.StatusClosed {
				return newProtocolError(ErrCodeInvalidClose, n, "child %s is %s", c.QualifiedName(), s)
			}
		}
		if ctxAct := ContextActivity(n); ctxAct != nil {
			for _, root := range activeContexts(ctxAct) {
				if n.GetActivityByName(root.QualifiedName(), true) != nil {
					return newProtocolError(ErrCodeInvalidClose, n, "execution context %d of %s is still active",
						ContextInfoOf(root).ID, root.QualifiedName())
				}
			}
		}
	}

	if n.HoldCount() > 0 {
		n.MarkPrimaryClosed()
		return nil
	}

	if n.Parent() == nil || (n.Result() == activity.ResultSucceeded &&
		(n.Has(activity.CanCompensate) || n.Has(activity.PersistOnClose))) {
		return closeDurably(rt, n)
	}
	return closeProvisionally(rt, n)
}

func closeDurably(rt Runtime, n *activity.Node) error {
	oldStatus, oldResult := n.Status(), n.Result()
	if err := setStatus(rt, n, activity.StatusClosed, true); err != nil {
		return err
	}
	runOnClosed(rt, n)

	parent := n.Parent()
	ordered := false
	if parent != nil && n.Has(activity.CanCompensate) && n.Result() == activity.ResultSucceeded {
		n.Attrs().Seed(activity.CompletedOrderIDProperty, nextOrderID(n))
		ordered = true
	}

	err := func() error {
		exc := currentException(n)
		if canUninitializeNow(n) {
			uninitialize(rt, n)
		} else if parent == nil {
			if err := uninitializeCompletedContext(rt, n, newExecutionContext(rt, n)); err != nil {
				return err
			}
		}

		switch {
		case exc != nil && parent == nil:
			// Teardown cleared the fault; the host must still see it on
			// the committed close.
			setCurrentException(n, exc)
			rt.ActivityStatusChanged(n, false, true)
			rt.TerminateInstance(&FaultError{Activity: n.QualifiedName(), Err: exc})
			clearCurrentException(n)
		case exc != nil:
			rt.RaiseException(exc, parent, "")
			clearCurrentException(n)
		case parent == nil || n.Has(activity.PersistOnClose):
			if err := rt.PersistInstanceState(n); err != nil {
				return err
			}
			rt.ActivityStatusChanged(n, false, true)
		}
		clearCachedLocks(n)
		return nil
	}()
	if err != nil {
		if ordered {
			_ = n.Attrs().Remove(activity.CompletedOrderIDProperty)
			decrementOrderID(n)
		}
		n.SetResult(oldResult)
		n.RestoreStatus(oldStatus)
		restoreCachedLocks(n)
		return err
	}
	return nil
}

func closeProvisionally(rt Runtime, n *activity.Node) error {
	if err := setStatus(rt, n, activity.StatusClosed, false); err != nil {
		return err
	}
	runOnClosed(rt, n)
	exc := currentException(n)
	if canUninitializeNow(n) {
		uninitialize(rt, n)
	}
	if exc != nil {
		rt.RaiseException(exc, n.Parent(), "")
		clearCurrentException(n)
	}
	clearCachedLocks(n)
	return nil
}

// runOnClosed runs the close hook, capturing its error as the node's fault.
func runOnClosed(rt Runtime, n *activity.Node) {
	b := behaviorOf(n)
	if b == nil || b.OnClosed == nil {
		return
	}
	if err := b.OnClosed(newExecutionContext(rt, n)); err != nil {
		n.SetResult(activity.ResultFaulted)
		setCurrentException(n, err)
	}
}

// ReleaseHold drops a hold placed with Node.Hold. Releasing the last hold
// completes the deferred close; a node that never reached its primary
// close is closed as Canceled. If that close fails the hold is restored.
func ReleaseHold(rt Runtime, n *activity.Node, sub activity.Subscription) error {
	remaining, undo, ok := n.ReleaseHold(sub)
	if !ok {
		return newProtocolError(ErrCodeInvalidArgument, n, "no hold %d", sub)
	}
	if remaining > 0 {
		n.NotifyHoldCountChanged()
		return nil
	}
	if !n.HasPrimaryClosed() {
		n.SetResult(activity.ResultCanceled)
	}
	if err := markClosed(rt, n); err != nil {
		undo()
		return err
	}
	return nil
}
