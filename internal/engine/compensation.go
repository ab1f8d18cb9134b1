package engine

import (
	"cmp"
	"slices"

	"github.com/roach88/arbor/internal/activity"
)

// NeedsCompensation reports whether n's subtree still owes compensation:
// a retained completed context flagged FlagNeedsCompensation whose activity
// resolves within n, or a compensatable node at or below n (searched
// breadth-first through composites) that closed successfully.
func NeedsCompensation(n *activity.Node) bool {
	for _, d := range completedContexts(n) {
		if d.Flags&FlagNeedsCompensation != 0 && n.GetActivityByName(d.ActivityName, true) != nil {
			return true
		}
	}

	queue := []*activity.Node{n}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if c.Has(activity.CanCompensate) &&
			c.Status() == activity.StatusClosed &&
			c.Result() == activity.ResultSucceeded {
			return true
		}
		if c.IsComposite() {
			queue = append(queue, c.AllEnabledChildren()...)
		}
	}
	return false
}

// canUninitializeNow reports whether n's transient state can be dropped
// as it closes: nothing below it needs compensation, including completed
// contexts recorded on its context root.
func canUninitializeNow(n *activity.Node) bool {
	if NeedsCompensation(n) {
		return false
	}
	ctxAct := ContextActivity(n)
	if ctxAct == nil || ctxAct == n {
		return true
	}
	for _, d := range completedContexts(ctxAct) {
		if d.Flags&FlagNeedsCompensation != 0 && n.GetActivityByName(d.ActivityName, true) != nil {
			return false
		}
	}
	return true
}

// collectCompensatable returns the compensatable nodes below n that ran in
// n's context and have not been uninitialized, in declaration order. The
// walk does not descend into a collected node.
func collectCompensatable(n *activity.Node) []*activity.Node {
	var out []*activity.Node
	for _, c := range n.AllEnabledChildren() {
		if c.Has(activity.CanCompensate) &&
			c.Status() == activity.StatusClosed &&
			c.Result() != activity.ResultUninitialized {
			out = append(out, c)
			continue
		}
		if c.IsComposite() {
			out = append(out, collectCompensatable(c)...)
		}
	}
	return out
}

// uninitializeCompletedContext tears down n once nothing will compensate
// it any more, innermost and latest first: retained completed contexts
// needing compensation are revived, torn down recursively and completed
// again, newest completion first; then compensatable nodes of n's own
// context in reverse order; then n itself.
func uninitializeCompletedContext(rt Runtime, n *activity.Node, ec *ExecutionContext) error {
	pending := slices.Clone(completedContexts(n))
	slices.SortStableFunc(pending, func(a, b *ContextDescriptor) int {
		return cmp.Compare(b.CompletedOrderID, a.CompletedOrderID)
	})
	m := ec.Manager()
	for _, d := range pending {
		if d.Flags&FlagNeedsCompensation == 0 || n.GetActivityByName(d.ActivityName, true) == nil {
			continue
		}
		revived, err := m.DiscardPersistedExecutionContext(d)
		if err != nil {
			return err
		}
		if err := uninitializeCompletedContext(rt, revived.activity, revived); err != nil {
			return err
		}
		if err := m.CompleteExecutionContext(revived, false); err != nil {
			return err
		}
	}

	if n.IsComposite() {
		children := collectCompensatable(n)
		for i := len(children) - 1; i >= 0; i-- {
			uninitialize(rt, children[i])
		}
	}
	uninitialize(rt, n)
	return nil
}

// uninitialize drops the transient state of n and, for composites, of
// every enabled child not already uninitialized.
func uninitialize(rt Runtime, n *activity.Node) {
	if n.IsComposite() {
		for _, c := range n.AllEnabledChildren() {
			if c.Result() != activity.ResultUninitialized {
				uninitialize(rt, c)
			}
		}
	}
	if b := behaviorOf(n); b != nil && b.Uninitialize != nil {
		b.Uninitialize(newExecutionContext(rt, n))
	}
	n.Uninitialize()
	_ = rt.Track("uninitialize", n)
}
