package engine

import (
	"github.com/roach88/arbor/internal/activity"
	"github.com/roach88/arbor/internal/attr"
)

// ContextInfo identifies an execution context. It is stored on the
// context's root node and persisted with it.
type ContextInfo struct {
	ID       int    `json:"id"`
	GUID     string `json:"guid"`
	ParentID int    `json:"parent_id"`
}

// PersistFlags qualify a completed-context descriptor.
type PersistFlags int

const (
	FlagNeedsCompensation PersistFlags = 1 << iota
	FlagForcePersist
)

func (f PersistFlags) String() string {
	switch f {
	case 0:
		return "none"
	case FlagNeedsCompensation:
		return "needs_compensation"
	case FlagForcePersist:
		return "force_persist"
	default:
		return "needs_compensation|force_persist"
	}
}

// ContextDescriptor records a completed execution context retained for
// compensation or explicit revival.
type ContextDescriptor struct {
	GUID             string       `json:"guid"`
	ContextID        int          `json:"context_id"`
	ActivityName     string       `json:"activity"`
	CompletedOrderID int          `json:"order_id"`
	Flags            PersistFlags `json:"flags"`
}

// GrantedLock is the grant table entry for one synchronization handle.
type GrantedLock struct {
	Holder  *activity.Node
	Waiters []*activity.Node
}

func (g *GrantedLock) clone() *GrantedLock {
	return &GrantedLock{
		Holder:  g.Holder,
		Waiters: append([]*activity.Node(nil), g.Waiters...),
	}
}

type grantTable map[string]*GrantedLock

// wokenWaiter remembers the continuation of a waiter a transactional
// release handed a lock to, so a rollback can put it back.
type wokenWaiter struct {
	node       *activity.Node
	onAcquired func()
}

var (
	contextInfoProperty = attr.Register(activity.Attributes, "ExecutionContextInfo", (*ContextInfo)(nil), attr.Normal)

	activeContextsProperty = attr.Register(activity.Attributes, "ActiveExecutionContexts", []*activity.Node(nil),
		attr.NonSerialized|attr.Transient)

	completedContextsProperty = attr.Register(activity.Attributes, "CompletedExecutionContexts", []*ContextDescriptor(nil),
		attr.Transient|attr.Durable)

	grantedLocksProperty       = attr.Register(activity.Attributes, "GrantedLocks", grantTable(nil), attr.NonSerialized|attr.Transient)
	cachedGrantedLocksProperty = attr.Register(activity.Attributes, "CachedGrantedLocks", grantTable(nil), attr.NonSerialized|attr.Transient)
	lockAcquiredProperty       = attr.Register(activity.Attributes, "LockAcquiredCallback", (func())(nil), attr.NonSerialized|attr.Transient)
	wokenWaitersProperty       = attr.Register(activity.Attributes, "CachedWokenWaiters", []wokenWaiter(nil), attr.NonSerialized|attr.Transient)

	// iterationProperty counts contexts a replicator has started.
	iterationProperty = attr.Register(activity.Attributes, "ReplicatorIteration", 0, attr.Transient|attr.Durable)
)

// ContextActivity returns the root of the execution context n lives in:
// the nearest node, n included, that carries context info.
func ContextActivity(n *activity.Node) *activity.Node {
	for cur := n; cur != nil; cur = cur.Parent() {
		if cur.Attrs().Has(contextInfoProperty) {
			return cur
		}
	}
	return nil
}

// ContextInfoOf returns the context info stored on a context root.
func ContextInfoOf(n *activity.Node) *ContextInfo {
	if n == nil {
		return nil
	}
	return attr.Get[*ContextInfo](n.Attrs(), contextInfoProperty)
}

// ContextIDOf returns the id of the context n lives in, or -1.
func ContextIDOf(n *activity.Node) int {
	if info := ContextInfoOf(ContextActivity(n)); info != nil {
		return info.ID
	}
	return -1
}

func isContextRoot(n *activity.Node) bool {
	return n.Attrs().Has(contextInfoProperty)
}

func currentException(n *activity.Node) error {
	return attr.Get[error](n.Attrs(), activity.CurrentExceptionProperty)
}

func setCurrentException(n *activity.Node, err error) {
	n.Attrs().Seed(activity.CurrentExceptionProperty, err)
}

func clearCurrentException(n *activity.Node) {
	_ = n.Attrs().Remove(activity.CurrentExceptionProperty)
}

func activeContexts(ctxAct *activity.Node) []*activity.Node {
	return attr.Get[[]*activity.Node](ctxAct.Attrs(), activeContextsProperty)
}

func completedContexts(n *activity.Node) []*ContextDescriptor {
	return attr.Get[[]*ContextDescriptor](n.Attrs(), completedContextsProperty)
}

// nextOrderID hands out the next completion order id from the instance
// root's counter.
func nextOrderID(n *activity.Node) int {
	root := n.Root()
	id := attr.Get[int](root.Attrs(), activity.OrderCounterProperty) + 1
	root.Attrs().Seed(activity.OrderCounterProperty, id)
	return id
}

func decrementOrderID(n *activity.Node) {
	root := n.Root()
	id := attr.Get[int](root.Attrs(), activity.OrderCounterProperty)
	if id > 0 {
		root.Attrs().Seed(activity.OrderCounterProperty, id-1)
	}
}
