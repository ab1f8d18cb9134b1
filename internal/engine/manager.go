package engine

import (
	"errors"
	"slices"

	"github.com/roach88/arbor/internal/activity"
	"github.com/roach88/arbor/internal/snapshot"
)

// ContextManager creates, completes and revives the execution contexts
// started by its owner. Active and completed context lists live on the
// owner's context root.
type ContextManager struct {
	owner *ExecutionContext
}

func (m *ContextManager) contextActivity() *activity.Node {
	return ContextActivity(m.owner.activity)
}

// ExecutionContexts returns the active child contexts of the owner's
// context, in creation order.
func (m *ContextManager) ExecutionContexts() []*ExecutionContext {
	ctxAct := m.contextActivity()
	if ctxAct == nil {
		return nil
	}
	var out []*ExecutionContext
	for _, root := range activeContexts(ctxAct) {
		out = append(out, newExecutionContext(m.owner.rt, root))
	}
	return out
}

// CompletedContexts returns copies of the retained completed-context
// descriptors.
func (m *ContextManager) CompletedContexts() []*ContextDescriptor {
	ctxAct := m.contextActivity()
	if ctxAct == nil {
		return nil
	}
	list := completedContexts(ctxAct)
	out := make([]*ContextDescriptor, 0, len(list))
	for _, d := range list {
		c := *d
		out = append(out, &c)
	}
	return out
}

// CreateExecutionContext instantiates template as a new execution context.
//
// template must be an enabled child of the owner that resolves to the
// same node from both the owner and the owner's context root. The clone
// has fresh runtime state, a new id and guid, and the owner's context as
// its parent context.
func (m *ContextManager) CreateExecutionContext(template *activity.Node) (*ExecutionContext, error) {
	owner := m.owner.activity
	if template == nil {
		return nil, newProtocolError(ErrCodeInvalidArgument, owner, "create context from nil template")
	}
	if template.Parent() != owner {
		return nil, newProtocolError(ErrCodeInvalidArgument, template, "not a child of %s", owner.QualifiedName())
	}
	if !template.Enabled() {
		return nil, newProtocolError(ErrCodeInvalidArgument, template, "template is disabled")
	}
	ctxAct := m.contextActivity()
	if ctxAct == nil {
		return nil, newProtocolError(ErrCodeInvalidContext, owner, "owner has no context root")
	}
	name := template.QualifiedName()
	if ctxAct.GetActivityByName(name, true) != template || owner.GetActivityByName(name, true) != template {
		return nil, newProtocolError(ErrCodeInvalidArgument, template, "template does not resolve from its context")
	}

	rt := m.owner.rt
	clone, err := snapshot.NewSession(activity.Attributes).Clone(template)
	if err != nil {
		return nil, err
	}
	info := &ContextInfo{
		ID:       rt.NewContextID(),
		GUID:     rt.NewContextGUID(),
		ParentID: m.owner.ContextID(),
	}
	clone.Attrs().Seed(contextInfoProperty, info)
	setActive(ctxAct, append(slices.Clip(activeContexts(ctxAct)), clone))

	if err := rt.RegisterContextActivity(clone); err != nil {
		removeActive(ctxAct, clone)
		rt.ReleaseContextID(info.ID)
		return nil, err
	}
	_ = rt.Track("context.create", clone)
	return newExecutionContext(rt, clone), nil
}

// CompleteExecutionContext retires an active child context.
//
// The context root must be Closed or Initialized. If the subtree still
// needs compensation, or forcePersist is set, a descriptor with the next
// completion order id is retained and the subtree is saved through the
// host. Otherwise the context is uninitialized and its id released.
func (m *ContextManager) CompleteExecutionContext(child *ExecutionContext, forcePersist bool) error {
	if child == nil {
		return newProtocolError(ErrCodeInvalidArgument, m.owner.activity, "complete of nil context")
	}
	root := child.activity
	ctxAct := m.contextActivity()
	if ctxAct == nil || !slices.Contains(activeContexts(ctxAct), root) {
		return newProtocolError(ErrCodeInvalidContext, root, "not an active context of %s", m.owner.activity.QualifiedName())
	}
	if s := root.Status(); s != activity.StatusClosed && s != activity.StatusInitialized {
		return newProtocolError(ErrCodeInvalidContext, root, "cannot complete context while %s", s)
	}

	rt := m.owner.rt
	info := ContextInfoOf(root)
	needs := NeedsCompensation(root)
	if needs || forcePersist {
		desc := &ContextDescriptor{
			GUID:             info.GUID,
			ContextID:        info.ID,
			ActivityName:     root.QualifiedName(),
			CompletedOrderID: nextOrderID(root),
		}
		if needs {
			desc.Flags |= FlagNeedsCompensation
		}
		if forcePersist {
			desc.Flags |= FlagForcePersist
		}
		completed := completedContexts(ctxAct)
		setCompleted(ctxAct, append(slices.Clip(completed), desc))
		if err := rt.SaveContextActivity(root); err != nil {
			setCompleted(ctxAct, completed)
			decrementOrderID(root)
			return err
		}
	}

	removeActive(ctxAct, root)
	rt.UnregisterContextActivity(root)
	if !needs && root.Result() != activity.ResultUninitialized && canUninitializeNow(root) {
		uninitialize(rt, root)
	}
	if !needs && !forcePersist {
		rt.ReleaseContextID(info.ID)
	}
	_ = rt.Track("context.complete", root)
	return nil
}

// DiscardPersistedExecutionContext revives a completed context: the
// subtree is reloaded through the host, registered as active again under
// its original id, and its descriptor, force-persist flag included, is
// dropped from the completed list. If registration fails the subtree is
// saved back and the descriptor stays.
func (m *ContextManager) DiscardPersistedExecutionContext(desc *ContextDescriptor) (*ExecutionContext, error) {
	owner := m.owner.activity
	if desc == nil {
		return nil, newProtocolError(ErrCodeInvalidArgument, owner, "discard of nil descriptor")
	}
	ctxAct := m.contextActivity()
	if ctxAct == nil {
		return nil, newProtocolError(ErrCodeInvalidContext, owner, "owner has no context root")
	}
	completed := completedContexts(ctxAct)
	idx := slices.IndexFunc(completed, func(d *ContextDescriptor) bool { return d.GUID == desc.GUID })
	if idx < 0 {
		return nil, newProtocolError(ErrCodeInvalidArgument, owner, "context %s is not a completed context of %s", desc.GUID, ctxAct.QualifiedName())
	}
	template := ctxAct.GetActivityByName(desc.ActivityName, true)
	if template == nil {
		return nil, newProtocolError(ErrCodeUnknownActivity, owner, "completed context activity %q no longer resolves", desc.ActivityName)
	}

	rt := m.owner.rt
	root, err := rt.LoadContextActivity(completed[idx], template)
	if err != nil {
		return nil, err
	}
	if err := rt.RegisterContextActivity(root); err != nil {
		if serr := rt.SaveContextActivity(root); serr != nil {
			return nil, errors.Join(err, serr)
		}
		return nil, err
	}
	setActive(ctxAct, append(slices.Clip(activeContexts(ctxAct)), root))
	setCompleted(ctxAct, slices.Delete(slices.Clone(completed), idx, idx+1))
	_ = rt.Track("context.discard", root)
	return newExecutionContext(rt, root), nil
}

// GetExecutionContext returns the active context for n: the context n is
// the root of, or else the first active context instantiated from the
// template with n's qualified name. It returns nil if there is none.
func (m *ContextManager) GetExecutionContext(n *activity.Node) *ExecutionContext {
	if n == nil {
		return nil
	}
	if ctx := m.contextFor(n); ctx != nil {
		return ctx
	}
	ctxAct := m.contextActivity()
	if ctxAct == nil {
		return nil
	}
	for _, root := range activeContexts(ctxAct) {
		if root.QualifiedName() == n.QualifiedName() {
			return newExecutionContext(m.owner.rt, root)
		}
	}
	return nil
}

// GetPersistedExecutionContext revives the force-persisted completed
// context with the given guid.
func (m *ContextManager) GetPersistedExecutionContext(guid string) (*ExecutionContext, error) {
	for _, d := range m.CompletedContexts() {
		if d.GUID == guid && d.Flags&FlagForcePersist != 0 {
			return m.DiscardPersistedExecutionContext(d)
		}
	}
	return nil, newProtocolError(ErrCodeInvalidArgument, m.owner.activity, "no persisted context with guid %s", guid)
}

func (m *ContextManager) contextFor(root *activity.Node) *ExecutionContext {
	ctxAct := m.contextActivity()
	if ctxAct == nil || !slices.Contains(activeContexts(ctxAct), root) {
		return nil
	}
	return newExecutionContext(m.owner.rt, root)
}

func setActive(ctxAct *activity.Node, list []*activity.Node) {
	if len(list) == 0 {
		_ = ctxAct.Attrs().Remove(activeContextsProperty)
		return
	}
	ctxAct.Attrs().Seed(activeContextsProperty, list)
}

func removeActive(ctxAct *activity.Node, root *activity.Node) {
	list := slices.Clone(activeContexts(ctxAct))
	if i := slices.Index(list, root); i >= 0 {
		list = slices.Delete(list, i, i+1)
	}
	setActive(ctxAct, list)
}

func setCompleted(ctxAct *activity.Node, list []*ContextDescriptor) {
	if len(list) == 0 {
		_ = ctxAct.Attrs().Remove(completedContextsProperty)
		return
	}
	ctxAct.Attrs().Seed(completedContextsProperty, list)
}
