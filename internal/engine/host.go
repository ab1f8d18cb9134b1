package engine

import "github.com/roach88/arbor/internal/activity"

// Runtime is the host contract the core calls into.
//
// All methods are invoked from the single operation currently running
// against the instance. Executor is the default implementation.
type Runtime interface {
	// ScheduleItem queues follow-on work. Items scheduled with
	// queueInTransaction are held until the running operation succeeds
	// and dropped if it fails.
	ScheduleItem(item Schedulable, isAtomic, transacted, queueInTransaction bool)

	// ActivityStatusChanged is told about every status change after the
	// node's own listeners have run.
	ActivityStatusChanged(n *activity.Node, transacted, committed bool)

	// RaiseException routes a business fault to target.
	RaiseException(err error, target *activity.Node, reason string)
	TerminateInstance(err error)
	SuspendInstance(reason string)

	// PersistInstanceState is asked to checkpoint the instance after a
	// durable close.
	PersistInstanceState(n *activity.Node) error

	GetContextActivityForID(id int) *activity.Node
	RegisterContextActivity(n *activity.Node) error
	UnregisterContextActivity(n *activity.Node)

	// NewContextID allocates a process-local context id; ReleaseContextID
	// makes it available for reuse.
	NewContextID() int
	ReleaseContextID(id int)
	NewContextGUID() string

	// SaveContextActivity persists a completed context subtree.
	// LoadContextActivity revives it, instantiated from template.
	SaveContextActivity(n *activity.Node) error
	LoadContextActivity(desc *ContextDescriptor, template *activity.Node) (*activity.Node, error)

	Track(key string, data any) error
}
