package activity

import "github.com/roach88/arbor/internal/attr"

// Attributes is the registry every node attribute is declared in.
// Snapshots resolve persisted attribute names against it.
var Attributes = attr.NewRegistry()

var (
	EnabledProperty = attr.Register(Attributes, "Enabled", true, attr.Metadata)

	// HandlesProperty holds the synchronization handles a node declares itself.
	HandlesProperty = attr.Register(Attributes, "SynchronizationHandles", []string(nil), attr.Metadata,
		attr.WithCopy(copyStrings))

	DottedPathProperty = attr.Register(Attributes, "DottedPath", "", attr.Metadata|attr.ReadOnly)

	StatusProperty = attr.Register(Attributes, "ExecutionStatus", StatusInitialized, attr.Transient|attr.Durable)
	ResultProperty = attr.Register(Attributes, "ExecutionResult", ResultNone, attr.Transient|attr.Durable)

	WasExecutingProperty     = attr.Register(Attributes, "WasExecuting", false, attr.Transient)
	HoldCountProperty        = attr.Register(Attributes, "LockCountOnStatusChange", 0, attr.Transient)
	HasPrimaryClosedProperty = attr.Register(Attributes, "HasPrimaryClosed", false, attr.Transient)

	// CompletedOrderIDProperty is the order id assigned to a closed
	// compensatable node.
	CompletedOrderIDProperty = attr.Register(Attributes, "CompletedOrderId", 0, attr.Transient|attr.Durable)

	// OrderCounterProperty lives on the instance root and holds the last
	// completion order id handed out.
	OrderCounterProperty = attr.Register(Attributes, "CompletedOrderCounter", 0, attr.Normal)

	CurrentExceptionProperty = attr.Register(Attributes, "CurrentException", error(nil), attr.Transient|attr.NonSerialized)
)

func copyStrings(v any) any {
	s, _ := v.([]string)
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
