// Package activity defines the workflow node tree and its status state
// machine.
//
// A Node carries a name, a shape (simple or composite), capability flags,
// an ordered child list and an attribute store. Status and result live in
// the store; SetStatus is the only way to move a node between statuses
// and it only accepts these edges:
//
//	Initialized -> Executing -> Closed
//	Executing -> Canceling -> Closed
//	Executing -> Faulting -> Closed
//	Closed -> Compensating -> Closed   (CanCompensate nodes only)
//
// Each change fires the EventStatusChanged listeners, then the listeners
// for the specific status. Holds (Hold / ReleaseHold) let collaborators
// defer a node's visible close; the engine consults HoldCount before
// closing and records MarkPrimaryClosed instead while holds remain.
//
// This package knows nothing about scheduling. The engine package drives
// nodes through the state machine; behaviors attached with WithBehavior
// are opaque here.
package activity
