// Package engine drives activity trees through their lifecycle.
//
// ARCHITECTURE:
//
// Single Logical Thread:
// A workflow instance is advanced one Schedulable at a time. The host
// (Executor by default) dequeues an item, resolves its target node through
// the context id and qualified name it carries, and dispatches the
// operation (Execute, Cancel, Compensate, HandleFault) through a table
// keyed by operation kind and node shape. Nothing in this package takes a
// lock on the node tree; the one-item-at-a-time contract is what keeps it
// consistent.
//
// Operation Flow:
//  1. A behavior returns the node's next status.
//  2. Closed runs the close algorithm: locks are released, the node is
//     marked closed (or recorded as primary-closed while held), order ids
//     are assigned and captured faults are routed upward.
//  3. Follow-on work (child execution, fault handling, parent
//     notifications) is scheduled back onto the host queue.
//
// Execution contexts are cloned subtrees registered with the host under a
// numeric id. Completed contexts that still owe compensation are persisted
// through the host and revived when the teardown reaches them.
//
// Errors come in two kinds. Business faults are ordinary errors returned
// by behaviors and routed through Faulting and HandleFault. Protocol
// violations are *ProtocolError values returned straight to the caller.
package engine
