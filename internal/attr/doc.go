// Package attr implements the per-node attribute store.
//
// Every piece of runtime state attached to an activity node (status,
// result, context bookkeeping, lock tables) lives in a Store keyed by a
// Descriptor. Descriptors are declared once, up front, in a Registry:
//
//	var Attributes = attr.NewRegistry()
//	var Enabled = attr.Register(Attributes, "Enabled", true, attr.Metadata)
//
// A Store never inspects the types it holds. Typed access goes through
// the generic Get helper, and persistence goes through the decode
// function captured by Register when the descriptor was declared.
//
// Flags classify a descriptor:
//
//   - ReadOnly: Set and Remove fail with ErrReadOnly. Seed bypasses this
//     for construction and decoding.
//   - Metadata: authoring-time data, copied from the definition on clone
//     and never persisted.
//   - NonSerialized: process-local runtime state excluded from snapshots.
//   - Transient: runtime state cleared whenever a subtree is instantiated.
//   - Durable: transient state that survives Uninitialize.
package attr
