// Package store provides SQLite-backed persistence for workflow instances.
//
// A Store keeps three tables:
//   - contexts: completed execution contexts, keyed by context guid
//   - instances: the latest persisted snapshot of each instance
//   - track_records: the tracking log written by executors
//
// Store implements engine.ContextStore, engine.InstanceStore and
// engine.Tracker, so one value can be passed to both WithContextStore and
// WithTracker.
//
// # Ordering
//
// Tracking records are always read back ordered by seq, the executor's
// logical clock, never by insertion order or wall time. Writes of a record
// whose (instance_id, seq) already exists are ignored, which makes
// re-delivery after a crash harmless.
//
// Completed contexts are listed newest completion first (order_id DESC),
// the order in which compensation visits them.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
