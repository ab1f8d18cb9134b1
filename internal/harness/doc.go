// Package harness runs YAML scenarios against a real workflow executor.
//
// A scenario names a CUE workflow definition, drives one instance through
// host requests and checks the resulting tracking trace.
//
// # Scenario Format
//
//	name: approval_rejected
//	description: "A rejected approval faults the order"
//	definition: ../defs/order.cue
//	workflow: order
//	steps:
//	  - action: start
//	    expect:
//	      state: running
//	      statuses: { approve: Executing }
//	  - action: signal
//	    activity: approve
//	    error: "rejected"
//	    expect: { state: terminated }
//	assertions:
//	  - type: trace_contains
//	    key: status
//	    activity: reserve
//	    status: Compensating
//	  - type: trace_order
//	    sequence:
//	      - { key: start }
//	      - { key: terminate, data: rejected }
//	  - type: trace_count
//	    key: reserved
//	    count: 2
//	  - type: final_state
//	    outcome: terminated
//
// Steps are start (always first), signal, cancel, compensate and resume.
// Each step enqueues its request and drains the queue before its expect
// clause is checked.
//
// # Assertion Types
//
//   - trace_contains: some record matches key, activity, status, result and data
//   - trace_order: the sequence matches records in order, gaps allowed
//   - trace_count: exactly count records match
//   - final_state: the outcome recovered from the store's tracking log
//
// # Deterministic Testing
//
// Every scenario runs in a fresh in-memory SQLite store with a
// testutil.DeterministicClock and testutil.SequentialGUIDs, so a trace is
// byte-identical across runs and can be compared against golden files.
package harness
