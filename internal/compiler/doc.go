// Package compiler turns CUE workflow definitions into sealed activity
// trees.
//
// A definition file declares one or more workflows under the top-level
// workflow field. Every node is checked against the #Node schema embedded
// in this package:
//
//	workflow: order: {
//		kind: "sequence"
//		children: [
//			{name: "reserve", compensatable: true},
//			{name: "approve", with: {mode: "wait"}},
//			{name: "ship", with: {mode: "fail", message: "no courier"}},
//		]
//	}
//
// The root takes its name from its label unless it sets name itself.
// Kinds map to engine behaviors: task (a simple node driven by its with:
// script), sequence, parallel, scope (a synchronization boundary running
// its children in order) and replicator (runs its single child count
// times, each in its own execution context).
//
// Compilation has three stages: Parse reads CUE into a Spec tree,
// Validate reports every structural problem at once, and Build produces
// the sealed definition.
package compiler
