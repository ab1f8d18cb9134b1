package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/arbor/internal/activity"
)

// waitTask stays Executing until the host signals it.
func waitTask() *Behavior {
	return &Behavior{
		Kind: "wait",
		Execute: func(ec *ExecutionContext) (activity.Status, error) {
			return activity.StatusExecuting, nil
		},
	}
}

// failTask faults with err as soon as it runs.
func failTask(err error) *Behavior {
	return &Behavior{
		Kind: "fail",
		Execute: func(*ExecutionContext) (activity.Status, error) {
			return 0, err
		},
	}
}

func simple(name string, opts ...activity.Option) *activity.Node {
	return activity.New(name, activity.ShapeSimple, opts...)
}

func composite(name string, b *Behavior, children []*activity.Node, opts ...activity.Option) *activity.Node {
	n := activity.New(name, activity.ShapeComposite, append(opts, activity.WithBehavior(b))...)
	for _, c := range children {
		if err := n.AddChild(c); err != nil {
			panic(err)
		}
	}
	return n
}

func nodes(ns ...*activity.Node) []*activity.Node { return ns }

// newTestExecutor seals def and starts an executor over it with a
// recorder attached and deterministic guids.
func newTestExecutor(t *testing.T, def *activity.Node, opts ...Option) (*Executor, *TraceRecorder) {
	t.Helper()
	require.NoError(t, activity.Seal(def))

	guids := make([]string, 32)
	for i := range guids {
		guids[i] = fmt.Sprintf("guid-%02d", i)
	}
	rec := NewTraceRecorder()
	opts = append([]Option{
		WithGUIDGenerator(NewFixedGenerator(guids...)),
		WithTracker(rec),
		WithInstanceID("test-instance"),
	}, opts...)

	e, err := New(def, opts...)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	return e, rec
}

func run(t *testing.T, e *Executor) {
	t.Helper()
	require.NoError(t, e.Run(context.Background()))
}

func find(t *testing.T, e *Executor, contextID int, name string) *activity.Node {
	t.Helper()
	n, err := e.Find(contextID, name)
	require.NoError(t, err)
	return n
}

// refs renders records as activity@context.
func refs(recs []TrackRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, fmt.Sprintf("%s@%d", r.Activity, r.ContextID))
	}
	return out
}

// entered returns the nodes that moved into status, in order.
func entered(rec *TraceRecorder, status activity.Status) []string {
	var matched []TrackRecord
	for _, r := range rec.Records("status") {
		if r.Status == status.String() {
			matched = append(matched, r)
		}
	}
	return refs(matched)
}

// closedWith returns the result ref carried the last time it reached
// Closed, or "" if it never closed.
func closedWith(rec *TraceRecorder, ref string) string {
	result := ""
	for _, r := range rec.Records("status") {
		if r.Status == activity.StatusClosed.String() && !strings.HasPrefix(r.Data, "committed") &&
			fmt.Sprintf("%s@%d", r.Activity, r.ContextID) == ref {
			result = r.Result
		}
	}
	return result
}
