package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/arbor/internal/activity"
	"github.com/roach88/arbor/internal/engine"
)

func waitBehavior() *engine.Behavior {
	return &engine.Behavior{
		Kind: "wait",
		Execute: func(*engine.ExecutionContext) (activity.Status, error) {
			return activity.StatusExecuting, nil
		},
	}
}

// compensationDefinition builds root(C(R(body x2), compensatable), W).
func compensationDefinition(t *testing.T) *activity.Node {
	t.Helper()
	comp := activity.WithCapabilities(activity.CanCompensate)

	root := activity.New("root", activity.ShapeComposite, activity.WithBehavior(engine.Sequence()))
	c := activity.New("C", activity.ShapeComposite, comp, activity.WithBehavior(engine.Sequence()))
	r := activity.New("R", activity.ShapeComposite, activity.WithBehavior(engine.Replicator(2)))
	require.NoError(t, r.AddChild(activity.New("body", activity.ShapeSimple, comp)))
	require.NoError(t, c.AddChild(r))
	require.NoError(t, root.AddChild(c))
	require.NoError(t, root.AddChild(activity.New("W", activity.ShapeSimple,
		activity.WithCapabilities(activity.PersistOnClose),
		activity.WithBehavior(waitBehavior()))))
	require.NoError(t, activity.Seal(root))
	return root
}

func TestExecutor_PersistsThroughStore(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e, err := engine.New(compensationDefinition(t),
		engine.WithContextStore(s),
		engine.WithTracker(s),
		engine.WithInstanceID("inst-1"),
		engine.WithGUIDGenerator(engine.NewFixedGenerator("g0", "g1", "g2", "g3")),
	)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	require.NoError(t, e.Run(ctx))

	saved, err := s.ListContexts(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Greater(t, saved[0].OrderID, saved[1].OrderID)
	for _, rec := range saved {
		assert.Equal(t, "body", rec.Activity)
		assert.NotEmpty(t, rec.Data)
	}

	state, err := s.GetInstanceState(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "root", state.Root)
	assert.False(t, state.IsComplete())
	assert.Equal(t, 2, state.OpenContexts)

	incomplete, err := s.FindIncompleteInstances(ctx)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, "inst-1", incomplete[0].InstanceID)

	e.Compensate(0, "C")
	require.NoError(t, e.Run(ctx))

	saved, err = s.ListContexts(ctx, "inst-1")
	require.NoError(t, err)
	assert.Empty(t, saved, "revived contexts are removed from the store")

	e.Signal(0, "W", nil)
	require.NoError(t, e.Run(ctx))
	require.Equal(t, engine.StateCompleted, e.State())

	state, err = s.GetInstanceState(ctx, "inst-1")
	require.NoError(t, err)
	assert.True(t, state.IsComplete())
	assert.Equal(t, "completed", state.Outcome)
	assert.Equal(t, "Succeeded", state.Result)
	assert.True(t, state.Persisted)
	assert.Zero(t, state.OpenContexts)

	_, revision, ok, err := s.LoadInstance(ctx, "inst-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, revision, "W and the root both checkpoint")

	incomplete, err = s.FindIncompleteInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, incomplete)
}

func TestGetInstanceState_Terminated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	root := activity.New("root", activity.ShapeComposite, activity.WithBehavior(engine.Sequence()))
	require.NoError(t, root.AddChild(activity.New("f", activity.ShapeSimple, activity.WithBehavior(&engine.Behavior{
		Kind: "fail",
		Execute: func(*engine.ExecutionContext) (activity.Status, error) {
			return 0, errors.New("disk full")
		},
	}))))
	require.NoError(t, activity.Seal(root))

	e, err := engine.New(root, engine.WithTracker(s), engine.WithInstanceID("inst-2"))
	require.NoError(t, err)
	require.NoError(t, e.Start())
	require.NoError(t, e.Run(ctx))
	require.Equal(t, engine.StateTerminated, e.State())

	state, err := s.GetInstanceState(ctx, "inst-2")
	require.NoError(t, err)
	assert.Equal(t, "terminated", state.Outcome)
	assert.Contains(t, state.Failure, "disk full")
	assert.False(t, state.Persisted)
}
