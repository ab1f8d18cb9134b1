package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/arbor/internal/activity"
)

// driver runs fn as the Execute of a composite and closes it afterwards.
func driver(fn func(ec *ExecutionContext)) *Behavior {
	return &Behavior{
		Kind: "driver",
		Execute: func(ec *ExecutionContext) (activity.Status, error) {
			fn(ec)
			return activity.StatusClosed, nil
		},
	}
}

func TestContextManager_PersistRoundTrip(t *testing.T) {
	var (
		created, revived *ExecutionContext
		guid             string
		id               int
		afterComplete    []*ContextDescriptor
		afterDiscard     []*ContextDescriptor
	)
	def := composite("host", driver(func(ec *ExecutionContext) {
		m := ec.Manager()
		unit := ec.Activity().Children()[0]

		var err error
		created, err = m.CreateExecutionContext(unit)
		require.NoError(t, err)
		guid, id = created.ContextGUID(), created.ContextID()

		require.NoError(t, m.CompleteExecutionContext(created, true))
		afterComplete = m.CompletedContexts()
		assert.Nil(t, m.GetExecutionContext(created.Activity()))

		revived, err = m.GetPersistedExecutionContext(guid)
		require.NoError(t, err)
		afterDiscard = m.CompletedContexts()

		require.NoError(t, m.CompleteExecutionContext(revived, false))
	}), nodes(composite("unit", nil, nodes(simple("leaf")))))

	e, rec := newTestExecutor(t, def)
	run(t, e)

	require.Len(t, afterComplete, 1)
	assert.Equal(t, guid, afterComplete[0].GUID)
	assert.Equal(t, FlagForcePersist, afterComplete[0].Flags)
	assert.Equal(t, "unit", afterComplete[0].ActivityName)
	assert.Empty(t, afterDiscard)

	assert.Equal(t, guid, revived.ContextGUID())
	assert.Equal(t, id, revived.ContextID())
	assert.Equal(t, 0, revived.ParentContextID())
	assert.NotSame(t, created.Activity(), revived.Activity())
	assert.NotNil(t, revived.Activity().GetActivityByName("leaf", true))
	assert.Equal(t, "0", revived.Activity().DottedPath())

	assert.Equal(t, []string{"unit@1"}, refs(rec.Records("context.discard")))
	assert.Equal(t, StateCompleted, e.State())
	assert.Equal(t, []int{0}, e.ContextIDs())
}

func TestContextManager_DiscardKeepsPersistedContextWhenRegisterFails(t *testing.T) {
	var (
		guid         string
		registerErr  error
		afterFailure []*ContextDescriptor
		revived      *ExecutionContext
	)
	def := composite("host", driver(func(ec *ExecutionContext) {
		m := ec.Manager()
		ctx, err := m.CreateExecutionContext(ec.Activity().Children()[0])
		require.NoError(t, err)
		guid = ctx.ContextGUID()
		require.NoError(t, m.CompleteExecutionContext(ctx, true))

		impostor := simple("impostor")
		impostor.Attrs().Seed(contextInfoProperty, &ContextInfo{ID: ctx.ContextID(), GUID: "other"})
		require.NoError(t, ec.Runtime().RegisterContextActivity(impostor))

		_, registerErr = m.GetPersistedExecutionContext(guid)
		afterFailure = m.CompletedContexts()

		ec.Runtime().UnregisterContextActivity(impostor)
		revived, err = m.GetPersistedExecutionContext(guid)
		require.NoError(t, err)
		require.NoError(t, m.CompleteExecutionContext(revived, false))
	}), nodes(composite("unit", nil, nodes(simple("leaf")))))

	e, _ := newTestExecutor(t, def)
	run(t, e)

	require.Error(t, registerErr)
	assert.True(t, IsProtocolError(registerErr))
	require.Len(t, afterFailure, 1)
	assert.Equal(t, guid, afterFailure[0].GUID)
	assert.Equal(t, FlagForcePersist, afterFailure[0].Flags, "the descriptor keeps its flag")
	require.NotNil(t, revived, "the saved subtree survives the failed revival")
	assert.Equal(t, guid, revived.ContextGUID())
	assert.Equal(t, StateCompleted, e.State())
}

func TestContextManager_CompletedContextsAreCopies(t *testing.T) {
	var before []*ContextDescriptor
	def := composite("host", driver(func(ec *ExecutionContext) {
		m := ec.Manager()
		ctx, err := m.CreateExecutionContext(ec.Activity().Children()[0])
		require.NoError(t, err)
		require.NoError(t, m.CompleteExecutionContext(ctx, true))

		before = m.CompletedContexts()
		before[0].Flags = 0
		assert.Equal(t, FlagForcePersist, m.CompletedContexts()[0].Flags)

		revived, err := m.GetPersistedExecutionContext(ctx.ContextGUID())
		require.NoError(t, err)
		require.NoError(t, m.CompleteExecutionContext(revived, false))
	}), nodes(composite("unit", nil, nodes(simple("leaf")))))

	e, _ := newTestExecutor(t, def)
	run(t, e)
	assert.Equal(t, StateCompleted, e.State())
}

func TestContextManager_CreateRejects(t *testing.T) {
	var errs []error
	def := composite("host", driver(func(ec *ExecutionContext) {
		m := ec.Manager()
		_, err := m.CreateExecutionContext(nil)
		errs = append(errs, err)
		_, err = m.CreateExecutionContext(ec.Activity().Children()[1])
		errs = append(errs, err)
		_, err = m.CreateExecutionContext(ec.Activity().Children()[0].Children()[0])
		errs = append(errs, err)
	}), nodes(
		composite("unit", nil, nodes(simple("leaf"))),
		simple("off", activity.Disabled()),
	))

	e, _ := newTestExecutor(t, def)
	run(t, e)

	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.True(t, IsInvalidArgument(err), "got %v", err)
	}
	assert.Equal(t, []int{0}, e.ContextIDs())
}

func TestContextManager_CompleteRejects(t *testing.T) {
	var executing, foreign, missing error
	def := composite("host", &Behavior{
		Execute: func(ec *ExecutionContext) (activity.Status, error) {
			m := ec.Manager()
			ctx, err := m.CreateExecutionContext(ec.Activity().Children()[0])
			require.NoError(t, err)
			require.NoError(t, ctx.ExecuteActivity(ctx.Activity()))
			executing = m.CompleteExecutionContext(ctx, false)
			foreign = m.CompleteExecutionContext(NewExecutionContext(ec.Runtime(), ec.Activity()), false)
			_, missing = m.GetPersistedExecutionContext("no-such-guid")
			return activity.StatusExecuting, nil
		},
	}, nodes(simple("unit", activity.WithBehavior(waitTask()))))

	e, _ := newTestExecutor(t, def)
	run(t, e)

	var pe *ProtocolError
	require.ErrorAs(t, executing, &pe)
	assert.Equal(t, ErrCodeInvalidContext, pe.Code)
	require.ErrorAs(t, foreign, &pe)
	assert.Equal(t, ErrCodeInvalidContext, pe.Code)
	assert.True(t, IsInvalidArgument(missing))

	ctx := NewExecutionContext(e, e.Root()).Manager().GetExecutionContext(find(t, e, 0, "unit"))
	require.NotNil(t, ctx, "lookup by template name finds the active instantiation")
	assert.Equal(t, 1, ctx.ContextID())
	assert.Equal(t, activity.StatusExecuting, ctx.Activity().Status())
}

func TestExecutionContext_Info(t *testing.T) {
	def := composite("root", Sequence(), nodes(simple("a", activity.WithBehavior(waitTask()))))
	e, _ := newTestExecutor(t, def)

	ec := NewExecutionContext(e, find(t, e, 0, "a"))
	assert.Equal(t, ContextInfo{ID: 0, GUID: "guid-00", ParentID: -1}, ec.Info())
	assert.Equal(t, "wait", KindOf(ec.Activity()))
	assert.Equal(t, "sequence", KindOf(e.Root()))

	loose := simple("loose")
	assert.Equal(t, ContextInfo{ID: -1, ParentID: -1}, NewExecutionContext(e, loose).Info())
	assert.Equal(t, "simple", KindOf(loose))
}
