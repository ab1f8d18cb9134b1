package activity

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusInitialized, StatusExecuting, true},
		{StatusExecuting, StatusClosed, true},
		{StatusExecuting, StatusCanceling, true},
		{StatusExecuting, StatusFaulting, true},
		{StatusCanceling, StatusClosed, true},
		{StatusFaulting, StatusClosed, true},
		{StatusClosed, StatusCompensating, true},
		{StatusCompensating, StatusClosed, true},

		{StatusInitialized, StatusClosed, false},
		{StatusInitialized, StatusCanceling, false},
		{StatusCanceling, StatusFaulting, false},
		{StatusClosed, StatusExecuting, false},
		{StatusFaulting, StatusCanceling, false},
		{StatusCompensating, StatusFaulting, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestSetStatus_ListenerOrder(t *testing.T) {
	n := New("n", ShapeSimple)
	var got []string
	n.Subscribe(EventClosed, func(c StatusChange) { got = append(got, "closed:"+c.Status.String()) })
	n.Subscribe(EventStatusChanged, func(c StatusChange) { got = append(got, "changed:"+c.Status.String()) })
	n.Subscribe(EventExecuting, func(StatusChange) { got = append(got, "executing") })

	require.NoError(t, n.SetStatus(StatusExecuting))
	assert.True(t, n.WasExecuting())
	require.NoError(t, n.SetStatus(StatusClosed))
	assert.False(t, n.WasExecuting())

	assert.Equal(t, []string{
		"changed:Executing", "executing",
		"changed:Closed", "closed:Closed",
	}, got)
}

func TestSetStatus_Illegal(t *testing.T) {
	n := New("n", ShapeSimple)
	err := n.SetStatus(StatusClosed)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StatusInitialized, n.Status())

	require.NoError(t, n.SetStatus(StatusExecuting))
	require.NoError(t, n.SetStatus(StatusClosed))
	err = n.SetStatus(StatusCompensating)
	assert.True(t, errors.Is(err, ErrInvalidTransition), "compensation needs the capability")

	c := New("c", ShapeSimple, WithCapabilities(CanCompensate))
	require.NoError(t, c.SetStatus(StatusExecuting))
	require.NoError(t, c.SetStatus(StatusClosed))
	require.NoError(t, c.SetStatus(StatusCompensating))
	require.NoError(t, c.SetStatus(StatusClosed))
}

func TestSetStatus_UnsubscribeDuringFire(t *testing.T) {
	n := New("n", ShapeSimple)
	calls := 0
	var sub Subscription
	sub = n.Subscribe(EventExecuting, func(StatusChange) {
		calls++
		n.Unsubscribe(EventExecuting, sub)
	})
	require.NoError(t, n.SetStatus(StatusExecuting))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, n.Listeners(EventExecuting))
}

func TestHold_ReleaseAndUndo(t *testing.T) {
	n := New("n", ShapeSimple)
	require.NoError(t, n.SetStatus(StatusExecuting))

	locked := 0
	s1 := n.Hold(func(StatusChange) { locked++ })
	s2 := n.Hold(func(StatusChange) { locked++ })
	assert.Equal(t, 2, n.HoldCount())

	n.MarkPrimaryClosed()
	assert.True(t, n.HasPrimaryClosed())
	assert.Equal(t, 2, locked)

	remaining, _, ok := n.ReleaseHold(s1)
	require.True(t, ok)
	assert.Equal(t, 1, remaining)

	remaining, undo, ok := n.ReleaseHold(s2)
	require.True(t, ok)
	assert.Equal(t, 0, remaining)
	undo()
	assert.Equal(t, 1, n.HoldCount())
	assert.Equal(t, 1, n.Listeners(EventStatusChangedLocked))

	_, _, ok = n.ReleaseHold(Subscription(99))
	assert.False(t, ok)

	// Closing clears hold bookkeeping.
	require.NoError(t, n.SetStatus(StatusClosed))
	assert.Equal(t, 0, n.HoldCount())
	assert.False(t, n.HasPrimaryClosed())
}

func TestUninitialize_KeepsDurableState(t *testing.T) {
	n := New("n", ShapeSimple, WithHandles("R"))
	require.NoError(t, n.SetStatus(StatusExecuting))
	n.Attrs().Seed(CompletedOrderIDProperty, 4)
	n.Attrs().Seed(CurrentExceptionProperty, errors.New("boom"))
	require.NoError(t, n.SetStatus(StatusClosed))
	n.SetResult(ResultSucceeded)

	n.Uninitialize()

	assert.Equal(t, StatusClosed, n.Status())
	assert.Equal(t, ResultUninitialized, n.Result())
	assert.Equal(t, []string{"R"}, n.Handles())
	assert.Equal(t, 4, n.Attrs().Get(CompletedOrderIDProperty))
	assert.False(t, n.Attrs().Has(CurrentExceptionProperty))

	n.ResetRuntimeState()
	assert.Equal(t, StatusInitialized, n.Status())
	assert.Equal(t, ResultNone, n.Result())
}

func TestStatusText(t *testing.T) {
	b, err := json.Marshal(StatusCompensating)
	require.NoError(t, err)
	assert.Equal(t, `"Compensating"`, string(b))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"faulting"`), &s))
	assert.Equal(t, StatusFaulting, s)

	var r Result
	require.NoError(t, json.Unmarshal([]byte(`"Uninitialized"`), &r))
	assert.Equal(t, ResultUninitialized, r)

	_, err = ParseResult("nope")
	assert.Error(t, err)
	assert.Equal(t, "Status(42)", Status(42).String())
}
