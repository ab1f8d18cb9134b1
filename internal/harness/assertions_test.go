package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Key: "start", Activity: "root", Status: "Initialized", Result: "None"},
		{Seq: 2, Key: "status", Activity: "root", Status: "Executing", Result: "None"},
		{Seq: 3, Key: "reserved", Activity: "reserve", Status: "Executing", Result: "None"},
		{Seq: 4, Key: "reserved", Activity: "reserve", Status: "Executing", Result: "None"},
		{Seq: 5, Key: "terminate", Context: -1, Data: "unhandled fault in root: disk full"},
	}
}

func intPtr(n int) *int { return &n }

func TestTraceMatch(t *testing.T) {
	ev := TraceEvent{Key: "status", Activity: "a", Status: "Closed", Result: "Succeeded", Data: "committed"}

	assert.True(t, TraceMatch{}.Matches(ev))
	assert.True(t, TraceMatch{Key: "status", Status: "closed"}.Matches(ev), "status is case-insensitive")
	assert.True(t, TraceMatch{Data: "commit"}.Matches(ev))
	assert.False(t, TraceMatch{Activity: "b"}.Matches(ev))
	assert.False(t, TraceMatch{Result: "Faulted"}.Matches(ev))

	assert.Equal(t, "{key=status activity=a}", TraceMatch{Key: "status", Activity: "a"}.String())
	assert.Equal(t, "{any}", TraceMatch{}.String())
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	result := &Result{Trace: sampleTrace()}
	assertions := []Assertion{
		{Type: AssertTraceContains, TraceMatch: TraceMatch{Key: "terminate", Data: "disk full"}},
		{Type: AssertTraceCount, TraceMatch: TraceMatch{Key: "reserved"}, Count: intPtr(2)},
		{Type: AssertTraceCount, TraceMatch: TraceMatch{Key: "shipped"}, Count: intPtr(0)},
		{Type: AssertTraceOrder, Sequence: []TraceMatch{
			{Key: "start"},
			{Key: "reserved"},
			{Key: "reserved"},
			{Key: "terminate"},
		}},
	}
	assert.Empty(t, EvaluateAssertions(result, assertions, nil))
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	result := &Result{Trace: sampleTrace()}
	assertions := []Assertion{
		{Type: AssertTraceContains, TraceMatch: TraceMatch{Key: "persist"}},
		{Type: AssertTraceCount, TraceMatch: TraceMatch{Key: "reserved"}, Count: intPtr(1)},
		{Type: AssertTraceOrder, Sequence: []TraceMatch{{Key: "terminate"}, {Key: "start"}}},
		{Type: AssertTraceOrder, Sequence: []TraceMatch{{Key: "missing"}, {Key: "start"}}},
		{Type: AssertFinalState, Outcome: "completed"},
	}
	errs := EvaluateAssertions(result, assertions, nil)
	require.Len(t, errs, 5)

	assert.Contains(t, errs[0], "assertions[0]")
	assert.Contains(t, errs[0], "not found in trace")
	assert.Contains(t, errs[1], "2 occurrences")
	assert.Contains(t, errs[2], "no {key=start} after {key=terminate}")
	assert.Contains(t, errs[3], "no {key=missing} in trace")
	assert.Contains(t, errs[4], "requires a store")
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceContains,
		Expected: "{key=x}",
		Actual:   "not found in trace",
		Trace:    sampleTrace()[:1],
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_contains")
	assert.Contains(t, msg, "Full trace:")
	assert.Contains(t, msg, "1 start root@0 Initialized/None")
}
