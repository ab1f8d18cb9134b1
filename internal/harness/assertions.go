package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/arbor/internal/store"
)

// AssertionContext gives assertions access to the scenario's store.
type AssertionContext struct {
	Store      *store.Store
	Ctx        context.Context
	InstanceID string
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", ev)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure
// messages. All assertions run even after a failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("final_state assertion requires a store")
			} else {
				err = assertFinalState(actx, a)
			}
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertTraceContains checks that at least one record matches.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if a.TraceMatch.Matches(ev) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: a.TraceMatch.String(),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the sequence matches records in order.
// Records in between are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for i, m := range a.Sequence {
		found := false
		for pos < len(trace) {
			ev := trace[pos]
			pos++
			if m.Matches(ev) {
				found = true
				break
			}
		}
		if !found {
			actual := fmt.Sprintf("no %s after %s", m, a.Sequence[max(i-1, 0)])
			if i == 0 {
				actual = fmt.Sprintf("no %s in trace", m)
			}
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("in order: %s", joinMatches(a.Sequence)),
				Actual:   actual,
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks the exact number of matching records.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if a.TraceMatch.Matches(ev) {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *a.Count, a.TraceMatch),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the instance as recovered from the store, not
// the in-memory executor, so it also exercises what a restarted host
// would see.
func assertFinalState(actx *AssertionContext, a Assertion) error {
	st, err := actx.Store.GetInstanceState(actx.Ctx, actx.InstanceID)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("instance %s in store", actx.InstanceID),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	outcome := st.Outcome
	if outcome == "" {
		outcome = "incomplete"
	}
	if a.Outcome != "" && a.Outcome != outcome {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("outcome %s", a.Outcome),
			Actual:   fmt.Sprintf("outcome %s", outcome),
		}
	}
	if a.Result != "" && !strings.EqualFold(a.Result, st.Result) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("result %s", a.Result),
			Actual:   fmt.Sprintf("result %q", st.Result),
		}
	}
	if a.OpenContexts != nil && *a.OpenContexts != st.OpenContexts {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d stored contexts", *a.OpenContexts),
			Actual:   fmt.Sprintf("%d stored contexts", st.OpenContexts),
		}
	}
	return nil
}

func joinMatches(ms []TraceMatch) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = m.String()
	}
	return strings.Join(parts, " -> ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
