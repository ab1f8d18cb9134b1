package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/arbor/internal/engine"
)

// TraceEvent is one tracking record of a scenario run.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Key      string `json:"key"`
	Activity string `json:"activity,omitempty"`
	Context  int    `json:"context"`
	Status   string `json:"status,omitempty"`
	Result   string `json:"result,omitempty"`
	Data     string `json:"data,omitempty"`
}

func traceEvent(r engine.TrackRecord) TraceEvent {
	return TraceEvent{
		Seq:      r.Seq,
		Key:      r.Key,
		Activity: r.Activity,
		Context:  r.ContextID,
		Status:   r.Status,
		Result:   r.Result,
		Data:     r.Data,
	}
}

// String renders the event as a golden trace line.
func (ev TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", ev.Seq, ev.Key)
	if ev.Activity != "" {
		fmt.Fprintf(&b, " %s@%d %s/%s", ev.Activity, ev.Context, ev.Status, ev.Result)
	}
	if ev.Data != "" {
		b.WriteString(" ")
		b.WriteString(ev.Data)
	}
	return b.String()
}

// Matches reports whether ev satisfies every field set in m.
func (m TraceMatch) Matches(ev TraceEvent) bool {
	switch {
	case m.Key != "" && m.Key != ev.Key:
		return false
	case m.Activity != "" && m.Activity != ev.Activity:
		return false
	case m.Status != "" && !strings.EqualFold(m.Status, ev.Status):
		return false
	case m.Result != "" && !strings.EqualFold(m.Result, ev.Result):
		return false
	case m.Data != "" && !strings.Contains(ev.Data, m.Data):
		return false
	}
	return true
}

func (m TraceMatch) String() string {
	var parts []string
	add := func(name, v string) {
		if v != "" {
			parts = append(parts, name+"="+v)
		}
	}
	add("key", m.Key)
	add("activity", m.Activity)
	add("status", m.Status)
	add("result", m.Result)
	add("data", m.Data)
	if len(parts) == 0 {
		return "{any}"
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every tracking record in sequence order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds failure messages. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State and Outcome are the instance state and root result after the
	// last step.
	State   string `json:"state"`
	Outcome string `json:"outcome"`

	// Steps counts items the executor dispatched.
	Steps int `json:"steps"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
