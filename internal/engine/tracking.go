package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// TrackRecord is one tracking event emitted by an executor.
type TrackRecord struct {
	Seq        int64
	InstanceID string
	Key        string
	ContextID  int
	Activity   string
	Status     string
	Result     string
	Data       string
}

// String renders the record as one trace line:
//
//	<seq> <key> <activity>@<context> <status>/<result> [data]
func (r TrackRecord) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", r.Seq, r.Key)
	if r.Activity != "" {
		fmt.Fprintf(&b, " %s@%d %s/%s", r.Activity, r.ContextID, r.Status, r.Result)
	}
	if r.Data != "" {
		b.WriteString(" ")
		b.WriteString(r.Data)
	}
	return b.String()
}

// Tracker receives tracking records.
type Tracker interface {
	Track(ctx context.Context, rec TrackRecord) error
}

// TraceRecorder keeps tracking records in memory.
type TraceRecorder struct {
	mu      sync.Mutex
	records []TrackRecord
}

// NewTraceRecorder creates an empty recorder.
func NewTraceRecorder() *TraceRecorder {
	return &TraceRecorder{}
}

func (t *TraceRecorder) Track(_ context.Context, rec TrackRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, rec)
	return nil
}

// Records returns a copy of everything recorded, optionally restricted to
// the given keys.
func (t *TraceRecorder) Records(keys ...string) []TrackRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []TrackRecord
	for _, r := range t.records {
		if len(keys) == 0 || slices.Contains(keys, r.Key) {
			out = append(out, r)
		}
	}
	return out
}

// Lines renders Records(keys...) one per line.
func (t *TraceRecorder) Lines(keys ...string) []string {
	recs := t.Records(keys...)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.String()
	}
	return out
}
