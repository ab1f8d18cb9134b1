package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/arbor/internal/engine"
)

// InstanceState summarizes an instance from its tracking log for recovery.
type InstanceState struct {
	InstanceID string
	Root       string
	LastSeq    int64
	Records    int

	// OpenContexts counts completed contexts still saved for the instance.
	OpenContexts int
	Persisted    bool

	// Outcome is "completed", "terminated" or empty while the instance
	// has not finished.
	Outcome string
	Result  string
	Failure string
}

// IsComplete reports whether the tracking log shows a final outcome.
func (st InstanceState) IsComplete() bool {
	return st.Outcome != ""
}

// GetInstanceState reads the tracking log of an instance.
//
// The root is the activity of the "start" record. The instance completed
// when a committed Closed status was recorded for the root in context 0,
// and terminated when a "terminate" record exists.
func (s *Store) GetInstanceState(ctx context.Context, instanceID string) (InstanceState, error) {
	state := InstanceState{InstanceID: instanceID}

	records, err := s.ReadTrace(ctx, instanceID)
	if err != nil {
		return state, fmt.Errorf("get instance state: %w", err)
	}
	state.Records = len(records)

	for _, r := range records {
		if r.Seq > state.LastSeq {
			state.LastSeq = r.Seq
		}
		switch r.Key {
		case "start":
			if state.Root == "" {
				state.Root = r.Activity
			}
		case "status":
			if state.Outcome == "" && r.ContextID == 0 && r.Activity == state.Root &&
				r.Status == "Closed" && r.Data == "committed" {
				state.Outcome = "completed"
			}
		case "terminate":
			state.Outcome = "terminated"
			state.Failure = r.Data
		}
	}
	if state.Outcome == "completed" {
		state.Result = lastRootResult(records, state.Root)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contexts WHERE instance_id = ?`, instanceID,
	).Scan(&state.OpenContexts); err != nil {
		return state, fmt.Errorf("get instance state: count contexts: %w", err)
	}

	_, _, persisted, err := s.LoadInstance(ctx, instanceID)
	if err != nil {
		return state, fmt.Errorf("get instance state: %w", err)
	}
	state.Persisted = persisted

	return state, nil
}

// lastRootResult returns the result of the last non-committed Closed
// status of the root; the committed record follows teardown and carries
// no meaningful result.
func lastRootResult(records []engine.TrackRecord, root string) string {
	result := ""
	for _, r := range records {
		if r.Key == "status" && r.ContextID == 0 && r.Activity == root &&
			r.Status == "Closed" && !strings.HasPrefix(r.Data, "committed") {
			result = r.Result
		}
	}
	return result
}

// FindIncompleteInstances returns the state of every instance that has a
// tracking log but no final outcome, ordered by instance id.
func (s *Store) FindIncompleteInstances(ctx context.Context) ([]InstanceState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT instance_id FROM track_records
		ORDER BY instance_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("find incomplete instances: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("find incomplete instances: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("find incomplete instances: %w", err)
	}
	rows.Close()

	// Rows are closed first: the store has a single connection.
	out := []InstanceState{}
	for _, id := range ids {
		st, err := s.GetInstanceState(ctx, id)
		if err != nil {
			return nil, err
		}
		if !st.IsComplete() {
			out = append(out, st)
		}
	}
	return out, nil
}
