package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/arbor/internal/engine"
)

// SaveContext writes a completed context record. Saving a guid that is
// already present replaces the stored record.
func (s *Store) SaveContext(ctx context.Context, rec engine.ContextRecord) error {
	if rec.GUID == "" {
		return errors.New("save context: empty guid")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contexts (guid, instance_id, activity, context_id, order_id, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			instance_id = excluded.instance_id,
			activity    = excluded.activity,
			context_id  = excluded.context_id,
			order_id    = excluded.order_id,
			data        = excluded.data
	`,
		rec.GUID,
		rec.InstanceID,
		rec.Activity,
		rec.ContextID,
		rec.OrderID,
		rec.Data,
	)
	if err != nil {
		return fmt.Errorf("save context %s: %w", rec.GUID, err)
	}
	return nil
}

// DeleteContext removes a completed context. Deleting an unknown guid is
// not an error.
func (s *Store) DeleteContext(ctx context.Context, guid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM contexts WHERE guid = ?`, guid); err != nil {
		return fmt.Errorf("delete context %s: %w", guid, err)
	}
	return nil
}

// SaveInstance replaces the persisted snapshot of an instance and bumps
// its revision.
func (s *Store) SaveInstance(ctx context.Context, instanceID string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (instance_id, data)
		VALUES (?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			data     = excluded.data,
			revision = instances.revision + 1
	`, instanceID, data)
	if err != nil {
		return fmt.Errorf("save instance %s: %w", instanceID, err)
	}
	return nil
}

// Track appends a tracking record. Uses ON CONFLICT DO NOTHING so a record
// re-delivered with the same (instance_id, seq) is silently ignored.
func (s *Store) Track(ctx context.Context, rec engine.TrackRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO track_records
		(instance_id, seq, key, context_id, activity, status, result, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id, seq) DO NOTHING
	`,
		rec.InstanceID,
		rec.Seq,
		rec.Key,
		rec.ContextID,
		rec.Activity,
		rec.Status,
		rec.Result,
		rec.Data,
	)
	if err != nil {
		return fmt.Errorf("track %s: %w", rec.Key, err)
	}
	return nil
}
