package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/arbor/internal/engine"
)

// LoadContext returns the completed context saved under guid, or an error
// wrapping ErrContextNotFound.
func (s *Store) LoadContext(ctx context.Context, guid string) (engine.ContextRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT guid, instance_id, activity, context_id, order_id, data
		FROM contexts
		WHERE guid = ?
	`, guid)

	rec, err := scanContext(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.ContextRecord{}, fmt.Errorf("load context %s: %w", guid, ErrContextNotFound)
	}
	if err != nil {
		return engine.ContextRecord{}, fmt.Errorf("load context %s: %w", guid, err)
	}
	return rec, nil
}

// ListContexts returns the completed contexts of an instance, newest
// completion first. Ties fall back to guid for a stable order.
func (s *Store) ListContexts(ctx context.Context, instanceID string) ([]engine.ContextRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guid, instance_id, activity, context_id, order_id, data
		FROM contexts
		WHERE instance_id = ?
		ORDER BY order_id DESC, guid COLLATE BINARY ASC
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query contexts: %w", err)
	}
	defer rows.Close()

	records := []engine.ContextRecord{}
	for rows.Next() {
		rec, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contexts: %w", err)
	}
	return records, nil
}

// LoadInstance returns the latest persisted snapshot of an instance and
// its revision. ok is false when nothing was persisted.
func (s *Store) LoadInstance(ctx context.Context, instanceID string) (data []byte, revision int, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT data, revision FROM instances WHERE instance_id = ?
	`, instanceID).Scan(&data, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	return data, revision, true, nil
}

// ReadTrace returns the tracking records of an instance ordered by seq.
// When keys are given only records with one of those keys are returned.
func (s *Store) ReadTrace(ctx context.Context, instanceID string, keys ...string) ([]engine.TrackRecord, error) {
	query := `
		SELECT instance_id, seq, key, context_id, activity, status, result, data
		FROM track_records
		WHERE instance_id = ?`
	args := []any{instanceID}
	if len(keys) > 0 {
		query += ` AND key IN (?` + strings.Repeat(`, ?`, len(keys)-1) + `)`
		for _, k := range keys {
			args = append(args, k)
		}
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}
	defer rows.Close()

	records := []engine.TrackRecord{}
	for rows.Next() {
		var r engine.TrackRecord
		if err := rows.Scan(
			&r.InstanceID, &r.Seq, &r.Key, &r.ContextID,
			&r.Activity, &r.Status, &r.Result, &r.Data,
		); err != nil {
			return nil, fmt.Errorf("scan track record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContext(row scanner) (engine.ContextRecord, error) {
	var rec engine.ContextRecord
	err := row.Scan(&rec.GUID, &rec.InstanceID, &rec.Activity, &rec.ContextID, &rec.OrderID, &rec.Data)
	return rec, err
}
