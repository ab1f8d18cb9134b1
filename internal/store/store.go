package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/arbor/internal/engine"
)

//go:embed schema.sql
var schemaSQL string

// ErrContextNotFound is returned by LoadContext for an unknown guid.
var ErrContextNotFound = engine.ErrContextNotFound

// Store keeps the durable side of a workflow instance in one SQLite file:
// completed contexts waiting to be revived, the latest instance snapshot
// and the tracking log.
type Store struct {
	db *sql.DB
}

var (
	_ engine.ContextStore  = (*Store)(nil)
	_ engine.InstanceStore = (*Store)(nil)
	_ engine.Tracker       = (*Store)(nil)
)

// connection settings handed to the driver so every pooled connection
// gets them, not just the first.
var connParams = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
}

// migration moves the database from version-1 to version.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations run in order; user_version records the last one applied.
var migrations = []migration{
	{1, "base tables", schemaSQL},
	{2, "track key index", `CREATE INDEX IF NOT EXISTS idx_track_instance_key
		ON track_records(instance_id, key)`},
}

func schemaVersion() int { return migrations[len(migrations)-1].version }

// Open opens the database at path, creating it when missing, and brings
// the schema up to date. Reopening an existing file is a no-op.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?"+connParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One writer at a time; a single connection also keeps the WAL
	// settings and the migration transaction on the same handle.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	current, err := s.pragma(ctx, "user_version")
	if err != nil {
		return err
	}
	var version int
	if _, err := fmt.Sscan(current, &version); err != nil {
		return fmt.Errorf("parse user_version %q: %w", current, err)
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return err
	}
	return tx.Commit()
}

// pragma reads the current value of a pragma as text.
func (s *Store) pragma(ctx context.Context, name string) (string, error) {
	var value string
	if err := s.db.QueryRowContext(ctx, "PRAGMA "+name).Scan(&value); err != nil {
		return "", fmt.Errorf("read pragma %s: %w", name, err)
	}
	return value, nil
}
