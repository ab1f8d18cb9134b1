package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbor.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveContext(ctx, createTestContext("g1", "inst", 1)))
	require.NoError(t, s.Close())

	for range 2 {
		s, err = Open(path)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}

	s = createStoreAt(t, path)
	rec, err := s.LoadContext(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "inst", rec.InstanceID)

	for _, table := range []string{"contexts", "instances", "track_records"} {
		var n int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}
}

func TestOpen_UnreachablePath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "arbor.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect")
}

func TestClose_Unopened(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())
}

func TestConnectionSettings(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
	}
	for name, value := range want {
		got, err := s.pragma(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, value, got, name)
	}
}

func TestMigrate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	v, err := s.pragma(ctx, "user_version")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
	assert.Equal(t, 2, schemaVersion())

	var name string
	require.NoError(t, s.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_track_instance_key'`,
	).Scan(&name))

	// A database left at version 1 only gets the later steps.
	_, err = s.db.Exec(`DROP INDEX idx_track_instance_key`)
	require.NoError(t, err)
	_, err = s.db.Exec(`PRAGMA user_version = 1`)
	require.NoError(t, err)
	require.NoError(t, s.migrate(ctx))

	v, err = s.pragma(ctx, "user_version")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
	require.NoError(t, s.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_track_instance_key'`,
	).Scan(&name))
}
