package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/arbor/internal/engine"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	return createStoreAt(t, filepath.Join(t.TempDir(), "test.db"))
}

func createStoreAt(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestContext(guid, instanceID string, orderID int) engine.ContextRecord {
	return engine.ContextRecord{
		GUID:       guid,
		InstanceID: instanceID,
		Activity:   "body",
		ContextID:  1,
		OrderID:    orderID,
		Data:       []byte(`{"version":1}`),
	}
}

// createTestTrack creates a tracking record for key at seq.
func createTestTrack(instanceID string, seq int64, key string) engine.TrackRecord {
	return engine.TrackRecord{
		Seq:        seq,
		InstanceID: instanceID,
		Key:        key,
		ContextID:  -1,
	}
}
