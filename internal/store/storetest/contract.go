// Package storetest holds the behavior every engine.ContextStore must
// show, as a test suite backends run against themselves.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/arbor/internal/engine"
)

// RunContextStoreContract exercises store through the ContextStore
// interface. Every subtest uses its own guids so a shared backend can be
// reused.
func RunContextStoreContract(t *testing.T, store engine.ContextStore) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405.000000")
	guid := func(name string) string { return prefix + "-" + name }

	t.Run("Save and Load", func(t *testing.T) {
		rec := engine.ContextRecord{
			GUID:       guid("save"),
			InstanceID: prefix,
			Activity:   "body",
			ContextID:  4,
			OrderID:    7,
			Data:       []byte(`{"version":1,"root":{"name":"body"}}`),
		}
		require.NoError(t, store.SaveContext(ctx, rec), "SaveContext should not return error")

		loaded, err := store.LoadContext(ctx, rec.GUID)
		require.NoError(t, err, "LoadContext should not return error")
		assert.Equal(t, rec, loaded)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.LoadContext(ctx, guid("missing"))
		assert.ErrorIs(t, err, engine.ErrContextNotFound)
	})

	t.Run("Save Replaces", func(t *testing.T) {
		rec := engine.ContextRecord{GUID: guid("replace"), InstanceID: prefix, Activity: "a", OrderID: 1, Data: []byte("1")}
		require.NoError(t, store.SaveContext(ctx, rec))
		rec.OrderID, rec.Data = 2, []byte("2")
		require.NoError(t, store.SaveContext(ctx, rec))

		loaded, err := store.LoadContext(ctx, rec.GUID)
		require.NoError(t, err)
		assert.Equal(t, 2, loaded.OrderID)
		assert.Equal(t, []byte("2"), loaded.Data)
	})

	t.Run("Loaded Data Is A Copy", func(t *testing.T) {
		rec := engine.ContextRecord{GUID: guid("copy"), InstanceID: prefix, Activity: "a", Data: []byte("abc")}
		require.NoError(t, store.SaveContext(ctx, rec))
		rec.Data[0] = 'x'

		loaded, err := store.LoadContext(ctx, rec.GUID)
		require.NoError(t, err)
		assert.Equal(t, "abc", string(loaded.Data))
	})

	t.Run("Delete", func(t *testing.T) {
		rec := engine.ContextRecord{GUID: guid("delete"), InstanceID: prefix, Activity: "a", Data: []byte("{}")}
		require.NoError(t, store.SaveContext(ctx, rec))

		require.NoError(t, store.DeleteContext(ctx, rec.GUID), "DeleteContext should not return error")

		_, err := store.LoadContext(ctx, rec.GUID)
		assert.ErrorIs(t, err, engine.ErrContextNotFound, "LoadContext after DeleteContext should return ErrContextNotFound")

		assert.NoError(t, store.DeleteContext(ctx, rec.GUID), "deleting twice is not an error")
	})

	t.Run("Many Records", func(t *testing.T) {
		for i := range 5 {
			rec := engine.ContextRecord{
				GUID:       guid(fmt.Sprintf("many-%d", i)),
				InstanceID: prefix,
				Activity:   "body",
				ContextID:  i + 1,
				OrderID:    i,
				Data:       []byte(fmt.Sprintf(`{"i":%d}`, i)),
			}
			require.NoError(t, store.SaveContext(ctx, rec))
		}
		for i := range 5 {
			loaded, err := store.LoadContext(ctx, guid(fmt.Sprintf("many-%d", i)))
			require.NoError(t, err)
			assert.Equal(t, i+1, loaded.ContextID)
		}
	})
}
