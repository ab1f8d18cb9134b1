package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/arbor/internal/engine"
	"github.com/roach88/arbor/internal/store/redisstore"
	"github.com/roach88/arbor/internal/store/storetest"
)

func newStore(t *testing.T, opts ...redisstore.Option) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	s := redisstore.NewFromClient(client, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore_Contract(t *testing.T) {
	s, _ := newStore(t)
	storetest.RunContextStoreContract(t, s)
}

func TestRedisStore_ListNewestFirst(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	for _, rec := range []engine.ContextRecord{
		{GUID: "a", InstanceID: "inst", OrderID: 2, Data: []byte("{}")},
		{GUID: "b", InstanceID: "inst", OrderID: 6, Data: []byte("{}")},
		{GUID: "c", InstanceID: "other", OrderID: 9, Data: []byte("{}")},
	} {
		require.NoError(t, s.SaveContext(ctx, rec))
	}

	guids, err := s.ListContexts(ctx, "inst")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, guids)

	require.NoError(t, s.DeleteContext(ctx, "b"))
	guids, err = s.ListContexts(ctx, "inst")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, guids)
}

func TestRedisStore_TTLPrunesIndex(t *testing.T) {
	s, mr := newStore(t, redisstore.WithTTL(time.Minute), redisstore.WithPrefix("test:"))
	ctx := context.Background()

	require.NoError(t, s.SaveContext(ctx, engine.ContextRecord{GUID: "g", InstanceID: "inst", Data: []byte("{}")}))
	assert.True(t, mr.Exists("test:context:g"))

	mr.FastForward(2 * time.Minute)

	_, err := s.LoadContext(ctx, "g")
	assert.ErrorIs(t, err, engine.ErrContextNotFound)

	guids, err := s.ListContexts(ctx, "inst")
	require.NoError(t, err)
	assert.Empty(t, guids)
	members, err := mr.ZMembers("test:instance:inst:contexts")
	if err == nil {
		assert.Empty(t, members, "expired entries are pruned from the index")
	}
}

func TestRedisStore_InstanceSnapshot(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadInstance(ctx, "inst")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveInstance(ctx, "inst", []byte(`{"version":1}`)))
	data, ok, err := s.LoadInstance(ctx, "inst")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"version":1}`, string(data))
}

func TestRedisStore_LoadCorruptRecord(t *testing.T) {
	s, mr := newStore(t)
	mr.HSet("arbor:context:bad", "instance_id", "inst", "context_id", "x", "order_id", "1", "data", "{}")

	_, err := s.LoadContext(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, engine.ErrContextNotFound)
	assert.Contains(t, err.Error(), "context_id")
}

func TestRedisStore_Ping(t *testing.T) {
	s, mr := newStore(t)
	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	err := s.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}
