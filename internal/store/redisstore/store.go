// Package redisstore keeps completed execution contexts in Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/roach88/arbor/internal/engine"
)

// Store implements engine.ContextStore and engine.InstanceStore.
//
// Each context is a hash under <prefix>context:<guid>. A sorted set per
// instance, <prefix>instance:<id>:contexts, indexes its contexts scored by
// completion order id. Instance snapshots live under
// <prefix>instance:<id>:snapshot.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

var (
	_ engine.ContextStore  = (*Store)(nil)
	_ engine.InstanceStore = (*Store)(nil)
)

type Option func(*Store)

// WithTTL sets the expiration of saved contexts and snapshots.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	return NewFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewFromClient creates a store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "arbor:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) contextKey(guid string) string {
	return s.prefix + "context:" + guid
}

func (s *Store) indexKey(instanceID string) string {
	return s.prefix + "instance:" + instanceID + ":contexts"
}

func (s *Store) snapshotKey(instanceID string) string {
	return s.prefix + "instance:" + instanceID + ":snapshot"
}

// SaveContext writes rec and indexes it under its instance.
func (s *Store) SaveContext(ctx context.Context, rec engine.ContextRecord) error {
	if rec.GUID == "" {
		return errors.New("save context: empty guid")
	}
	key := s.contextKey(rec.GUID)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"instance_id", rec.InstanceID,
		"activity", rec.Activity,
		"context_id", rec.ContextID,
		"order_id", rec.OrderID,
		"data", rec.Data,
	)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	pipe.ZAdd(ctx, s.indexKey(rec.InstanceID), backend.Z{
		Score:  float64(rec.OrderID),
		Member: rec.GUID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save context %s: %w", rec.GUID, err)
	}
	return nil
}

// LoadContext returns the context saved under guid.
func (s *Store) LoadContext(ctx context.Context, guid string) (engine.ContextRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.contextKey(guid)).Result()
	if err != nil {
		return engine.ContextRecord{}, fmt.Errorf("load context %s: %w", guid, err)
	}
	if len(fields) == 0 {
		return engine.ContextRecord{}, fmt.Errorf("load context %s: %w", guid, engine.ErrContextNotFound)
	}

	rec := engine.ContextRecord{
		GUID:       guid,
		InstanceID: fields["instance_id"],
		Activity:   fields["activity"],
		Data:       []byte(fields["data"]),
	}
	if rec.ContextID, err = strconv.Atoi(fields["context_id"]); err != nil {
		return engine.ContextRecord{}, fmt.Errorf("load context %s: context_id: %w", guid, err)
	}
	if rec.OrderID, err = strconv.Atoi(fields["order_id"]); err != nil {
		return engine.ContextRecord{}, fmt.Errorf("load context %s: order_id: %w", guid, err)
	}
	return rec, nil
}

// DeleteContext removes a context and its index entry.
func (s *Store) DeleteContext(ctx context.Context, guid string) error {
	key := s.contextKey(guid)
	instanceID, err := s.client.HGet(ctx, key, "instance_id").Result()
	if errors.Is(err, backend.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete context %s: %w", guid, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, s.indexKey(instanceID), guid)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete context %s: %w", guid, err)
	}
	return nil
}

// ListContexts returns the guids of an instance's saved contexts, newest
// completion first. Index entries whose context expired are pruned.
func (s *Store) ListContexts(ctx context.Context, instanceID string) ([]string, error) {
	index := s.indexKey(instanceID)
	guids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}

	live := make([]string, 0, len(guids))
	for _, guid := range guids {
		n, err := s.client.Exists(ctx, s.contextKey(guid)).Result()
		if err != nil {
			return nil, fmt.Errorf("list contexts: %w", err)
		}
		if n == 0 {
			if err := s.client.ZRem(ctx, index, guid).Err(); err != nil {
				return nil, fmt.Errorf("prune expired context %s: %w", guid, err)
			}
			continue
		}
		live = append(live, guid)
	}
	return live, nil
}

// SaveInstance stores the latest snapshot of an instance.
func (s *Store) SaveInstance(ctx context.Context, instanceID string, data []byte) error {
	if err := s.client.Set(ctx, s.snapshotKey(instanceID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save instance %s: %w", instanceID, err)
	}
	return nil
}

// LoadInstance returns the latest snapshot of an instance. ok is false
// when none was saved.
func (s *Store) LoadInstance(ctx context.Context, instanceID string) (data []byte, ok bool, err error) {
	data, err = s.client.Get(ctx, s.snapshotKey(instanceID)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	return data, true, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks that the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
