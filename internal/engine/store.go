package engine

import (
	"context"
	"errors"
	"sync"
)

// ErrContextNotFound is returned by a ContextStore for an unknown guid.
var ErrContextNotFound = errors.New("context not found")

// ContextRecord is a persisted completed execution context.
type ContextRecord struct {
	GUID       string
	InstanceID string
	Activity   string
	ContextID  int
	OrderID    int
	Data       []byte
}

// ContextStore persists completed execution contexts between completion
// and revival.
type ContextStore interface {
	SaveContext(ctx context.Context, rec ContextRecord) error
	LoadContext(ctx context.Context, guid string) (ContextRecord, error)
	DeleteContext(ctx context.Context, guid string) error
}

// InstanceStore is implemented by context stores that also keep the
// latest persisted snapshot of each instance.
type InstanceStore interface {
	SaveInstance(ctx context.Context, instanceID string, data []byte) error
}

// MemoryStore is an in-process ContextStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]ContextRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]ContextRecord)}
}

func (s *MemoryStore) SaveContext(_ context.Context, rec ContextRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Data = append([]byte(nil), rec.Data...)
	s.records[rec.GUID] = rec
	return nil
}

func (s *MemoryStore) LoadContext(_ context.Context, guid string) (ContextRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[guid]
	if !ok {
		return ContextRecord{}, ErrContextNotFound
	}
	rec.Data = append([]byte(nil), rec.Data...)
	return rec, nil
}

func (s *MemoryStore) DeleteContext(_ context.Context, guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, guid)
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
