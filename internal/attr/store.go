package attr

import (
	"fmt"
	"sort"
)

// Store holds attribute values for one node.
//
// Not safe for concurrent use. A node's store is only touched by the
// operation currently running against its workflow instance.
type Store struct {
	values map[*Descriptor]any
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{values: make(map[*Descriptor]any)}
}

// Get returns the value for d, falling back to d's default.
func (s *Store) Get(d *Descriptor) any {
	v, ok := s.values[d]
	if d.get != nil {
		return d.get(s, v, ok)
	}
	if !ok {
		return d.def
	}
	return v
}

// Has reports whether a value is explicitly set for d.
func (s *Store) Has(d *Descriptor) bool {
	_, ok := s.values[d]
	return ok
}

// Set stores v for d, running d's set hook if any.
func (s *Store) Set(d *Descriptor, v any) error {
	if d.Is(ReadOnly) {
		return fmt.Errorf("set %s: %w", d.name, ErrReadOnly)
	}
	if d.set != nil {
		nv, err := d.set(s, v)
		if err != nil {
			return fmt.Errorf("set %s: %w", d.name, err)
		}
		v = nv
	}
	s.values[d] = v
	return nil
}

// Seed stores v for d without flag checks or hooks.
// Used when constructing nodes and when decoding snapshots.
func (s *Store) Seed(d *Descriptor, v any) {
	s.values[d] = v
}

// Remove clears the value for d so reads fall back to the default.
func (s *Store) Remove(d *Descriptor) error {
	if d.Is(ReadOnly) {
		return fmt.Errorf("remove %s: %w", d.name, ErrReadOnly)
	}
	delete(s.values, d)
	return nil
}

// Reset removes every value whose descriptor does not satisfy keep.
// Read-only values are kept regardless.
func (s *Store) Reset(keep func(*Descriptor) bool) {
	for d := range s.values {
		if d.Is(ReadOnly) || keep(d) {
			continue
		}
		delete(s.values, d)
	}
}

// Clone copies the values whose descriptor satisfies include.
// Values are deep-copied when the descriptor declares a CopyFunc.
func (s *Store) Clone(include func(*Descriptor) bool) *Store {
	out := NewStore()
	for d, v := range s.values {
		if include != nil && !include(d) {
			continue
		}
		if d.copy != nil {
			v = d.copy(v)
		}
		out.values[d] = v
	}
	return out
}

// Each calls fn for every set value in registration order.
func (s *Store) Each(fn func(d *Descriptor, v any)) {
	ds := make([]*Descriptor, 0, len(s.values))
	for d := range s.values {
		ds = append(ds, d)
	}
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].index != ds[j].index {
			return ds[i].index < ds[j].index
		}
		return ds[i].name < ds[j].name
	})
	for _, d := range ds {
		fn(d, s.values[d])
	}
}

// Len returns the number of explicitly set values.
func (s *Store) Len() int {
	return len(s.values)
}

// Get returns the value for d asserted to T, or T's zero value when the
// stored value has a different type.
func Get[T any](s *Store, d *Descriptor) T {
	v, _ := s.Get(d).(T)
	return v
}
