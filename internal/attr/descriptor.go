package attr

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrReadOnly is returned when writing a read-only descriptor.
var ErrReadOnly = errors.New("attribute is read-only")

// Flags classify how a descriptor's values are treated.
type Flags uint8

// Normal is the zero flag set: mutable, persisted, kept on clone.
const Normal Flags = 0

const (
	// ReadOnly rejects Set and Remove.
	ReadOnly Flags = 1 << iota
	// Metadata marks authoring-time values.
	Metadata
	// NonSerialized excludes values from snapshots.
	NonSerialized
	// Transient marks runtime state reset on instantiation.
	Transient
	// Durable keeps transient state across Uninitialize.
	Durable
)

// String renders the set flags joined by "|".
func (f Flags) String() string {
	if f == Normal {
		return "normal"
	}
	names := []struct {
		flag Flags
		name string
	}{
		{ReadOnly, "readonly"},
		{Metadata, "metadata"},
		{NonSerialized, "nonserialized"},
		{Transient, "transient"},
		{Durable, "durable"},
	}
	out := ""
	for _, n := range names {
		if f&n.flag == 0 {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += n.name
	}
	return out
}

// GetHook intercepts reads. stored is the raw stored value and ok reports
// whether one was set; the hook's return value is what Get yields.
type GetHook func(s *Store, stored any, ok bool) any

// SetHook intercepts writes. It may transform the value or reject it.
type SetHook func(s *Store, v any) (any, error)

// CopyFunc deep-copies a value when a Store is cloned.
type CopyFunc func(v any) any

// Descriptor declares one attribute.
type Descriptor struct {
	name   string
	index  int
	def    any
	flags  Flags
	get    GetHook
	set    SetHook
	copy   CopyFunc
	decode func(raw json.RawMessage) (any, error)
}

// Option configures a descriptor at registration.
type Option func(*Descriptor)

// WithGetHook installs a read override.
func WithGetHook(h GetHook) Option {
	return func(d *Descriptor) { d.get = h }
}

// WithSetHook installs a write override.
func WithSetHook(h SetHook) Option {
	return func(d *Descriptor) { d.set = h }
}

// WithCopy installs the deep-copy used by Store.Clone.
func WithCopy(c CopyFunc) Option {
	return func(d *Descriptor) { d.copy = c }
}

// Name returns the registered name.
func (d *Descriptor) Name() string { return d.name }

// Index returns the descriptor's position in its registry.
func (d *Descriptor) Index() int { return d.index }

// Default returns the value reads fall back to.
func (d *Descriptor) Default() any { return d.def }

// Flags returns the descriptor's flags.
func (d *Descriptor) Flags() Flags { return d.flags }

// Is reports whether every flag in f is set.
func (d *Descriptor) Is(f Flags) bool { return d.flags&f == f }

// Decode parses a persisted value into the descriptor's declared type.
func (d *Descriptor) Decode(raw json.RawMessage) (any, error) {
	v, err := d.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode attribute %s: %w", d.name, err)
	}
	return v, nil
}

func (d *Descriptor) String() string { return d.name }

// Registry is the arena of declared descriptors.
//
// Registration normally happens during package initialization; lookups
// happen during decoding. Both are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Descriptor
	all    []*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Descriptor)}
}

// Register declares a descriptor of type T in r.
//
// Registering the same name twice panics: descriptor names are the
// persisted keys and must be unique.
func Register[T any](r *Registry, name string, def T, flags Flags, opts ...Option) *Descriptor {
	d := &Descriptor{
		name:  name,
		def:   def,
		flags: flags,
		decode: func(raw json.RawMessage) (any, error) {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
	for _, opt := range opts {
		opt(d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		panic(fmt.Sprintf("attr: descriptor %q registered twice", name))
	}
	d.index = len(r.all)
	r.all = append(r.all, d)
	r.byName[name] = d
	return d
}

// Lookup finds a descriptor by name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, len(r.all))
	copy(out, r.all)
	return out
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
