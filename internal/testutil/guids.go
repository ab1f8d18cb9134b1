package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/arbor/internal/engine"
)

// SequentialGUIDs is an engine.GUIDGenerator yielding prefix-0001,
// prefix-0002, ... It never runs out, unlike engine.FixedGenerator.
type SequentialGUIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

var _ engine.GUIDGenerator = (*SequentialGUIDs)(nil)

// NewSequentialGUIDs creates a generator. An empty prefix means "ctx".
func NewSequentialGUIDs(prefix string) *SequentialGUIDs {
	if prefix == "" {
		prefix = "ctx"
	}
	return &SequentialGUIDs{prefix: prefix}
}

func (g *SequentialGUIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Issued returns how many guids have been generated.
func (g *SequentialGUIDs) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
