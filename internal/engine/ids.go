package engine

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// GUIDGenerator produces execution context guids.
type GUIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-ordered UUIDv7 guids.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator hands out a predetermined list of guids, for tests and
// golden traces. It panics once the list is exhausted.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator returning tokens in order.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next token.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}

// idAllocator hands out process-local context ids. Released ids are
// reused lowest first; id 0 belongs to the instance root.
type idAllocator struct {
	next int
	free []int
}

func (a *idAllocator) Allocate() int {
	if len(a.free) > 0 {
		id := a.free[0]
		a.free = a.free[1:]
		return id
	}
	id := a.next
	a.next++
	return id
}

func (a *idAllocator) Release(id int) {
	if id <= 0 || id >= a.next || slices.Contains(a.free, id) {
		return
	}
	a.free = append(a.free, id)
	slices.Sort(a.free)
}
