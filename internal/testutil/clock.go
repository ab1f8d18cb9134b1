// Package testutil holds deterministic stand-ins for the engine's clock and
// guid source, so a scenario run twice yields identical traces.
package testutil

import (
	"sync"

	"github.com/roach88/arbor/internal/engine"
)

// DeterministicClock is a resettable engine.Sequencer.
//
// engine.Clock only moves forward; a DeterministicClock can be rewound to
// its starting point between runs of the same scenario.
type DeterministicClock struct {
	mu    sync.Mutex
	start int64
	seq   int64
}

var _ engine.Sequencer = (*DeterministicClock)(nil)

// NewDeterministicClock creates a clock whose first Next is 1.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockAt(0)
}

// NewDeterministicClockAt creates a clock whose first Next is start+1.
// Reset returns it to start.
func NewDeterministicClockAt(start int64) *DeterministicClock {
	return &DeterministicClock{start: start, seq: start}
}

func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last value handed out.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock to its starting value.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = c.start
}
