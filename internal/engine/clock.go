package engine

import "sync/atomic"

// Clock is the monotonic logical clock that stamps tracking records.
//
// Records are ordered by the clock, never by wall time, so a replayed
// scenario produces the same sequence numbers. Safe for concurrent use,
// although an executor only advances it from its own goroutine.
type Clock struct {
	seq atomic.Int64
}

// Sequencer hands out tracking sequence numbers. *Clock is the default;
// tests substitute a resettable one.
type Sequencer interface {
	Next() int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next value is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
