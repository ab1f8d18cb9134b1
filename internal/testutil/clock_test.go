package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_Sequence(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())

	assert.Equal(t, int64(1), clock.Next())
	assert.Equal(t, int64(2), clock.Next())
	assert.Equal(t, int64(2), clock.Current())

	clock.Reset()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Next())
}

func TestDeterministicClock_StartAt(t *testing.T) {
	clock := NewDeterministicClockAt(40)
	assert.Equal(t, int64(41), clock.Next())
	clock.Next()
	clock.Reset()
	assert.Equal(t, int64(40), clock.Current())
}

func TestDeterministicClock_Concurrent(t *testing.T) {
	clock := NewDeterministicClock()
	const workers, calls = 50, 100

	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				v := clock.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*calls)
	assert.Equal(t, int64(workers*calls), clock.Current())
}

func TestSequentialGUIDs(t *testing.T) {
	g := NewSequentialGUIDs("")
	assert.Equal(t, "ctx-0001", g.Generate())
	assert.Equal(t, "ctx-0002", g.Generate())
	assert.Equal(t, 2, g.Issued())

	other := NewSequentialGUIDs("inst")
	assert.Equal(t, "inst-0001", other.Generate())
}
