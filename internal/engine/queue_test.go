package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// namedItem is a Schedulable that only carries a label.
type namedItem string

func (namedItem) Run(Runtime) error { return nil }

func TestItemQueue_FIFO(t *testing.T) {
	q := newItemQueue()
	for _, name := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(namedItem(name)))
	}
	assert.Equal(t, 3, q.Len())

	var got []Schedulable
	for {
		s, ok := q.TryDequeue()
		if !ok {
			break
		}
		got = append(got, s)
	}
	assert.Equal(t, []Schedulable{namedItem("A"), namedItem("B"), namedItem("C")}, got)
	assert.Equal(t, 0, q.Len())
}

func TestItemQueue_WaitSignalsEnqueue(t *testing.T) {
	q := newItemQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(namedItem("late"))
	}()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("wait was not signalled")
	}
	s, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, namedItem("late"), s)
}

func TestItemQueue_DrainAndClose(t *testing.T) {
	q := newItemQueue()
	q.Enqueue(namedItem("1"))
	q.Enqueue(namedItem("2"))

	drained := q.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, q.Len())
	select {
	case <-q.Wait():
		t.Fatal("drain should consume the pending wake-up")
	default:
	}

	q.Close()
	q.Close()
	assert.False(t, q.Enqueue(namedItem("3")), "enqueue after close should fail")

	_, open := <-q.Wait()
	assert.False(t, open, "wait channel is closed")
}

func TestItemQueue_ConcurrentProducers(t *testing.T) {
	q := newItemQueue()
	const producers, perProducer = 8, 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(namedItem(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[Schedulable]bool)
	for {
		s, ok := q.TryDequeue()
		if !ok {
			break
		}
		seen[s] = true
	}
	assert.Len(t, seen, producers*perProducer)
}
