package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceClock_Sequence(t *testing.T) {
	clock := NewTraceClock()
	assert.Equal(t, int64(0), clock.Current())

	assert.Equal(t, int64(1), clock.Next())
	assert.Equal(t, int64(2), clock.Next())
	assert.Equal(t, int64(2), clock.Current())

	clock.Reset()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Next())
}

func TestTraceClock_ThreadSafe(t *testing.T) {
	clock := NewTraceClock()
	const goroutines = 50
	const calls = 100

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				n := clock.Next()
				mu.Lock()
				assert.False(t, seen[n], "duplicate value %d", n)
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*calls)
	assert.Equal(t, int64(goroutines*calls), clock.Current())
}
