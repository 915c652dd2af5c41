package testutil

import "sync"

// TraceClock numbers the events of a scenario trace.
//
// engine.Clock stamps catalog changes inside the engine; TraceClock numbers
// what a test observed, so a trace stays stable when the engine spends
// stamps differently. Reset lets one clock serve repeated runs of the
// same scenario.
//
// Thread-safety: All methods are safe for concurrent use.
type TraceClock struct {
	mu  sync.Mutex
	seq int64
}

// NewTraceClock creates a clock whose first Next returns 1.
func NewTraceClock() *TraceClock {
	return &TraceClock{}
}

// Next returns the next event number.
func (c *TraceClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last number handed out, 0 before the first Next.
func (c *TraceClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock to 0.
func (c *TraceClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
