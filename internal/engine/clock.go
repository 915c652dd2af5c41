package engine

import "sync/atomic"

// Clock is the monotonic logical clock that orders catalog changes and
// runs.
//
// Index declarations, document inserts and runs are stamped with a
// strictly increasing seq number from this clock. Replay uses the stamps
// to rebuild the catalog as it was when a run happened, so ordering must
// never depend on wall-clock time.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used when reopening a store to resume after its last stamp.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
