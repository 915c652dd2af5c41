package keyrange

import (
	"fmt"
	"strings"
)

// PositionState describes what the counter knows about one dimension.
type PositionState int

const (
	// PositionUnknown: the current key has not been located in this
	// dimension yet, typically because a more significant dimension sits in
	// a non-equality interval where any value of this one may follow.
	PositionUnknown PositionState = iota
	// PositionInInterval: the dimension points at a valid interval.
	PositionInInterval
	// PositionExhausted: the dimension has moved past its last interval.
	PositionExhausted
)

func (s PositionState) String() string {
	switch s {
	case PositionUnknown:
		return "unknown"
	case PositionInInterval:
		return "in-interval"
	case PositionExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("position(%d)", int(s))
}

const unknownPosition = -1

// CompoundRangeCounter tracks the current interval of every dimension of a
// FieldRangeVector during a scan, and how many keys were accepted from the
// current interval combination.
type CompoundRangeCounter struct {
	pos                 []int
	sizes               []int
	singleIntervalCount int
	singleIntervalLimit int
}

// NewCompoundRangeCounter starts with every dimension unknown. sizes holds
// the interval count of each dimension. A limit of 0 disables interval
// counting.
func NewCompoundRangeCounter(sizes []int, singleIntervalLimit int) *CompoundRangeCounter {
	pos := make([]int, len(sizes))
	for i := range pos {
		pos[i] = unknownPosition
	}
	return &CompoundRangeCounter{
		pos:                 pos,
		sizes:               append([]int(nil), sizes...),
		singleIntervalLimit: singleIntervalLimit,
	}
}

func (c *CompoundRangeCounter) Size() int { return len(c.pos) }

// Get returns the interval index of dimension i, or -1 when unknown.
func (c *CompoundRangeCounter) Get(i int) int { return c.pos[i] }

// State classifies dimension i.
func (c *CompoundRangeCounter) State(i int) PositionState {
	switch {
	case c.pos[i] == unknownPosition:
		return PositionUnknown
	case c.pos[i] >= c.sizes[i]:
		return PositionExhausted
	}
	return PositionInInterval
}

func (c *CompoundRangeCounter) Set(i, v int) {
	c.ResetIntervalCount()
	c.pos[i] = v
}

func (c *CompoundRangeCounter) Inc(i int) {
	c.ResetIntervalCount()
	c.pos[i]++
}

// SetZeroes points dimensions i and up at their first interval.
func (c *CompoundRangeCounter) SetZeroes(i int) {
	c.ResetIntervalCount()
	for j := i; j < len(c.pos); j++ {
		c.pos[j] = 0
	}
}

// SetUnknowns forgets the position of dimensions i and up.
func (c *CompoundRangeCounter) SetUnknowns(i int) {
	c.ResetIntervalCount()
	for j := i; j < len(c.pos); j++ {
		c.pos[j] = unknownPosition
	}
}

func (c *CompoundRangeCounter) tracking() bool { return c.singleIntervalLimit > 0 }

func (c *CompoundRangeCounter) IncSingleIntervalCount() {
	if c.tracking() {
		c.singleIntervalCount++
	}
}

func (c *CompoundRangeCounter) HasSingleIntervalCountReachedLimit() bool {
	return c.tracking() && c.singleIntervalCount >= c.singleIntervalLimit
}

func (c *CompoundRangeCounter) ResetIntervalCount() { c.singleIntervalCount = 0 }

func (c *CompoundRangeCounter) String() string {
	parts := make([]string, len(c.pos))
	for i, p := range c.pos {
		parts[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("i: [%s] count: %d limit: %d",
		strings.Join(parts, ", "), c.singleIntervalCount, c.singleIntervalLimit)
}
