package keyrange

import (
	"fmt"
	"slices"

	"github.com/roach88/rangeplan/internal/ir"
)

// AdvanceKind is the instruction Advance gives the scan loop.
type AdvanceKind int

const (
	// AdvanceLinear: the key lies inside the vector; fetch the next key.
	AdvanceLinear AdvanceKind = iota
	// AdvanceSkip: seek forward as described by the result.
	AdvanceSkip
	// AdvanceStop: no later key can match.
	AdvanceStop
)

func (k AdvanceKind) String() string {
	switch k {
	case AdvanceLinear:
		return "linear"
	case AdvanceSkip:
		return "skip"
	case AdvanceStop:
		return "stop"
	}
	return fmt.Sprintf("advance(%d)", int(k))
}

// SkipMode says how the fields after the kept prefix are formed.
type SkipMode int

const (
	// SkipAfter: seek past every key that starts with the prefix.
	SkipAfter SkipMode = iota
	// SkipToBound: seek to the prefix followed by Bounds.
	SkipToBound
)

func (m SkipMode) String() string {
	if m == SkipToBound {
		return "to-bound"
	}
	return "after"
}

// AdvanceResult is the outcome of one Advance call.
//
// For a skip, the first PrefixLen fields of the current key are kept. With
// SkipToBound, Bounds and Inclusive hold the seek values of the remaining
// fields (len = key length - PrefixLen); an exclusive bound means the seek
// must land strictly after that value.
type AdvanceResult struct {
	Kind      AdvanceKind  `json:"kind"`
	PrefixLen int          `json:"prefix_len,omitempty"`
	Mode      SkipMode     `json:"mode,omitempty"`
	Bounds    []ir.IRValue `json:"bounds,omitempty"`
	Inclusive []bool       `json:"inclusive,omitempty"`
}

func (r AdvanceResult) String() string {
	switch r.Kind {
	case AdvanceSkip:
		if r.Mode == SkipToBound {
			return fmt.Sprintf("skip prefix=%d to %s %v", r.PrefixLen, ir.IndexKey(r.Bounds), r.Inclusive)
		}
		return fmt.Sprintf("skip prefix=%d after", r.PrefixLen)
	default:
		return r.Kind.String()
	}
}

// SeekKey returns the key a scan positioned on curr should reposition to
// for a skip result, in the vector's field layout. The scan continues at
// the first key at or after the returned key in scan order, or strictly
// after it when inclusive is false.
//
// Fields past the kept prefix that the skip jumps over entirely are filled
// with the value that sorts last in their scan direction.
func (r AdvanceResult) SeekKey(curr ir.IndexKey, v *FieldRangeVector) (key ir.IndexKey, inclusive bool) {
	n := len(curr)
	key = make(ir.IndexKey, n)
	copy(key, curr[:r.PrefixLen])
	fill := r.PrefixLen
	inclusive = false
	if r.Mode == SkipToBound {
		inclusive = true
		for j, b := range r.Bounds {
			key[r.PrefixLen+j] = b
			fill = r.PrefixLen + j + 1
			if !r.Inclusive[j] {
				inclusive = false
				break
			}
		}
	}
	for j := fill; j < n; j++ {
		if v.effectiveDirection(j) == ir.Descending {
			key[j] = ir.IRMinKey{}
		} else {
			key[j] = ir.IRMaxKey{}
		}
	}
	return key, inclusive
}

// FieldRangeVectorIterator turns each key of an ordered index scan into an
// instruction: keep going, skip ahead, or stop. The scan loop calls
// Advance with every key it visits, in scan order.
type FieldRangeVectorIterator struct {
	v       *FieldRangeVector
	counter *CompoundRangeCounter
	cmp     []ir.IRValue
	inc     []bool
	after   bool
}

// NewFieldRangeVectorIterator starts an iteration over v.
//
// singleIntervalLimit caps the keys accepted from one interval combination
// before the scan is sent past it; 0 disables the cap. A cap is only
// meaningful when every interval is a single value, so a positive limit
// on a vector with a wider interval is rejected.
func NewFieldRangeVectorIterator(v *FieldRangeVector, singleIntervalLimit int) (*FieldRangeVectorIterator, error) {
	if singleIntervalLimit < 0 {
		return nil, &AssertionError{Op: "NewFieldRangeVectorIterator", Message: "negative single interval limit"}
	}
	sizes := make([]int, len(v.ranges))
	for i, r := range v.ranges {
		sizes[i] = len(r.intervals)
		if singleIntervalLimit > 0 {
			for _, iv := range r.intervals {
				if !iv.Equality() {
					return nil, &AssertionError{
						Op:      "NewFieldRangeVectorIterator",
						Message: fmt.Sprintf("single interval limit needs equality intervals, %s has %s", v.pattern[i].Field, iv),
					}
				}
			}
		}
	}
	return &FieldRangeVectorIterator{
		v:       v,
		counter: NewCompoundRangeCounter(sizes, singleIntervalLimit),
		cmp:     make([]ir.IRValue, len(v.ranges)),
		inc:     make([]bool, len(v.ranges)),
	}, nil
}

// Advance inspects curr, the key the scan is positioned on, and says where
// to go next. Every skip target is strictly after curr in scan order.
//
// Dimensions are checked from the most significant. A dimension whose
// position is unknown is located by binary search; a known one walks
// forward through its intervals. The least significant dimension that
// still has room to move (latestNonEndpoint) is where the scan resumes
// when a later dimension runs out of intervals.
func (it *FieldRangeVectorIterator) Advance(curr ir.IndexKey) AdvanceResult {
	n := it.counter.Size()
	if len(curr) != n {
		assertf("Advance", "key %s has %d fields, index has %d", curr, len(curr), n)
	}
	ranges := it.v.ranges

	latestNonEndpoint := -1
	for i := 0; i < n; i++ {
		if i > 0 && !ranges[i-1].intervals[it.counter.Get(i-1)].Equality() {
			// Past a non-equality interval any value may follow.
			it.counter.SetUnknowns(i)
		}
		dir := it.v.effectiveDirection(i)
		elem := curr[i]
		ivs := ranges[i].intervals

		if it.counter.State(i) == PositionUnknown {
			l, lowEquality := it.v.matchingLowElement(elem, i)
			if l >= 0 && l%2 == 0 {
				it.counter.Set(i, l/2)
				diff := len(ivs) - it.counter.Get(i)
				if diff > 1 || (diff == 1 && !ir.Equal(ivs[it.counter.Get(i)].Upper.Value, elem)) {
					latestNonEndpoint = i
				}
				continue
			}
			if l == 2*len(ivs)-1 {
				if latestNonEndpoint == -1 {
					return it.stop()
				}
				return it.advancePast(latestNonEndpoint + 1)
			}
			it.counter.Set(i, (l+1)/2)
			if lowEquality {
				return it.advancePast(i + 1)
			}
			return it.advanceToLowerBound(i)
		}

		eq := false
		for it.counter.Get(i) < len(ivs) {
			m := NewFieldIntervalMatcher(ivs[it.counter.Get(i)], elem, dir)
			if m.IsEqInclusiveUpperBound() {
				eq = true
				break
			}
			if !m.IsGteUpperBound() {
				if m.IsEqExclusiveLowerBound() {
					return it.advancePastZeroed(i + 1)
				}
				if m.IsLtLowerBound() {
					it.counter.SetZeroes(i + 1)
					return it.advanceToLowerBound(i)
				}
				break
			}
			it.counter.Inc(i)
			it.counter.SetZeroes(i + 1)
		}

		diff := len(ivs) - it.counter.Get(i)
		switch {
		case diff > 1 || (!eq && diff == 1):
			latestNonEndpoint = i
		case diff == 0:
			if latestNonEndpoint == -1 {
				return it.stop()
			}
			return it.advancePastZeroed(latestNonEndpoint + 1)
		}
	}

	it.counter.IncSingleIntervalCount()
	if it.counter.HasSingleIntervalCountReachedLimit() {
		return it.advancePast(n)
	}
	return AdvanceResult{Kind: AdvanceLinear}
}

func (it *FieldRangeVectorIterator) stop() AdvanceResult {
	return AdvanceResult{Kind: AdvanceStop}
}

func (it *FieldRangeVectorIterator) advancePast(i int) AdvanceResult {
	it.after = true
	return AdvanceResult{Kind: AdvanceSkip, PrefixLen: i, Mode: SkipAfter}
}

func (it *FieldRangeVectorIterator) advancePastZeroed(i int) AdvanceResult {
	it.counter.SetZeroes(i)
	return it.advancePast(i)
}

// advanceToLowerBound seeks dimension i to the lower bound of its current
// interval and every later dimension to its first lower bound.
func (it *FieldRangeVectorIterator) advanceToLowerBound(i int) AdvanceResult {
	ranges := it.v.ranges
	lower := ranges[i].intervals[it.counter.Get(i)].Lower
	it.cmp[i], it.inc[i] = lower.Value, lower.Inclusive
	for j := i + 1; j < len(ranges); j++ {
		first := ranges[j].intervals[0].Lower
		it.cmp[j], it.inc[j] = first.Value, first.Inclusive
	}
	it.after = false
	return AdvanceResult{
		Kind:      AdvanceSkip,
		PrefixLen: i,
		Mode:      SkipToBound,
		Bounds:    slices.Clone(it.cmp[i:]),
		Inclusive: slices.Clone(it.inc[i:]),
	}
}

// PrepDive points the pending seek values at the very first key of the
// vector and resets the interval count.
func (it *FieldRangeVectorIterator) PrepDive() {
	for j, r := range it.v.ranges {
		first := r.intervals[0].Lower
		it.cmp[j], it.inc[j] = first.Value, first.Inclusive
	}
	it.counter.ResetIntervalCount()
}

// Cmp returns the pending seek values of every dimension.
func (it *FieldRangeVectorIterator) Cmp() []ir.IRValue { return slices.Clone(it.cmp) }

// Inc returns the inclusivity of the pending seek values.
func (it *FieldRangeVectorIterator) Inc() []bool { return slices.Clone(it.inc) }

// After reports whether the last skip was a skip-after.
func (it *FieldRangeVectorIterator) After() bool { return it.after }

// Counter exposes the position counter for inspection.
func (it *FieldRangeVectorIterator) Counter() *CompoundRangeCounter { return it.counter }

// StartKey is where the scan opens.
func (it *FieldRangeVectorIterator) StartKey() ir.IndexKey { return it.v.ScanStart() }

// EndKey is where the scan ends.
func (it *FieldRangeVectorIterator) EndKey() ir.IndexKey { return it.v.ScanEnd() }
