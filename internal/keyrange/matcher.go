package keyrange

import "github.com/roach88/rangeplan/internal/ir"

// FieldIntervalMatcher locates one key element relative to one interval
// stored in scan order. Each bound comparison is computed at most once.
type FieldIntervalMatcher struct {
	interval Interval
	element  ir.IRValue
	dir      ir.Direction
	lower    boundCmp
	upper    boundCmp
}

type boundCmp struct {
	cmp   int
	valid bool
}

// NewFieldIntervalMatcher compares element against interval in direction
// dir.
func NewFieldIntervalMatcher(interval Interval, element ir.IRValue, dir ir.Direction) *FieldIntervalMatcher {
	return &FieldIntervalMatcher{interval: interval, element: element, dir: dir}
}

func (m *FieldIntervalMatcher) cmp(cache *boundCmp, bound ir.IRValue) int {
	if !cache.valid {
		cache.cmp = m.dir.Apply(ir.Compare(m.element, bound))
		cache.valid = true
	}
	return cache.cmp
}

func (m *FieldIntervalMatcher) lowerCmp() int { return m.cmp(&m.lower, m.interval.Lower.Value) }

func (m *FieldIntervalMatcher) upperCmp() int { return m.cmp(&m.upper, m.interval.Upper.Value) }

func (m *FieldIntervalMatcher) IsEqInclusiveUpperBound() bool {
	return m.upperCmp() == 0 && m.interval.Upper.Inclusive
}

func (m *FieldIntervalMatcher) IsGteUpperBound() bool {
	return m.upperCmp() >= 0
}

func (m *FieldIntervalMatcher) IsEqExclusiveLowerBound() bool {
	return m.lowerCmp() == 0 && !m.interval.Lower.Inclusive
}

func (m *FieldIntervalMatcher) IsLtLowerBound() bool {
	return m.lowerCmp() < 0
}
