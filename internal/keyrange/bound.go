package keyrange

import (
	"fmt"

	"github.com/roach88/rangeplan/internal/ir"
)

// Bound is one end of an interval.
type Bound struct {
	Value     ir.IRValue
	Inclusive bool
}

// Equal requires both the value and the inclusivity to match.
func (b Bound) Equal(o Bound) bool {
	return b.Inclusive == o.Inclusive && ir.Equal(b.Value, o.Value)
}

func (b Bound) flipped() Bound {
	return Bound{Value: b.Value, Inclusive: !b.Inclusive}
}

// Interval is a contiguous run of values between two bounds. Intervals held
// by a FieldRangeVector for a descending dimension have Lower above Upper.
type Interval struct {
	Lower Bound
	Upper Bound
}

// PointInterval is the equality interval [v, v].
func PointInterval(v ir.IRValue) Interval {
	return Interval{
		Lower: Bound{Value: v, Inclusive: true},
		Upper: Bound{Value: v, Inclusive: true},
	}
}

// UniversalInterval is [MinKey, MaxKey].
func UniversalInterval() Interval {
	return Interval{
		Lower: Bound{Value: ir.IRMinKey{}, Inclusive: true},
		Upper: Bound{Value: ir.IRMaxKey{}, Inclusive: true},
	}
}

// StrictValid reports whether the interval admits at least one value:
// lower < upper, or lower == upper with both ends inclusive.
func (iv Interval) StrictValid() bool {
	c := ir.Compare(iv.Lower.Value, iv.Upper.Value)
	return c < 0 || (c == 0 && iv.Lower.Inclusive && iv.Upper.Inclusive)
}

// Equality reports whether the interval is a single inclusive point.
func (iv Interval) Equality() bool {
	return iv.Lower.Inclusive && iv.Upper.Inclusive && ir.Equal(iv.Lower.Value, iv.Upper.Value)
}

// Contains reports whether v lies inside an ascending interval.
func (iv Interval) Contains(v ir.IRValue) bool {
	lc := ir.Compare(v, iv.Lower.Value)
	if lc < 0 || (lc == 0 && !iv.Lower.Inclusive) {
		return false
	}
	uc := ir.Compare(v, iv.Upper.Value)
	return uc < 0 || (uc == 0 && iv.Upper.Inclusive)
}

func (iv Interval) reversed() Interval {
	return Interval{Lower: iv.Upper, Upper: iv.Lower}
}

func (iv Interval) String() string {
	lb, rb := "(", ")"
	if iv.Lower.Inclusive {
		lb = "["
	}
	if iv.Upper.Inclusive {
		rb = "]"
	}
	return fmt.Sprintf("%s%s, %s%s", lb, ir.String(iv.Lower.Value), ir.String(iv.Upper.Value), rb)
}

// maxLower picks the tighter of two lower bounds. On equal values an
// exclusive bound is tighter.
func maxLower(a, b Bound) Bound {
	c := ir.Compare(a.Value, b.Value)
	if c < 0 || (c == 0 && !b.Inclusive) {
		return b
	}
	return a
}

// minUpper picks the tighter of two upper bounds. On equal values an
// exclusive bound is tighter.
func minUpper(a, b Bound) Bound {
	c := ir.Compare(a.Value, b.Value)
	if c > 0 || (c == 0 && !b.Inclusive) {
		return b
	}
	return a
}

// maxUpper picks the looser of two upper bounds.
func maxUpper(a, b Bound) Bound {
	c := ir.Compare(a.Value, b.Value)
	if c < 0 || (c == 0 && b.Inclusive) {
		return b
	}
	return a
}

// overlap intersects two ascending intervals.
func overlap(a, b Interval) (Interval, bool) {
	out := Interval{Lower: maxLower(a.Lower, b.Lower), Upper: minUpper(a.Upper, b.Upper)}
	return out, out.StrictValid()
}
