package keyrange

import (
	"github.com/roach88/rangeplan/internal/ir"
)

// Intersect returns the values admitted by both r and other.
//
// A multi-key range that is already nontrivial is not narrowed further:
// two clauses on an array field may be satisfied by different elements, so
// their intersection could drop matching documents. It takes other only
// when other is a subset of r.
func (r *FieldRange) Intersect(other *FieldRange) *FieldRange {
	if !r.singleKey && r.Nontrivial() {
		if other.SubsetOf(r) {
			out := other.withKeyMode(r.singleKey)
			out.special = mergeSpecial(r.special, other.special)
			return out
		}
		return r
	}

	out := make([]Interval, 0, min(len(r.intervals), len(other.intervals)))
	i, j := 0, 0
	for i < len(r.intervals) && j < len(other.intervals) {
		a, b := r.intervals[i], other.intervals[j]
		if iv, ok := overlap(a, b); ok {
			out = append(out, iv)
		}
		if minUpper(a.Upper, b.Upper).Equal(a.Upper) {
			i++
		} else {
			j++
		}
	}

	res := &FieldRange{
		intervals: out,
		singleKey: r.singleKey,
		special:   mergeSpecial(r.special, other.special),
	}
	res.simpleFiniteSet = !res.Universal() &&
		(r.simpleFiniteSet || r.Universal()) &&
		(other.simpleFiniteSet || other.Universal())
	res.check("Intersect")
	return res
}

// Union returns the values admitted by r or other. Overlapping and touching
// intervals coalesce.
func (r *FieldRange) Union(other *FieldRange) *FieldRange {
	out := make([]Interval, 0, len(r.intervals)+len(other.intervals))
	var cur Interval
	have := false
	add := func(iv Interval) {
		if !have {
			cur, have = iv, true
			return
		}
		c := ir.Compare(cur.Upper.Value, iv.Lower.Value)
		if c < 0 || (c == 0 && !cur.Upper.Inclusive && !iv.Lower.Inclusive) {
			out = append(out, cur)
			cur = iv
			return
		}
		cur.Upper = maxUpper(cur.Upper, iv.Upper)
	}

	i, j := 0, 0
	for i < len(r.intervals) && j < len(other.intervals) {
		a, b := r.intervals[i], other.intervals[j]
		c := ir.Compare(a.Lower.Value, b.Lower.Value)
		if c < 0 || (c == 0 && a.Lower.Inclusive) {
			add(a)
			i++
		} else {
			add(b)
			j++
		}
	}
	for ; i < len(r.intervals); i++ {
		add(r.intervals[i])
	}
	for ; j < len(other.intervals); j++ {
		add(other.intervals[j])
	}
	if have {
		out = append(out, cur)
	}

	res := &FieldRange{
		intervals:       out,
		singleKey:       r.singleKey,
		simpleFiniteSet: r.simpleFiniteSet && other.simpleFiniteSet,
		special:         mergeSpecial(r.special, other.special),
	}
	res.check("Union")
	return res
}

// Subtract returns the values of r not admitted by other. An interval of r
// that strictly contains one of other's is split in two.
func (r *FieldRange) Subtract(other *FieldRange) *FieldRange {
	work := make([]Interval, len(r.intervals))
	copy(work, r.intervals)
	out := make([]Interval, 0, len(work))

	i, j := 0, 0
	for i < len(work) && j < len(other.intervals) {
		a, b := work[i], other.intervals[j]
		c := ir.Compare(a.Lower.Value, b.Lower.Value)
		if c < 0 || (c == 0 && a.Lower.Inclusive && !b.Lower.Inclusive) {
			// a starts first: keep its head up to b's lower bound.
			c2 := ir.Compare(a.Upper.Value, b.Lower.Value)
			switch {
			case c2 < 0:
				out = append(out, a)
				i++
			case c2 == 0:
				head := a
				if head.Upper.Inclusive && b.Lower.Inclusive {
					head.Upper.Inclusive = false
				}
				out = append(out, head)
				i++
			default:
				out = append(out, Interval{Lower: a.Lower, Upper: b.Lower.flipped()})
				if upperWithin(a.Upper, b.Upper) {
					i++
				} else {
					work[i].Lower = b.Upper.flipped()
					j++
				}
			}
			continue
		}
		// b starts first.
		c2 := ir.Compare(a.Lower.Value, b.Upper.Value)
		if c2 > 0 || (c2 == 0 && (!a.Lower.Inclusive || !b.Upper.Inclusive)) {
			j++
			continue
		}
		if upperWithin(a.Upper, b.Upper) {
			i++
		} else {
			work[i].Lower = b.Upper.flipped()
			j++
		}
	}
	out = append(out, work[i:]...)

	res := newRange(r.singleKey, out...)
	res.simpleFiniteSet = r.simpleFiniteSet
	res.special = mergeSpecial(r.special, other.special)
	res.check("Subtract")
	return res
}

// upperWithin reports whether upper bound a does not extend past b.
func upperWithin(a, b Bound) bool {
	c := ir.Compare(a.Value, b.Value)
	return c < 0 || (c == 0 && (!a.Inclusive || b.Inclusive))
}

// lowerWithin reports whether lower bound a does not extend below b.
func lowerWithin(a, b Bound) bool {
	c := ir.Compare(a.Value, b.Value)
	return c > 0 || (c == 0 && (!a.Inclusive || b.Inclusive))
}

// SubsetOf reports whether every value admitted by r is admitted by other.
func (r *FieldRange) SubsetOf(other *FieldRange) bool {
	merged := coalesce(other.intervals)
	for _, a := range r.intervals {
		contained := false
		for _, b := range merged {
			if lowerWithin(a.Lower, b.Lower) && upperWithin(a.Upper, b.Upper) {
				contained = true
				break
			}
		}
		if !contained {
			return false
		}
	}
	return true
}

// coalesce joins adjacent intervals that share an endpoint admitted by at
// least one side, such as [1, 3) and [3, 5].
func coalesce(ivs []Interval) []Interval {
	out := make([]Interval, 0, len(ivs))
	for _, iv := range ivs {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if ir.Equal(last.Upper.Value, iv.Lower.Value) && (last.Upper.Inclusive || iv.Lower.Inclusive) {
				last.Upper = iv.Upper
				continue
			}
		}
		out = append(out, iv)
	}
	return out
}

func (r *FieldRange) withKeyMode(singleKey bool) *FieldRange {
	out := *r
	out.singleKey = singleKey
	return &out
}

func mergeSpecial(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// check verifies that intervals are valid, ascending and disjoint.
func (r *FieldRange) check(op string) {
	for i, iv := range r.intervals {
		if !iv.StrictValid() {
			assertf(op, "interval %d %s is not valid", i, iv)
		}
		if i == 0 {
			continue
		}
		prev := r.intervals[i-1]
		c := ir.Compare(prev.Upper.Value, iv.Lower.Value)
		if c > 0 || (c == 0 && prev.Upper.Inclusive && iv.Lower.Inclusive) {
			assertf(op, "intervals %s and %s overlap or are out of order", prev, iv)
		}
	}
}
