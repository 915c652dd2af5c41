package keyrange

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/queryir"
)

// MaxVectorSize is the ceiling on the number of interval combinations a
// FieldRangeVector may describe.
const MaxVectorSize = 1000000

// FieldRangeVector projects a FieldRangeSet onto the fields of one index,
// traversed in one direction.
//
// Dimension i holds the range of pattern field i in scan order: dimensions
// whose effective direction (field direction composed with the scan
// direction) is descending are stored reversed, with each interval's Lower
// above its Upper. A vector is immutable once built.
type FieldRangeVector struct {
	ranges  []*FieldRange
	pattern ir.KeyPattern
	dir     ir.Direction
	queries []queryir.Predicate
}

// NewFieldRangeVector builds the vector for frs over pattern scanned in dir.
//
// For a multi-key set, only the first constrained field under each
// top-level parent keeps its range; later fields sharing that parent use
// the trivial range, since the constraints may hold on different array
// elements. Every range must be nonempty.
func NewFieldRangeVector(frs *FieldRangeSet, pattern ir.KeyPattern, dir ir.Direction) (v *FieldRangeVector, err error) {
	defer recoverAssertion(&err)

	if len(pattern) == 0 {
		assertf("NewFieldRangeVector", "empty key pattern")
	}
	if dir != ir.Descending {
		dir = ir.Ascending
	}

	vec := &FieldRangeVector{
		ranges:  make([]*FieldRange, len(pattern)),
		pattern: slices.Clone(pattern),
		dir:     dir,
		queries: slices.Clone(frs.queries),
	}
	constrainedParents := make(map[string]bool)
	for i, f := range pattern {
		r := frs.Range(f.Field)
		if !frs.singleKey {
			parent, _, _ := strings.Cut(f.Field, ".")
			if constrainedParents[parent] {
				r = TrivialRange(false)
			} else if r.Nontrivial() {
				constrainedParents[parent] = true
			}
		}
		if r.Empty() {
			assertf("NewFieldRangeVector", "field %q has an empty range", f.Field)
		}
		if f.Direction.Then(dir) == ir.Descending {
			r = r.Reverse()
		}
		vec.ranges[i] = r
	}

	if size := vec.Size(); size >= MaxVectorSize {
		return nil, fmt.Errorf("vector of %d interval combinations: %w", size, ErrCombinatorialLimit)
	}
	return vec, nil
}

// Size is the number of interval combinations, saturating at MaxInt64.
func (v *FieldRangeVector) Size() int64 {
	size := int64(1)
	for _, r := range v.ranges {
		n := int64(len(r.intervals))
		if n == 0 {
			return 0
		}
		if size > math.MaxInt64/n {
			return math.MaxInt64
		}
		size *= n
	}
	return size
}

// NumDims returns the number of pattern fields.
func (v *FieldRangeVector) NumDims() int { return len(v.ranges) }

// Ranges returns the per-dimension ranges in scan order.
func (v *FieldRangeVector) Ranges() []*FieldRange { return slices.Clone(v.ranges) }

func (v *FieldRangeVector) KeyPattern() ir.KeyPattern { return v.pattern }

func (v *FieldRangeVector) Direction() ir.Direction { return v.dir }

// effectiveDirection is the direction dimension i is traversed in.
func (v *FieldRangeVector) effectiveDirection(i int) ir.Direction {
	return v.pattern[i].Direction.Then(v.dir)
}

// ascendingLow returns the smallest bound of dimension i by value order.
func (v *FieldRangeVector) ascendingLow(i int) Bound {
	ivs := v.ranges[i].intervals
	if v.effectiveDirection(i) == ir.Descending {
		return ivs[len(ivs)-1].Upper
	}
	return ivs[0].Lower
}

// ascendingHigh returns the largest bound of dimension i by value order.
func (v *FieldRangeVector) ascendingHigh(i int) Bound {
	ivs := v.ranges[i].intervals
	if v.effectiveDirection(i) == ir.Descending {
		return ivs[0].Lower
	}
	return ivs[len(ivs)-1].Upper
}

// StartKey is the lowest composite key of the vector in index order:
// the smallest value of each ascending field and the largest of each
// descending field. It does not depend on the scan direction.
func (v *FieldRangeVector) StartKey() ir.IndexKey {
	key := make(ir.IndexKey, len(v.ranges))
	for i, f := range v.pattern {
		if f.Direction == ir.Descending {
			key[i] = v.ascendingHigh(i).Value
		} else {
			key[i] = v.ascendingLow(i).Value
		}
	}
	return key
}

// EndKey is the highest composite key of the vector in index order.
func (v *FieldRangeVector) EndKey() ir.IndexKey {
	key := make(ir.IndexKey, len(v.ranges))
	for i, f := range v.pattern {
		if f.Direction == ir.Descending {
			key[i] = v.ascendingLow(i).Value
		} else {
			key[i] = v.ascendingHigh(i).Value
		}
	}
	return key
}

// ScanStart is the first key a scan in the vector's direction visits:
// each dimension's first lower bound in scan order.
func (v *FieldRangeVector) ScanStart() ir.IndexKey {
	key := make(ir.IndexKey, len(v.ranges))
	for i, r := range v.ranges {
		key[i] = r.intervals[0].Lower.Value
	}
	return key
}

// ScanEnd is the last key a scan in the vector's direction visits.
func (v *FieldRangeVector) ScanEnd() ir.IndexKey {
	key := make(ir.IndexKey, len(v.ranges))
	for i, r := range v.ranges {
		key[i] = r.intervals[len(r.intervals)-1].Upper.Value
	}
	return key
}

// matchingLowElement binary searches dimension i's bounds, laid out as
// lower0, upper0, lower1, upper1, ... in scan order, for the last bound at
// or before e. An even result 2k means e lies in interval k; an odd result
// 2k+1 means e lies after interval k and before interval k+1 (-1 is
// before everything). lowEquality reports that e sits exactly on a lower
// bound.
func (v *FieldRangeVector) matchingLowElement(e ir.IRValue, i int) (pos int, lowEquality bool) {
	dir := v.effectiveDirection(i)
	ivs := v.ranges[i].intervals
	l, h := -1, 2*len(ivs)
	for l+1 < h {
		m := (l + h) / 2
		bound := ivs[m/2].Upper
		if m%2 == 0 {
			bound = ivs[m/2].Lower
		}
		c := dir.Apply(ir.Compare(bound.Value, e))
		switch {
		case c < 0:
			l = m
		case c > 0:
			h = m
		default:
			if m%2 == 0 {
				lowEquality = true
			}
			// An exclusive lower bound or an inclusive upper bound puts e
			// just before the boundary position.
			if (m%2 == 0 && !bound.Inclusive) || (m%2 == 1 && bound.Inclusive) {
				m--
			}
			return m, lowEquality
		}
	}
	return l, false
}

func (v *FieldRangeVector) matchesElement(e ir.IRValue, i int) bool {
	pos, _ := v.matchingLowElement(e, i)
	return pos >= 0 && pos%2 == 0
}

// MatchesKey reports whether every component of key lies in its
// dimension's range.
func (v *FieldRangeVector) MatchesKey(key ir.IndexKey) bool {
	if len(key) != len(v.ranges) {
		return false
	}
	for i, e := range key {
		if !v.matchesElement(e, i) {
			return false
		}
	}
	return true
}

// Matches reports whether any index key of doc lies in the vector.
func (v *FieldRangeVector) Matches(doc ir.IRObject) (bool, error) {
	keys, err := ir.ExtractKeys(doc, v.pattern)
	if err != nil {
		return false, fmt.Errorf("extract keys: %w", err)
	}
	for _, key := range keys {
		if v.MatchesKey(key) {
			return true, nil
		}
	}
	return false, nil
}

// FirstMatch returns the first key of doc, in scan order, that lies in the
// vector. ok is false when no key matches.
func (v *FieldRangeVector) FirstMatch(doc ir.IRObject) (key ir.IndexKey, ok bool, err error) {
	keys, err := ir.ExtractKeys(doc, v.pattern)
	if err != nil {
		return nil, false, fmt.Errorf("extract keys: %w", err)
	}
	slices.SortFunc(keys, func(a, b ir.IndexKey) int {
		return ir.CompareKeys(a, b, v.pattern, v.dir)
	})
	for _, k := range keys {
		if v.MatchesKey(k) {
			return k, true, nil
		}
	}
	return nil, false, nil
}

// Object renders the vector as {field: [[lower, upper], ...]} in scan
// order.
func (v *FieldRangeVector) Object() ir.IRDoc {
	doc := make(ir.IRDoc, len(v.ranges))
	for i, r := range v.ranges {
		ivs := make(ir.IRArray, len(r.intervals))
		for k, iv := range r.intervals {
			ivs[k] = ir.IRArray{iv.Lower.Value, iv.Upper.Value}
		}
		doc[i] = ir.IRPair{Key: v.pattern[i].Field, Value: ivs}
	}
	return doc
}

func (v *FieldRangeVector) String() string {
	return v.Object().String()
}
