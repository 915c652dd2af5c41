package keyrange

import (
	"slices"
	"strings"
	"sync"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/queryir"
)

// FieldRange is the set of values one field may take, as a sorted list of
// disjoint intervals.
//
// A FieldRange is immutable. Every algebra operation returns a new range
// and never touches the receiver's interval slice, so ranges (including the
// shared trivial ranges) may be handed out by pointer. Bound values are
// cloned from the predicate at construction; a range never aliases memory
// owned by the caller.
type FieldRange struct {
	intervals       []Interval
	singleKey       bool
	simpleFiniteSet bool
	special         string
}

var (
	trivialOnce   sync.Once
	trivialSingle *FieldRange
	trivialMulti  *FieldRange
)

// TrivialRange returns the shared universal range for unconstrained fields.
// Single-key and multi-key contexts get distinct instances.
func TrivialRange(singleKey bool) *FieldRange {
	trivialOnce.Do(func() {
		trivialSingle = universalRange(true)
		trivialMulti = universalRange(false)
	})
	if singleKey {
		return trivialSingle
	}
	return trivialMulti
}

// newRange builds a range from intervals, dropping any that admit no value.
func newRange(singleKey bool, ivs ...Interval) *FieldRange {
	r := &FieldRange{singleKey: singleKey, intervals: make([]Interval, 0, len(ivs))}
	for _, iv := range ivs {
		if iv.StrictValid() {
			r.intervals = append(r.intervals, iv)
		}
	}
	return r
}

func universalRange(singleKey bool) *FieldRange {
	return newRange(singleKey, UniversalInterval())
}

func emptyRange(singleKey bool) *FieldRange {
	return &FieldRange{singleKey: singleKey, intervals: []Interval{}}
}

// NewFieldRange builds the range of values admitted by one operator clause.
//
// With isNot the range admits the values that fail the clause. With
// optimize, one-sided comparisons on ints, strings and bools are closed at
// the edge of the value's type bracket. Clauses that cannot be expressed as
// intervals yield the universal range; the result is always a superset of
// the matching keys.
func NewFieldRange(op queryir.Op, singleKey, isNot, optimize bool) *FieldRange {
	op.Value = ir.Clone(op.Value)
	if isNot {
		return negatedRange([]queryir.Op{op}, singleKey)
	}
	return positiveRange(op, singleKey, optimize)
}

func positiveRange(op queryir.Op, singleKey, optimize bool) *FieldRange {
	switch op.Kind {
	case queryir.OpEq:
		if arr, ok := op.Value.(ir.IRArray); ok {
			return arrayEqualityRange(arr, singleKey)
		}
		r := newRange(singleKey, PointInterval(op.Value))
		r.simpleFiniteSet = true
		return r
	case queryir.OpNe:
		return complementOfPoints([]ir.IRValue{op.Value}, singleKey)
	case queryir.OpIn:
		arr, _ := op.Value.(ir.IRArray)
		return inRange(arr, singleKey)
	case queryir.OpNin:
		arr, _ := op.Value.(ir.IRArray)
		return complementOfPoints(arr, singleKey)
	case queryir.OpGt, queryir.OpGte, queryir.OpLt, queryir.OpLte:
		return comparisonRange(op, singleKey, optimize)
	case queryir.OpRegex:
		pattern, _ := op.Value.(ir.IRString)
		return regexRange(string(pattern), op.Options, singleKey)
	case queryir.OpAll:
		arr, _ := op.Value.(ir.IRArray)
		return allRange(arr, singleKey)
	case queryir.OpMod:
		return bracketRange(ir.KindInt, singleKey)
	case queryir.OpType:
		k, err := queryir.TypeKind(op.Value)
		if err != nil {
			return universalRange(singleKey)
		}
		return bracketRange(k, singleKey)
	case queryir.OpExists:
		if queryir.Truthy(op.Value) {
			return universalRange(singleKey)
		}
		return newRange(singleKey, PointInterval(ir.IRNull{}))
	case queryir.OpNear, queryir.OpWithin:
		r := universalRange(singleKey)
		r.special = "2d"
		return r
	}
	// $size and $elemMatch do not constrain the field's own keys.
	return universalRange(singleKey)
}

// arrayEqualityRange admits an array value and the keys the array itself
// produces: its first element, or null when it is empty.
func arrayEqualityRange(arr ir.IRArray, singleKey bool) *FieldRange {
	var first ir.IRValue = ir.IRNull{}
	if len(arr) > 0 {
		first = arr[0]
	}
	return pointsRange([]ir.IRValue{arr, first}, singleKey)
}

// pointsRange builds a union of equality intervals.
func pointsRange(vals []ir.IRValue, singleKey bool) *FieldRange {
	sorted := slices.Clone(vals)
	slices.SortFunc(sorted, ir.Compare)
	sorted = slices.CompactFunc(sorted, ir.Equal)
	ivs := make([]Interval, len(sorted))
	for i, v := range sorted {
		ivs[i] = PointInterval(v)
	}
	return newRange(singleKey, ivs...)
}

func inRange(arr ir.IRArray, singleKey bool) *FieldRange {
	var points []ir.IRValue
	var regexes []*FieldRange
	scalarOnly := true
	for _, elem := range arr {
		if pattern, options, ok := regexMember(elem); ok {
			regexes = append(regexes, regexRange(pattern, options, singleKey))
			continue
		}
		points = append(points, elem)
		if inner, ok := elem.(ir.IRArray); ok {
			scalarOnly = false
			if len(inner) > 0 {
				points = append(points, inner[0])
			} else {
				points = append(points, ir.IRNull{})
			}
		}
	}
	r := pointsRange(points, singleKey)
	for _, re := range regexes {
		r = r.Union(re)
	}
	r.simpleFiniteSet = len(regexes) == 0 && scalarOnly
	return r
}

// complementOfPoints admits every value except the given ones. Regex
// members are ignored, and so is null: an empty array indexes as null, so
// excluding null would drop documents that match.
func complementOfPoints(vals []ir.IRValue, singleKey bool) *FieldRange {
	var points []ir.IRValue
	for _, v := range vals {
		if _, _, ok := regexMember(v); ok {
			continue
		}
		if ir.KindOf(v) == ir.KindNull {
			continue
		}
		points = append(points, v)
	}
	return pointsRange(points, singleKey).complement()
}

func comparisonRange(op queryir.Op, singleKey, optimize bool) *FieldRange {
	iv := UniversalInterval()
	switch op.Kind {
	case queryir.OpLt:
		iv.Upper = Bound{Value: op.Value, Inclusive: false}
	case queryir.OpLte:
		iv.Upper = Bound{Value: op.Value, Inclusive: true}
	case queryir.OpGt:
		iv.Lower = Bound{Value: op.Value, Inclusive: false}
	case queryir.OpGte:
		iv.Lower = Bound{Value: op.Value, Inclusive: true}
	}
	if optimize {
		iv = typeBracketed(iv)
	}
	return newRange(singleKey, iv)
}

// typeBracketed closes the open side of a one-sided interval at the edge of
// the bound value's type bracket.
func typeBracketed(iv Interval) Interval {
	lowerOpen := ir.KindOf(iv.Lower.Value) == ir.KindMinKey
	upperOpen := ir.KindOf(iv.Upper.Value) == ir.KindMaxKey
	switch {
	case !lowerOpen && upperOpen && ir.KindOf(iv.Lower.Value).IsSimple():
		v, inc := ir.MaxForType(ir.KindOf(iv.Lower.Value))
		iv.Upper = Bound{Value: v, Inclusive: inc}
	case lowerOpen && !upperOpen && ir.KindOf(iv.Upper.Value).IsSimple():
		iv.Lower = Bound{Value: ir.MinForType(ir.KindOf(iv.Upper.Value)), Inclusive: true}
	}
	return iv
}

func bracketRange(k ir.Kind, singleKey bool) *FieldRange {
	upper, inc := ir.MaxForType(k)
	return newRange(singleKey, Interval{
		Lower: Bound{Value: ir.MinForType(k), Inclusive: true},
		Upper: Bound{Value: upper, Inclusive: inc},
	})
}

// regexRange admits the strings a regex can match: its literal prefix range
// when it has one, otherwise every string.
func regexRange(pattern, options string, singleKey bool) *FieldRange {
	prefix, _ := SimpleRegex(pattern, options)
	if prefix == "" {
		return bracketRange(ir.KindString, singleKey)
	}
	return newRange(singleKey, prefixInterval(prefix))
}

func prefixInterval(prefix string) Interval {
	iv := Interval{
		Lower: Bound{Value: ir.IRString(prefix), Inclusive: true},
	}
	if end, ok := SimpleRegexEnd(prefix); ok {
		iv.Upper = Bound{Value: ir.IRString(end), Inclusive: false}
	} else {
		v, inc := ir.MaxForType(ir.KindString)
		iv.Upper = Bound{Value: v, Inclusive: inc}
	}
	return iv
}

// allRange uses the first plain element of an $all list as an equality,
// falling back to the first regex with a usable prefix.
func allRange(arr ir.IRArray, singleKey bool) *FieldRange {
	for _, elem := range arr {
		if _, _, ok := regexMember(elem); ok || isElemMatchMember(elem) {
			continue
		}
		if inner, ok := elem.(ir.IRArray); ok {
			return arrayEqualityRange(inner, singleKey)
		}
		return newRange(singleKey, PointInterval(elem))
	}
	for _, elem := range arr {
		pattern, options, ok := regexMember(elem)
		if !ok {
			continue
		}
		if prefix, _ := SimpleRegex(pattern, options); prefix != "" {
			return newRange(singleKey, prefixInterval(prefix))
		}
	}
	return universalRange(singleKey)
}

// regexMember recognizes {$regex: pattern, $options: flags} inside $in,
// $nin and $all lists.
func regexMember(v ir.IRValue) (pattern, options string, ok bool) {
	obj, isObj := v.(ir.IRObject)
	if !isObj {
		return "", "", false
	}
	p, isStr := obj["$regex"].(ir.IRString)
	if !isStr {
		return "", "", false
	}
	if o, isStr := obj["$options"].(ir.IRString); isStr {
		options = string(o)
	}
	return string(p), options, true
}

func isElemMatchMember(v ir.IRValue) bool {
	obj, ok := v.(ir.IRObject)
	if !ok {
		return false
	}
	_, ok = obj[string(queryir.OpElemMatch)]
	return ok
}

// negatedRange admits the values that fail the conjunction of ops.
//
// Operators with a direct opposite ($ne, $nin, $exists) map to it. Other
// clauses are negated by complementing their positive range, which is only
// sound when that range is exact; otherwise the result is universal. A
// multi-clause negation on a multi-key field is always universal, since the
// clauses may be satisfied by different array elements.
func negatedRange(ops []queryir.Op, singleKey bool) *FieldRange {
	if len(ops) == 1 {
		op := ops[0]
		switch op.Kind {
		case queryir.OpNe:
			return positiveRange(queryir.Op{Kind: queryir.OpEq, Value: op.Value}, singleKey, true)
		case queryir.OpNin:
			return positiveRange(queryir.Op{Kind: queryir.OpIn, Value: op.Value}, singleKey, true)
		case queryir.OpExists:
			flipped := ir.IRBool(!queryir.Truthy(op.Value))
			return positiveRange(queryir.Op{Kind: queryir.OpExists, Value: flipped}, singleKey, true)
		}
	} else if !singleKey {
		return universalRange(singleKey)
	}

	var positive *FieldRange
	for _, op := range ops {
		r, ok := exactRange(op, singleKey)
		if !ok {
			return universalRange(singleKey)
		}
		if positive == nil {
			positive = r
		} else {
			positive = positive.Intersect(r)
		}
	}
	if positive == nil {
		return universalRange(singleKey)
	}
	return positive.complement()
}

// exactRange returns the positive range of op when every key inside it
// belongs to a value that satisfies op.
func exactRange(op queryir.Op, singleKey bool) (*FieldRange, bool) {
	switch op.Kind {
	case queryir.OpEq:
		if !isPlainScalar(op.Value) {
			return nil, false
		}
	case queryir.OpIn:
		arr, _ := op.Value.(ir.IRArray)
		for _, elem := range arr {
			if !isPlainScalar(elem) {
				return nil, false
			}
		}
	case queryir.OpNe, queryir.OpNin:
		if !singleKey {
			return nil, false
		}
		vals := []ir.IRValue{op.Value}
		if op.Kind == queryir.OpNin {
			arr, _ := op.Value.(ir.IRArray)
			vals = arr
		}
		for _, v := range vals {
			if !isPlainScalar(v) {
				return nil, false
			}
		}
	case queryir.OpGt, queryir.OpGte, queryir.OpLt, queryir.OpLte:
		if !ir.KindOf(op.Value).IsSimple() {
			return nil, false
		}
	default:
		return nil, false
	}
	return positiveRange(op, singleKey, true), true
}

// isPlainScalar excludes arrays (element keys), null (shared with missing
// fields and empty arrays) and regex members.
func isPlainScalar(v ir.IRValue) bool {
	switch ir.KindOf(v) {
	case ir.KindArray, ir.KindNull:
		return false
	}
	_, _, isRegex := regexMember(v)
	return !isRegex
}

// complement returns the values of [MinKey, MaxKey] outside r.
func (r *FieldRange) complement() *FieldRange {
	out := make([]Interval, 0, len(r.intervals)+1)
	lower := Bound{Value: ir.IRMinKey{}, Inclusive: true}
	for _, iv := range r.intervals {
		out = append(out, Interval{Lower: lower, Upper: iv.Lower.flipped()})
		lower = iv.Upper.flipped()
	}
	out = append(out, Interval{Lower: lower, Upper: Bound{Value: ir.IRMaxKey{}, Inclusive: true}})
	return newRange(r.singleKey, out...)
}

// Intervals returns a copy of the interval list.
func (r *FieldRange) Intervals() []Interval {
	return slices.Clone(r.intervals)
}

// NumIntervals returns the interval count.
func (r *FieldRange) NumIntervals() int {
	return len(r.intervals)
}

// Empty reports whether no value is admitted.
func (r *FieldRange) Empty() bool {
	return len(r.intervals) == 0
}

// Universal reports whether the range is exactly [MinKey, MaxKey].
func (r *FieldRange) Universal() bool {
	if len(r.intervals) != 1 {
		return false
	}
	iv := r.intervals[0]
	return iv.Lower.Inclusive && iv.Upper.Inclusive &&
		ir.KindOf(iv.Lower.Value) == ir.KindMinKey && ir.KindOf(iv.Upper.Value) == ir.KindMaxKey
}

// Nontrivial reports whether the range is nonempty and narrower than
// [MinKey, MaxKey].
func (r *FieldRange) Nontrivial() bool {
	if r.Empty() {
		return false
	}
	return len(r.intervals) != 1 ||
		ir.KindOf(r.Min()) != ir.KindMinKey ||
		ir.KindOf(r.Max()) != ir.KindMaxKey
}

// Equality reports whether the range admits exactly one value.
func (r *FieldRange) Equality() bool {
	return !r.Empty() && r.MinInclusive() && r.MaxInclusive() && ir.Equal(r.Min(), r.Max())
}

// InQuery reports whether every interval is a single value.
func (r *FieldRange) InQuery() bool {
	if r.Equality() {
		return true
	}
	for _, iv := range r.intervals {
		if !iv.Equality() {
			return false
		}
	}
	return true
}

// SimpleFiniteSet reports that the range is known to be a small set of
// discrete values fully covered by its predicate. It is a heuristic: false
// does not mean the range is infinite.
func (r *FieldRange) SimpleFiniteSet() bool { return r.simpleFiniteSet }

// SingleKey reports which multiplicity the range was built for.
func (r *FieldRange) SingleKey() bool { return r.singleKey }

// Special names the special index type the range requires, or "".
func (r *FieldRange) Special() string { return r.special }

// Min is the lower bound value of the first interval.
func (r *FieldRange) Min() ir.IRValue {
	r.mustNotBeEmpty("Min")
	return r.intervals[0].Lower.Value
}

// Max is the upper bound value of the last interval.
func (r *FieldRange) Max() ir.IRValue {
	r.mustNotBeEmpty("Max")
	return r.intervals[len(r.intervals)-1].Upper.Value
}

func (r *FieldRange) MinInclusive() bool {
	r.mustNotBeEmpty("MinInclusive")
	return r.intervals[0].Lower.Inclusive
}

func (r *FieldRange) MaxInclusive() bool {
	r.mustNotBeEmpty("MaxInclusive")
	return r.intervals[len(r.intervals)-1].Upper.Inclusive
}

func (r *FieldRange) mustNotBeEmpty(op string) {
	if r.Empty() {
		assertf(op, "empty range has no bounds")
	}
}

// MakeEmpty returns an empty range with the same multiplicity.
func (r *FieldRange) MakeEmpty() *FieldRange {
	out := emptyRange(r.singleKey)
	out.special = r.special
	return out
}

// SetExclusiveBounds returns the range with every bound made exclusive.
// Single-value intervals vanish.
func (r *FieldRange) SetExclusiveBounds() *FieldRange {
	ivs := make([]Interval, len(r.intervals))
	for i, iv := range r.intervals {
		iv.Lower.Inclusive = false
		iv.Upper.Inclusive = false
		ivs[i] = iv
	}
	out := newRange(r.singleKey, ivs...)
	out.special = r.special
	return out
}

// Reverse returns the intervals in descending order with each interval's
// bounds swapped. The result is for descending traversal only; it does not
// satisfy the ascending ordering checks of the algebra.
func (r *FieldRange) Reverse() *FieldRange {
	ivs := make([]Interval, len(r.intervals))
	for i, iv := range r.intervals {
		ivs[len(ivs)-1-i] = iv.reversed()
	}
	return &FieldRange{
		intervals:       ivs,
		singleKey:       r.singleKey,
		simpleFiniteSet: r.simpleFiniteSet,
		special:         r.special,
	}
}

func (r *FieldRange) String() string {
	if r.Empty() {
		return "{}"
	}
	parts := make([]string, len(r.intervals))
	for i, iv := range r.intervals {
		parts[i] = iv.String()
	}
	return strings.Join(parts, " U ")
}
