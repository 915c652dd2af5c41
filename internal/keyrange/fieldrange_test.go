package keyrange

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/queryir"
)

var (
	minKey = bound(ir.IRMinKey{}, true)
	maxKey = bound(ir.IRMaxKey{}, true)
	minInt = ir.IRInt(math.MinInt64)
	maxInt = ir.IRInt(math.MaxInt64)
)

func TestFieldRange_ExclusiveComparison(t *testing.T) {
	r := mustSet(t, `{"a":{"$gt":2,"$lt":8}}`, true).Range("a")

	assert.Equal(t, []Interval{between(2, false, 8, false)}, r.Intervals())
	assert.False(t, r.Equality())
	assert.False(t, r.Universal())
	assert.False(t, r.Empty())
	assert.True(t, r.Nontrivial())
	assert.Equal(t, "(2, 8)", r.String())
}

func TestFieldRange_InList(t *testing.T) {
	r := mustSet(t, `{"a":{"$in":[5,1,3,3]}}`, true).Range("a")

	assert.Equal(t, []Interval{ipoint(1), ipoint(3), ipoint(5)}, r.Intervals())
	assert.True(t, r.SimpleFiniteSet())
	assert.True(t, r.InQuery())
	assert.False(t, r.Equality())
}

func TestFieldRange_ContradictionIsEmpty(t *testing.T) {
	query := `{"$and":[{"a":{"$gt":5}},{"a":{"$lt":2}}]}`

	frs := mustSet(t, query, true)
	assert.True(t, frs.Range("a").Empty())
	assert.False(t, frs.MatchPossible())

	// With arrays, [1, 6] satisfies both clauses through different
	// elements, so the multi-key set keeps the first range.
	multi := mustSet(t, query, false)
	assert.True(t, multi.MatchPossible())
	assert.Equal(t, []Interval{{Lower: bound(ir.IRInt(5), false), Upper: bound(maxInt, true)}}, multi.Range("a").Intervals())
}

func TestNewFieldRange_Operators(t *testing.T) {
	regex := func(p string) ir.IRObject { return ir.IRObject{"$regex": ir.IRString(p)} }
	universal := []Interval{UniversalInterval()}

	tests := []struct {
		name string
		op   queryir.Op
		want []Interval
	}{
		{"eq", queryir.Op{Kind: queryir.OpEq, Value: ir.IRInt(5)}, []Interval{ipoint(5)}},
		{"ne", queryir.Op{Kind: queryir.OpNe, Value: ir.IRInt(5)}, []Interval{
			{Lower: minKey, Upper: bound(ir.IRInt(5), false)},
			{Lower: bound(ir.IRInt(5), false), Upper: maxKey},
		}},
		{"ne null keeps null", queryir.Op{Kind: queryir.OpNe, Value: ir.IRNull{}}, universal},
		{"exists false", queryir.Op{Kind: queryir.OpExists, Value: ir.IRBool(false)}, []Interval{point(ir.IRNull{})}},
		{"exists true", queryir.Op{Kind: queryir.OpExists, Value: ir.IRBool(true)}, universal},
		{"mod", queryir.Op{Kind: queryir.OpMod, Value: ir.IRArray{ir.IRInt(2), ir.IRInt(0)}}, []Interval{
			{Lower: bound(minInt, true), Upper: bound(maxInt, true)},
		}},
		{"type string", queryir.Op{Kind: queryir.OpType, Value: ir.IRString("string")}, []Interval{
			{Lower: bound(ir.IRString(""), true), Upper: bound(ir.IRObject{}, false)},
		}},
		{"regex prefix", queryir.Op{Kind: queryir.OpRegex, Value: ir.IRString("^ab")}, []Interval{
			{Lower: bound(ir.IRString("ab"), true), Upper: bound(ir.IRString("ac"), false)},
		}},
		{"regex unanchored", queryir.Op{Kind: queryir.OpRegex, Value: ir.IRString("b")}, []Interval{
			{Lower: bound(ir.IRString(""), true), Upper: bound(ir.IRObject{}, false)},
		}},
		{"eq array", queryir.Op{Kind: queryir.OpEq, Value: ir.IRArray{ir.IRInt(1), ir.IRInt(2)}}, []Interval{
			ipoint(1), point(ir.IRArray{ir.IRInt(1), ir.IRInt(2)}),
		}},
		{"eq empty array", queryir.Op{Kind: queryir.OpEq, Value: ir.IRArray{}}, []Interval{
			point(ir.IRNull{}), point(ir.IRArray{}),
		}},
		{"gte string", queryir.Op{Kind: queryir.OpGte, Value: ir.IRString("abc")}, []Interval{
			{Lower: bound(ir.IRString("abc"), true), Upper: bound(ir.IRObject{}, false)},
		}},
		{"lt bool", queryir.Op{Kind: queryir.OpLt, Value: ir.IRBool(true)}, []Interval{
			{Lower: bound(ir.IRBool(false), true), Upper: bound(ir.IRBool(true), false)},
		}},
		{"gt object", queryir.Op{Kind: queryir.OpGt, Value: ir.IRObject{"x": ir.IRInt(1)}}, []Interval{
			{Lower: bound(ir.IRObject{"x": ir.IRInt(1)}, false), Upper: maxKey},
		}},
		{"all", queryir.Op{Kind: queryir.OpAll, Value: ir.IRArray{ir.IRInt(2), ir.IRInt(3)}}, []Interval{ipoint(2)}},
		{"all regex", queryir.Op{Kind: queryir.OpAll, Value: ir.IRArray{regex("^x")}}, []Interval{
			{Lower: bound(ir.IRString("x"), true), Upper: bound(ir.IRString("y"), false)},
		}},
		{"in with regex", queryir.Op{Kind: queryir.OpIn, Value: ir.IRArray{regex("^a"), ir.IRInt(1)}}, []Interval{
			ipoint(1),
			{Lower: bound(ir.IRString("a"), true), Upper: bound(ir.IRString("b"), false)},
		}},
		{"nin skips null", queryir.Op{Kind: queryir.OpNin, Value: ir.IRArray{ir.IRInt(1), ir.IRNull{}}}, []Interval{
			{Lower: minKey, Upper: bound(ir.IRInt(1), false)},
			{Lower: bound(ir.IRInt(1), false), Upper: maxKey},
		}},
		{"size", queryir.Op{Kind: queryir.OpSize, Value: ir.IRInt(2)}, universal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewFieldRange(tt.op, true, false, true)
			assert.Equal(t, tt.want, r.Intervals())
		})
	}
}

func TestNewFieldRange_Negated(t *testing.T) {
	tests := []struct {
		name string
		op   queryir.Op
		want []Interval
	}{
		{"not gt", queryir.Op{Kind: queryir.OpGt, Value: ir.IRInt(5)}, []Interval{
			{Lower: minKey, Upper: bound(ir.IRInt(5), true)},
			{Lower: bound(maxInt, false), Upper: maxKey},
		}},
		{"not ne", queryir.Op{Kind: queryir.OpNe, Value: ir.IRInt(5)}, []Interval{ipoint(5)}},
		{"not nin", queryir.Op{Kind: queryir.OpNin, Value: ir.IRArray{ir.IRInt(2), ir.IRInt(1)}}, []Interval{ipoint(1), ipoint(2)}},
		{"not exists", queryir.Op{Kind: queryir.OpExists, Value: ir.IRBool(true)}, []Interval{point(ir.IRNull{})}},
		{"not in", queryir.Op{Kind: queryir.OpIn, Value: ir.IRArray{ir.IRInt(1), ir.IRInt(3)}}, []Interval{
			{Lower: minKey, Upper: bound(ir.IRInt(1), false)},
			between(1, false, 3, false),
			{Lower: bound(ir.IRInt(3), false), Upper: maxKey},
		}},
		{"not regex", queryir.Op{Kind: queryir.OpRegex, Value: ir.IRString("^a")}, []Interval{UniversalInterval()}},
		{"not array eq", queryir.Op{Kind: queryir.OpEq, Value: ir.IRArray{ir.IRInt(1)}}, []Interval{UniversalInterval()}},
		{"not null eq", queryir.Op{Kind: queryir.OpEq, Value: ir.IRNull{}}, []Interval{UniversalInterval()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewFieldRange(tt.op, true, true, true)
			assert.Equal(t, tt.want, r.Intervals())
		})
	}
}

func TestFieldRangeSet_NotWithSeveralOperators(t *testing.T) {
	query := `{"a":{"$not":{"$gt":2,"$lt":8}}}`

	r := mustSet(t, query, true).Range("a")
	assert.Equal(t, []Interval{
		{Lower: minKey, Upper: bound(ir.IRInt(2), true)},
		{Lower: bound(ir.IRInt(8), true), Upper: maxKey},
	}, r.Intervals())

	assert.True(t, mustSet(t, query, false).Range("a").Universal())
}

func TestNewFieldRange_InSimpleFiniteSet(t *testing.T) {
	in := func(vals ...ir.IRValue) *FieldRange {
		return NewFieldRange(queryir.Op{Kind: queryir.OpIn, Value: ir.IRArray(vals)}, true, false, true)
	}

	assert.True(t, in(ir.IRInt(1), ir.IRString("x")).SimpleFiniteSet())
	assert.False(t, in(ir.IRInt(1), ir.IRObject{"$regex": ir.IRString("^a")}).SimpleFiniteSet())

	arr := in(ir.IRArray{ir.IRInt(1), ir.IRInt(2)})
	assert.False(t, arr.SimpleFiniteSet())
	assert.Equal(t, []Interval{ipoint(1), point(ir.IRArray{ir.IRInt(1), ir.IRInt(2)})}, arr.Intervals())
}

func TestNewFieldRange_GeoIsSpecial(t *testing.T) {
	r := NewFieldRange(queryir.Op{Kind: queryir.OpNear, Value: ir.IRArray{ir.IRInt(0), ir.IRInt(0)}}, true, false, true)
	assert.Equal(t, "2d", r.Special())
	assert.True(t, r.Universal())
}

func TestNewFieldRange_DoesNotAlias(t *testing.T) {
	arr := ir.IRArray{ir.IRInt(1), ir.IRInt(2)}
	r := NewFieldRange(queryir.Op{Kind: queryir.OpEq, Value: arr}, true, false, true)
	arr[0] = ir.IRInt(99)

	assert.Equal(t, []Interval{ipoint(1), point(ir.IRArray{ir.IRInt(1), ir.IRInt(2)})}, r.Intervals())
}

func TestNewFieldRange_WithoutOptimize(t *testing.T) {
	r := NewFieldRange(queryir.Op{Kind: queryir.OpGt, Value: ir.IRInt(5)}, true, false, false)
	assert.Equal(t, []Interval{{Lower: bound(ir.IRInt(5), false), Upper: maxKey}}, r.Intervals())
}

func TestFieldRange_Bounds(t *testing.T) {
	r := single(ipoint(1), between(3, false, 5, true))

	assert.Equal(t, ir.IRInt(1), r.Min())
	assert.Equal(t, ir.IRInt(5), r.Max())
	assert.True(t, r.MinInclusive())
	assert.True(t, r.MaxInclusive())
	assert.Equal(t, "[1, 1] U (3, 5]", r.String())

	empty := r.MakeEmpty()
	assert.True(t, empty.Empty())
	assert.Equal(t, "{}", empty.String())
	assert.PanicsWithError(t, "Min: empty range has no bounds", func() { empty.Min() })
}

func TestFieldRange_Classification(t *testing.T) {
	assert.True(t, TrivialRange(true).Universal())
	assert.False(t, TrivialRange(true).Nontrivial())
	assert.True(t, TrivialRange(true).SingleKey())
	assert.False(t, TrivialRange(false).SingleKey())
	assert.Same(t, TrivialRange(true), TrivialRange(true))

	assert.True(t, single(ipoint(4)).Equality())
	assert.True(t, single(ipoint(4), ipoint(6)).InQuery())
	assert.False(t, single(ipoint(4), closed(6, 7)).InQuery())
	assert.True(t, emptyRange(true).InQuery())

	// Two intervals spanning everything are not the universal range.
	split := single(Interval{Lower: minKey, Upper: bound(ir.IRInt(0), false)}, Interval{Lower: bound(ir.IRInt(0), true), Upper: maxKey})
	assert.False(t, split.Universal())
	assert.True(t, split.Nontrivial())
}

func TestFieldRange_SetExclusiveBounds(t *testing.T) {
	r := single(ipoint(1), closed(3, 5)).SetExclusiveBounds()
	assert.Equal(t, []Interval{between(3, false, 5, false)}, r.Intervals())
}

func TestFieldRange_Reverse(t *testing.T) {
	r := single(ipoint(1), between(3, true, 5, false)).Reverse()
	assert.Equal(t, []Interval{between(5, false, 3, true), ipoint(1)}, r.Intervals())
}

func TestFieldRangeSet_ElemMatch(t *testing.T) {
	frs := mustSet(t, `{"items":{"$elemMatch":{"sku":"x","qty":{"$gt":1}}}}`, true)
	assert.Equal(t, []string{"items.qty", "items.sku"}, frs.Fields())
	assert.True(t, frs.Range("items.sku").Equality())

	frs = mustSet(t, `{"scores":{"$elemMatch":{"$gte":80,"$lt":90}}}`, true)
	assert.Equal(t, []Interval{between(80, true, 90, false)}, frs.Range("scores").Intervals())
}

func TestFieldRangeSet_AllWithElemMatch(t *testing.T) {
	frs := mustSet(t, `{"tags":{"$all":[{"$elemMatch":{"k":1}}]}}`, true)
	require.True(t, frs.HasRange("tags.k"))
	assert.True(t, frs.Range("tags.k").Equality())
	assert.True(t, frs.Range("tags").Universal())
}
