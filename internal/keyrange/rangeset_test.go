package keyrange

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rangeplan/internal/ir"
)

func TestFieldRangeSet_Basics(t *testing.T) {
	frs := mustSet(t, `{"a":1,"b":{"$gte":2},"c":{"$exists":true}}`, true)

	assert.Equal(t, testNS, frs.Namespace())
	assert.True(t, frs.SingleKey())
	assert.Equal(t, []string{"a", "b", "c"}, frs.Fields())
	assert.True(t, frs.HasRange("c"))
	assert.False(t, frs.HasRange("d"))
	assert.Same(t, TrivialRange(true), frs.Range("d"))
	assert.Equal(t, 2, frs.NumNonUniversalRanges())
	assert.Equal(t, 2, frs.NumNontrivialRanges())
	assert.True(t, frs.MatchPossible())
	assert.False(t, frs.SimpleFiniteSet())
	assert.NotNil(t, frs.OriginalQuery())
}

func TestFieldRangeSet_NilPredicate(t *testing.T) {
	frs, err := NewFieldRangeSet(testNS, nil, true, true)
	require.NoError(t, err)
	assert.Empty(t, frs.Fields())
	assert.Nil(t, frs.OriginalQuery())
	assert.True(t, frs.MatchPossible())
}

func TestFieldRangeSet_OrAndWhereAddNothing(t *testing.T) {
	frs := mustSet(t, `{"$or":[{"a":1},{"a":2}],"$where":"this.a > 1","b":3}`, true)
	assert.Equal(t, []string{"b"}, frs.Fields())
}

func TestFieldRangeSet_SimpleFiniteSet(t *testing.T) {
	assert.True(t, mustSet(t, `{"a":1,"b":{"$in":["x","y"]}}`, true).SimpleFiniteSet())
	assert.False(t, mustSet(t, `{"a":1,"b":{"$gt":1}}`, true).SimpleFiniteSet())
}

func TestFieldRangeSet_MatchPossibleForIndex(t *testing.T) {
	frs := mustSet(t, `{"a":{"$gt":5,"$lt":2},"b":1}`, true)
	assert.False(t, frs.MatchPossible())
	assert.False(t, frs.MatchPossibleForIndex(ir.MustParseKeyPattern(`{"a":1}`)))
	// A single-key set only looks at the indexed fields.
	assert.True(t, frs.MatchPossibleForIndex(ir.MustParseKeyPattern(`{"b":1}`)))
	// A full scan falls back to the whole set.
	assert.False(t, frs.MatchPossibleForIndex(ir.MustParseKeyPattern(`{"$natural":1}`)))
	assert.False(t, frs.MatchPossibleForIndex(nil))
}

func TestFieldRangeSet_SimplifiedQuery(t *testing.T) {
	frs := mustSet(t, `{"a":{"$gt":2,"$lt":8},"b":3,"c":{"$exists":true}}`, true)

	q := frs.SimplifiedQuery(nil)
	assert.Equal(t, `{"a":{"$gt":2,"$lt":8},"b":3}`, q.String())

	q = frs.SimplifiedQuery([]string{"b", "a", "z"})
	assert.Equal(t, `{"b":3,"a":{"$gt":2,"$lt":8}}`, q.String())

	empty := mustSet(t, `{"a":{"$gt":5,"$lt":2}}`, true)
	assert.Equal(t, `{"a":{"$in":[]}}`, empty.SimplifiedQuery(nil).String())
}

func TestFieldRangeSet_SimplifiedQueryOpenSide(t *testing.T) {
	pred := mustParse(t, `{"a":{"$gt":{"x":1}}}`)
	frs, err := NewFieldRangeSet(testNS, pred, true, true)
	require.NoError(t, err)

	q := frs.SimplifiedQuery(nil)
	assert.Equal(t, `{"a":{"$gt":{"x":1}}}`, q.String())
}

func TestFieldRangeSet_IndexBounds(t *testing.T) {
	frs := mustSet(t, `{"a":{"$in":[1,2]},"b":{"$gte":3,"$lte":4},"c":{"$gt":0,"$lt":9}}`, true)

	tests := []struct {
		name    string
		pattern string
		dir     ir.Direction
		want    BoundList
	}{
		{"in then range", `{"a":1,"b":1}`, ir.Ascending, BoundList{
			{Start: key(1, 3), End: key(1, 4)},
			{Start: key(2, 3), End: key(2, 4)},
		}},
		{"reversed scan", `{"a":1,"b":1}`, ir.Descending, BoundList{
			{Start: key(2, 4), End: key(2, 3)},
			{Start: key(1, 4), End: key(1, 3)},
		}},
		// After the first inequality only the extremes are used.
		{"extremes after inequality", `{"a":1,"b":1,"c":-1}`, ir.Ascending, BoundList{
			{Start: key(1, 3, 9), End: key(1, 4, 0)},
			{Start: key(2, 3, 9), End: key(2, 4, 0)},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bounds, err := frs.IndexBounds(ir.MustParseKeyPattern(tt.pattern), tt.dir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, bounds)
		})
	}
}

func TestFieldRangeSet_IndexBoundsUnconstrained(t *testing.T) {
	frs := mustSet(t, `{"a":5}`, true)
	bounds, err := frs.IndexBounds(ir.MustParseKeyPattern(`{"a":1,"b":1}`), ir.Ascending)
	require.NoError(t, err)
	assert.Equal(t, BoundList{{
		Start: ir.IndexKey{ir.IRInt(5), ir.IRMinKey{}},
		End:   ir.IndexKey{ir.IRInt(5), ir.IRMaxKey{}},
	}}, bounds)

	pairs := bounds.Pairs()
	require.Len(t, pairs, 1)
	assert.Equal(t, bounds[0].Start, pairs[0][0])
}

func TestFieldRangeSet_IndexBoundsEmpty(t *testing.T) {
	frs := mustSet(t, `{"a":{"$gt":5,"$lt":2}}`, true)
	bounds, err := frs.IndexBounds(ir.MustParseKeyPattern(`{"a":1}`), ir.Ascending)
	require.NoError(t, err)
	assert.Empty(t, bounds)
}

func TestFieldRangeSet_Intersect(t *testing.T) {
	a := mustSet(t, `{"a":{"$gte":1,"$lte":10}}`, true)
	b := mustSet(t, `{"a":{"$gte":5},"b":2}`, true)

	c := a.Intersect(b)
	assert.Equal(t, []Interval{closed(5, 10)}, c.Range("a").Intervals())
	assert.True(t, c.Range("b").Equality())
	assert.Equal(t, a.OriginalQuery(), c.OriginalQuery())

	// The operands are untouched.
	assert.Equal(t, []Interval{closed(1, 10)}, a.Range("a").Intervals())
	assert.False(t, a.HasRange("b"))
}

func TestFieldRangeSet_Subtract(t *testing.T) {
	t.Run("one uncovered field loses the other range", func(t *testing.T) {
		s := mustSet(t, `{"a":{"$gte":3,"$lte":10}}`, true)
		scanned := mustSet(t, `{"a":{"$gte":1,"$lte":5}}`, true)
		out := s.Subtract(scanned)
		assert.Equal(t, []Interval{between(5, false, 10, true)}, out.Range("a").Intervals())
		assert.True(t, out.MatchPossible())
	})

	t.Run("fully covered becomes impossible", func(t *testing.T) {
		s := mustSet(t, `{"a":{"$gte":3,"$lte":4},"b":1}`, true)
		scanned := mustSet(t, `{"a":{"$gte":1,"$lte":5}}`, true)
		out := s.Subtract(scanned)
		assert.False(t, out.MatchPossible())
		assert.True(t, out.Range("zzz").Empty())
	})

	t.Run("two uncovered fields are kept", func(t *testing.T) {
		s := mustSet(t, `{"a":{"$gte":3,"$lte":10},"b":{"$gte":0,"$lte":9}}`, true)
		scanned := mustSet(t, `{"a":{"$gte":1,"$lte":5},"b":{"$gte":1,"$lte":5}}`, true)
		out := s.Subtract(scanned)
		assert.Equal(t, s.Range("a").Intervals(), out.Range("a").Intervals())
		assert.Equal(t, s.Range("b").Intervals(), out.Range("b").Intervals())
	})

	t.Run("impossible set is returned unchanged", func(t *testing.T) {
		// The empty range on a is a subset of anything; it must not make b
		// look covered.
		s := mustSet(t, `{"a":{"$gte":9,"$lt":7},"b":{"$gte":7}}`, true)
		require.False(t, s.MatchPossible())
		scanned := mustSet(t, `{"a":2}`, true)
		out := s.Subtract(scanned)
		assert.Equal(t, s.Range("b").Intervals(), out.Range("b").Intervals())
		assert.False(t, out.Range("b").Empty())
		assert.True(t, out.MatchPossibleForIndex(ir.MustParseKeyPattern(`{"b":1}`)))
	})

	t.Run("other constrains an extra field", func(t *testing.T) {
		s := mustSet(t, `{"a":{"$gte":3,"$lte":10}}`, true)
		scanned := mustSet(t, `{"a":{"$gte":1,"$lte":5},"c":1}`, true)
		out := s.Subtract(scanned)
		assert.Equal(t, s.Range("a").Intervals(), out.Range("a").Intervals())
	})
}

func TestFieldRangeSet_Subset(t *testing.T) {
	frs := mustSet(t, `{"a":1,"b":{"$gt":2},"c":{"$exists":true}}`, true)
	sub := frs.Subset([]string{"a", "c", "d"})

	assert.Equal(t, []string{"a"}, sub.Fields())
	assert.Equal(t, frs.OriginalQuery(), sub.OriginalQuery())
}

func TestFieldRangeSet_Clone(t *testing.T) {
	frs := mustSet(t, `{"a":1}`, true)
	clone := frs.Clone()
	clone.makeEmpty()

	assert.True(t, frs.MatchPossible())
	assert.False(t, clone.MatchPossible())
}

func TestFieldRangeSet_Special(t *testing.T) {
	frs := mustSet(t, `{"loc":{"$near":[1,2]},"a":1}`, true)
	assert.Equal(t, "2d", frs.Special())
	assert.Equal(t, "", mustSet(t, `{"a":1}`, true).Special())
}

func TestFieldRangeSet_String(t *testing.T) {
	frs := mustSet(t, `{"b":{"$in":[1,2]},"a":{"$gt":2,"$lt":8}}`, true)
	assert.Equal(t, "test.coll [a: (2, 8) b: [1, 1] U [2, 2]]", frs.String())
}

func TestNewFieldRangeVector_SizeLimit(t *testing.T) {
	in := make(ir.IRArray, 1000)
	for i := range in {
		in[i] = ir.IRInt(int64(i))
	}
	frs, err := NewFieldRangeSet(testNS, mustParseObject(t, ir.IRObject{
		"a": ir.IRObject{"$in": in},
		"b": ir.IRObject{"$in": in},
	}), true, true)
	require.NoError(t, err)

	_, err = NewFieldRangeVector(frs, ir.MustParseKeyPattern(`{"a":1,"b":1}`), ir.Ascending)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCombinatorialLimit))
}
