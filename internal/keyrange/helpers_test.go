package keyrange

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/queryir"
)

const testNS = "test.coll"

func mustParse(t *testing.T, query string) queryir.Predicate {
	t.Helper()
	pred, err := queryir.ParseQueryJSON([]byte(query))
	require.NoError(t, err)
	return pred
}

func mustSet(t *testing.T, query string, singleKey bool) *FieldRangeSet {
	t.Helper()
	frs, err := NewFieldRangeSet(testNS, mustParse(t, query), singleKey, true)
	require.NoError(t, err)
	return frs
}

func mustVector(t *testing.T, query, pattern string, dir ir.Direction) *FieldRangeVector {
	t.Helper()
	v, err := NewFieldRangeVector(mustSet(t, query, true), ir.MustParseKeyPattern(pattern), dir)
	require.NoError(t, err)
	return v
}

func bound(v ir.IRValue, inclusive bool) Bound {
	return Bound{Value: v, Inclusive: inclusive}
}

// between builds an interval over two ints with the given inclusivity.
func between(lo int64, loInc bool, hi int64, hiInc bool) Interval {
	return Interval{Lower: bound(ir.IRInt(lo), loInc), Upper: bound(ir.IRInt(hi), hiInc)}
}

func closed(lo, hi int64) Interval { return between(lo, true, hi, true) }

func point(v ir.IRValue) Interval { return PointInterval(v) }

func ipoint(n int64) Interval { return PointInterval(ir.IRInt(n)) }

func single(ivs ...Interval) *FieldRange { return newRange(true, ivs...) }

func doc(t *testing.T, data string) ir.IRObject {
	t.Helper()
	v, err := ir.UnmarshalIRValue([]byte(data))
	require.NoError(t, err)
	obj, ok := v.(ir.IRObject)
	require.True(t, ok)
	return obj
}

func key(vals ...int64) ir.IndexKey {
	k := make(ir.IndexKey, len(vals))
	for i, v := range vals {
		k[i] = ir.IRInt(v)
	}
	return k
}

// contains reports membership of v in an ascending range.
func contains(r *FieldRange, v ir.IRValue) bool {
	for _, iv := range r.intervals {
		if iv.Contains(v) {
			return true
		}
	}
	return false
}

// testCatalog is a fixed list of index multi-key flags.
type testCatalog []bool

func (c testCatalog) IndexCount() int { return len(c) }

func (c testCatalog) IsMultiKey(idxNo int) bool { return c[idxNo] }

func mustParseObject(t *testing.T, query ir.IRObject) queryir.Predicate {
	t.Helper()
	pred, err := queryir.ParseQuery(query)
	require.NoError(t, err)
	return pred
}
