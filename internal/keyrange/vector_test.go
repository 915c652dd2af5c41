package keyrange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rangeplan/internal/ir"
)

func TestFieldRangeVector_Keys(t *testing.T) {
	v := mustVector(t, `{"a":{"$gte":1,"$lte":5},"b":{"$gte":10,"$lte":20}}`, `{"a":1,"b":-1}`, ir.Descending)

	assert.Equal(t, 2, v.NumDims())
	assert.Equal(t, ir.Descending, v.Direction())
	assert.Equal(t, key(1, 20), v.StartKey())
	assert.Equal(t, key(5, 10), v.EndKey())
	assert.Equal(t, key(5, 10), v.ScanStart())
	assert.Equal(t, key(1, 20), v.ScanEnd())

	asc := mustVector(t, `{"a":{"$gte":1,"$lte":5},"b":{"$gte":10,"$lte":20}}`, `{"a":1,"b":-1}`, ir.Ascending)
	assert.Equal(t, asc.StartKey(), asc.ScanStart())
	assert.Equal(t, asc.EndKey(), asc.ScanEnd())
	assert.Equal(t, v.StartKey(), asc.StartKey())
}

func TestFieldRangeVector_Size(t *testing.T) {
	v := mustVector(t, `{"a":{"$in":[1,2,3]},"b":{"$in":["x","y"]}}`, `{"a":1,"b":1,"c":1}`, ir.Ascending)
	assert.Equal(t, int64(6), v.Size())
	assert.True(t, v.Ranges()[2].Universal())
}

func TestFieldRangeVector_MatchesKey(t *testing.T) {
	v := mustVector(t, `{"a":{"$in":[1,3]},"b":{"$gt":5,"$lte":7}}`, `{"a":1,"b":-1}`, ir.Ascending)

	tests := []struct {
		key  ir.IndexKey
		want bool
	}{
		{key(1, 6), true},
		{key(3, 7), true},
		{key(1, 5), false},
		{key(2, 6), false},
		{key(3, 8), false},
		{key(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.key.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, v.MatchesKey(tt.key))
		})
	}
}

func TestFieldRangeVector_Matches(t *testing.T) {
	v := mustVector(t, `{"a":{"$gte":5,"$lte":10}}`, `{"a":1}`, ir.Ascending)

	ok, err := v.Matches(doc(t, `{"a":[1,7]}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.Matches(doc(t, `{"a":[1,2]}`))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = v.Matches(doc(t, `{"b":7}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFieldRangeVector_MatchesParallelArrays(t *testing.T) {
	v := mustVector(t, `{"a":1}`, `{"a":1,"b":1}`, ir.Ascending)
	_, err := v.Matches(doc(t, `{"a":[1],"b":[2]}`))
	assert.ErrorIs(t, err, ir.ErrParallelArrays)
}

func TestFieldRangeVector_FirstMatch(t *testing.T) {
	d := doc(t, `{"a":[12,3,7]}`)

	asc := mustVector(t, `{"a":{"$gte":1,"$lte":10}}`, `{"a":1}`, ir.Ascending)
	k, ok, err := asc.FirstMatch(d)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, key(3), k)

	desc := mustVector(t, `{"a":{"$gte":1,"$lte":10}}`, `{"a":1}`, ir.Descending)
	k, ok, err = desc.FirstMatch(d)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, key(7), k)

	_, ok, err = asc.FirstMatch(doc(t, `{"a":20}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFieldRangeVector_MultiKeySharedParent(t *testing.T) {
	query := `{"a.b":1,"a.c":2,"d":3}`
	pattern := ir.MustParseKeyPattern(`{"a.b":1,"a.c":1,"d":1}`)

	multi, err := NewFieldRangeVector(mustSet(t, query, false), pattern, ir.Ascending)
	require.NoError(t, err)
	ranges := multi.Ranges()
	assert.True(t, ranges[0].Equality())
	// a.c may hold on a different element of a than a.b.
	assert.True(t, ranges[1].Universal())
	assert.True(t, ranges[2].Equality())

	single, err := NewFieldRangeVector(mustSet(t, query, true), pattern, ir.Ascending)
	require.NoError(t, err)
	assert.True(t, single.Ranges()[1].Equality())
}

func TestNewFieldRangeVector_Rejects(t *testing.T) {
	_, err := NewFieldRangeVector(mustSet(t, `{"a":{"$gt":5,"$lt":2}}`, true), ir.MustParseKeyPattern(`{"a":1}`), ir.Ascending)
	require.Error(t, err)
	assert.True(t, IsAssertion(err))
	assert.ErrorIs(t, err, ErrInvariant)
	assert.EqualError(t, err, `NewFieldRangeVector: field "a" has an empty range`)

	_, err = NewFieldRangeVector(mustSet(t, `{"a":1}`, true), nil, ir.Ascending)
	assert.EqualError(t, err, "NewFieldRangeVector: empty key pattern")
}

func TestFieldRangeVector_String(t *testing.T) {
	v := mustVector(t, `{"a":{"$in":[1,2]},"b":{"$gt":0,"$lt":4}}`, `{"a":1,"b":-1}`, ir.Ascending)
	assert.Equal(t, `{"a":[[1,1],[2,2]],"b":[[4,0]]}`, v.String())
}
