package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/keyrange"
	"github.com/roach88/rangeplan/internal/queryir"
)

func mustPair(t *testing.T, filter string) *keyrange.FieldRangeSetPair {
	t.Helper()
	pred, err := queryir.ParseQueryJSON([]byte(filter))
	require.NoError(t, err)
	frsp, err := keyrange.NewFieldRangeSetPair(testNS, pred, true)
	require.NoError(t, err)
	return frsp
}

func collectionWith(t *testing.T, patterns ...string) *Collection {
	t.Helper()
	c := NewCollection(testNS)
	for _, p := range patterns {
		require.NoError(t, c.AddIndex(ir.IndexSpec{KeyPattern: ir.MustParseKeyPattern(p)}))
	}
	return c
}

func TestScoreIndex(t *testing.T) {
	tests := []struct {
		filter  string
		pattern string
		want    int
	}{
		{`{"a":1}`, `{"a":1}`, 2},
		{`{"a":1,"b":{"$gt":2}}`, `{"a":1,"b":1}`, 3},
		{`{"a":{"$in":[1,2]},"b":3}`, `{"a":1,"b":1}`, 4},
		{`{"a":{"$gt":1},"b":3}`, `{"a":1,"b":1}`, 1},
		{`{"b":3}`, `{"a":1,"b":1}`, 0},
		{`{"a":{"$exists":true}}`, `{"a":1}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.filter+" on "+tt.pattern, func(t *testing.T) {
			frs := mustPair(t, tt.filter).SingleKeySet()
			assert.Equal(t, tt.want, scoreIndex(frs, ir.MustParseKeyPattern(tt.pattern)))
		})
	}
}

func TestSortDirection(t *testing.T) {
	tests := []struct {
		pattern string
		sort    string
		dir     ir.Direction
		ok      bool
	}{
		{`{"a":1,"b":1}`, `{"a":1}`, ir.Ascending, true},
		{`{"a":1,"b":1}`, `{"a":-1,"b":-1}`, ir.Descending, true},
		{`{"a":1,"b":-1}`, `{"a":-1,"b":1}`, ir.Descending, true},
		{`{"a":1,"b":1}`, `{"a":1,"b":-1}`, ir.Ascending, false},
		{`{"a":1}`, `{"b":1}`, ir.Ascending, false},
		{`{"a":1}`, `{"a":1,"b":1}`, ir.Ascending, false},
		{`{"a":1}`, `{}`, ir.Ascending, false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" by "+tt.sort, func(t *testing.T) {
			dir, ok := sortDirection(ir.MustParseKeyPattern(tt.pattern), ir.MustParseKeyPattern(tt.sort))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.dir, dir)
		})
	}
}

func TestChoosePlan(t *testing.T) {
	c := collectionWith(t, `{"b":1}`, `{"a":1}`, `{"a":1,"b":1}`, `{"loc":"2d"}`)

	tests := []struct {
		name   string
		filter string
		sort   string
		hint   string
		want   string
		dir    ir.Direction
	}{
		{"best score wins", `{"a":1,"b":2}`, `{}`, "", "a_1_b_1", ir.Ascending},
		{"tie goes to first declared", `{"a":1}`, `{}`, "", "a_1", ir.Ascending},
		{"range beats nothing", `{"b":{"$gt":1}}`, `{}`, "", "b_1", ir.Ascending},
		{"no usable index", `{"c":1}`, `{}`, "", NaturalIndex, ir.Ascending},
		{"sort only", `{"c":1}`, `{"a":-1}`, "", "a_1", ir.Descending},
		{"tie goes to sorted index", `{"a":1}`, `{"a":1,"b":1}`, "", "a_1_b_1", ir.Ascending},
		{"special query scans", `{"loc":{"$near":[1,2]},"a":1}`, `{}`, "", NaturalIndex, ir.Ascending},
		{"hint", `{"a":1}`, `{}`, "b_1", "b_1", ir.Ascending},
		{"natural hint", `{"a":1}`, `{}`, NaturalIndex, NaturalIndex, ir.Ascending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := choosePlan(c, mustPair(t, tt.filter), ir.MustParseKeyPattern(tt.sort), tt.hint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.name)
			assert.Equal(t, tt.dir, p.dir)
		})
	}
}

func TestChoosePlan_UnknownHint(t *testing.T) {
	c := collectionWith(t, `{"a":1}`)
	_, err := choosePlan(c, mustPair(t, `{"a":1}`), nil, "nope")
	require.Error(t, err)
	assert.True(t, IsUnknownIndex(err))
}

func TestCachedPlan(t *testing.T) {
	c := collectionWith(t, `{"a":1}`)

	p, ok := cachedPlan(c, ir.PlanRecord{IndexName: "a_1", Direction: ir.Descending})
	require.True(t, ok)
	assert.Equal(t, 0, p.idxNo)
	assert.Equal(t, ir.Descending, p.dir)
	assert.True(t, p.cached)

	p, ok = cachedPlan(c, ir.PlanRecord{})
	require.True(t, ok)
	assert.True(t, p.isCollectionScan())

	_, ok = cachedPlan(c, ir.PlanRecord{IndexName: "dropped_1"})
	assert.False(t, ok)
}
