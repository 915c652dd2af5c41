package querysql

import (
	"context"
	"errors"
	"maps"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/keyrange"
	"github.com/roach88/rangeplan/internal/queryir"
	"github.com/roach88/rangeplan/internal/store"
)

func mustSet(t *testing.T, query string) *keyrange.FieldRangeSet {
	t.Helper()
	pred, err := queryir.ParseQueryJSON([]byte(query))
	require.NoError(t, err)
	frs, err := keyrange.NewFieldRangeSet("db.c", pred, true, true)
	require.NoError(t, err)
	return frs
}

func TestCompileWhere(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		sql    string
		params []any
	}{
		{
			name:   "int equality",
			query:  `{"a":5}`,
			sql:    `((json_type(body, ?) = 'integer' AND json_extract(body, ?) = ?) OR json_type(body, ?) = 'array')`,
			params: []any{"$.a", "$.a", int64(5), "$.a"},
		},
		{
			name:  "int range",
			query: `{"a":{"$gt":2,"$lte":8}}`,
			sql: `((json_type(body, ?) = 'integer' AND json_extract(body, ?) > ? AND json_extract(body, ?) <= ?)` +
				` OR json_type(body, ?) = 'array')`,
			params: []any{"$.a", "$.a", int64(2), "$.a", int64(8), "$.a"},
		},
		{
			name:  "string in",
			query: `{"s":{"$in":["x","y"]}}`,
			sql: `((json_type(body, ?) = 'text' AND json_extract(body, ?) = ?)` +
				` OR (json_type(body, ?) = 'text' AND json_extract(body, ?) = ?)` +
				` OR json_type(body, ?) = 'array')`,
			params: []any{"$.s", "$.s", "x", "$.s", "$.s", "y", "$.s"},
		},
		{
			name:   "nested bool",
			query:  `{"a.b":true}`,
			sql:    `(json_type(body, ?) = 'true' OR json_type(body, ?) = 'array' OR json_type(body, ?) = 'array')`,
			params: []any{"$.a.b", "$.a", "$.a.b"},
		},
		{
			name:   "null admits missing",
			query:  `{"a":null}`,
			sql:    `(COALESCE(json_type(body, ?), 'null') = 'null' OR json_type(body, ?) = 'array')`,
			params: []any{"$.a", "$.a"},
		},
		{
			name:  "two fields",
			query: `{"b":"x","a":1}`,
			sql: `((json_type(body, ?) = 'integer' AND json_extract(body, ?) = ?) OR json_type(body, ?) = 'array')` +
				` AND ((json_type(body, ?) = 'text' AND json_extract(body, ?) = ?) OR json_type(body, ?) = 'array')`,
			params: []any{"$.a", "$.a", int64(1), "$.a", "$.b", "$.b", "x", "$.b"},
		},
		{
			name:   "impossible",
			query:  `{"a":{"$gt":5,"$lt":2}}`,
			sql:    "0",
			params: nil,
		},
		{
			name:   "unconstrained",
			query:  `{"a":{"$exists":true},"$where":"this.a"}`,
			sql:    "",
			params: nil,
		},
	}

	compiler := NewSQLCompiler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := compiler.CompileWhere(mustSet(t, tt.query))
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestCompileWhere_NeverInterpolates(t *testing.T) {
	sql, params, err := NewSQLCompiler().CompileWhere(mustSet(t, `{"name":"'; DROP TABLE documents; --"}`))
	require.NoError(t, err)

	assert.NotContains(t, sql, "DROP")
	assert.NotContains(t, sql, "$.name")
	assert.Contains(t, params, "'; DROP TABLE documents; --")
}

func TestCompileWhere_RegexPrefix(t *testing.T) {
	sql, params, err := NewSQLCompiler().CompileWhere(mustSet(t, `{"s":{"$regex":"^ab"}}`))
	require.NoError(t, err)

	// ["ab", "ac") with no object alternative for the exclusive upper edge.
	assert.Equal(t,
		`((json_type(body, ?) = 'text' AND json_extract(body, ?) >= ? AND json_extract(body, ?) < ?) OR json_type(body, ?) = 'array')`,
		sql)
	assert.Equal(t, []any{"$.s", "$.s", "ab", "$.s", "ac", "$.s"}, params)
}

func TestCompileWhere_Nil(t *testing.T) {
	_, _, err := NewSQLCompiler().CompileWhere(nil)
	assert.Error(t, err)
}

func TestCompileSelect_OrderByMandatory(t *testing.T) {
	compiler := NewSQLCompiler()

	for _, query := range []string{`{}`, `{"a":1}`, `{"a":{"$gt":5,"$lt":2}}`} {
		sql, params, err := compiler.CompileSelect("db.c", mustSet(t, query))
		require.NoError(t, err)
		assert.Contains(t, sql, "ORDER BY seq ASC, id ASC COLLATE BINARY", query)
		assert.Equal(t, "db.c", params[0])
	}

	sql, _, err := compiler.CompileSelect("db.c", mustSet(t, `{}`))
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, body, seq FROM documents WHERE namespace = ? ORDER BY seq ASC, id ASC COLLATE BINARY", sql)
}

func TestCompileSelect_CustomColumn(t *testing.T) {
	compiler := &SQLCompiler{Column: "doc"}
	sql, _, err := compiler.CompileSelect("db.c", mustSet(t, `{"a":1}`))
	require.NoError(t, err)
	assert.Contains(t, sql, "SELECT id, doc, seq")
	assert.Contains(t, sql, "json_extract(doc, ?)")
}

func TestJSONPath(t *testing.T) {
	tests := []struct {
		field, want string
	}{
		{"a", "$.a"},
		{"a.b_c", "$.a.b_c"},
		{"a-b.0", `$."a-b"."0"`},
		{"x1.y", "$.x1.y"},
	}
	for _, tt := range tests {
		got, err := jsonPath(tt.field)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	for _, bad := range []string{"", "a..b", `a"b`, `a\b`} {
		_, err := jsonPath(bad)
		assert.True(t, errors.Is(err, ErrUnsupportedPath), bad)
	}
}

func TestIRValueToParam(t *testing.T) {
	v, err := irValueToParam(ir.IRString("x"))
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	v, err = irValueToParam(ir.IRBool(true))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = irValueToParam(ir.IRArray{})
	assert.Error(t, err)
	_, err = irValueToParam(ir.IRObject{})
	assert.Error(t, err)
}

// TestCompileWhere_SQLite runs compiled predicates against real documents
// and checks that every document with a key inside the ranges is returned.
func TestCompileWhere_SQLite(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	bodies := map[string]string{
		"int1":     `{"a":1}`,
		"int5":     `{"a":5}`,
		"int9":     `{"a":9}`,
		"str":      `{"a":"x"}`,
		"bool":     `{"a":true}`,
		"null":     `{"a":null}`,
		"missing":  `{"b":1}`,
		"arr":      `{"a":[1,9]}`,
		"obj":      `{"a":{"k":1}}`,
		"nested":   `{"a":{"b":5}}`,
		"arrnest":  `{"a":[{"b":5},{"b":7}]}`,
		"emptyarr": `{"a":[]}`,
	}
	ids := slices.Sorted(maps.Keys(bodies))
	docs := map[string]ir.IRObject{}
	for i, id := range ids {
		v, err := ir.UnmarshalIRValue([]byte(bodies[id]))
		require.NoError(t, err)
		docs[id] = v.(ir.IRObject)
		require.NoError(t, st.WriteDocument(ctx, "db.c", ir.Document{ID: id, Body: docs[id], Seq: int64(i)}))
	}

	tests := []struct {
		query    string
		pattern  string
		expected []string
	}{
		{`{"a":5}`, `{"a":1}`, []string{"arr", "arrnest", "emptyarr", "int5"}},
		{`{"a":{"$gte":2,"$lte":9}}`, `{"a":1}`, []string{"arr", "arrnest", "emptyarr", "int5", "int9"}},
		{`{"a":null}`, `{"a":1}`, []string{"arr", "arrnest", "emptyarr", "missing", "null"}},
		{`{"a":{"$type":"string"}}`, `{"a":1}`, []string{"arr", "arrnest", "emptyarr", "str"}},
		{`{"a.b":5}`, `{"a.b":1}`, []string{"arr", "arrnest", "emptyarr", "nested"}},
		{`{"a":{"$ne":5}}`, `{"a":1}`, []string{"arr", "arrnest", "bool", "emptyarr", "int1", "int9", "missing", "nested", "null", "obj", "str"}},
	}

	compiler := NewSQLCompiler()
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			frs := mustSet(t, tt.query)
			where, params, err := compiler.CompileWhere(frs)
			require.NoError(t, err)

			got, err := st.QueryDocuments(ctx, "db.c", where, params)
			require.NoError(t, err)
			gotIDs := make([]string, len(got))
			for i, d := range got {
				gotIDs[i] = d.ID
			}
			slices.Sort(gotIDs)
			assert.Equal(t, tt.expected, gotIDs)

			// No document with a matching key may be filtered out.
			vec, err := keyrange.NewFieldRangeVector(frs, ir.MustParseKeyPattern(tt.pattern), ir.Ascending)
			require.NoError(t, err)
			for _, id := range ids {
				ok, err := vec.Matches(docs[id])
				require.NoError(t, err)
				if ok {
					assert.Contains(t, gotIDs, id)
				}
			}
		})
	}
}
