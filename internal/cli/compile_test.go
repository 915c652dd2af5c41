package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rangeplan/internal/compiler"
)

var shopCatalog = filepath.Join("..", "..", "testdata", "catalogs", "shop.cue")

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeCatalog writes a .cue file into a fresh directory.
func writeCatalog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCompileCatalog_Text(t *testing.T) {
	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), shopCatalog)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ Compiled 1 namespace(s), 3 query(ies)")
	assert.Contains(t, out, "shop.orders: 2 index(es), 4 document(s)")
	assert.Contains(t, out, `customer_1_placed_-1 {"customer":1,"placed":-1}`)
	assert.Contains(t, out, "recent_c1: shop.orders")
}

func TestCompileCatalog_JSON(t *testing.T) {
	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "json"}), shopCatalog)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   compiler.Catalog `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Namespaces, 1)
	ns := resp.Data.Namespaces[0]
	assert.Equal(t, "shop.orders", ns.Name)
	require.Len(t, ns.Indexes, 2)
	assert.Equal(t, "customer_1_placed_-1", ns.Indexes[0].Name)
	assert.Equal(t, `{"customer":1,"placed":-1}`, ns.Indexes[0].KeyPattern.String())
	assert.Len(t, ns.Documents, 4)
	assert.Len(t, resp.Data.Queries, 3)
}

func TestCompileCatalog_OutputFile(t *testing.T) {
	outputFile := filepath.Join(t.TempDir(), "catalog.json")

	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), shopCatalog, "--output", outputFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote catalog to")

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)
	var cat compiler.Catalog
	require.NoError(t, json.Unmarshal(data, &cat))
	assert.Len(t, cat.Namespaces, 1)
}

func TestCompileCatalog_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.cue"), []byte(`
namespace: "db.c": index: a_1: key: [{a: 1}]
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.cue"), []byte(`
namespace: "db.c": documents: [{"_id": 1, a: 2}]
query: by_a: {namespace: "db.c", filter: {a: 2}}
`), 0644))

	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "db.c: 1 index(es), 1 document(s)")
	assert.Contains(t, out, "by_a: db.c")
}

func TestCompileCatalog_Errors(t *testing.T) {
	tests := []struct {
		name     string
		catalog  string
		wantCode string
	}{
		{
			name:     "syntax error",
			catalog:  `namespace: "db.c": {`,
			wantCode: ErrCodeLoadFailed,
		},
		{
			name:     "missing key",
			catalog:  `namespace: "db.c": index: a_1: {}`,
			wantCode: compiler.ErrEmptyKeyPattern,
		},
		{
			name:     "float in document",
			catalog:  `namespace: "db.c": documents: [{"_id": 1, a: 1.5}]`,
			wantCode: compiler.ErrUnsupportedIRType,
		},
		{
			name:     "empty catalog",
			catalog:  `other: 1`,
			wantCode: ErrCodeGeneric,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCatalog(t, "bad.cue", tt.catalog)

			out, err := execute(t, NewCompileCommand(&RootOptions{Format: "json"}), path)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestCompileCatalog_MissingPath(t *testing.T) {
	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestCompileCatalog_TextErrorsShowPosition(t *testing.T) {
	path := writeCatalog(t, "bad.cue", `namespace: "db.c": index: a_1: key: 3`)

	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), path)
	require.Error(t, err)
	assert.Contains(t, out, "✗ Compilation failed")
	assert.Contains(t, out, "bad.cue:")
	assert.Contains(t, out, "key pattern must be a list")
}

func TestCalculateStats(t *testing.T) {
	path := writeCatalog(t, "two.cue", `
namespace: {
	"db.a": {
		index: {x_1: key: [{x: 1}], y_1: key: [{y: 1}]}
		documents: [{"_id": 1}, {"_id": 2}]
	}
	"db.b": index: z_1: key: [{z: 1}]
}
`)
	res, errs := LoadCatalog(path, LoadModeCollectAll)
	require.Empty(t, errs)

	assert.Equal(t, CompilationStats{NamespaceCount: 2, IndexCount: 3, DocumentCount: 2}, calculateStats(res.Catalog))
}
