package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/store"
	"github.com/roach88/rangeplan/internal/testutil"
)

const testNS = "db.c"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithIDGenerator(testutil.NewSeqGenerator("run")),
		WithLogger(discardLogger()),
	}
	return New(append(base, opts...)...)
}

func doc(t *testing.T, data string) ir.IRObject {
	t.Helper()
	return testutil.Doc(t, data)
}

func addIndex(t *testing.T, e *Engine, pattern string) ir.IndexSpec {
	t.Helper()
	spec, err := e.AddIndex(context.Background(), ir.IndexSpec{
		Namespace:  testNS,
		KeyPattern: ir.MustParseKeyPattern(pattern),
	})
	require.NoError(t, err)
	return spec
}

func insertAll(t *testing.T, e *Engine, docs ...string) {
	t.Helper()
	for _, d := range docs {
		_, err := e.Insert(context.Background(), testNS, doc(t, d))
		require.NoError(t, err)
	}
}

func run(t *testing.T, e *Engine, filter string) *Result {
	t.Helper()
	res, err := e.Run(context.Background(), Query{Namespace: testNS, Filter: doc(t, filter)})
	require.NoError(t, err)
	return res
}
