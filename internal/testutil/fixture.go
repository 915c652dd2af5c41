package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rangeplan/internal/ir"
)

// Doc parses a JSON object literal into an IRObject, failing the test on
// malformed input.
func Doc(t testing.TB, data string) ir.IRObject {
	t.Helper()
	v, err := ir.UnmarshalIRValue([]byte(data))
	require.NoError(t, err)
	obj, ok := v.(ir.IRObject)
	require.True(t, ok, "not an object: %s", data)
	return obj
}

// Docs parses each literal with Doc.
func Docs(t testing.TB, data ...string) []ir.IRObject {
	t.Helper()
	out := make([]ir.IRObject, len(data))
	for i, d := range data {
		out[i] = Doc(t, d)
	}
	return out
}
