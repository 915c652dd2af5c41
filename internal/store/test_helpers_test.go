package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/rangeplan/internal/ir"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestIndex builds an index spec over a JSON key pattern, named the
// way the planner names undeclared indexes.
func createTestIndex(ns, pattern string) ir.IndexSpec {
	kp := ir.MustParseKeyPattern(pattern)
	return ir.IndexSpec{
		Name:       ir.DefaultIndexName(kp),
		Namespace:  ns,
		KeyPattern: kp,
	}
}

// createTestDocument creates a document with a single int field.
func createTestDocument(id string, a int64, seq int64) ir.Document {
	return ir.Document{
		ID:   id,
		Body: ir.IRObject{"_id": ir.IRString(id), "a": ir.IRInt(a)},
		Seq:  seq,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
