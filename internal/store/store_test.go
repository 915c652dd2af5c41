package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/rangeplan/internal/ir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"indexes", "documents", "plans", "runs"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestOpen_KeepsDataAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s1.WriteIndex(ctx, createTestIndex("db.c", `{"a":1}`), 1); err != nil {
		t.Fatalf("WriteIndex() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	specs, err := s2.ReadIndexes(ctx, "db.c")
	if err != nil {
		t.Fatalf("ReadIndexes() failed: %v", err)
	}
	if len(specs) != 1 || specs[0].Name != "a_1" {
		t.Errorf("ReadIndexes() = %v, want one index a_1", specs)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		if err := s.verifyPragma(tt.name, tt.want); err != nil {
			t.Error(err)
		}
	}
}

func TestSchema_Columns(t *testing.T) {
	s := createTestStore(t)

	expected := map[string][]string{
		"indexes":   {"namespace", "name", "key_pattern", "multi_key", "seq"},
		"documents": {"namespace", "id", "body", "seq"},
		"plans": {"namespace", "plan_key", "pattern", "index_name", "direction",
			"n_scanned", "planner_version", "seq"},
		"runs": {"id", "namespace", "query", "sort", "plans", "bounds_digest", "candidates",
			"n_scanned", "seq"},
	}
	for table, cols := range expected {
		got := getTableColumns(t, s.db, table)
		for _, col := range cols {
			if !contains(got, col) {
				t.Errorf("%s table missing column %q", table, col)
			}
		}
	}
}

func TestSchema_Indexes(t *testing.T) {
	s := createTestStore(t)

	if !contains(getTableIndexes(t, s.db, "documents"), "idx_documents_seq") {
		t.Error("documents table missing index idx_documents_seq")
	}
	if !contains(getTableIndexes(t, s.db, "runs"), "idx_runs_namespace") {
		t.Error("runs table missing index idx_runs_namespace")
	}
}

func TestConstraint_DocumentBodyMustBeJSON(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO documents (namespace, id, body, seq) VALUES ('db.c', 'x', 'not json', 1)
	`)
	if err == nil {
		t.Error("expected CHECK constraint failure for invalid body")
	}
}

func TestMigration_AddsPlannerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	// A v0 database whose plans table predates planner_version.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open() failed: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE plans (
			namespace  TEXT NOT NULL,
			plan_key   TEXT NOT NULL,
			pattern    TEXT NOT NULL,
			index_name TEXT NOT NULL,
			direction  INTEGER NOT NULL,
			n_scanned  INTEGER NOT NULL,
			seq        INTEGER NOT NULL,
			PRIMARY KEY (namespace, plan_key)
		);
		INSERT INTO plans VALUES ('db.c', 'k', 'p', 'a_1', 1, 3, 1);
	`)
	if err != nil {
		t.Fatalf("seed v0 schema: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if !contains(getTableColumns(t, s.db, "plans"), "planner_version") {
		t.Fatal("migration did not add planner_version")
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM plans").Scan(&n); err != nil {
		t.Fatalf("count plans: %v", err)
	}
	if n != 0 {
		t.Errorf("plans from the unversioned planner survived migration: %d rows", n)
	}
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestMaxSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.MaxSeq(ctx)
	if err != nil {
		t.Fatalf("MaxSeq() failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("MaxSeq() on empty store = %d, want 0", seq)
	}

	if err := s.WriteIndex(ctx, createTestIndex("db.c", `{"a":1}`), 4); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteDocument(ctx, "db.c", createTestDocument("d1", 1, 9)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WriteRun(ctx, ir.RunRecord{ID: "r1", Namespace: "db.c", Seq: 7}); err != nil {
		t.Fatal(err)
	}

	seq, err = s.MaxSeq(ctx)
	if err != nil {
		t.Fatalf("MaxSeq() failed: %v", err)
	}
	if seq != 9 {
		t.Errorf("MaxSeq() = %d, want 9", seq)
	}
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		t.Fatalf("table_info(%s) failed: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan column: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("index query for %s failed: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan index: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}
