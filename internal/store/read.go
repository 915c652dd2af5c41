package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/rangeplan/internal/ir"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// ReadNamespaces returns every namespace with an index or a document,
// sorted.
func (s *Store) ReadNamespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace FROM indexes
		UNION
		SELECT namespace FROM documents
		ORDER BY namespace COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query namespaces: %w", err)
	}
	defer rows.Close()

	namespaces := []string{}
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		namespaces = append(namespaces, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate namespaces: %w", err)
	}
	return namespaces, nil
}

// ReadIndexes returns the indexes of a namespace in declaration order.
// The position in the result is the index number used by keyrange.Catalog.
func (s *Store) ReadIndexes(ctx context.Context, namespace string) ([]ir.IndexSpec, error) {
	return s.ReadIndexesBefore(ctx, namespace, 0)
}

// ReadIndexesBefore is ReadIndexes restricted to indexes declared before
// seq. A seq of 0 or less selects every index.
func (s *Store) ReadIndexesBefore(ctx context.Context, namespace string, seq int64) ([]ir.IndexSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, name, key_pattern, multi_key
		FROM indexes
		WHERE namespace = ? AND (? <= 0 OR seq < ?)
		ORDER BY seq ASC, name COLLATE BINARY ASC
	`, namespace, seq, seq)
	if err != nil {
		return nil, fmt.Errorf("query indexes: %w", err)
	}
	defer rows.Close()

	specs := []ir.IndexSpec{}
	for rows.Next() {
		var spec ir.IndexSpec
		var pattern string
		if err := rows.Scan(&spec.Namespace, &spec.Name, &pattern, &spec.MultiKey); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		spec.KeyPattern, err = unmarshalKeyPattern(pattern)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", spec.Name, err)
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexes: %w", err)
	}
	return specs, nil
}

// ReadDocuments returns every document of a namespace.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC COLLATE BINARY.
func (s *Store) ReadDocuments(ctx context.Context, namespace string) ([]ir.Document, error) {
	return s.QueryDocuments(ctx, namespace, "", nil)
}

// QueryDocuments returns the documents of a namespace whose body satisfies
// where, a parameterized SQL predicate over the body column such as one
// compiled by querysql. An empty predicate selects every document.
//
// CRITICAL: where must come from a compiler that parameterizes all values;
// it is spliced into the statement verbatim.
func (s *Store) QueryDocuments(ctx context.Context, namespace, where string, params []any) ([]ir.Document, error) {
	query := `SELECT id, body, seq FROM documents WHERE namespace = ?`
	if where != "" {
		query += ` AND (` + where + `)`
	}
	query += ` ORDER BY seq ASC, id COLLATE BINARY ASC`

	args := append([]any{namespace}, params...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []ir.Document{}
	for rows.Next() {
		var doc ir.Document
		var body string
		if err := rows.Scan(&doc.ID, &body, &doc.Seq); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.Body, err = unmarshalObject(body)
		if err != nil {
			return nil, fmt.Errorf("document %q: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// ReadPlan looks up a cached plan. Plans written by a different planner
// version are reported as missing.
func (s *Store) ReadPlan(ctx context.Context, namespace, planKey string) (ir.PlanRecord, bool, error) {
	var rec ir.PlanRecord
	var dir int
	err := s.db.QueryRowContext(ctx, `
		SELECT namespace, plan_key, pattern, index_name, direction, n_scanned, planner_version, seq
		FROM plans
		WHERE namespace = ? AND plan_key = ?
	`, namespace, planKey).Scan(
		&rec.Namespace,
		&rec.PlanKey,
		&rec.Pattern,
		&rec.IndexName,
		&dir,
		&rec.NScanned,
		&rec.PlannerVersion,
		&rec.Seq,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.PlanRecord{}, false, nil
	}
	if err != nil {
		return ir.PlanRecord{}, false, fmt.Errorf("read plan %s: %w", planKey, err)
	}
	if rec.PlannerVersion != ir.PlannerVersion {
		return ir.PlanRecord{}, false, nil
	}
	rec.Direction = ir.DirectionOf(int64(dir))
	return rec, true, nil
}

// ReadPlans returns the cached plans of a namespace ordered by plan key,
// including entries written by other planner versions. An empty namespace
// selects every plan.
func (s *Store) ReadPlans(ctx context.Context, namespace string) ([]ir.PlanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, plan_key, pattern, index_name, direction, n_scanned, planner_version, seq
		FROM plans
		WHERE ? = '' OR namespace = ?
		ORDER BY namespace COLLATE BINARY ASC, plan_key COLLATE BINARY ASC
	`, namespace, namespace)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	plans := []ir.PlanRecord{}
	for rows.Next() {
		var rec ir.PlanRecord
		var dir int
		if err := rows.Scan(
			&rec.Namespace,
			&rec.PlanKey,
			&rec.Pattern,
			&rec.IndexName,
			&dir,
			&rec.NScanned,
			&rec.PlannerVersion,
			&rec.Seq,
		); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		rec.Direction = ir.DirectionOf(int64(dir))
		plans = append(plans, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return plans, nil
}

// ReadRuns returns the recorded runs of a namespace, oldest first. An
// empty namespace selects every run.
func (s *Store) ReadRuns(ctx context.Context, namespace string) ([]ir.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, query, sort, plans, bounds_digest, candidates, n_scanned, seq
		FROM runs
		WHERE ? = '' OR namespace = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, namespace, namespace)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []ir.RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns one recorded run by ID.
func (s *Store) ReadRun(ctx context.Context, id string) (ir.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, query, sort, plans, bounds_digest, candidates, n_scanned, seq
		FROM runs
		WHERE id = ?
	`, id)
	if err != nil {
		return ir.RunRecord{}, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ir.RunRecord{}, fmt.Errorf("query run: %w", err)
		}
		return ir.RunRecord{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return scanRun(rows)
}

// MaxSeq returns the largest seq recorded in any table, so a reopened
// catalog can resume its clock.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT max(
			(SELECT COALESCE(max(seq), 0) FROM indexes),
			(SELECT COALESCE(max(seq), 0) FROM documents),
			(SELECT COALESCE(max(seq), 0) FROM plans),
			(SELECT COALESCE(max(seq), 0) FROM runs)
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read max seq: %w", err)
	}
	return seq, nil
}

func scanRun(rows *sql.Rows) (ir.RunRecord, error) {
	var rec ir.RunRecord
	var query, sort, plans, candidates string
	if err := rows.Scan(
		&rec.ID,
		&rec.Namespace,
		&query,
		&sort,
		&plans,
		&rec.BoundsDigest,
		&candidates,
		&rec.NScanned,
		&rec.Seq,
	); err != nil {
		return ir.RunRecord{}, fmt.Errorf("scan run: %w", err)
	}

	var err error
	if rec.Query, err = unmarshalObject(query); err != nil {
		return ir.RunRecord{}, fmt.Errorf("run %s: %w", rec.ID, err)
	}
	if rec.Sort, err = unmarshalKeyPattern(sort); err != nil {
		return ir.RunRecord{}, fmt.Errorf("run %s: %w", rec.ID, err)
	}
	if rec.Plans, err = unmarshalStrings(plans); err != nil {
		return ir.RunRecord{}, fmt.Errorf("run %s: %w", rec.ID, err)
	}
	if rec.Candidates, err = unmarshalStrings(candidates); err != nil {
		return ir.RunRecord{}, fmt.Errorf("run %s: %w", rec.ID, err)
	}
	return rec, nil
}
