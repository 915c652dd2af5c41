package store

import (
	"context"
	"fmt"

	"github.com/roach88/rangeplan/internal/ir"
)

// WriteIndex declares an index. Redeclaring an index with the same name
// replaces its key pattern and keeps the multi-key flag when the pattern is
// unchanged; a changed pattern resets it.
func (s *Store) WriteIndex(ctx context.Context, spec ir.IndexSpec, seq int64) error {
	pattern, err := marshalKeyPattern(spec.KeyPattern)
	if err != nil {
		return fmt.Errorf("write index %s.%s: %w", spec.Namespace, spec.Name, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO indexes (namespace, name, key_pattern, multi_key, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, name) DO UPDATE SET
			multi_key = CASE WHEN key_pattern = excluded.key_pattern
				THEN max(multi_key, excluded.multi_key) ELSE excluded.multi_key END,
			key_pattern = excluded.key_pattern
	`,
		spec.Namespace,
		spec.Name,
		pattern,
		spec.MultiKey,
		seq,
	)
	if err != nil {
		return fmt.Errorf("write index %s.%s: %w", spec.Namespace, spec.Name, err)
	}
	return nil
}

// MarkMultiKey records that some document produced several keys for the
// index. The flag is never cleared by document writes.
func (s *Store) MarkMultiKey(ctx context.Context, namespace, name string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE indexes SET multi_key = 1 WHERE namespace = ? AND name = ?
	`, namespace, name)
	if err != nil {
		return fmt.Errorf("mark multi-key %s.%s: %w", namespace, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark multi-key %s.%s: %w", namespace, name, err)
	}
	if n == 0 {
		return fmt.Errorf("mark multi-key %s.%s: %w", namespace, name, ErrNotFound)
	}
	return nil
}

// WriteDocument inserts or replaces a document. The body is stored as
// canonical JSON; the seq of the first write is kept so replacing a
// document does not reorder reads.
func (s *Store) WriteDocument(ctx context.Context, namespace string, doc ir.Document) error {
	body, err := marshalObject(doc.Body)
	if err != nil {
		return fmt.Errorf("write document %q: %w", doc.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (namespace, id, body, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, id) DO UPDATE SET body = excluded.body
	`,
		namespace,
		doc.ID,
		body,
		doc.Seq,
	)
	if err != nil {
		return fmt.Errorf("write document %q: %w", doc.ID, err)
	}
	return nil
}

// WritePlan stores or replaces the plan-cache entry for rec.PlanKey.
func (s *Store) WritePlan(ctx context.Context, rec ir.PlanRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans
		(namespace, plan_key, pattern, index_name, direction, n_scanned, planner_version, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, plan_key) DO UPDATE SET
			pattern = excluded.pattern,
			index_name = excluded.index_name,
			direction = excluded.direction,
			n_scanned = excluded.n_scanned,
			planner_version = excluded.planner_version,
			seq = excluded.seq
	`,
		rec.Namespace,
		rec.PlanKey,
		rec.Pattern,
		rec.IndexName,
		int(rec.Direction),
		rec.NScanned,
		rec.PlannerVersion,
		rec.Seq,
	)
	if err != nil {
		return fmt.Errorf("write plan %s: %w", rec.PlanKey, err)
	}
	return nil
}

// DeletePlans evicts every cached plan of a namespace, e.g. after its
// indexes changed. Returns the number of evicted entries.
func (s *Store) DeletePlans(ctx context.Context, namespace string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE namespace = ?`, namespace)
	if err != nil {
		return 0, fmt.Errorf("delete plans of %s: %w", namespace, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete plans of %s: %w", namespace, err)
	}
	return n, nil
}

// WriteRun records a query execution. Uses ON CONFLICT(id) DO NOTHING, so
// recording the same run ID twice keeps the first record. Returns whether a
// new row was inserted.
func (s *Store) WriteRun(ctx context.Context, rec ir.RunRecord) (bool, error) {
	query, err := marshalObject(rec.Query)
	if err != nil {
		return false, fmt.Errorf("write run %s: %w", rec.ID, err)
	}
	sort, err := marshalKeyPattern(rec.Sort)
	if err != nil {
		return false, fmt.Errorf("write run %s: %w", rec.ID, err)
	}
	plans, err := marshalStrings(rec.Plans)
	if err != nil {
		return false, fmt.Errorf("write run %s: %w", rec.ID, err)
	}
	candidates, err := marshalStrings(rec.Candidates)
	if err != nil {
		return false, fmt.Errorf("write run %s: %w", rec.ID, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, namespace, query, sort, plans, bounds_digest, candidates, n_scanned, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.Namespace,
		query,
		sort,
		plans,
		rec.BoundsDigest,
		candidates,
		rec.NScanned,
		rec.Seq,
	)
	if err != nil {
		return false, fmt.Errorf("write run %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write run %s: %w", rec.ID, err)
	}
	return n > 0, nil
}
