package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/queryir"
	"github.com/roach88/rangeplan/internal/store"
)

// ReplayMismatch is one difference between a recorded run and its replay.
type ReplayMismatch struct {
	RunID    string `json:"run_id"`
	Field    string `json:"field"`
	Recorded string `json:"recorded"`
	Replayed string `json:"replayed"`
}

// ReplayReport summarizes a replay of recorded runs.
type ReplayReport struct {
	Runs       int              `json:"runs"`
	Matched    int              `json:"matched"`
	Mismatches []ReplayMismatch `json:"mismatches"`
}

// OK reports whether every run replayed identically.
func (r *ReplayReport) OK() bool { return len(r.Mismatches) == 0 }

// Replay re-executes the runs recorded in s for namespace ns (every
// namespace when ns is empty), each against the catalog as it was when the
// run happened. opts configure the replaying engine; the store option is
// ignored so replay never writes.
func Replay(ctx context.Context, s *store.Store, ns string, opts ...Option) (*ReplayReport, error) {
	runs, err := s.ReadRuns(ctx, ns)
	if err != nil {
		return nil, err
	}

	report := &ReplayReport{Mismatches: []ReplayMismatch{}}
	for _, run := range runs {
		colls, err := loadCollections(ctx, s, run.Namespace, run.Seq)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", run.ID, err)
		}

		eng := New(append(slices.Clone(opts), WithIDGenerator(NewFixedGenerator(run.ID)))...)
		eng.store = nil
		eng.colls = colls

		q := Query{Namespace: run.Namespace, Filter: run.Query, Sort: run.Sort}
		isOr, err := hasTopLevelOr(run.Query)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", run.ID, err)
		}
		if len(run.Plans) == 1 && !isOr {
			q.Hint = run.Plans[0]
		}

		res, err := eng.run(ctx, q, runConfig{})
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", run.ID, err)
		}

		report.Runs++
		diffs := compareRun(run.ID, run.Plans, res.PlanNames(), "plans")
		diffs = append(diffs, compareRun(run.ID, run.BoundsDigest, res.BoundsDigest, "bounds_digest")...)
		diffs = append(diffs, compareRun(run.ID, run.Candidates, res.IDs, "candidates")...)
		diffs = append(diffs, compareRun(run.ID, run.NScanned, res.NScanned, "n_scanned")...)
		if len(diffs) == 0 {
			report.Matched++
			continue
		}
		eng.logger.Warn("replay mismatch", "run", run.ID, "ns", run.Namespace, "fields", len(diffs))
		report.Mismatches = append(report.Mismatches, diffs...)
	}
	return report, nil
}

func compareRun[T any](runID string, recorded, replayed T, field string) []ReplayMismatch {
	a, b := fmt.Sprint(recorded), fmt.Sprint(replayed)
	if a == b {
		return nil
	}
	return []ReplayMismatch{{RunID: runID, Field: field, Recorded: a, Replayed: b}}
}

func hasTopLevelOr(filter ir.IRObject) (bool, error) {
	pred, err := queryir.ParseQuery(filter)
	if err != nil {
		return false, err
	}
	_, ok := queryir.TopLevelOr(pred)
	return ok, nil
}
