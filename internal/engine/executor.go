package engine

import (
	"context"
	"fmt"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/keyrange"
)

// ScanStep is one index key visited by a scan and the instruction the
// range iterator gave for it.
type ScanStep struct {
	Key    ir.IndexKey            `json:"key"`
	ID     string                 `json:"id"`
	Result keyrange.AdvanceResult `json:"result"`
}

// PlanStep describes how one clause of a run was read and what the read
// produced. A run without $or has exactly one step.
type PlanStep struct {
	Clause    int                `json:"clause"`
	Index     string             `json:"index"`
	Direction ir.Direction       `json:"direction"`
	Cached    bool               `json:"cached,omitempty"`
	Vector    string             `json:"vector,omitempty"`
	Bounds    keyrange.BoundList `json:"bounds,omitempty"`

	// Impossible is set when the clause's ranges admit no value, so
	// nothing was read.
	Impossible bool `json:"impossible,omitempty"`

	NScanned     int64      `json:"n_scanned"`
	Seeks        int        `json:"seeks"`
	Returned     int        `json:"returned"`
	Duplicates   int        `json:"duplicates"`
	PriorMatches int        `json:"prior_matches"`
	Trace        []ScanStep `json:"trace,omitempty"`

	// scanned is the vector the index scan walked. Every document with a
	// key inside it was a candidate of this step.
	scanned *keyrange.FieldRangeVector
}

// runState is shared by every clause of one run.
type runState struct {
	quota *ScanQuota
	dups  *dupTracker
	trace bool

	// prior holds the vectors of the clauses already scanned. A document
	// inside any of them was returned by that clause.
	prior []*keyrange.FieldRangeVector

	ids []string
}

func newRunState(maxKeys int64, trace bool) *runState {
	return &runState{
		quota: NewScanQuota(maxKeys),
		dups:  newDupTracker(),
		trace: trace,
		ids:   []string{},
	}
}

// consider decides whether a candidate document joins the result.
func (rs *runState) consider(doc ir.IRObject, id string, step *PlanStep) error {
	for _, pv := range rs.prior {
		ok, err := pv.Matches(doc)
		if err != nil {
			return fmt.Errorf("document %q: %w", id, err)
		}
		if ok {
			step.PriorMatches++
			return nil
		}
	}
	if !rs.dups.Add(id) {
		step.Duplicates++
		return nil
	}
	rs.ids = append(rs.ids, id)
	step.Returned++
	return nil
}

// scanClause reads one clause with plan p and appends its candidates to
// rs.
func (e *Engine) scanClause(ctx context.Context, coll *Collection, frsp *keyrange.FieldRangeSetPair, p plan, rs *runState, clause int) (PlanStep, error) {
	step := PlanStep{Clause: clause, Index: p.name, Direction: p.dir, Cached: p.cached}

	if p.isCollectionScan() {
		frs := frsp.MultiKeySet()
		if !frs.MatchPossible() {
			step.Impossible = true
			return step, nil
		}
		err := e.scanCollection(ctx, coll, frs, rs, &step)
		return step, err
	}

	frs, err := frsp.ForIndex(coll, p.idxNo)
	if err != nil {
		return step, err
	}
	if !frs.MatchPossibleForIndex(p.pattern) {
		step.Impossible = true
		return step, nil
	}
	vec, err := keyrange.NewFieldRangeVector(frs, p.pattern, p.dir)
	if err != nil {
		return step, fmt.Errorf("clause %d on %s: %w", clause, p.name, err)
	}
	step.Vector = vec.String()
	if step.Bounds, err = frs.IndexBounds(p.pattern, p.dir); err != nil {
		return step, fmt.Errorf("clause %d on %s: %w", clause, p.name, err)
	}
	if err = e.scanIndex(ctx, coll, p, vec, rs, &step); err != nil {
		return step, err
	}
	step.scanned = vec
	return step, nil
}

// scanIndex walks index p.idxNo from the vector's start key, asking the
// range iterator about every key it lands on. Linear results are
// candidates; skips reposition the cursor; a stop ends the scan.
func (e *Engine) scanIndex(ctx context.Context, coll *Collection, p plan, vec *keyrange.FieldRangeVector, rs *runState, step *PlanStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ae, ok := r.(*keyrange.AssertionError)
			if !ok {
				panic(r)
			}
			err = ae
		}
	}()

	it, err := keyrange.NewFieldRangeVectorIterator(vec, e.intervalLimitFor(vec))
	if err != nil {
		return err
	}

	cur := coll.indexes[p.idxNo].open(vec.Direction())
	defer cur.close()

	ok := cur.seek(vec.ScanStart(), true)
	for ok {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan %s: %w", p.name, err)
		}
		if err := rs.quota.Check(p.name); err != nil {
			return err
		}
		step.NScanned++

		ent := cur.item()
		res := it.Advance(ent.key)
		if rs.trace {
			step.Trace = append(step.Trace, ScanStep{Key: ent.key, ID: ent.id, Result: res})
		}

		switch res.Kind {
		case keyrange.AdvanceStop:
			return nil
		case keyrange.AdvanceSkip:
			step.Seeks++
			key, inclusive := res.SeekKey(ent.key, vec)
			ok = cur.seek(key, inclusive)
		default:
			if err := rs.consider(coll.docs[ent.id], ent.id, step); err != nil {
				return err
			}
			ok = cur.next()
		}
	}
	return nil
}

// intervalLimitFor returns the configured single interval limit when every
// range of vec is a set of points, and 0 otherwise.
func (e *Engine) intervalLimitFor(vec *keyrange.FieldRangeVector) int {
	if e.singleIntervalLimit <= 0 {
		return 0
	}
	for _, r := range vec.Ranges() {
		if !r.InQuery() {
			return 0
		}
	}
	return e.singleIntervalLimit
}

// scanCollection reads every document in insertion order and keeps those
// whose keys satisfy each constrained field of frs.
func (e *Engine) scanCollection(ctx context.Context, coll *Collection, frs *keyrange.FieldRangeSet, rs *runState, step *PlanStep) error {
	matchers, err := fieldMatchers(frs)
	if err != nil {
		return err
	}
	for _, id := range coll.order {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan %s: %w", NaturalIndex, err)
		}
		if err := rs.quota.Check(NaturalIndex); err != nil {
			return err
		}
		step.NScanned++

		doc := coll.docs[id]
		ok, err := matchesAll(matchers, doc)
		if err != nil {
			return fmt.Errorf("document %q: %w", id, err)
		}
		if !ok {
			continue
		}
		if err := rs.consider(doc, id, step); err != nil {
			return err
		}
	}
	return nil
}

// fieldMatchers builds one single-field vector per constrained field of
// frs. Special ranges are universal and contribute nothing.
func fieldMatchers(frs *keyrange.FieldRangeSet) ([]*keyrange.FieldRangeVector, error) {
	var out []*keyrange.FieldRangeVector
	for _, field := range frs.Fields() {
		if frs.Range(field).Universal() {
			continue
		}
		pattern := ir.KeyPattern{{Field: field, Direction: ir.Ascending}}
		vec, err := keyrange.NewFieldRangeVector(frs, pattern, ir.Ascending)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		out = append(out, vec)
	}
	return out, nil
}

func matchesAll(matchers []*keyrange.FieldRangeVector, doc ir.IRObject) (bool, error) {
	for _, m := range matchers {
		ok, err := m.Matches(doc)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
