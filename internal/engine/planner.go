package engine

import (
	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/keyrange"
)

// NaturalIndex names a collection scan in plans, hints and run records.
const NaturalIndex = ir.NaturalField

// plan is one way to read a clause: an index in a direction, or a
// collection scan when idxNo is -1.
type plan struct {
	idxNo   int
	name    string
	pattern ir.KeyPattern
	dir     ir.Direction
	score   int
	cached  bool
}

func collectionScan() plan {
	return plan{idxNo: -1, name: NaturalIndex, dir: ir.Ascending}
}

func (p plan) isCollectionScan() bool { return p.idxNo < 0 }

func indexPlan(idxNo int, spec ir.IndexSpec, dir ir.Direction) plan {
	return plan{idxNo: idxNo, name: spec.Name, pattern: spec.KeyPattern, dir: dir}
}

// scoreIndex rates how much of pattern's leading fields frs pins down:
// two points per field restricted to points, then one point if the next
// field has any constraint at all.
func scoreIndex(frs *keyrange.FieldRangeSet, pattern ir.KeyPattern) int {
	score := 0
	for _, f := range pattern {
		r := frs.Range(f.Field)
		if r.InQuery() {
			score += 2
			continue
		}
		if r.Nontrivial() {
			score++
		}
		break
	}
	return score
}

// sortDirection reports whether scanning pattern in some direction yields
// documents in sort order, and which direction that is.
func sortDirection(pattern, sort ir.KeyPattern) (ir.Direction, bool) {
	if len(sort) == 0 || len(sort) > len(pattern) {
		return ir.Ascending, false
	}
	var dir ir.Direction
	for i, s := range sort {
		if pattern[i].Field != s.Field || pattern[i].Special != "" {
			return ir.Ascending, false
		}
		d := pattern[i].Direction.Then(s.Direction)
		if i > 0 && d != dir {
			return ir.Ascending, false
		}
		dir = d
	}
	return dir, true
}

func hasSpecialField(pattern ir.KeyPattern) bool {
	for _, f := range pattern {
		if f.Special != "" {
			return true
		}
	}
	return false
}

// choosePlan picks how to read one clause.
//
// A hint names the index to use, or NaturalIndex for a collection scan.
// Without a hint every ordered index is scored on frsp and the best one
// wins; ties go to an index that also serves sort, then to the earliest
// declared. An index that constrains nothing is only used for its order.
// Geo-style queries always fall back to a collection scan.
func choosePlan(coll *Collection, frsp *keyrange.FieldRangeSetPair, sort ir.KeyPattern, hint string) (plan, error) {
	if hint != "" {
		if hint == NaturalIndex {
			return collectionScan(), nil
		}
		idxNo, ok := coll.IndexNo(hint)
		if !ok {
			return plan{}, NewUnknownIndexError(coll.Namespace(), hint)
		}
		spec := coll.indexes[idxNo].spec
		dir, _ := sortDirection(spec.KeyPattern, sort)
		return indexPlan(idxNo, spec, dir), nil
	}

	if frsp.Special() != "" {
		return collectionScan(), nil
	}

	best := collectionScan()
	bestSorted := false
	for idxNo, ix := range coll.indexes {
		if hasSpecialField(ix.spec.KeyPattern) {
			continue
		}
		frs, err := frsp.ForIndex(coll, idxNo)
		if err != nil {
			return plan{}, err
		}
		score := scoreIndex(frs, ix.spec.KeyPattern)
		dir, sorted := sortDirection(ix.spec.KeyPattern, sort)
		if score == 0 && !sorted {
			continue
		}
		if score > best.score || (score == best.score && sorted && !bestSorted) {
			best = indexPlan(idxNo, ix.spec, dir)
			best.score = score
			bestSorted = sorted
		}
	}
	return best, nil
}

// cachedPlan turns a plan-cache record into a plan, if the index it names
// still exists with the same key pattern.
func cachedPlan(coll *Collection, rec ir.PlanRecord) (plan, bool) {
	if rec.IndexName == "" {
		p := collectionScan()
		p.cached = true
		return p, true
	}
	idxNo, ok := coll.IndexNo(rec.IndexName)
	if !ok {
		return plan{}, false
	}
	p := indexPlan(idxNo, coll.indexes[idxNo].spec, rec.Direction)
	p.cached = true
	return p, true
}
