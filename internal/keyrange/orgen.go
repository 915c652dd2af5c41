package keyrange

import (
	"errors"
	"fmt"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/queryir"
)

// ErrSpecialOrClause is returned when a $or clause needs a special index.
var ErrSpecialOrClause = errors.New("$or may not contain 'special' query")

// OrState is the lifecycle state of an OrRangeGenerator.
type OrState int

const (
	// OrInitialized: no top-level $or was found; the OR machinery is unused.
	OrInitialized OrState = iota
	// OrClauseAvailable: at least one clause remains to be scanned.
	OrClauseAvailable
	// OrFinished: every clause has been popped or eliminated.
	OrFinished
)

func (s OrState) String() string {
	switch s {
	case OrInitialized:
		return "initialized"
	case OrClauseAvailable:
		return "clause-available"
	case OrFinished:
		return "finished"
	}
	return fmt.Sprintf("or-state(%d)", int(s))
}

// OrRangeGenerator hands out the clauses of a top-level $or one at a time.
//
// After a clause has been scanned with some index, the ranges that scan
// covered are subtracted from every later clause, so a document matched by
// several clauses is mostly found once. Clauses that become impossible are
// dropped. Subtraction is conservative: callers still deduplicate, for
// example with FieldRangeVector.Matches against earlier clauses.
type OrRangeGenerator struct {
	base     *FieldRangeSetPair
	orSets   []*FieldRangeSetPair
	original []*FieldRangeSetPair
	orFound  bool
	useless  bool
}

// NewOrRangeGenerator splits pred into its base (non-$or) ranges and one
// pair per clause of its first top-level $or.
func NewOrRangeGenerator(ns string, pred queryir.Predicate, optimize bool) (*OrRangeGenerator, error) {
	base, err := NewFieldRangeSetPair(ns, pred, optimize)
	if err != nil {
		return nil, err
	}
	g := &OrRangeGenerator{base: base}

	or, ok := queryir.TopLevelOr(pred)
	if !ok {
		return g, nil
	}
	g.orFound = true
	for i, clause := range or.Predicates {
		frsp, err := NewFieldRangeSetPair(ns, clause, optimize)
		if err != nil {
			return nil, fmt.Errorf("$or clause %d: %w", i, err)
		}
		if frsp.Special() != "" {
			return nil, fmt.Errorf("$or clause %d: %w", i, ErrSpecialOrClause)
		}
		g.orSets = append(g.orSets, frsp)
		g.original = append(g.original, frsp)
	}
	return g, nil
}

// PopOrClause removes the front clause, which the caller has just scanned
// with index idxNo (pattern), and subtracts what that scan covered from
// the remaining clauses.
//
// When the scan was unindexed, or the index constrained nothing, the OR is
// marked useless: the clause is dropped without subtraction and the caller
// should stop relying on index bounds for the remaining clauses.
func (g *OrRangeGenerator) PopOrClause(cat Catalog, idxNo int, pattern ir.KeyPattern) (err error) {
	defer recoverAssertion(&err)

	if err := g.assertMayPop(); err != nil {
		return err
	}
	if idxNo < 0 || pattern.IsNaturalOrEmpty() {
		g.markUseless()
		return nil
	}

	toDiff, err := g.original[0].ForIndex(cat, idxNo)
	if err != nil {
		return err
	}
	if toDiff.MatchPossibleForIndex(pattern) {
		toDiff = toDiff.Subset(pattern.Fields())
	}
	if toDiff.NumNontrivialRanges() == 0 {
		g.markUseless()
		return nil
	}
	return g.popOrClause(toDiff, cat, idxNo, pattern)
}

// PopOrClauseSingleKey pops the front clause, subtracting its single-key
// ranges without reference to any index.
func (g *OrRangeGenerator) PopOrClauseSingleKey() (err error) {
	defer recoverAssertion(&err)

	if err := g.assertMayPop(); err != nil {
		return err
	}
	return g.popOrClause(g.original[0].SingleKeySet(), nil, -1, nil)
}

func (g *OrRangeGenerator) assertMayPop() error {
	if !g.MoreOrClauses() {
		return &AssertionError{Op: "PopOrClause", Message: "no or clause to pop"}
	}
	return nil
}

func (g *OrRangeGenerator) markUseless() {
	g.useless = true
	g.orSets = g.orSets[1:]
	g.original = g.original[1:]
}

func (g *OrRangeGenerator) popOrClause(toDiff *FieldRangeSet, cat Catalog, idxNo int, pattern ir.KeyPattern) error {
	keptSets := []*FieldRangeSetPair{g.orSets[0]}
	keptOriginal := []*FieldRangeSetPair{g.original[0]}
	for k := 1; k < len(g.orSets); k++ {
		next := g.orSets[k].Subtract(toDiff)
		if !next.MatchPossible() {
			continue
		}
		if cat != nil {
			ok, err := next.MatchPossibleForIndex(cat, idxNo, pattern)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
		}
		keptSets = append(keptSets, next)
		keptOriginal = append(keptOriginal, g.original[k])
	}
	g.orSets = keptSets[1:]
	g.original = keptOriginal[1:]
	return nil
}

// TopFrsp returns the base ranges intersected with the front clause after
// subtraction, or the base ranges alone when no clause remains.
func (g *OrRangeGenerator) TopFrsp() *FieldRangeSetPair {
	ret := g.base.Clone()
	if len(g.orSets) > 0 {
		ret = ret.Intersect(g.orSets[0])
	}
	return ret
}

// TopFrspOriginal is TopFrsp using the front clause before subtraction.
func (g *OrRangeGenerator) TopFrspOriginal() *FieldRangeSetPair {
	ret := g.base.Clone()
	if len(g.original) > 0 {
		ret = ret.Intersect(g.original[0])
	}
	return ret
}

// OrFinished reports that a $or was found and all its clauses are gone.
func (g *OrRangeGenerator) OrFinished() bool { return g.orFound && len(g.orSets) == 0 }

// MoreOrClauses reports whether a clause remains.
func (g *OrRangeGenerator) MoreOrClauses() bool { return len(g.orSets) > 0 }

// OrFound reports whether the predicate has a top-level $or.
func (g *OrRangeGenerator) OrFound() bool { return g.orFound }

// UselessOr reports that a clause was scanned without usable index bounds.
func (g *OrRangeGenerator) UselessOr() bool { return g.useless }

// NumClauses returns the number of clauses still queued.
func (g *OrRangeGenerator) NumClauses() int { return len(g.orSets) }

// State returns the lifecycle state.
func (g *OrRangeGenerator) State() OrState {
	switch {
	case g.OrFinished():
		return OrFinished
	case g.MoreOrClauses():
		return OrClauseAvailable
	}
	return OrInitialized
}

// Special returns the special index type of the base ranges.
func (g *OrRangeGenerator) Special() string { return g.base.Special() }

// Base returns the ranges of the non-$or part of the predicate.
func (g *OrRangeGenerator) Base() *FieldRangeSetPair { return g.base }
