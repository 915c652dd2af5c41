package keyrange

import (
	"fmt"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/queryir"
)

// Catalog describes the indexes of one namespace. Index numbers run from 0
// to IndexCount()-1; a negative number means "no index".
type Catalog interface {
	IndexCount() int
	IsMultiKey(idxNo int) bool
}

// FieldRangeSetPair holds a single-key and a multi-key FieldRangeSet built
// from the same predicate, so callers can pick the one that is correct for
// a candidate index.
type FieldRangeSetPair struct {
	single *FieldRangeSet
	multi  *FieldRangeSet
}

// NewFieldRangeSetPair builds both sets for pred.
func NewFieldRangeSetPair(ns string, pred queryir.Predicate, optimize bool) (*FieldRangeSetPair, error) {
	single, err := NewFieldRangeSet(ns, pred, true, optimize)
	if err != nil {
		return nil, fmt.Errorf("single-key ranges: %w", err)
	}
	multi, err := NewFieldRangeSet(ns, pred, false, optimize)
	if err != nil {
		return nil, fmt.Errorf("multi-key ranges: %w", err)
	}
	return &FieldRangeSetPair{single: single, multi: multi}, nil
}

func validIndexOrNone(cat Catalog, idxNo int) error {
	if idxNo < 0 {
		return nil
	}
	if cat == nil || idxNo >= cat.IndexCount() {
		return &AssertionError{Op: "FieldRangeSetPair", Message: fmt.Sprintf("invalid index %d specified", idxNo)}
	}
	return nil
}

// ForIndex returns the set to use with index idxNo. An unindexed scan
// cannot rely on single-key ranges.
func (p *FieldRangeSetPair) ForIndex(cat Catalog, idxNo int) (*FieldRangeSet, error) {
	if err := validIndexOrNone(cat, idxNo); err != nil {
		return nil, err
	}
	if idxNo < 0 || cat.IsMultiKey(idxNo) {
		return p.multi, nil
	}
	return p.single, nil
}

// SingleKeySet returns the single-key set.
func (p *FieldRangeSetPair) SingleKeySet() *FieldRangeSet { return p.single }

// MultiKeySet returns the multi-key set.
func (p *FieldRangeSetPair) MultiKeySet() *FieldRangeSet { return p.multi }

// NoNontrivialRanges reports whether both sets are satisfiable and leave
// every field unconstrained.
func (p *FieldRangeSetPair) NoNontrivialRanges() bool {
	return p.single.MatchPossible() && p.single.NumNontrivialRanges() == 0 &&
		p.multi.MatchPossible() && p.multi.NumNontrivialRanges() == 0
}

// MatchPossible uses the multi-key set, which never excludes a document
// the single-key set would admit.
func (p *FieldRangeSetPair) MatchPossible() bool {
	return p.multi.MatchPossible()
}

// MatchPossibleForIndex reports whether a scan of index idxNo with pattern
// could find a match.
func (p *FieldRangeSetPair) MatchPossibleForIndex(cat Catalog, idxNo int, pattern ir.KeyPattern) (bool, error) {
	if err := validIndexOrNone(cat, idxNo); err != nil {
		return false, err
	}
	if !p.MatchPossible() {
		return false, nil
	}
	if idxNo < 0 {
		return true, nil
	}
	frs, err := p.ForIndex(cat, idxNo)
	if err != nil {
		return false, err
	}
	return frs.MatchPossibleForIndex(pattern), nil
}

// SimplifiedQueryForIndex renders the simplified query of the set for
// index idxNo, over the pattern's fields.
func (p *FieldRangeSetPair) SimplifiedQueryForIndex(cat Catalog, idxNo int, pattern ir.KeyPattern) (ir.IRDoc, error) {
	frs, err := p.ForIndex(cat, idxNo)
	if err != nil {
		return nil, err
	}
	return frs.SimplifiedQuery(pattern.Fields()), nil
}

// SingleKeyIndexBounds returns the single-key set's bounds for pattern.
func (p *FieldRangeSetPair) SingleKeyIndexBounds(pattern ir.KeyPattern, dir ir.Direction) (BoundList, error) {
	return p.single.IndexBounds(pattern, dir)
}

// Intersect intersects both sets with their counterparts in other.
func (p *FieldRangeSetPair) Intersect(other *FieldRangeSetPair) *FieldRangeSetPair {
	return &FieldRangeSetPair{
		single: p.single.Intersect(other.single),
		multi:  p.multi.Intersect(other.multi),
	}
}

// Subtract removes the ranges of an already scanned set from both sets.
//
// Coverage is decided on the multi-key set alone. The single-key set
// intersects fields that may hold arrays in some document, so a range
// there can look covered, or even empty, while a document still matches.
// The single-key set only follows what the multi-key side concluded.
func (p *FieldRangeSetPair) Subtract(scanned *FieldRangeSet) *FieldRangeSetPair {
	single := p.single.Clone()
	uncovered, n := p.multi.uncovered(scanned)
	multi := p.multi.Subtract(scanned)
	switch n {
	case 0:
		single.makeEmpty()
	case 1:
		single.ranges[uncovered] = single.Range(uncovered).Intersect(multi.Range(uncovered))
		single.queries = append(single.queries, scanned.queries...)
	}
	return &FieldRangeSetPair{single: single, multi: multi}
}

// Clone returns an independent copy.
func (p *FieldRangeSetPair) Clone() *FieldRangeSetPair {
	return &FieldRangeSetPair{single: p.single.Clone(), multi: p.multi.Clone()}
}

func (p *FieldRangeSetPair) Namespace() string { return p.single.Namespace() }

func (p *FieldRangeSetPair) OriginalQuery() queryir.Predicate { return p.single.OriginalQuery() }

func (p *FieldRangeSetPair) Special() string { return p.single.Special() }
