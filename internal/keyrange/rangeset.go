package keyrange

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/queryir"
)

// MaxBoundCombinations caps the number of composite bound pairs IndexBounds
// will expand $in lists into.
const MaxBoundCombinations = 4000000

// FieldRangeSet maps each constrained field of a query to its FieldRange.
//
// With singleKey the ranges assume no indexed field holds an array, which
// allows clauses on one field to be intersected freely. A multi-key set
// keeps ranges that stay correct when any field may expand to several keys.
type FieldRangeSet struct {
	ns         string
	ranges     map[string]*FieldRange
	queries    []queryir.Predicate
	singleKey  bool
	impossible bool
}

// NewFieldRangeSet derives per-field ranges from a predicate tree.
//
// And children intersect. Or, Nor and Where contribute nothing (top-level
// $or clauses are handled by OrRangeGenerator). Not negates its clauses.
// $elemMatch constrains the dotted sub-fields of the array, and its
// operator-only form constrains the array elements themselves.
func NewFieldRangeSet(ns string, pred queryir.Predicate, singleKey, optimize bool) (frs *FieldRangeSet, err error) {
	defer recoverAssertion(&err)

	s := newFieldRangeSet(ns, singleKey)
	if pred != nil {
		s.queries = []queryir.Predicate{pred}
		s.processPredicate(pred, optimize)
	}
	return s, nil
}

func newFieldRangeSet(ns string, singleKey bool) *FieldRangeSet {
	return &FieldRangeSet{
		ns:        ns,
		ranges:    make(map[string]*FieldRange),
		singleKey: singleKey,
	}
}

func (s *FieldRangeSet) processPredicate(p queryir.Predicate, optimize bool) {
	switch node := p.(type) {
	case queryir.And:
		for _, child := range node.Predicates {
			s.processPredicate(child, optimize)
		}
	case queryir.Field:
		for _, op := range node.Ops {
			s.processOp(node.Path, op, optimize)
		}
	case queryir.Not:
		ops := make([]queryir.Op, len(node.Ops))
		for i, op := range node.Ops {
			op.Value = ir.Clone(op.Value)
			ops[i] = op
		}
		s.intersectRange(node.Path, negatedRange(ops, s.singleKey))
	}
}

func (s *FieldRangeSet) processOp(path string, op queryir.Op, optimize bool) {
	switch op.Kind {
	case queryir.OpElemMatch:
		s.processElemMatch(path, op.Sub, optimize)
		return
	case queryir.OpAll:
		if op.Sub != nil {
			s.processElemMatch(path, op.Sub, optimize)
		}
	}
	s.intersectRange(path, NewFieldRange(op, s.singleKey, false, optimize))
}

// processElemMatch applies an $elemMatch body with its paths rooted at path.
func (s *FieldRangeSet) processElemMatch(path string, body queryir.Predicate, optimize bool) {
	switch node := body.(type) {
	case queryir.And:
		for _, child := range node.Predicates {
			s.processElemMatch(path, child, optimize)
		}
	case queryir.Field:
		s.processPredicate(queryir.Field{Path: joinPath(path, node.Path), Ops: node.Ops}, optimize)
	case queryir.Not:
		s.processPredicate(queryir.Not{Path: joinPath(path, node.Path), Ops: node.Ops}, optimize)
	}
}

func joinPath(parent, sub string) string {
	if sub == "" {
		return parent
	}
	return parent + "." + sub
}

func (s *FieldRangeSet) intersectRange(field string, r *FieldRange) {
	s.ranges[field] = s.Range(field).Intersect(r)
}

// Namespace returns the namespace the set was built for.
func (s *FieldRangeSet) Namespace() string { return s.ns }

// SingleKey reports the multiplicity assumption of the set.
func (s *FieldRangeSet) SingleKey() bool { return s.singleKey }

// Range returns the range of field. Unconstrained fields share the trivial
// universal range; every field of an impossible set is empty.
func (s *FieldRangeSet) Range(field string) *FieldRange {
	if r, ok := s.ranges[field]; ok {
		return r
	}
	if s.impossible {
		return emptyRange(s.singleKey)
	}
	return TrivialRange(s.singleKey)
}

// HasRange reports whether field was constrained by the query.
func (s *FieldRangeSet) HasRange(field string) bool {
	_, ok := s.ranges[field]
	return ok
}

// Fields returns the constrained fields in sorted order.
func (s *FieldRangeSet) Fields() []string {
	return slices.Sorted(maps.Keys(s.ranges))
}

// NumNonUniversalRanges counts ranges narrower than [MinKey, MaxKey],
// empty ones included.
func (s *FieldRangeSet) NumNonUniversalRanges() int {
	n := 0
	for _, r := range s.ranges {
		if !r.Universal() {
			n++
		}
	}
	return n
}

// NumNontrivialRanges counts nonempty ranges narrower than [MinKey, MaxKey].
func (s *FieldRangeSet) NumNontrivialRanges() int {
	n := 0
	for _, r := range s.ranges {
		if r.Nontrivial() {
			n++
		}
	}
	return n
}

// MatchPossible reports whether any document could match.
func (s *FieldRangeSet) MatchPossible() bool {
	if s.impossible {
		return false
	}
	for _, r := range s.ranges {
		if r.Empty() {
			return false
		}
	}
	return true
}

// MatchPossibleForIndex reports whether a scan of an index with pattern
// could find a match. A single-key set only consults the indexed fields.
// A natural or empty pattern is a full scan and falls back to
// MatchPossible.
func (s *FieldRangeSet) MatchPossibleForIndex(pattern ir.KeyPattern) bool {
	if !s.singleKey || pattern.IsNaturalOrEmpty() {
		return s.MatchPossible()
	}
	for _, f := range pattern {
		if s.Range(f.Field).Empty() {
			return false
		}
	}
	return true
}

// SimpleFiniteSet reports whether every range is a simple finite set.
func (s *FieldRangeSet) SimpleFiniteSet() bool {
	for _, r := range s.ranges {
		if !r.SimpleFiniteSet() {
			return false
		}
	}
	return true
}

// Special returns the special index type any range requires, or "".
func (s *FieldRangeSet) Special() string {
	for _, field := range s.Fields() {
		if sp := s.ranges[field].Special(); sp != "" {
			return sp
		}
	}
	return ""
}

// OriginalQuery returns the first predicate the set was built from, or nil.
func (s *FieldRangeSet) OriginalQuery() queryir.Predicate {
	if len(s.queries) == 0 {
		return nil
	}
	return s.queries[0]
}

// Clone returns an independent copy. Ranges are immutable and shared.
func (s *FieldRangeSet) Clone() *FieldRangeSet {
	return &FieldRangeSet{
		ns:         s.ns,
		ranges:     maps.Clone(s.ranges),
		queries:    slices.Clone(s.queries),
		singleKey:  s.singleKey,
		impossible: s.impossible,
	}
}

func (s *FieldRangeSet) makeEmpty() {
	s.impossible = true
	for field, r := range s.ranges {
		s.ranges[field] = r.MakeEmpty()
	}
}

// SimplifiedQuery renders the ranges as a compact query document, for
// fields in the given order (all constrained fields, sorted, when fields is
// empty). Equalities become plain values, other nontrivial ranges become
// $gt/$gte/$lt/$lte bounds on their extremes, empty ranges become
// {$in: []} and universal ranges are left out. The result is a lookup or
// cache key shape, not an equivalent query.
func (s *FieldRangeSet) SimplifiedQuery(fields []string) ir.IRDoc {
	if len(fields) == 0 {
		fields = s.Fields()
	}
	doc := ir.IRDoc{}
	for _, field := range fields {
		r := s.Range(field)
		switch {
		case r.Empty():
			doc = append(doc, ir.IRPair{Key: field, Value: ir.IRObject{"$in": ir.IRArray{}}})
		case r.Equality():
			doc = append(doc, ir.IRPair{Key: field, Value: r.Min()})
		case r.Nontrivial():
			bounds := ir.IRObject{}
			if ir.KindOf(r.Min()) != ir.KindMinKey {
				op := "$gt"
				if r.MinInclusive() {
					op = "$gte"
				}
				bounds[op] = r.Min()
			}
			if ir.KindOf(r.Max()) != ir.KindMaxKey {
				op := "$lt"
				if r.MaxInclusive() {
					op = "$lte"
				}
				bounds[op] = r.Max()
			}
			if len(bounds) > 0 {
				doc = append(doc, ir.IRPair{Key: field, Value: bounds})
			}
		}
	}
	return doc
}

// BoundPair is one composite [Start, End] key range of an index scan, in
// scan order.
type BoundPair struct {
	Start ir.IndexKey `json:"start"`
	End   ir.IndexKey `json:"end"`
}

// BoundList is the flattened bound list of an index scan.
type BoundList []BoundPair

// Pairs converts the list for hashing with ir.BoundsDigest.
func (b BoundList) Pairs() [][2]ir.IndexKey {
	out := make([][2]ir.IndexKey, len(b))
	for i, p := range b {
		out[i] = [2]ir.IndexKey{p.Start, p.End}
	}
	return out
}

// IndexBounds flattens the ranges into composite key pairs for pattern
// scanned in direction dir.
//
// Leading equality fields extend every pair. Leading $in fields multiply
// the pairs, one per value. From the first field that is neither, every
// remaining field contributes only its overall extremes.
func (s *FieldRangeSet) IndexBounds(pattern ir.KeyPattern, dir ir.Direction) (BoundList, error) {
	for _, f := range pattern {
		if s.Range(f.Field).Empty() {
			return BoundList{}, nil
		}
	}

	builders := BoundList{{Start: ir.IndexKey{}, End: ir.IndexKey{}}}
	inequality := false
	for _, f := range pattern {
		r := s.Range(f.Field)
		forward := f.Direction.Then(dir) == ir.Ascending
		switch {
		case inequality:
			lo, hi := r.Min(), r.Max()
			if !forward {
				lo, hi = hi, lo
			}
			for i := range builders {
				builders[i] = BoundPair{Start: extendKey(builders[i].Start, lo), End: extendKey(builders[i].End, hi)}
			}
		case r.Equality():
			for i := range builders {
				builders[i] = BoundPair{Start: extendKey(builders[i].Start, r.Min()), End: extendKey(builders[i].End, r.Min())}
			}
		default:
			if !r.InQuery() {
				inequality = true
			}
			ivs := r.intervals
			next := make(BoundList, 0, len(builders)*len(ivs))
			for _, b := range builders {
				for k := range ivs {
					if len(next) >= MaxBoundCombinations {
						return nil, fmt.Errorf("index bounds for %s: %w", pattern, ErrCombinatorialLimit)
					}
					iv := ivs[k]
					if !forward {
						iv = ivs[len(ivs)-1-k].reversed()
					}
					next = append(next, BoundPair{
						Start: extendKey(b.Start, iv.Lower.Value),
						End:   extendKey(b.End, iv.Upper.Value),
					})
				}
			}
			builders = next
		}
	}
	return builders, nil
}

func extendKey(k ir.IndexKey, v ir.IRValue) ir.IndexKey {
	out := make(ir.IndexKey, len(k), len(k)+1)
	copy(out, k)
	return append(out, v)
}

// Intersect returns a set whose ranges are the per-field intersections of s
// and other.
func (s *FieldRangeSet) Intersect(other *FieldRangeSet) *FieldRangeSet {
	out := s.Clone()
	for _, field := range other.Fields() {
		out.ranges[field] = out.Range(field).Intersect(other.ranges[field])
	}
	out.impossible = s.impossible || other.impossible
	out.queries = append(out.queries, other.queries...)
	return out
}

// Subtract returns a superset of the documents matched by s but not by
// other.
//
// When every field of s is covered by other's range the result is empty.
// When exactly one field is not covered, that field's range loses other's
// range. In every other case, including other constraining a field s does
// not, s is returned unchanged. A set that is already impossible is
// returned unchanged too: an empty range is a subset of anything and says
// nothing about what other covered.
func (s *FieldRangeSet) Subtract(other *FieldRangeSet) *FieldRangeSet {
	out := s.Clone()
	uncovered, n := s.uncovered(other)
	switch n {
	case 0:
		out.makeEmpty()
	case 1:
		out.ranges[uncovered] = s.ranges[uncovered].Subtract(other.ranges[uncovered])
		out.queries = append(out.queries, other.queries...)
	}
	return out
}

// uncovered counts the fields of s whose range is not a subset of other's,
// returning the last such field. It returns -1 when other constrains a
// field s does not, when more than one field is uncovered, or when s is
// impossible.
func (s *FieldRangeSet) uncovered(other *FieldRangeSet) (string, int) {
	if !s.MatchPossible() {
		return "", -1
	}
	for _, field := range other.Fields() {
		if !s.HasRange(field) {
			return "", -1
		}
	}

	uncovered := ""
	n := 0
	for _, field := range s.Fields() {
		o, ok := other.ranges[field]
		if !ok || s.ranges[field].SubsetOf(o) {
			continue
		}
		n++
		uncovered = field
		if n > 1 {
			return "", -1
		}
	}
	return uncovered, n
}

// Subset returns a set holding only the nontrivial ranges of the named
// fields.
func (s *FieldRangeSet) Subset(fields []string) *FieldRangeSet {
	out := newFieldRangeSet(s.ns, s.singleKey)
	for _, field := range fields {
		if r := s.Range(field); r.Nontrivial() {
			out.ranges[field] = r
		}
	}
	out.queries = slices.Clone(s.queries)
	out.impossible = s.impossible
	return out
}

func (s *FieldRangeSet) String() string {
	fields := s.Fields()
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s: %s", f, s.ranges[f])
	}
	return fmt.Sprintf("%s %v", s.ns, parts)
}
