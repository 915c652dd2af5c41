package keyrange

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/rangeplan/internal/ir"
)

// BoundType classifies how a query constrains one field, for plan caching.
type BoundType int

const (
	BoundEquality BoundType = iota + 1
	BoundLower
	BoundUpper
	BoundUpperAndLower
)

var boundTypeNames = map[BoundType]string{
	BoundEquality:      "eq",
	BoundLower:         "lb",
	BoundUpper:         "ub",
	BoundUpperAndLower: "ulb",
}

func (t BoundType) String() string {
	if name, ok := boundTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("bound(%d)", int(t))
}

// QueryPattern is the shape of a query: which fields are constrained, how,
// and the requested sort. Queries with the same pattern share a cached
// plan.
type QueryPattern struct {
	fieldTypes map[string]BoundType
	sort       ir.KeyPattern
}

// Pattern derives the query pattern of s under sort. Empty ranges count as
// equalities. The sort is normalized so that its first field is ascending,
// since a sort and its reverse can use the same index.
func (s *FieldRangeSet) Pattern(sort ir.KeyPattern) QueryPattern {
	p := QueryPattern{fieldTypes: make(map[string]BoundType)}
	for field, r := range s.ranges {
		switch {
		case r.Empty(), r.Equality():
			p.fieldTypes[field] = BoundEquality
		case r.Nontrivial():
			upper := ir.KindOf(r.Max()) != ir.KindMaxKey
			lower := ir.KindOf(r.Min()) != ir.KindMinKey
			switch {
			case upper && lower:
				p.fieldTypes[field] = BoundUpperAndLower
			case upper:
				p.fieldTypes[field] = BoundUpper
			case lower:
				p.fieldTypes[field] = BoundLower
			}
		}
	}
	p.sort = normalizeSort(sort)
	return p
}

func normalizeSort(sort ir.KeyPattern) ir.KeyPattern {
	if len(sort) == 0 {
		return nil
	}
	first := sort[0].Direction
	out := make(ir.KeyPattern, len(sort))
	for i, f := range sort {
		f.Direction = f.Direction.Then(first)
		out[i] = f
	}
	return out
}

// FieldType returns the bound type of field, if it is constrained.
func (p QueryPattern) FieldType(field string) (BoundType, bool) {
	t, ok := p.fieldTypes[field]
	return t, ok
}

// Sort returns the normalized sort.
func (p QueryPattern) Sort() ir.KeyPattern { return p.sort }

// Equal reports whether two patterns have identical field types and sort.
func (p QueryPattern) Equal(o QueryPattern) bool {
	return maps.Equal(p.fieldTypes, o.fieldTypes) && p.sort.String() == o.sort.String()
}

// String renders the pattern deterministically, e.g. "a:eq,b:lb sort {"b":1}".
func (p QueryPattern) String() string {
	fields := slices.Sorted(maps.Keys(p.fieldTypes))
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ":" + p.fieldTypes[f].String()
	}
	return strings.Join(parts, ",") + " sort " + p.sort.String()
}

// CacheKey hashes the pattern for namespace ns.
func (p QueryPattern) CacheKey(ns string) (string, error) {
	return ir.PlanKey(ns, p.String())
}
