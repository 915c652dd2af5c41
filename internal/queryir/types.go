package queryir

import (
	"fmt"

	"github.com/roach88/rangeplan/internal/ir"
)

// Predicate is a node of a parsed query document.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in consumers such as the range extractor.
//
// Predicate types:
//   - Field: one or more operator clauses on a single dotted path, all AND'ed
//   - Not: negation of the AND of operator clauses on a single path ($not)
//   - And: all children must hold ($and, and the top level of a document)
//   - Or: at least one child holds ($or)
//   - Nor: no child holds ($nor)
//   - Where: opaque server-side code ($where), never range-extractable
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// OpKind names a field operator. Values are the query-document spelling.
type OpKind string

const (
	OpEq        OpKind = "$eq"
	OpNe        OpKind = "$ne"
	OpGt        OpKind = "$gt"
	OpGte       OpKind = "$gte"
	OpLt        OpKind = "$lt"
	OpLte       OpKind = "$lte"
	OpIn        OpKind = "$in"
	OpNin       OpKind = "$nin"
	OpExists    OpKind = "$exists"
	OpMod       OpKind = "$mod"
	OpRegex     OpKind = "$regex"
	OpAll       OpKind = "$all"
	OpSize      OpKind = "$size"
	OpType      OpKind = "$type"
	OpElemMatch OpKind = "$elemMatch"
	OpNear      OpKind = "$near"
	OpWithin    OpKind = "$within"
)

// IsComparison reports whether k is one of $gt, $gte, $lt, $lte.
func (k OpKind) IsComparison() bool {
	switch k {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Op is a single operator clause applied to a field.
//
// Value holds the operand as written. For OpRegex the operand is the pattern
// string and Options carries the flags. For OpElemMatch, Sub holds the parsed
// body: field predicates relative to the array element, or a Field with an
// empty Path when the body is operator-only ({$elemMatch: {$gt: 1}}). For
// OpAll, Sub collects the {$elemMatch: ...} members of the list as
// path-less Field predicates.
type Op struct {
	Kind    OpKind
	Value   ir.IRValue
	Options string
	Sub     Predicate
}

func (o Op) String() string {
	if o.Kind == OpRegex {
		return fmt.Sprintf("%s /%s/%s", o.Kind, ir.String(o.Value), o.Options)
	}
	return fmt.Sprintf("%s %s", o.Kind, ir.String(o.Value))
}

// Field constrains one dotted path with every clause in Ops.
//
// Example:
//
//	{"a": {"$gt": 2, "$lt": 8}}
//
// parses to
//
//	Field{Path: "a", Ops: []Op{{Kind: OpGt, Value: 2}, {Kind: OpLt, Value: 8}}}
//
// A bare value parses to a single OpEq clause.
type Field struct {
	Path string
	Ops  []Op
}

func (Field) predicateNode() {}

// Not negates the conjunction of Ops on Path.
//
//	{"a": {"$not": {"$gt": 5}}}  ->  Not{Path: "a", Ops: []Op{{Kind: OpGt, Value: 5}}}
type Not struct {
	Path string
	Ops  []Op
}

func (Not) predicateNode() {}

// And holds when every child holds.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or holds when at least one child holds.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Nor holds when no child holds.
type Nor struct {
	Predicates []Predicate
}

func (Nor) predicateNode() {}

// Where carries opaque $where code. It is kept so that callers can see the
// residual filter exists; it never narrows a range.
type Where struct {
	Code string
}

func (Where) predicateNode() {}

// TopLevelOr returns the first $or directly under the root conjunction, if
// any. Only a root-level $or can be split into independently planned clauses.
func TopLevelOr(p Predicate) (Or, bool) {
	switch node := p.(type) {
	case Or:
		return node, true
	case And:
		for _, child := range node.Predicates {
			if or, ok := child.(Or); ok {
				return or, true
			}
		}
	}
	return Or{}, false
}

// Paths returns every field path constrained anywhere in p, in first-seen
// order without duplicates.
func Paths(p Predicate) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(path string) {
		if path != "" && !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch node := p.(type) {
		case Field:
			add(node.Path)
		case Not:
			add(node.Path)
		case And:
			for _, c := range node.Predicates {
				walk(c)
			}
		case Or:
			for _, c := range node.Predicates {
				walk(c)
			}
		case Nor:
			for _, c := range node.Predicates {
				walk(c)
			}
		}
	}
	walk(p)
	return out
}
