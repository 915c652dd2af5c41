package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/rangeplan/internal/ir"
)

// ValidationResult contains the range-extractability analysis of a query.
//
// Range extraction always produces a superset of the matching documents.
// A query is fully range-extractable when that superset is exact: every
// key inside the derived ranges belongs to a matching document, so no
// residual filter is needed beyond the index scan.
type ValidationResult struct {
	// RangeExtractable is true when every predicate is expressed exactly by
	// the derived field ranges.
	RangeExtractable bool

	// Warnings lists the predicates that widen the ranges and therefore need
	// a residual filter. Empty when RangeExtractable is true.
	Warnings []string
}

// Validate checks which parts of a predicate tree the range extractor can
// represent exactly.
//
// Widening constructs:
//  1. $where, $nor, $size, $elemMatch bodies - no range contribution at all
//  2. $or below the root - only a root-level $or is split into clauses
//  3. Unanchored or case-insensitive $regex - widens to all strings
//  4. $mod, $type, $exists: true, $all - bracket ranges, not exact
//  5. Negated regex, $mod, $type, $all, $size, arrays - universal ranges
//  6. Comparisons against objects, arrays or null - not type-bracketed
//
// Validate is a pure function with no side effects.
func Validate(p Predicate) ValidationResult {
	v := &validator{
		warnings: []string{},
	}
	if root, ok := p.(And); ok {
		for _, sub := range root.Predicates {
			v.validatePredicate(sub, true)
		}
	} else {
		v.validatePredicate(p, true)
	}

	return ValidationResult{
		RangeExtractable: len(v.warnings) == 0,
		Warnings:         v.warnings,
	}
}

// validator accumulates warnings during traversal.
type validator struct {
	warnings []string
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

// validatePredicate recursively validates a predicate node. root is true
// for direct children of the root conjunction.
func (v *validator) validatePredicate(p Predicate, root bool) {
	if p == nil {
		return
	}

	switch pred := p.(type) {
	case Field:
		for _, op := range pred.Ops {
			v.validateOp(pred.Path, op)
		}
	case Not:
		v.validateNot(pred)
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub, false)
		}
	case Or:
		if !root {
			v.addWarning("nested $or - only a root-level $or is split into clauses")
		}
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub, false)
		}
	case Nor:
		v.addWarning("$nor - contributes no ranges, needs a residual filter")
	case Where:
		v.addWarning("$where - opaque code, needs a residual filter")
	default:
		v.addWarning("unknown predicate type: %T - extractability cannot be verified", p)
	}
}

func (v *validator) validateOp(path string, op Op) {
	switch op.Kind {
	case OpEq, OpNe:
		if _, isArr := op.Value.(ir.IRArray); isArr {
			v.addWarning("field '%s' %s an array - element keys widen the range", path, op.Kind)
		}
	case OpGt, OpGte, OpLt, OpLte:
		if !ir.KindOf(op.Value).IsSimple() {
			v.addWarning("field '%s' %s on %s - comparison is not type-bracketed", path, op.Kind, ir.KindOf(op.Value))
		}
	case OpIn, OpNin:
		if arr, ok := op.Value.(ir.IRArray); ok {
			for _, elem := range arr {
				if _, isArr := elem.(ir.IRArray); isArr {
					v.addWarning("field '%s' %s contains an array - element keys widen the range", path, op.Kind)
					break
				}
			}
		}
	case OpRegex:
		v.validateRegex(path, string(op.Value.(ir.IRString)), op.Options)
	case OpExists:
		if Truthy(op.Value) {
			v.addWarning("field '%s' $exists: true - range stays universal", path)
		}
	case OpMod, OpType, OpAll:
		v.addWarning("field '%s' %s - bracket range only", path, op.Kind)
	case OpSize:
		v.addWarning("field '%s' $size - contributes no range", path)
	case OpElemMatch:
		v.addWarning("field '%s' $elemMatch - element-level matching needs a residual filter", path)
	case OpNear, OpWithin:
		v.addWarning("field '%s' %s - requires a special index", path, op.Kind)
	}
}

func (v *validator) validateRegex(path, pattern, options string) {
	if !strings.HasPrefix(pattern, "^") && !strings.HasPrefix(pattern, `\A`) {
		v.addWarning("field '%s' unanchored $regex /%s/ - range covers all strings", path, pattern)
		return
	}
	if strings.ContainsAny(options, "is") {
		v.addWarning("field '%s' $regex options %q - range covers all strings", path, options)
		return
	}
	body := strings.TrimPrefix(strings.TrimPrefix(pattern, "^"), `\A`)
	if strings.ContainsAny(body, `\^$.[]()+*?{}|#`) || body == "" || strings.Contains(options, "x") {
		v.addWarning("field '%s' $regex /%s/ - prefix range, needs a residual filter", path, pattern)
	}
}

func (v *validator) validateNot(not Not) {
	if len(not.Ops) > 1 {
		v.addWarning("field '%s' $not with %d operators - negated as a whole", not.Path, len(not.Ops))
	}
	for _, op := range not.Ops {
		switch op.Kind {
		case OpRegex, OpMod, OpType, OpAll, OpSize, OpElemMatch, OpNear, OpWithin:
			v.addWarning("field '%s' $not %s - range stays universal", not.Path, op.Kind)
		default:
			v.validateOp(not.Path, op)
		}
	}
}
