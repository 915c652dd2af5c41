package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/rangeplan/internal/ir"
)

// QuerySpec is a named query declared in a catalog.
type QuerySpec struct {
	Name      string        `json:"name"`
	Namespace string        `json:"namespace"`
	Filter    ir.IRObject   `json:"filter"`
	Sort      ir.KeyPattern `json:"sort,omitempty"`
	Hint      string        `json:"hint,omitempty"`
}

// CompileQuery parses a CUE value into a QuerySpec.
//
//	query: "by-customer": {
//		namespace: "shop.orders"
//		filter: {customer: "c1"}
//		sort: [{placed: -1}]   // optional
//		hint: "by_customer"    // optional
//	}
func CompileQuery(v cue.Value) (*QuerySpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &QuerySpec{Name: labelOf(v)}

	nsVal := v.LookupPath(cue.ParsePath("namespace"))
	if !nsVal.Exists() {
		return nil, &CompileError{
			Field:   "namespace",
			Message: "query namespace is required",
			Pos:     v.Pos(),
		}
	}
	ns, err := nsVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	spec.Namespace = ns

	// A missing filter matches everything.
	spec.Filter = ir.IRObject{}
	filterVal := v.LookupPath(cue.ParsePath("filter"))
	if filterVal.Exists() {
		val, err := ConvertValue(filterVal)
		if err != nil {
			return nil, err
		}
		filter, ok := val.(ir.IRObject)
		if !ok {
			return nil, &CompileError{
				Field:   "filter",
				Message: fmt.Sprintf("filter must be a struct, got %v", filterVal.Kind()),
				Pos:     filterVal.Pos(),
			}
		}
		spec.Filter = filter
	}

	sortVal := v.LookupPath(cue.ParsePath("sort"))
	if sortVal.Exists() {
		spec.Sort, err = parseKeyPattern("sort", sortVal)
		if err != nil {
			return nil, err
		}
	}

	hintVal := v.LookupPath(cue.ParsePath("hint"))
	if hintVal.Exists() {
		spec.Hint, err = hintVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
	}

	return spec, nil
}
