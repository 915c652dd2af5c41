package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/rangeplan/internal/ir"
)

// NamespaceSpec is one declared namespace: its indexes in declaration order
// and optional seed documents.
type NamespaceSpec struct {
	Name      string         `json:"name"`
	Indexes   []ir.IndexSpec `json:"indexes"`
	Documents []ir.IRObject  `json:"documents,omitempty"`
}

// Catalog is the compiled form of a set of CUE catalog files.
type Catalog struct {
	Namespaces []NamespaceSpec `json:"namespaces"`
	Queries    []QuerySpec     `json:"queries"`
}

// Namespace returns the declared namespace called name.
func (c *Catalog) Namespace(name string) (*NamespaceSpec, bool) {
	for i := range c.Namespaces {
		if c.Namespaces[i].Name == name {
			return &c.Namespaces[i], true
		}
	}
	return nil, false
}

// Query returns the named query.
func (c *Catalog) Query(name string) (*QuerySpec, bool) {
	for i := range c.Queries {
		if c.Queries[i].Name == name {
			return &c.Queries[i], true
		}
	}
	return nil, false
}

// CompileCatalog compiles every namespace.* and query.* entry of v.
// Field names starting with _ are hidden in CUE, so document ids are
// written as the quoted label "_id".
// Compilation does not stop at the first bad entry; all errors are returned
// together with whatever compiled.
//
//	namespace: "shop.orders": {
//		index: by_customer: key: [{customer: 1}, {placed: -1}]
//		documents: [{"_id": "o1", customer: "c1", placed: 3}]
//	}
//	query: recent: {
//		namespace: "shop.orders"
//		filter: {customer: "c1", placed: {"$gte": 2}}
//		sort: [{placed: -1}]
//	}
func CompileCatalog(v cue.Value) (*Catalog, []error) {
	if err := v.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}

	cat := &Catalog{Namespaces: []NamespaceSpec{}, Queries: []QuerySpec{}}
	var errs []error

	if nsVal := v.LookupPath(cue.ParsePath("namespace")); nsVal.Exists() {
		iter, err := nsVal.Fields()
		if err != nil {
			return nil, []error{formatCUEError(err)}
		}
		for iter.Next() {
			spec, err := CompileNamespace(iter.Value())
			if err != nil {
				errs = append(errs, err)
				continue
			}
			cat.Namespaces = append(cat.Namespaces, *spec)
		}
	}

	if qVal := v.LookupPath(cue.ParsePath("query")); qVal.Exists() {
		iter, err := qVal.Fields()
		if err != nil {
			return nil, []error{formatCUEError(err)}
		}
		for iter.Next() {
			spec, err := CompileQuery(iter.Value())
			if err != nil {
				errs = append(errs, err)
				continue
			}
			cat.Queries = append(cat.Queries, *spec)
		}
	}

	return cat, errs
}

// CompileNamespace parses a CUE value into a NamespaceSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the namespace struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`namespace: "db.c": index: a: key: [{a: 1}]`)
//	spec, err := CompileNamespace(v.LookupPath(cue.ParsePath(`namespace."db.c"`)))
func CompileNamespace(v cue.Value) (*NamespaceSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &NamespaceSpec{Name: labelOf(v), Indexes: []ir.IndexSpec{}}
	if spec.Name == "" {
		return nil, &CompileError{
			Field:   "namespace",
			Message: "namespace name is required",
			Pos:     v.Pos(),
		}
	}

	// Indexes are optional; a namespace without any is collection-scan only.
	indexVal := v.LookupPath(cue.ParsePath("index"))
	if indexVal.Exists() {
		iter, err := indexVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			idx, err := parseIndex(spec.Name, unquote(iter.Label()), iter.Value())
			if err != nil {
				return nil, err
			}
			spec.Indexes = append(spec.Indexes, idx)
		}
	}

	docsVal := v.LookupPath(cue.ParsePath("documents"))
	if docsVal.Exists() {
		iter, err := docsVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for i := 0; iter.Next(); i++ {
			val, err := ConvertValue(iter.Value())
			if err != nil {
				return nil, err
			}
			doc, ok := val.(ir.IRObject)
			if !ok {
				return nil, &CompileError{
					Field:   fmt.Sprintf("documents[%d]", i),
					Message: "document must be a struct",
					Pos:     iter.Value().Pos(),
				}
			}
			spec.Documents = append(spec.Documents, doc)
		}
	}

	return spec, nil
}

// parseIndex compiles one index entry. The key is required.
func parseIndex(ns, name string, v cue.Value) (ir.IndexSpec, error) {
	keyVal := v.LookupPath(cue.ParsePath("key"))
	if !keyVal.Exists() {
		return ir.IndexSpec{}, &CompileError{
			Field:   fmt.Sprintf("index.%s.key", name),
			Message: "index key is required",
			Pos:     v.Pos(),
		}
	}
	pattern, err := parseKeyPattern(fmt.Sprintf("index.%s.key", name), keyVal)
	if err != nil {
		return ir.IndexSpec{}, err
	}
	return ir.IndexSpec{Name: name, Namespace: ns, KeyPattern: pattern}, nil
}

// parseKeyPattern reads a list of single-field structs, e.g.
// [{a: 1}, {b: -1}, {loc: "2d"}]. A list keeps the field order, which a CUE
// struct would not guarantee across unification.
func parseKeyPattern(field string, v cue.Value) (ir.KeyPattern, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: "key pattern must be a list of {field: direction} entries",
			Pos:     v.Pos(),
		}
	}

	var pattern ir.KeyPattern
	for i := 0; iter.Next(); i++ {
		elem := iter.Value()
		at := fmt.Sprintf("%s[%d]", field, i)

		fields, err := elem.Fields()
		if err != nil {
			return nil, &CompileError{Field: at, Message: "entry must be a struct", Pos: elem.Pos()}
		}
		count := 0
		for fields.Next() {
			count++
			if count > 1 {
				return nil, &CompileError{Field: at, Message: "entry must name exactly one field", Pos: elem.Pos()}
			}
			kf := ir.KeyField{Field: unquote(fields.Label()), Direction: ir.Ascending}
			dir := fields.Value()
			switch dir.IncompleteKind() {
			case cue.IntKind:
				n, err := dir.Int64()
				if err != nil {
					return nil, formatCUEError(err)
				}
				kf.Direction = ir.DirectionOf(n)
			case cue.StringKind:
				s, err := dir.String()
				if err != nil {
					return nil, formatCUEError(err)
				}
				kf.Special = s
			default:
				return nil, &CompileError{
					Field:   at + "." + kf.Field,
					Message: fmt.Sprintf("direction must be an int or an index type string, got %v", dir.IncompleteKind()),
					Pos:     dir.Pos(),
				}
			}
			pattern = append(pattern, kf)
		}
		if count == 0 {
			return nil, &CompileError{Field: at, Message: "entry must name exactly one field", Pos: elem.Pos()}
		}
	}
	return pattern, nil
}

// labelOf returns the last path selector of v, unquoted.
func labelOf(v cue.Value) string {
	labels := v.Path().Selectors()
	if len(labels) == 0 {
		return ""
	}
	return unquote(labels[len(labels)-1].String())
}

func unquote(label string) string {
	return strings.Trim(label, `"`)
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
