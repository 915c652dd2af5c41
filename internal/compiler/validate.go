package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/queryir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// NamespaceSpec errors (E101-E109)
	ErrInvalidNamespace    = "E101" // name must be "db.collection"
	ErrEmptyKeyPattern     = "E102" // index key has no fields
	ErrNaturalInIndex      = "E103" // $natural is not an index field
	ErrDuplicateKeyField   = "E104" // field repeated within one key
	ErrDuplicateName       = "E105" // duplicate index or namespace name
	ErrDuplicateKeyPattern = "E106" // two indexes with the same key
	ErrUnknownIndexType    = "E107" // special index type other than 2d
	ErrInvalidDocument     = "E108" // seed document has a bad _id

	// QuerySpec errors (E110-E119)
	ErrUndeclaredNamespace = "E110" // query names an undeclared namespace
	ErrUnknownHint         = "E111" // hint is not an index of the namespace
	ErrInvalidFilter       = "E112" // filter does not parse
	ErrInvalidSort         = "E113" // sort uses $natural or a special type
)

// SpecialIndexTypes lists the recognized non-ordered index types.
var SpecialIndexTypes = map[string]bool{"2d": true}

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates compiled specs against schema rules.
// Returns all errors found (does not fail-fast).
// Supports Catalog, NamespaceSpec and QuerySpec. A QuerySpec on its own is
// checked without a catalog, so namespace and hint references are skipped.
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *Catalog:
		return validateCatalog(spec)
	case Catalog:
		return validateCatalog(&spec)
	case *NamespaceSpec:
		return validateNamespace(spec, "")
	case NamespaceSpec:
		return validateNamespace(&spec, "")
	case *QuerySpec:
		return validateQuery(spec, "", nil)
	case QuerySpec:
		return validateQuery(&spec, "", nil)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

func validateCatalog(cat *Catalog) []ValidationError {
	var errs []ValidationError

	seen := make(map[string]bool)
	for i := range cat.Namespaces {
		ns := &cat.Namespaces[i]
		prefix := fmt.Sprintf("namespaces[%d].", i)
		if seen[ns.Name] {
			errs = append(errs, ValidationError{
				Field:   prefix + "name",
				Message: fmt.Sprintf("duplicate namespace: %q", ns.Name),
				Code:    ErrDuplicateName,
			})
		}
		seen[ns.Name] = true
		errs = append(errs, validateNamespace(ns, prefix)...)
	}

	for i := range cat.Queries {
		errs = append(errs, validateQuery(&cat.Queries[i], fmt.Sprintf("queries[%d].", i), cat)...)
	}
	return errs
}

// validateNamespace validates a namespace and its indexes.
func validateNamespace(ns *NamespaceSpec, prefix string) []ValidationError {
	var errs []ValidationError

	// E101: "db.collection"
	db, coll, ok := strings.Cut(ns.Name, ".")
	if !ok || db == "" || coll == "" {
		errs = append(errs, ValidationError{
			Field:   prefix + "name",
			Message: fmt.Sprintf("namespace %q must have the form \"db.collection\"", ns.Name),
			Code:    ErrInvalidNamespace,
		})
	}

	names := make(map[string]bool)
	patterns := make(map[string]string)
	for i, idx := range ns.Indexes {
		at := fmt.Sprintf("%sindexes[%d]", prefix, i)

		// E105: duplicate index name
		if names[idx.Name] {
			errs = append(errs, ValidationError{
				Field:   at + ".name",
				Message: fmt.Sprintf("duplicate index name: %q", idx.Name),
				Code:    ErrDuplicateName,
			})
		}
		names[idx.Name] = true

		errs = append(errs, validateKeyPattern(idx.KeyPattern, at+".key")...)

		// E106: same key under two names
		key := idx.KeyPattern.String()
		if other, dup := patterns[key]; dup && len(idx.KeyPattern) > 0 {
			errs = append(errs, ValidationError{
				Field:   at + ".key",
				Message: fmt.Sprintf("index %q repeats the key of %q", idx.Name, other),
				Code:    ErrDuplicateKeyPattern,
			})
		} else if !dup {
			patterns[key] = idx.Name
		}
	}

	// E108: _id must be a string or an int when present
	for i, doc := range ns.Documents {
		id, ok := doc["_id"]
		if !ok {
			continue
		}
		switch id.(type) {
		case ir.IRString, ir.IRInt:
		default:
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%sdocuments[%d]._id", prefix, i),
				Message: fmt.Sprintf("_id must be a string or int, got %s", ir.String(id)),
				Code:    ErrInvalidDocument,
			})
		}
	}

	return errs
}

// validateKeyPattern checks one index key.
func validateKeyPattern(p ir.KeyPattern, at string) []ValidationError {
	var errs []ValidationError

	// E102: at least one field
	if len(p) == 0 {
		return []ValidationError{{
			Field:   at,
			Message: "index key must name at least one field",
			Code:    ErrEmptyKeyPattern,
		}}
	}

	fields := make(map[string]bool)
	for j, kf := range p {
		fieldAt := fmt.Sprintf("%s[%d]", at, j)

		// E103: $natural is a scan order, not an index
		if kf.Field == ir.NaturalField {
			errs = append(errs, ValidationError{
				Field:   fieldAt,
				Message: "$natural cannot be indexed",
				Code:    ErrNaturalInIndex,
			})
		}

		// E104: duplicate field
		if fields[kf.Field] {
			errs = append(errs, ValidationError{
				Field:   fieldAt,
				Message: fmt.Sprintf("duplicate key field %q", kf.Field),
				Code:    ErrDuplicateKeyField,
			})
		}
		fields[kf.Field] = true

		// E107: special index type
		if kf.Special != "" && !SpecialIndexTypes[kf.Special] {
			errs = append(errs, ValidationError{
				Field:   fieldAt,
				Message: fmt.Sprintf("unknown index type %q for field %q", kf.Special, kf.Field),
				Code:    ErrUnknownIndexType,
			})
		}
	}
	return errs
}

// validateQuery validates a named query. cat may be nil.
func validateQuery(q *QuerySpec, prefix string, cat *Catalog) []ValidationError {
	var errs []ValidationError

	// E112: filter must parse
	if _, err := queryir.ParseQuery(q.Filter); err != nil {
		errs = append(errs, ValidationError{
			Field:   prefix + "filter",
			Message: err.Error(),
			Code:    ErrInvalidFilter,
		})
	}

	// E113: sort is an ordinary key
	for j, kf := range q.Sort {
		if kf.Field == ir.NaturalField && len(q.Sort) > 1 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%ssort[%d]", prefix, j),
				Message: "$natural must be the only sort field",
				Code:    ErrInvalidSort,
			})
		}
		if kf.Special != "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%ssort[%d]", prefix, j),
				Message: fmt.Sprintf("sort field %q needs a direction, not %q", kf.Field, kf.Special),
				Code:    ErrInvalidSort,
			})
		}
	}

	if cat == nil {
		return errs
	}

	// E110: namespace must be declared
	ns, ok := cat.Namespace(q.Namespace)
	if !ok {
		return append(errs, ValidationError{
			Field:   prefix + "namespace",
			Message: fmt.Sprintf("query %q uses undeclared namespace %q", q.Name, q.Namespace),
			Code:    ErrUndeclaredNamespace,
		})
	}

	// E111: hint must name an index (or $natural)
	if q.Hint != "" && q.Hint != ir.NaturalField {
		found := false
		for _, idx := range ns.Indexes {
			if idx.Name == q.Hint {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, ValidationError{
				Field:   prefix + "hint",
				Message: fmt.Sprintf("hint %q is not an index of %q", q.Hint, q.Namespace),
				Code:    ErrUnknownHint,
			})
		}
	}

	return errs
}
