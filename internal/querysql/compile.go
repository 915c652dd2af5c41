package querysql

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/keyrange"
)

// ErrUnsupportedPath is returned for field names that cannot be written as
// a SQLite JSON path.
var ErrUnsupportedPath = errors.New("field cannot be expressed as a JSON path")

// SQLCompiler compiles FieldRangeSets to parameterized SQLite predicates
// over a JSON document column.
//
// The predicate is a candidate filter: it admits every document whose index
// keys could fall inside the ranges, and possibly more. Object bounds are
// checked by type only, and a field holding an array always passes because
// its elements are the keys. Callers re-check candidates against the ranges.
//
// CRITICAL: ALL statements include ORDER BY for deterministic results.
// CRITICAL: All values and JSON paths are parameterized, never interpolated.
type SQLCompiler struct {
	// Column holds the document JSON. Defaults to "body".
	Column string
}

// NewSQLCompiler creates a compiler over the documents.body column.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{Column: "body"}
}

// CompileWhere converts frs to a WHERE fragment and its parameters.
// Returns "" when frs places no restriction and "0" when no document can
// match.
func (c *SQLCompiler) CompileWhere(frs *keyrange.FieldRangeSet) (string, []any, error) {
	if frs == nil {
		return "", nil, fmt.Errorf("cannot compile nil range set")
	}
	if !frs.MatchPossible() {
		return "0", nil, nil
	}

	var parts []string
	var params []any
	for _, field := range frs.Fields() {
		r := frs.Range(field)
		if r.Universal() || r.Special() != "" {
			continue
		}
		sql, fieldParams, err := c.compileRange(field, r)
		if err != nil {
			return "", nil, fmt.Errorf("compile %q: %w", field, err)
		}
		parts = append(parts, sql)
		params = append(params, fieldParams...)
	}
	return strings.Join(parts, " AND "), params, nil
}

// CompileSelect returns a complete statement reading the candidate
// documents of namespace ns.
//
// MANDATORY: Includes ORDER BY seq, id for deterministic results.
func (c *SQLCompiler) CompileSelect(ns string, frs *keyrange.FieldRangeSet) (string, []any, error) {
	where, params, err := c.CompileWhere(frs)
	if err != nil {
		return "", nil, err
	}

	sql := "SELECT id, " + c.column() + ", seq FROM documents WHERE namespace = ?"
	if where != "" {
		sql += " AND " + where
	}
	sql += " ORDER BY " + stableOrderKey()

	return sql, append([]any{ns}, params...), nil
}

// stableOrderKey matches the order documents were written in.
// COLLATE BINARY ensures deterministic text ordering across SQLite versions.
func stableOrderKey() string {
	return "seq ASC, id ASC COLLATE BINARY"
}

func (c *SQLCompiler) column() string {
	if c.Column == "" {
		return "body"
	}
	return c.Column
}

// fieldClause accumulates OR-ed alternatives for one field.
type fieldClause struct {
	col    string
	path   string
	parts  []string
	params []any
	guards map[string]bool
}

func (f *fieldClause) add(sql string, params ...any) {
	f.parts = append(f.parts, sql)
	f.params = append(f.params, params...)
}

// typeIs adds a type-only alternative once per JSON type.
func (f *fieldClause) typeIs(jsonType string) {
	if f.guards[jsonType] {
		return
	}
	f.guards[jsonType] = true
	f.add(fmt.Sprintf("json_type(%s, ?) = '%s'", f.col, jsonType), f.path)
}

func (c *SQLCompiler) compileRange(field string, r *keyrange.FieldRange) (string, []any, error) {
	path, err := jsonPath(field)
	if err != nil {
		return "", nil, err
	}
	f := &fieldClause{col: c.column(), path: path, guards: map[string]bool{}}

	for _, iv := range r.Intervals() {
		lo, hi := ir.KindOf(iv.Lower.Value), ir.KindOf(iv.Upper.Value)
		for k := lo; k <= hi; k++ {
			if k == hi && k != lo && opensBracket(iv.Upper) {
				continue
			}
			if err := f.addKind(k, iv); err != nil {
				return "", nil, err
			}
		}
	}

	// Arrays anywhere along the path expand to per-element keys.
	prefixes, err := arrayPrefixes(field)
	if err != nil {
		return "", nil, err
	}
	for _, p := range prefixes {
		if p == path {
			f.typeIs("array")
			continue
		}
		f.add(fmt.Sprintf("json_type(%s, ?) = 'array'", f.col), p)
	}

	return "(" + strings.Join(f.parts, " OR ") + ")", f.params, nil
}

// addKind adds the part of iv that falls inside kind k's bracket.
func (f *fieldClause) addKind(k ir.Kind, iv keyrange.Interval) error {
	switch k {
	case ir.KindNull:
		// A missing field indexes as null.
		if iv.Contains(ir.IRNull{}) {
			f.add(fmt.Sprintf("COALESCE(json_type(%s, ?), 'null') = 'null'", f.col), f.path)
		}
	case ir.KindInt:
		return f.addScalar(k, "integer", iv)
	case ir.KindString:
		return f.addScalar(k, "text", iv)
	case ir.KindObject:
		f.typeIs("object")
	case ir.KindArray:
		f.typeIs("array")
	case ir.KindBool:
		f.addBool(iv)
	}
	// MinKey and MaxKey never occur in stored documents.
	return nil
}

// addScalar adds a typed comparison, bounded on each side that lies inside
// the bracket.
func (f *fieldClause) addScalar(k ir.Kind, jsonType string, iv keyrange.Interval) error {
	expr := fmt.Sprintf("json_extract(%s, ?)", f.col)
	conds := []string{fmt.Sprintf("json_type(%s, ?) = '%s'", f.col, jsonType)}
	params := []any{f.path}

	if iv.Equality() {
		v, err := irValueToParam(iv.Lower.Value)
		if err != nil {
			return err
		}
		f.add("("+conds[0]+" AND "+expr+" = ?)", f.path, f.path, v)
		return nil
	}

	if ir.KindOf(iv.Lower.Value) == k && !atBracketStart(iv.Lower) {
		v, err := irValueToParam(iv.Lower.Value)
		if err != nil {
			return err
		}
		op := ">"
		if iv.Lower.Inclusive {
			op = ">="
		}
		conds = append(conds, expr+" "+op+" ?")
		params = append(params, f.path, v)
	}
	if ir.KindOf(iv.Upper.Value) == k && !atBracketEnd(iv.Upper) {
		v, err := irValueToParam(iv.Upper.Value)
		if err != nil {
			return err
		}
		op := "<"
		if iv.Upper.Inclusive {
			op = "<="
		}
		conds = append(conds, expr+" "+op+" ?")
		params = append(params, f.path, v)
	}

	if len(conds) == 1 {
		f.typeIs(jsonType)
		return nil
	}
	f.add("("+strings.Join(conds, " AND ")+")", params...)
	return nil
}

func (f *fieldClause) addBool(iv keyrange.Interval) {
	falseOK := iv.Contains(ir.IRBool(false))
	trueOK := iv.Contains(ir.IRBool(true))
	switch {
	case falseOK && trueOK:
		f.add(fmt.Sprintf("json_type(%s, ?) IN ('true', 'false')", f.col), f.path)
	case trueOK:
		f.typeIs("true")
	case falseOK:
		f.typeIs("false")
	}
}

// opensBracket reports an exclusive upper bound at the first value of its
// kind, which admits nothing of that kind.
func opensBracket(b keyrange.Bound) bool {
	return !b.Inclusive && ir.Equal(b.Value, ir.MinForType(ir.KindOf(b.Value)))
}

func atBracketStart(b keyrange.Bound) bool {
	return b.Inclusive && ir.Equal(b.Value, ir.MinForType(ir.KindOf(b.Value)))
}

func atBracketEnd(b keyrange.Bound) bool {
	if v, ok := b.Value.(ir.IRInt); ok {
		return b.Inclusive && int64(v) == math.MaxInt64
	}
	return false
}

// jsonPath converts a dotted field name to a SQLite JSON path. Segments
// that are not plain identifiers are quoted.
func jsonPath(field string) (string, error) {
	if field == "" {
		return "", fmt.Errorf("%w: empty field", ErrUnsupportedPath)
	}
	var b strings.Builder
	b.WriteByte('$')
	for _, seg := range strings.Split(field, ".") {
		if seg == "" || strings.ContainsAny(seg, `"\`) {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedPath, field)
		}
		b.WriteByte('.')
		if isIdent(seg) {
			b.WriteString(seg)
		} else {
			b.WriteByte('"')
			b.WriteString(seg)
			b.WriteByte('"')
		}
	}
	return b.String(), nil
}

// arrayPrefixes returns the JSON paths of every prefix of field, the field
// itself last.
func arrayPrefixes(field string) ([]string, error) {
	segs := strings.Split(field, ".")
	out := make([]string, 0, len(segs))
	for i := range segs {
		p, err := jsonPath(strings.Join(segs[:i+1], "."))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func isIdent(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// irValueToParam converts an ir.IRValue to a Go native type for a SQL
// parameter. Arrays and objects are not directly supported as parameters.
func irValueToParam(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRBool:
		return bool(val), nil
	case ir.IRNull:
		return nil, nil
	case ir.IRArray:
		return nil, fmt.Errorf("IRArray cannot be used as SQL parameter directly")
	case ir.IRObject:
		return nil, fmt.Errorf("IRObject cannot be used as SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}
