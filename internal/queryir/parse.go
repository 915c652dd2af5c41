package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/rangeplan/internal/ir"
)

// ParseError reports a structurally invalid query document.
type ParseError struct {
	// Path is the field or operator where parsing failed ("" for the root).
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid query: %s", e.Message)
	}
	return fmt.Sprintf("invalid query at %s: %s", e.Path, e.Message)
}

func parseErrorf(path, format string, args ...any) *ParseError {
	return &ParseError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// ParseQuery converts a query document into a predicate tree.
//
// The result is always an And of the document's top-level entries, visited
// in canonical key order so that parsing is deterministic. Structural
// problems ($in without an array, $or without objects, unknown operators)
// return a *ParseError; semantic weirdness that still has a meaning (an
// unanchored regex, a $mod on strings) parses fine and simply yields a wide
// range later.
func ParseQuery(doc ir.IRObject) (Predicate, error) {
	and := And{}
	for _, key := range doc.SortedKeys() {
		preds, err := parseEntry(key, doc[key])
		if err != nil {
			return nil, err
		}
		and.Predicates = append(and.Predicates, preds...)
	}
	return and, nil
}

// MustParseQuery is like ParseQuery but panics on error.
// Use only in tests or with constant input.
func MustParseQuery(doc ir.IRObject) Predicate {
	p, err := ParseQuery(doc)
	if err != nil {
		panic(err)
	}
	return p
}

// ParseQueryJSON decodes and parses a JSON query document.
func ParseQueryJSON(data []byte) (Predicate, error) {
	v, err := ir.UnmarshalIRValue(data)
	if err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, parseErrorf("", "query must be an object, got %s", ir.KindOf(v))
	}
	return ParseQuery(obj)
}

func parseEntry(key string, value ir.IRValue) ([]Predicate, error) {
	if !strings.HasPrefix(key, "$") {
		return parseFieldValue(key, value)
	}

	switch key {
	case "$and", "$or", "$nor":
		children, err := parseClauseArray(key, value)
		if err != nil {
			return nil, err
		}
		switch key {
		case "$and":
			return []Predicate{And{Predicates: children}}, nil
		case "$or":
			return []Predicate{Or{Predicates: children}}, nil
		default:
			return []Predicate{Nor{Predicates: children}}, nil
		}
	case "$where":
		code, ok := value.(ir.IRString)
		if !ok {
			return nil, parseErrorf(key, "$where requires a string")
		}
		return []Predicate{Where{Code: string(code)}}, nil
	default:
		return nil, parseErrorf(key, "unknown top-level operator")
	}
}

// parseClauseArray parses the non-empty array of sub-documents taken by
// $and, $or and $nor.
func parseClauseArray(key string, value ir.IRValue) ([]Predicate, error) {
	arr, ok := value.(ir.IRArray)
	if !ok || len(arr) == 0 {
		return nil, parseErrorf(key, "%s requires a nonempty array", key)
	}
	children := make([]Predicate, 0, len(arr))
	for i, elem := range arr {
		obj, ok := elem.(ir.IRObject)
		if !ok {
			return nil, parseErrorf(fmt.Sprintf("%s[%d]", key, i), "%s array must contain objects", key)
		}
		child, err := ParseQuery(obj)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// isOperatorObject reports whether v is an object whose keys are operators.
// Objects mixing operator and plain keys are rejected.
func isOperatorObject(path string, v ir.IRValue) (ir.IRObject, bool, error) {
	obj, ok := v.(ir.IRObject)
	if !ok || len(obj) == 0 {
		return nil, false, nil
	}
	ops, plain := 0, 0
	for k := range obj {
		if strings.HasPrefix(k, "$") {
			ops++
		} else {
			plain++
		}
	}
	switch {
	case ops == 0:
		return nil, false, nil
	case plain > 0:
		return nil, false, parseErrorf(path, "cannot mix operators and fields in one object")
	}
	return obj, true, nil
}

func parseFieldValue(path string, value ir.IRValue) ([]Predicate, error) {
	opsObj, isOps, err := isOperatorObject(path, value)
	if err != nil {
		return nil, err
	}
	if !isOps {
		return []Predicate{Field{Path: path, Ops: []Op{{Kind: OpEq, Value: ir.Clone(value)}}}}, nil
	}

	var out []Predicate
	field := Field{Path: path}
	for _, key := range opsObj.SortedKeys() {
		switch key {
		case "$not":
			not, err := parseNot(path, opsObj[key])
			if err != nil {
				return nil, err
			}
			out = append(out, not)
		case "$options":
			if _, ok := opsObj["$regex"]; !ok {
				return nil, parseErrorf(path, "$options needs a $regex")
			}
		default:
			op, err := parseOp(path, OpKind(key), opsObj[key], opsObj)
			if err != nil {
				return nil, err
			}
			field.Ops = append(field.Ops, op)
		}
	}
	if len(field.Ops) > 0 {
		out = append([]Predicate{field}, out...)
	}
	return out, nil
}

func parseNot(path string, value ir.IRValue) (Not, error) {
	opsObj, isOps, err := isOperatorObject(path, value)
	if err != nil {
		return Not{}, err
	}
	if !isOps {
		return Not{}, parseErrorf(path, "$not requires an operator object")
	}
	not := Not{Path: path}
	for _, key := range opsObj.SortedKeys() {
		switch key {
		case "$not":
			return Not{}, parseErrorf(path, "$not cannot be nested")
		case "$options":
			if _, ok := opsObj["$regex"]; !ok {
				return Not{}, parseErrorf(path, "$options needs a $regex")
			}
			continue
		}
		op, err := parseOp(path, OpKind(key), opsObj[key], opsObj)
		if err != nil {
			return Not{}, err
		}
		not.Ops = append(not.Ops, op)
	}
	return not, nil
}

func parseOp(path string, kind OpKind, value ir.IRValue, siblings ir.IRObject) (Op, error) {
	op := Op{Kind: kind, Value: ir.Clone(value)}
	at := path + "." + string(kind)

	switch kind {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
	case OpIn, OpNin, OpAll:
		arr, ok := value.(ir.IRArray)
		if !ok {
			return Op{}, parseErrorf(at, "%s requires an array", kind)
		}
		var elemMatches []Predicate
		for i, elem := range arr {
			obj, ok := elem.(ir.IRObject)
			if !ok {
				continue
			}
			elemAt := fmt.Sprintf("%s[%d]", at, i)
			if _, isRegex := obj["$regex"]; isRegex {
				if _, ok := obj["$regex"].(ir.IRString); !ok {
					return Op{}, parseErrorf(elemAt, "$regex requires a string")
				}
			}
			body, isElem := obj["$elemMatch"]
			if !isElem {
				continue
			}
			if kind != OpAll {
				return Op{}, parseErrorf(elemAt, "$elemMatch not allowed within %s", kind)
			}
			bodyObj, ok := body.(ir.IRObject)
			if !ok {
				return Op{}, parseErrorf(elemAt, "$elemMatch requires an object")
			}
			sub, err := parseElemMatchBody(elemAt, bodyObj)
			if err != nil {
				return Op{}, err
			}
			elemMatches = append(elemMatches, Field{Ops: []Op{{Kind: OpElemMatch, Value: ir.Clone(bodyObj), Sub: sub}}})
		}
		if len(elemMatches) > 0 {
			op.Sub = And{Predicates: elemMatches}
		}
	case OpExists:
	case OpMod:
		arr, ok := value.(ir.IRArray)
		if !ok || len(arr) != 2 {
			return Op{}, parseErrorf(at, "$mod requires [divisor, remainder]")
		}
		d, ok := arr[0].(ir.IRInt)
		if !ok || d == 0 {
			return Op{}, parseErrorf(at, "$mod divisor must be a nonzero integer")
		}
		if _, ok := arr[1].(ir.IRInt); !ok {
			return Op{}, parseErrorf(at, "$mod remainder must be an integer")
		}
	case OpRegex:
		pattern, ok := value.(ir.IRString)
		if !ok {
			return Op{}, parseErrorf(at, "$regex requires a string")
		}
		op.Value = pattern
		if opts, ok := siblings["$options"]; ok {
			s, ok := opts.(ir.IRString)
			if !ok {
				return Op{}, parseErrorf(at, "$options requires a string")
			}
			op.Options = string(s)
		}
	case OpSize:
		if _, ok := value.(ir.IRInt); !ok {
			return Op{}, parseErrorf(at, "$size requires an integer")
		}
	case OpType:
		if _, err := TypeKind(value); err != nil {
			return Op{}, parseErrorf(at, "%v", err)
		}
	case OpElemMatch:
		obj, ok := value.(ir.IRObject)
		if !ok {
			return Op{}, parseErrorf(at, "$elemMatch requires an object")
		}
		sub, err := parseElemMatchBody(at, obj)
		if err != nil {
			return Op{}, err
		}
		op.Sub = sub
	case OpNear, OpWithin:
	default:
		return Op{}, parseErrorf(at, "unknown operator")
	}
	return op, nil
}

func parseElemMatchBody(path string, obj ir.IRObject) (Predicate, error) {
	if _, isOps, err := isOperatorObject(path, obj); err != nil {
		return nil, err
	} else if isOps {
		preds, err := parseFieldValue("", obj)
		if err != nil {
			return nil, err
		}
		return And{Predicates: preds}, nil
	}
	return ParseQuery(obj)
}

// typeCodes maps the numeric $type codes to value kinds.
var typeCodes = map[int64]ir.Kind{
	-1:  ir.KindMinKey,
	1:   ir.KindInt, // double
	2:   ir.KindString,
	3:   ir.KindObject,
	4:   ir.KindArray,
	8:   ir.KindBool,
	10:  ir.KindNull,
	16:  ir.KindInt,
	18:  ir.KindInt,
	127: ir.KindMaxKey,
}

var typeAliases = map[string]ir.Kind{
	"minKey": ir.KindMinKey,
	"null":   ir.KindNull,
	"int":    ir.KindInt,
	"long":   ir.KindInt,
	"number": ir.KindInt,
	"string": ir.KindString,
	"object": ir.KindObject,
	"array":  ir.KindArray,
	"bool":   ir.KindBool,
	"maxKey": ir.KindMaxKey,
}

// TypeKind resolves a $type operand (numeric code or alias) to a kind.
func TypeKind(v ir.IRValue) (ir.Kind, error) {
	switch t := v.(type) {
	case ir.IRInt:
		if k, ok := typeCodes[int64(t)]; ok {
			return k, nil
		}
		return 0, fmt.Errorf("unknown $type code %d", t)
	case ir.IRString:
		if k, ok := typeAliases[string(t)]; ok {
			return k, nil
		}
		return 0, fmt.Errorf("unknown $type alias %q", string(t))
	}
	return 0, fmt.Errorf("$type requires a number or string")
}

// Truthy reports the boolean meaning of an operand such as $exists: false,
// null and 0 are false; everything else is true.
func Truthy(v ir.IRValue) bool {
	switch t := v.(type) {
	case ir.IRBool:
		return bool(t)
	case ir.IRInt:
		return t != 0
	case ir.IRNull, nil:
		return false
	}
	return true
}
