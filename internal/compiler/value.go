package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/rangeplan/internal/ir"
)

// ConvertValue converts a concrete CUE value to its IR form.
// Floats are rejected: the value model is integer-only.
func ConvertValue(v cue.Value) (ir.IRValue, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if !v.IsConcrete() {
		return nil, &CompileError{
			Field:   v.Path().String(),
			Message: "value must be concrete",
			Pos:     v.Pos(),
		}
	}

	switch v.Kind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for iter.Next() {
			elem, err := ConvertValue(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			elem, err := ConvertValue(iter.Value())
			if err != nil {
				return nil, err
			}
			obj[unquote(iter.Label())] = elem
		}
		return obj, nil
	case cue.FloatKind:
		return nil, &CompileError{
			Field:   v.Path().String(),
			Message: "float values are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   v.Path().String(),
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}
