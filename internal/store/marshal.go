package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/rangeplan/internal/ir"
)

// marshalObject converts an IRObject to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalObject(obj ir.IRObject) (string, error) {
	if obj == nil {
		obj = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// unmarshalObject parses canonical JSON TEXT to IRObject.
// Uses ir.IRObject.UnmarshalJSON which handles large integers via json.Number
// to avoid float64 precision loss for values > 2^53.
func unmarshalObject(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return obj, nil
}

// marshalStrings stores a string list as a canonical JSON array.
func marshalStrings(list []string) (string, error) {
	arr := make(ir.IRArray, len(list))
	for i, s := range list {
		arr[i] = ir.IRString(s)
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal strings: %w", err)
	}
	return string(data), nil
}

// unmarshalStrings parses a JSON array of strings. Always returns a
// non-nil slice.
func unmarshalStrings(data string) ([]string, error) {
	out := []string{}
	if data == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal strings: %w", err)
	}
	return out, nil
}

// marshalKeyPattern stores a key pattern in field order, e.g. {"a":1,"b":-1}.
func marshalKeyPattern(p ir.KeyPattern) (string, error) {
	data, err := p.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal key pattern: %w", err)
	}
	return string(data), nil
}

func unmarshalKeyPattern(data string) (ir.KeyPattern, error) {
	p, err := ir.ParseKeyPattern([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal key pattern: %w", err)
	}
	return p, nil
}
