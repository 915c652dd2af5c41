package ir

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrParallelArrays is returned when more than one field of a compound key
// pattern resolves to an array in the same document.
var ErrParallelArrays = errors.New("cannot index parallel arrays")

// ExtractKeys returns the canonical set of index keys a document produces
// for pattern, sorted in index order and without duplicates.
//
// Array values expand to one key per element. An empty array and a missing
// field both index as null. At most one pattern field may expand.
func ExtractKeys(doc IRObject, pattern KeyPattern) ([]IndexKey, error) {
	perField := make([][]IRValue, len(pattern))
	expanded := ""
	for i, f := range pattern {
		vals, isArray := lookupPath(doc, strings.Split(f.Field, "."))
		if isArray {
			if expanded != "" {
				return nil, fmt.Errorf("%w: %q and %q", ErrParallelArrays, expanded, f.Field)
			}
			expanded = f.Field
		}
		perField[i] = vals
	}

	keys := []IndexKey{{}}
	for _, vals := range perField {
		next := make([]IndexKey, 0, len(keys)*len(vals))
		for _, prefix := range keys {
			for _, v := range vals {
				key := make(IndexKey, len(prefix), len(prefix)+1)
				copy(key, prefix)
				next = append(next, append(key, v))
			}
		}
		keys = next
	}

	slices.SortFunc(keys, func(a, b IndexKey) int {
		return CompareKeys(a, b, pattern, Ascending)
	})
	return slices.CompactFunc(keys, func(a, b IndexKey) bool {
		return CompareKeys(a, b, pattern, Ascending) == 0
	}), nil
}

// lookupPath resolves a dotted path. It reports whether any array was
// expanded along the way.
func lookupPath(v IRValue, path []string) ([]IRValue, bool) {
	if len(path) == 0 {
		arr, ok := v.(IRArray)
		if !ok {
			return []IRValue{v}, false
		}
		if len(arr) == 0 {
			return []IRValue{IRNull{}}, true
		}
		return append([]IRValue(nil), arr...), true
	}

	switch cur := v.(type) {
	case IRObject:
		next, ok := cur[path[0]]
		if !ok {
			return []IRValue{IRNull{}}, false
		}
		return lookupPath(next, path[1:])
	case IRArray:
		if idx, err := strconv.Atoi(path[0]); err == nil && idx >= 0 {
			if idx >= len(cur) {
				return []IRValue{IRNull{}}, false
			}
			return lookupPath(cur[idx], path[1:])
		}
		var out []IRValue
		for _, elem := range cur {
			if _, ok := elem.(IRObject); !ok {
				continue
			}
			vals, _ := lookupPath(elem, path)
			out = append(out, vals...)
		}
		if len(out) == 0 {
			out = []IRValue{IRNull{}}
		}
		return out, true
	default:
		return []IRValue{IRNull{}}, false
	}
}
