package ir

import (
	"fmt"
	"math"
	"strings"
)

// Kind identifies a value's type bracket. Kinds are declared in canonical
// sort order: every value of a lower kind sorts before every value of a
// higher kind.
type Kind int

const (
	KindMinKey Kind = iota
	KindNull
	KindInt
	KindString
	KindObject
	KindArray
	KindBool
	KindMaxKey
)

var kindNames = map[Kind]string{
	KindMinKey: "minKey",
	KindNull:   "null",
	KindInt:    "int",
	KindString: "string",
	KindObject: "object",
	KindArray:  "array",
	KindBool:   "bool",
	KindMaxKey: "maxKey",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// KindOf returns the type bracket of v.
func KindOf(v IRValue) Kind {
	switch v.(type) {
	case IRMinKey:
		return KindMinKey
	case IRNull, nil:
		return KindNull
	case IRInt:
		return KindInt
	case IRString:
		return KindString
	case IRObject:
		return KindObject
	case IRArray:
		return KindArray
	case IRBool:
		return KindBool
	case IRMaxKey:
		return KindMaxKey
	}
	panic(fmt.Sprintf("ir: unknown IRValue type %T", v))
}

// IsSimple reports whether values of kind k have a finite, directly
// representable type bracket. One-sided ranges on simple kinds can be
// closed at the bracket edge without losing matches.
func (k Kind) IsSimple() bool {
	return k == KindInt || k == KindString || k == KindBool
}

// Compare is the total order over IRValues: kind first, then value.
// Objects compare by their sorted key/value sequence, arrays element-wise.
func Compare(a, b IRValue) int {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}

	switch av := a.(type) {
	case IRInt:
		bv := b.(IRInt)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case IRString:
		return strings.Compare(string(av), string(b.(IRString)))
	case IRBool:
		bv := b.(IRBool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		}
		return 1
	case IRArray:
		return compareArrays(av, b.(IRArray))
	case IRObject:
		return compareObjects(av, b.(IRObject))
	}
	// MinKey, MaxKey and Null have a single value each.
	return 0
}

// Equal reports whether a and b are the same value under Compare.
func Equal(a, b IRValue) bool {
	return Compare(a, b) == 0
}

func compareArrays(a, b IRArray) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func compareObjects(a, b IRObject) int {
	ak, bk := a.SortedKeys(), b.SortedKeys()
	for i := 0; i < len(ak) && i < len(bk); i++ {
		if c := compareKeysRFC8785(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := Compare(a[ak[i]], b[bk[i]]); c != 0 {
			return c
		}
	}
	switch {
	case len(ak) < len(bk):
		return -1
	case len(ak) > len(bk):
		return 1
	}
	return 0
}

// MinForType returns the smallest value of kind k. The bound is always
// inclusive.
func MinForType(k Kind) IRValue {
	switch k {
	case KindMinKey:
		return IRMinKey{}
	case KindNull:
		return IRNull{}
	case KindInt:
		return IRInt(math.MinInt64)
	case KindString:
		return IRString("")
	case KindObject:
		return IRObject{}
	case KindArray:
		return IRArray{}
	case KindBool:
		return IRBool(false)
	default:
		return IRMaxKey{}
	}
}

// MaxForType returns the upper edge of kind k's bracket and whether that
// edge is itself a member of the bracket. Kinds without a largest value
// (strings, objects, arrays) report the next kind's minimum, exclusive.
func MaxForType(k Kind) (IRValue, bool) {
	switch k {
	case KindMinKey:
		return IRMinKey{}, true
	case KindNull:
		return IRNull{}, true
	case KindInt:
		return IRInt(math.MaxInt64), true
	case KindString:
		return MinForType(KindObject), false
	case KindObject:
		return MinForType(KindArray), false
	case KindArray:
		return MinForType(KindBool), false
	case KindBool:
		return IRBool(true), true
	default:
		return IRMaxKey{}, true
	}
}
