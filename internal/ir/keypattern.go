package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Direction is the ordering of one index field, or of a whole scan.
type Direction int8

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// DirectionOf maps a signed number to a Direction: negative values are
// descending, everything else (including zero) ascending.
func DirectionOf(n int64) Direction {
	if n < 0 {
		return Descending
	}
	return Ascending
}

// Then composes a field direction with a scan direction.
func (d Direction) Then(scan Direction) Direction {
	if d == scan {
		return Ascending
	}
	return Descending
}

// Apply orients a three-way comparison result.
func (d Direction) Apply(cmp int) int {
	if d == Descending {
		return -cmp
	}
	return cmp
}

func (d Direction) String() string {
	if d == Descending {
		return "-1"
	}
	return "1"
}

// NaturalField is the pseudo-field that requests a collection scan.
const NaturalField = "$natural"

// KeyField is one component of a key pattern.
type KeyField struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
	// Special names a non-ordered index type such as "2d". Empty for
	// ordinary fields.
	Special string `json:"special,omitempty"`
}

// KeyPattern is the ordered field list of an index.
type KeyPattern []KeyField

// Fields returns the field names in pattern order.
func (p KeyPattern) Fields() []string {
	out := make([]string, len(p))
	for i, f := range p {
		out[i] = f.Field
	}
	return out
}

// Has reports whether field appears in the pattern.
func (p KeyPattern) Has(field string) bool {
	for _, f := range p {
		if f.Field == field {
			return true
		}
	}
	return false
}

// IsNaturalOrEmpty reports whether the pattern denotes a full collection
// scan: either no fields or a leading {$natural: ±1}.
func (p KeyPattern) IsNaturalOrEmpty() bool {
	return len(p) == 0 || p[0].Field == NaturalField
}

// Doc renders the pattern as an ordered document, e.g. {"a":1,"b":-1}.
func (p KeyPattern) Doc() IRDoc {
	doc := make(IRDoc, len(p))
	for i, f := range p {
		var v IRValue = IRInt(f.Direction)
		if f.Special != "" {
			v = IRString(f.Special)
		}
		doc[i] = IRPair{Key: f.Field, Value: v}
	}
	return doc
}

func (p KeyPattern) String() string {
	b, err := p.Doc().MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%v", []KeyField(p))
	}
	return string(b)
}

// MarshalJSON keeps the field order.
func (p KeyPattern) MarshalJSON() ([]byte, error) {
	return p.Doc().MarshalJSON()
}

// UnmarshalJSON accepts the ordered document form {"a":1,"b":-1}.
func (p *KeyPattern) UnmarshalJSON(data []byte) error {
	parsed, err := ParseKeyPattern(data)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParseKeyPattern decodes a key pattern document preserving field order.
// Field values must be integers (sign gives the direction) or strings
// naming a special index type.
func ParseKeyPattern(data []byte) (KeyPattern, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("key pattern: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("key pattern: expected object, got %v", tok)
	}

	var pattern KeyPattern
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("key pattern: %w", err)
		}
		field, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("key pattern: expected field name, got %v", tok)
		}
		if field == "" {
			return nil, fmt.Errorf("key pattern: empty field name")
		}
		if seen[field] {
			return nil, fmt.Errorf("key pattern: duplicate field %q", field)
		}
		seen[field] = true

		tok, err = dec.Token()
		if err != nil {
			return nil, fmt.Errorf("key pattern field %q: %w", field, err)
		}
		kf := KeyField{Field: field, Direction: Ascending}
		switch v := tok.(type) {
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return nil, fmt.Errorf("key pattern field %q: direction must be an integer, got %s", field, v)
			}
			kf.Direction = DirectionOf(n)
		case string:
			kf.Special = v
		default:
			return nil, fmt.Errorf("key pattern field %q: unsupported direction %v", field, tok)
		}
		pattern = append(pattern, kf)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("key pattern: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("key pattern: trailing data")
	}
	return pattern, nil
}

// MustParseKeyPattern is like ParseKeyPattern but panics on error.
// Use only in tests or with constant input.
func MustParseKeyPattern(s string) KeyPattern {
	p, err := ParseKeyPattern([]byte(s))
	if err != nil {
		panic(err)
	}
	return p
}

// IndexSpec describes one index of a namespace.
type IndexSpec struct {
	Name       string     `json:"name"`
	Namespace  string     `json:"namespace"`
	KeyPattern KeyPattern `json:"key_pattern"`
	MultiKey   bool       `json:"multi_key"`
}

// DefaultIndexName builds the conventional index name, e.g. "a_1_b_-1".
func DefaultIndexName(p KeyPattern) string {
	parts := make([]string, 0, 2*len(p))
	for _, f := range p {
		dir := f.Direction.String()
		if f.Special != "" {
			dir = f.Special
		}
		parts = append(parts, f.Field, dir)
	}
	return strings.Join(parts, "_")
}

// IndexKey is one composite index key: one value per pattern field.
type IndexKey []IRValue

func (k IndexKey) String() string {
	return String(IRArray(k))
}

// CompareKeys compares two composite keys in scan order: each component is
// oriented by its pattern field direction composed with scan.
func CompareKeys(a, b IndexKey, pattern KeyPattern, scan Direction) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		dir := Ascending
		if i < len(pattern) {
			dir = pattern[i].Direction
		}
		if c := dir.Then(scan).Apply(Compare(a[i], b[i])); c != 0 {
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

// IRDoc is an ordered document. It is not an IRValue; it carries results
// whose field order matters, such as simplified queries and bounds.
type IRDoc []IRPair

// Get returns the value of the first pair named key.
func (d IRDoc) Get(key string) (IRValue, bool) {
	for _, p := range d {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Object converts the document to an unordered IRObject.
func (d IRDoc) Object() IRObject {
	obj := make(IRObject, len(d))
	for _, p := range d {
		obj[p.Key] = p.Value
	}
	return obj
}

// MarshalJSON writes pairs in document order.
func (d IRDoc) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(p.Key)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", p.Key, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := MarshalIRValue(p.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", p.Key, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d IRDoc) String() string {
	b, err := d.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%v", []IRPair(d))
	}
	return string(b)
}
