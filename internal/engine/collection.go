package engine

import (
	"fmt"

	"github.com/tidwall/btree"

	"github.com/roach88/rangeplan/internal/ir"
)

// IDField holds a document's identity.
const IDField = "_id"

// entry is one index key pointing at one document. Seek targets never
// enter a tree: bias -1 sorts before every entry with the same key, +1
// after, so a seek can land before or after a run of equal keys.
type entry struct {
	key  ir.IndexKey
	id   string
	bias int8
}

// index is one ordered index of a collection. Entries are kept in
// ascending index order (field directions applied); descending scans walk
// the tree backwards.
type index struct {
	spec     ir.IndexSpec
	tree     *btree.BTreeG[entry]
	multiKey bool
}

func newIndex(spec ir.IndexSpec) *index {
	pattern := spec.KeyPattern
	return &index{
		spec:     spec,
		multiKey: spec.MultiKey,
		tree: btree.NewBTreeG(func(a, b entry) bool {
			if c := ir.CompareKeys(a.key, b.key, pattern, ir.Ascending); c != 0 {
				return c < 0
			}
			if a.bias != b.bias {
				return a.bias < b.bias
			}
			return a.id < b.id
		}),
	}
}

// Collection holds the documents of one namespace and their indexes.
// It implements keyrange.Catalog; index numbers are declaration order.
//
// A Collection is not safe for concurrent use. The Engine owns it and
// mutates it only from the goroutine that drives the engine.
type Collection struct {
	ns      string
	docs    map[string]ir.IRObject
	order   []string
	indexes []*index
}

// NewCollection creates an empty collection for namespace ns.
func NewCollection(ns string) *Collection {
	return &Collection{ns: ns, docs: make(map[string]ir.IRObject)}
}

// Namespace returns the collection's namespace.
func (c *Collection) Namespace() string { return c.ns }

// IndexCount implements keyrange.Catalog.
func (c *Collection) IndexCount() int { return len(c.indexes) }

// IsMultiKey implements keyrange.Catalog.
func (c *Collection) IsMultiKey(idxNo int) bool { return c.indexes[idxNo].multiKey }

// Len returns the number of documents.
func (c *Collection) Len() int { return len(c.order) }

// Indexes returns the index specs in declaration order, with current
// multi-key flags.
func (c *Collection) Indexes() []ir.IndexSpec {
	out := make([]ir.IndexSpec, len(c.indexes))
	for i, ix := range c.indexes {
		out[i] = ix.spec
		out[i].MultiKey = ix.multiKey
	}
	return out
}

// IndexNo returns the number of the index called name.
func (c *Collection) IndexNo(name string) (int, bool) {
	for i, ix := range c.indexes {
		if ix.spec.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Document returns a stored document.
func (c *Collection) Document(id string) (ir.IRObject, bool) {
	doc, ok := c.docs[id]
	return doc, ok
}

// Documents returns the documents in insertion order.
func (c *Collection) Documents() []ir.Document {
	out := make([]ir.Document, len(c.order))
	for i, id := range c.order {
		out[i] = ir.Document{ID: id, Body: c.docs[id]}
	}
	return out
}

// AddIndex declares an index and indexes the existing documents.
// Redeclaring an index with the same name and key pattern is a no-op.
func (c *Collection) AddIndex(spec ir.IndexSpec) error {
	if len(spec.KeyPattern) == 0 || spec.KeyPattern.IsNaturalOrEmpty() {
		return &RuntimeError{
			Code:      ErrCodeInvalidIndex,
			Message:   "index needs at least one key field",
			Namespace: c.ns,
			Index:     spec.Name,
		}
	}
	if spec.Name == "" {
		spec.Name = ir.DefaultIndexName(spec.KeyPattern)
	}
	spec.Namespace = c.ns

	if idxNo, ok := c.IndexNo(spec.Name); ok {
		if c.indexes[idxNo].spec.KeyPattern.String() == spec.KeyPattern.String() {
			return nil
		}
		return NewDuplicateIndexError(c.ns, spec.Name)
	}

	ix := newIndex(spec)
	for _, id := range c.order {
		keys, err := ir.ExtractKeys(c.docs[id], spec.KeyPattern)
		if err != nil {
			return NewInvalidDocumentError(c.ns, id, err)
		}
		ix.add(id, keys)
	}
	c.indexes = append(c.indexes, ix)
	return nil
}

// Insert adds a document under id. Every index is updated or none is:
// keys are extracted for all indexes before any tree changes. Returns the
// names of indexes that became multi-key.
func (c *Collection) Insert(id string, doc ir.IRObject) ([]string, error) {
	if _, dup := c.docs[id]; dup {
		return nil, NewDuplicateIDError(c.ns, id)
	}

	perIndex := make([][]ir.IndexKey, len(c.indexes))
	for i, ix := range c.indexes {
		keys, err := ir.ExtractKeys(doc, ix.spec.KeyPattern)
		if err != nil {
			return nil, NewInvalidDocumentError(c.ns, id, err)
		}
		perIndex[i] = keys
	}

	var becameMultiKey []string
	for i, ix := range c.indexes {
		if ix.add(id, perIndex[i]) {
			becameMultiKey = append(becameMultiKey, ix.spec.Name)
		}
	}
	c.docs[id] = doc
	c.order = append(c.order, id)
	return becameMultiKey, nil
}

// add inserts the keys of one document and reports whether the index
// just became multi-key.
func (ix *index) add(id string, keys []ir.IndexKey) bool {
	for _, k := range keys {
		ix.tree.Set(entry{key: k, id: id})
	}
	if len(keys) > 1 && !ix.multiKey {
		ix.multiKey = true
		return true
	}
	return false
}

// Keys returns every entry of index idxNo in ascending index order.
func (c *Collection) Keys(idxNo int) ([]ir.IndexKey, []string) {
	ix := c.indexes[idxNo]
	keys := make([]ir.IndexKey, 0, ix.tree.Len())
	ids := make([]string, 0, ix.tree.Len())
	ix.tree.Scan(func(e entry) bool {
		keys = append(keys, e.key)
		ids = append(ids, e.id)
		return true
	})
	return keys, ids
}

// cursor walks one index in scan order.
type cursor struct {
	it    btree.IterG[entry]
	dir   ir.Direction
	valid bool
}

func (ix *index) open(dir ir.Direction) *cursor {
	return &cursor{it: ix.tree.Iter(), dir: dir}
}

// seek positions the cursor on the first entry at or after key in scan
// order, or strictly after it when inclusive is false.
func (c *cursor) seek(key ir.IndexKey, inclusive bool) bool {
	before, after := entry{key: key, bias: -1}, entry{key: key, bias: 1}
	if c.dir == ir.Ascending {
		pivot := after
		if inclusive {
			pivot = before
		}
		c.valid = c.it.Seek(pivot)
		return c.valid
	}

	// Descending: the last entry below the pivot in tree order.
	pivot := before
	if inclusive {
		pivot = after
	}
	if c.it.Seek(pivot) {
		c.valid = c.it.Prev()
	} else {
		c.valid = c.it.Last()
	}
	return c.valid
}

func (c *cursor) next() bool {
	if c.dir == ir.Ascending {
		c.valid = c.it.Next()
	} else {
		c.valid = c.it.Prev()
	}
	return c.valid
}

func (c *cursor) item() entry { return c.it.Item() }

func (c *cursor) close() { c.it.Release() }

// String summarizes the collection for logs.
func (c *Collection) String() string {
	names := make([]string, len(c.indexes))
	for i, ix := range c.indexes {
		names[i] = ix.spec.Name
	}
	return fmt.Sprintf("%s (%d docs, indexes %v)", c.ns, len(c.order), names)
}
