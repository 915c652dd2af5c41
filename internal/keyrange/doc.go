// Package keyrange turns query predicates into index key bounds.
//
// ARCHITECTURE:
//
// A parsed predicate flows through four stages:
//
//	[queryir.Predicate] -> FieldRangeSet      per-field interval sets
//	                    -> OrRangeGenerator   one set per top-level $or clause
//	                    -> FieldRangeVector   one set projected onto an index
//	                    -> FieldRangeVectorIterator   skip hints during a scan
//
// FieldRange is a sorted list of disjoint intervals over the total value
// order (MinKey < Null < Int < String < Object < Array < Bool < MaxKey).
// Ranges are immutable; Intersect, Union and Subtract return new ranges.
//
// SINGLE-KEY VS MULTI-KEY:
//
// Every set is built for one multiplicity. A single-key set assumes no
// indexed field holds an array and intersects clauses freely. A multi-key
// set keeps ranges that stay correct when a field expands to one key per
// array element. FieldRangeSetPair carries both and picks per index.
//
// CONSERVATIVE RANGES:
//
// Anything that cannot be expressed as intervals widens to a superset: an
// unanchored regex covers every string, $where covers everything. A range
// may admit keys of documents that do not match; it never excludes a key of
// a document that does. Callers filter the scanned documents against the
// full predicate.
//
// ASSERTIONS:
//
// Broken internal invariants (unsorted intervals, an empty range reaching a
// vector, a single interval limit on a non-equality vector) are reported as
// *AssertionError, which wraps ErrInvariant. They abort planning of the one
// query and are never retried.
//
// Nothing in this package blocks or performs I/O. A FieldRangeVectorIterator
// and an OrRangeGenerator are mutable and belong to one scan; everything
// else may be shared between goroutines once built.
package keyrange
