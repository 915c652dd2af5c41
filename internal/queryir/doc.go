// Package queryir provides the predicate tree that range extraction works
// on.
//
// ARCHITECTURE:
//
// Query documents are parsed once into a sealed Predicate tree; everything
// downstream (field ranges, OR clause generation, SQL pushdown) walks the
// tree instead of re-reading raw documents:
//
//	[query document] -> ParseQuery -> [Predicate] -> keyrange.FieldRangeSet
//	                                              -> keyrange.OrRangeGenerator
//	                                              -> querysql.Compiler
//
// SUPPORTED OPERATORS:
//
// Field operators: equality, $ne, $gt, $gte, $lt, $lte, $in, $nin, $exists,
// $mod, $regex (with $options), $all, $size, $type, $elemMatch, $near and
// $within. Logical operators: $and, $or, $nor, $not, and the opaque $where.
//
// SEALED INTERFACES:
//
// Predicate is a sealed interface using the marker method pattern. Only
// types in this package implement it, so consumers can switch exhaustively:
//
//	switch p := pred.(type) {
//	case queryir.Field:
//	case queryir.Not:
//	case queryir.And, queryir.Or, queryir.Nor:
//	case queryir.Where:
//	}
//
// EXTRACTABILITY:
//
// Validate reports which predicates the range extractor can only
// over-approximate. Those are not errors: the derived ranges are always a
// superset of the matching documents, and the warnings tell the caller a
// residual filter is required.
//
// All literal values are ir.IRValue (no floats) and are deep-copied at
// parse time, so a parsed tree never aliases the caller's document.
package queryir
