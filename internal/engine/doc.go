// Package engine maintains in-memory collections with ordered indexes and
// runs queries against them through the index bounds computed by keyrange.
//
// A run turns the query filter into field ranges, picks an index for each
// $or clause (or the whole query), and walks that index with a
// FieldRangeVectorIterator. The iterator answers every key the cursor lands
// on with "take it", "seek to here" or "stop", so a scan touches only the
// keys inside the bounds plus one key per gap it jumps. The documents the
// scans return are candidates: a superset of the matches, never missing one.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Collections are not synchronized. Callers either drive the engine from
// one goroutine, or run Serve() in one goroutine and submit events
// (AddIndex, Insert, Run) from anywhere.
//
// Run Flow:
// 1. Parse the filter and build an OrRangeGenerator
// 2. Without $or: pick a plan (hint, plan cache, then index scoring)
// 3. With $or: plan each clause, subtract what it covered from the rest
// 4. Scan, deduplicate across clauses, count keys against the quota
// 5. Record the run and its bounds digest in the store, if one is attached
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Indexes, documents, plans and runs are stamped with Clock.Next().
// NEVER use wall-clock timestamps for ordering.
//
// Deterministic Scans:
// Index entries order by key, then document ID. Collection scans follow
// insertion order. Index numbers are declaration order.
//
// Replay:
// A recorded run is reproducible. Loading every index and document with a
// seq below the run's seq rebuilds the catalog the run saw, multi-key flags
// included. A run without $or recorded its one index, and replay forces it
// with a hint because the plan cache may have changed since. Clause
// planning for $or has no cache and depends only on the catalog. Replay
// compares plans, bounds digest, candidates and scan count; a difference
// means range or planner behavior changed (ir.PlannerVersion should move
// with it) or the store was edited.
package engine
