// Package store provides SQLite-backed storage for rangeplan catalogs.
//
// A database holds, per namespace:
//   - Indexes: name, ordered key pattern, multi-key flag
//   - Documents: canonical JSON bodies keyed by id
//   - Plans: the plan cache, keyed by query shape (keyrange.QueryPattern)
//   - Runs: recorded query executions, used by replay
//
// # Ordering
//
// Every read orders by the logical seq column with id as a tiebreaker
// (ORDER BY seq ASC, id COLLATE BINARY ASC), so results are identical
// across runs. Timestamps are never stored.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Bodies and queries are stored as RFC 8785 canonical JSON (ir.MarshalCanonical)
// so SQLite's json_extract can evaluate range predicates compiled by
// internal/querysql.
package store
