// Package ir provides the value model shared by every rangeplan package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - Values are totally ordered by Compare: MinKey < Null < Int < String <
//     Object < Array < Bool < MaxKey
//   - Key patterns and simplified queries are ordered (KeyPattern, IRDoc);
//     plain IRObject iteration must go through SortedKeys
//   - All JSON tags use snake_case
package ir
