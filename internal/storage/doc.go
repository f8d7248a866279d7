// Package storage persists users, the video catalog, bot settings, the user
// action log and broadcast records.
//
// Two SQL drivers share one query set:
//   - "sqlite": embedded modernc.org/sqlite file (default)
//   - "postgres": lib/pq, configured by DSN
//
// Timestamps are unix seconds in every table.
package storage
