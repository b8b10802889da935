// Package store provides SQLite-backed durable storage for base relations.
//
// The store holds:
//   - Relations: base relation names and column types
//   - Updates: an append-only change log of (row, diff) pairs
//   - Runs: one record per evaluation
//
// # Critical Patterns
//
// Logical time:
//   - Every AppendUpdates call is assigned the next sequence number
//   - All ordering uses seq (never wall time), so a snapshot at a given
//     seq is reproducible
//
// Deterministic results:
//   - Snapshots are consolidated in SQL: GROUP BY row HAVING SUM(diff) != 0
//   - Rows are stored in canonical encoding, so equal rows group together
//   - All queries order by seq, then row COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Store implements catalog.Catalog and catalog.Source, so a query can be
// resolved and evaluated directly against it.
package store
