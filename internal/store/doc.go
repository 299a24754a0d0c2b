// Package store provides SQLite-backed durable storage for attendance records.
//
// The store is the single source of truth for "is there an active session".
// Every state machine decision re-reads it; nothing caches records.
//
// # Guarantees enforced by the schema
//
//   - At most one active record per user: partial UNIQUE index over the user
//     for rows with check_out_time IS NULL. Concurrent check-ins from other
//     processes conflict in the database rather than in memory.
//   - check_out_time >= check_in_time (CHECK constraint).
//   - completed is a generated column, so it can never disagree with
//     check_out_time.
//   - synced implies remote_id (CHECK); remote_id is write-once (trigger).
//   - Rows are never deleted (trigger).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Timestamps are stored as fixed-width UTC text so that string comparison in
// SQL matches chronological order.
package store
