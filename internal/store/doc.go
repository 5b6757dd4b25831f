// Package store provides SQLite-backed durable storage for tracked records.
//
// The store holds one table, change_tracker, keyed by (namespace, identifier)
// with four nullable UTC timestamps per row:
//   - first_indexed: first observation of the current lifetime
//   - last_indexed: last observation that detected a change
//   - last_record_change: the source's declared modification instant
//   - deleted: tombstone marker
//
// # Atomicity
//
// Modify runs a caller-supplied transition inside one BEGIN IMMEDIATE
// transaction, so the read and the write of a read-modify-write cycle cannot
// interleave with another writer on the same file, in this process or any
// other. The PRIMARY KEY on (namespace, identifier) guarantees at most one
// row per key regardless.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - _txlock=immediate: Writers take the lock before reading
//
// Timestamps are bound as UTC time.Time values; the driver stores them in a
// fixed-offset text layout that sorts chronologically, which the range
// queries behind ListDeleted and ListChanged rely on.
package store
