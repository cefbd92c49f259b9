// Package store provides SQLite-backed durable storage for docstate.
//
// Two tables back a running store:
//   - kv: persisted snapshots and crypto parameters, keyed by
//     "docstate:<name>" and "docstate:<name>:crypto"
//   - audit_log: retained audit entries, scoped by store name
//
// Audit rows are ordered by (timestamp, seq) so entries recorded within the
// same millisecond list in insertion order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Audit data is stored as RFC 8785 canonical JSON via ir.MarshalCanonical.
package store
