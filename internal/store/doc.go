// Package store provides SQLite-backed durable storage for local edits and the
// mutation queue that carries them to the remote store.
//
// Tables:
//   - mutations: append-only queue of local edits, one row per create/update/delete
//   - surveys: survey definitions pulled from the remote store
//   - lois: local snapshots of locations of interest
//   - submissions: local snapshots of submissions
//
// # Ordering
//
// Mutation ids are assigned by AUTOINCREMENT and are strictly increasing. Every
// mutation query orders by id so callers see edits in the order they were made.
//
// # Transactions
//
// InTx runs a function in a single write transaction. Entity snapshots and the
// mutation describing the edit are written together: after a crash either both
// exist or neither does.
//
// The store does not validate status transitions. Callers own the state machine.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - A single connection: SQLite serializes writers anyway
package store
