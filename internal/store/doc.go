// Package store defines the storage contracts of the ledgersync core and
// the error taxonomy shared by every backend.
//
// Backends live in subpackages:
//   - sqlstore: database/sql over SQLite (mattn/go-sqlite3) or Postgres (pgx)
//   - boltstore: bolt buckets holding JSON documents
//
// # Contracts
//
// Every mutating operation is atomic: all of its writes become visible or
// none do. Reads that return collections return empty slices, never nil.
//
// Sync invariants:
//   - Outbox local revisions come from one counter shared by all records
//   - Completion deletes the outbox row by exact (record, local revision);
//     a miss is a benign no-op
//   - The revision cursor only moves forward: max(current, candidate)
//
// # Errors
//
// Failures are *Error values carrying a Code, the failing operation and the
// key involved. Use IsNotFound, IsValidation, IsMigration and IsRetryable to
// inspect them through wrapping.
package store
