// Package store holds the managed records written by reconcilers.
//
// Four backends implement Store:
//
//   - MemoryStore: process memory, used by tests and `autoconf render`
//   - FileStore: one YAML file per record
//   - SQLiteStore: a single SQLite database (modernc.org/sqlite, no cgo)
//   - KubernetesStore: one ConfigMap per record, scope as namespace
//
// Errors caused by the backend itself wrap ErrUnavailable. Operations on
// records the store does not hold wrap ErrNotFound.
package store
