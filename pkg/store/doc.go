// Package store provides the credential store backends behind
// auth.CredentialStore: a single-process file-backed store for dev and
// single-instance deployments, and a PostgreSQL store for concurrent
// multi-process access.
//
// Select a backend through Config:
//
//	st, err := store.New(store.Config{Type: store.TypeFile, FilePath: "/var/lib/metricat/credentials.json"})
//	st, err := store.New(store.Config{Type: store.TypePostgres, PostgresURL: url})
//
// The file backend serializes every read and write behind one mutex and
// rewrites the whole JSON document on each mutation; it is not safe for
// concurrent multi-process writers. The PostgreSQL backend relies on
// unique indexes and row-level statements, so the same uniqueness
// invariants hold under true concurrency.
//
// Either backend can be wrapped with NewInstrumented to record a
// Prometheus counter and duration histogram per store operation.
package store
