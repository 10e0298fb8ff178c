// Package store provides the durable repository behind the ledger core.
//
// All mutations run inside a transaction obtained from Store.Update; the
// callback either commits as a whole or leaves no trace. Two backends exist:
//
//   - Postgres: the production backend, one table per entity, pgx-based
//   - Memory: a mutex-guarded in-process backend with snapshot rollback,
//     used by tests and demo mode
package store
