// Package database provides connection pool management for the PostgreSQL
// ledger database. All entity tables live in one database; lookups are
// indexed by account and by instrument.
package database
