// Package model defines the shared domain types used across the exchange core.
//
// Conventions:
//   - Money (cash balances, prices, cost basis): shopspring decimal for exact arithmetic
//   - Share quantities: int64 whole shares
//   - Timestamps: time.Time, stored and compared in UTC
//   - IDs: uuid.UUID for orders, trades, claims and lock references; string for
//     account and instrument identifiers
package model
