// Package ledger implements the authoritative money and share accounting:
// available-balance math, idempotent reservations (locks), and trade
// settlement with average-cost-basis tracking.
//
// All functions operate on a store.Tx supplied by the caller, so a
// reservation and the action it backs always commit or roll back together.
// Invariants maintained here:
//
//	available cash   = Account.Cash     − Σ BalanceLock.Amount    ≥ 0
//	available shares = Holding.Quantity − Σ HoldingsLock.Quantity ≥ 0
package ledger
