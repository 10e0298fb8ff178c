// Package exchange exposes the ledger core's operation surface: order
// placement and cancellation, balance queries, accrual start/claim, and the
// external lock API used by collaborators such as contest entry.
//
// Every operation that touches more than one invariant runs inside a single
// store transaction, and all matching against one instrument happens under
// that instrument's book lock, so no concurrent operation ever observes an
// intermediate ledger state and two aggressors can never consume the same
// maker liquidity.
package exchange
