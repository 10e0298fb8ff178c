// Package book maintains the resting orders of each instrument and computes
// price-time-priority matches for a continuous double auction.
//
// A Book is pure in-memory matching state; durable order rows live in the
// store. Matching is two-phase so it can share a transaction with
// settlement: Preview walks the book without mutating it, the caller settles
// the proposed fills transactionally, and Apply commits them to the book
// only after the transaction succeeds.
//
// Each Book carries its own mutex. Callers hold it across
// preview-settle-apply so concurrent aggressors can never consume the same
// maker liquidity.
package book
