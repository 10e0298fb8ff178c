// Package accrual converts elapsed wall-clock time into unclaimed shares,
// bounded by a per-account cap, and materializes claims into holdings.
//
// The tick computation is a pure function of the persisted state and the
// supplied clock reading, so redundant or concurrent ticks converge instead
// of double-counting, and negative intervals from clock skew clamp to zero.
// Unconverted time is carried in residual milliseconds; once the cap is hit,
// further time is discarded rather than banked.
package accrual
