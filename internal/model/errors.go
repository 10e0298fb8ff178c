package model

import "errors"

// Domain error kinds. Callers match with errors.Is; wrapping adds context.
var (
	// ErrInsufficientBalance means available cash cannot cover a reservation.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientHoldings means available shares cannot cover a reservation.
	ErrInsufficientHoldings = errors.New("insufficient holdings")

	// ErrInvalidOrderState means an operation targeted a terminal order.
	ErrInvalidOrderState = errors.New("invalid order state")

	// ErrOrderNotFound means no order exists for the given id and account.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNothingAccrued means a claim was requested with zero accumulated shares.
	ErrNothingAccrued = errors.New("nothing accrued to claim")

	// ErrConflict means a concurrent modification was detected; the caller
	// may retry the operation.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrSelfTrade means an order would have matched the same account's own
	// resting liquidity. The placement is rejected with no side effects.
	ErrSelfTrade = errors.New("self trade rejected")

	// ErrAccountNotFound means the account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInstrumentNotFound means the instrument does not exist.
	ErrInstrumentNotFound = errors.New("instrument not found")
)
