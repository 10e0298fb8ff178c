package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fandex/exchange/internal/model"
	"github.com/fandex/exchange/internal/store"
)

// AcquireCash reserves amount against the account's available cash.
// Re-acquiring with the same reference is a no-op, never a double
// reservation. On failure nothing is written.
func AcquireCash(tx store.Tx, accountID string, amount decimal.Decimal, lt model.LockType, ref uuid.UUID, now time.Time) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("lock amount must be positive, got %s", amount)
	}
	bls, _, err := tx.LocksByReference(ref)
	if err != nil {
		return err
	}
	if len(bls) > 0 {
		return nil
	}
	avail, err := Available(tx, accountID)
	if err != nil {
		return err
	}
	if avail.LessThan(amount) {
		return fmt.Errorf("%w: need %s, available %s", model.ErrInsufficientBalance, amount, avail)
	}
	return tx.PutBalanceLock(model.BalanceLock{
		AccountID:   accountID,
		Type:        lt,
		ReferenceID: ref,
		Amount:      amount,
		CreatedAt:   now.UTC(),
	})
}

// AcquireShares reserves qty shares of an instrument with the same
// idempotency semantics as AcquireCash.
func AcquireShares(tx store.Tx, accountID, instrumentID string, qty int64, lt model.LockType, ref uuid.UUID, now time.Time) error {
	if qty <= 0 {
		return fmt.Errorf("lock quantity must be positive, got %d", qty)
	}
	_, hls, err := tx.LocksByReference(ref)
	if err != nil {
		return err
	}
	for _, l := range hls {
		if l.InstrumentID == instrumentID {
			return nil
		}
	}
	avail, err := AvailableShares(tx, accountID, instrumentID)
	if err != nil {
		return err
	}
	if avail < qty {
		return fmt.Errorf("%w: need %d shares of %s, available %d", model.ErrInsufficientHoldings, qty, instrumentID, avail)
	}
	return tx.PutHoldingsLock(model.HoldingsLock{
		AccountID:    accountID,
		InstrumentID: instrumentID,
		Type:         lt,
		ReferenceID:  ref,
		Quantity:     qty,
		CreatedAt:    now.UTC(),
	})
}

// Release removes every lock held under ref. Releasing an unknown or
// already-released reference is a no-op.
func Release(tx store.Tx, ref uuid.UUID) error {
	return tx.DeleteLocksByReference(ref)
}

// ShrinkCashLock consumes part of a balance lock, deleting it once empty.
// Used when a fill or cancellation resolves part of an order's escrow.
func ShrinkCashLock(tx store.Tx, ref uuid.UUID, by decimal.Decimal) error {
	bls, _, err := tx.LocksByReference(ref)
	if err != nil {
		return err
	}
	if len(bls) == 0 {
		return nil
	}
	l := bls[0]
	l.Amount = l.Amount.Sub(by)
	if l.Amount.Sign() <= 0 {
		return tx.DeleteLocksByReference(ref)
	}
	return tx.PutBalanceLock(l)
}

// ShrinkShareLock consumes part of a holdings lock, deleting it once empty.
func ShrinkShareLock(tx store.Tx, ref uuid.UUID, instrumentID string, by int64) error {
	_, hls, err := tx.LocksByReference(ref)
	if err != nil {
		return err
	}
	for _, l := range hls {
		if l.InstrumentID != instrumentID {
			continue
		}
		l.Quantity -= by
		if l.Quantity <= 0 {
			return tx.DeleteLocksByReference(ref)
		}
		return tx.PutHoldingsLock(l)
	}
	return nil
}
