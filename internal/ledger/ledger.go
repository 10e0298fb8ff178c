package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fandex/exchange/internal/model"
	"github.com/fandex/exchange/internal/store"
)

// CreateAccount inserts a new account with an opening cash balance.
func CreateAccount(tx store.Tx, id string, tier model.Tier, openingCash decimal.Decimal, now time.Time) error {
	if _, err := tx.GetAccount(id); err == nil {
		return fmt.Errorf("account %q already exists", id)
	}
	return tx.PutAccount(model.Account{
		ID:        id,
		Cash:      openingCash,
		Tier:      tier,
		CreatedAt: now.UTC(),
	})
}

// Available returns the account's cash not narrowed by any balance lock.
func Available(tx store.Tx, accountID string) (decimal.Decimal, error) {
	acct, err := tx.GetAccount(accountID)
	if err != nil {
		return decimal.Zero, err
	}
	locks, err := tx.BalanceLocks(accountID)
	if err != nil {
		return decimal.Zero, err
	}
	avail := acct.Cash
	for _, l := range locks {
		avail = avail.Sub(l.Amount)
	}
	return avail, nil
}

// AvailableShares returns the holding quantity not narrowed by any
// holdings lock. A missing holding reads as zero.
func AvailableShares(tx store.Tx, accountID, instrumentID string) (int64, error) {
	h, err := tx.GetHolding(accountID, instrumentID)
	if err != nil {
		return 0, err
	}
	locks, err := tx.HoldingsLocks(accountID, instrumentID)
	if err != nil {
		return 0, err
	}
	avail := h.Quantity
	for _, l := range locks {
		avail -= l.Quantity
	}
	return avail, nil
}

// Deposit credits cash to an existing account.
func Deposit(tx store.Tx, accountID string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %s", amount)
	}
	acct, err := tx.GetAccount(accountID)
	if err != nil {
		return err
	}
	acct.Cash = acct.Cash.Add(amount)
	return tx.PutAccount(acct)
}

// CreditShares credits qty shares to a holding at the given total cost.
// Accrual claims pass a zero cost, which dilutes the average cost basis.
func CreditShares(tx store.Tx, accountID, instrumentID string, qty int64, cost decimal.Decimal) error {
	if qty <= 0 {
		return fmt.Errorf("credit quantity must be positive, got %d", qty)
	}
	h, err := tx.GetHolding(accountID, instrumentID)
	if err != nil {
		return err
	}
	h.Quantity += qty
	h.TotalCost = h.TotalCost.Add(cost)
	h.AvgCost = h.TotalCost.Div(decimal.NewFromInt(h.Quantity))
	return tx.PutHolding(h)
}
