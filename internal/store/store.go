package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/fandex/exchange/internal/model"
)

// Tx is one transactional view of the repository. Implementations are not
// safe for use outside the Update/View callback that produced them.
type Tx interface {
	// Accounts
	GetAccount(id string) (model.Account, error) // model.ErrAccountNotFound if absent
	PutAccount(a model.Account) error

	// Instruments
	GetInstrument(id string) (model.Instrument, error) // model.ErrInstrumentNotFound if absent
	PutInstrument(in model.Instrument) error
	ListInstruments() ([]model.Instrument, error)

	// Holdings. GetHolding returns a zero-quantity row (never an error) when
	// no holding exists yet; PutHolding creates or replaces the row.
	GetHolding(accountID, instrumentID string) (model.Holding, error)
	PutHolding(h model.Holding) error

	// Locks. Put upserts by reference (and instrument, for holdings locks);
	// deletes are no-ops when the row is already gone.
	BalanceLocks(accountID string) ([]model.BalanceLock, error)
	HoldingsLocks(accountID, instrumentID string) ([]model.HoldingsLock, error)
	LocksByReference(ref uuid.UUID) ([]model.BalanceLock, []model.HoldingsLock, error)
	PutBalanceLock(l model.BalanceLock) error
	PutHoldingsLock(l model.HoldingsLock) error
	DeleteLocksByReference(ref uuid.UUID) error
	AllBalanceLocks() ([]model.BalanceLock, error)
	AllHoldingsLocks() ([]model.HoldingsLock, error)

	// Orders
	GetOrder(id uuid.UUID) (model.Order, error) // model.ErrOrderNotFound if absent
	PutOrder(o model.Order) error
	OpenOrders() ([]model.Order, error) // non-terminal orders, oldest first

	// Trades
	InsertTrades(trades []model.Trade) error

	// Accrual
	GetAccrualState(accountID, instrumentID string) (model.AccrualState, bool, error)
	PutAccrualState(s model.AccrualState) error
	AccrualStates(accountID string) ([]model.AccrualState, error)
	AccrualSplits(accountID string) ([]model.AccrualSplit, error)
	PutAccrualSplit(s model.AccrualSplit) error
	DeleteAccrualSplits(accountID string) error
	AccountsWithSplits() ([]string, error)
	InsertClaim(c model.ClaimRecord) error
	ClaimExists(id uuid.UUID) (bool, error)
}

// Store hands out transactions over the underlying state.
type Store interface {
	// Update runs fn in a read-write transaction. If fn returns an error the
	// transaction is rolled back and the error is returned unchanged.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error

	// Close releases backend resources.
	Close()
}
