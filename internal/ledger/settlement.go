package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fandex/exchange/internal/model"
	"github.com/fandex/exchange/internal/store"
)

// Match is one fill to settle: quantity at the maker's price, between the
// accounts behind the two orders. BuyLockRelease is the escrow consumed from
// the buyer's balance lock for this quantity (quantity × buy limit price for
// limit orders; quantity × trade price for market orders, whose reservation
// was derived from the book).
type Match struct {
	InstrumentID   string
	BuyOrderID     uuid.UUID
	SellOrderID    uuid.UUID
	BuyerID        string
	SellerID       string
	Quantity       int64
	Price          decimal.Decimal
	BuyLockRelease decimal.Decimal
	ExecutedAt     time.Time
}

// Settle applies one match to the ledger and returns the immutable trade
// row. Within the caller's transaction it:
//
//   - debits the quantity from the seller's holding and holdings lock
//   - credits it to the buyer's holding, recomputing the average cost basis
//   - debits the cash amount from the buyer's balance and balance lock
//   - credits the cash amount to the seller's balance
//
// The reservations taken at order placement guarantee the movements below
// cannot go negative; a violation indicates ledger corruption and aborts
// the transaction.
func Settle(tx store.Tx, m Match) (model.Trade, error) {
	if m.Quantity <= 0 {
		return model.Trade{}, fmt.Errorf("settle quantity must be positive, got %d", m.Quantity)
	}
	cost := m.Price.Mul(decimal.NewFromInt(m.Quantity))

	// Seller side: shares out, cash in.
	sh, err := tx.GetHolding(m.SellerID, m.InstrumentID)
	if err != nil {
		return model.Trade{}, err
	}
	if sh.Quantity < m.Quantity {
		return model.Trade{}, fmt.Errorf("seller %s holds %d of %s, settling %d", m.SellerID, sh.Quantity, m.InstrumentID, m.Quantity)
	}
	sh.Quantity -= m.Quantity
	sh.TotalCost = sh.AvgCost.Mul(decimal.NewFromInt(sh.Quantity))
	if err := tx.PutHolding(sh); err != nil {
		return model.Trade{}, err
	}
	if err := ShrinkShareLock(tx, m.SellOrderID, m.InstrumentID, m.Quantity); err != nil {
		return model.Trade{}, err
	}
	seller, err := tx.GetAccount(m.SellerID)
	if err != nil {
		return model.Trade{}, err
	}
	seller.Cash = seller.Cash.Add(cost)
	if err := tx.PutAccount(seller); err != nil {
		return model.Trade{}, err
	}

	// Buyer side: cash out, shares in at the trade price.
	buyer, err := tx.GetAccount(m.BuyerID)
	if err != nil {
		return model.Trade{}, err
	}
	if buyer.Cash.LessThan(cost) {
		return model.Trade{}, fmt.Errorf("buyer %s cash %s below settlement cost %s", m.BuyerID, buyer.Cash, cost)
	}
	buyer.Cash = buyer.Cash.Sub(cost)
	if err := tx.PutAccount(buyer); err != nil {
		return model.Trade{}, err
	}
	if err := ShrinkCashLock(tx, m.BuyOrderID, m.BuyLockRelease); err != nil {
		return model.Trade{}, err
	}
	if err := CreditShares(tx, m.BuyerID, m.InstrumentID, m.Quantity, cost); err != nil {
		return model.Trade{}, err
	}

	return model.Trade{
		ID:           uuid.New(),
		InstrumentID: m.InstrumentID,
		BuyerID:      m.BuyerID,
		SellerID:     m.SellerID,
		BuyOrderID:   m.BuyOrderID,
		SellOrderID:  m.SellOrderID,
		Quantity:     m.Quantity,
		Price:        m.Price,
		ExecutedAt:   m.ExecutedAt.UTC(),
	}, nil
}
