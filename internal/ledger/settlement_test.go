package ledger

import (
	"testing"

	"github.com/google/uuid"

	"github.com/fandex/exchange/internal/model"
)

func TestSettle(t *testing.T) {
	tx := newTestTx(t)
	buyOrder, sellOrder := uuid.New(), uuid.New()

	// Bob sells 4 of his 10 shares (basis 3.00) to Alice at 2.50.
	if err := CreditShares(tx, "bob", "ACME", 10, dec("30")); err != nil {
		t.Fatalf("seed shares: %v", err)
	}
	if err := AcquireShares(tx, "bob", "ACME", 4, model.LockOrder, sellOrder, now); err != nil {
		t.Fatalf("seller reservation: %v", err)
	}
	if err := AcquireCash(tx, "alice", dec("10"), model.LockOrder, buyOrder, now); err != nil {
		t.Fatalf("buyer reservation: %v", err)
	}

	trade, err := Settle(tx, Match{
		InstrumentID:   "ACME",
		BuyOrderID:     buyOrder,
		SellOrderID:    sellOrder,
		BuyerID:        "alice",
		SellerID:       "bob",
		Quantity:       4,
		Price:          dec("2.50"),
		BuyLockRelease: dec("10"),
		ExecutedAt:     now,
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if trade.Quantity != 4 || !trade.Price.Equal(dec("2.50")) {
		t.Errorf("trade = %+v, want 4 @ 2.50", trade)
	}

	alice, _ := tx.GetAccount("alice")
	if !alice.Cash.Equal(dec("990")) {
		t.Errorf("buyer cash = %s, want 990", alice.Cash)
	}
	bob, _ := tx.GetAccount("bob")
	if !bob.Cash.Equal(dec("510")) {
		t.Errorf("seller cash = %s, want 510", bob.Cash)
	}

	ah, _ := tx.GetHolding("alice", "ACME")
	if ah.Quantity != 4 || !ah.AvgCost.Equal(dec("2.50")) {
		t.Errorf("buyer holding = %d @ %s, want 4 @ 2.50", ah.Quantity, ah.AvgCost)
	}
	bh, _ := tx.GetHolding("bob", "ACME")
	if bh.Quantity != 6 {
		t.Errorf("seller holding = %d, want 6", bh.Quantity)
	}
	// Selling never changes the remaining basis per share.
	if !bh.AvgCost.Equal(dec("3")) {
		t.Errorf("seller avg cost = %s, want 3", bh.AvgCost)
	}
	if !bh.TotalCost.Equal(dec("18")) {
		t.Errorf("seller total cost = %s, want 18", bh.TotalCost)
	}

	// Both order locks were fully consumed.
	if bls, _, _ := tx.LocksByReference(buyOrder); len(bls) != 0 {
		t.Errorf("buy lock not consumed: %+v", bls)
	}
	if _, hls, _ := tx.LocksByReference(sellOrder); len(hls) != 0 {
		t.Errorf("sell lock not consumed: %+v", hls)
	}
}

func TestSettlePartialLockConsumption(t *testing.T) {
	tx := newTestTx(t)
	buyOrder, sellOrder := uuid.New(), uuid.New()

	if err := CreditShares(tx, "bob", "ACME", 10, dec("30")); err != nil {
		t.Fatalf("seed shares: %v", err)
	}
	if err := AcquireShares(tx, "bob", "ACME", 10, model.LockOrder, sellOrder, now); err != nil {
		t.Fatalf("seller reservation: %v", err)
	}
	// Buyer escrowed for 10 at a 3.00 limit, fills 4 at 2.50.
	if err := AcquireCash(tx, "alice", dec("30"), model.LockOrder, buyOrder, now); err != nil {
		t.Fatalf("buyer reservation: %v", err)
	}

	_, err := Settle(tx, Match{
		InstrumentID:   "ACME",
		BuyOrderID:     buyOrder,
		SellOrderID:    sellOrder,
		BuyerID:        "alice",
		SellerID:       "bob",
		Quantity:       4,
		Price:          dec("2.50"),
		BuyLockRelease: dec("12"), // 4 × the 3.00 limit
		ExecutedAt:     now,
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	bls, _, _ := tx.LocksByReference(buyOrder)
	if len(bls) != 1 || !bls[0].Amount.Equal(dec("18")) {
		t.Errorf("buy lock after partial fill = %+v, want one lock of 18", bls)
	}
	_, hls, _ := tx.LocksByReference(sellOrder)
	if len(hls) != 1 || hls[0].Quantity != 6 {
		t.Errorf("sell lock after partial fill = %+v, want one lock of 6", hls)
	}
	// The spread between limit and trade price is back in the buyer's
	// available balance.
	avail, _ := Available(tx, "alice")
	if !avail.Equal(dec("972")) {
		t.Errorf("buyer available = %s, want 972", avail)
	}
}

func TestSettleRejectsOverdraw(t *testing.T) {
	tx := newTestTx(t)

	_, err := Settle(tx, Match{
		InstrumentID: "ACME",
		BuyOrderID:   uuid.New(),
		SellOrderID:  uuid.New(),
		BuyerID:      "alice",
		SellerID:     "bob",
		Quantity:     5,
		Price:        dec("1"),
		ExecutedAt:   now,
	})
	if err == nil {
		t.Fatal("expected error settling against an empty holding")
	}
}
