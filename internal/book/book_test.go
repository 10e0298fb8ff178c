package book

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fandex/exchange/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func rest(b *Book, account string, side model.Side, price string, qty int64, at time.Duration) uuid.UUID {
	id := uuid.New()
	b.Add(Resting{
		OrderID:   id,
		AccountID: account,
		Side:      side,
		Price:     dec(price),
		Remaining: qty,
		CreatedAt: t0.Add(at),
	})
	return id
}

func TestPreviewMarketWalksLevels(t *testing.T) {
	b := New("ACME")
	first := rest(b, "maker1", model.SideSell, "2.00", 5, 0)
	second := rest(b, "maker2", model.SideSell, "2.10", 10, time.Second)

	fills, err := b.Preview("taker", model.SideBuy, model.OrderMarket, 10, decimal.Zero)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("got %d fills, want 2", len(fills))
	}
	if fills[0].MakerOrderID != first || fills[0].Quantity != 5 || !fills[0].Price.Equal(dec("2.00")) {
		t.Errorf("first fill = %+v, want 5 @ 2.00 against the best ask", fills[0])
	}
	if fills[1].MakerOrderID != second || fills[1].Quantity != 5 || !fills[1].Price.Equal(dec("2.10")) {
		t.Errorf("second fill = %+v, want 5 @ 2.10", fills[1])
	}
}

func TestPreviewLimitStopsAtLimit(t *testing.T) {
	b := New("ACME")
	rest(b, "maker1", model.SideSell, "2.00", 5, 0)
	rest(b, "maker2", model.SideSell, "2.10", 10, time.Second)

	fills, err := b.Preview("taker", model.SideBuy, model.OrderLimit, 10, dec("2.05"))
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(fills) != 1 || fills[0].Quantity != 5 {
		t.Fatalf("fills = %+v, want only the 5 @ 2.00 level", fills)
	}
}

func TestPreviewTimePriorityWithinLevel(t *testing.T) {
	b := New("ACME")
	older := rest(b, "maker1", model.SideSell, "2.00", 3, 0)
	newer := rest(b, "maker2", model.SideSell, "2.00", 3, time.Second)

	fills, err := b.Preview("taker", model.SideBuy, model.OrderLimit, 4, dec("2.00"))
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("got %d fills, want 2", len(fills))
	}
	if fills[0].MakerOrderID != older || fills[0].Quantity != 3 {
		t.Errorf("first fill = %+v, want the older order fully taken", fills[0])
	}
	if fills[1].MakerOrderID != newer || fills[1].Quantity != 1 {
		t.Errorf("second fill = %+v, want 1 from the newer order", fills[1])
	}
}

func TestPreviewSellSide(t *testing.T) {
	b := New("ACME")
	rest(b, "maker1", model.SideBuy, "1.90", 5, 0)
	rest(b, "maker2", model.SideBuy, "2.00", 5, time.Second)

	// A sell limit at 1.95 takes the 2.00 bid first and stops there.
	fills, err := b.Preview("taker", model.SideSell, model.OrderLimit, 8, dec("1.95"))
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(fills) != 1 || !fills[0].Price.Equal(dec("2.00")) || fills[0].Quantity != 5 {
		t.Fatalf("fills = %+v, want only 5 @ 2.00", fills)
	}
}

func TestPreviewSelfTrade(t *testing.T) {
	b := New("ACME")
	rest(b, "alice", model.SideSell, "2.00", 5, 0)

	_, err := b.Preview("alice", model.SideBuy, model.OrderMarket, 1, decimal.Zero)
	if !errors.Is(err, model.ErrSelfTrade) {
		t.Fatalf("got %v, want ErrSelfTrade", err)
	}
}

func TestPreviewDoesNotMutate(t *testing.T) {
	b := New("ACME")
	rest(b, "maker1", model.SideSell, "2.00", 5, 0)

	if _, err := b.Preview("taker", model.SideBuy, model.OrderMarket, 3, decimal.Zero); err != nil {
		t.Fatalf("Preview: %v", err)
	}
	_, asks := b.Depth()
	if len(asks) != 1 || asks[0].Quantity != 5 {
		t.Fatalf("asks = %+v after preview, want untouched 5 @ 2.00", asks)
	}
}

func TestApplyConsumesFills(t *testing.T) {
	b := New("ACME")
	first := rest(b, "maker1", model.SideSell, "2.00", 5, 0)
	rest(b, "maker2", model.SideSell, "2.10", 10, time.Second)

	fills, err := b.Preview("taker", model.SideBuy, model.OrderMarket, 8, decimal.Zero)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	b.Apply(fills)

	_, asks := b.Depth()
	if len(asks) != 1 || !asks[0].Price.Equal(dec("2.10")) || asks[0].Quantity != 7 {
		t.Fatalf("asks = %+v after apply, want 7 @ 2.10", asks)
	}
	if b.Remove(first) {
		t.Error("fully filled order still removable from the book")
	}
}

func TestRemove(t *testing.T) {
	b := New("ACME")
	id := rest(b, "maker1", model.SideBuy, "1.50", 5, 0)

	if !b.Remove(id) {
		t.Fatal("Remove returned false for a resting order")
	}
	if b.Remove(id) {
		t.Error("second Remove returned true")
	}
	if _, ok := b.BestBid(); ok {
		t.Error("bid level survived removing its only order")
	}
}

func TestBestBidAsk(t *testing.T) {
	b := New("ACME")
	if _, ok := b.BestBid(); ok {
		t.Error("empty book reported a best bid")
	}

	rest(b, "m", model.SideBuy, "1.80", 1, 0)
	rest(b, "m", model.SideBuy, "1.95", 1, time.Second)
	rest(b, "m", model.SideSell, "2.20", 1, 2*time.Second)
	rest(b, "m", model.SideSell, "2.05", 1, 3*time.Second)

	if bid, _ := b.BestBid(); !bid.Equal(dec("1.95")) {
		t.Errorf("best bid = %s, want 1.95", bid)
	}
	if ask, _ := b.BestAsk(); !ask.Equal(dec("2.05")) {
		t.Errorf("best ask = %s, want 2.05", ask)
	}
}

func TestDepthAggregatesLevels(t *testing.T) {
	b := New("ACME")
	rest(b, "m1", model.SideSell, "2.00", 5, 0)
	rest(b, "m2", model.SideSell, "2.00", 3, time.Second)
	rest(b, "m3", model.SideSell, "2.10", 1, 2*time.Second)

	_, asks := b.Depth()
	if len(asks) != 2 {
		t.Fatalf("got %d ask levels, want 2", len(asks))
	}
	if !asks[0].Price.Equal(dec("2.00")) || asks[0].Quantity != 8 {
		t.Errorf("best ask level = %+v, want 8 @ 2.00", asks[0])
	}
}
