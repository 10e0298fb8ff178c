package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fandex/exchange/internal/model"
)

func TestMemoryUpdateRollsBackOnError(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	err := mem.Update(ctx, func(tx Tx) error {
		return tx.PutAccount(model.Account{ID: "alice", Cash: decimal.NewFromInt(100), Tier: model.TierStandard})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("boom")
	err = mem.Update(ctx, func(tx Tx) error {
		a, err := tx.GetAccount("alice")
		if err != nil {
			return err
		}
		a.Cash = decimal.Zero
		if err := tx.PutAccount(a); err != nil {
			return err
		}
		if err := tx.PutAccount(model.Account{ID: "bob"}); err != nil {
			return err
		}
		if err := tx.InsertTrades([]model.Trade{{InstrumentID: "ACME"}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update returned %v, want the callback error", err)
	}

	err = mem.View(ctx, func(tx Tx) error {
		a, err := tx.GetAccount("alice")
		if err != nil {
			return err
		}
		if !a.Cash.Equal(decimal.NewFromInt(100)) {
			t.Errorf("alice cash = %s after rollback, want 100", a.Cash)
		}
		if _, err := tx.GetAccount("bob"); !errors.Is(err, model.ErrAccountNotFound) {
			t.Errorf("bob survived rollback: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestMemoryViewDiscardsWrites(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	err := mem.View(ctx, func(tx Tx) error {
		return tx.PutAccount(model.Account{ID: "ghost"})
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	err = mem.View(ctx, func(tx Tx) error {
		_, err := tx.GetAccount("ghost")
		if !errors.Is(err, model.ErrAccountNotFound) {
			t.Errorf("write in View survived: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestMemoryHoldingDefaultsToZeroRow(t *testing.T) {
	mem := NewMemory()

	err := mem.View(context.Background(), func(tx Tx) error {
		h, err := tx.GetHolding("alice", "ACME")
		if err != nil {
			return err
		}
		if h.AccountID != "alice" || h.InstrumentID != "ACME" || h.Quantity != 0 {
			t.Errorf("missing holding read as %+v, want an empty row", h)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestMemoryOpenOrdersOrdering(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := mem.Update(ctx, func(tx Tx) error {
		for i, status := range []model.OrderStatus{model.StatusPartial, model.StatusFilled, model.StatusOpen, model.StatusCancelled} {
			o := model.Order{
				ID:        uuid.New(),
				AccountID: "alice",
				Status:    status,
				CreatedAt: base.Add(time.Duration(i) * time.Second),
			}
			if err := tx.PutOrder(o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var open []model.Order
	err = mem.View(ctx, func(tx Tx) error {
		var err error
		open, err = tx.OpenOrders()
		return err
	})
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("got %d open orders, want 2", len(open))
	}
	if !open[0].CreatedAt.Before(open[1].CreatedAt) {
		t.Error("open orders not in creation order")
	}
}
