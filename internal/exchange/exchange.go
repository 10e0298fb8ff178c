package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fandex/exchange/internal/accrual"
	"github.com/fandex/exchange/internal/book"
	"github.com/fandex/exchange/internal/ledger"
	"github.com/fandex/exchange/internal/model"
	"github.com/fandex/exchange/internal/store"
)

// MarketRemainder selects what happens to the unfilled remainder of a
// market order.
type MarketRemainder string

const (
	// MarketRemainderCancel fills what resting liquidity allows and cancels
	// the rest. Market orders never rest.
	MarketRemainderCancel MarketRemainder = "cancel"

	// MarketRemainderReject rejects the whole order unless it can fill
	// completely.
	MarketRemainderReject MarketRemainder = "reject"
)

// Config holds exchange policy settings.
type Config struct {
	MarketRemainder MarketRemainder
}

// Publisher receives executed trades and order status changes.
type Publisher interface {
	PublishTrade(t model.Trade)
	PublishOrder(o model.Order)
}

// Option configures an Exchange.
type Option func(*Exchange)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exchange) { e.logger = logger }
}

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(e *Exchange) { e.pub = p }
}

// Exchange is the operation surface over the ledger core.
type Exchange struct {
	cfg     Config
	store   store.Store
	books   *book.Books
	accrual *accrual.Engine
	pub     Publisher
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an Exchange.
func New(cfg Config, st store.Store, eng *accrual.Engine, opts ...Option) *Exchange {
	if cfg.MarketRemainder == "" {
		cfg.MarketRemainder = MarketRemainderCancel
	}
	e := &Exchange{
		cfg:     cfg,
		store:   st,
		books:   book.NewBooks(),
		accrual: eng,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// -----------------------------------------------------------------------------
// Orders
// -----------------------------------------------------------------------------

// PlaceOrder reserves the order's worst-case resource, matches it against
// resting liquidity, settles the resulting fills, and rests any limit
// remainder. The reservation, fills, and order row commit in one
// transaction; the in-memory book is only mutated after the commit.
func (e *Exchange) PlaceOrder(ctx context.Context, accountID, instrumentID string, side model.Side, kind model.OrderKind, qty int64, limitPrice decimal.Decimal) (model.Order, error) {
	if qty <= 0 {
		return model.Order{}, fmt.Errorf("quantity must be positive, got %d", qty)
	}
	switch kind {
	case model.OrderLimit:
		if limitPrice.Sign() <= 0 {
			return model.Order{}, fmt.Errorf("limit price must be positive, got %s", limitPrice)
		}
	case model.OrderMarket:
		limitPrice = decimal.Zero
	default:
		return model.Order{}, fmt.Errorf("unknown order kind %q", kind)
	}

	b := e.books.Get(instrumentID)
	b.Lock()
	defer b.Unlock()

	now := e.now().UTC()
	order := model.Order{
		ID:           uuid.New(),
		AccountID:    accountID,
		InstrumentID: instrumentID,
		Side:         side,
		Kind:         kind,
		Quantity:     qty,
		LimitPrice:   limitPrice,
		Status:       model.StatusOpen,
		CreatedAt:    now,
	}

	fills, err := b.Preview(accountID, side, kind, qty, limitPrice)
	if err != nil {
		return model.Order{}, err
	}
	var fillQty int64
	fillCost := decimal.Zero
	for _, f := range fills {
		fillQty += f.Quantity
		fillCost = fillCost.Add(f.Price.Mul(decimal.NewFromInt(f.Quantity)))
	}
	if kind == model.OrderMarket && fillQty < qty && e.cfg.MarketRemainder == MarketRemainderReject {
		return model.Order{}, fmt.Errorf("market order needs %d shares, resting liquidity covers %d", qty, fillQty)
	}

	var trades []model.Trade
	err = e.store.Update(ctx, func(tx store.Tx) error {
		trades = nil
		if _, err := tx.GetInstrument(instrumentID); err != nil {
			return err
		}
		if _, err := tx.GetAccount(accountID); err != nil {
			return err
		}

		// Reserve the worst case: full escrow for limit orders, the exact
		// walk cost (or executable quantity) for market orders.
		switch {
		case side == model.SideBuy && kind == model.OrderLimit:
			reserve := limitPrice.Mul(decimal.NewFromInt(qty))
			if err := ledger.AcquireCash(tx, accountID, reserve, model.LockOrder, order.ID, now); err != nil {
				return err
			}
		case side == model.SideBuy && kind == model.OrderMarket:
			if fillQty > 0 {
				if err := ledger.AcquireCash(tx, accountID, fillCost, model.LockOrder, order.ID, now); err != nil {
					return err
				}
			}
		case side == model.SideSell && kind == model.OrderLimit:
			if err := ledger.AcquireShares(tx, accountID, instrumentID, qty, model.LockOrder, order.ID, now); err != nil {
				return err
			}
		default: // market sell
			if fillQty > 0 {
				if err := ledger.AcquireShares(tx, accountID, instrumentID, fillQty, model.LockOrder, order.ID, now); err != nil {
					return err
				}
			}
		}

		for _, f := range fills {
			maker, err := tx.GetOrder(f.MakerOrderID)
			if err != nil {
				return fmt.Errorf("maker order %s: %w", f.MakerOrderID, err)
			}
			if maker.Status.Terminal() {
				return fmt.Errorf("%w: maker order %s already terminal", model.ErrInvalidOrderState, maker.ID)
			}

			m := ledger.Match{
				InstrumentID: instrumentID,
				Quantity:     f.Quantity,
				Price:        f.Price,
				ExecutedAt:   now,
			}
			if side == model.SideBuy {
				m.BuyOrderID, m.BuyerID = order.ID, accountID
				m.SellOrderID, m.SellerID = maker.ID, maker.AccountID
				if kind == model.OrderLimit {
					m.BuyLockRelease = limitPrice.Mul(decimal.NewFromInt(f.Quantity))
				} else {
					m.BuyLockRelease = f.Price.Mul(decimal.NewFromInt(f.Quantity))
				}
			} else {
				m.BuyOrderID, m.BuyerID = maker.ID, maker.AccountID
				m.SellOrderID, m.SellerID = order.ID, accountID
				m.BuyLockRelease = maker.LimitPrice.Mul(decimal.NewFromInt(f.Quantity))
			}

			trade, err := ledger.Settle(tx, m)
			if err != nil {
				return err
			}
			trades = append(trades, trade)

			maker.Filled += f.Quantity
			if maker.Remaining() == 0 {
				maker.Status = model.StatusFilled
			} else {
				maker.Status = model.StatusPartial
			}
			if err := tx.PutOrder(maker); err != nil {
				return err
			}
		}

		order.Filled = fillQty
		switch {
		case fillQty == qty:
			order.Status = model.StatusFilled
		case kind == model.OrderMarket:
			// Market orders never rest; the remainder is cancelled and its
			// reservation was never taken.
			order.Status = model.StatusCancelled
		case fillQty > 0:
			order.Status = model.StatusPartial
		}
		if err := tx.PutOrder(order); err != nil {
			return err
		}
		return tx.InsertTrades(trades)
	})
	if err != nil {
		return model.Order{}, err
	}

	b.Apply(fills)
	if kind == model.OrderLimit && order.Remaining() > 0 {
		b.Add(book.Resting{
			OrderID:   order.ID,
			AccountID: accountID,
			Side:      side,
			Price:     limitPrice,
			Remaining: order.Remaining(),
			CreatedAt: now,
		})
	}
	e.publish(order, trades)

	e.logger.Debug("order placed",
		"order_id", order.ID,
		"account", accountID,
		"instrument", instrumentID,
		"side", side,
		"kind", kind,
		"filled", order.Filled,
		"status", order.Status,
	)
	return order, nil
}

// CancelOrder cancels the unfilled remainder of an order and releases its
// remaining reservation. Settled fills are untouched.
func (e *Exchange) CancelOrder(ctx context.Context, accountID string, orderID uuid.UUID) error {
	var probe model.Order
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		probe, err = tx.GetOrder(orderID)
		return err
	})
	if err != nil {
		return err
	}
	if probe.AccountID != accountID {
		return fmt.Errorf("%w: %s", model.ErrOrderNotFound, orderID)
	}

	b := e.books.Get(probe.InstrumentID)
	b.Lock()
	defer b.Unlock()

	var order model.Order
	err = e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(orderID)
		if err != nil {
			return err
		}
		if order.AccountID != accountID {
			return fmt.Errorf("%w: %s", model.ErrOrderNotFound, orderID)
		}
		if order.Status.Terminal() {
			return fmt.Errorf("%w: order %s is %s", model.ErrInvalidOrderState, orderID, order.Status)
		}
		// The order lock holds exactly the unconsumed escrow; settled fills
		// already shrank it.
		if err := ledger.Release(tx, orderID); err != nil {
			return err
		}
		order.Status = model.StatusCancelled
		return tx.PutOrder(order)
	})
	if err != nil {
		return err
	}

	b.Remove(orderID)
	if e.pub != nil {
		e.pub.PublishOrder(order)
	}
	e.logger.Debug("order cancelled", "order_id", orderID, "account", accountID, "filled", order.Filled)
	return nil
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

// AvailableBalance returns the account's cash not narrowed by locks.
func (e *Exchange) AvailableBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var avail decimal.Decimal
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		avail, err = ledger.Available(tx, accountID)
		return err
	})
	return avail, err
}

// AvailableHoldings returns the account's shares of an instrument not
// narrowed by locks.
func (e *Exchange) AvailableHoldings(ctx context.Context, accountID, instrumentID string) (int64, error) {
	var avail int64
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		avail, err = ledger.AvailableShares(tx, accountID, instrumentID)
		return err
	})
	return avail, err
}

// -----------------------------------------------------------------------------
// Accrual
// -----------------------------------------------------------------------------

// StartAccrual begins or reconfigures time-based share accrual for an
// account. rates may be nil to split the tier rate evenly.
func (e *Exchange) StartAccrual(ctx context.Context, accountID string, instrumentIDs []string, rates []int64) error {
	return e.accrual.StartAccrual(ctx, accountID, instrumentIDs, rates, e.now().UTC())
}

// ClaimAccrual materializes all accumulated shares into holdings.
func (e *Exchange) ClaimAccrual(ctx context.Context, accountID string) ([]accrual.ClaimResult, error) {
	return e.accrual.Claim(ctx, accountID, e.now().UTC())
}

// -----------------------------------------------------------------------------
// External locks
// -----------------------------------------------------------------------------

// AcquireCashLock reserves cash on behalf of an external collaborator
// (contest entry, premium redemption). Idempotent per reference.
func (e *Exchange) AcquireCashLock(ctx context.Context, accountID string, amount decimal.Decimal, lt model.LockType, ref uuid.UUID) error {
	now := e.now().UTC()
	return e.store.Update(ctx, func(tx store.Tx) error {
		return ledger.AcquireCash(tx, accountID, amount, lt, ref, now)
	})
}

// AcquireSharesLock reserves shares on behalf of an external collaborator.
func (e *Exchange) AcquireSharesLock(ctx context.Context, accountID, instrumentID string, qty int64, lt model.LockType, ref uuid.UUID) error {
	now := e.now().UTC()
	return e.store.Update(ctx, func(tx store.Tx) error {
		return ledger.AcquireShares(tx, accountID, instrumentID, qty, lt, ref, now)
	})
}

// ReleaseLock releases every lock held under ref. Safe to call repeatedly.
func (e *Exchange) ReleaseLock(ctx context.Context, ref uuid.UUID) error {
	return e.store.Update(ctx, func(tx store.Tx) error {
		return ledger.Release(tx, ref)
	})
}

// -----------------------------------------------------------------------------
// Administration
// -----------------------------------------------------------------------------

// CreateAccount registers a new account with an opening balance.
func (e *Exchange) CreateAccount(ctx context.Context, accountID string, tier model.Tier, openingCash decimal.Decimal) error {
	now := e.now().UTC()
	return e.store.Update(ctx, func(tx store.Tx) error {
		return ledger.CreateAccount(tx, accountID, tier, openingCash, now)
	})
}

// Deposit credits cash to an account.
func (e *Exchange) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) error {
	return e.store.Update(ctx, func(tx store.Tx) error {
		return ledger.Deposit(tx, accountID, amount)
	})
}

// RegisterInstrument registers a tradable instrument.
func (e *Exchange) RegisterInstrument(ctx context.Context, in model.Instrument) error {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = e.now().UTC()
	}
	return e.store.Update(ctx, func(tx store.Tx) error {
		return tx.PutInstrument(in)
	})
}

// Rehydrate loads all open orders from the store into the in-memory books.
// Called once at startup before the exchange serves traffic.
func (e *Exchange) Rehydrate(ctx context.Context) error {
	var orders []model.Order
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		orders, err = tx.OpenOrders()
		return err
	})
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}
	for _, o := range orders {
		b := e.books.Get(o.InstrumentID)
		b.Lock()
		b.Add(book.Resting{
			OrderID:   o.ID,
			AccountID: o.AccountID,
			Side:      o.Side,
			Price:     o.LimitPrice,
			Remaining: o.Remaining(),
			CreatedAt: o.CreatedAt,
		})
		b.Unlock()
	}
	e.logger.Info("order books rehydrated", "open_orders", len(orders))
	return nil
}

// Depth returns the aggregated book for an instrument, best levels first.
func (e *Exchange) Depth(instrumentID string) (bids, asks []book.Level) {
	b := e.books.Get(instrumentID)
	b.Lock()
	defer b.Unlock()
	return b.Depth()
}

func (e *Exchange) publish(order model.Order, trades []model.Trade) {
	if e.pub == nil {
		return
	}
	for _, t := range trades {
		e.pub.PublishTrade(t)
	}
	e.pub.PublishOrder(order)
}
