package book

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fandex/exchange/internal/model"
)

// Resting is one maker order's share of the book.
type Resting struct {
	OrderID   uuid.UUID
	AccountID string
	Side      model.Side
	Price     decimal.Decimal
	Remaining int64
	CreatedAt time.Time
}

// Fill is one proposed match against a maker, at the maker's price.
type Fill struct {
	MakerOrderID   uuid.UUID
	MakerAccountID string
	Quantity       int64
	Price          decimal.Decimal
}

// Level is an aggregated price level, used for depth views.
type Level struct {
	Price    decimal.Decimal
	Quantity int64
}

type level struct {
	price  decimal.Decimal
	orders []Resting // FIFO within the level
}

// Book holds the resting orders of one instrument.
type Book struct {
	mu           sync.Mutex
	instrumentID string
	bids         []*level // Descending price
	asks         []*level // Ascending price
	index        map[uuid.UUID]model.Side
}

// New creates an empty book for one instrument.
func New(instrumentID string) *Book {
	return &Book{
		instrumentID: instrumentID,
		index:        make(map[uuid.UUID]model.Side),
	}
}

// Lock serializes all matching against this instrument. Callers hold it
// across Preview, settlement, and Apply.
func (b *Book) Lock() { b.mu.Lock() }

// Unlock releases the instrument's matching lock.
func (b *Book) Unlock() { b.mu.Unlock() }

// Add rests a maker order. Caller must hold the book lock.
func (b *Book) Add(r Resting) {
	if r.Remaining <= 0 {
		return
	}
	levels := b.sideLevels(r.Side)
	i, exact := b.findLevel(r.Side, r.Price)
	if exact {
		(*levels)[i].orders = append((*levels)[i].orders, r)
	} else {
		lv := &level{price: r.Price, orders: []Resting{r}}
		*levels = append(*levels, nil)
		copy((*levels)[i+1:], (*levels)[i:])
		(*levels)[i] = lv
	}
	b.index[r.OrderID] = r.Side
}

// Remove deletes a resting order, reporting whether it was present.
// Caller must hold the book lock.
func (b *Book) Remove(orderID uuid.UUID) bool {
	side, ok := b.index[orderID]
	if !ok {
		return false
	}
	levels := b.sideLevels(side)
	for i, lv := range *levels {
		for j, r := range lv.orders {
			if r.OrderID != orderID {
				continue
			}
			lv.orders = append(lv.orders[:j], lv.orders[j+1:]...)
			if len(lv.orders) == 0 {
				*levels = append((*levels)[:i], (*levels)[i+1:]...)
			}
			delete(b.index, orderID)
			return true
		}
	}
	delete(b.index, orderID)
	return false
}

// Preview walks opposing liquidity in price-time order and returns the fills
// an aggressor of the given side/kind/quantity would take, without mutating
// the book. Limit aggressors stop at their limit price; market aggressors
// walk every level. Matching against the aggressor's own resting order
// aborts with model.ErrSelfTrade. Caller must hold the book lock.
func (b *Book) Preview(accountID string, side model.Side, kind model.OrderKind, qty int64, limit decimal.Decimal) ([]Fill, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("preview quantity must be positive, got %d", qty)
	}
	opposing := b.asks
	if side == model.SideSell {
		opposing = b.bids
	}

	remaining := qty
	var fills []Fill
	for _, lv := range opposing {
		if remaining == 0 {
			break
		}
		if kind == model.OrderLimit && !crosses(side, limit, lv.price) {
			break
		}
		for _, maker := range lv.orders {
			if remaining == 0 {
				break
			}
			if maker.AccountID == accountID {
				return nil, fmt.Errorf("%w: order would match own resting order %s", model.ErrSelfTrade, maker.OrderID)
			}
			take := min(remaining, maker.Remaining)
			fills = append(fills, Fill{
				MakerOrderID:   maker.OrderID,
				MakerAccountID: maker.AccountID,
				Quantity:       take,
				Price:          maker.Price,
			})
			remaining -= take
		}
	}
	return fills, nil
}

// Apply consumes previewed fills from the book. Caller must hold the book
// lock, and the book must not have changed since the Preview.
func (b *Book) Apply(fills []Fill) {
	for _, f := range fills {
		side, ok := b.index[f.MakerOrderID]
		if !ok {
			continue
		}
		levels := b.sideLevels(side)
		i, exact := b.findLevel(side, f.Price)
		if !exact {
			continue
		}
		lv := (*levels)[i]
		for j := range lv.orders {
			if lv.orders[j].OrderID != f.MakerOrderID {
				continue
			}
			lv.orders[j].Remaining -= f.Quantity
			if lv.orders[j].Remaining <= 0 {
				delete(b.index, f.MakerOrderID)
				lv.orders = append(lv.orders[:j], lv.orders[j+1:]...)
				if len(lv.orders) == 0 {
					*levels = append((*levels)[:i], (*levels)[i+1:]...)
				}
			}
			break
		}
	}
}

// BestBid returns the highest resting buy price.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	if len(b.bids) == 0 {
		return decimal.Zero, false
	}
	return b.bids[0].price, true
}

// BestAsk returns the lowest resting sell price.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	if len(b.asks) == 0 {
		return decimal.Zero, false
	}
	return b.asks[0].price, true
}

// Depth returns aggregated bid and ask levels, best first.
func (b *Book) Depth() (bids, asks []Level) {
	for _, lv := range b.bids {
		bids = append(bids, aggregate(lv))
	}
	for _, lv := range b.asks {
		asks = append(asks, aggregate(lv))
	}
	return bids, asks
}

func aggregate(lv *level) Level {
	var qty int64
	for _, r := range lv.orders {
		qty += r.Remaining
	}
	return Level{Price: lv.price, Quantity: qty}
}

func (b *Book) sideLevels(side model.Side) *[]*level {
	if side == model.SideBuy {
		return &b.bids
	}
	return &b.asks
}

// findLevel locates the level index for price on the given side, returning
// whether an exact level exists there or the insertion point otherwise.
func (b *Book) findLevel(side model.Side, price decimal.Decimal) (int, bool) {
	levels := *b.sideLevels(side)
	var i int
	if side == model.SideBuy {
		i = sort.Search(len(levels), func(k int) bool {
			return levels[k].price.LessThanOrEqual(price)
		})
	} else {
		i = sort.Search(len(levels), func(k int) bool {
			return levels[k].price.GreaterThanOrEqual(price)
		})
	}
	if i < len(levels) && levels[i].price.Equal(price) {
		return i, true
	}
	return i, false
}

// crosses reports whether an aggressing limit price reaches a maker level.
func crosses(side model.Side, limit, levelPrice decimal.Decimal) bool {
	if side == model.SideBuy {
		return levelPrice.LessThanOrEqual(limit)
	}
	return levelPrice.GreaterThanOrEqual(limit)
}

// Books is the per-instrument book registry.
type Books struct {
	mu sync.Mutex
	m  map[string]*Book
}

// NewBooks creates an empty registry.
func NewBooks() *Books {
	return &Books{m: make(map[string]*Book)}
}

// Get returns the instrument's book, creating it on first use.
func (bs *Books) Get(instrumentID string) *Book {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.m[instrumentID]
	if !ok {
		b = New(instrumentID)
		bs.m[instrumentID] = b
	}
	return b
}
