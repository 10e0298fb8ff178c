package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Accounts & Instruments
// -----------------------------------------------------------------------------

// Tier is an account's accrual tier. It selects the accrual rate and cap.
type Tier string

const (
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// Account is a user's ledger account.
type Account struct {
	ID        string          // Resolved, trusted user identifier
	Cash      decimal.Decimal // Total cash balance (available + locked)
	Tier      Tier            // Accrual tier
	CreatedAt time.Time
}

// InstrumentKind distinguishes tradable entity shares from utility shares.
type InstrumentKind string

const (
	InstrumentEntity  InstrumentKind = "entity"
	InstrumentUtility InstrumentKind = "utility"
)

// Instrument is a tradable share class (e.g. one real-world entity).
type Instrument struct {
	ID        string
	Kind      InstrumentKind
	Name      string // Display name
	CreatedAt time.Time
}

// -----------------------------------------------------------------------------
// Holdings & Locks
// -----------------------------------------------------------------------------

// Holding is one (account, instrument) position. Created on first credit,
// never deleted; Quantity may reach zero.
type Holding struct {
	AccountID    string
	InstrumentID string
	Quantity     int64           // Total shares (available + locked)
	AvgCost      decimal.Decimal // Weighted-average purchase price per share
	TotalCost    decimal.Decimal // Total cost basis (AvgCost × Quantity, kept exact)
}

// LockType tags what a reservation is backing.
type LockType string

const (
	LockOrder   LockType = "order"   // Resting order escrow
	LockContest LockType = "contest" // Contest entry stake
	LockClaim   LockType = "claim"   // Accrual claim in flight
)

// HoldingsLock reserves shares against future consumption without moving
// ownership. One row per reservation, keyed by ReferenceID.
type HoldingsLock struct {
	AccountID    string
	InstrumentID string
	Type         LockType
	ReferenceID  uuid.UUID
	Quantity     int64
	CreatedAt    time.Time
}

// BalanceLock reserves cash with the same semantics as HoldingsLock.
type BalanceLock struct {
	AccountID   string
	Type        LockType
	ReferenceID uuid.UUID
	Amount      decimal.Decimal
	CreatedAt   time.Time
}

// -----------------------------------------------------------------------------
// Orders & Trades
// -----------------------------------------------------------------------------

// Side is the order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderKind is the order pricing kind.
type OrderKind string

const (
	OrderLimit  OrderKind = "limit"
	OrderMarket OrderKind = "market"
)

// OrderStatus is the order lifecycle state. Transitions are monotonic:
// open → partial → filled, or open|partial → cancelled. Filled and
// cancelled are terminal.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusPartial   OrderStatus = "partial"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Order is a buy or sell order. Terminal orders are retained for history.
type Order struct {
	ID           uuid.UUID
	AccountID    string
	InstrumentID string
	Side         Side
	Kind         OrderKind
	Quantity     int64
	Filled       int64
	LimitPrice   decimal.Decimal // Zero for market orders
	Status       OrderStatus
	CreatedAt    time.Time
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() int64 { return o.Quantity - o.Filled }

// Trade is one executed match. Immutable once written. References the
// participating orders by ID only; orders do not point back at trades.
type Trade struct {
	ID           uuid.UUID
	InstrumentID string
	BuyerID      string
	SellerID     string
	BuyOrderID   uuid.UUID
	SellOrderID  uuid.UUID
	Quantity     int64
	Price        decimal.Decimal // Maker's limit price
	ExecutedAt   time.Time
}

// -----------------------------------------------------------------------------
// Accrual
// -----------------------------------------------------------------------------

// AccrualState tracks time-based share accumulation for one
// (account, instrument) pair. Created lazily on first tick, never deleted.
type AccrualState struct {
	AccountID     string
	InstrumentID  string
	Accumulated   int64 // Unclaimed shares, counted against the account cap
	ResidualMs    int64 // Fractional share-time carried to the next tick
	LastAccruedAt time.Time
	LastClaimedAt time.Time // Zero until first claim
	CapReachedAt  time.Time // Zero unless the shared cap is currently hit
}

// AccrualSplit decomposes an account's accrual rate across instruments.
// All splits of one account share a single cap.
type AccrualSplit struct {
	AccountID    string
	InstrumentID string
	RatePerHour  int64 // Whole shares accrued per hour for this instrument
}

// ClaimRecord is an immutable record of accrued shares materialized into a
// holding.
type ClaimRecord struct {
	ID           uuid.UUID
	AccountID    string
	InstrumentID string
	Shares       int64
	ClaimedAt    time.Time
}
