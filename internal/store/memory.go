package store

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/fandex/exchange/internal/model"
)

type pairKey struct {
	account    string
	instrument string
}

type holdingsLockKey struct {
	ref        uuid.UUID
	instrument string
}

// memState holds all entity tables. Every value is a plain value type, so a
// shallow map copy is a full snapshot.
type memState struct {
	accounts      map[string]model.Account
	instruments   map[string]model.Instrument
	holdings      map[pairKey]model.Holding
	balanceLocks  map[uuid.UUID]model.BalanceLock
	holdingsLocks map[holdingsLockKey]model.HoldingsLock
	orders        map[uuid.UUID]model.Order
	trades        []model.Trade
	accrual       map[pairKey]model.AccrualState
	splits        map[pairKey]model.AccrualSplit
	claims        []model.ClaimRecord
}

func newMemState() memState {
	return memState{
		accounts:      make(map[string]model.Account),
		instruments:   make(map[string]model.Instrument),
		holdings:      make(map[pairKey]model.Holding),
		balanceLocks:  make(map[uuid.UUID]model.BalanceLock),
		holdingsLocks: make(map[holdingsLockKey]model.HoldingsLock),
		orders:        make(map[uuid.UUID]model.Order),
		accrual:       make(map[pairKey]model.AccrualState),
		splits:        make(map[pairKey]model.AccrualSplit),
	}
}

func (s memState) snapshot() memState {
	return memState{
		accounts:      maps.Clone(s.accounts),
		instruments:   maps.Clone(s.instruments),
		holdings:      maps.Clone(s.holdings),
		balanceLocks:  maps.Clone(s.balanceLocks),
		holdingsLocks: maps.Clone(s.holdingsLocks),
		orders:        maps.Clone(s.orders),
		trades:        s.trades[:len(s.trades):len(s.trades)],
		accrual:       maps.Clone(s.accrual),
		splits:        maps.Clone(s.splits),
		claims:        s.claims[:len(s.claims):len(s.claims)],
	}
}

// Memory is an in-process Store. A single mutex serializes transactions;
// rollback restores a snapshot taken at transaction start.
type Memory struct {
	mu    sync.Mutex
	state memState
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

// Update implements Store.
func (m *Memory) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.state.snapshot()
	if err := fn(&memTx{state: &m.state}); err != nil {
		m.state = snap
		return err
	}
	return nil
}

// View implements Store. The state is restored unconditionally afterwards,
// so a write slipped into a View callback never survives.
func (m *Memory) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.state.snapshot()
	err := fn(&memTx{state: &m.state})
	m.state = snap
	return err
}

// Close implements Store.
func (m *Memory) Close() {}

// memTx implements Tx over memState.
type memTx struct {
	state *memState
}

func (t *memTx) GetAccount(id string) (model.Account, error) {
	a, ok := t.state.accounts[id]
	if !ok {
		return model.Account{}, model.ErrAccountNotFound
	}
	return a, nil
}

func (t *memTx) PutAccount(a model.Account) error {
	t.state.accounts[a.ID] = a
	return nil
}

func (t *memTx) GetInstrument(id string) (model.Instrument, error) {
	in, ok := t.state.instruments[id]
	if !ok {
		return model.Instrument{}, model.ErrInstrumentNotFound
	}
	return in, nil
}

func (t *memTx) PutInstrument(in model.Instrument) error {
	t.state.instruments[in.ID] = in
	return nil
}

func (t *memTx) ListInstruments() ([]model.Instrument, error) {
	out := make([]model.Instrument, 0, len(t.state.instruments))
	for _, in := range t.state.instruments {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) GetHolding(accountID, instrumentID string) (model.Holding, error) {
	if h, ok := t.state.holdings[pairKey{accountID, instrumentID}]; ok {
		return h, nil
	}
	return model.Holding{AccountID: accountID, InstrumentID: instrumentID}, nil
}

func (t *memTx) PutHolding(h model.Holding) error {
	t.state.holdings[pairKey{h.AccountID, h.InstrumentID}] = h
	return nil
}

func (t *memTx) BalanceLocks(accountID string) ([]model.BalanceLock, error) {
	var out []model.BalanceLock
	for _, l := range t.state.balanceLocks {
		if l.AccountID == accountID {
			out = append(out, l)
		}
	}
	sortBalanceLocks(out)
	return out, nil
}

func (t *memTx) HoldingsLocks(accountID, instrumentID string) ([]model.HoldingsLock, error) {
	var out []model.HoldingsLock
	for _, l := range t.state.holdingsLocks {
		if l.AccountID == accountID && l.InstrumentID == instrumentID {
			out = append(out, l)
		}
	}
	sortHoldingsLocks(out)
	return out, nil
}

func (t *memTx) LocksByReference(ref uuid.UUID) ([]model.BalanceLock, []model.HoldingsLock, error) {
	var bls []model.BalanceLock
	if l, ok := t.state.balanceLocks[ref]; ok {
		bls = append(bls, l)
	}
	var hls []model.HoldingsLock
	for k, l := range t.state.holdingsLocks {
		if k.ref == ref {
			hls = append(hls, l)
		}
	}
	sortHoldingsLocks(hls)
	return bls, hls, nil
}

func (t *memTx) PutBalanceLock(l model.BalanceLock) error {
	t.state.balanceLocks[l.ReferenceID] = l
	return nil
}

func (t *memTx) PutHoldingsLock(l model.HoldingsLock) error {
	t.state.holdingsLocks[holdingsLockKey{l.ReferenceID, l.InstrumentID}] = l
	return nil
}

func (t *memTx) DeleteLocksByReference(ref uuid.UUID) error {
	delete(t.state.balanceLocks, ref)
	for k := range t.state.holdingsLocks {
		if k.ref == ref {
			delete(t.state.holdingsLocks, k)
		}
	}
	return nil
}

func (t *memTx) AllBalanceLocks() ([]model.BalanceLock, error) {
	out := make([]model.BalanceLock, 0, len(t.state.balanceLocks))
	for _, l := range t.state.balanceLocks {
		out = append(out, l)
	}
	sortBalanceLocks(out)
	return out, nil
}

func (t *memTx) AllHoldingsLocks() ([]model.HoldingsLock, error) {
	out := make([]model.HoldingsLock, 0, len(t.state.holdingsLocks))
	for _, l := range t.state.holdingsLocks {
		out = append(out, l)
	}
	sortHoldingsLocks(out)
	return out, nil
}

func (t *memTx) GetOrder(id uuid.UUID) (model.Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return model.Order{}, model.ErrOrderNotFound
	}
	return o, nil
}

func (t *memTx) PutOrder(o model.Order) error {
	t.state.orders[o.ID] = o
	return nil
}

func (t *memTx) OpenOrders() ([]model.Order, error) {
	var out []model.Order
	for _, o := range t.state.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (t *memTx) InsertTrades(trades []model.Trade) error {
	t.state.trades = append(t.state.trades, trades...)
	return nil
}

func (t *memTx) GetAccrualState(accountID, instrumentID string) (model.AccrualState, bool, error) {
	s, ok := t.state.accrual[pairKey{accountID, instrumentID}]
	return s, ok, nil
}

func (t *memTx) PutAccrualState(s model.AccrualState) error {
	t.state.accrual[pairKey{s.AccountID, s.InstrumentID}] = s
	return nil
}

func (t *memTx) AccrualStates(accountID string) ([]model.AccrualState, error) {
	var out []model.AccrualState
	for k, s := range t.state.accrual {
		if k.account == accountID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out, nil
}

func (t *memTx) AccrualSplits(accountID string) ([]model.AccrualSplit, error) {
	var out []model.AccrualSplit
	for k, s := range t.state.splits {
		if k.account == accountID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out, nil
}

func (t *memTx) PutAccrualSplit(s model.AccrualSplit) error {
	t.state.splits[pairKey{s.AccountID, s.InstrumentID}] = s
	return nil
}

func (t *memTx) DeleteAccrualSplits(accountID string) error {
	for k := range t.state.splits {
		if k.account == accountID {
			delete(t.state.splits, k)
		}
	}
	return nil
}

func (t *memTx) AccountsWithSplits() ([]string, error) {
	seen := make(map[string]bool)
	for k := range t.state.splits {
		seen[k.account] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (t *memTx) InsertClaim(c model.ClaimRecord) error {
	t.state.claims = append(t.state.claims, c)
	return nil
}

func (t *memTx) ClaimExists(id uuid.UUID) (bool, error) {
	for _, c := range t.state.claims {
		if c.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func sortBalanceLocks(ls []model.BalanceLock) {
	sort.Slice(ls, func(i, j int) bool {
		if !ls[i].CreatedAt.Equal(ls[j].CreatedAt) {
			return ls[i].CreatedAt.Before(ls[j].CreatedAt)
		}
		return ls[i].ReferenceID.String() < ls[j].ReferenceID.String()
	})
}

func sortHoldingsLocks(ls []model.HoldingsLock) {
	sort.Slice(ls, func(i, j int) bool {
		if !ls[i].CreatedAt.Equal(ls[j].CreatedAt) {
			return ls[i].CreatedAt.Before(ls[j].CreatedAt)
		}
		return ls[i].ReferenceID.String() < ls[j].ReferenceID.String()
	})
}
