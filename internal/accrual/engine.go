package accrual

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fandex/exchange/internal/ledger"
	"github.com/fandex/exchange/internal/model"
	"github.com/fandex/exchange/internal/store"
)

// Limits is the accrual rate and cap for one tier.
type Limits struct {
	RatePerHour int64
	CapLimit    int64
}

// Config holds engine settings.
type Config struct {
	Tiers            map[model.Tier]Limits
	SweepInterval    time.Duration // How often the background sweep ticks all accounts
	SweepConcurrency int           // Max accounts ticked in parallel
}

// ClaimResult reports one instrument's share of a claim.
type ClaimResult struct {
	InstrumentID  string
	SharesClaimed int64
}

// Engine runs accrual ticks and claims against the store. The background
// sweep keeps states current; ticks are also safe to run on demand since
// they converge under at-least-once application.
type Engine struct {
	cfg    Config
	store  store.Store
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an accrual engine.
func NewEngine(cfg Config, st store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, store: st, logger: logger}
}

// limits returns the tier's rate and cap, falling back to standard.
func (e *Engine) limits(tier model.Tier) Limits {
	if l, ok := e.cfg.Tiers[tier]; ok {
		return l
	}
	return e.cfg.Tiers[model.TierStandard]
}

// StartAccrual begins (or reconfigures) accrual for an account across the
// given instruments. rates decomposes the account's total rate per
// instrument; a nil rates splits the tier rate evenly, remainder to the
// first instrument. Accrued time under the previous splits is settled
// before the new rates take effect.
func (e *Engine) StartAccrual(ctx context.Context, accountID string, instrumentIDs []string, rates []int64, now time.Time) error {
	if len(instrumentIDs) == 0 {
		return fmt.Errorf("at least one instrument required")
	}
	return e.store.Update(ctx, func(tx store.Tx) error {
		acct, err := tx.GetAccount(accountID)
		if err != nil {
			return err
		}
		lim := e.limits(acct.Tier)

		if rates == nil {
			rates = evenSplit(lim.RatePerHour, len(instrumentIDs))
		}
		if len(rates) != len(instrumentIDs) {
			return fmt.Errorf("rate split has %d entries for %d instruments", len(rates), len(instrumentIDs))
		}
		var totalRate int64
		for i, r := range rates {
			if r <= 0 {
				return fmt.Errorf("rate for %s must be positive, got %d", instrumentIDs[i], r)
			}
			totalRate += r
		}
		if totalRate > lim.RatePerHour {
			return fmt.Errorf("rate split total %d exceeds tier rate %d", totalRate, lim.RatePerHour)
		}
		for _, id := range instrumentIDs {
			if _, err := tx.GetInstrument(id); err != nil {
				return fmt.Errorf("instrument %s: %w", id, err)
			}
		}

		// Settle time earned under the old split before replacing it.
		if err := e.tickTx(tx, accountID, now); err != nil {
			return err
		}
		if err := tx.DeleteAccrualSplits(accountID); err != nil {
			return err
		}
		for i, id := range instrumentIDs {
			split := model.AccrualSplit{AccountID: accountID, InstrumentID: id, RatePerHour: rates[i]}
			if err := tx.PutAccrualSplit(split); err != nil {
				return err
			}
			if _, ok, err := tx.GetAccrualState(accountID, id); err != nil {
				return err
			} else if !ok {
				st := model.AccrualState{AccountID: accountID, InstrumentID: id, LastAccruedAt: now.UTC()}
				if err := tx.PutAccrualState(st); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Tick advances all of one account's accrual states to now.
func (e *Engine) Tick(ctx context.Context, accountID string, now time.Time) error {
	return e.store.Update(ctx, func(tx store.Tx) error {
		return e.tickTx(tx, accountID, now)
	})
}

// tickTx runs the shared-cap tick for one account inside an open
// transaction. Every state counts against the one cap, including unclaimed
// shares left behind by removed splits.
func (e *Engine) tickTx(tx store.Tx, accountID string, now time.Time) error {
	acct, err := tx.GetAccount(accountID)
	if err != nil {
		return err
	}
	lim := e.limits(acct.Tier)

	splits, err := tx.AccrualSplits(accountID)
	if err != nil {
		return err
	}
	states, err := tx.AccrualStates(accountID)
	if err != nil {
		return err
	}
	var totalAccumulated int64
	for _, st := range states {
		totalAccumulated += st.Accumulated
	}

	sort.Slice(splits, func(i, j int) bool { return splits[i].InstrumentID < splits[j].InstrumentID })
	for _, split := range splits {
		st, ok, err := tx.GetAccrualState(accountID, split.InstrumentID)
		if err != nil {
			return err
		}
		if !ok {
			st = model.AccrualState{AccountID: accountID, InstrumentID: split.InstrumentID, LastAccruedAt: now.UTC()}
			if err := tx.PutAccrualState(st); err != nil {
				return err
			}
			continue
		}

		res := ComputeTick(TickInput{
			Accumulated:   st.Accumulated,
			ResidualMs:    st.ResidualMs,
			LastAccruedAt: st.LastAccruedAt,
			RatePerHour:   split.RatePerHour,
			CapRemaining:  lim.CapLimit - totalAccumulated,
			Now:           now.UTC(),
		})
		if res.Awarded == 0 && res.LastAccruedAt.Equal(st.LastAccruedAt) {
			continue
		}

		st.Accumulated = res.Accumulated
		st.ResidualMs = res.ResidualMs
		st.LastAccruedAt = res.LastAccruedAt
		if res.CapReached && st.CapReachedAt.IsZero() {
			st.CapReachedAt = now.UTC()
		}
		if err := tx.PutAccrualState(st); err != nil {
			return err
		}
		totalAccumulated += res.Awarded
	}
	return nil
}

// Claim ticks the account to now, then moves every accumulated share into
// the corresponding holding as a zero-cost-basis credit, the one path that
// mints new shares. Returns model.ErrNothingAccrued when there is nothing
// to move.
func (e *Engine) Claim(ctx context.Context, accountID string, now time.Time) ([]ClaimResult, error) {
	var results []ClaimResult
	err := e.store.Update(ctx, func(tx store.Tx) error {
		results = nil
		if err := e.tickTx(tx, accountID, now); err != nil {
			return err
		}
		states, err := tx.AccrualStates(accountID)
		if err != nil {
			return err
		}
		for _, st := range states {
			if st.Accumulated == 0 {
				continue
			}
			if err := ledger.CreditShares(tx, accountID, st.InstrumentID, st.Accumulated, decimal.Zero); err != nil {
				return err
			}
			if err := tx.InsertClaim(model.ClaimRecord{
				ID:           uuid.New(),
				AccountID:    accountID,
				InstrumentID: st.InstrumentID,
				Shares:       st.Accumulated,
				ClaimedAt:    now.UTC(),
			}); err != nil {
				return err
			}
			results = append(results, ClaimResult{InstrumentID: st.InstrumentID, SharesClaimed: st.Accumulated})

			st.Accumulated = 0
			st.ResidualMs = 0
			st.LastAccruedAt = now.UTC()
			st.LastClaimedAt = now.UTC()
			st.CapReachedAt = time.Time{}
			if err := tx.PutAccrualState(st); err != nil {
				return err
			}
		}
		if len(results) == 0 {
			return model.ErrNothingAccrued
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Start launches the background sweep.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.run()

	e.logger.Info("accrual sweep started",
		"interval", e.cfg.SweepInterval,
		"concurrency", e.cfg.SweepConcurrency,
	)
	return nil
}

// Stop shuts down the background sweep.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info("accrual sweep stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

// sweep ticks every account that has active splits.
func (e *Engine) sweep() {
	start := time.Now()

	var accounts []string
	err := e.store.View(e.ctx, func(tx store.Tx) error {
		var err error
		accounts, err = tx.AccountsWithSplits()
		return err
	})
	if err != nil {
		e.logger.Error("accrual sweep: list accounts failed", "error", err)
		return
	}
	if len(accounts) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(e.ctx)
	g.SetLimit(max(e.cfg.SweepConcurrency, 1))
	for _, id := range accounts {
		id := id
		g.Go(func() error {
			if err := e.Tick(ctx, id, time.Now().UTC()); err != nil {
				e.logger.Warn("accrual tick failed", "account", id, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	e.logger.Debug("accrual sweep complete",
		"accounts", len(accounts),
		"duration", time.Since(start),
	)
}

// evenSplit divides rate across n instruments, remainder to the first.
func evenSplit(rate int64, n int) []int64 {
	out := make([]int64, n)
	base := rate / int64(n)
	rem := rate % int64(n)
	for i := range out {
		out[i] = base
	}
	out[0] += rem
	return out
}
