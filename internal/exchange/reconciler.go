package exchange

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fandex/exchange/internal/ledger"
	"github.com/fandex/exchange/internal/model"
	"github.com/fandex/exchange/internal/store"
)

// ReconcilerConfig holds reconciliation settings.
type ReconcilerConfig struct {
	Interval time.Duration // How often to scan for orphaned locks
	MinAge   time.Duration // Locks younger than this are never touched
}

// DefaultReconcilerConfig returns sensible defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval: 5 * time.Minute,
		MinAge:   time.Hour,
	}
}

// Reconciler periodically releases orphaned locks: order locks whose order
// is terminal or gone, and claim locks whose claim already completed.
// Contest locks belong to an external collaborator and are only ever
// released explicitly.
type Reconciler struct {
	cfg    ReconcilerConfig
	store  store.Store
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciler creates a lock reconciler.
func NewReconciler(cfg ReconcilerConfig, st store.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{cfg: cfg, store: st, logger: logger}
}

// Start launches the reconciliation loop.
func (r *Reconciler) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("lock reconciler started",
		"interval", r.cfg.Interval,
		"min_age", r.cfg.MinAge,
	)
	return nil
}

// Stop shuts down the reconciliation loop.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("lock reconciler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			released, err := r.ReconcileOnce(r.ctx, time.Now().UTC())
			if err != nil {
				r.logger.Error("lock reconciliation failed", "error", err)
				continue
			}
			if released > 0 {
				r.logger.Info("released orphaned locks", "count", released)
			}
		}
	}
}

// ReconcileOnce runs a single reconciliation pass and returns the number of
// lock references released.
func (r *Reconciler) ReconcileOnce(ctx context.Context, now time.Time) (int, error) {
	var released int
	err := r.store.Update(ctx, func(tx store.Tx) error {
		released = 0

		bls, err := tx.AllBalanceLocks()
		if err != nil {
			return err
		}
		hls, err := tx.AllHoldingsLocks()
		if err != nil {
			return err
		}

		seen := make(map[uuid.UUID]bool)
		check := func(ref uuid.UUID, lt model.LockType, createdAt time.Time) error {
			if seen[ref] || now.Sub(createdAt) < r.cfg.MinAge {
				return nil
			}
			seen[ref] = true
			orphaned, err := r.orphaned(tx, ref, lt)
			if err != nil {
				return err
			}
			if !orphaned {
				return nil
			}
			if err := ledger.Release(tx, ref); err != nil {
				return err
			}
			released++
			return nil
		}

		for _, l := range bls {
			if err := check(l.ReferenceID, l.Type, l.CreatedAt); err != nil {
				return err
			}
		}
		for _, l := range hls {
			if err := check(l.ReferenceID, l.Type, l.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	return released, err
}

// orphaned reports whether the reference no longer backs live work.
func (r *Reconciler) orphaned(tx store.Tx, ref uuid.UUID, lt model.LockType) (bool, error) {
	switch lt {
	case model.LockOrder:
		o, err := tx.GetOrder(ref)
		if errors.Is(err, model.ErrOrderNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return o.Status.Terminal(), nil
	case model.LockClaim:
		// A completed claim leaves its record behind; the lock should have
		// been released in the same transaction.
		return tx.ClaimExists(ref)
	default:
		return false, nil
	}
}
