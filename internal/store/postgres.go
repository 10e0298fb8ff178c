package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fandex/exchange/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Postgres is the production Store backend. Transactions run at serializable
// isolation; serialization failures surface as model.ErrConflict so callers
// can retry.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema applies the embedded schema. All statements are idempotent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Update implements Store.
func (p *Postgres) Update(ctx context.Context, fn func(tx Tx) error) error {
	return p.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

// View implements Store.
func (p *Postgres) View(ctx context.Context, fn func(tx Tx) error) error {
	return p.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (p *Postgres) run(ctx context.Context, opts pgx.TxOptions, fn func(tx Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return mapPgErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgErr(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// Close implements Store.
func (p *Postgres) Close() {
	p.pool.Close()
}

// mapPgErr converts serialization and deadlock failures into the retryable
// domain conflict error.
func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", model.ErrConflict, pgErr.Message)
		}
	}
	return err
}

type pgTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *pgTx) GetAccount(id string) (model.Account, error) {
	var (
		a    model.Account
		cash string
	)
	err := t.tx.QueryRow(t.ctx,
		`SELECT id, cash::text, tier, created_at FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &cash, &a.Tier, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, model.ErrAccountNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account: %w", err)
	}
	if a.Cash, err = decimal.NewFromString(cash); err != nil {
		return model.Account{}, fmt.Errorf("parse cash: %w", err)
	}
	return a, nil
}

func (t *pgTx) PutAccount(a model.Account) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO accounts (id, cash, tier, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET cash = EXCLUDED.cash, tier = EXCLUDED.tier
	`, a.ID, a.Cash.String(), string(a.Tier), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	return nil
}

func (t *pgTx) GetInstrument(id string) (model.Instrument, error) {
	var in model.Instrument
	err := t.tx.QueryRow(t.ctx,
		`SELECT id, kind, name, created_at FROM instruments WHERE id = $1`, id,
	).Scan(&in.ID, &in.Kind, &in.Name, &in.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Instrument{}, model.ErrInstrumentNotFound
	}
	if err != nil {
		return model.Instrument{}, fmt.Errorf("get instrument: %w", err)
	}
	return in, nil
}

func (t *pgTx) PutInstrument(in model.Instrument) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO instruments (id, kind, name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, name = EXCLUDED.name
	`, in.ID, string(in.Kind), in.Name, in.CreatedAt)
	if err != nil {
		return fmt.Errorf("put instrument: %w", err)
	}
	return nil
}

func (t *pgTx) ListInstruments() ([]model.Instrument, error) {
	rows, err := t.tx.Query(t.ctx,
		`SELECT id, kind, name, created_at FROM instruments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		var in model.Instrument
		if err := rows.Scan(&in.ID, &in.Kind, &in.Name, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (t *pgTx) GetHolding(accountID, instrumentID string) (model.Holding, error) {
	var (
		h                  model.Holding
		avgCost, totalCost string
	)
	err := t.tx.QueryRow(t.ctx, `
		SELECT account_id, instrument_id, quantity, avg_cost::text, total_cost::text
		FROM holdings WHERE account_id = $1 AND instrument_id = $2
	`, accountID, instrumentID).Scan(&h.AccountID, &h.InstrumentID, &h.Quantity, &avgCost, &totalCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Holding{AccountID: accountID, InstrumentID: instrumentID}, nil
	}
	if err != nil {
		return model.Holding{}, fmt.Errorf("get holding: %w", err)
	}
	if h.AvgCost, err = decimal.NewFromString(avgCost); err != nil {
		return model.Holding{}, fmt.Errorf("parse avg_cost: %w", err)
	}
	if h.TotalCost, err = decimal.NewFromString(totalCost); err != nil {
		return model.Holding{}, fmt.Errorf("parse total_cost: %w", err)
	}
	return h, nil
}

func (t *pgTx) PutHolding(h model.Holding) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO holdings (account_id, instrument_id, quantity, avg_cost, total_cost)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, instrument_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			avg_cost = EXCLUDED.avg_cost,
			total_cost = EXCLUDED.total_cost
	`, h.AccountID, h.InstrumentID, h.Quantity, h.AvgCost.String(), h.TotalCost.String())
	if err != nil {
		return fmt.Errorf("put holding: %w", err)
	}
	return nil
}

func (t *pgTx) BalanceLocks(accountID string) ([]model.BalanceLock, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT reference_id, account_id, lock_type, amount::text, created_at
		FROM balance_locks WHERE account_id = $1 ORDER BY created_at, reference_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("balance locks: %w", err)
	}
	defer rows.Close()
	return scanBalanceLocks(rows)
}

func (t *pgTx) HoldingsLocks(accountID, instrumentID string) ([]model.HoldingsLock, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT reference_id, instrument_id, account_id, lock_type, quantity, created_at
		FROM holdings_locks WHERE account_id = $1 AND instrument_id = $2
		ORDER BY created_at, reference_id
	`, accountID, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("holdings locks: %w", err)
	}
	defer rows.Close()
	return scanHoldingsLocks(rows)
}

func (t *pgTx) LocksByReference(ref uuid.UUID) ([]model.BalanceLock, []model.HoldingsLock, error) {
	bRows, err := t.tx.Query(t.ctx, `
		SELECT reference_id, account_id, lock_type, amount::text, created_at
		FROM balance_locks WHERE reference_id = $1
	`, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("locks by reference: %w", err)
	}
	bls, err := scanBalanceLocks(bRows)
	bRows.Close()
	if err != nil {
		return nil, nil, err
	}

	hRows, err := t.tx.Query(t.ctx, `
		SELECT reference_id, instrument_id, account_id, lock_type, quantity, created_at
		FROM holdings_locks WHERE reference_id = $1 ORDER BY instrument_id
	`, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("locks by reference: %w", err)
	}
	hls, err := scanHoldingsLocks(hRows)
	hRows.Close()
	if err != nil {
		return nil, nil, err
	}
	return bls, hls, nil
}

func (t *pgTx) PutBalanceLock(l model.BalanceLock) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO balance_locks (reference_id, account_id, lock_type, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reference_id) DO UPDATE SET amount = EXCLUDED.amount
	`, l.ReferenceID, l.AccountID, string(l.Type), l.Amount.String(), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("put balance lock: %w", err)
	}
	return nil
}

func (t *pgTx) PutHoldingsLock(l model.HoldingsLock) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO holdings_locks (reference_id, instrument_id, account_id, lock_type, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (reference_id, instrument_id) DO UPDATE SET quantity = EXCLUDED.quantity
	`, l.ReferenceID, l.InstrumentID, l.AccountID, string(l.Type), l.Quantity, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("put holdings lock: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteLocksByReference(ref uuid.UUID) error {
	if _, err := t.tx.Exec(t.ctx, `DELETE FROM balance_locks WHERE reference_id = $1`, ref); err != nil {
		return fmt.Errorf("delete balance lock: %w", err)
	}
	if _, err := t.tx.Exec(t.ctx, `DELETE FROM holdings_locks WHERE reference_id = $1`, ref); err != nil {
		return fmt.Errorf("delete holdings lock: %w", err)
	}
	return nil
}

func (t *pgTx) AllBalanceLocks() ([]model.BalanceLock, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT reference_id, account_id, lock_type, amount::text, created_at
		FROM balance_locks ORDER BY created_at, reference_id
	`)
	if err != nil {
		return nil, fmt.Errorf("all balance locks: %w", err)
	}
	defer rows.Close()
	return scanBalanceLocks(rows)
}

func (t *pgTx) AllHoldingsLocks() ([]model.HoldingsLock, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT reference_id, instrument_id, account_id, lock_type, quantity, created_at
		FROM holdings_locks ORDER BY created_at, reference_id
	`)
	if err != nil {
		return nil, fmt.Errorf("all holdings locks: %w", err)
	}
	defer rows.Close()
	return scanHoldingsLocks(rows)
}

func (t *pgTx) GetOrder(id uuid.UUID) (model.Order, error) {
	var (
		o          model.Order
		limitPrice string
	)
	err := t.tx.QueryRow(t.ctx, `
		SELECT id, account_id, instrument_id, side, kind, quantity, filled, limit_price::text, status, created_at
		FROM orders WHERE id = $1
	`, id).Scan(&o.ID, &o.AccountID, &o.InstrumentID, &o.Side, &o.Kind,
		&o.Quantity, &o.Filled, &limitPrice, &o.Status, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Order{}, model.ErrOrderNotFound
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}
	if o.LimitPrice, err = decimal.NewFromString(limitPrice); err != nil {
		return model.Order{}, fmt.Errorf("parse limit_price: %w", err)
	}
	return o, nil
}

func (t *pgTx) PutOrder(o model.Order) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO orders (id, account_id, instrument_id, side, kind, quantity, filled, limit_price, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET filled = EXCLUDED.filled, status = EXCLUDED.status
	`, o.ID, o.AccountID, o.InstrumentID, string(o.Side), string(o.Kind),
		o.Quantity, o.Filled, o.LimitPrice.String(), string(o.Status), o.CreatedAt)
	if err != nil {
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

func (t *pgTx) OpenOrders() ([]model.Order, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT id, account_id, instrument_id, side, kind, quantity, filled, limit_price::text, status, created_at
		FROM orders WHERE status IN ('open', 'partial') ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var (
			o          model.Order
			limitPrice string
		)
		if err := rows.Scan(&o.ID, &o.AccountID, &o.InstrumentID, &o.Side, &o.Kind,
			&o.Quantity, &o.Filled, &limitPrice, &o.Status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if o.LimitPrice, err = decimal.NewFromString(limitPrice); err != nil {
			return nil, fmt.Errorf("parse limit_price: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// InsertTrades queues all rows in one batch round trip.
func (t *pgTx) InsertTrades(trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, tr := range trades {
		batch.Queue(`
			INSERT INTO trades (id, instrument_id, buyer_id, seller_id, buy_order_id, sell_order_id, quantity, price, executed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, tr.ID, tr.InstrumentID, tr.BuyerID, tr.SellerID, tr.BuyOrderID, tr.SellOrderID,
			tr.Quantity, tr.Price.String(), tr.ExecutedAt)
	}
	results := t.tx.SendBatch(t.ctx, batch)
	defer results.Close()
	for range trades {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
	}
	return nil
}

func (t *pgTx) GetAccrualState(accountID, instrumentID string) (model.AccrualState, bool, error) {
	var (
		s                       model.AccrualState
		lastClaimed, capReached *time.Time
	)
	err := t.tx.QueryRow(t.ctx, `
		SELECT account_id, instrument_id, accumulated, residual_ms, last_accrued_at, last_claimed_at, cap_reached_at
		FROM accrual_states WHERE account_id = $1 AND instrument_id = $2
	`, accountID, instrumentID).Scan(&s.AccountID, &s.InstrumentID, &s.Accumulated,
		&s.ResidualMs, &s.LastAccruedAt, &lastClaimed, &capReached)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AccrualState{}, false, nil
	}
	if err != nil {
		return model.AccrualState{}, false, fmt.Errorf("get accrual state: %w", err)
	}
	if lastClaimed != nil {
		s.LastClaimedAt = *lastClaimed
	}
	if capReached != nil {
		s.CapReachedAt = *capReached
	}
	return s, true, nil
}

func (t *pgTx) PutAccrualState(s model.AccrualState) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO accrual_states (account_id, instrument_id, accumulated, residual_ms, last_accrued_at, last_claimed_at, cap_reached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, instrument_id) DO UPDATE SET
			accumulated = EXCLUDED.accumulated,
			residual_ms = EXCLUDED.residual_ms,
			last_accrued_at = EXCLUDED.last_accrued_at,
			last_claimed_at = EXCLUDED.last_claimed_at,
			cap_reached_at = EXCLUDED.cap_reached_at
	`, s.AccountID, s.InstrumentID, s.Accumulated, s.ResidualMs, s.LastAccruedAt,
		nullTime(s.LastClaimedAt), nullTime(s.CapReachedAt))
	if err != nil {
		return fmt.Errorf("put accrual state: %w", err)
	}
	return nil
}

func (t *pgTx) AccrualStates(accountID string) ([]model.AccrualState, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT account_id, instrument_id, accumulated, residual_ms, last_accrued_at, last_claimed_at, cap_reached_at
		FROM accrual_states WHERE account_id = $1 ORDER BY instrument_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("accrual states: %w", err)
	}
	defer rows.Close()

	var out []model.AccrualState
	for rows.Next() {
		var (
			s                       model.AccrualState
			lastClaimed, capReached *time.Time
		)
		if err := rows.Scan(&s.AccountID, &s.InstrumentID, &s.Accumulated,
			&s.ResidualMs, &s.LastAccruedAt, &lastClaimed, &capReached); err != nil {
			return nil, fmt.Errorf("scan accrual state: %w", err)
		}
		if lastClaimed != nil {
			s.LastClaimedAt = *lastClaimed
		}
		if capReached != nil {
			s.CapReachedAt = *capReached
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) AccrualSplits(accountID string) ([]model.AccrualSplit, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT account_id, instrument_id, rate_per_hour
		FROM accrual_splits WHERE account_id = $1 ORDER BY instrument_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("accrual splits: %w", err)
	}
	defer rows.Close()

	var out []model.AccrualSplit
	for rows.Next() {
		var s model.AccrualSplit
		if err := rows.Scan(&s.AccountID, &s.InstrumentID, &s.RatePerHour); err != nil {
			return nil, fmt.Errorf("scan accrual split: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) PutAccrualSplit(s model.AccrualSplit) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO accrual_splits (account_id, instrument_id, rate_per_hour)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, instrument_id) DO UPDATE SET rate_per_hour = EXCLUDED.rate_per_hour
	`, s.AccountID, s.InstrumentID, s.RatePerHour)
	if err != nil {
		return fmt.Errorf("put accrual split: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteAccrualSplits(accountID string) error {
	if _, err := t.tx.Exec(t.ctx, `DELETE FROM accrual_splits WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("delete accrual splits: %w", err)
	}
	return nil
}

func (t *pgTx) AccountsWithSplits() ([]string, error) {
	rows, err := t.tx.Query(t.ctx,
		`SELECT DISTINCT account_id FROM accrual_splits ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("accounts with splits: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertClaim(c model.ClaimRecord) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO claims (id, account_id, instrument_id, shares, claimed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.AccountID, c.InstrumentID, c.Shares, c.ClaimedAt)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (t *pgTx) ClaimExists(id uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(t.ctx,
		`SELECT EXISTS (SELECT 1 FROM claims WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("claim exists: %w", err)
	}
	return exists, nil
}

func scanBalanceLocks(rows pgx.Rows) ([]model.BalanceLock, error) {
	var out []model.BalanceLock
	for rows.Next() {
		var (
			l      model.BalanceLock
			amount string
		)
		if err := rows.Scan(&l.ReferenceID, &l.AccountID, &l.Type, &amount, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan balance lock: %w", err)
		}
		var err error
		if l.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse lock amount: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanHoldingsLocks(rows pgx.Rows) ([]model.HoldingsLock, error) {
	var out []model.HoldingsLock
	for rows.Next() {
		var l model.HoldingsLock
		if err := rows.Scan(&l.ReferenceID, &l.InstrumentID, &l.AccountID, &l.Type,
			&l.Quantity, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan holdings lock: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
