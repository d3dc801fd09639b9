package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lendbook/internal/book"
)

// Store provides Postgres persistence for book snapshots and the event
// journal. Amounts travel as WAD decimal strings and land in NUMERIC columns.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertPools inserts or updates pool snapshots.
func (s *Store) UpsertPools(ctx context.Context, pools []book.PoolView) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pools {
		batch.Queue(`
			INSERT INTO pools (
				id, side, limit_price, deposits, borrows,
				borrow_accumulator, deposit_accumulator, last_accrual, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
			ON CONFLICT (id)
			DO UPDATE SET
				side = EXCLUDED.side,
				limit_price = EXCLUDED.limit_price,
				deposits = EXCLUDED.deposits,
				borrows = EXCLUDED.borrows,
				borrow_accumulator = EXCLUDED.borrow_accumulator,
				deposit_accumulator = EXCLUDED.deposit_accumulator,
				last_accrual = EXCLUDED.last_accrual,
				updated_at = now()
		`,
			p.ID,
			p.Side,
			p.LimitPrice,
			p.Deposits,
			p.Borrows,
			p.BorrowAccumulator,
			p.DepositAccumulator,
			p.LastAccrual,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertOrders inserts or updates order snapshots.
func (s *Store) UpsertOrders(ctx context.Context, orders []book.OrderView) error {
	if len(orders) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range orders {
		batch.Queue(`
			INSERT INTO orders (
				id, pool_id, paired_pool_id, maker, quantity, is_buy_order, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			ON CONFLICT (id)
			DO UPDATE SET
				pool_id = EXCLUDED.pool_id,
				paired_pool_id = EXCLUDED.paired_pool_id,
				quantity = EXCLUDED.quantity,
				updated_at = now()
		`,
			int64(o.ID),
			o.PoolID,
			o.PairedPoolID,
			o.Maker,
			o.Quantity,
			o.IsBuyOrder,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range orders {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertPositions inserts or updates position snapshots.
func (s *Store) UpsertPositions(ctx context.Context, positions []book.PositionView) error {
	if len(positions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range positions {
		batch.Queue(`
			INSERT INTO positions (
				id, pool_id, borrower, borrowed_assets, created_at, updated_at
			) VALUES ($1, $2, $3, $4, now(), now())
			ON CONFLICT (id)
			DO UPDATE SET
				borrowed_assets = EXCLUDED.borrowed_assets,
				updated_at = now()
		`,
			int64(p.ID),
			p.PoolID,
			p.Borrower,
			p.BorrowedAssets,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range positions {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// InsertEvents appends journal events.
func (s *Store) InsertEvents(ctx context.Context, events []book.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO events (op, actor, pool_id, order_id, position_id, quantity, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			ev.Op,
			ev.Actor,
			ev.PoolID,
			int64(ev.OrderID),
			int64(ev.PositionID),
			ev.Quantity,
			ev.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns the last snapshot timestamp for a name.
func (s *Store) LoadState(ctx context.Context, name string) (int64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts int64
	row := s.pool.QueryRow(ctx, `SELECT last_snapshot_ts FROM book_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return ts, true, nil
}

// SaveState upserts the last snapshot timestamp for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts int64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO book_state (name, last_snapshot_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_snapshot_ts = EXCLUDED.last_snapshot_ts, updated_at = now()
	`, name, ts)
	return err
}
