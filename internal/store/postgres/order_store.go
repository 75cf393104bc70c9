package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whetherfun/weathermark/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `
	id, market_id, owner_address, side, price_bps, amount,
	expiry, status, created_at, cancelled_at, filled_at`

// Upsert inserts or updates a resting order.
func (s *OrderStore) Upsert(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, market_id, owner_address, side, price_bps, amount,
			expiry, status, created_at, cancelled_at, filled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)
		ON CONFLICT (id) DO UPDATE SET
			status       = EXCLUDED.status,
			cancelled_at = EXCLUDED.cancelled_at,
			filled_at    = EXCLUDED.filled_at`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.MarketID, o.Owner, string(o.Side), o.PriceBps, o.Amount,
		o.Expiry, string(o.Status), o.CreatedAt, o.CancelledAt, o.FilledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", o.ID, err)
	}
	return nil
}

// GetByID returns the order with the given id.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("postgres: order %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListByMarket returns orders for a market, newest first.
func (s *OrderStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE market_id = $1 ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", marketID, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list orders rows: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var side, status string

	err := row.Scan(
		&o.ID, &o.MarketID, &o.Owner, &side, &o.PriceBps, &o.Amount,
		&o.Expiry, &status, &o.CreatedAt, &o.CancelledAt, &o.FilledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.Side(side)
	o.Status = domain.OrderStatus(status)
	return o, nil
}
