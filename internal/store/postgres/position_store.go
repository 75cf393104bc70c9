package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whetherfun/weathermark/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Side
// supplies live in token_sides; holder balances in position_balances. A zero
// balance upsert deletes the row so the table only carries live positions.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// UpsertBalance writes one holder's balance, removing the row when it hits zero.
func (s *PositionStore) UpsertBalance(ctx context.Context, b domain.PositionBalance) error {
	if b.Amount == 0 {
		const del = `DELETE FROM position_balances WHERE market_id = $1 AND side = $2 AND holder = $3`
		if _, err := s.pool.Exec(ctx, del, b.MarketID, string(b.Side), b.Holder); err != nil {
			return fmt.Errorf("postgres: delete balance %s/%s/%s: %w", b.MarketID, b.Side, b.Holder, err)
		}
		return nil
	}

	const query = `
		INSERT INTO position_balances (market_id, side, holder, amount, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id, side, holder) DO UPDATE SET
			amount     = EXCLUDED.amount,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query, b.MarketID, string(b.Side), b.Holder, b.Amount, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert balance %s/%s/%s: %w", b.MarketID, b.Side, b.Holder, err)
	}
	return nil
}

// UpsertSide writes one side's supply summary.
func (s *PositionStore) UpsertSide(ctx context.Context, ts domain.TokenSide) error {
	const query = `
		INSERT INTO token_sides (market_id, side, total_supply, winning, alloc, settle_supply, paid_out)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (market_id, side) DO UPDATE SET
			total_supply  = EXCLUDED.total_supply,
			winning       = EXCLUDED.winning,
			alloc         = EXCLUDED.alloc,
			settle_supply = EXCLUDED.settle_supply,
			paid_out      = EXCLUDED.paid_out`

	_, err := s.pool.Exec(ctx, query,
		ts.MarketID, string(ts.Side), ts.TotalSupply, ts.Winning,
		ts.Alloc, ts.SettleSupply, ts.PaidOut,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert side %s/%s: %w", ts.MarketID, ts.Side, err)
	}
	return nil
}

// GetBalance returns one holder's balance, ErrNotFound when no row exists.
func (s *PositionStore) GetBalance(ctx context.Context, marketID string, side domain.Side, holder string) (domain.PositionBalance, error) {
	const query = `
		SELECT market_id, side, holder, amount, updated_at
		FROM position_balances
		WHERE market_id = $1 AND side = $2 AND holder = $3`

	var b domain.PositionBalance
	var sideStr string
	err := s.pool.QueryRow(ctx, query, marketID, string(side), holder).Scan(
		&b.MarketID, &sideStr, &b.Holder, &b.Amount, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PositionBalance{}, fmt.Errorf("postgres: balance %s/%s/%s: %w", marketID, side, holder, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PositionBalance{}, fmt.Errorf("postgres: get balance %s/%s/%s: %w", marketID, side, holder, err)
	}
	b.Side = domain.Side(sideStr)
	return b, nil
}

// ListByMarket returns all live balances for a market.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.PositionBalance, error) {
	const query = `
		SELECT market_id, side, holder, amount, updated_at
		FROM position_balances
		WHERE market_id = $1
		ORDER BY side, holder`

	rows, err := s.pool.Query(ctx, query, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances for %s: %w", marketID, err)
	}
	defer rows.Close()

	var balances []domain.PositionBalance
	for rows.Next() {
		var b domain.PositionBalance
		var sideStr string
		if err := rows.Scan(&b.MarketID, &sideStr, &b.Holder, &b.Amount, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		b.Side = domain.Side(sideStr)
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list balances rows: %w", err)
	}
	return balances, nil
}

// ListSides returns the side summaries for a market.
func (s *PositionStore) ListSides(ctx context.Context, marketID string) ([]domain.TokenSide, error) {
	const query = `
		SELECT market_id, side, total_supply, winning, alloc, settle_supply, paid_out
		FROM token_sides
		WHERE market_id = $1
		ORDER BY side`

	rows, err := s.pool.Query(ctx, query, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sides for %s: %w", marketID, err)
	}
	defer rows.Close()

	var sides []domain.TokenSide
	for rows.Next() {
		var ts domain.TokenSide
		var sideStr string
		if err := rows.Scan(&ts.MarketID, &sideStr, &ts.TotalSupply, &ts.Winning, &ts.Alloc, &ts.SettleSupply, &ts.PaidOut); err != nil {
			return nil, fmt.Errorf("postgres: scan side: %w", err)
		}
		ts.Side = domain.Side(sideStr)
		sides = append(sides, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list sides rows: %w", err)
	}
	return sides, nil
}
