package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whetherfun/weathermark/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Bracket
// definitions and pools are stored as JSONB arrays; they are always read and
// written with their market.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketColumns = `
	id, description, location_id, market_type, criteria, creator, oracle,
	expiry, status, paused,
	yes_pool, no_pool, bracket_pools, brackets, scalar_lo, scalar_hi,
	unique_bettors, volume,
	outcome, winning_bracket, settlement_value, data_hash, attestation, attested_by,
	settled_at, dispute_window_end,
	dust_retained, fee_platform, fee_creator,
	created_at, updated_at`

// Upsert inserts or updates a single market.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	bracketPools, err := json.Marshal(m.BracketPools)
	if err != nil {
		return fmt.Errorf("postgres: marshal bracket pools for %s: %w", m.ID, err)
	}
	brackets, err := json.Marshal(m.Brackets)
	if err != nil {
		return fmt.Errorf("postgres: marshal brackets for %s: %w", m.ID, err)
	}

	var scalarLo, scalarHi *int64
	if m.Scalar != nil {
		scalarLo, scalarHi = &m.Scalar.Lo, &m.Scalar.Hi
	}

	const query = `
		INSERT INTO markets (
			id, description, location_id, market_type, criteria, creator, oracle,
			expiry, status, paused,
			yes_pool, no_pool, bracket_pools, brackets, scalar_lo, scalar_hi,
			unique_bettors, volume,
			outcome, winning_bracket, settlement_value, data_hash, attestation, attested_by,
			settled_at, dispute_window_end,
			dust_retained, fee_platform, fee_creator,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $18,
			$19, $20, $21, $22, $23, $24,
			$25, $26,
			$27, $28, $29,
			$30, $31
		)
		ON CONFLICT (id) DO UPDATE SET
			status             = EXCLUDED.status,
			paused             = EXCLUDED.paused,
			yes_pool           = EXCLUDED.yes_pool,
			no_pool            = EXCLUDED.no_pool,
			bracket_pools      = EXCLUDED.bracket_pools,
			unique_bettors     = EXCLUDED.unique_bettors,
			volume             = EXCLUDED.volume,
			outcome            = EXCLUDED.outcome,
			winning_bracket    = EXCLUDED.winning_bracket,
			settlement_value   = EXCLUDED.settlement_value,
			data_hash          = EXCLUDED.data_hash,
			attestation        = EXCLUDED.attestation,
			attested_by        = EXCLUDED.attested_by,
			settled_at         = EXCLUDED.settled_at,
			dispute_window_end = EXCLUDED.dispute_window_end,
			dust_retained      = EXCLUDED.dust_retained,
			fee_platform       = EXCLUDED.fee_platform,
			fee_creator        = EXCLUDED.fee_creator,
			updated_at         = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query,
		m.ID, m.Description, m.LocationID, string(m.Type), m.Criteria, m.Creator, m.Oracle,
		m.Expiry, string(m.Status), m.Paused,
		m.YesPool, m.NoPool, bracketPools, brackets, scalarLo, scalarHi,
		m.UniqueBettors, m.Volume,
		m.Outcome, m.WinningBracket, m.SettlementValue, m.DataHash, m.Attestation, m.AttestedBy,
		m.SettledAt, m.DisputeWindowEnd,
		m.DustRetained, m.FeePlatform, m.FeeCreator,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID returns the market with the given id.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE id = $1`

	m, err := scanMarket(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListByStatus returns markets in the given status, newest first. An empty
// status returns all markets.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// ListSettledBefore returns markets settled strictly before the cutoff.
func (s *MarketStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets
		WHERE settled_at IS NOT NULL AND settled_at < $1
		ORDER BY settled_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settled markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var marketType, status string
	var bracketPools, brackets []byte
	var scalarLo, scalarHi *int64

	err := row.Scan(
		&m.ID, &m.Description, &m.LocationID, &marketType, &m.Criteria, &m.Creator, &m.Oracle,
		&m.Expiry, &status, &m.Paused,
		&m.YesPool, &m.NoPool, &bracketPools, &brackets, &scalarLo, &scalarHi,
		&m.UniqueBettors, &m.Volume,
		&m.Outcome, &m.WinningBracket, &m.SettlementValue, &m.DataHash, &m.Attestation, &m.AttestedBy,
		&m.SettledAt, &m.DisputeWindowEnd,
		&m.DustRetained, &m.FeePlatform, &m.FeeCreator,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}

	m.Type = domain.MarketType(marketType)
	m.Status = domain.MarketStatus(status)
	if len(bracketPools) > 0 {
		if err := json.Unmarshal(bracketPools, &m.BracketPools); err != nil {
			return domain.Market{}, fmt.Errorf("unmarshal bracket pools: %w", err)
		}
	}
	if len(brackets) > 0 {
		if err := json.Unmarshal(brackets, &m.Brackets); err != nil {
			return domain.Market{}, fmt.Errorf("unmarshal brackets: %w", err)
		}
	}
	if scalarLo != nil && scalarHi != nil {
		m.Scalar = &domain.ScalarRange{Lo: *scalarLo, Hi: *scalarHi}
	}
	return m, nil
}
