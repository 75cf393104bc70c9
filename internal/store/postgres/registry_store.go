package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whetherfun/weathermark/internal/domain"
)

// ReporterStore implements domain.ReporterStore using PostgreSQL.
type ReporterStore struct {
	pool *pgxpool.Pool
}

// NewReporterStore creates a new ReporterStore backed by the given connection pool.
func NewReporterStore(pool *pgxpool.Pool) *ReporterStore {
	return &ReporterStore{pool: pool}
}

// Upsert inserts or updates a reporter record.
func (s *ReporterStore) Upsert(ctx context.Context, r domain.Reporter) error {
	const query = `
		INSERT INTO reporters (address, name, active, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			name   = EXCLUDED.name,
			active = EXCLUDED.active`

	if _, err := s.pool.Exec(ctx, query, r.Address, r.Name, r.Active, r.AddedAt); err != nil {
		return fmt.Errorf("postgres: upsert reporter %s: %w", r.Address, err)
	}
	return nil
}

// List returns all reporters, active and deactivated.
func (s *ReporterStore) List(ctx context.Context) ([]domain.Reporter, error) {
	const query = `SELECT address, name, active, added_at FROM reporters ORDER BY added_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list reporters: %w", err)
	}
	defer rows.Close()

	var reporters []domain.Reporter
	for rows.Next() {
		var r domain.Reporter
		if err := rows.Scan(&r.Address, &r.Name, &r.Active, &r.AddedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan reporter: %w", err)
		}
		reporters = append(reporters, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list reporters rows: %w", err)
	}
	return reporters, nil
}

// ArbitratorStore implements domain.ArbitratorStore using PostgreSQL.
type ArbitratorStore struct {
	pool *pgxpool.Pool
}

// NewArbitratorStore creates a new ArbitratorStore backed by the given connection pool.
func NewArbitratorStore(pool *pgxpool.Pool) *ArbitratorStore {
	return &ArbitratorStore{pool: pool}
}

// Upsert inserts or updates an arbitrator record.
func (s *ArbitratorStore) Upsert(ctx context.Context, a domain.Arbitrator) error {
	const query = `
		INSERT INTO arbitrators (address, name, weight, active, disputes_resolved, added_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE SET
			name              = EXCLUDED.name,
			weight            = EXCLUDED.weight,
			active            = EXCLUDED.active,
			disputes_resolved = EXCLUDED.disputes_resolved`

	_, err := s.pool.Exec(ctx, query,
		a.Address, a.Name, a.Weight, a.Active, a.DisputesResolved, a.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert arbitrator %s: %w", a.Address, err)
	}
	return nil
}

// List returns all arbitrators, active and deactivated.
func (s *ArbitratorStore) List(ctx context.Context) ([]domain.Arbitrator, error) {
	const query = `
		SELECT address, name, weight, active, disputes_resolved, added_at
		FROM arbitrators ORDER BY added_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arbitrators: %w", err)
	}
	defer rows.Close()

	var arbitrators []domain.Arbitrator
	for rows.Next() {
		var a domain.Arbitrator
		if err := rows.Scan(&a.Address, &a.Name, &a.Weight, &a.Active, &a.DisputesResolved, &a.AddedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan arbitrator: %w", err)
		}
		arbitrators = append(arbitrators, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list arbitrators rows: %w", err)
	}
	return arbitrators, nil
}
