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

// DisputeStore implements domain.DisputeStore using PostgreSQL. Votes are
// stored as a JSONB array on the dispute row; the vote list is small and
// always read with its dispute.
type DisputeStore struct {
	pool *pgxpool.Pool
}

// NewDisputeStore creates a new DisputeStore backed by the given connection pool.
func NewDisputeStore(pool *pgxpool.Pool) *DisputeStore {
	return &DisputeStore{pool: pool}
}

// Upsert inserts or updates a dispute.
func (s *DisputeStore) Upsert(ctx context.Context, d domain.Dispute) error {
	votes, err := json.Marshal(d.Votes)
	if err != nil {
		return fmt.Errorf("postgres: marshal votes for dispute %d: %w", d.ID, err)
	}

	const query = `
		INSERT INTO disputes (
			id, location_id, date_key, disputer, stake,
			evidence, additional_evidence, status, votes, resolved_by,
			created_at, escalated_at, resolved_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13
		)
		ON CONFLICT (id) DO UPDATE SET
			stake               = EXCLUDED.stake,
			additional_evidence = EXCLUDED.additional_evidence,
			status              = EXCLUDED.status,
			votes               = EXCLUDED.votes,
			resolved_by         = EXCLUDED.resolved_by,
			escalated_at        = EXCLUDED.escalated_at,
			resolved_at         = EXCLUDED.resolved_at`

	_, err = s.pool.Exec(ctx, query,
		d.ID, d.Key.LocationID, d.Key.DateKey, d.Disputer, d.Stake,
		d.Evidence, d.AdditionalEvidence, string(d.Status), votes, d.ResolvedBy,
		d.CreatedAt, d.EscalatedAt, d.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert dispute %d: %w", d.ID, err)
	}
	return nil
}

// GetByID returns the dispute with the given id.
func (s *DisputeStore) GetByID(ctx context.Context, id int64) (domain.Dispute, error) {
	const query = `
		SELECT id, location_id, date_key, disputer, stake,
		       evidence, additional_evidence, status, votes, resolved_by,
		       created_at, escalated_at, resolved_at
		FROM disputes WHERE id = $1`

	d, err := scanDispute(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Dispute{}, fmt.Errorf("postgres: dispute %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("postgres: get dispute %d: %w", id, err)
	}
	return d, nil
}

// GetActiveByReport returns the open or escalated dispute for the report key.
func (s *DisputeStore) GetActiveByReport(ctx context.Context, key domain.ReportKey) (domain.Dispute, error) {
	const query = `
		SELECT id, location_id, date_key, disputer, stake,
		       evidence, additional_evidence, status, votes, resolved_by,
		       created_at, escalated_at, resolved_at
		FROM disputes
		WHERE location_id = $1 AND date_key = $2 AND status IN ('open', 'escalated')`

	d, err := scanDispute(s.pool.QueryRow(ctx, query, key.LocationID, key.DateKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Dispute{}, fmt.Errorf("postgres: no active dispute for %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("postgres: get active dispute %s: %w", key, err)
	}
	return d, nil
}

// ListResolvedBefore returns disputes resolved strictly before the cutoff.
func (s *DisputeStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Dispute, error) {
	const query = `
		SELECT id, location_id, date_key, disputer, stake,
		       evidence, additional_evidence, status, votes, resolved_by,
		       created_at, escalated_at, resolved_at
		FROM disputes
		WHERE resolved_at IS NOT NULL AND resolved_at < $1
		ORDER BY resolved_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved disputes: %w", err)
	}
	defer rows.Close()

	var disputes []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan dispute: %w", err)
		}
		disputes = append(disputes, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list resolved disputes rows: %w", err)
	}
	return disputes, nil
}

// MaxID returns the highest dispute id, or 0 when the table is empty.
func (s *DisputeStore) MaxID(ctx context.Context) (int64, error) {
	var max int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM disputes`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("postgres: max dispute id: %w", err)
	}
	return max, nil
}

func scanDispute(row pgx.Row) (domain.Dispute, error) {
	var d domain.Dispute
	var status string
	var votes []byte

	err := row.Scan(
		&d.ID, &d.Key.LocationID, &d.Key.DateKey, &d.Disputer, &d.Stake,
		&d.Evidence, &d.AdditionalEvidence, &status, &votes, &d.ResolvedBy,
		&d.CreatedAt, &d.EscalatedAt, &d.ResolvedAt,
	)
	if err != nil {
		return domain.Dispute{}, err
	}
	d.Status = domain.DisputeStatus(status)
	if len(votes) > 0 {
		if err := json.Unmarshal(votes, &d.Votes); err != nil {
			return domain.Dispute{}, fmt.Errorf("unmarshal votes: %w", err)
		}
	}
	return d, nil
}
