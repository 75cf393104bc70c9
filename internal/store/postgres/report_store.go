package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whetherfun/weathermark/internal/domain"
)

// ReportStore implements domain.ReportStore using PostgreSQL. The aggregate
// row lives in weather_reports and per-reporter readings in report_readings;
// Upsert replaces both inside one transaction so a report is never persisted
// half-updated.
type ReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore creates a new ReportStore backed by the given connection pool.
func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// Upsert inserts or updates a weather report and its readings.
func (s *ReportStore) Upsert(ctx context.Context, report domain.WeatherReport) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: upsert report %s: begin: %w", report.Key, err)
	}
	defer tx.Rollback(ctx)

	const reportQuery = `
		INSERT INTO weather_reports (
			location_id, date_key, finalized, value, outcome, finalized_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (location_id, date_key) DO UPDATE SET
			finalized    = EXCLUDED.finalized,
			value        = EXCLUDED.value,
			outcome      = EXCLUDED.outcome,
			finalized_at = EXCLUDED.finalized_at,
			updated_at   = EXCLUDED.updated_at`

	_, err = tx.Exec(ctx, reportQuery,
		report.Key.LocationID, report.Key.DateKey,
		report.Finalized, report.Value, report.Outcome,
		report.FinalizedAt, report.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert report %s: %w", report.Key, err)
	}

	const readingQuery = `
		INSERT INTO report_readings (
			location_id, date_key, reporter,
			temperature, temperature_max, temperature_min,
			precipitation, visibility, wind_speed, wind_gust,
			pressure, humidity, conditions, source_hash, submitted_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)
		ON CONFLICT (location_id, date_key, reporter) DO UPDATE SET
			temperature     = EXCLUDED.temperature,
			temperature_max = EXCLUDED.temperature_max,
			temperature_min = EXCLUDED.temperature_min,
			precipitation   = EXCLUDED.precipitation,
			visibility      = EXCLUDED.visibility,
			wind_speed      = EXCLUDED.wind_speed,
			wind_gust       = EXCLUDED.wind_gust,
			pressure        = EXCLUDED.pressure,
			humidity        = EXCLUDED.humidity,
			conditions      = EXCLUDED.conditions,
			source_hash     = EXCLUDED.source_hash,
			submitted_at    = EXCLUDED.submitted_at`

	for reporter, r := range report.Readings {
		_, err = tx.Exec(ctx, readingQuery,
			report.Key.LocationID, report.Key.DateKey, reporter,
			r.Temperature, r.TemperatureMax, r.TemperatureMin,
			r.Precipitation, r.Visibility, r.WindSpeed, r.WindGust,
			r.Pressure, r.Humidity, string(r.Conditions), r.SourceHash, r.SubmittedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: upsert reading %s/%s: %w", report.Key, reporter, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: upsert report %s: commit: %w", report.Key, err)
	}
	return nil
}

// Get returns the report for the key, including all readings.
func (s *ReportStore) Get(ctx context.Context, key domain.ReportKey) (domain.WeatherReport, error) {
	const query = `
		SELECT finalized, value, outcome, finalized_at, updated_at
		FROM weather_reports
		WHERE location_id = $1 AND date_key = $2`

	report := domain.WeatherReport{Key: key, Readings: make(map[string]domain.Reading)}
	err := s.pool.QueryRow(ctx, query, key.LocationID, key.DateKey).Scan(
		&report.Finalized, &report.Value, &report.Outcome,
		&report.FinalizedAt, &report.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WeatherReport{}, fmt.Errorf("postgres: report %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.WeatherReport{}, fmt.Errorf("postgres: get report %s: %w", key, err)
	}

	if err := s.loadReadings(ctx, &report); err != nil {
		return domain.WeatherReport{}, err
	}
	return report, nil
}

// ListFinalizedBefore returns reports finalized strictly before the cutoff,
// including readings, for archival.
func (s *ReportStore) ListFinalizedBefore(ctx context.Context, before time.Time) ([]domain.WeatherReport, error) {
	const query = `
		SELECT location_id, date_key, finalized, value, outcome, finalized_at, updated_at
		FROM weather_reports
		WHERE finalized AND finalized_at < $1
		ORDER BY finalized_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list finalized reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.WeatherReport
	for rows.Next() {
		report := domain.WeatherReport{Readings: make(map[string]domain.Reading)}
		if err := rows.Scan(
			&report.Key.LocationID, &report.Key.DateKey,
			&report.Finalized, &report.Value, &report.Outcome,
			&report.FinalizedAt, &report.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list finalized reports rows: %w", err)
	}

	for i := range reports {
		if err := s.loadReadings(ctx, &reports[i]); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

// ListUnfinalized returns reports still awaiting consensus, including
// readings, so a restarted engine can resume aggregation mid-flight.
func (s *ReportStore) ListUnfinalized(ctx context.Context) ([]domain.WeatherReport, error) {
	const query = `
		SELECT location_id, date_key, finalized, value, outcome, finalized_at, updated_at
		FROM weather_reports
		WHERE NOT finalized
		ORDER BY updated_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unfinalized reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.WeatherReport
	for rows.Next() {
		report := domain.WeatherReport{Readings: make(map[string]domain.Reading)}
		if err := rows.Scan(
			&report.Key.LocationID, &report.Key.DateKey,
			&report.Finalized, &report.Value, &report.Outcome,
			&report.FinalizedAt, &report.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unfinalized reports rows: %w", err)
	}

	for i := range reports {
		if err := s.loadReadings(ctx, &reports[i]); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

func (s *ReportStore) loadReadings(ctx context.Context, report *domain.WeatherReport) error {
	const query = `
		SELECT reporter, temperature, temperature_max, temperature_min,
		       precipitation, visibility, wind_speed, wind_gust,
		       pressure, humidity, conditions, source_hash, submitted_at
		FROM report_readings
		WHERE location_id = $1 AND date_key = $2`

	rows, err := s.pool.Query(ctx, query, report.Key.LocationID, report.Key.DateKey)
	if err != nil {
		return fmt.Errorf("postgres: load readings %s: %w", report.Key, err)
	}
	defer rows.Close()

	for rows.Next() {
		var reporter, conditions string
		var r domain.Reading
		if err := rows.Scan(
			&reporter, &r.Temperature, &r.TemperatureMax, &r.TemperatureMin,
			&r.Precipitation, &r.Visibility, &r.WindSpeed, &r.WindGust,
			&r.Pressure, &r.Humidity, &conditions, &r.SourceHash, &r.SubmittedAt,
		); err != nil {
			return fmt.Errorf("postgres: scan reading %s: %w", report.Key, err)
		}
		r.Conditions = domain.Conditions(conditions)
		report.Readings[reporter] = r
	}
	return rows.Err()
}
