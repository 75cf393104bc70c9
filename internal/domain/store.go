package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// ReportStore persists weather reports keyed by (location, date).
type ReportStore interface {
	Upsert(ctx context.Context, report WeatherReport) error
	Get(ctx context.Context, key ReportKey) (WeatherReport, error)
	ListFinalizedBefore(ctx context.Context, before time.Time) ([]WeatherReport, error)
	ListUnfinalized(ctx context.Context) ([]WeatherReport, error)
}

// DisputeStore persists disputes keyed by their incrementing id.
type DisputeStore interface {
	Upsert(ctx context.Context, d Dispute) error
	GetByID(ctx context.Context, id int64) (Dispute, error)
	GetActiveByReport(ctx context.Context, key ReportKey) (Dispute, error)
	ListResolvedBefore(ctx context.Context, before time.Time) ([]Dispute, error)
	MaxID(ctx context.Context) (int64, error)
}

// ReporterStore persists the reporter registry.
type ReporterStore interface {
	Upsert(ctx context.Context, r Reporter) error
	List(ctx context.Context) ([]Reporter, error)
}

// ArbitratorStore persists the arbitrator registry.
type ArbitratorStore interface {
	Upsert(ctx context.Context, a Arbitrator) error
	List(ctx context.Context) ([]Arbitrator, error)
}

// MarketStore persists markets keyed by id.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// OrderStore persists resting orders keyed by id.
type OrderStore interface {
	Upsert(ctx context.Context, o Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Order, error)
}

// PositionStore persists claim-unit balances and side supplies.
type PositionStore interface {
	UpsertBalance(ctx context.Context, b PositionBalance) error
	UpsertSide(ctx context.Context, s TokenSide) error
	GetBalance(ctx context.Context, marketID string, side Side, holder string) (PositionBalance, error)
	ListByMarket(ctx context.Context, marketID string) ([]PositionBalance, error)
	ListSides(ctx context.Context, marketID string) ([]TokenSide, error)
}

// AuditEntry is a single append-only audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists the append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
