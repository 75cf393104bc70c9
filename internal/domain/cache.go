package domain

import (
	"context"
	"time"
)

// BookCache provides fast access to per-market order book summaries.
type BookCache interface {
	SetSummary(ctx context.Context, summary BookSummary) error
	GetSummary(ctx context.Context, marketID string) (BookSummary, error)
	Invalidate(ctx context.Context, marketID string) error
}

// MarketCache provides fast market snapshot lookups.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting for mutating entry points.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager serializes cross-process critical sections, such as
// settlement of a single market by competing workers.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus carries JSON state-transition events between processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
