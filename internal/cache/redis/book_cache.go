package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whetherfun/weathermark/internal/domain"
)

const bookTTL = 30 * time.Second

// BookCache implements domain.BookCache. Summaries are small and change on
// every order mutation, so they live under a short TTL as JSON strings.
//
// Key schema:
//
//	book:{marketID} - JSON-encoded BookSummary
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookKey(marketID string) string { return "book:" + marketID }

// SetSummary stores a book summary with a 30-second TTL.
func (bc *BookCache) SetSummary(ctx context.Context, summary domain.BookSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("redis: marshal book summary %s: %w", summary.MarketID, err)
	}

	if err := bc.rdb.Set(ctx, bookKey(summary.MarketID), data, bookTTL).Err(); err != nil {
		return fmt.Errorf("redis: set book summary %s: %w", summary.MarketID, err)
	}
	return nil
}

// GetSummary retrieves a book summary by market ID.
// It returns domain.ErrNotFound when the key does not exist.
func (bc *BookCache) GetSummary(ctx context.Context, marketID string) (domain.BookSummary, error) {
	data, err := bc.rdb.Get(ctx, bookKey(marketID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.BookSummary{}, domain.ErrNotFound
		}
		return domain.BookSummary{}, fmt.Errorf("redis: get book summary %s: %w", marketID, err)
	}

	var summary domain.BookSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return domain.BookSummary{}, fmt.Errorf("redis: unmarshal book summary %s: %w", marketID, err)
	}
	return summary, nil
}

// Invalidate removes a book summary from the cache.
func (bc *BookCache) Invalidate(ctx context.Context, marketID string) error {
	if err := bc.rdb.Del(ctx, bookKey(marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate book summary %s: %w", marketID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
