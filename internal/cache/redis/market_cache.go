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

const marketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache using Redis hashes with JSON-
// serialized Market data and a secondary location index.
//
// Key schema:
//
//	market:{id}           - hash with field "data" containing JSON
//	market:loc:{location} - set of market IDs observing that location
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(id string) string     { return "market:" + id }
func marketLocKey(loc string) string { return "market:loc:" + loc }

// Set stores a Market in the cache with a 5-minute TTL and adds it to the
// location index so settlement workers can find the markets watching a
// station without a database scan.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.ID, err)
	}

	key := marketKey(market.ID)

	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, marketTTL)

	if market.LocationID != "" {
		locKey := marketLocKey(market.LocationID)
		pipe.SAdd(ctx, locKey, market.ID)
		pipe.Expire(ctx, locKey, marketTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.ID, err)
	}
	return nil
}

// Get retrieves a Market by its ID from the cache.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.Market, error) {
	data, err := mc.rdb.HGet(ctx, marketKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return market, nil
}

// IDsByLocation returns the cached market IDs observing a location. A missing
// index entry yields an empty slice, not an error.
func (mc *MarketCache) IDsByLocation(ctx context.Context, locationID string) ([]string, error) {
	ids, err := mc.rdb.SMembers(ctx, marketLocKey(locationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: markets by location %s: %w", locationID, err)
	}
	return ids, nil
}

// Invalidate removes a Market and its location index entry from the cache.
func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	// Read the market first so the location index can be cleaned up.
	market, err := mc.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}

	pipe := mc.rdb.TxPipeline()
	pipe.Del(ctx, marketKey(id))

	if err == nil && market.LocationID != "" {
		pipe.SRem(ctx, marketLocKey(market.LocationID), id)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
