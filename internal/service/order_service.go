package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/whetherfun/weathermark/internal/book"
	"github.com/whetherfun/weathermark/internal/domain"
)

// orderRateLimit caps mutating order calls per owner per second.
const (
	orderRateLimit  = 10
	orderRateWindow = time.Second
)

// OrderService wraps the resting order book with rate limiting, persistence,
// and summary caching.
type OrderService struct {
	book    *book.Book
	orders  domain.OrderStore
	cache   domain.BookCache
	limiter domain.RateLimiter
	bus     domain.SignalBus
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	b *book.Book,
	orders domain.OrderStore,
	cache domain.BookCache,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		book:    b,
		orders:  orders,
		cache:   cache,
		limiter: limiter,
		bus:     bus,
		audit:   audit,
		logger:  logger,
	}
}

// PlaceOrder escrows collateral behind a priced quote, persists the order,
// and refreshes the cached book summary.
func (s *OrderService) PlaceOrder(ctx context.Context, p book.PlaceParams) (domain.Order, error) {
	allowed, err := s.limiter.Allow(ctx, "orders:"+p.Owner, orderRateLimit, orderRateWindow)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.Order{}, fmt.Errorf("order_service: place order for %s: %w", p.Owner, domain.ErrRateLimited)
	}

	o, err := s.book.Place(p)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: place order: %w", err)
	}

	if err := s.orders.Upsert(ctx, o); err != nil {
		return domain.Order{}, fmt.Errorf("order_service: persist order %s: %w", o.ID, err)
	}
	s.refreshSummary(ctx, o.MarketID)

	evt, _ := json.Marshal(map[string]string{
		"event":    "order_placed",
		"order_id": o.ID,
		"market":   o.MarketID,
		"side":     string(o.Side),
	})
	if pubErr := s.bus.Publish(ctx, "orders", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "order_service: publish event failed",
			slog.String("order_id", o.ID),
			slog.String("error", pubErr.Error()),
		)
	}

	if auditErr := s.audit.Log(ctx, "order_placed", map[string]any{
		"order_id": o.ID,
		"market":   o.MarketID,
		"owner":    o.Owner,
		"side":     string(o.Side),
		"price":    o.PriceBps,
		"amount":   o.Amount,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "order_service: audit log failed",
			slog.String("order_id", o.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order_service: order placed",
		slog.String("order_id", o.ID),
		slog.String("market", o.MarketID),
		slog.String("side", string(o.Side)),
		slog.Int64("price_bps", o.PriceBps),
	)
	return o, nil
}

// CancelOrder releases an order's escrow and persists the terminal state.
func (s *OrderService) CancelOrder(ctx context.Context, owner, orderID string) (domain.Order, error) {
	allowed, err := s.limiter.Allow(ctx, "orders:"+owner, orderRateLimit, orderRateWindow)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.Order{}, fmt.Errorf("order_service: cancel order for %s: %w", owner, domain.ErrRateLimited)
	}

	o, err := s.book.Cancel(owner, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: cancel order %s: %w", orderID, err)
	}

	if err := s.orders.Upsert(ctx, o); err != nil {
		return domain.Order{}, fmt.Errorf("order_service: persist order %s: %w", o.ID, err)
	}
	s.refreshSummary(ctx, o.MarketID)

	evt, _ := json.Marshal(map[string]string{
		"event":    "order_cancelled",
		"order_id": o.ID,
		"market":   o.MarketID,
	})
	if pubErr := s.bus.Publish(ctx, "orders", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "order_service: publish event failed",
			slog.String("order_id", o.ID),
			slog.String("error", pubErr.Error()),
		)
	}

	if auditErr := s.audit.Log(ctx, "order_cancelled", map[string]any{
		"order_id": o.ID,
		"market":   o.MarketID,
		"owner":    o.Owner,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "order_service: audit log failed",
			slog.String("order_id", o.ID),
			slog.String("error", auditErr.Error()),
		)
	}
	return o, nil
}

// GetOrder returns one order, falling back to the store for history the book
// no longer holds.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	o, err := s.book.Get(orderID)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, fmt.Errorf("order_service: get order %s: %w", orderID, err)
	}

	o, err = s.orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get order %s: %w", orderID, err)
	}
	return o, nil
}

// ListOrders returns a market's orders from the live book.
func (s *OrderService) ListOrders(marketID string) []domain.Order {
	return s.book.ListByMarket(marketID)
}

// Summary returns the aggregate book snapshot for one market, cache first.
func (s *OrderService) Summary(ctx context.Context, marketID string) (domain.BookSummary, error) {
	summary, err := s.cache.GetSummary(ctx, marketID)
	if err == nil {
		return summary, nil
	}

	summary = s.book.Summary(marketID)
	if cacheErr := s.cache.SetSummary(ctx, summary); cacheErr != nil {
		s.logger.WarnContext(ctx, "order_service: cache summary failed",
			slog.String("market_id", marketID),
			slog.String("error", cacheErr.Error()),
		)
	}
	return summary, nil
}

// Hydrate reloads a market's resting orders from the store into the book.
// Terminal orders are skipped; expired actives lapse lazily on first touch.
func (s *OrderService) Hydrate(ctx context.Context, marketID string) error {
	orders, err := s.orders.ListByMarket(ctx, marketID, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("order_service: hydrate %s: %w", marketID, err)
	}

	restored := 0
	for _, o := range orders {
		if o.Status != domain.OrderStatusActive {
			continue
		}
		if err := s.book.Restore(o); err != nil {
			return fmt.Errorf("order_service: restore order %s: %w", o.ID, err)
		}
		restored++
	}

	s.logger.InfoContext(ctx, "order_service: hydrated",
		slog.String("market_id", marketID),
		slog.Int("orders", restored),
	)
	return nil
}

// refreshSummary rewrites the cached summary after a book mutation. Cache
// failures are non-fatal; the entry expires on its own.
func (s *OrderService) refreshSummary(ctx context.Context, marketID string) {
	if err := s.cache.SetSummary(ctx, s.book.Summary(marketID)); err != nil {
		s.logger.WarnContext(ctx, "order_service: cache summary failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}
