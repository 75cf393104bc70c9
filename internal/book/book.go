// Package book keeps resting limit orders against active markets. It is an
// escrow-and-quote book rather than a matcher: orders lock the owner's
// collateral when placed and release it exactly once, on cancel. An order
// past its expiry stops quoting but keeps its escrow until the owner cancels;
// there is no background sweeper.
package book

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whetherfun/weathermark/internal/domain"
)

// DefaultMinOrder is the smallest accepted order amount, in micro-units.
const DefaultMinOrder = 1 * domain.Micro

// MarketGate answers whether a market can accept new orders right now. The
// market engine implements it; tests substitute a stub.
type MarketGate interface {
	CanAcceptOrders(marketID string, now time.Time) error
}

// Book is the single-writer order store. All mutation happens under the book
// lock. Expiry is a derived property: reads report an order past its deadline
// as expired without touching stored state, and only Cancel moves escrow.
type Book struct {
	mu       sync.Mutex
	nowFn    func() time.Time
	gate     MarketGate
	minOrder int64

	orders   map[string]*domain.Order
	byMarket map[string]map[string]*domain.Order
	escrowed map[string]int64 // marketID -> locked collateral
}

// New creates a Book gated by the given market engine.
func New(gate MarketGate) *Book {
	return &Book{
		nowFn:    time.Now,
		gate:     gate,
		minOrder: DefaultMinOrder,
		orders:   make(map[string]*domain.Order),
		byMarket: make(map[string]map[string]*domain.Order),
		escrowed: make(map[string]int64),
	}
}

// WithClock overrides the book clock. Intended for tests and replay.
func (b *Book) WithClock(nowFn func() time.Time) *Book {
	b.nowFn = nowFn
	return b
}

// WithMinOrder overrides the minimum order amount. Values below one are
// ignored.
func (b *Book) WithMinOrder(min int64) *Book {
	if min > 0 {
		b.minOrder = min
	}
	return b
}

// PlaceParams describes a new resting order.
type PlaceParams struct {
	Owner    string
	MarketID string
	Side     domain.Side
	PriceBps int64
	Amount   int64
	Expiry   time.Time
}

// Place escrows the owner's collateral and rests the order. Prices are basis
// points strictly inside (0, 10000); only yes/no orders are accepted, the
// amount must meet the book minimum, and the market must currently admit
// orders.
func (b *Book) Place(p PlaceParams) (domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFn()
	if p.Side != domain.SideYes && p.Side != domain.SideNo {
		return domain.Order{}, fmt.Errorf("book: side %q not quotable: %w", p.Side, domain.ErrValidation)
	}
	if p.PriceBps <= 0 || p.PriceBps >= domain.BpsDenom {
		return domain.Order{}, fmt.Errorf("book: price %d bps outside (0, %d): %w", p.PriceBps, domain.BpsDenom, domain.ErrValidation)
	}
	if p.Amount <= 0 {
		return domain.Order{}, fmt.Errorf("book: amount %d: %w", p.Amount, domain.ErrValidation)
	}
	if p.Amount < b.minOrder {
		return domain.Order{}, fmt.Errorf("book: amount %d below minimum %d: %w", p.Amount, b.minOrder, domain.ErrInsufficient)
	}
	if !p.Expiry.After(now) {
		return domain.Order{}, fmt.Errorf("book: order expiry %s not in the future: %w", p.Expiry, domain.ErrValidation)
	}
	if err := b.gate.CanAcceptOrders(p.MarketID, now); err != nil {
		return domain.Order{}, err
	}

	o := &domain.Order{
		ID:        uuid.New().String(),
		MarketID:  p.MarketID,
		Owner:     p.Owner,
		Side:      p.Side,
		PriceBps:  p.PriceBps,
		Amount:    p.Amount,
		Expiry:    p.Expiry,
		Status:    domain.OrderStatusActive,
		CreatedAt: now,
	}
	b.insert(o)
	return *o, nil
}

// Restore reinstates a persisted active order without gate or price checks;
// those passed when the order was originally placed. Orders already past
// expiry are restored too, since their escrow is still owed to the owner.
func (b *Book) Restore(o domain.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o.Status != domain.OrderStatusActive {
		return fmt.Errorf("book: restore order %s in status %s: %w", o.ID, o.Status, domain.ErrInvalidState)
	}
	if _, exists := b.orders[o.ID]; exists {
		return fmt.Errorf("book: restore order %s: %w", o.ID, domain.ErrAlreadyExists)
	}

	oo := o
	b.insert(&oo)
	return nil
}

func (b *Book) insert(o *domain.Order) {
	b.orders[o.ID] = o
	mkt := b.byMarket[o.MarketID]
	if mkt == nil {
		mkt = make(map[string]*domain.Order)
		b.byMarket[o.MarketID] = mkt
	}
	mkt[o.ID] = o
	b.escrowed[o.MarketID] += o.Amount
}

// Cancel releases an active order's escrow back to its owner. Only the
// order's owner may cancel. An order past its expiry is still cancellable;
// that is the only path that reclaims its escrow.
func (b *Book) Cancel(owner, orderID string) (domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("book: order %s: %w", orderID, domain.ErrNotFound)
	}
	if o.Owner != owner {
		return domain.Order{}, fmt.Errorf("book: order %s: caller %q is not owner: %w", orderID, owner, domain.ErrUnauthorized)
	}
	if o.Status != domain.OrderStatusActive {
		return domain.Order{}, fmt.Errorf("book: order %s: status %s: %w", orderID, o.Status, domain.ErrInvalidState)
	}

	now := b.nowFn()
	o.Status = domain.OrderStatusCancelled
	o.CancelledAt = &now
	b.escrowed[o.MarketID] -= o.Amount
	return b.render(o, now), nil
}

// Get returns a copy of the order. Orders past expiry are reported as
// expired without mutating the book.
func (b *Book) Get(orderID string) (domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("book: order %s: %w", orderID, domain.ErrNotFound)
	}
	return b.render(o, b.nowFn()), nil
}

// ListByMarket returns every order for a market; ordering is not guaranteed.
func (b *Book) ListByMarket(marketID string) []domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFn()
	out := make([]domain.Order, 0, len(b.byMarket[marketID]))
	for _, o := range b.byMarket[marketID] {
		out = append(out, b.render(o, now))
	}
	return out
}

// Summary computes the per-market quote snapshot. Expired orders are
// excluded from best bids, volumes, and the active count, but their escrow
// still shows as locked until cancelled.
func (b *Book) Summary(marketID string) domain.BookSummary {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFn()
	s := domain.BookSummary{
		MarketID:  marketID,
		Escrowed:  b.escrowed[marketID],
		UpdatedAt: now,
	}
	for _, o := range b.byMarket[marketID] {
		if !b.quotable(o, now) {
			continue
		}
		s.ActiveOrders++
		switch o.Side {
		case domain.SideYes:
			s.YesVolume += o.Amount
			if o.PriceBps > s.BestYesBid {
				s.BestYesBid = o.PriceBps
			}
		case domain.SideNo:
			s.NoVolume += o.Amount
			if o.PriceBps > s.BestNoBid {
				s.BestNoBid = o.PriceBps
			}
		}
	}
	return s
}

// quotable reports whether an order still counts toward quotes.
func (b *Book) quotable(o *domain.Order, now time.Time) bool {
	return o.Status == domain.OrderStatusActive && now.Before(o.Expiry)
}

// render copies an order for callers, deriving the expired status for active
// orders past their deadline. Stored state is never changed here.
func (b *Book) render(o *domain.Order, now time.Time) domain.Order {
	out := *o
	if out.Status == domain.OrderStatusActive && !now.Before(out.Expiry) {
		out.Status = domain.OrderStatusExpired
	}
	return out
}
