package domain

import "time"

// OrderStatus tracks the resting-order lifecycle. Expired orders are not
// swept; they are marked lazily when touched after their expiry.
type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "active"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

// Order is a resting limit order: an escrowed commitment to take a position
// at the given price. Price is basis points in (0, 10000) exclusive; Amount
// is escrowed micro-units, released exactly once via cancel or fill.
type Order struct {
	ID       string
	MarketID string
	Owner    string
	Side     Side
	PriceBps int64
	Amount   int64
	Expiry   time.Time
	Status   OrderStatus

	CreatedAt   time.Time
	CancelledAt *time.Time
	FilledAt    *time.Time
}

// BookSummary is the aggregate quote snapshot of one market's book. Best
// bids are 0 when a side has no live orders; Escrowed counts every
// uncancelled order, including expired ones awaiting cancellation.
type BookSummary struct {
	MarketID     string
	BestYesBid   int64
	BestNoBid    int64
	ActiveOrders int
	YesVolume    int64
	NoVolume     int64
	Escrowed     int64
	UpdatedAt    time.Time
}
