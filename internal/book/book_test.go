package book_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whetherfun/weathermark/internal/book"
	"github.com/whetherfun/weathermark/internal/domain"
)

type stubGate struct {
	closed map[string]bool
}

func (g *stubGate) CanAcceptOrders(marketID string, _ time.Time) error {
	if g.closed[marketID] {
		return fmt.Errorf("market %s closed: %w", marketID, domain.ErrInvalidState)
	}
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newBook() (*book.Book, *stubGate, *fakeClock) {
	gate := &stubGate{closed: make(map[string]bool)}
	cl := &fakeClock{t: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)}
	return book.New(gate).WithClock(cl.Now), gate, cl
}

func params(cl *fakeClock) book.PlaceParams {
	return book.PlaceParams{
		Owner:    "0xalice",
		MarketID: "m1",
		Side:     domain.SideYes,
		PriceBps: 6000,
		Amount:   domain.Units(5),
		Expiry:   cl.Now().Add(time.Hour),
	}
}

func TestPlaceValidation(t *testing.T) {
	b, gate, cl := newBook()

	p := params(cl)
	p.Side = domain.BracketSide(0)
	_, err := b.Place(p)
	require.ErrorIs(t, err, domain.ErrValidation)

	for _, price := range []int64{0, -1, 10_000, 10_001} {
		p = params(cl)
		p.PriceBps = price
		_, err = b.Place(p)
		require.ErrorIs(t, err, domain.ErrValidation, "price %d", price)
	}

	p = params(cl)
	p.Amount = 0
	_, err = b.Place(p)
	require.ErrorIs(t, err, domain.ErrValidation)

	p = params(cl)
	p.Expiry = cl.Now()
	_, err = b.Place(p)
	require.ErrorIs(t, err, domain.ErrValidation)

	gate.closed["m1"] = true
	_, err = b.Place(params(cl))
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestPlaceUpdatesSummary(t *testing.T) {
	b, _, cl := newBook()

	_, err := b.Place(params(cl))
	require.NoError(t, err)

	p := params(cl)
	p.Owner = "0xbob"
	p.Side = domain.SideNo
	p.PriceBps = 4500
	p.Amount = domain.Units(3)
	_, err = b.Place(p)
	require.NoError(t, err)

	s := b.Summary("m1")
	require.EqualValues(t, 6000, s.BestYesBid)
	require.EqualValues(t, 4500, s.BestNoBid)
	require.Equal(t, 2, s.ActiveOrders)
	require.Equal(t, domain.Units(5), s.YesVolume)
	require.Equal(t, domain.Units(3), s.NoVolume)
	require.Equal(t, domain.Units(8), s.Escrowed)
}

func TestBestBidTracksHighest(t *testing.T) {
	b, _, cl := newBook()

	p := params(cl)
	p.PriceBps = 5000
	lo, err := b.Place(p)
	require.NoError(t, err)

	p = params(cl)
	p.PriceBps = 7000
	hi, err := b.Place(p)
	require.NoError(t, err)
	require.EqualValues(t, 7000, b.Summary("m1").BestYesBid)

	// Cancelling the top of book restores the next best price.
	_, err = b.Cancel("0xalice", hi.ID)
	require.NoError(t, err)
	require.EqualValues(t, 5000, b.Summary("m1").BestYesBid)

	_, err = b.Cancel("0xalice", lo.ID)
	require.NoError(t, err)

	s := b.Summary("m1")
	require.Zero(t, s.BestYesBid)
	require.Zero(t, s.ActiveOrders)
	require.Zero(t, s.Escrowed)
}

func TestCancelGuards(t *testing.T) {
	b, _, cl := newBook()
	o, err := b.Place(params(cl))
	require.NoError(t, err)

	_, err = b.Cancel("0xbob", o.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = b.Cancel("0xalice", "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	c, err := b.Cancel("0xalice", o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, c.Status)
	require.NotNil(t, c.CancelledAt)

	_, err = b.Cancel("0xalice", o.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestExpiredOrderStopsQuotingButHoldsEscrow(t *testing.T) {
	b, _, cl := newBook()
	o, err := b.Place(params(cl))
	require.NoError(t, err)

	cl.Advance(time.Hour)

	// Reads report the order as expired without touching stored state.
	got, err := b.Get(o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusExpired, got.Status)

	// It no longer quotes, but its escrow stays locked.
	s := b.Summary("m1")
	require.Zero(t, s.ActiveOrders)
	require.Zero(t, s.BestYesBid)
	require.Zero(t, s.YesVolume)
	require.Equal(t, domain.Units(5), s.Escrowed)

	// Cancelling after expiry is the path that reclaims escrow.
	c, err := b.Cancel("0xalice", o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, c.Status)
	require.Zero(t, b.Summary("m1").Escrowed)

	// Escrow is released exactly once.
	_, err = b.Cancel("0xalice", o.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestReadsDoNotReleaseExpiredEscrow(t *testing.T) {
	b, _, cl := newBook()
	o, err := b.Place(params(cl))
	require.NoError(t, err)

	cl.Advance(time.Hour)

	// Repeated reads through every query path leave escrow untouched.
	for i := 0; i < 3; i++ {
		_, err = b.Get(o.ID)
		require.NoError(t, err)
		_ = b.ListByMarket("m1")
		require.Equal(t, domain.Units(5), b.Summary("m1").Escrowed)
	}
}

func TestPlaceBelowMinimum(t *testing.T) {
	b, _, cl := newBook()

	p := params(cl)
	p.Amount = domain.Micro - 1
	_, err := b.Place(p)
	require.ErrorIs(t, err, domain.ErrInsufficient)

	b = b.WithMinOrder(domain.Units(2))
	p = params(cl)
	p.Amount = domain.Units(1)
	_, err = b.Place(p)
	require.ErrorIs(t, err, domain.ErrInsufficient)

	p.Amount = domain.Units(2)
	_, err = b.Place(p)
	require.NoError(t, err)
}

func TestListByMarket(t *testing.T) {
	b, _, cl := newBook()
	_, err := b.Place(params(cl))
	require.NoError(t, err)

	p := params(cl)
	p.MarketID = "m2"
	_, err = b.Place(p)
	require.NoError(t, err)

	require.Len(t, b.ListByMarket("m1"), 1)
	require.Len(t, b.ListByMarket("m2"), 1)
	require.Empty(t, b.ListByMarket("m3"))
}
