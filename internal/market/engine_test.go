package market_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whetherfun/weathermark/internal/domain"
	"github.com/whetherfun/weathermark/internal/ledger"
	"github.com/whetherfun/weathermark/internal/market"
)

const (
	owner      = "0xowner"
	oracleAddr = "0xoracle"
	creator    = "0xcreator"
)

type fakeClock struct{ t time.Time }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newEngine(t *testing.T) (*market.Engine, *fakeClock) {
	t.Helper()
	cl := newClock()
	e := market.New(owner, ledger.New(), market.DefaultConfig()).WithClock(cl.Now)
	return e, cl
}

func binaryParams(cl *fakeClock) market.CreateParams {
	return market.CreateParams{
		Creator:     creator,
		Description: "NYC high above 25.0C on 2026-07-02",
		LocationID:  "nyc",
		Type:        domain.MarketTypeBinary,
		Criteria:    "temperature_high>=250",
		Oracle:      oracleAddr,
		Expiry:      cl.Now().Add(24 * time.Hour),
		Activate:    true,
	}
}

func TestCreateMarketValidation(t *testing.T) {
	e, cl := newEngine(t)

	p := binaryParams(cl)
	p.Expiry = cl.Now()
	_, err := e.CreateMarket(p)
	require.ErrorIs(t, err, domain.ErrValidation)

	p = binaryParams(cl)
	p.Oracle = ""
	_, err = e.CreateMarket(p)
	require.ErrorIs(t, err, domain.ErrValidation)

	p = binaryParams(cl)
	p.Type = domain.MarketTypeBracket
	p.Brackets = []domain.Bracket{{Lo: 0, Hi: 100}}
	_, err = e.CreateMarket(p)
	require.ErrorIs(t, err, domain.ErrValidation)

	p = binaryParams(cl)
	p.Type = domain.MarketTypeScalar
	_, err = e.CreateMarket(p)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreatePendingThenActivate(t *testing.T) {
	e, cl := newEngine(t)

	p := binaryParams(cl)
	p.Activate = false
	m, err := e.CreateMarket(p)
	require.NoError(t, err)
	require.Equal(t, domain.MarketStatusPending, m.Status)

	// Pending markets accept no bets.
	_, err = e.PlaceBet("0xalice", m.ID, domain.SideYes, domain.Units(5))
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = e.ActivateMarket("0xstranger", m.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	m, err = e.ActivateMarket(creator, m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MarketStatusActive, m.Status)
	require.True(t, e.Tokens().Initialized(m.ID))

	// Activation is one-shot.
	_, err = e.ActivateMarket(creator, m.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestPlaceBetPoolsAndMint(t *testing.T) {
	e, cl := newEngine(t)
	m, err := e.CreateMarket(binaryParams(cl))
	require.NoError(t, err)

	r, err := e.PlaceBet("0xalice", m.ID, domain.SideYes, domain.Units(10))
	require.NoError(t, err)
	require.Equal(t, domain.Units(10), r.Pool)
	require.Equal(t, domain.Units(10), r.Minted)
	require.Equal(t, domain.Units(10), e.Tokens().Balance(m.ID, domain.SideYes, "0xalice"))

	_, err = e.PlaceBet("0xbob", m.ID, domain.SideNo, domain.Units(4))
	require.NoError(t, err)
	_, err = e.PlaceBet("0xalice", m.ID, domain.SideNo, domain.Units(1))
	require.NoError(t, err)

	stats, err := e.Stats(m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.Units(10), stats.YesPool)
	require.Equal(t, domain.Units(5), stats.NoPool)
	require.Equal(t, domain.Units(15), stats.TotalPool)
	require.Equal(t, domain.Units(15), stats.Volume)
	require.Equal(t, 2, stats.UniqueBettors)
}

func TestPlaceBetGuards(t *testing.T) {
	e, cl := newEngine(t)
	m, err := e.CreateMarket(binaryParams(cl))
	require.NoError(t, err)

	_, err = e.PlaceBet("0xalice", m.ID, domain.SideYes, market.DefaultMinBet-1)
	require.ErrorIs(t, err, domain.ErrInsufficient)

	_, err = e.PlaceBet("0xalice", m.ID, domain.BracketSide(0), domain.Units(5))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.PauseMarket(owner, m.ID)
	require.NoError(t, err)
	_, err = e.PlaceBet("0xalice", m.ID, domain.SideYes, domain.Units(5))
	require.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = e.UnpauseMarket(owner, m.ID)
	require.NoError(t, err)

	cl.Advance(24 * time.Hour)
	_, err = e.PlaceBet("0xalice", m.ID, domain.SideYes, domain.Units(5))
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestPauseOwnerOnly(t *testing.T) {
	e, cl := newEngine(t)
	m, err := e.CreateMarket(binaryParams(cl))
	require.NoError(t, err)

	_, err = e.PauseMarket(creator, m.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCancelRefundsOneToOne(t *testing.T) {
	e, cl := newEngine(t)
	m, err := e.CreateMarket(binaryParams(cl))
	require.NoError(t, err)

	_, err = e.PlaceBet("0xalice", m.ID, domain.SideYes, domain.Units(7))
	require.NoError(t, err)
	_, err = e.PlaceBet("0xbob", m.ID, domain.SideNo, domain.Units(3))
	require.NoError(t, err)

	_, err = e.CancelMarket(creator, m.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	cm, err := e.CancelMarket(owner, m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MarketStatusCancelled, cm.Status)

	// No further bets, full refunds, no fee.
	_, err = e.PlaceBet("0xcarol", m.ID, domain.SideYes, domain.Units(1))
	require.ErrorIs(t, err, domain.ErrInvalidState)

	p, err := e.ClaimWinnings("0xalice", m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.Units(7), p.Amount)

	p, err = e.ClaimWinnings("0xbob", m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.Units(3), p.Amount)
	require.Zero(t, e.PlatformFees())
}

func TestCancelledMarketCannotSettle(t *testing.T) {
	e, cl := newEngine(t)
	m, err := e.CreateMarket(binaryParams(cl))
	require.NoError(t, err)
	_, err = e.CancelMarket(owner, m.ID)
	require.NoError(t, err)

	cl.Advance(25 * time.Hour)
	_, err = e.SettleMarket(oracleAddr, m.ID, market.Settlement{Value: 251, Outcome: true})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCanAcceptOrders(t *testing.T) {
	e, cl := newEngine(t)
	m, err := e.CreateMarket(binaryParams(cl))
	require.NoError(t, err)

	require.NoError(t, e.CanAcceptOrders(m.ID, cl.Now()))

	_, err = e.PauseMarket(owner, m.ID)
	require.NoError(t, err)
	require.ErrorIs(t, e.CanAcceptOrders(m.ID, cl.Now()), domain.ErrInvalidState)
	_, err = e.UnpauseMarket(owner, m.ID)
	require.NoError(t, err)

	require.ErrorIs(t, e.CanAcceptOrders(m.ID, cl.Now().Add(24*time.Hour)), domain.ErrInvalidState)
	require.ErrorIs(t, e.CanAcceptOrders("nope", cl.Now()), domain.ErrNotFound)
}

func TestTransferPosition(t *testing.T) {
	e, cl := newEngine(t)
	m, err := e.CreateMarket(binaryParams(cl))
	require.NoError(t, err)
	_, err = e.PlaceBet("0xalice", m.ID, domain.SideYes, domain.Units(10))
	require.NoError(t, err)

	require.NoError(t, e.TransferPosition(m.ID, domain.SideYes, "0xalice", "0xbob", domain.Units(4)))
	require.Equal(t, domain.Units(6), e.Tokens().Balance(m.ID, domain.SideYes, "0xalice"))
	require.Equal(t, domain.Units(4), e.Tokens().Balance(m.ID, domain.SideYes, "0xbob"))

	err = e.TransferPosition(m.ID, domain.SideYes, "0xbob", "0xalice", domain.Units(5))
	require.ErrorIs(t, err, domain.ErrInsufficient)
}
