package market_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whetherfun/weathermark/internal/domain"
	"github.com/whetherfun/weathermark/internal/market"
)

// settleBinary creates an active binary market, places yes/no bets, advances
// past expiry, and settles with the given outcome.
func settleBinary(t *testing.T, e *market.Engine, cl *fakeClock, yes, no int64, outcome bool) domain.Market {
	t.Helper()
	m, err := e.CreateMarket(binaryParams(cl))
	require.NoError(t, err)
	if yes > 0 {
		_, err = e.PlaceBet("0xalice", m.ID, domain.SideYes, yes)
		require.NoError(t, err)
	}
	if no > 0 {
		_, err = e.PlaceBet("0xbob", m.ID, domain.SideNo, no)
		require.NoError(t, err)
	}
	cl.Advance(25 * time.Hour)
	m, err = e.SettleMarket(oracleAddr, m.ID, market.Settlement{Value: 251, Outcome: outcome, DataHash: "0xdeadbeef"})
	require.NoError(t, err)
	return m
}

func TestSettleGuards(t *testing.T) {
	e, cl := newEngine(t)
	m, err := e.CreateMarket(binaryParams(cl))
	require.NoError(t, err)

	// Before expiry.
	_, err = e.SettleMarket(oracleAddr, m.ID, market.Settlement{Outcome: true})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	cl.Advance(25 * time.Hour)

	// Wrong caller.
	_, err = e.SettleMarket(owner, m.ID, market.Settlement{Outcome: true})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.SettleMarket(oracleAddr, m.ID, market.Settlement{Outcome: true})
	require.NoError(t, err)

	// Only once.
	_, err = e.SettleMarket(oracleAddr, m.ID, market.Settlement{Outcome: false})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestBinarySettlementFeeAndClaim(t *testing.T) {
	e, cl := newEngine(t)
	m := settleBinary(t, e, cl, domain.Units(10), domain.Units(10), true)

	// 1.5% of the 20-unit pool, split 60/40 platform/creator.
	require.Equal(t, int64(180_000), m.FeePlatform)
	require.Equal(t, int64(120_000), m.FeeCreator)
	require.Equal(t, m.FeePlatform, e.PlatformFees())
	require.Equal(t, m.FeeCreator, e.CreatorFees(creator))
	require.NotNil(t, m.Outcome)
	require.True(t, *m.Outcome)

	// Claims are deferred until the dispute window closes.
	_, err := e.ClaimWinnings("0xalice", m.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	cl.Advance(market.DefaultDisputeWindow)

	p, err := e.ClaimWinnings("0xalice", m.ID)
	require.NoError(t, err)
	require.Equal(t, int64(19_700_000), p.Amount) // 20 units minus the 1.5% fee
	require.Equal(t, domain.Units(10), p.Burned)

	// The losing side burns for zero.
	p, err = e.ClaimWinnings("0xbob", m.ID)
	require.NoError(t, err)
	require.Zero(t, p.Amount)
	require.Equal(t, domain.Units(10), p.Burned)

	// Nothing left to claim.
	_, err = e.ClaimWinnings("0xalice", m.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, e.Tokens().CheckSupply(m.ID))
}

func TestBinaryPayoutsSplitProRata(t *testing.T) {
	e, cl := newEngine(t)
	m, err := e.CreateMarket(binaryParams(cl))
	require.NoError(t, err)
	_, err = e.PlaceBet("0xalice", m.ID, domain.SideYes, domain.Units(6))
	require.NoError(t, err)
	_, err = e.PlaceBet("0xcarol", m.ID, domain.SideYes, domain.Units(4))
	require.NoError(t, err)
	_, err = e.PlaceBet("0xbob", m.ID, domain.SideNo, domain.Units(10))
	require.NoError(t, err)

	cl.Advance(25 * time.Hour)
	_, err = e.SettleMarket(oracleAddr, m.ID, market.Settlement{Value: 251, Outcome: true})
	require.NoError(t, err)
	cl.Advance(market.DefaultDisputeWindow)

	// Post-fee pool 19.7 units; yes supply 10 units.
	pa, err := e.ClaimWinnings("0xalice", m.ID)
	require.NoError(t, err)
	require.Equal(t, int64(11_820_000), pa.Amount)

	pc, err := e.ClaimWinnings("0xcarol", m.ID)
	require.NoError(t, err)
	require.Equal(t, int64(7_880_000), pc.Amount)

	require.Equal(t, int64(19_700_000), pa.Amount+pc.Amount)
}

func TestClaimDustRetained(t *testing.T) {
	e, cl := newEngine(t)
	m, err := e.CreateMarket(binaryParams(cl))
	require.NoError(t, err)
	_, err = e.PlaceBet("0xalice", m.ID, domain.SideYes, domain.Units(1))
	require.NoError(t, err)
	_, err = e.PlaceBet("0xcarol", m.ID, domain.SideYes, domain.Units(2))
	require.NoError(t, err)
	_, err = e.PlaceBet("0xbob", m.ID, domain.SideNo, domain.Units(1))
	require.NoError(t, err)

	cl.Advance(25 * time.Hour)
	_, err = e.SettleMarket(oracleAddr, m.ID, market.Settlement{Value: 251, Outcome: true})
	require.NoError(t, err)
	cl.Advance(market.DefaultDisputeWindow)

	// Post-fee pool 3_940_000 over a yes supply of 3_000_000 does not divide
	// evenly; the remainder stays in the pool and is reported as dust.
	pa, err := e.ClaimWinnings("0xalice", m.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1_313_333), pa.Amount)

	pc, err := e.ClaimWinnings("0xcarol", m.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2_626_666), pc.Amount)

	got, err := e.GetMarket(m.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.DustRetained)
	require.Equal(t, int64(3_940_000), pa.Amount+pc.Amount+got.DustRetained)
}

func TestZeroSupplyWinnerStrandsAllocation(t *testing.T) {
	e, cl := newEngine(t)
	m := settleBinary(t, e, cl, 0, domain.Units(10), true)

	// Everyone bet no and yes won: the whole post-fee pool is stranded.
	require.Equal(t, int64(9_850_000), m.DustRetained)

	cl.Advance(market.DefaultDisputeWindow)
	p, err := e.ClaimWinnings("0xbob", m.ID)
	require.NoError(t, err)
	require.Zero(t, p.Amount)
}

func TestRedeemPartial(t *testing.T) {
	e, cl := newEngine(t)
	m := settleBinary(t, e, cl, domain.Units(10), domain.Units(10), true)
	cl.Advance(market.DefaultDisputeWindow)

	p, err := e.Redeem("0xalice", m.ID, domain.SideYes, domain.Units(4))
	require.NoError(t, err)
	require.Equal(t, int64(7_880_000), p.Amount)

	v, err := e.RedemptionValue(m.ID, domain.SideYes, domain.Units(6))
	require.NoError(t, err)
	require.Equal(t, int64(11_820_000), v)

	p, err = e.Redeem("0xalice", m.ID, domain.SideYes, domain.Units(6))
	require.NoError(t, err)
	require.Equal(t, int64(11_820_000), p.Amount)

	_, err = e.Redeem("0xalice", m.ID, domain.SideYes, domain.Units(1))
	require.ErrorIs(t, err, domain.ErrInsufficient)
}

func TestRedemptionValueBeforeSettlement(t *testing.T) {
	e, cl := newEngine(t)
	m, err := e.CreateMarket(binaryParams(cl))
	require.NoError(t, err)
	_, err = e.PlaceBet("0xalice", m.ID, domain.SideYes, domain.Units(5))
	require.NoError(t, err)

	v, err := e.RedemptionValue(m.ID, domain.SideYes, domain.Units(5))
	require.NoError(t, err)
	require.Zero(t, v)
}

func TestScalarSettlementSplitsPool(t *testing.T) {
	e, cl := newEngine(t)
	p := binaryParams(cl)
	p.Type = domain.MarketTypeScalar
	p.Scalar = &domain.ScalarRange{Lo: 200, Hi: 300}
	m, err := e.CreateMarket(p)
	require.NoError(t, err)

	_, err = e.PlaceBet("0xalice", m.ID, domain.SideYes, domain.Units(10))
	require.NoError(t, err)
	_, err = e.PlaceBet("0xbob", m.ID, domain.SideNo, domain.Units(10))
	require.NoError(t, err)

	cl.Advance(25 * time.Hour)
	// 225 sits a quarter of the way into [200, 300): yes weight 2500 bps.
	m, err = e.SettleMarket(oracleAddr, m.ID, market.Settlement{Value: 225})
	require.NoError(t, err)
	require.NotNil(t, m.Outcome)
	require.False(t, *m.Outcome)

	cl.Advance(market.DefaultDisputeWindow)

	// Post-fee 19.7 units; yes allocation 25% of it over 10 units supply.
	pa, err := e.ClaimWinnings("0xalice", m.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4_925_000), pa.Amount)

	pb, err := e.ClaimWinnings("0xbob", m.ID)
	require.NoError(t, err)
	require.Equal(t, int64(14_775_000), pb.Amount)
}

func TestScalarWeightClamps(t *testing.T) {
	e, cl := newEngine(t)
	p := binaryParams(cl)
	p.Type = domain.MarketTypeScalar
	p.Scalar = &domain.ScalarRange{Lo: 200, Hi: 300}
	m, err := e.CreateMarket(p)
	require.NoError(t, err)
	_, err = e.PlaceBet("0xalice", m.ID, domain.SideYes, domain.Units(5))
	require.NoError(t, err)
	_, err = e.PlaceBet("0xbob", m.ID, domain.SideNo, domain.Units(5))
	require.NoError(t, err)

	cl.Advance(25 * time.Hour)
	m, err = e.SettleMarket(oracleAddr, m.ID, market.Settlement{Value: 500})
	require.NoError(t, err)
	cl.Advance(market.DefaultDisputeWindow)

	// Value above the range clamps to full yes weight.
	pa, err := e.ClaimWinnings("0xalice", m.ID)
	require.NoError(t, err)
	require.Equal(t, int64(9_850_000), pa.Amount)

	pb, err := e.ClaimWinnings("0xbob", m.ID)
	require.NoError(t, err)
	require.Zero(t, pb.Amount)
}

func TestBracketSettlement(t *testing.T) {
	e, cl := newEngine(t)
	p := binaryParams(cl)
	p.Type = domain.MarketTypeBracket
	p.Brackets = []domain.Bracket{{Lo: 200, Hi: 250}, {Lo: 250, Hi: 300}, {Lo: 300, Hi: 350}}
	m, err := e.CreateMarket(p)
	require.NoError(t, err)

	_, err = e.PlaceBet("0xalice", m.ID, domain.BracketSide(1), domain.Units(5))
	require.NoError(t, err)
	_, err = e.PlaceBet("0xbob", m.ID, domain.BracketSide(2), domain.Units(5))
	require.NoError(t, err)

	cl.Advance(25 * time.Hour)
	m, err = e.SettleMarket(oracleAddr, m.ID, market.Settlement{Value: 251})
	require.NoError(t, err)
	require.NotNil(t, m.WinningBracket)
	require.Equal(t, 1, *m.WinningBracket)

	cl.Advance(market.DefaultDisputeWindow)
	pa, err := e.ClaimWinnings("0xalice", m.ID)
	require.NoError(t, err)
	require.Equal(t, int64(9_850_000), pa.Amount)
}

func TestBracketClampsToEdge(t *testing.T) {
	e, cl := newEngine(t)
	p := binaryParams(cl)
	p.Type = domain.MarketTypeBracket
	p.Brackets = []domain.Bracket{{Lo: 200, Hi: 250}, {Lo: 250, Hi: 300}}
	m, err := e.CreateMarket(p)
	require.NoError(t, err)
	_, err = e.PlaceBet("0xalice", m.ID, domain.BracketSide(0), domain.Units(2))
	require.NoError(t, err)

	cl.Advance(25 * time.Hour)
	m, err = e.SettleMarket(oracleAddr, m.ID, market.Settlement{Value: 150})
	require.NoError(t, err)
	require.Equal(t, 0, *m.WinningBracket)
}

func TestDisputeFlagAndResettle(t *testing.T) {
	e, cl := newEngine(t)
	m := settleBinary(t, e, cl, domain.Units(10), domain.Units(10), true)

	_, err := e.FlagDisputed("0xstranger", m.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	dm, err := e.FlagDisputed(oracleAddr, m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MarketStatusDisputed, dm.Status)

	// No claims while disputed.
	cl.Advance(market.DefaultDisputeWindow)
	_, err = e.ClaimWinnings("0xalice", m.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	// The oracle re-settles with the corrected outcome.
	rm, err := e.SettleMarket(oracleAddr, m.ID, market.Settlement{Value: 245, Outcome: false, DataHash: "0xfeedface"})
	require.NoError(t, err)
	require.Equal(t, domain.MarketStatusSettled, rm.Status)
	require.False(t, *rm.Outcome)

	// Fees are not double counted across the re-settlement.
	require.Equal(t, rm.FeePlatform, e.PlatformFees())

	cl.Advance(market.DefaultDisputeWindow)
	p, err := e.ClaimWinnings("0xbob", m.ID)
	require.NoError(t, err)
	require.Equal(t, int64(19_700_000), p.Amount)
}

func TestDisputeWindowExpiryBlocksFlag(t *testing.T) {
	e, cl := newEngine(t)
	m := settleBinary(t, e, cl, domain.Units(10), domain.Units(10), true)

	cl.Advance(market.DefaultDisputeWindow)
	_, err := e.FlagDisputed(oracleAddr, m.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}
