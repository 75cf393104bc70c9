package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whetherfun/weathermark/internal/domain"
	"github.com/whetherfun/weathermark/internal/ledger"
)

func yesNo() []domain.Side {
	return []domain.Side{domain.SideYes, domain.SideNo}
}

func TestInitMarketOnce(t *testing.T) {
	l := ledger.New()

	require.NoError(t, l.InitMarket("m1", yesNo()))
	require.True(t, l.Initialized("m1"))

	err := l.InitMarket("m1", yesNo())
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	err = l.InitMarket("m2", []domain.Side{domain.SideYes})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestMintTransferBurnConservation(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.InitMarket("m1", yesNo()))

	require.NoError(t, l.Mint("m1", domain.SideYes, "alice", 100))
	require.NoError(t, l.Mint("m1", domain.SideYes, "bob", 50))
	require.EqualValues(t, 150, l.Supply("m1", domain.SideYes))

	require.NoError(t, l.Transfer("m1", domain.SideYes, "alice", "carol", 30))
	require.EqualValues(t, 70, l.Balance("m1", domain.SideYes, "alice"))
	require.EqualValues(t, 30, l.Balance("m1", domain.SideYes, "carol"))
	require.EqualValues(t, 150, l.Supply("m1", domain.SideYes))

	require.NoError(t, l.Burn("m1", domain.SideYes, "bob", 50))
	require.EqualValues(t, 100, l.Supply("m1", domain.SideYes))
	require.Zero(t, l.Balance("m1", domain.SideYes, "bob"))

	require.NoError(t, l.CheckSupply("m1"))
}

func TestTransferGuards(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.InitMarket("m1", yesNo()))
	require.NoError(t, l.Mint("m1", domain.SideYes, "alice", 100))

	err := l.Transfer("m1", domain.SideYes, "alice", "alice", 10)
	require.ErrorIs(t, err, domain.ErrValidation)

	err = l.Transfer("m1", domain.SideYes, "alice", "bob", 101)
	require.ErrorIs(t, err, domain.ErrInsufficient)

	err = l.Transfer("m1", domain.SideNo, "alice", "bob", 10)
	require.ErrorIs(t, err, domain.ErrInsufficient)

	err = l.Transfer("m9", domain.SideYes, "alice", "bob", 10)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBurnInsufficient(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.InitMarket("m1", yesNo()))
	require.NoError(t, l.Mint("m1", domain.SideYes, "alice", 100))

	err := l.Burn("m1", domain.SideYes, "alice", 101)
	require.ErrorIs(t, err, domain.ErrInsufficient)
	require.EqualValues(t, 100, l.Balance("m1", domain.SideYes, "alice"))
}

func TestMarkOutcomeAndSideInfo(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.InitMarket("m1", yesNo()))
	require.NoError(t, l.Mint("m1", domain.SideYes, "alice", 100))

	info, err := l.SideInfo("m1", domain.SideYes)
	require.NoError(t, err)
	require.Nil(t, info.Winning)

	require.NoError(t, l.MarkOutcome("m1", domain.SideYes, true))
	require.NoError(t, l.MarkOutcome("m1", domain.SideNo, false))

	info, err = l.SideInfo("m1", domain.SideYes)
	require.NoError(t, err)
	require.NotNil(t, info.Winning)
	require.True(t, *info.Winning)
	require.EqualValues(t, 100, info.TotalSupply)
}

func TestBracketSides(t *testing.T) {
	l := ledger.New()
	sides := []domain.Side{domain.BracketSide(0), domain.BracketSide(1), domain.BracketSide(2)}
	require.NoError(t, l.InitMarket("m1", sides))

	require.NoError(t, l.Mint("m1", domain.BracketSide(1), "alice", 40))
	require.EqualValues(t, 40, l.Supply("m1", domain.BracketSide(1)))
	require.Zero(t, l.Supply("m1", domain.BracketSide(0)))
	require.Equal(t, sides, l.Sides("m1"))
}

func TestHydrateRoundTrip(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.InitMarket("m1", yesNo()))
	require.NoError(t, l.Mint("m1", domain.SideYes, "alice", 70))
	require.NoError(t, l.Mint("m1", domain.SideNo, "bob", 30))
	require.NoError(t, l.MarkOutcome("m1", domain.SideYes, true))

	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	balances := l.Balances("m1", now)
	require.Len(t, balances, 2)

	var sides []domain.TokenSide
	for _, s := range l.Sides("m1") {
		info, err := l.SideInfo("m1", s)
		require.NoError(t, err)
		sides = append(sides, info)
	}

	restored := ledger.New()
	require.NoError(t, restored.Hydrate("m1", sides, balances))
	require.EqualValues(t, 70, restored.Balance("m1", domain.SideYes, "alice"))
	require.EqualValues(t, 30, restored.Balance("m1", domain.SideNo, "bob"))
	require.NoError(t, restored.CheckSupply("m1"))

	info, err := restored.SideInfo("m1", domain.SideYes)
	require.NoError(t, err)
	require.NotNil(t, info.Winning)
	require.True(t, *info.Winning)
}
