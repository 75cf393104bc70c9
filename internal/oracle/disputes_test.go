package oracle_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whetherfun/weathermark/internal/domain"
	"github.com/whetherfun/weathermark/internal/oracle"
)

// finalizedEngine returns an engine with a finalized report at key() worth
// 251 tenths.
func finalizedEngine(t *testing.T) (*oracle.Engine, *fakeClock) {
	t.Helper()
	e, cl := newEngine(t, "0xalice", "0xbob")
	_, err := e.SubmitReport("0xalice", key(), reading(250))
	require.NoError(t, err)
	_, err = e.SubmitReport("0xbob", key(), reading(252))
	require.NoError(t, err)
	return e, cl
}

func TestDisputeRequiresFinalizedReport(t *testing.T) {
	e, _ := newEngine(t, "0xalice")
	_, err := e.SubmitReport("0xalice", key(), reading(250))
	require.NoError(t, err)

	_, err = e.DisputeResolution("0xdave", key(), "evidence", e.DisputeStake())
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestDisputeStakeMinimum(t *testing.T) {
	e, _ := finalizedEngine(t)

	_, err := e.DisputeResolution("0xdave", key(), "evidence", oracle.MinDisputeStake-1)
	require.ErrorIs(t, err, domain.ErrInsufficient)

	d, err := e.DisputeResolution("0xdave", key(), "evidence", oracle.MinDisputeStake)
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStatusOpen, d.Status)
	require.Equal(t, oracle.MinDisputeStake, e.EscrowedStake())
}

func TestSingleActiveDisputePerReport(t *testing.T) {
	e, _ := finalizedEngine(t)

	_, err := e.DisputeResolution("0xdave", key(), "first", e.DisputeStake())
	require.NoError(t, err)

	_, err = e.DisputeResolution("0xerin", key(), "second", e.DisputeStake())
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	require.True(t, e.HasActiveDispute(key()))
}

func TestSubmitBlockedWhileDisputed(t *testing.T) {
	e, _ := finalizedEngine(t)
	_, err := e.DisputeResolution("0xdave", key(), "evidence", e.DisputeStake())
	require.NoError(t, err)

	_, err = e.SubmitReport("0xalice", key(), reading(260))
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEscalateGuards(t *testing.T) {
	e, _ := finalizedEngine(t)
	d, err := e.DisputeResolution("0xdave", key(), "evidence", e.DisputeStake())
	require.NoError(t, err)

	_, err = e.EscalateDispute("0xerin", d.ID, "more", e.EscalationStake())
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.EscalateDispute("0xdave", d.ID, "more", oracle.MinEscalationStake-1)
	require.ErrorIs(t, err, domain.ErrInsufficient)

	esc, err := e.EscalateDispute("0xdave", d.ID, "more", e.EscalationStake())
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStatusEscalated, esc.Status)
	require.Equal(t, oracle.MinDisputeStake+oracle.MinEscalationStake, esc.Stake)
	require.Equal(t, esc.Stake, e.EscrowedStake())

	// Already escalated.
	_, err = e.EscalateDispute("0xdave", d.ID, "again", e.EscalationStake())
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestArbitratorVoteGuards(t *testing.T) {
	e, _ := finalizedEngine(t)
	d, err := e.DisputeResolution("0xdave", key(), "evidence", e.DisputeStake())
	require.NoError(t, err)

	_, err = e.ArbitratorVote("0xjudge", d.ID, true, "looks wrong")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.AddArbitrator(owner, "0xjudge", "judge", 3)
	require.NoError(t, err)
	_, err = e.AddArbitrator(owner, "0xjury", "jury", 1)
	require.NoError(t, err)

	v, err := e.ArbitratorVote("0xjudge", d.ID, true, "looks wrong")
	require.NoError(t, err)
	require.Len(t, v.Votes, 1)

	_, err = e.ArbitratorVote("0xjudge", d.ID, false, "changed my mind")
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	v, err = e.ArbitratorVote("0xjury", d.ID, false, "reading fine")
	require.NoError(t, err)
	up, down := v.VoteTally()
	require.EqualValues(t, 3, up)
	require.EqualValues(t, 1, down)
}

func TestResolveRequiresEscalationAndVotes(t *testing.T) {
	e, _ := finalizedEngine(t)
	d, err := e.DisputeResolution("0xdave", key(), "evidence", e.DisputeStake())
	require.NoError(t, err)
	_, err = e.AddArbitrator(owner, "0xjudge", "judge", 1)
	require.NoError(t, err)

	_, err = e.ResolveDispute("0xjudge", d.ID, true, false, 260, "corrected")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = e.EscalateDispute("0xdave", d.ID, "more", e.EscalationStake())
	require.NoError(t, err)

	_, err = e.ResolveDispute("0xjudge", d.ID, true, false, 260, "corrected")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestResolveUpheldRefundsAndOverwrites(t *testing.T) {
	e, _ := finalizedEngine(t)
	d, err := e.DisputeResolution("0xdave", key(), "evidence", e.DisputeStake())
	require.NoError(t, err)
	_, err = e.AddArbitrator(owner, "0xjudge", "judge", 1)
	require.NoError(t, err)
	_, err = e.EscalateDispute("0xdave", d.ID, "more", e.EscalationStake())
	require.NoError(t, err)
	_, err = e.ArbitratorVote("0xjudge", d.ID, true, "station was offline")
	require.NoError(t, err)

	res, err := e.ResolveDispute("0xjudge", d.ID, true, true, 265, "corrected value")
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStatusResolvedUpheld, res.Dispute.Status)
	require.Equal(t, oracle.MinDisputeStake+oracle.MinEscalationStake, res.Refunded)
	require.Zero(t, res.Forfeited)
	require.EqualValues(t, 265, res.Report.Value)
	require.True(t, res.Report.Outcome)

	require.Zero(t, e.EscrowedStake())
	require.Zero(t, e.TreasuryBalance())
	require.False(t, e.HasActiveDispute(key()))

	arb, err := e.GetArbitrator("0xjudge")
	require.NoError(t, err)
	require.EqualValues(t, 1, arb.DisputesResolved)
}

func TestResolveRejectedForfeitsToTreasury(t *testing.T) {
	e, _ := finalizedEngine(t)
	d, err := e.DisputeResolution("0xdave", key(), "evidence", e.DisputeStake())
	require.NoError(t, err)
	_, err = e.AddArbitrator(owner, "0xjudge", "judge", 1)
	require.NoError(t, err)
	_, err = e.EscalateDispute("0xdave", d.ID, "more", e.EscalationStake())
	require.NoError(t, err)
	_, err = e.ArbitratorVote("0xjudge", d.ID, false, "reading checks out")
	require.NoError(t, err)

	res, err := e.ResolveDispute("0xjudge", d.ID, false, false, 0, "rejected")
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStatusResolvedRejected, res.Dispute.Status)
	require.Equal(t, oracle.MinDisputeStake+oracle.MinEscalationStake, res.Forfeited)
	require.Zero(t, res.Refunded)

	// Original aggregate untouched.
	rep, err := e.GetReport(key())
	require.NoError(t, err)
	require.EqualValues(t, 251, rep.Value)

	require.Zero(t, e.EscrowedStake())
	require.Equal(t, res.Forfeited, e.TreasuryBalance())

	// The key is disputable again once the dispute closes.
	_, err = e.DisputeResolution("0xerin", key(), "try again", e.DisputeStake())
	require.NoError(t, err)
}
