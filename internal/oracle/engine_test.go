package oracle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whetherfun/weathermark/internal/domain"
	"github.com/whetherfun/weathermark/internal/oracle"
)

const owner = "0xowner"

type fakeClock struct{ t time.Time }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newEngine(t *testing.T, reporters ...string) (*oracle.Engine, *fakeClock) {
	t.Helper()
	cl := newClock()
	e := oracle.New(owner).WithClock(cl.Now)
	for _, r := range reporters {
		_, err := e.AddReporter(owner, r, r)
		require.NoError(t, err)
	}
	return e, cl
}

func key() domain.ReportKey {
	return domain.ReportKey{LocationID: "nyc", DateKey: "2026-07-01"}
}

func reading(tempTenths int64) domain.Reading {
	return domain.Reading{
		Temperature: tempTenths,
		Conditions:  domain.ConditionsClear,
	}
}

func TestSubmitReportRequiresRegisteredReporter(t *testing.T) {
	e, _ := newEngine(t)

	_, err := e.SubmitReport("0xstranger", key(), reading(250))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSubmitReportSingleReadingDoesNotFinalize(t *testing.T) {
	e, _ := newEngine(t, "0xalice")

	rep, err := e.SubmitReport("0xalice", key(), reading(250))
	require.NoError(t, err)
	require.False(t, rep.Finalized)
	require.Len(t, rep.Readings, 1)
}

func TestSubmitReportFinalizesWithinTolerance(t *testing.T) {
	e, _ := newEngine(t, "0xalice", "0xbob")

	_, err := e.SubmitReport("0xalice", key(), reading(250))
	require.NoError(t, err)

	rep, err := e.SubmitReport("0xbob", key(), reading(252))
	require.NoError(t, err)
	require.True(t, rep.Finalized)
	require.NotNil(t, rep.FinalizedAt)
	require.EqualValues(t, 251, rep.Value)
	require.True(t, e.IsFinalized(key()))
}

func TestSubmitReportOutsideToleranceStaysOpen(t *testing.T) {
	e, _ := newEngine(t, "0xalice", "0xbob")

	_, err := e.SubmitReport("0xalice", key(), reading(250))
	require.NoError(t, err)

	rep, err := e.SubmitReport("0xbob", key(), reading(300))
	require.NoError(t, err)
	require.False(t, rep.Finalized)

	// Bob corrects his reading; the overwrite brings the pair into
	// agreement and the report finalizes.
	rep, err = e.SubmitReport("0xbob", key(), reading(255))
	require.NoError(t, err)
	require.True(t, rep.Finalized)
	require.EqualValues(t, 252, rep.Value)
}

func TestSubmitReportTruncatedMeanOfThree(t *testing.T) {
	e, _ := newEngine(t, "0xalice", "0xbob", "0xcarol")

	_, err := e.SubmitReport("0xalice", key(), reading(250))
	require.NoError(t, err)
	rep, err := e.SubmitReport("0xbob", key(), reading(252))
	require.NoError(t, err)
	require.True(t, rep.Finalized)

	// Third reading after finalization is rejected.
	_, err = e.SubmitReport("0xcarol", key(), reading(255))
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSubmitReportThreeWayAgreement(t *testing.T) {
	e, _ := newEngine(t, "0xalice", "0xbob", "0xcarol")
	k := key()

	_, err := e.SubmitReport("0xalice", k, reading(250))
	require.NoError(t, err)

	// Carol is within tolerance of Alice but the pair alone cannot decide
	// once Bob disagrees with both.
	_, err = e.SubmitReport("0xbob", k, reading(280))
	require.NoError(t, err)
	rep, err := e.SubmitReport("0xcarol", k, reading(255))
	require.NoError(t, err)
	require.False(t, rep.Finalized)

	rep, err = e.SubmitReport("0xbob", k, reading(253))
	require.NoError(t, err)
	require.True(t, rep.Finalized)
	require.EqualValues(t, (250+253+255)/3, rep.Value)
}

func TestSubmitReportDeactivatedReporterRejected(t *testing.T) {
	e, _ := newEngine(t, "0xalice")

	_, err := e.RemoveReporter(owner, "0xalice")
	require.NoError(t, err)

	_, err = e.SubmitReport("0xalice", key(), reading(250))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRegistryOwnerGate(t *testing.T) {
	e, _ := newEngine(t)

	_, err := e.AddReporter("0xstranger", "0xalice", "alice")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.AddArbitrator("0xstranger", "0xjudge", "judge", 1)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.AddArbitrator(owner, "0xjudge", "judge", 0)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetReportUnknownKey(t *testing.T) {
	e, _ := newEngine(t)

	_, err := e.GetReport(key())
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.False(t, e.IsFinalized(key()))
}

func TestHydrateRestoresStateAndNextID(t *testing.T) {
	e, cl := newEngine(t, "0xalice", "0xbob")
	k := key()

	_, err := e.SubmitReport("0xalice", k, reading(250))
	require.NoError(t, err)
	_, err = e.SubmitReport("0xbob", k, reading(252))
	require.NoError(t, err)
	d, err := e.DisputeResolution("0xdave", k, "station offline", e.DisputeStake())
	require.NoError(t, err)

	rep, err := e.GetReport(k)
	require.NoError(t, err)

	restored := oracle.New(owner).WithClock(cl.Now)
	restored.Hydrate(
		[]domain.Reporter{{Address: "0xalice", Active: true}},
		nil,
		[]domain.WeatherReport{rep},
		[]domain.Dispute{d},
	)

	require.True(t, restored.IsFinalized(k))
	require.True(t, restored.HasActiveDispute(k))
	require.Equal(t, d.Stake, restored.EscrowedStake())

	// A fresh dispute on another key continues the id sequence.
	k2 := domain.ReportKey{LocationID: "chi", DateKey: "2026-07-01"}
	restored.Hydrate(nil, nil, []domain.WeatherReport{{Key: k2, Finalized: true, Value: 200}}, nil)
	d2, err := restored.DisputeResolution("0xdave", k2, "sensor drift", restored.DisputeStake())
	require.NoError(t, err)
	require.Equal(t, d.ID+1, d2.ID)
}

func TestHydrateRestoresTreasuryFromRejectedDisputes(t *testing.T) {
	e, cl := newEngine(t, "0xalice", "0xbob")
	k := key()

	_, err := e.SubmitReport("0xalice", k, reading(250))
	require.NoError(t, err)
	_, err = e.SubmitReport("0xbob", k, reading(252))
	require.NoError(t, err)
	d, err := e.DisputeResolution("0xdave", k, "evidence", e.DisputeStake())
	require.NoError(t, err)
	_, err = e.AddArbitrator(owner, "0xjudge", "judge", 1)
	require.NoError(t, err)
	_, err = e.EscalateDispute("0xdave", d.ID, "more", e.EscalationStake())
	require.NoError(t, err)
	_, err = e.ArbitratorVote("0xjudge", d.ID, false, "reading checks out")
	require.NoError(t, err)
	res, err := e.ResolveDispute("0xjudge", d.ID, false, false, 0, "rejected")
	require.NoError(t, err)
	require.Equal(t, res.Forfeited, e.TreasuryBalance())

	rep, err := e.GetReport(k)
	require.NoError(t, err)

	fresh := oracle.New(owner).WithClock(cl.Now)
	fresh.Hydrate(nil, nil, []domain.WeatherReport{rep}, []domain.Dispute{res.Dispute})

	require.Equal(t, res.Forfeited, fresh.TreasuryBalance())
	require.Zero(t, fresh.EscrowedStake())
}
