package service_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whetherfun/weathermark/internal/domain"
	"github.com/whetherfun/weathermark/internal/oracle"
	"github.com/whetherfun/weathermark/internal/service"
)

// ---------------------------------------------------------------------------
// In-memory store fakes
// ---------------------------------------------------------------------------

type memReportStore struct {
	mu      sync.Mutex
	reports map[domain.ReportKey]domain.WeatherReport
}

func newMemReportStore() *memReportStore {
	return &memReportStore{reports: make(map[domain.ReportKey]domain.WeatherReport)}
}

func (s *memReportStore) Upsert(_ context.Context, report domain.WeatherReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.Key] = report
	return nil
}

func (s *memReportStore) Get(_ context.Context, key domain.ReportKey) (domain.WeatherReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[key]
	if !ok {
		return domain.WeatherReport{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *memReportStore) ListFinalizedBefore(_ context.Context, before time.Time) ([]domain.WeatherReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WeatherReport
	for _, r := range s.reports {
		if r.Finalized && r.FinalizedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memReportStore) ListUnfinalized(_ context.Context) ([]domain.WeatherReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WeatherReport
	for _, r := range s.reports {
		if !r.Finalized {
			out = append(out, r)
		}
	}
	return out, nil
}

type memDisputeStore struct {
	mu       sync.Mutex
	disputes map[int64]domain.Dispute
}

func newMemDisputeStore() *memDisputeStore {
	return &memDisputeStore{disputes: make(map[int64]domain.Dispute)}
}

func (s *memDisputeStore) Upsert(_ context.Context, d domain.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disputes[d.ID] = d
	return nil
}

func (s *memDisputeStore) GetByID(_ context.Context, id int64) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return domain.Dispute{}, domain.ErrNotFound
	}
	return d, nil
}

func (s *memDisputeStore) GetActiveByReport(_ context.Context, key domain.ReportKey) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.disputes {
		if d.Key == key && d.Status.Active() {
			return d, nil
		}
	}
	return domain.Dispute{}, domain.ErrNotFound
}

func (s *memDisputeStore) ListResolvedBefore(_ context.Context, before time.Time) ([]domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Dispute
	for _, d := range s.disputes {
		if !d.Status.Active() && d.ResolvedAt != nil && d.ResolvedAt.Before(before) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memDisputeStore) MaxID(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for id := range s.disputes {
		if id > max {
			max = id
		}
	}
	return max, nil
}

type memReporterStore struct {
	mu        sync.Mutex
	reporters map[string]domain.Reporter
}

func newMemReporterStore() *memReporterStore {
	return &memReporterStore{reporters: make(map[string]domain.Reporter)}
}

func (s *memReporterStore) Upsert(_ context.Context, r domain.Reporter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reporters[r.Address] = r
	return nil
}

func (s *memReporterStore) List(_ context.Context) ([]domain.Reporter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Reporter, 0, len(s.reporters))
	for _, r := range s.reporters {
		out = append(out, r)
	}
	return out, nil
}

type memArbitratorStore struct {
	mu          sync.Mutex
	arbitrators map[string]domain.Arbitrator
}

func newMemArbitratorStore() *memArbitratorStore {
	return &memArbitratorStore{arbitrators: make(map[string]domain.Arbitrator)}
}

func (s *memArbitratorStore) Upsert(_ context.Context, a domain.Arbitrator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arbitrators[a.Address] = a
	return nil
}

func (s *memArbitratorStore) List(_ context.Context) ([]domain.Arbitrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Arbitrator, 0, len(s.arbitrators))
	for _, a := range s.arbitrators {
		out = append(out, a)
	}
	return out, nil
}

type nopBus struct{}

func (nopBus) Publish(context.Context, string, []byte) error { return nil }
func (nopBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

type nopAudit struct{}

func (nopAudit) Log(context.Context, string, map[string]any) error    { return nil }
func (nopAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) { return nil, nil }

// ---------------------------------------------------------------------------

type oracleFixture struct {
	reports     *memReportStore
	disputes    *memDisputeStore
	reporters   *memReporterStore
	arbitrators *memArbitratorStore
}

func newOracleFixture() *oracleFixture {
	return &oracleFixture{
		reports:     newMemReportStore(),
		disputes:    newMemDisputeStore(),
		reporters:   newMemReporterStore(),
		arbitrators: newMemArbitratorStore(),
	}
}

func (f *oracleFixture) service(owner string) *service.OracleService {
	logger := slog.New(slog.DiscardHandler)
	return service.NewOracleService(
		oracle.New(owner),
		f.reports, f.disputes, f.reporters, f.arbitrators,
		nopBus{}, nopAudit{}, nil, logger,
	)
}

func TestHydrateResumesPendingConsensus(t *testing.T) {
	ctx := context.Background()
	fix := newOracleFixture()
	key := domain.ReportKey{LocationID: "nyc", DateKey: "2026-07-01"}

	svc := fix.service("0xowner")
	_, err := svc.AddReporter(ctx, "0xowner", "0xalice", "alice")
	require.NoError(t, err)
	_, err = svc.AddReporter(ctx, "0xowner", "0xbob", "bob")
	require.NoError(t, err)

	report, err := svc.SubmitReport(ctx, "0xalice", key, domain.Reading{Temperature: 250})
	require.NoError(t, err)
	require.False(t, report.Finalized)

	// Restart: a fresh service over the same stores.
	restarted := fix.service("0xowner")
	require.NoError(t, restarted.Hydrate(ctx))

	// The pre-restart reading still counts toward consensus.
	report, err = restarted.SubmitReport(ctx, "0xbob", key, domain.Reading{Temperature: 252})
	require.NoError(t, err)
	require.True(t, report.Finalized)
	require.Len(t, report.Readings, 2)
	require.EqualValues(t, 251, report.Value)

	persisted, err := fix.reports.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, persisted.Finalized)
	require.Len(t, persisted.Readings, 2)
}
