// Package oracle implements the weather report aggregator and the staked
// dispute ledger on top of it. The engine is a single-writer state machine:
// every mutating call takes the engine lock, validates against current state,
// and applies atomically or not at all. Time-gated checks use an injected
// clock so nothing here ever sleeps or schedules.
package oracle

import (
	"fmt"
	"sync"
	"time"

	"github.com/whetherfun/weathermark/internal/domain"
)

const (
	// TemperatureTolerance is the maximum pairwise deviation, in tenths of a
	// degree, for readings to count as agreeing.
	TemperatureTolerance int64 = 10

	// MinDisputeStake is the stake required to open a dispute.
	MinDisputeStake = 10 * domain.Micro

	// MinEscalationStake is the additional stake required to escalate.
	MinEscalationStake = 25 * domain.Micro
)

// Engine owns reports, disputes, and the reporter/arbitrator registries.
type Engine struct {
	mu    sync.Mutex
	owner string
	nowFn func() time.Time

	reporters   map[string]domain.Reporter
	arbitrators map[string]domain.Arbitrator

	reports     map[domain.ReportKey]*domain.WeatherReport
	disputes    map[int64]*domain.Dispute
	activeByKey map[domain.ReportKey]int64
	nextID      int64

	escrowed int64 // stakes currently held against active disputes
	treasury int64 // forfeited stakes
}

// New creates an Engine with the given owner address. The owner is the only
// identity allowed to mutate the registries.
func New(owner string) *Engine {
	return &Engine{
		owner:       owner,
		nowFn:       time.Now,
		reporters:   make(map[string]domain.Reporter),
		arbitrators: make(map[string]domain.Arbitrator),
		reports:     make(map[domain.ReportKey]*domain.WeatherReport),
		disputes:    make(map[int64]*domain.Dispute),
		activeByKey: make(map[domain.ReportKey]int64),
		nextID:      1,
	}
}

// WithClock overrides the engine clock. Intended for tests and replay.
func (e *Engine) WithClock(nowFn func() time.Time) *Engine {
	e.nowFn = nowFn
	return e
}

// Hydrate loads previously persisted state into an empty engine. The next
// dispute id continues after the highest loaded id.
func (e *Engine) Hydrate(
	reporters []domain.Reporter,
	arbitrators []domain.Arbitrator,
	reports []domain.WeatherReport,
	disputes []domain.Dispute,
) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range reporters {
		e.reporters[r.Address] = r
	}
	for _, a := range arbitrators {
		e.arbitrators[a.Address] = a
	}
	for i := range reports {
		rep := cloneReport(reports[i])
		e.reports[rep.Key] = &rep
	}
	for i := range disputes {
		d := cloneDispute(disputes[i])
		e.disputes[d.ID] = &d
		if d.Status.Active() {
			e.activeByKey[d.Key] = d.ID
			e.escrowed += d.Stake
		}
		if d.Status == domain.DisputeStatusResolvedRejected {
			e.treasury += d.Stake
		}
		if d.ID >= e.nextID {
			e.nextID = d.ID + 1
		}
	}
}

// SubmitReport stores or overwrites one reporter's reading for a report key.
// If at least two distinct readings now exist and every pair agrees on
// temperature within TemperatureTolerance, the report finalizes with the
// truncated arithmetic mean as its aggregate value.
func (e *Engine) SubmitReport(reporter string, key domain.ReportKey, reading domain.Reading) (domain.WeatherReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rep, ok := e.reporters[reporter]
	if !ok || !rep.Active {
		return domain.WeatherReport{}, fmt.Errorf("oracle: reporter %q not registered: %w", reporter, domain.ErrUnauthorized)
	}
	if key.LocationID == "" || key.DateKey == "" {
		return domain.WeatherReport{}, fmt.Errorf("oracle: empty report key: %w", domain.ErrValidation)
	}

	report, ok := e.reports[key]
	if !ok {
		report = &domain.WeatherReport{
			Key:      key,
			Readings: make(map[string]domain.Reading),
		}
		e.reports[key] = report
	}

	if report.Finalized {
		return domain.WeatherReport{}, fmt.Errorf("oracle: report %s already finalized: %w", key, domain.ErrInvalidState)
	}
	if _, disputed := e.activeByKey[key]; disputed {
		return domain.WeatherReport{}, fmt.Errorf("oracle: report %s under active dispute: %w", key, domain.ErrInvalidState)
	}

	now := e.nowFn()
	reading.SubmittedAt = now
	report.Readings[reporter] = reading
	report.UpdatedAt = now

	e.tryFinalize(report, now)

	return cloneReport(*report), nil
}

// tryFinalize checks pairwise temperature agreement and finalizes the report
// when every pair of readings is within tolerance. The aggregate value is the
// arithmetic mean truncated toward zero, which keeps finalization independent
// of submission order.
func (e *Engine) tryFinalize(report *domain.WeatherReport, now time.Time) {
	if len(report.Readings) < 2 {
		return
	}

	temps := make([]int64, 0, len(report.Readings))
	for _, r := range report.Readings {
		temps = append(temps, r.Temperature)
	}
	for i := 0; i < len(temps); i++ {
		for j := i + 1; j < len(temps); j++ {
			if absDelta(temps[i], temps[j]) > TemperatureTolerance {
				return
			}
		}
	}

	var sum int64
	for _, t := range temps {
		sum += t
	}
	report.Value = sum / int64(len(temps))
	report.Finalized = true
	ts := now
	report.FinalizedAt = &ts
}

// GetReport returns a copy of the report for the key.
func (e *Engine) GetReport(key domain.ReportKey) (domain.WeatherReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report, ok := e.reports[key]
	if !ok {
		return domain.WeatherReport{}, fmt.Errorf("oracle: report %s: %w", key, domain.ErrNotFound)
	}
	return cloneReport(*report), nil
}

// IsFinalized reports whether the key has a finalized aggregate. Unknown keys
// are simply not finalized.
func (e *Engine) IsFinalized(key domain.ReportKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	report, ok := e.reports[key]
	return ok && report.Finalized
}

// TreasuryBalance returns the accumulated forfeited stakes.
func (e *Engine) TreasuryBalance() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.treasury
}

// EscrowedStake returns the total stake currently held against active
// disputes.
func (e *Engine) EscrowedStake() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.escrowed
}

func absDelta(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

func cloneReport(r domain.WeatherReport) domain.WeatherReport {
	readings := make(map[string]domain.Reading, len(r.Readings))
	for k, v := range r.Readings {
		readings[k] = v
	}
	r.Readings = readings
	if r.FinalizedAt != nil {
		ts := *r.FinalizedAt
		r.FinalizedAt = &ts
	}
	return r
}

func cloneDispute(d domain.Dispute) domain.Dispute {
	votes := make([]domain.ArbitratorVote, len(d.Votes))
	copy(votes, d.Votes)
	d.Votes = votes
	if d.EscalatedAt != nil {
		ts := *d.EscalatedAt
		d.EscalatedAt = &ts
	}
	if d.ResolvedAt != nil {
		ts := *d.ResolvedAt
		d.ResolvedAt = &ts
	}
	return d
}
