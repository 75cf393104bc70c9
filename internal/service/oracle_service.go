// Package service composes the in-memory engines with persistence, caching,
// eventing, and notifications. Engines own the state machines; services own
// the side effects around them.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/whetherfun/weathermark/internal/crypto"
	"github.com/whetherfun/weathermark/internal/domain"
	"github.com/whetherfun/weathermark/internal/notify"
	"github.com/whetherfun/weathermark/internal/oracle"
)

// OracleService wraps the consensus engine with persistence and eventing.
// Every accepted mutation is written through to the stores, so a restart can
// rebuild the engine via Hydrate.
type OracleService struct {
	engine      *oracle.Engine
	reports     domain.ReportStore
	disputes    domain.DisputeStore
	reporters   domain.ReporterStore
	arbitrators domain.ArbitratorStore
	bus         domain.SignalBus
	audit       domain.AuditStore
	notifier    *notify.Notifier
	logger      *slog.Logger
}

// NewOracleService creates an OracleService with all required dependencies.
func NewOracleService(
	engine *oracle.Engine,
	reports domain.ReportStore,
	disputes domain.DisputeStore,
	reporters domain.ReporterStore,
	arbitrators domain.ArbitratorStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *OracleService {
	return &OracleService{
		engine:      engine,
		reports:     reports,
		disputes:    disputes,
		reporters:   reporters,
		arbitrators: arbitrators,
		bus:         bus,
		audit:       audit,
		notifier:    notifier,
		logger:      logger,
	}
}

// Engine exposes the underlying consensus engine for read-side consumers
// such as the settlement path.
func (s *OracleService) Engine() *oracle.Engine { return s.engine }

// Hydrate rebuilds the engine from persisted state. Call once at startup
// before serving requests.
func (s *OracleService) Hydrate(ctx context.Context) error {
	reporters, err := s.reporters.List(ctx)
	if err != nil {
		return fmt.Errorf("oracle_service: hydrate reporters: %w", err)
	}
	arbitrators, err := s.arbitrators.List(ctx)
	if err != nil {
		return fmt.Errorf("oracle_service: hydrate arbitrators: %w", err)
	}

	// Disputes carry their report keys, so loading resolved and unresolved
	// history restores escrow and the next dispute id in one pass.
	maxID, err := s.disputes.MaxID(ctx)
	if err != nil {
		return fmt.Errorf("oracle_service: hydrate dispute id: %w", err)
	}
	var disputes []domain.Dispute
	for id := int64(1); id <= maxID; id++ {
		d, err := s.disputes.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("oracle_service: hydrate dispute %d: %w", id, err)
		}
		disputes = append(disputes, d)
	}

	reports, err := s.reports.ListFinalizedBefore(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("oracle_service: hydrate reports: %w", err)
	}
	// Reports still awaiting consensus must come back too, or a reading
	// submitted before the restart silently stops counting toward tolerance.
	pending, err := s.reports.ListUnfinalized(ctx)
	if err != nil {
		return fmt.Errorf("oracle_service: hydrate pending reports: %w", err)
	}
	reports = append(reports, pending...)
	loaded := make(map[domain.ReportKey]bool, len(reports))
	for _, r := range reports {
		loaded[r.Key] = true
	}
	for _, d := range disputes {
		if loaded[d.Key] {
			continue
		}
		rep, err := s.reports.Get(ctx, d.Key)
		if err != nil {
			return fmt.Errorf("oracle_service: hydrate report %s: %w", d.Key, err)
		}
		reports = append(reports, rep)
		loaded[d.Key] = true
	}

	s.engine.Hydrate(reporters, arbitrators, reports, disputes)

	s.logger.InfoContext(ctx, "oracle_service: hydrated",
		slog.Int("reporters", len(reporters)),
		slog.Int("arbitrators", len(arbitrators)),
		slog.Int("disputes", len(disputes)),
	)
	return nil
}

// SubmitReport records one reporter's reading, persists the updated report,
// and publishes a finalization event once consensus is reached.
func (s *OracleService) SubmitReport(ctx context.Context, reporter string, key domain.ReportKey, reading domain.Reading) (domain.WeatherReport, error) {
	if reading.SourceHash == "" {
		reading.SourceHash = crypto.ReadingHash(key, reporter, reading)
	}

	report, err := s.engine.SubmitReport(reporter, key, reading)
	if err != nil {
		return domain.WeatherReport{}, fmt.Errorf("oracle_service: submit report %s: %w", key, err)
	}

	if err := s.reports.Upsert(ctx, report); err != nil {
		return domain.WeatherReport{}, fmt.Errorf("oracle_service: persist report %s: %w", key, err)
	}

	if report.Finalized {
		evt, _ := json.Marshal(map[string]any{
			"event":    "report_finalized",
			"location": key.LocationID,
			"date":     key.DateKey,
			"value":    report.Value,
			"hash":     crypto.ReportHash(report),
		})
		if pubErr := s.bus.Publish(ctx, "reports", evt); pubErr != nil {
			s.logger.WarnContext(ctx, "oracle_service: publish event failed",
				slog.String("key", key.String()),
				slog.String("error", pubErr.Error()),
			)
		}

		if auditErr := s.audit.Log(ctx, "report_finalized", map[string]any{
			"location": key.LocationID,
			"date":     key.DateKey,
			"value":    report.Value,
			"readings": len(report.Readings),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "oracle_service: audit log failed",
				slog.String("key", key.String()),
				slog.String("error", auditErr.Error()),
			)
		}

		s.logger.InfoContext(ctx, "oracle_service: report finalized",
			slog.String("key", key.String()),
			slog.Int64("value", report.Value),
			slog.Int("readings", len(report.Readings)),
		)
	}

	return report, nil
}

// GetReport returns the report for a key, finalized or not.
func (s *OracleService) GetReport(ctx context.Context, key domain.ReportKey) (domain.WeatherReport, error) {
	report, err := s.engine.GetReport(key)
	if err != nil {
		// The engine only holds reports touched since startup; fall back to
		// the store for older history.
		report, err = s.reports.Get(ctx, key)
		if err != nil {
			return domain.WeatherReport{}, fmt.Errorf("oracle_service: get report %s: %w", key, err)
		}
	}
	return report, nil
}

// OpenDispute escrows the stake and opens a dispute against a finalized
// report.
func (s *OracleService) OpenDispute(ctx context.Context, disputer string, key domain.ReportKey, evidence string, stake int64) (domain.Dispute, error) {
	d, err := s.engine.DisputeResolution(disputer, key, evidence, stake)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("oracle_service: open dispute %s: %w", key, err)
	}

	if err := s.disputes.Upsert(ctx, d); err != nil {
		return domain.Dispute{}, fmt.Errorf("oracle_service: persist dispute %d: %w", d.ID, err)
	}

	s.publishDispute(ctx, "dispute_opened", d)
	s.auditDispute(ctx, "dispute_opened", d)

	if s.notifier != nil {
		title := fmt.Sprintf("Dispute opened: %s", key)
		msg := fmt.Sprintf("%s staked %d against the finalized report for %s.", disputer, d.Stake, key)
		if nErr := s.notifier.Notify(ctx, "dispute_opened", title, msg); nErr != nil {
			s.logger.WarnContext(ctx, "oracle_service: notify failed",
				slog.String("error", nErr.Error()),
			)
		}
	}

	return d, nil
}

// EscalateDispute moves an open dispute to arbitration with additional stake.
func (s *OracleService) EscalateDispute(ctx context.Context, disputer string, disputeID int64, additionalEvidence string, stake int64) (domain.Dispute, error) {
	d, err := s.engine.EscalateDispute(disputer, disputeID, additionalEvidence, stake)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("oracle_service: escalate dispute %d: %w", disputeID, err)
	}

	if err := s.disputes.Upsert(ctx, d); err != nil {
		return domain.Dispute{}, fmt.Errorf("oracle_service: persist dispute %d: %w", d.ID, err)
	}

	s.publishDispute(ctx, "dispute_escalated", d)
	s.auditDispute(ctx, "dispute_escalated", d)

	return d, nil
}

// CastVote records one arbitrator's weighted vote on an escalated dispute.
func (s *OracleService) CastVote(ctx context.Context, arbitrator string, disputeID int64, upheld bool, reason string) (domain.Dispute, error) {
	d, err := s.engine.ArbitratorVote(arbitrator, disputeID, upheld, reason)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("oracle_service: vote on dispute %d: %w", disputeID, err)
	}

	if err := s.disputes.Upsert(ctx, d); err != nil {
		return domain.Dispute{}, fmt.Errorf("oracle_service: persist dispute %d: %w", d.ID, err)
	}

	return d, nil
}

// ResolveDispute closes an escalated dispute, persists the dispute and the
// possibly amended report, and notifies operators.
func (s *OracleService) ResolveDispute(ctx context.Context, arbitrator string, disputeID int64, upheld bool, newOutcome bool, newValue int64, reason string) (oracle.Resolution, error) {
	res, err := s.engine.ResolveDispute(arbitrator, disputeID, upheld, newOutcome, newValue, reason)
	if err != nil {
		return oracle.Resolution{}, fmt.Errorf("oracle_service: resolve dispute %d: %w", disputeID, err)
	}

	if err := s.disputes.Upsert(ctx, res.Dispute); err != nil {
		return oracle.Resolution{}, fmt.Errorf("oracle_service: persist dispute %d: %w", disputeID, err)
	}
	if err := s.reports.Upsert(ctx, res.Report); err != nil {
		return oracle.Resolution{}, fmt.Errorf("oracle_service: persist report %s: %w", res.Report.Key, err)
	}

	s.publishDispute(ctx, "dispute_resolved", res.Dispute)

	if auditErr := s.audit.Log(ctx, "dispute_resolved", map[string]any{
		"dispute_id": res.Dispute.ID,
		"key":        res.Dispute.Key.String(),
		"status":     string(res.Dispute.Status),
		"refunded":   res.Refunded,
		"forfeited":  res.Forfeited,
		"value":      res.Report.Value,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "oracle_service: audit log failed",
			slog.Int64("dispute_id", res.Dispute.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	if s.notifier != nil {
		verdict := "rejected"
		if upheld {
			verdict = "upheld"
		}
		title := fmt.Sprintf("Dispute %d %s", disputeID, verdict)
		msg := fmt.Sprintf("Report %s now reads %d (outcome %t).", res.Report.Key, res.Report.Value, res.Report.Outcome)
		if nErr := s.notifier.Notify(ctx, "dispute_resolved", title, msg); nErr != nil {
			s.logger.WarnContext(ctx, "oracle_service: notify failed",
				slog.String("error", nErr.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "oracle_service: dispute resolved",
		slog.Int64("dispute_id", disputeID),
		slog.Bool("upheld", upheld),
		slog.Int64("refunded", res.Refunded),
		slog.Int64("forfeited", res.Forfeited),
	)

	return res, nil
}

// GetDispute returns a dispute by id, falling back to the store for history
// the engine no longer holds.
func (s *OracleService) GetDispute(ctx context.Context, id int64) (domain.Dispute, error) {
	d, err := s.engine.GetDispute(id)
	if err != nil {
		d, err = s.disputes.GetByID(ctx, id)
		if err != nil {
			return domain.Dispute{}, fmt.Errorf("oracle_service: get dispute %d: %w", id, err)
		}
	}
	return d, nil
}

// GetDisputeByReport returns the most recent dispute against the given
// report key.
func (s *OracleService) GetDisputeByReport(key domain.ReportKey) (domain.Dispute, error) {
	return s.engine.GetDisputeByReport(key)
}

// IsFinalized reports whether the report for key has reached consensus.
func (s *OracleService) IsFinalized(key domain.ReportKey) bool {
	return s.engine.IsFinalized(key)
}

// HasActiveDispute reports whether an open or escalated dispute blocks key.
func (s *OracleService) HasActiveDispute(key domain.ReportKey) bool {
	return s.engine.HasActiveDispute(key)
}

// DisputeStake returns the minimum stake to open a dispute.
func (s *OracleService) DisputeStake() int64 { return s.engine.DisputeStake() }

// EscalationStake returns the minimum additional stake to escalate.
func (s *OracleService) EscalationStake() int64 { return s.engine.EscalationStake() }

// GetArbitrator returns a registered arbitrator by address.
func (s *OracleService) GetArbitrator(address string) (domain.Arbitrator, error) {
	return s.engine.GetArbitrator(address)
}

// IsArbitrator reports whether address is an active arbitrator.
func (s *OracleService) IsArbitrator(address string) bool {
	return s.engine.IsArbitrator(address)
}

// TreasuryBalance returns forfeited dispute stake held by the treasury.
func (s *OracleService) TreasuryBalance() int64 { return s.engine.TreasuryBalance() }

// EscrowedStake returns stake currently locked behind active disputes.
func (s *OracleService) EscrowedStake() int64 { return s.engine.EscrowedStake() }

// AddReporter registers a weather data source and persists the registry.
func (s *OracleService) AddReporter(ctx context.Context, caller, address, name string) (domain.Reporter, error) {
	r, err := s.engine.AddReporter(caller, address, name)
	if err != nil {
		return domain.Reporter{}, fmt.Errorf("oracle_service: add reporter %s: %w", address, err)
	}
	if err := s.reporters.Upsert(ctx, r); err != nil {
		return domain.Reporter{}, fmt.Errorf("oracle_service: persist reporter %s: %w", address, err)
	}
	s.auditRegistry(ctx, "reporter_added", address, name)
	return r, nil
}

// RemoveReporter deactivates a reporter and persists the registry.
func (s *OracleService) RemoveReporter(ctx context.Context, caller, address string) (domain.Reporter, error) {
	r, err := s.engine.RemoveReporter(caller, address)
	if err != nil {
		return domain.Reporter{}, fmt.Errorf("oracle_service: remove reporter %s: %w", address, err)
	}
	if err := s.reporters.Upsert(ctx, r); err != nil {
		return domain.Reporter{}, fmt.Errorf("oracle_service: persist reporter %s: %w", address, err)
	}
	s.auditRegistry(ctx, "reporter_removed", address, r.Name)
	return r, nil
}

// AddArbitrator registers a weighted dispute voter and persists the registry.
func (s *OracleService) AddArbitrator(ctx context.Context, caller, address, name string, weight int64) (domain.Arbitrator, error) {
	a, err := s.engine.AddArbitrator(caller, address, name, weight)
	if err != nil {
		return domain.Arbitrator{}, fmt.Errorf("oracle_service: add arbitrator %s: %w", address, err)
	}
	if err := s.arbitrators.Upsert(ctx, a); err != nil {
		return domain.Arbitrator{}, fmt.Errorf("oracle_service: persist arbitrator %s: %w", address, err)
	}
	s.auditRegistry(ctx, "arbitrator_added", address, name)
	return a, nil
}

// RemoveArbitrator deactivates an arbitrator and persists the registry.
func (s *OracleService) RemoveArbitrator(ctx context.Context, caller, address string) (domain.Arbitrator, error) {
	a, err := s.engine.RemoveArbitrator(caller, address)
	if err != nil {
		return domain.Arbitrator{}, fmt.Errorf("oracle_service: remove arbitrator %s: %w", address, err)
	}
	if err := s.arbitrators.Upsert(ctx, a); err != nil {
		return domain.Arbitrator{}, fmt.Errorf("oracle_service: persist arbitrator %s: %w", address, err)
	}
	s.auditRegistry(ctx, "arbitrator_removed", address, a.Name)
	return a, nil
}

func (s *OracleService) publishDispute(ctx context.Context, event string, d domain.Dispute) {
	evt, _ := json.Marshal(map[string]any{
		"event":      event,
		"dispute_id": d.ID,
		"location":   d.Key.LocationID,
		"date":       d.Key.DateKey,
		"status":     string(d.Status),
	})
	if err := s.bus.Publish(ctx, "disputes", evt); err != nil {
		s.logger.WarnContext(ctx, "oracle_service: publish event failed",
			slog.Int64("dispute_id", d.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OracleService) auditDispute(ctx context.Context, event string, d domain.Dispute) {
	if err := s.audit.Log(ctx, event, map[string]any{
		"dispute_id": d.ID,
		"key":        d.Key.String(),
		"disputer":   d.Disputer,
		"stake":      d.Stake,
		"status":     string(d.Status),
	}); err != nil {
		s.logger.WarnContext(ctx, "oracle_service: audit log failed",
			slog.Int64("dispute_id", d.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OracleService) auditRegistry(ctx context.Context, event, address, name string) {
	if err := s.audit.Log(ctx, event, map[string]any{
		"address": address,
		"name":    name,
	}); err != nil {
		s.logger.WarnContext(ctx, "oracle_service: audit log failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
	}
}
