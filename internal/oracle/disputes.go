package oracle

import (
	"fmt"

	"github.com/whetherfun/weathermark/internal/domain"
)

// Resolution is the outcome of a resolved dispute. Exactly one of Refunded or
// Forfeited is non-zero, and together they account for the full escrowed
// stake across the dispute's lifecycle.
type Resolution struct {
	Dispute   domain.Dispute
	Report    domain.WeatherReport
	Refunded  int64
	Forfeited int64
}

// DisputeResolution opens a dispute against a finalized report, escrowing the
// stake. At most one active dispute may exist per report key.
func (e *Engine) DisputeResolution(disputer string, key domain.ReportKey, evidence string, stake int64) (domain.Dispute, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report, ok := e.reports[key]
	if !ok || !report.Finalized {
		return domain.Dispute{}, fmt.Errorf("oracle: dispute %s: report not finalized: %w", key, domain.ErrInvalidState)
	}
	if id, active := e.activeByKey[key]; active {
		return domain.Dispute{}, fmt.Errorf("oracle: dispute %s: dispute %d already active: %w", key, id, domain.ErrAlreadyExists)
	}
	if stake < MinDisputeStake {
		return domain.Dispute{}, fmt.Errorf("oracle: dispute %s: stake %d below minimum %d: %w", key, stake, MinDisputeStake, domain.ErrInsufficient)
	}

	d := &domain.Dispute{
		ID:        e.nextID,
		Key:       key,
		Disputer:  disputer,
		Stake:     stake,
		Evidence:  evidence,
		Status:    domain.DisputeStatusOpen,
		CreatedAt: e.nowFn(),
	}
	e.nextID++
	e.disputes[d.ID] = d
	e.activeByKey[key] = d.ID
	e.escrowed += stake

	return cloneDispute(*d), nil
}

// EscalateDispute moves an open dispute to Escalated. Only the original
// disputer may escalate, and the additional stake has its own larger minimum.
func (e *Engine) EscalateDispute(disputer string, disputeID int64, additionalEvidence string, stake int64) (domain.Dispute, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.disputes[disputeID]
	if !ok {
		return domain.Dispute{}, fmt.Errorf("oracle: escalate dispute %d: %w", disputeID, domain.ErrNotFound)
	}
	if d.Disputer != disputer {
		return domain.Dispute{}, fmt.Errorf("oracle: escalate dispute %d: caller %q is not the disputer: %w", disputeID, disputer, domain.ErrUnauthorized)
	}
	if d.Status != domain.DisputeStatusOpen {
		return domain.Dispute{}, fmt.Errorf("oracle: escalate dispute %d: status %s: %w", disputeID, d.Status, domain.ErrInvalidState)
	}
	if stake < MinEscalationStake {
		return domain.Dispute{}, fmt.Errorf("oracle: escalate dispute %d: stake %d below minimum %d: %w", disputeID, stake, MinEscalationStake, domain.ErrInsufficient)
	}

	now := e.nowFn()
	d.Status = domain.DisputeStatusEscalated
	d.Stake += stake
	d.AdditionalEvidence = additionalEvidence
	d.EscalatedAt = &now
	e.escrowed += stake

	return cloneDispute(*d), nil
}

// ArbitratorVote records a weighted vote on an active dispute. Voting does
// not change dispute status; each arbitrator may vote once.
func (e *Engine) ArbitratorVote(arbitrator string, disputeID int64, upheld bool, reason string) (domain.Dispute, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	arb, ok := e.arbitrators[arbitrator]
	if !ok || !arb.Active {
		return domain.Dispute{}, fmt.Errorf("oracle: vote on dispute %d: %q is not an active arbitrator: %w", disputeID, arbitrator, domain.ErrUnauthorized)
	}
	d, ok := e.disputes[disputeID]
	if !ok {
		return domain.Dispute{}, fmt.Errorf("oracle: vote on dispute %d: %w", disputeID, domain.ErrNotFound)
	}
	if !d.Status.Active() {
		return domain.Dispute{}, fmt.Errorf("oracle: vote on dispute %d: status %s: %w", disputeID, d.Status, domain.ErrInvalidState)
	}
	for _, v := range d.Votes {
		if v.Arbitrator == arbitrator {
			return domain.Dispute{}, fmt.Errorf("oracle: vote on dispute %d: %q already voted: %w", disputeID, arbitrator, domain.ErrAlreadyExists)
		}
	}

	d.Votes = append(d.Votes, domain.ArbitratorVote{
		Arbitrator: arbitrator,
		Upheld:     upheld,
		Weight:     arb.Weight,
		Reason:     reason,
		CastAt:     e.nowFn(),
	})

	return cloneDispute(*d), nil
}

// ResolveDispute closes an escalated dispute. Upheld: the full stake is
// refunded and the report's aggregate value and outcome are overwritten.
// Rejected: the stake is forfeited to the treasury. Requires at least one
// recorded vote. Markets that already consumed the old value at settlement
// are not reopened; they snapshot what they used.
func (e *Engine) ResolveDispute(arbitrator string, disputeID int64, upheld bool, newOutcome bool, newValue int64, reason string) (Resolution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	arb, ok := e.arbitrators[arbitrator]
	if !ok || !arb.Active {
		return Resolution{}, fmt.Errorf("oracle: resolve dispute %d: %q is not an active arbitrator: %w", disputeID, arbitrator, domain.ErrUnauthorized)
	}
	d, ok := e.disputes[disputeID]
	if !ok {
		return Resolution{}, fmt.Errorf("oracle: resolve dispute %d: %w", disputeID, domain.ErrNotFound)
	}
	if d.Status != domain.DisputeStatusEscalated {
		return Resolution{}, fmt.Errorf("oracle: resolve dispute %d: status %s, must be escalated: %w", disputeID, d.Status, domain.ErrInvalidState)
	}
	if len(d.Votes) == 0 {
		return Resolution{}, fmt.Errorf("oracle: resolve dispute %d: no votes recorded: %w", disputeID, domain.ErrInvalidState)
	}

	report, ok := e.reports[d.Key]
	if !ok {
		return Resolution{}, fmt.Errorf("oracle: resolve dispute %d: report %s: %w", disputeID, d.Key, domain.ErrNotFound)
	}

	now := e.nowFn()
	res := Resolution{}

	if upheld {
		d.Status = domain.DisputeStatusResolvedUpheld
		report.Value = newValue
		report.Outcome = newOutcome
		report.UpdatedAt = now
		res.Refunded = d.Stake
	} else {
		d.Status = domain.DisputeStatusResolvedRejected
		e.treasury += d.Stake
		res.Forfeited = d.Stake
	}
	e.escrowed -= d.Stake
	d.ResolvedBy = arbitrator
	d.ResolvedAt = &now
	delete(e.activeByKey, d.Key)

	arb.DisputesResolved++
	e.arbitrators[arbitrator] = arb

	res.Dispute = cloneDispute(*d)
	res.Report = cloneReport(*report)
	return res, nil
}

// GetDispute returns a copy of the dispute by id.
func (e *Engine) GetDispute(id int64) (domain.Dispute, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.disputes[id]
	if !ok {
		return domain.Dispute{}, fmt.Errorf("oracle: dispute %d: %w", id, domain.ErrNotFound)
	}
	return cloneDispute(*d), nil
}

// GetDisputeByReport returns the active dispute for the report key, if any.
func (e *Engine) GetDisputeByReport(key domain.ReportKey) (domain.Dispute, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.activeByKey[key]
	if !ok {
		return domain.Dispute{}, fmt.Errorf("oracle: no active dispute for %s: %w", key, domain.ErrNotFound)
	}
	return cloneDispute(*e.disputes[id]), nil
}

// HasActiveDispute reports whether an active dispute exists for the key.
func (e *Engine) HasActiveDispute(key domain.ReportKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.activeByKey[key]
	return ok
}

// DisputeStake returns the minimum stake to open a dispute.
func (e *Engine) DisputeStake() int64 { return MinDisputeStake }

// EscalationStake returns the minimum additional stake to escalate.
func (e *Engine) EscalationStake() int64 { return MinEscalationStake }
