package domain

import "time"

// DisputeStatus tracks the dispute lifecycle.
type DisputeStatus string

const (
	DisputeStatusOpen             DisputeStatus = "open"
	DisputeStatusEscalated        DisputeStatus = "escalated"
	DisputeStatusResolvedUpheld   DisputeStatus = "resolved_upheld"
	DisputeStatusResolvedRejected DisputeStatus = "resolved_rejected"
)

// Active reports whether the dispute still blocks its report key. At most one
// active dispute may exist per report key at any time.
func (s DisputeStatus) Active() bool {
	return s == DisputeStatusOpen || s == DisputeStatusEscalated
}

// ArbitratorVote is one arbitrator's recorded, weighted vote on a dispute.
type ArbitratorVote struct {
	Arbitrator string
	Upheld     bool
	Weight     int64
	Reason     string
	CastAt     time.Time
}

// Dispute is a staked challenge against a finalized weather report.
// Stake holds the full escrowed amount (initial stake plus any escalation
// stake); it is refunded in full on an upheld resolution and forfeited to
// the treasury on rejection.
type Dispute struct {
	ID                 int64
	Key                ReportKey
	Disputer           string
	Stake              int64 // micro-units, total escrowed
	Evidence           string
	AdditionalEvidence string
	Status             DisputeStatus
	Votes              []ArbitratorVote
	ResolvedBy         string
	CreatedAt          time.Time
	EscalatedAt        *time.Time
	ResolvedAt         *time.Time
}

// VoteTally sums the weighted votes for and against upholding the dispute.
func (d Dispute) VoteTally() (upheld, rejected int64) {
	for _, v := range d.Votes {
		if v.Upheld {
			upheld += v.Weight
		} else {
			rejected += v.Weight
		}
	}
	return upheld, rejected
}

// Arbitrator is an identity authorized to vote on and resolve escalated
// disputes. Weight scales the arbitrator's vote in the tally.
type Arbitrator struct {
	Address          string
	Name             string
	Weight           int64
	Active           bool
	DisputesResolved int64
	AddedAt          time.Time
}
