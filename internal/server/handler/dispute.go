package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/whetherfun/weathermark/internal/domain"
	"github.com/whetherfun/weathermark/internal/oracle"
)

// DisputeService defines the methods that the dispute handler requires from
// the service layer.
type DisputeService interface {
	OpenDispute(ctx context.Context, disputer string, key domain.ReportKey, evidence string, stake int64) (domain.Dispute, error)
	EscalateDispute(ctx context.Context, disputer string, disputeID int64, additionalEvidence string, stake int64) (domain.Dispute, error)
	CastVote(ctx context.Context, arbitrator string, disputeID int64, upheld bool, reason string) (domain.Dispute, error)
	ResolveDispute(ctx context.Context, arbitrator string, disputeID int64, upheld bool, newOutcome bool, newValue int64, reason string) (oracle.Resolution, error)
	GetDispute(ctx context.Context, id int64) (domain.Dispute, error)
	DisputeStake() int64
	EscalationStake() int64
}

// DisputeHandler serves dispute lifecycle HTTP endpoints.
type DisputeHandler struct {
	oracle DisputeService
	logger *slog.Logger
}

// NewDisputeHandler creates a DisputeHandler with the given service and logger.
func NewDisputeHandler(oracle DisputeService, logger *slog.Logger) *DisputeHandler {
	return &DisputeHandler{
		oracle: oracle,
		logger: logger,
	}
}

// disputeIDParam parses the {id} path parameter as a dispute id.
func disputeIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid dispute id")
		return 0, false
	}
	return id, true
}

// openDisputeRequest is the JSON body for opening a dispute.
type openDisputeRequest struct {
	Disputer   string `json:"disputer"`
	LocationID string `json:"location_id"`
	Date       string `json:"date"`
	Evidence   string `json:"evidence"`
	Stake      int64  `json:"stake"`
}

// OpenDispute opens a staked challenge against a finalized report.
// POST /api/disputes
func (h *DisputeHandler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	var req openDisputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Disputer == "" || req.LocationID == "" || req.Date == "" {
		writeError(w, http.StatusBadRequest, "disputer, location_id and date are required")
		return
	}

	key := domain.ReportKey{LocationID: req.LocationID, DateKey: req.Date}
	dispute, err := h.oracle.OpenDispute(r.Context(), req.Disputer, key, req.Evidence, req.Stake)
	if err != nil {
		writeServiceError(w, r, h.logger, "open dispute", err)
		return
	}

	writeJSON(w, http.StatusCreated, dispute)
}

// escalateDisputeRequest is the JSON body for escalating a dispute.
type escalateDisputeRequest struct {
	Disputer string `json:"disputer"`
	Evidence string `json:"evidence"`
	Stake    int64  `json:"stake"`
}

// EscalateDispute raises an open dispute to the arbitration panel.
// POST /api/disputes/{id}/escalate
func (h *DisputeHandler) EscalateDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeIDParam(w, r)
	if !ok {
		return
	}
	var req escalateDisputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Disputer == "" {
		writeError(w, http.StatusBadRequest, "disputer is required")
		return
	}

	dispute, err := h.oracle.EscalateDispute(r.Context(), req.Disputer, id, req.Evidence, req.Stake)
	if err != nil {
		writeServiceError(w, r, h.logger, "escalate dispute", err)
		return
	}

	writeJSON(w, http.StatusOK, dispute)
}

// castVoteRequest is the JSON body for an arbitrator vote.
type castVoteRequest struct {
	Arbitrator string `json:"arbitrator"`
	Upheld     bool   `json:"upheld"`
	Reason     string `json:"reason"`
}

// CastVote records one arbitrator's weighted vote on an escalated dispute.
// POST /api/disputes/{id}/votes
func (h *DisputeHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeIDParam(w, r)
	if !ok {
		return
	}
	var req castVoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Arbitrator == "" {
		writeError(w, http.StatusBadRequest, "arbitrator is required")
		return
	}

	dispute, err := h.oracle.CastVote(r.Context(), req.Arbitrator, id, req.Upheld, req.Reason)
	if err != nil {
		writeServiceError(w, r, h.logger, "cast vote", err)
		return
	}

	writeJSON(w, http.StatusOK, dispute)
}

// resolveDisputeRequest is the JSON body for resolving a dispute.
type resolveDisputeRequest struct {
	Arbitrator string `json:"arbitrator"`
	Upheld     bool   `json:"upheld"`
	NewOutcome bool   `json:"new_outcome"`
	NewValue   int64  `json:"new_value"`
	Reason     string `json:"reason"`
}

// ResolveDispute closes a dispute, settling stakes and, when upheld,
// rewriting the report's aggregate value.
// POST /api/disputes/{id}/resolve
func (h *DisputeHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeIDParam(w, r)
	if !ok {
		return
	}
	var req resolveDisputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Arbitrator == "" {
		writeError(w, http.StatusBadRequest, "arbitrator is required")
		return
	}

	res, err := h.oracle.ResolveDispute(r.Context(), req.Arbitrator, id, req.Upheld, req.NewOutcome, req.NewValue, req.Reason)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve dispute", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// GetDispute returns a dispute by its id.
// GET /api/disputes/{id}
func (h *DisputeHandler) GetDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeIDParam(w, r)
	if !ok {
		return
	}

	dispute, err := h.oracle.GetDispute(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get dispute", err)
		return
	}

	writeJSON(w, http.StatusOK, dispute)
}

// GetStakes returns the minimum stakes for opening and escalating disputes.
// GET /api/disputes/stakes
func (h *DisputeHandler) GetStakes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{
		"dispute_stake":    h.oracle.DisputeStake(),
		"escalation_stake": h.oracle.EscalationStake(),
	})
}
