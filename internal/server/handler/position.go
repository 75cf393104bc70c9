package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/whetherfun/weathermark/internal/domain"
	"github.com/whetherfun/weathermark/internal/market"
)

// PositionService defines the methods that the position handler requires from
// the service layer.
type PositionService interface {
	Positions(marketID string) ([]domain.PositionBalance, error)
	ClaimWinnings(ctx context.Context, holder, marketID string) (market.Payout, error)
	Redeem(ctx context.Context, holder, marketID string, side domain.Side, amount int64) (market.Payout, error)
	RedemptionValue(marketID string, side domain.Side, amount int64) (int64, error)
	TransferPosition(ctx context.Context, marketID string, side domain.Side, from, to string, amount int64) error
}

// PositionHandler serves claim-unit position HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.PositionBalance `json:"positions"`
}

// ListPositions returns every live claim-unit balance for a market.
// GET /api/markets/{id}/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	positions, err := h.positions.Positions(id)
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.PositionBalance{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// claimRequest is the JSON body for claiming winnings.
type claimRequest struct {
	Holder string `json:"holder"`
}

// ClaimWinnings redeems all of a holder's claim units in a settled or
// cancelled market.
// POST /api/markets/{id}/claim
func (h *PositionHandler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req claimRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Holder == "" {
		writeError(w, http.StatusBadRequest, "holder is required")
		return
	}

	payout, err := h.positions.ClaimWinnings(r.Context(), req.Holder, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim winnings", err)
		return
	}

	writeJSON(w, http.StatusOK, payout)
}

// redeemRequest is the JSON body for a partial redemption.
type redeemRequest struct {
	Holder string `json:"holder"`
	Side   string `json:"side"`
	Amount int64  `json:"amount"`
}

// Redeem burns part of a holder's position on one side for its payout.
// POST /api/markets/{id}/redeem
func (h *PositionHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req redeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Holder == "" {
		writeError(w, http.StatusBadRequest, "holder is required")
		return
	}
	side := domain.Side(req.Side)
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, "invalid side")
		return
	}

	payout, err := h.positions.Redeem(r.Context(), req.Holder, id, side, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "redeem position", err)
		return
	}

	writeJSON(w, http.StatusOK, payout)
}

// GetRedemptionValue quotes the payout for a hypothetical redemption.
// GET /api/markets/{id}/redemption-value?side=yes&amount=1000000
func (h *PositionHandler) GetRedemptionValue(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	q := r.URL.Query()

	side := domain.Side(q.Get("side"))
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, "invalid side")
		return
	}
	amount, err := strconv.ParseInt(q.Get("amount"), 10, 64)
	if err != nil || amount <= 0 {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	value, err := h.positions.RedemptionValue(id, side, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote redemption value", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"side":      side,
		"amount":    amount,
		"value":     value,
	})
}

// transferRequest is the JSON body for moving claim units between holders.
type transferRequest struct {
	Side   string `json:"side"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// TransferPosition moves claim units from one holder to another.
// POST /api/markets/{id}/transfer
func (h *PositionHandler) TransferPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	side := domain.Side(req.Side)
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, "invalid side")
		return
	}

	if err := h.positions.TransferPosition(r.Context(), id, side, req.From, req.To, req.Amount); err != nil {
		writeServiceError(w, r, h.logger, "transfer position", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "transferred",
		"market_id": id,
	})
}
