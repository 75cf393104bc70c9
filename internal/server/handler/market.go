package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/whetherfun/weathermark/internal/domain"
	"github.com/whetherfun/weathermark/internal/market"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, p market.CreateParams) (domain.Market, error)
	ActivateMarket(ctx context.Context, caller, marketID string) (domain.Market, error)
	PlaceBet(ctx context.Context, bettor, marketID string, side domain.Side, amount int64) (market.BetReceipt, error)
	SettleMarket(ctx context.Context, caller, marketID string) (domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(status domain.MarketStatus) []domain.Market
	Stats(marketID string) (domain.MarketStats, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// createMarketRequest is the JSON body for creating a market.
type createMarketRequest struct {
	Creator     string           `json:"creator"`
	Description string           `json:"description"`
	LocationID  string           `json:"location_id"`
	Type        string           `json:"type"`
	Criteria    string           `json:"criteria"`
	Oracle      string           `json:"oracle"`
	Expiry      time.Time        `json:"expiry"`
	Brackets    []bracketRequest `json:"brackets"`
	ScalarLo    *int64           `json:"scalar_lo"`
	ScalarHi    *int64           `json:"scalar_hi"`
	Activate    bool             `json:"activate"`
}

// bracketRequest is one half-open value range in a bracket market.
type bracketRequest struct {
	Lo int64 `json:"lo"`
	Hi int64 `json:"hi"`
}

// CreateMarket registers a new market, optionally activating it immediately.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Creator == "" || req.LocationID == "" {
		writeError(w, http.StatusBadRequest, "creator and location_id are required")
		return
	}

	p := market.CreateParams{
		Creator:     req.Creator,
		Description: req.Description,
		LocationID:  req.LocationID,
		Type:        domain.MarketType(req.Type),
		Criteria:    req.Criteria,
		Oracle:      req.Oracle,
		Expiry:      req.Expiry,
		Activate:    req.Activate,
	}
	for _, b := range req.Brackets {
		p.Brackets = append(p.Brackets, domain.Bracket{Lo: b.Lo, Hi: b.Hi})
	}
	if req.ScalarLo != nil && req.ScalarHi != nil {
		p.Scalar = &domain.ScalarRange{Lo: *req.ScalarLo, Hi: *req.ScalarHi}
	}

	m, err := h.markets.CreateMarket(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}

	writeJSON(w, http.StatusCreated, m)
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets filtered by status, with pagination.
// GET /api/markets?status=active&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	status := domain.MarketStatus(r.URL.Query().Get("status"))

	all := h.markets.ListMarkets(status)
	total := len(all)

	lo := opts.Offset
	if lo > total {
		lo = total
	}
	hi := lo + opts.Limit
	if hi > total {
		hi = total
	}
	page := all[lo:hi]
	if page == nil {
		page = []domain.Market{}
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: page,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// GetStats returns aggregate counters for one market.
// GET /api/markets/{id}/stats
func (h *MarketHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	stats, err := h.markets.Stats(id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market stats", err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// callerRequest is the JSON body for operations that only identify a caller.
type callerRequest struct {
	Caller string `json:"caller"`
}

// ActivateMarket opens a pending market for betting.
// POST /api/markets/{id}/activate
func (h *MarketHandler) ActivateMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req callerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	m, err := h.markets.ActivateMarket(r.Context(), req.Caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "activate market", err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// placeBetRequest is the JSON body for placing a bet.
type placeBetRequest struct {
	Bettor string `json:"bettor"`
	Side   string `json:"side"`
	Amount int64  `json:"amount"`
}

// PlaceBet credits a side's pool and mints claim units to the bettor.
// POST /api/markets/{id}/bets
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req placeBetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Bettor == "" {
		writeError(w, http.StatusBadRequest, "bettor is required")
		return
	}
	side := domain.Side(req.Side)
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, "invalid side")
		return
	}

	receipt, err := h.markets.PlaceBet(r.Context(), req.Bettor, id, side, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

// SettleMarket settles an expired market against its finalized weather report.
// POST /api/markets/{id}/settle
func (h *MarketHandler) SettleMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req callerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	m, err := h.markets.SettleMarket(r.Context(), req.Caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "settle market", err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}
