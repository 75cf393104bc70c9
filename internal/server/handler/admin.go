package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/whetherfun/weathermark/internal/domain"
)

// AdminMarketService covers the operator-only market controls.
type AdminMarketService interface {
	PauseMarket(ctx context.Context, caller, marketID string) (domain.Market, error)
	UnpauseMarket(ctx context.Context, caller, marketID string) (domain.Market, error)
	CancelMarket(ctx context.Context, caller, marketID string) (domain.Market, error)
	FlagDisputed(ctx context.Context, caller, marketID string) (domain.Market, error)
	PlatformFees() int64
}

// RegistryService covers the reporter and arbitrator registries plus the
// treasury counters.
type RegistryService interface {
	AddReporter(ctx context.Context, caller, address, name string) (domain.Reporter, error)
	RemoveReporter(ctx context.Context, caller, address string) (domain.Reporter, error)
	AddArbitrator(ctx context.Context, caller, address, name string, weight int64) (domain.Arbitrator, error)
	RemoveArbitrator(ctx context.Context, caller, address string) (domain.Arbitrator, error)
	GetArbitrator(address string) (domain.Arbitrator, error)
	IsArbitrator(address string) bool
	TreasuryBalance() int64
	EscrowedStake() int64
}

// AdminHandler serves operator endpoints: market pause controls, the oracle
// registries, and treasury stats.
type AdminHandler struct {
	markets AdminMarketService
	oracle  RegistryService
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given services and logger.
func NewAdminHandler(markets AdminMarketService, oracle RegistryService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		markets: markets,
		oracle:  oracle,
		logger:  logger,
	}
}

// marketControl factors the shared decode-and-respond shape of the four
// pause-family endpoints.
func (h *AdminHandler) marketControl(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, caller, marketID string) (domain.Market, error),
) {
	id := pathParam(r, "id")
	var req callerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	m, err := fn(r.Context(), req.Caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// PauseMarket halts all mutation on a market.
// POST /api/markets/{id}/pause
func (h *AdminHandler) PauseMarket(w http.ResponseWriter, r *http.Request) {
	h.marketControl(w, r, "pause market", h.markets.PauseMarket)
}

// UnpauseMarket lifts a pause.
// POST /api/markets/{id}/unpause
func (h *AdminHandler) UnpauseMarket(w http.ResponseWriter, r *http.Request) {
	h.marketControl(w, r, "unpause market", h.markets.UnpauseMarket)
}

// CancelMarket voids a market so bettors can reclaim their collateral.
// POST /api/markets/{id}/cancel
func (h *AdminHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	h.marketControl(w, r, "cancel market", h.markets.CancelMarket)
}

// FlagDisputed moves a settled market back into the disputed state, blocking
// claims until the dispute resolves.
// POST /api/markets/{id}/flag-dispute
func (h *AdminHandler) FlagDisputed(w http.ResponseWriter, r *http.Request) {
	h.marketControl(w, r, "flag market disputed", h.markets.FlagDisputed)
}

// registryRequest is the JSON body for registry additions.
type registryRequest struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
	Name    string `json:"name"`
	Weight  int64  `json:"weight"`
}

// AddReporter registers a weather data source.
// POST /api/admin/reporters
func (h *AdminHandler) AddReporter(w http.ResponseWriter, r *http.Request) {
	var req registryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Caller == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "caller and address are required")
		return
	}

	rep, err := h.oracle.AddReporter(r.Context(), req.Caller, req.Address, req.Name)
	if err != nil {
		writeServiceError(w, r, h.logger, "add reporter", err)
		return
	}

	writeJSON(w, http.StatusCreated, rep)
}

// RemoveReporter deactivates a reporter.
// DELETE /api/admin/reporters/{address}?caller=...
func (h *AdminHandler) RemoveReporter(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	caller := r.URL.Query().Get("caller")
	if address == "" || caller == "" {
		writeError(w, http.StatusBadRequest, "address and caller are required")
		return
	}

	rep, err := h.oracle.RemoveReporter(r.Context(), caller, address)
	if err != nil {
		writeServiceError(w, r, h.logger, "remove reporter", err)
		return
	}

	writeJSON(w, http.StatusOK, rep)
}

// AddArbitrator registers a weighted dispute voter.
// POST /api/admin/arbitrators
func (h *AdminHandler) AddArbitrator(w http.ResponseWriter, r *http.Request) {
	var req registryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Caller == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "caller and address are required")
		return
	}

	arb, err := h.oracle.AddArbitrator(r.Context(), req.Caller, req.Address, req.Name, req.Weight)
	if err != nil {
		writeServiceError(w, r, h.logger, "add arbitrator", err)
		return
	}

	writeJSON(w, http.StatusCreated, arb)
}

// RemoveArbitrator deactivates an arbitrator.
// DELETE /api/admin/arbitrators/{address}?caller=...
func (h *AdminHandler) RemoveArbitrator(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	caller := r.URL.Query().Get("caller")
	if address == "" || caller == "" {
		writeError(w, http.StatusBadRequest, "address and caller are required")
		return
	}

	arb, err := h.oracle.RemoveArbitrator(r.Context(), caller, address)
	if err != nil {
		writeServiceError(w, r, h.logger, "remove arbitrator", err)
		return
	}

	writeJSON(w, http.StatusOK, arb)
}

// GetArbitrator returns one arbitrator's registry entry.
// GET /api/arbitrators/{address}
func (h *AdminHandler) GetArbitrator(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing arbitrator address")
		return
	}

	arb, err := h.oracle.GetArbitrator(address)
	if err != nil {
		writeServiceError(w, r, h.logger, "get arbitrator", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"arbitrator":    arb,
		"is_arbitrator": h.oracle.IsArbitrator(address),
	})
}

// GetTreasury returns the platform's accumulated fee and stake counters.
// GET /api/admin/treasury
func (h *AdminHandler) GetTreasury(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{
		"treasury_balance": h.oracle.TreasuryBalance(),
		"escrowed_stake":   h.oracle.EscrowedStake(),
		"platform_fees":    h.markets.PlatformFees(),
	})
}
