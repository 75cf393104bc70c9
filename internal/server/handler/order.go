package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/whetherfun/weathermark/internal/book"
	"github.com/whetherfun/weathermark/internal/domain"
)

// OrderService defines the methods that the order handler requires from the
// service layer.
type OrderService interface {
	PlaceOrder(ctx context.Context, p book.PlaceParams) (domain.Order, error)
	CancelOrder(ctx context.Context, owner, orderID string) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(marketID string) []domain.Order
	Summary(ctx context.Context, marketID string) (domain.BookSummary, error)
}

// OrderHandler serves limit-order HTTP endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

// placeOrderRequest is the JSON body for resting a limit order.
type placeOrderRequest struct {
	Owner    string    `json:"owner"`
	MarketID string    `json:"market_id"`
	Side     string    `json:"side"`
	PriceBps int64     `json:"price_bps"`
	Amount   int64     `json:"amount"`
	Expiry   time.Time `json:"expiry"`
}

// PlaceOrder escrows collateral and rests a limit order on the book.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Owner == "" || req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "owner and market_id are required")
		return
	}
	side := domain.Side(req.Side)
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, "invalid side")
		return
	}

	order, err := h.orders.PlaceOrder(r.Context(), book.PlaceParams{
		Owner:    req.Owner,
		MarketID: req.MarketID,
		Side:     side,
		PriceBps: req.PriceBps,
		Amount:   req.Amount,
		Expiry:   req.Expiry,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "place order", err)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// CancelOrder cancels an order and releases its escrow back to the owner.
// DELETE /api/orders/{id}?owner=...
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	order, err := h.orders.CancelOrder(r.Context(), owner, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel order", err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// GetOrder returns a single order by its ID.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get order", err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// ListOrders returns active orders for a market.
// GET /api/orders?market_id=...
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	marketID := r.URL.Query().Get("market_id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "market_id query parameter required")
		return
	}

	orders := h.orders.ListOrders(marketID)
	if orders == nil {
		orders = []domain.Order{}
	}

	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}

// GetBook returns the aggregate book snapshot for a market.
// GET /api/markets/{id}/book
func (h *OrderHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	summary, err := h.orders.Summary(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get order book", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
