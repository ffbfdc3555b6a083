package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/avelhorn/tradewarden/internal/domain"
)

// TradeSource is the slice of the trade store the API reads from.
type TradeSource interface {
	GetByID(ctx context.Context, id string) (domain.Trade, error)
	ListOpen(ctx context.Context) ([]domain.Trade, error)
	ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradesHandler serves the trade history endpoints.
type TradesHandler struct {
	trades TradeSource
	logger *slog.Logger
}

// NewTradesHandler creates a TradesHandler.
func NewTradesHandler(trades TradeSource, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{
		trades: trades,
		logger: logger.With(slog.String("handler", "trades")),
	}
}

// ListOpen returns all OPEN trades.
// GET /api/trades/open
func (h *TradesHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	trades, err := h.trades.ListOpen(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list open trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list open trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// ListHistory returns the paginated trade history, optionally bounded by
// since/until RFC3339 timestamps.
// GET /api/trades?limit=50&offset=0&since=...&until=...
func (h *TradesHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		opts.Since = &t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until timestamp")
			return
		}
		opts.Until = &t
	}

	trades, err := h.trades.ListHistory(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trade history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetTrade returns a single trade by id.
// GET /api/trades/{id}
func (h *TradesHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	trade, err := h.trades.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get trade failed",
			slog.String("trade_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load trade")
		return
	}
	writeJSON(w, http.StatusOK, trade)
}
