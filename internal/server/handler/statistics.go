package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/avelhorn/tradewarden/internal/domain"
)

// StatisticsSource computes performance statistics from closed trades.
type StatisticsSource interface {
	GetStatistics(ctx context.Context, days int) (domain.Statistics, error)
}

// StatisticsHandler serves performance statistics.
type StatisticsHandler struct {
	source StatisticsSource
	logger *slog.Logger
}

// NewStatisticsHandler creates a StatisticsHandler.
func NewStatisticsHandler(source StatisticsSource, logger *slog.Logger) *StatisticsHandler {
	return &StatisticsHandler{
		source: source,
		logger: logger.With(slog.String("handler", "statistics")),
	}
}

// GetStatistics returns win rate, profit factor and per-strategy breakdown
// over the trailing window. The "days" query parameter defaults to 30.
// GET /api/statistics?days=30
func (h *StatisticsHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)

	stats, err := h.source.GetStatistics(r.Context(), days)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "statistics query failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
