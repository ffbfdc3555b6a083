package handler

import (
	"log/slog"
	"net/http"

	"github.com/avelhorn/tradewarden/internal/domain"
)

// DrawdownSource exposes the circuit breaker snapshot and the persisted
// windows behind it.
type DrawdownSource interface {
	GetDrawdownStatus() domain.DrawdownStatus
}

// DrawdownHandler serves the circuit breaker state.
type DrawdownHandler struct {
	source DrawdownSource
	logger *slog.Logger
}

// NewDrawdownHandler creates a DrawdownHandler.
func NewDrawdownHandler(source DrawdownSource, logger *slog.Logger) *DrawdownHandler {
	return &DrawdownHandler{
		source: source,
		logger: logger.With(slog.String("handler", "drawdown")),
	}
}

// GetDrawdown returns the current drawdown windows and lock state.
// GET /api/drawdown
func (h *DrawdownHandler) GetDrawdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.GetDrawdownStatus())
}
