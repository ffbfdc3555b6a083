package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/avelhorn/tradewarden/internal/domain"
)

// StatusFunc assembles the engine status snapshot. The app binds the running
// mode, the selected risk strategy and the controller's tracked count into it.
type StatusFunc func(ctx context.Context) (domain.Status, error)

// StatusHandler serves the read-only engine status endpoints.
type StatusHandler struct {
	status StatusFunc
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(status StatusFunc, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		status: status,
		logger: logger.With(slog.String("handler", "status")),
	}
}

// GetStatus returns the engine status snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.status(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "status query failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to assemble status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
