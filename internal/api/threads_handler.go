package api

import (
	"context"
	"log/slog"
	"net/http"
)

// ThreadRecalculator is the thread-repair surface, satisfied by
// *threads.Reconstructor.
type ThreadRecalculator interface {
	RecalculateAll(ctx context.Context, accountID string) (int, error)
}

// ThreadsHandler exposes thread maintenance operations.
type ThreadsHandler struct {
	recalculator ThreadRecalculator
	logger       *slog.Logger
}

// NewThreadsHandler creates a ThreadsHandler.
func NewThreadsHandler(recalculator ThreadRecalculator, logger *slog.Logger) *ThreadsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadsHandler{recalculator: recalculator, logger: logger}
}

// Recalculate re-runs thread reconstruction over every stored message of the
// account, oldest first. Repairs thread assignments left behind by
// out-of-order arrivals.
func (h *ThreadsHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	updated, err := h.recalculator.RecalculateAll(r.Context(), accountID)
	if err != nil {
		h.logger.Error("thread recalculation failed", "account", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "thread recalculation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}
