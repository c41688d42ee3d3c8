package api

import (
	"errors"
	"log/slog"
	"net/http"

	syncer "github.com/mkovacs/mailroom/internal/sync"
)

// SyncHandler exposes the sync engine's entry points.
type SyncHandler struct {
	orchestrator *syncer.Orchestrator
	logger       *slog.Logger
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(orchestrator *syncer.Orchestrator, logger *slog.Logger) *SyncHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncHandler{orchestrator: orchestrator, logger: logger}
}

// SyncAccount runs a full account pass.
func (h *SyncHandler) SyncAccount(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	result, err := h.orchestrator.SyncAccount(r.Context(), accountID)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	}
	if err != nil {
		h.logger.Error("account sync failed", "account", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// SyncInbox runs the fast inbox-only pass behind the refresh action.
func (h *SyncHandler) SyncInbox(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	result, err := h.orchestrator.SyncInbox(r.Context(), accountID)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	}
	if err != nil {
		h.logger.Error("inbox sync failed", "account", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// SyncFolder syncs one folder named by the folder query parameter.
func (h *SyncHandler) SyncFolder(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	folderPath := r.URL.Query().Get("folder")
	if folderPath == "" {
		writeError(w, http.StatusBadRequest, "folder query parameter is required")
		return
	}

	result, err := h.orchestrator.SyncFolder(r.Context(), accountID, folderPath)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	}
	if err != nil {
		h.logger.Error("folder sync failed", "account", accountID, "folder", folderPath, "error", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ClearAndResync wipes a folder's local messages and rebuilds it with full
// bodies.
func (h *SyncHandler) ClearAndResync(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	folderPath := r.URL.Query().Get("folder")
	if folderPath == "" {
		writeError(w, http.StatusBadRequest, "folder query parameter is required")
		return
	}

	result, err := h.orchestrator.ClearAndResync(r.Context(), accountID, folderPath)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	}
	if err != nil {
		h.logger.Error("clear-and-resync failed", "account", accountID, "folder", folderPath, "error", err)
		writeError(w, http.StatusInternalServerError, "resync failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// CancelSync cancels the in-flight sync of an account, if any.
func (h *SyncHandler) CancelSync(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	h.orchestrator.CancelSync(accountID)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}
