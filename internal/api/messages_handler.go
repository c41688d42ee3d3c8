package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkovacs/mailroom/internal/db"
)

// MessagesHandler serves locally stored messages and folders.
type MessagesHandler struct {
	pool    *pgxpool.Pool
	store   *db.MessageStore
	logger  *slog.Logger
	hydrate db.GetOptions
}

// NewMessagesHandler creates a MessagesHandler. hydrate configures the
// bounded remote hydration used when a single message is opened.
func NewMessagesHandler(pool *pgxpool.Pool, store *db.MessageStore, hydrate db.GetOptions, logger *slog.Logger) *MessagesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessagesHandler{pool: pool, store: store, logger: logger, hydrate: hydrate}
}

// ListFolders returns the local folder tree of an account.
func (h *MessagesHandler) ListFolders(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	folders, err := db.ListFolders(r.Context(), h.pool, accountID)
	if err != nil {
		h.logger.Error("failed to list folders", "account", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list folders")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

// ListMessages returns a page of messages for a folder, newest first.
func (h *MessagesHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	folderID := r.PathValue("folderID")
	limit, offset := parsePagination(r, 50)

	messages, err := h.store.ListForFolder(r.Context(), folderID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list messages", "folder_id", folderID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// GetMessage returns one message by id. With hydrate=1 a body-less row is
// filled from the remote mailbox under a bounded timeout; on timeout the
// locally available fields are returned instead of an error.
func (h *MessagesHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("messageID")

	opts := db.GetOptions{}
	if r.URL.Query().Get("hydrate") == "1" {
		opts = h.hydrate
	}

	msg, err := h.store.Get(r.Context(), id, opts)
	if errors.Is(err, db.ErrMessageNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get message", "message_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}

	writeJSON(w, http.StatusOK, msg)
}
