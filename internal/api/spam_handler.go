package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkovacs/mailroom/internal/db"
	"github.com/mkovacs/mailroom/internal/models"
	"github.com/mkovacs/mailroom/internal/spam"
)

// SpamHandler manages the manual blacklist and greylist policy actions.
type SpamHandler struct {
	pool   *pgxpool.Pool
	lists  *db.SpamLists
	logger *slog.Logger
}

// NewSpamHandler creates a SpamHandler.
func NewSpamHandler(pool *pgxpool.Pool, lists *db.SpamLists, logger *slog.Logger) *SpamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpamHandler{pool: pool, lists: lists, logger: logger}
}

type blacklistRequest struct {
	AccountID    *string `json:"account_id,omitempty"`
	EmailAddress string  `json:"email_address,omitempty"`
	Domain       string  `json:"domain,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

// AddBlacklistEntry adds a sender address or domain to the blacklist. Without
// an account_id the entry applies globally.
func (h *SpamHandler) AddBlacklistEntry(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EmailAddress == "" && req.Domain == "" {
		writeError(w, http.StatusBadRequest, "email_address or domain is required")
		return
	}

	entry := &models.BlacklistEntry{
		AccountID:    req.AccountID,
		EmailAddress: strings.ToLower(req.EmailAddress),
		Domain:       strings.ToLower(req.Domain),
		Reason:       req.Reason,
	}
	if err := db.AddBlacklistEntry(r.Context(), h.pool, entry); err != nil {
		h.logger.Error("failed to add blacklist entry", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add blacklist entry")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

type blockSenderRequest struct {
	AccountID    *string `json:"account_id,omitempty"`
	EmailAddress string  `json:"email_address"`
	Domain       string  `json:"domain,omitempty"`
}

// BlockSender places a sender under the standard greylist block window.
func (h *SpamHandler) BlockSender(w http.ResponseWriter, r *http.Request) {
	var req blockSenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EmailAddress == "" {
		writeError(w, http.StatusBadRequest, "email_address is required")
		return
	}

	until := time.Now().Add(spam.GreylistBlockWindow)
	if err := h.lists.BlockSender(r.Context(), req.AccountID, strings.ToLower(req.EmailAddress), strings.ToLower(req.Domain), until); err != nil {
		h.logger.Error("failed to block sender", "sender", req.EmailAddress, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to block sender")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"blocked_until": until})
}
