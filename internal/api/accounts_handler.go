package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkovacs/mailroom/internal/crypto"
	"github.com/mkovacs/mailroom/internal/db"
	"github.com/mkovacs/mailroom/internal/models"
)

// AccountsHandler manages mailbox account registration.
type AccountsHandler struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
	logger    *slog.Logger
}

// NewAccountsHandler creates an AccountsHandler.
func NewAccountsHandler(pool *pgxpool.Pool, encryptor *crypto.Encryptor, logger *slog.Logger) *AccountsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountsHandler{pool: pool, encryptor: encryptor, logger: logger}
}

type saveAccountRequest struct {
	Email          string `json:"email"`
	IMAPHost       string `json:"imap_host"`
	IMAPPort       int    `json:"imap_port"`
	IMAPUsername   string `json:"imap_username"`
	IMAPPassword   string `json:"imap_password"`
	UseTLS         *bool  `json:"use_tls,omitempty"`
	SpamFolderName string `json:"spam_folder_name,omitempty"`
}

// SaveAccount registers a mailbox account or updates an existing one keyed by
// email. The password is encrypted before it reaches the database.
func (h *AccountsHandler) SaveAccount(w http.ResponseWriter, r *http.Request) {
	var req saveAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.IMAPHost == "" || req.IMAPPassword == "" {
		writeError(w, http.StatusBadRequest, "email, imap_host and imap_password are required")
		return
	}

	encrypted, err := h.encryptor.Encrypt(req.IMAPPassword)
	if err != nil {
		h.logger.Error("failed to encrypt password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	username := req.IMAPUsername
	if username == "" {
		username = req.Email
	}
	useTLS := true
	if req.UseTLS != nil {
		useTLS = *req.UseTLS
	}
	spamFolder := req.SpamFolderName
	if spamFolder == "" {
		spamFolder = "Spam"
	}

	account := &models.Account{
		Email:             req.Email,
		IMAPHost:          req.IMAPHost,
		IMAPPort:          req.IMAPPort,
		IMAPUsername:      username,
		EncryptedPassword: encrypted,
		UseTLS:            useTLS,
		SpamFolderName:    spamFolder,
	}

	if err := db.SaveAccount(r.Context(), h.pool, account); err != nil {
		h.logger.Error("failed to save account", "email", req.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save account")
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// ListAccounts returns every registered account. Passwords never leave the
// server; the model omits them from JSON.
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := db.ListAccounts(r.Context(), h.pool)
	if err != nil {
		h.logger.Error("failed to list accounts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

// GetAccount returns one account by id.
func (h *AccountsHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := db.GetAccount(r.Context(), h.pool, r.PathValue("id"))
	if errors.Is(err, db.ErrAccountNotFound) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get account", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, account)
}
