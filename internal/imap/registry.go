package imap

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mkovacs/mailroom/internal/models"
)

// CredentialSource resolves an account and its decrypted IMAP password.
type CredentialSource interface {
	Credentials(ctx context.Context, accountID string) (*models.Account, string, error)
}

// Registry owns exactly one live session per account. It is injected into
// the orchestrator rather than living as a module-level global, which keeps
// accounts isolated and tests deterministic.
type Registry struct {
	creds  CredentialSource
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry(creds CredentialSource, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		creds:    creds,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Session returns the account's session, creating it on first use. The
// session connects lazily on its first operation.
func (r *Registry) Session(ctx context.Context, accountID string) (*Session, error) {
	r.mu.Lock()
	if session, ok := r.sessions[accountID]; ok {
		r.mu.Unlock()
		return session, nil
	}
	r.mu.Unlock()

	account, password, err := r.creds.Credentials(ctx, accountID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have raced us here; the first one wins so the
	// one-connection-per-account rule holds.
	if session, ok := r.sessions[accountID]; ok {
		return session, nil
	}

	session := NewSession(account, password, r.logger)
	r.sessions[accountID] = session
	return session, nil
}

// DetachedSession creates a session that is not tracked by the registry.
// Used for the dedicated IDLE listener connection so it never competes with
// sync operations for the account's worker connection.
func (r *Registry) DetachedSession(ctx context.Context, accountID string) (*Session, error) {
	account, password, err := r.creds.Credentials(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return NewSession(account, password, r.logger), nil
}

// Remove logs out and forgets the account's session.
func (r *Registry) Remove(accountID string) {
	r.mu.Lock()
	session, ok := r.sessions[accountID]
	delete(r.sessions, accountID)
	r.mu.Unlock()

	if ok {
		session.Logout()
	}
}

// Close logs out every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, session := range r.sessions {
		sessions = append(sessions, session)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, session := range sessions {
		session.Logout()
	}
}
