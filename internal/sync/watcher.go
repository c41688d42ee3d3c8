package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mkovacs/mailroom/internal/imap"
)

// idleMaxWait bounds one IDLE round. Well under the RFC's 30 minute
// inactivity limit so NATs and proxies never reap the connection.
const idleMaxWait = 20 * time.Minute

// Watcher keeps a dedicated listener connection in IDLE on the inbox and
// triggers a priority inbox sync whenever the server reports new mail. The
// listener connection is detached from the registry so the orchestrator's
// session stays free for sync work.
type Watcher struct {
	registry     *imap.Registry
	orchestrator *Orchestrator
	logger       *slog.Logger
}

// NewWatcher builds a Watcher over the given registry and orchestrator.
func NewWatcher(registry *imap.Registry, orchestrator *Orchestrator, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{registry: registry, orchestrator: orchestrator, logger: logger}
}

// Run watches the account's inbox until the context is cancelled. Connection
// failures back off and retry; the watcher never gives up on an account.
func (w *Watcher) Run(ctx context.Context, accountID string) {
	logger := w.logger.With("account", accountID)
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		sess, err := w.registry.DetachedSession(ctx, accountID)
		if err != nil {
			logger.Warn("idle listener connect failed", "backoff", backoff, "error", err)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = time.Second
		w.watch(ctx, sess, accountID, logger)
		sess.Logout()
	}
}

func (w *Watcher) watch(ctx context.Context, sess *imap.Session, accountID string, logger *slog.Logger) {
	for {
		updated, err := sess.WaitForUpdate(ctx, inboxPath, idleMaxWait)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("idle wait failed, reconnecting listener", "error", err)
			}
			return
		}
		if !updated {
			continue
		}

		logger.Debug("inbox changed, triggering sync")
		if _, err := w.orchestrator.SyncInbox(ctx, accountID); err != nil {
			if errors.Is(err, ErrSyncInProgress) {
				// A running pass picks the new mail up anyway.
				continue
			}
			logger.Warn("idle-triggered sync failed", "error", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	const maxBackoff = 5 * time.Minute
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
