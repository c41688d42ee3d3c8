package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/mkovacs/mailroom/internal/models"
)

// Hydrator upgrades metadata-only rows to full rows in the background. Each
// pass takes up to batchSize body-less messages per folder, oldest first, so
// a huge mailbox hydrates gradually without monopolizing the connection.
type Hydrator struct {
	store    Store
	sessions Sessions
	logger   *slog.Logger

	batchSize int
	interval  time.Duration
}

// NewHydrator builds a Hydrator. Non-positive batchSize and interval fall
// back to 20 messages and one minute.
func NewHydrator(store Store, sessions Sessions, batchSize int, interval time.Duration, logger *slog.Logger) *Hydrator {
	if batchSize <= 0 {
		batchSize = 20
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hydrator{
		store:     store,
		sessions:  sessions,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
	}
}

// Run hydrates the account's folders on a fixed interval until the context
// is cancelled.
func (h *Hydrator) Run(ctx context.Context, accountID string) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.HydrateAccount(ctx, accountID); err != nil {
				h.logger.Warn("hydration pass failed", "account", accountID, "error", err)
			}
		}
	}
}

// HydrateAccount runs one hydration pass over every folder of the account
// and returns the number of hydrated messages.
func (h *Hydrator) HydrateAccount(ctx context.Context, accountID string) (int, error) {
	folders, err := h.store.ListFolders(ctx, accountID)
	if err != nil {
		return 0, err
	}

	sess, err := h.sessions.Session(ctx, accountID)
	if err != nil {
		return 0, err
	}

	hydrated := 0
	for _, folder := range folders {
		if ctx.Err() != nil {
			return hydrated, ctx.Err()
		}
		n, err := h.hydrateFolder(ctx, sess, folder)
		hydrated += n
		if err != nil {
			h.logger.Warn("folder hydration failed", "folder", folder.Path, "error", err)
		}
	}

	return hydrated, nil
}

func (h *Hydrator) hydrateFolder(ctx context.Context, sess Session, folder *models.Folder) (int, error) {
	missing, err := h.store.ListMissingBody(ctx, folder.ID, h.batchSize)
	if err != nil {
		return 0, err
	}

	hydrated := 0
	for _, msg := range missing {
		if ctx.Err() != nil {
			return hydrated, ctx.Err()
		}

		full, err := sess.FetchByUID(ctx, folder.Path, msg.RemoteUID)
		if err != nil {
			h.logger.Warn("body fetch failed", "folder", folder.Path, "uid", msg.RemoteUID, "error", err)
			continue
		}
		if full == nil {
			// Message disappeared remotely since the metadata sync. The next
			// sync pass reconciles the listing; skip it here.
			continue
		}

		full.AccountID = msg.AccountID
		full.FolderID = folder.ID
		full.ThreadID = msg.ThreadID

		if _, err := h.store.UpsertMessage(ctx, full); err != nil {
			h.logger.Warn("failed to persist hydrated body", "message_id", msg.ID, "error", err)
			continue
		}
		hydrated++
	}

	return hydrated, nil
}
