package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkovacs/mailroom/internal/db"
	"github.com/mkovacs/mailroom/internal/imap"
	"github.com/mkovacs/mailroom/internal/models"
	"github.com/mkovacs/mailroom/internal/spam"
)

// ErrSyncInProgress is returned when a sync is requested for an account that
// already has one running. The caller retries after the running pass ends or
// cancels it first.
var ErrSyncInProgress = errors.New("sync already in progress for account")

// inboxPath is the canonical inbox name. The protocol guarantees the inbox
// exists under this name regardless of server locale.
const inboxPath = "INBOX"

// yieldEvery is how many processed messages pass between explicit scheduler
// yields inside the per-message loop.
const yieldEvery = 25

// Scorer is the spam surface the orchestrator needs, satisfied by
// *spam.Scorer.
type Scorer interface {
	Score(ctx context.Context, msg *models.Message) float64
}

// ThreadResolver assigns thread IDs at persist time, satisfied by
// *threads.Reconstructor.
type ThreadResolver interface {
	Resolve(ctx context.Context, msg *models.Message) string
}

// Orchestrator coordinates sync passes. One logical sync runs per account at
// a time; a second request for the same account is refused with
// ErrSyncInProgress. Message upserts are independently complete, so
// cancellation never leaves partial rows behind.
type Orchestrator struct {
	store    Store
	sessions Sessions
	threads  ThreadResolver
	scorer   Scorer
	notifier Notifier
	logger   *slog.Logger

	spamThreshold float64
	now           func() time.Time

	mu     gosync.Mutex
	active map[string]context.CancelFunc
}

// NewOrchestrator builds an Orchestrator. notifier may be nil; a
// non-positive spamThreshold falls back to the scorer default.
func NewOrchestrator(store Store, sessions Sessions, threadResolver ThreadResolver, scorer Scorer, notifier Notifier, spamThreshold float64, logger *slog.Logger) *Orchestrator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if spamThreshold <= 0 {
		spamThreshold = spam.DefaultAutoMoveThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:         store,
		sessions:      sessions,
		threads:       threadResolver,
		scorer:        scorer,
		notifier:      notifier,
		logger:        logger,
		spamThreshold: spamThreshold,
		now:           time.Now,
		active:        make(map[string]context.CancelFunc),
	}
}

// CancelSync cancels the in-flight sync of an account, if any. Already
// persisted messages stay persisted.
func (o *Orchestrator) CancelSync(accountID string) {
	o.mu.Lock()
	cancel, ok := o.active[accountID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// Syncing reports whether the account currently has a running pass.
func (o *Orchestrator) Syncing(accountID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[accountID]
	return ok
}

// SyncAccount runs a full account pass: folder discovery when no local
// folders exist yet, then every subscribed folder with the inbox first.
// Metadata-only fetch; bodies hydrate lazily.
func (o *Orchestrator) SyncAccount(ctx context.Context, accountID string) (*models.SyncResult, error) {
	return o.run(ctx, accountID, func(ctx context.Context, sess Session) *models.SyncResult {
		if err := o.ensureFolders(ctx, sess, accountID); err != nil {
			return failure(fmt.Sprintf("folder discovery failed: %v", err))
		}

		folders, err := o.store.ListFolders(ctx, accountID)
		if err != nil {
			return failure(fmt.Sprintf("failed to list folders: %v", err))
		}

		queue := folderQueue(folders)
		result := &models.SyncResult{Success: true}
		for _, folder := range queue {
			if ctx.Err() != nil {
				result.Message = "sync cancelled"
				return result
			}
			synced, errCount := o.syncOneFolder(ctx, sess, accountID, folder, imap.FetchMetadata)
			result.Synced += synced
			result.Errors += errCount
		}

		result.Message = fmt.Sprintf("synced %d folders", len(queue))
		return result
	})
}

// SyncInbox syncs only the inbox. This is the fast path behind the refresh
// action and behind idle notifications.
func (o *Orchestrator) SyncInbox(ctx context.Context, accountID string) (*models.SyncResult, error) {
	return o.SyncFolder(ctx, accountID, inboxPath)
}

// SyncFolder syncs a single folder by path, metadata-only.
func (o *Orchestrator) SyncFolder(ctx context.Context, accountID, folderPath string) (*models.SyncResult, error) {
	return o.run(ctx, accountID, func(ctx context.Context, sess Session) *models.SyncResult {
		folder, err := o.localFolder(ctx, accountID, folderPath)
		if err != nil {
			return failure(fmt.Sprintf("unknown folder %q: %v", folderPath, err))
		}

		synced, errCount := o.syncOneFolder(ctx, sess, accountID, folder, imap.FetchMetadata)
		return &models.SyncResult{Success: true, Synced: synced, Errors: errCount}
	})
}

// ClearAndResync deletes every local message of a folder and re-syncs it
// with full bodies. Recovery path for corruption, and the way to force
// metadata-only rows up to full rows.
func (o *Orchestrator) ClearAndResync(ctx context.Context, accountID, folderPath string) (*models.SyncResult, error) {
	return o.run(ctx, accountID, func(ctx context.Context, sess Session) *models.SyncResult {
		folder, err := o.localFolder(ctx, accountID, folderPath)
		if err != nil {
			return failure(fmt.Sprintf("unknown folder %q: %v", folderPath, err))
		}

		if err := o.store.DeleteAllInFolder(ctx, folder.ID); err != nil {
			return failure(fmt.Sprintf("failed to clear folder: %v", err))
		}

		synced, errCount := o.syncOneFolder(ctx, sess, accountID, folder, imap.FetchFull)
		return &models.SyncResult{Success: true, Synced: synced, Errors: errCount, Message: "folder rebuilt"}
	})
}

// run wraps a sync body with the per-account single-flight guard and the
// connection-open cancellation checkpoint.
func (o *Orchestrator) run(ctx context.Context, accountID string, body func(ctx context.Context, sess Session) *models.SyncResult) (*models.SyncResult, error) {
	o.mu.Lock()
	if _, busy := o.active[accountID]; busy {
		o.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	o.active[accountID] = cancel
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.active, accountID)
		o.mu.Unlock()
	}()

	logger := o.logger.With("account", accountID, "run", uuid.NewString())

	if err := ctx.Err(); err != nil {
		return failure("sync cancelled"), nil
	}

	sess, err := o.sessions.Session(ctx, accountID)
	if err != nil {
		logger.Error("failed to open session", "error", err)
		return failure(fmt.Sprintf("connection failed: %v", err)), nil
	}

	logger.Info("sync started")
	result := body(ctx, sess)
	logger.Info("sync finished", "success", result.Success, "synced", result.Synced, "errors", result.Errors)
	return result, nil
}

// ensureFolders mirrors the remote folder tree locally, once. Discovery only
// runs when the account has no local folders yet; afterwards the local tree
// is authoritative until an explicit re-discovery.
func (o *Orchestrator) ensureFolders(ctx context.Context, sess Session, accountID string) error {
	count, err := o.store.CountFolders(ctx, accountID)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	remote, err := sess.ListFolders(ctx)
	if err != nil {
		return err
	}

	// Parents before children so parent lookups resolve in one pass.
	sort.Slice(remote, func(i, j int) bool { return remote[i].Path < remote[j].Path })

	byPath := make(map[string]string, len(remote))
	for _, info := range remote {
		folder := &models.Folder{
			AccountID:  accountID,
			Name:       info.Name,
			Path:       info.Path,
			Subscribed: true,
			Attributes: info.Attributes,
		}
		if parentID, ok := byPath[info.ParentPath]; ok && info.ParentPath != "" {
			folder.ParentID = &parentID
		}
		if err := o.store.UpsertFolder(ctx, folder); err != nil {
			return err
		}
		byPath[folder.Path] = folder.ID
	}

	o.logger.Info("discovered folders", "account", accountID, "count", len(remote))
	return nil
}

// localFolder resolves a folder row by path, creating the row when the
// discovery pass has not seen this folder yet. The path is taken as given;
// the following status call surfaces a bad one as mailbox-missing.
func (o *Orchestrator) localFolder(ctx context.Context, accountID, path string) (*models.Folder, error) {
	folder, err := o.store.GetFolderByPath(ctx, accountID, path)
	if err == nil {
		return folder, nil
	}
	if !errors.Is(err, db.ErrFolderNotFound) {
		return nil, err
	}

	folder = &models.Folder{
		AccountID:  accountID,
		Name:       folderNameFromPath(path),
		Path:       path,
		Subscribed: true,
	}
	if err := o.store.UpsertFolder(ctx, folder); err != nil {
		return nil, err
	}
	return folder, nil
}

// syncOneFolder syncs a single folder and returns (synced, errors). A
// missing remote mailbox deletes the local folder row and counts as a
// trivially successful sync.
func (o *Orchestrator) syncOneFolder(ctx context.Context, sess Session, accountID string, folder *models.Folder, mode imap.FetchMode) (int, int) {
	logger := o.logger.With("account", accountID, "folder", folder.Path)

	status, err := sess.Status(ctx, folder.Path)
	if err != nil {
		if imap.IsMailboxMissing(err) {
			o.dropVanishedFolder(ctx, folder, logger)
			return 0, 0
		}
		logger.Error("folder status failed", "error", err)
		return 0, 1
	}

	total := status.MessageCount
	o.notifier.Progress(&models.ProgressEvent{
		AccountID: accountID,
		FolderID:  folder.ID,
		Folder:    folder.Path,
		Current:   0,
		Total:     &total,
	})

	uids, err := sess.ListUIDs(ctx, folder.Path)
	if err != nil {
		if imap.IsMailboxMissing(err) {
			o.dropVanishedFolder(ctx, folder, logger)
			return 0, 0
		}
		logger.Error("uid listing failed", "error", err)
		return 0, 1
	}

	if err := ctx.Err(); err != nil {
		return 0, 0
	}

	if len(uids) == 0 {
		o.updateCounts(ctx, sess, folder, logger)
		return 0, 0
	}

	messages, err := sess.Fetch(ctx, folder.Path, uids, mode)
	if err != nil {
		if imap.IsMailboxMissing(err) {
			o.dropVanishedFolder(ctx, folder, logger)
			return 0, 0
		}
		logger.Error("fetch failed", "error", err)
		return 0, 1
	}

	// Most recent messages first, so a cancelled or slow pass still lands
	// the mail the user cares about.
	sort.Slice(messages, func(i, j int) bool { return messages[i].RemoteUID > messages[j].RemoteUID })

	// Server-side THREAD results seed thread assignment for messages whose
	// ancestors are in the same folder. Servers without the extension fall
	// back to local reconstruction.
	hints, err := sess.ServerThreads(ctx, folder.Path)
	if err != nil {
		logger.Debug("no server thread hints", "error", err)
		hints = nil
	}
	byUID := make(map[uint32]*models.Message, len(messages))
	for _, msg := range messages {
		byUID[msg.RemoteUID] = msg
	}

	synced, errCount := 0, 0
	for i, msg := range messages {
		if ctx.Err() != nil {
			logger.Info("sync cancelled mid-folder", "processed", synced)
			break
		}

		if root, ok := hints[msg.RemoteUID]; ok && root != msg.RemoteUID {
			if rootMsg, inBatch := byUID[root]; inBatch && rootMsg.MessageID != "" {
				msg.ThreadID = rootMsg.MessageID
			}
		}

		if err := o.processMessage(ctx, sess, accountID, folder, msg); err != nil {
			logger.Warn("failed to process message", "uid", msg.RemoteUID, "error", err)
			errCount++
		} else {
			synced++
		}

		uid := msg.RemoteUID
		o.notifier.Progress(&models.ProgressEvent{
			AccountID:      accountID,
			FolderID:       folder.ID,
			Folder:         folder.Path,
			Current:        i + 1,
			Total:          &total,
			RemoteUID:      &uid,
			MessageSummary: msg.Subject,
		})

		if (i+1)%yieldEvery == 0 {
			runtime.Gosched()
		}
	}

	o.updateCounts(ctx, sess, folder, logger)
	return synced, errCount
}

// processMessage persists one fetched message: thread resolution, the
// race-safe upsert, spam scoring, and quarantine when the score crosses the
// threshold.
func (o *Orchestrator) processMessage(ctx context.Context, sess Session, accountID string, folder *models.Folder, msg *models.Message) error {
	msg.AccountID = accountID
	msg.FolderID = folder.ID
	if msg.ThreadID == "" {
		msg.ThreadID = o.threads.Resolve(ctx, msg)
	}

	id, err := o.store.UpsertMessage(ctx, msg)
	if err != nil {
		return err
	}
	msg.ID = id

	score := o.scorer.Score(ctx, msg)
	if err := o.store.UpdateSpamScore(ctx, id, score, o.now()); err != nil {
		o.logger.Warn("failed to persist spam score", "message_id", id, "error", err)
	}

	if score >= o.spamThreshold && !isSpamFolder(folder, sess.Account().SpamFolderName) {
		if err := o.quarantine(ctx, sess, accountID, folder, msg); err != nil {
			o.logger.Warn("failed to quarantine message", "message_id", id, "score", score, "error", err)
		}
	}

	return nil
}

// quarantine moves a scored message into the account's spam folder, creating
// the folder remotely and locally when it does not exist yet. Messages
// already sitting in a spam-designated folder never reach this path.
func (o *Orchestrator) quarantine(ctx context.Context, sess Session, accountID string, from *models.Folder, msg *models.Message) error {
	spamPath := sess.Account().SpamFolderName
	if spamPath == "" {
		spamPath = "Spam"
	}

	spamFolder, err := o.store.GetFolderByPath(ctx, accountID, spamPath)
	if errors.Is(err, db.ErrFolderNotFound) {
		if err := sess.CreateFolder(ctx, spamPath); err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("failed to create spam folder: %w", err)
		}
		spamFolder = &models.Folder{
			AccountID:  accountID,
			Name:       folderNameFromPath(spamPath),
			Path:       spamPath,
			Subscribed: true,
			Attributes: []string{"\\Junk"},
		}
		if err := o.store.UpsertFolder(ctx, spamFolder); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if err := sess.Move(ctx, msg.RemoteUID, from.Path, spamPath); err != nil {
		return fmt.Errorf("remote move failed: %w", err)
	}

	return o.store.MoveMessage(ctx, msg.ID, spamFolder.ID)
}

func (o *Orchestrator) dropVanishedFolder(ctx context.Context, folder *models.Folder, logger *slog.Logger) {
	logger.Info("remote folder vanished, dropping local copy")
	if err := o.store.DeleteFolder(ctx, folder.ID); err != nil {
		logger.Warn("failed to delete vanished folder", "error", err)
	}
}

func (o *Orchestrator) updateCounts(ctx context.Context, sess Session, folder *models.Folder, logger *slog.Logger) {
	status, err := sess.Status(ctx, folder.Path)
	if err != nil {
		return
	}
	if err := o.store.UpdateFolderCounts(ctx, folder.ID, status.UnseenCount, status.MessageCount); err != nil {
		logger.Warn("failed to update folder counts", "error", err)
	}
}

// folderQueue orders folders for a full pass: subscribed only (all folders
// when nothing is subscribed, trimmed to the inbox), inbox first.
func folderQueue(folders []*models.Folder) []*models.Folder {
	var queue []*models.Folder
	for _, f := range folders {
		if f.Subscribed {
			queue = append(queue, f)
		}
	}
	if len(queue) == 0 {
		for _, f := range folders {
			if strings.EqualFold(f.Path, inboxPath) {
				queue = append(queue, f)
			}
		}
	}

	sort.SliceStable(queue, func(i, j int) bool {
		return strings.EqualFold(queue[i].Path, inboxPath) && !strings.EqualFold(queue[j].Path, inboxPath)
	})
	return queue
}

// isSpamFolder reports whether a folder is spam-designated, either by the
// account's configured spam path or by the \Junk attribute.
func isSpamFolder(folder *models.Folder, spamPath string) bool {
	if spamPath != "" && strings.EqualFold(folder.Path, spamPath) {
		return true
	}
	for _, attr := range folder.Attributes {
		if strings.EqualFold(attr, "\\Junk") {
			return true
		}
	}
	return false
}

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}

func folderNameFromPath(path string) string {
	for _, delim := range []string{"/", "."} {
		if idx := strings.LastIndex(path, delim); idx >= 0 {
			return path[idx+1:]
		}
	}
	return path
}

func failure(message string) *models.SyncResult {
	return &models.SyncResult{Success: false, Message: message}
}
