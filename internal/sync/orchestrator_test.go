package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkovacs/mailroom/internal/db"
	"github.com/mkovacs/mailroom/internal/imap"
	"github.com/mkovacs/mailroom/internal/models"
)

// fakeStore is an in-memory Store.
type fakeStore struct {
	folders  []*models.Folder
	messages map[string]*models.Message
	scores   map[string]float64
	moved    map[string]string
	cleared  []string
	nextID   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: make(map[string]*models.Message),
		scores:   make(map[string]float64),
		moved:    make(map[string]string),
	}
}

func (f *fakeStore) CountFolders(_ context.Context, accountID string) (int, error) {
	count := 0
	for _, folder := range f.folders {
		if folder.AccountID == accountID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) UpsertFolder(_ context.Context, folder *models.Folder) error {
	for _, existing := range f.folders {
		if existing.AccountID == folder.AccountID && existing.Path == folder.Path {
			folder.ID = existing.ID
			*existing = *folder
			return nil
		}
	}
	f.nextID++
	folder.ID = fmt.Sprintf("folder-%d", f.nextID)
	f.folders = append(f.folders, folder)
	return nil
}

func (f *fakeStore) ListFolders(_ context.Context, accountID string) ([]*models.Folder, error) {
	var out []*models.Folder
	for _, folder := range f.folders {
		if folder.AccountID == accountID {
			out = append(out, folder)
		}
	}
	return out, nil
}

func (f *fakeStore) GetFolderByPath(_ context.Context, accountID, path string) (*models.Folder, error) {
	for _, folder := range f.folders {
		if folder.AccountID == accountID && folder.Path == path {
			return folder, nil
		}
	}
	return nil, db.ErrFolderNotFound
}

func (f *fakeStore) DeleteFolder(_ context.Context, folderID string) error {
	for i, folder := range f.folders {
		if folder.ID == folderID {
			f.folders = append(f.folders[:i], f.folders[i+1:]...)
			return nil
		}
	}
	return db.ErrFolderNotFound
}

func (f *fakeStore) UpdateFolderCounts(_ context.Context, folderID string, unread, total int) error {
	for _, folder := range f.folders {
		if folder.ID == folderID {
			folder.UnreadCount = unread
			folder.TotalCount = total
		}
	}
	return nil
}

func (f *fakeStore) UpsertMessage(_ context.Context, msg *models.Message) (string, error) {
	id := db.MessageRowID(msg.AccountID, msg.FolderID, msg.RemoteUID)
	stored := *msg
	stored.ID = id
	f.messages[id] = &stored
	return id, nil
}

func (f *fakeStore) MoveMessage(_ context.Context, id, destFolderID string) error {
	f.moved[id] = destFolderID
	if msg, ok := f.messages[id]; ok {
		msg.FolderID = destFolderID
	}
	return nil
}

func (f *fakeStore) UpdateSpamScore(_ context.Context, id string, score float64, _ time.Time) error {
	f.scores[id] = score
	return nil
}

func (f *fakeStore) ListMissingBody(_ context.Context, folderID string, limit int) ([]*models.Message, error) {
	var out []*models.Message
	for _, msg := range f.messages {
		if msg.FolderID == folderID && !msg.HasBody() && len(out) < limit {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteAllInFolder(_ context.Context, folderID string) error {
	f.cleared = append(f.cleared, folderID)
	for id, msg := range f.messages {
		if msg.FolderID == folderID {
			delete(f.messages, id)
		}
	}
	return nil
}

// fakeSession is a scripted Session.
type fakeSession struct {
	account       *models.Account
	folders       []imap.FolderInfo
	uidsByPath    map[string][]uint32
	messagesByUID map[uint32]*models.Message
	missingPaths  map[string]bool
	created       []string
	moves         []string
	lastMode      imap.FetchMode
	onFetch       func()
	threadsByPath map[string]map[uint32]uint32
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		account:       &models.Account{ID: "acc-1", Email: "ada@example.com", SpamFolderName: "Spam"},
		uidsByPath:    make(map[string][]uint32),
		messagesByUID: make(map[uint32]*models.Message),
		missingPaths:  make(map[string]bool),
	}
}

func (f *fakeSession) Account() *models.Account { return f.account }

func (f *fakeSession) ListFolders(context.Context) ([]imap.FolderInfo, error) {
	return f.folders, nil
}

func (f *fakeSession) Status(_ context.Context, path string) (*imap.FolderStatus, error) {
	if f.missingPaths[path] {
		return nil, &imap.MailboxMissingError{Mailbox: path}
	}
	return &imap.FolderStatus{MessageCount: len(f.uidsByPath[path])}, nil
}

func (f *fakeSession) ListUIDs(_ context.Context, path string) ([]uint32, error) {
	if f.missingPaths[path] {
		return nil, &imap.MailboxMissingError{Mailbox: path}
	}
	return f.uidsByPath[path], nil
}

func (f *fakeSession) Fetch(_ context.Context, path string, uids []uint32, mode imap.FetchMode) ([]*models.Message, error) {
	if f.missingPaths[path] {
		return nil, &imap.MailboxMissingError{Mailbox: path}
	}
	f.lastMode = mode
	if f.onFetch != nil {
		f.onFetch()
	}
	// Servers deliver fetch results in mailbox order, lowest UID first,
	// regardless of how the set was requested.
	sorted := append([]uint32(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var out []*models.Message
	for _, uid := range sorted {
		if msg, ok := f.messagesByUID[uid]; ok {
			copied := *msg
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeSession) FetchByUID(_ context.Context, _ string, uid uint32) (*models.Message, error) {
	msg, ok := f.messagesByUID[uid]
	if !ok {
		return nil, nil
	}
	copied := *msg
	return &copied, nil
}

func (f *fakeSession) Move(_ context.Context, uid uint32, fromPath, toPath string) error {
	f.moves = append(f.moves, fmt.Sprintf("%d:%s->%s", uid, fromPath, toPath))
	return nil
}

func (f *fakeSession) CreateFolder(_ context.Context, path string) error {
	f.created = append(f.created, path)
	return nil
}

func (f *fakeSession) ServerThreads(_ context.Context, path string) (map[uint32]uint32, error) {
	hints, ok := f.threadsByPath[path]
	if !ok {
		return nil, errors.New("server does not support THREAD")
	}
	return hints, nil
}

type fakeSessions struct {
	session *fakeSession
	err     error
}

func (f *fakeSessions) Session(context.Context, string) (Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type staticScorer struct{ scores map[uint32]float64 }

func (s staticScorer) Score(_ context.Context, msg *models.Message) float64 {
	return s.scores[msg.RemoteUID]
}

type selfThreader struct{}

func (selfThreader) Resolve(_ context.Context, msg *models.Message) string { return msg.MessageID }

type recordingNotifier struct{ events []*models.ProgressEvent }

func (r *recordingNotifier) Progress(event *models.ProgressEvent) {
	r.events = append(r.events, event)
}

func newTestOrchestrator(store *fakeStore, sess *fakeSession, scorer Scorer, notifier Notifier) *Orchestrator {
	if scorer == nil {
		scorer = staticScorer{}
	}
	return NewOrchestrator(store, &fakeSessions{session: sess}, selfThreader{}, scorer, notifier, 0.7, nil)
}

func remoteMessage(uid uint32, subject string) *models.Message {
	return &models.Message{
		RemoteUID: uid,
		MessageID: fmt.Sprintf("<%d@example.com>", uid),
		Subject:   subject,
		From:      []string{"ada@example.com"},
	}
}

func TestSyncAccountDiscoversFoldersOnce(t *testing.T) {
	store := newFakeStore()
	sess := newFakeSession()
	sess.folders = []imap.FolderInfo{
		{Name: "INBOX", Path: "INBOX"},
		{Name: "Archive", Path: "Archive"},
		{Name: "2024", Path: "Archive/2024", ParentPath: "Archive"},
	}
	o := newTestOrchestrator(store, sess, nil, nil)

	result, err := o.SyncAccount(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, store.folders, 3)

	var child *models.Folder
	for _, folder := range store.folders {
		if folder.Path == "Archive/2024" {
			child = folder
		}
	}
	require.NotNil(t, child)
	require.NotNil(t, child.ParentID)

	// A second pass must not re-discover.
	sess.folders = append(sess.folders, imap.FolderInfo{Name: "New", Path: "New"})
	_, err = o.SyncAccount(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Len(t, store.folders, 3)
}

func TestSyncAccountProcessesInboxFirst(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.UpsertFolder(context.Background(), &models.Folder{AccountID: "acc-1", Path: "Archive", Subscribed: true}))
	require.NoError(t, store.UpsertFolder(context.Background(), &models.Folder{AccountID: "acc-1", Path: "INBOX", Subscribed: true}))

	sess := newFakeSession()
	sess.uidsByPath["INBOX"] = []uint32{1}
	sess.uidsByPath["Archive"] = []uint32{2}
	sess.messagesByUID[1] = remoteMessage(1, "inbox mail")
	sess.messagesByUID[2] = remoteMessage(2, "archived mail")

	notifier := &recordingNotifier{}
	o := newTestOrchestrator(store, sess, nil, notifier)

	result, err := o.SyncAccount(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synced)
	assert.Zero(t, result.Errors)

	require.NotEmpty(t, notifier.events)
	assert.Equal(t, "INBOX", notifier.events[0].Folder)
}

func TestSyncFolderPersistsMessages(t *testing.T) {
	store := newFakeStore()
	sess := newFakeSession()
	sess.uidsByPath["INBOX"] = []uint32{10, 11}
	sess.messagesByUID[10] = remoteMessage(10, "first")
	sess.messagesByUID[11] = remoteMessage(11, "second")

	o := newTestOrchestrator(store, sess, nil, nil)

	result, err := o.SyncInbox(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Synced)
	assert.Len(t, store.messages, 2)
	assert.Equal(t, imap.FetchMetadata, sess.lastMode)

	for _, msg := range store.messages {
		assert.Equal(t, "acc-1", msg.AccountID)
		assert.NotEmpty(t, msg.ThreadID)
	}
}

func TestSyncFolderProcessesNewestFirst(t *testing.T) {
	store := newFakeStore()
	sess := newFakeSession()
	sess.uidsByPath["INBOX"] = []uint32{5, 9, 2}
	sess.messagesByUID[2] = remoteMessage(2, "oldest")
	sess.messagesByUID[5] = remoteMessage(5, "middle")
	sess.messagesByUID[9] = remoteMessage(9, "newest")

	notifier := &recordingNotifier{}
	o := newTestOrchestrator(store, sess, nil, notifier)

	result, err := o.SyncInbox(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Synced)

	var order []uint32
	for _, event := range notifier.events {
		if event.RemoteUID != nil {
			order = append(order, *event.RemoteUID)
		}
	}
	assert.Equal(t, []uint32{9, 5, 2}, order)
}

func TestSyncFolderUsesServerThreadHints(t *testing.T) {
	store := newFakeStore()
	sess := newFakeSession()
	sess.uidsByPath["INBOX"] = []uint32{1, 2, 3}
	sess.messagesByUID[1] = remoteMessage(1, "project kickoff")
	sess.messagesByUID[2] = remoteMessage(2, "totally different subject")
	sess.messagesByUID[3] = remoteMessage(3, "unrelated")
	// The server threads uid 2 under uid 1; uid 3 stands alone.
	sess.threadsByPath = map[string]map[uint32]uint32{
		"INBOX": {1: 1, 2: 1, 3: 3},
	}

	o := newTestOrchestrator(store, sess, nil, nil)

	result, err := o.SyncInbox(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Synced)

	byUID := make(map[uint32]*models.Message)
	for _, msg := range store.messages {
		byUID[msg.RemoteUID] = msg
	}
	assert.Equal(t, "<1@example.com>", byUID[1].ThreadID)
	assert.Equal(t, "<1@example.com>", byUID[2].ThreadID)
	assert.Equal(t, "<3@example.com>", byUID[3].ThreadID)
}

func TestSyncFolderVanishedMailboxIsTrivialSuccess(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.UpsertFolder(context.Background(), &models.Folder{AccountID: "acc-1", Path: "Old", Subscribed: true}))

	sess := newFakeSession()
	sess.missingPaths["Old"] = true

	o := newTestOrchestrator(store, sess, nil, nil)

	result, err := o.SyncFolder(context.Background(), "acc-1", "Old")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.Synced)
	assert.Zero(t, result.Errors)
	assert.Empty(t, store.folders)
}

func TestSyncRefusedWhileInFlight(t *testing.T) {
	store := newFakeStore()
	sess := newFakeSession()
	started := make(chan struct{})
	release := make(chan struct{})
	sess.uidsByPath["INBOX"] = []uint32{1}
	sess.messagesByUID[1] = remoteMessage(1, "hello")
	sess.onFetch = func() {
		close(started)
		<-release
	}

	o := newTestOrchestrator(store, sess, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.SyncInbox(context.Background(), "acc-1")
	}()

	<-started
	assert.True(t, o.Syncing("acc-1"))
	_, err := o.SyncInbox(context.Background(), "acc-1")
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	<-done
	assert.False(t, o.Syncing("acc-1"))
}

func TestCancelSyncStopsMessageLoop(t *testing.T) {
	store := newFakeStore()
	sess := newFakeSession()
	var uids []uint32
	for uid := uint32(1); uid <= 50; uid++ {
		uids = append(uids, uid)
		sess.messagesByUID[uid] = remoteMessage(uid, "bulk")
	}
	sess.uidsByPath["INBOX"] = uids

	o := newTestOrchestrator(store, sess, nil, nil)
	sess.onFetch = func() { o.CancelSync("acc-1") }

	result, err := o.SyncInbox(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.Synced)
	assert.Empty(t, store.messages)
}

func TestHighScoreMessageQuarantined(t *testing.T) {
	store := newFakeStore()
	sess := newFakeSession()
	sess.uidsByPath["INBOX"] = []uint32{7}
	sess.messagesByUID[7] = remoteMessage(7, "you have won")

	o := newTestOrchestrator(store, sess, staticScorer{scores: map[uint32]float64{7: 0.9}}, nil)

	result, err := o.SyncInbox(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	// Spam folder created remotely and locally, message moved both ways.
	assert.Contains(t, sess.created, "Spam")
	require.Len(t, sess.moves, 1)
	assert.True(t, strings.HasSuffix(sess.moves[0], "INBOX->Spam"))
	require.Len(t, store.moved, 1)

	spamFolder, err := store.GetFolderByPath(context.Background(), "acc-1", "Spam")
	require.NoError(t, err)
	for _, dest := range store.moved {
		assert.Equal(t, spamFolder.ID, dest)
	}
}

func TestSpamFolderMessageNotRequarantined(t *testing.T) {
	store := newFakeStore()
	sess := newFakeSession()
	sess.uidsByPath["Spam"] = []uint32{3}
	sess.messagesByUID[3] = remoteMessage(3, "definitely spam")

	o := newTestOrchestrator(store, sess, staticScorer{scores: map[uint32]float64{3: 0.95}}, nil)

	result, err := o.SyncFolder(context.Background(), "acc-1", "Spam")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Empty(t, sess.moves)
	assert.Empty(t, store.moved)
}

func TestLowScoreMessageStaysPut(t *testing.T) {
	store := newFakeStore()
	sess := newFakeSession()
	sess.uidsByPath["INBOX"] = []uint32{4}
	sess.messagesByUID[4] = remoteMessage(4, "weekly report")

	o := newTestOrchestrator(store, sess, staticScorer{scores: map[uint32]float64{4: 0.2}}, nil)

	_, err := o.SyncInbox(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Empty(t, sess.moves)

	for id := range store.messages {
		assert.InDelta(t, 0.2, store.scores[id], 1e-9)
	}
}

func TestClearAndResyncFetchesFullBodies(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.UpsertFolder(context.Background(), &models.Folder{AccountID: "acc-1", Path: "INBOX", Subscribed: true}))

	sess := newFakeSession()
	sess.uidsByPath["INBOX"] = []uint32{1}
	full := remoteMessage(1, "hello")
	full.TextBody = "full body"
	sess.messagesByUID[1] = full

	o := newTestOrchestrator(store, sess, nil, nil)

	result, err := o.ClearAndResync(context.Background(), "acc-1", "INBOX")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, imap.FetchFull, sess.lastMode)
	assert.Len(t, store.cleared, 1)
	assert.Len(t, store.messages, 1)
}

func TestSessionFailureReturnsFailedResult(t *testing.T) {
	o := NewOrchestrator(newFakeStore(), &fakeSessions{err: errors.New("connection refused")}, selfThreader{}, staticScorer{}, nil, 0.7, nil)

	result, err := o.SyncInbox(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "connection failed")
}

func TestFolderQueueOrdering(t *testing.T) {
	folders := []*models.Folder{
		{Path: "Archive", Subscribed: true},
		{Path: "INBOX", Subscribed: true},
		{Path: "Drafts", Subscribed: false},
	}

	queue := folderQueue(folders)
	require.Len(t, queue, 2)
	assert.Equal(t, "INBOX", queue[0].Path)
	assert.Equal(t, "Archive", queue[1].Path)
}

func TestFolderQueueFallsBackToInbox(t *testing.T) {
	folders := []*models.Folder{
		{Path: "Archive", Subscribed: false},
		{Path: "INBOX", Subscribed: false},
	}

	queue := folderQueue(folders)
	require.Len(t, queue, 1)
	assert.Equal(t, "INBOX", queue[0].Path)
}

func TestIsSpamFolder(t *testing.T) {
	assert.True(t, isSpamFolder(&models.Folder{Path: "Spam"}, "Spam"))
	assert.True(t, isSpamFolder(&models.Folder{Path: "Junk", Attributes: []string{"\\Junk"}}, "Spam"))
	assert.False(t, isSpamFolder(&models.Folder{Path: "INBOX"}, "Spam"))
}
