package imap_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkovacs/mailroom/internal/imap"
	"github.com/mkovacs/mailroom/internal/testutil"
)

func newConnectedSession(t *testing.T) (*testutil.TestIMAPServer, *imap.Session) {
	t.Helper()

	server := testutil.NewTestIMAPServer(t)
	account := server.Account(t, "acc-1")
	session := imap.NewSession(account, server.Password(), nil)
	t.Cleanup(session.Logout)
	return server, session
}

func TestSessionListFolders(t *testing.T) {
	_, session := newConnectedSession(t)

	folders, err := session.ListFolders(context.Background())
	require.NoError(t, err)

	var paths []string
	for _, folder := range folders {
		paths = append(paths, folder.Path)
	}
	assert.Contains(t, paths, "INBOX")
	assert.Equal(t, imap.StateAuthenticated, session.State())
}

func TestSessionAuthError(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	account := server.Account(t, "acc-1")
	session := imap.NewSession(account, "wrong password", nil)
	defer session.Logout()

	_, err := session.ListFolders(context.Background())
	require.Error(t, err)
	assert.True(t, imap.IsAuthError(err))
	assert.Equal(t, imap.StateDisconnected, session.State())
}

func TestSessionNetworkError(t *testing.T) {
	// Reserve a port and close it so the dial is refused.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().(*net.TCPAddr)
	require.NoError(t, listener.Close())

	server := testutil.NewTestIMAPServer(t)
	account := server.Account(t, "acc-1")
	account.IMAPHost = "127.0.0.1"
	account.IMAPPort = addr.Port

	session := imap.NewSession(account, server.Password(), nil)
	defer session.Logout()

	_, err = session.ListFolders(context.Background())
	require.Error(t, err)
	assert.True(t, imap.IsNetworkError(err))
}

func TestSessionStatusAndUIDs(t *testing.T) {
	server, session := newConnectedSession(t)
	uid := server.AddMessage(t, "INBOX", "<fresh@example.com>", "Fresh mail", "ada@example.com", "username@example.com", time.Now())

	status, err := session.Status(context.Background(), "INBOX")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, status.MessageCount, 1)

	uids, err := session.ListUIDs(context.Background(), "INBOX")
	require.NoError(t, err)
	assert.Contains(t, uids, uid)
}

func TestSessionStatusMissingMailbox(t *testing.T) {
	_, session := newConnectedSession(t)

	_, err := session.Status(context.Background(), "DefinitelyNotHere")
	require.Error(t, err)
	assert.True(t, imap.IsMailboxMissing(err))
}

func TestFetchMetadataLeavesBodyEmpty(t *testing.T) {
	server, session := newConnectedSession(t)
	uid := server.AddMessage(t, "INBOX", "<meta@example.com>", "Metadata only", "ada@example.com", "username@example.com", time.Now())

	messages, err := session.Fetch(context.Background(), "INBOX", []uint32{uid}, imap.FetchMetadata)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	msg := messages[0]
	assert.Equal(t, uid, msg.RemoteUID)
	assert.Equal(t, "Metadata only", msg.Subject)
	assert.Equal(t, "<meta@example.com>", msg.MessageID)
	assert.NotEmpty(t, msg.From)
	assert.False(t, msg.HasBody())
}

func TestFetchFullParsesBody(t *testing.T) {
	server, session := newConnectedSession(t)
	uid := server.AddMessage(t, "INBOX", "<full@example.com>", "Full fetch", "ada@example.com", "username@example.com", time.Now())

	messages, err := session.Fetch(context.Background(), "INBOX", []uint32{uid}, imap.FetchFull)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	msg := messages[0]
	assert.True(t, msg.HasBody())
	assert.Contains(t, msg.TextBody, "Test message body")
	assert.NotEmpty(t, msg.RawHeaders)
}

func TestFetchByUIDMissingMessage(t *testing.T) {
	_, session := newConnectedSession(t)

	msg, err := session.FetchByUID(context.Background(), "INBOX", 999999)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestCreateAndMoveBetweenFolders(t *testing.T) {
	server, session := newConnectedSession(t)
	ctx := context.Background()

	require.NoError(t, session.CreateFolder(ctx, "Spam"))

	uid := server.AddMessage(t, "INBOX", "<movable@example.com>", "Move me", "ada@example.com", "username@example.com", time.Now())
	require.NoError(t, session.Move(ctx, uid, "INBOX", "Spam"))

	uids, err := session.ListUIDs(ctx, "Spam")
	require.NoError(t, err)
	assert.Len(t, uids, 1)
}

func TestSetFlagMarksMessageRead(t *testing.T) {
	server, session := newConnectedSession(t)
	ctx := context.Background()

	uid := server.AddMessage(t, "INBOX", "<flagged@example.com>", "Flag me", "ada@example.com", "username@example.com", time.Now())
	require.NoError(t, session.SetFlag(ctx, "INBOX", uid, "\\Flagged", true))

	messages, err := session.Fetch(ctx, "INBOX", []uint32{uid}, imap.FetchMetadata)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.True(t, messages[0].IsStarred)

	// Clearing takes the remove branch of the same store command.
	require.NoError(t, session.SetFlag(ctx, "INBOX", uid, "\\Flagged", false))

	messages, err = session.Fetch(ctx, "INBOX", []uint32{uid}, imap.FetchMetadata)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.False(t, messages[0].IsStarred)
}
