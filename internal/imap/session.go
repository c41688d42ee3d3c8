package imap

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/mkovacs/mailroom/internal/models"
)

// dialTimeout bounds the TCP/TLS handshake when opening a connection.
const dialTimeout = 10 * time.Second

// State is the connection state of a session. Transitions follow
// Disconnected -> Connecting -> Authenticated -> (Idle|Fetching|Mutating) and
// back to Disconnected on logout or connection loss.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
	StateIdle
	StateFetching
	StateMutating
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateMutating:
		return "mutating"
	default:
		return "unknown"
	}
}

// Session owns the single live IMAP connection of one account. All
// operations are serialized on an internal mutex; each transparently
// (re)connects when the session is disconnected. A failed connection attempt
// is terminal for that attempt: the handle is dropped and the next operation
// dials fresh.
type Session struct {
	account  *models.Account
	password string
	logger   *slog.Logger

	mu       sync.Mutex
	client   *client.Client
	state    State
	selected string
}

// NewSession creates a session for the account. No connection is opened until
// the first operation needs one.
func NewSession(account *models.Account, password string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		account:  account,
		password: password,
		logger:   logger.With("account", account.Email),
		state:    StateDisconnected,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Account returns the account this session serves.
func (s *Session) Account() *models.Account {
	return s.account
}

// Logout closes the connection and returns the session to Disconnected.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		if err := s.client.Logout(); err != nil {
			s.logger.Debug("logout failed", "error", err)
		}
	}
	s.resetLocked()
}

// connectLocked dials and authenticates. Caller holds the mutex.
func (s *Session) connectLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state = StateConnecting
	s.selected = ""

	dialer := &net.Dialer{Timeout: dialTimeout}

	var (
		c   *client.Client
		err error
	)
	if s.account.UseTLS {
		c, err = client.DialWithDialerTLS(dialer, s.account.Address(), nil)
	} else {
		c, err = client.DialWithDialer(dialer, s.account.Address())
	}
	if err != nil {
		s.resetLocked()
		return &NetworkError{Err: err}
	}

	if err := c.Login(s.account.IMAPUsername, s.password); err != nil {
		_ = c.Logout()
		s.resetLocked()
		return &AuthError{Err: err}
	}

	s.client = c
	s.state = StateAuthenticated
	s.logger.Debug("connected", "server", s.account.Address())
	return nil
}

// ensureConnectedLocked makes sure there is an authenticated connection,
// dialing a fresh one when needed. Caller holds the mutex.
func (s *Session) ensureConnectedLocked(ctx context.Context) error {
	if s.client != nil && s.state != StateDisconnected {
		return nil
	}
	return s.connectLocked(ctx)
}

// resetLocked drops the connection handle. Caller holds the mutex.
func (s *Session) resetLocked() {
	s.client = nil
	s.state = StateDisconnected
	s.selected = ""
}

// do runs fn against an authenticated client in the given transient state.
// When fn fails and the connection turns out to be dead, the handle is
// dropped so the next operation reconnects.
func (s *Session) do(ctx context.Context, transient State, fn func(c *client.Client) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConnectedLocked(ctx); err != nil {
		return err
	}

	s.state = transient
	err := fn(s.client)
	if s.client != nil {
		s.state = StateAuthenticated
	}

	if err != nil && s.client != nil {
		if noopErr := s.client.Noop(); noopErr != nil {
			s.logger.Debug("connection dead after failed operation, dropping handle", "error", noopErr)
			s.resetLocked()
		}
	}

	return err
}

// selectLocked selects a mailbox, skipping the round-trip when it is already
// selected. Caller runs inside do().
func (s *Session) selectLocked(c *client.Client, path string) (*imap.MailboxStatus, error) {
	if s.selected == path {
		return c.Mailbox(), nil
	}

	mbox, err := c.Select(path, false)
	if err != nil {
		s.selected = ""
		return nil, classifyMailboxErr(path, err)
	}

	s.selected = path
	return mbox, nil
}

// FolderInfo describes one remote folder from the flattened namespace.
type FolderInfo struct {
	Name       string
	Path       string
	Delimiter  string
	Attributes []string
	ParentPath string
}

// ListFolders flattens the remote mailbox namespace into a flat list with
// full paths.
func (s *Session) ListFolders(ctx context.Context) ([]FolderInfo, error) {
	var folders []FolderInfo

	err := s.do(ctx, StateFetching, func(c *client.Client) error {
		mailboxes := make(chan *imap.MailboxInfo, 16)
		done := make(chan error, 1)

		go func() {
			done <- c.List("", "*", mailboxes)
		}()

		for m := range mailboxes {
			folders = append(folders, folderInfoFromMailbox(m))
		}

		if err := <-done; err != nil {
			return fmt.Errorf("failed to list folders: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return folders, nil
}

func folderInfoFromMailbox(m *imap.MailboxInfo) FolderInfo {
	info := FolderInfo{
		Name:       m.Name,
		Path:       m.Name,
		Delimiter:  m.Delimiter,
		Attributes: m.Attributes,
	}

	if m.Delimiter != "" {
		if idx := strings.LastIndex(m.Name, m.Delimiter); idx >= 0 {
			info.ParentPath = m.Name[:idx]
			info.Name = m.Name[idx+len(m.Delimiter):]
		}
	}

	return info
}

// FolderStatus holds the remote message counters of one folder.
type FolderStatus struct {
	MessageCount int
	UnseenCount  int
}

// Status returns the remote counters for a folder without selecting it.
func (s *Session) Status(ctx context.Context, path string) (*FolderStatus, error) {
	var status FolderStatus

	err := s.do(ctx, StateFetching, func(c *client.Client) error {
		mbox, err := c.Status(path, []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen})
		if err != nil {
			return classifyMailboxErr(path, err)
		}
		status.MessageCount = int(mbox.Messages)
		status.UnseenCount = int(mbox.Unseen)
		return nil
	})

	if err != nil {
		return nil, err
	}
	return &status, nil
}

// ListUIDs resolves the stable UIDs of every message in the folder, newest
// first. Fetches always address messages by UID after this resolution, never
// by a sequence number that could shift mid-fetch.
func (s *Session) ListUIDs(ctx context.Context, path string) ([]uint32, error) {
	var uids []uint32

	err := s.do(ctx, StateFetching, func(c *client.Client) error {
		if _, err := s.selectLocked(c, path); err != nil {
			return err
		}

		found, err := c.UidSearch(imap.NewSearchCriteria())
		if err != nil {
			return fmt.Errorf("failed to search uids: %w", err)
		}

		uids = found
		return nil
	})

	if err != nil {
		return nil, err
	}

	// Newest first.
	for i, j := 0, len(uids)-1; i < j; i, j = i+1, j-1 {
		uids[i], uids[j] = uids[j], uids[i]
	}
	return uids, nil
}

// CreateFolder creates a remote mailbox.
func (s *Session) CreateFolder(ctx context.Context, path string) error {
	return s.do(ctx, StateMutating, func(c *client.Client) error {
		if err := c.Create(path); err != nil {
			return fmt.Errorf("failed to create folder %s: %w", path, err)
		}
		return nil
	})
}

// DeleteFolder deletes a remote mailbox.
func (s *Session) DeleteFolder(ctx context.Context, path string) error {
	return s.do(ctx, StateMutating, func(c *client.Client) error {
		if err := c.Delete(path); err != nil {
			return classifyMailboxErr(path, err)
		}
		s.selected = ""
		return nil
	})
}

// RenameFolder renames a remote mailbox.
func (s *Session) RenameFolder(ctx context.Context, oldPath, newPath string) error {
	return s.do(ctx, StateMutating, func(c *client.Client) error {
		if err := c.Rename(oldPath, newPath); err != nil {
			return classifyMailboxErr(oldPath, err)
		}
		s.selected = ""
		return nil
	})
}

// SubscribeFolder subscribes or unsubscribes a remote mailbox.
func (s *Session) SubscribeFolder(ctx context.Context, path string, subscribed bool) error {
	return s.do(ctx, StateMutating, func(c *client.Client) error {
		var err error
		if subscribed {
			err = c.Subscribe(path)
		} else {
			err = c.Unsubscribe(path)
		}
		if err != nil {
			return classifyMailboxErr(path, err)
		}
		return nil
	})
}

// Move moves a message by UID between remote folders. Servers without MOVE
// support fall back to copy, flag deleted, expunge.
func (s *Session) Move(ctx context.Context, uid uint32, fromPath, toPath string) error {
	return s.do(ctx, StateMutating, func(c *client.Client) error {
		if _, err := s.selectLocked(c, fromPath); err != nil {
			return err
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uid)

		if err := c.UidMove(seqSet, toPath); err == nil {
			return nil
		}

		if err := c.UidCopy(seqSet, toPath); err != nil {
			return fmt.Errorf("failed to copy message %d to %s: %w", uid, toPath, classifyMailboxErr(toPath, err))
		}

		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.UidStore(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
			return fmt.Errorf("failed to flag message %d deleted: %w", uid, err)
		}

		if err := c.Expunge(nil); err != nil {
			return fmt.Errorf("failed to expunge %s: %w", fromPath, err)
		}
		return nil
	})
}

// SetFlag sets or clears a flag on a message by UID.
func (s *Session) SetFlag(ctx context.Context, path string, uid uint32, flag string, on bool) error {
	return s.do(ctx, StateMutating, func(c *client.Client) error {
		if _, err := s.selectLocked(c, path); err != nil {
			return err
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uid)

		op := imap.FlagsOp(imap.AddFlags)
		if !on {
			op = imap.FlagsOp(imap.RemoveFlags)
		}

		item := imap.FormatFlagsOp(op, true)
		if err := c.UidStore(seqSet, item, []interface{}{flag}, nil); err != nil {
			return fmt.Errorf("failed to store flag %s on %d: %w", flag, uid, err)
		}
		return nil
	})
}
