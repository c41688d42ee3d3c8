package sync

import (
	"context"

	"github.com/mkovacs/mailroom/internal/imap"
	"github.com/mkovacs/mailroom/internal/models"
)

// Session is the slice of the protocol session the orchestrator uses,
// satisfied by *imap.Session.
type Session interface {
	Account() *models.Account
	ListFolders(ctx context.Context) ([]imap.FolderInfo, error)
	Status(ctx context.Context, path string) (*imap.FolderStatus, error)
	ListUIDs(ctx context.Context, path string) ([]uint32, error)
	Fetch(ctx context.Context, path string, uids []uint32, mode imap.FetchMode) ([]*models.Message, error)
	FetchByUID(ctx context.Context, path string, uid uint32) (*models.Message, error)
	Move(ctx context.Context, uid uint32, fromPath, toPath string) error
	CreateFolder(ctx context.Context, path string) error
	ServerThreads(ctx context.Context, path string) (map[uint32]uint32, error)
}

// Sessions hands out the per-account protocol session.
type Sessions interface {
	Session(ctx context.Context, accountID string) (Session, error)
}

// RegistrySessions adapts the imap registry to the Sessions interface.
type RegistrySessions struct {
	Registry *imap.Registry
}

func (r RegistrySessions) Session(ctx context.Context, accountID string) (Session, error) {
	return r.Registry.Session(ctx, accountID)
}
