package sync

import (
	"context"

	"github.com/mkovacs/mailroom/internal/models"
)

// Fetcher implements db.RemoteFetcher on top of the session registry, giving
// the message store's lazy hydration path a way back to the remote mailbox.
type Fetcher struct {
	sessions Sessions
}

// NewFetcher creates a remote fetcher over the given session source.
func NewFetcher(sessions Sessions) *Fetcher {
	return &Fetcher{sessions: sessions}
}

func (f *Fetcher) FetchByUID(ctx context.Context, accountID, folderPath string, uid uint32) (*models.Message, error) {
	sess, err := f.sessions.Session(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return sess.FetchByUID(ctx, folderPath, uid)
}
