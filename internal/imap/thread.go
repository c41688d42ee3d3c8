package imap

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/emersion/go-imap/client"
)

// ServerThreads runs the THREAD extension with the REFERENCES algorithm on a
// folder, returning a map from message UID to the UID of its thread root.
// Returns an error when the server does not advertise THREAD; callers treat
// that as "no server hint" and fall back to local reconstruction.
func (s *Session) ServerThreads(ctx context.Context, path string) (map[uint32]uint32, error) {
	uidToRoot := make(map[uint32]uint32)

	err := s.do(ctx, StateFetching, func(c *client.Client) error {
		if _, err := s.selectLocked(c, path); err != nil {
			return err
		}

		threadClient := sortthread.NewThreadClient(c)

		threads, err := threadClient.UidThread(sortthread.References, imap.NewSearchCriteria())
		if err != nil {
			return fmt.Errorf("THREAD command returned error: %w", err)
		}

		var walk func(t *sortthread.Thread, root uint32)
		walk = func(t *sortthread.Thread, root uint32) {
			if t == nil {
				return
			}
			uidToRoot[t.Id] = root
			for _, child := range t.Children {
				walk(child, root)
			}
		}

		for _, thread := range threads {
			if thread == nil {
				continue
			}
			walk(thread, thread.Id)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return uidToRoot, nil
}
