package imap

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/mkovacs/mailroom/internal/models"
)

// FetchMode selects how much of a message a fetch retrieves.
type FetchMode int

const (
	// FetchMetadata retrieves the envelope and a selected set of headers;
	// body fields are left empty. Used for fast incremental sync.
	FetchMetadata FetchMode = iota
	// FetchFull retrieves and parses the complete body including attachments.
	FetchFull
)

// metadataHeaderFields are the headers retrieved by a metadata-only fetch.
// They cover thread linkage (References, In-Reply-To), list metadata, and the
// authentication signals the risk scorer inspects.
var metadataHeaderFields = []string{
	"References",
	"In-Reply-To",
	"List-Id",
	"List-Unsubscribe",
	"X-Priority",
	"Return-Path",
	"Received-SPF",
	"Dkim-Signature",
	"Authentication-Results",
}

// metadataHeaderSection is the BODY.PEEK section for the metadata header
// subset. Peek keeps the fetch from setting \Seen.
func metadataHeaderSection() *imap.BodySectionName {
	return &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{
			Specifier: imap.HeaderSpecifier,
			Fields:    metadataHeaderFields,
		},
		Peek: true,
	}
}

// fullBodySection is the BODY.PEEK section for the entire raw message.
func fullBodySection() *imap.BodySectionName {
	return &imap.BodySectionName{Peek: true}
}

// Fetch retrieves the given UIDs from a folder in the requested mode. UIDs
// are resolved once (see ListUIDs) and stay stable for the duration of the
// call; results arrive in server order.
func (s *Session) Fetch(ctx context.Context, path string, uids []uint32, mode FetchMode) ([]*models.Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	var result []*models.Message

	err := s.do(ctx, StateFetching, func(c *client.Client) error {
		if _, err := s.selectLocked(c, path); err != nil {
			return err
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids...)

		var (
			items   []imap.FetchItem
			section *imap.BodySectionName
		)
		switch mode {
		case FetchFull:
			section = fullBodySection()
			items = []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, imap.FetchBodyStructure, section.FetchItem()}
		default:
			section = metadataHeaderSection()
			items = []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, section.FetchItem()}
		}

		messages := make(chan *imap.Message, len(uids))
		done := make(chan error, 1)

		go func() {
			done <- c.UidFetch(seqSet, items, messages)
		}()

		for imapMsg := range messages {
			msg, err := parseMessage(imapMsg, section, mode)
			if err != nil {
				s.logger.Warn("failed to parse message, skipping", "uid", imapMsg.Uid, "error", err)
				continue
			}
			result = append(result, msg)
		}

		if err := <-done; err != nil {
			return fmt.Errorf("failed to fetch messages: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return result, nil
}

// FetchByUID retrieves one full message by UID. Returns nil without error
// when the UID no longer exists in the folder.
func (s *Session) FetchByUID(ctx context.Context, path string, uid uint32) (*models.Message, error) {
	msgs, err := s.Fetch(ctx, path, []uint32{uid}, FetchFull)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}
