package threads

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mkovacs/mailroom/internal/models"
)

// OverlapThreshold is the minimum participant-overlap (Jaccard) score for
// the subject fallback to accept a candidate as the same conversation. The
// value is a tunable inherited from observed client behavior, not a
// validated constant.
const OverlapThreshold = 0.10

// Store is the slice of message persistence the reconstructor queries.
// Implemented by db.MessageStore.
type Store interface {
	// ThreadIDByMessageID returns the thread of a stored message with the
	// given Message-ID header, or an error when none is stored.
	ThreadIDByMessageID(ctx context.Context, accountID, messageID string) (string, error)
	// FindThreadCandidates returns stored messages of the account whose
	// normalized subject matches exactly.
	FindThreadCandidates(ctx context.Context, accountID, normalizedSubject string) ([]*models.Message, error)
	// ListForAccount returns all messages of an account, oldest first.
	ListForAccount(ctx context.Context, accountID string) ([]*models.Message, error)
	// UpdateThreadID rewrites a message's thread assignment.
	UpdateThreadID(ctx context.Context, id, threadID string) error
}

// Reconstructor assigns a stable thread ID to every message. It prefers
// standards-based linkage (References/In-Reply-To), falls back to a
// normalized-subject plus participant-overlap heuristic for clients that
// strip threading headers, and finally roots the message in its own thread.
type Reconstructor struct {
	store  Store
	logger *slog.Logger
}

// NewReconstructor creates a Reconstructor over the given store.
func NewReconstructor(store Store, logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconstructor{store: store, logger: logger}
}

// Resolve computes the thread ID for a message that is about to be
// persisted. The result is never empty when msg.MessageID is set; when it is
// empty the store roots the thread at the row ID.
func (r *Reconstructor) Resolve(ctx context.Context, msg *models.Message) string {
	if threadID := r.resolveByReferences(ctx, msg); threadID != "" {
		return threadID
	}

	if threadID := r.resolveBySubject(ctx, msg); threadID != "" {
		return threadID
	}

	// No thread evidence: the message is its own thread root.
	return msg.MessageID
}

// resolveByReferences walks the candidate ancestor ids from References and
// In-Reply-To. A candidate that is stored locally donates its thread ID. When
// no ancestor is known locally yet, the first References entry (the chain
// root by convention) is still used, so a later-arriving root retroactively
// unifies the thread.
func (r *Reconstructor) resolveByReferences(ctx context.Context, msg *models.Message) string {
	candidates := make([]string, 0, len(msg.References)+1)
	if msg.InReplyTo != "" {
		candidates = append(candidates, msg.InReplyTo)
	}
	candidates = append(candidates, msg.References...)

	for _, candidate := range candidates {
		if candidate == "" || candidate == msg.MessageID {
			continue
		}
		threadID, err := r.store.ThreadIDByMessageID(ctx, msg.AccountID, candidate)
		if err == nil && threadID != "" {
			return threadID
		}
	}

	if len(msg.References) > 0 {
		return msg.References[0]
	}
	if msg.InReplyTo != "" {
		return msg.InReplyTo
	}
	return ""
}

// resolveBySubject matches stored messages with an identical normalized
// subject and enough participant overlap. Used only when reference headers
// yielded nothing.
func (r *Reconstructor) resolveBySubject(ctx context.Context, msg *models.Message) string {
	normalized := NormalizeSubject(msg.Subject)
	if normalized == "" {
		return ""
	}

	candidates, err := r.store.FindThreadCandidates(ctx, msg.AccountID, normalized)
	if err != nil {
		r.logger.Warn("subject candidate lookup failed", "account", msg.AccountID, "error", err)
		return ""
	}

	ownAddresses := addressSet(msg.AllAddresses())

	var (
		bestScore  float64
		bestThread string
	)
	for _, candidate := range candidates {
		if candidate.ID == msg.ID {
			continue
		}

		score := overlap(ownAddresses, addressSet(candidate.AllAddresses()))
		if score <= OverlapThreshold || score <= bestScore {
			continue
		}

		bestScore = score
		bestThread = candidate.ThreadID
		if bestThread == "" {
			bestThread = candidate.MessageID
		}
	}

	return bestThread
}

// RecalculateAll re-runs thread resolution over every message of an account,
// oldest first, repairing assignments as earlier evidence arrives. Returns
// the number of reassigned messages.
func (r *Reconstructor) RecalculateAll(ctx context.Context, accountID string) (int, error) {
	messages, err := r.store.ListForAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		threadID := r.Resolve(ctx, msg)
		if threadID == "" {
			threadID = msg.MessageID
		}
		if threadID == "" || threadID == msg.ThreadID {
			continue
		}

		if err := r.store.UpdateThreadID(ctx, msg.ID, threadID); err != nil {
			r.logger.Warn("failed to update thread id", "message_id", msg.ID, "error", err)
			continue
		}
		msg.ThreadID = threadID
		updated++
	}

	return updated, nil
}

// addressSet normalizes a participant list to a set of bare lowercase
// addresses.
func addressSet(addresses []string) map[string]struct{} {
	set := make(map[string]struct{}, len(addresses))
	for _, address := range addresses {
		if bare := BareAddress(address); bare != "" {
			set[bare] = struct{}{}
		}
	}
	return set
}

// overlap computes the Jaccard index of two address sets.
func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for addr := range a {
		if _, ok := b[addr]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// BareAddress extracts the lowercase addr-spec from a formatted participant
// like "Ada Lovelace <ada@example.com>".
func BareAddress(formatted string) string {
	s := strings.TrimSpace(formatted)
	if start := strings.LastIndex(s, "<"); start >= 0 {
		if end := strings.Index(s[start:], ">"); end > 0 {
			s = s[start+1 : start+end]
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}
