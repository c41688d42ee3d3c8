package spam

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mkovacs/mailroom/internal/models"
	"github.com/mkovacs/mailroom/internal/threads"
)

// Signal weights of the composite score. Online blocklist hits are the
// strongest evidence; keyword scanning the weakest.
const (
	weightOnlineBlacklist = 0.5
	weightLocalBlacklist  = 0.3
	weightHeaders         = 0.2
	weightContent         = 0.1
	weightGreylist        = 0.1
)

// DefaultAutoMoveThreshold is the composite score at and above which the
// orchestrator quarantines a message.
const DefaultAutoMoveThreshold = 0.7

// GreylistBlockWindow is how long a policy-blocked sender keeps contributing
// the greylist signal.
const GreylistBlockWindow = 24 * time.Hour

// Lists is the persistence surface the scorer needs, satisfied by
// *db.SpamLists.
type Lists interface {
	IsBlacklisted(ctx context.Context, accountID, emailAddress, domain string) (bool, error)
	TouchGreylist(ctx context.Context, accountID *string, emailAddress, domain string, seenAt time.Time) (*models.GreylistEntry, error)
}

// OnlineChecker is the DNS blocklist surface, satisfied by *DNSBLChecker. A
// nil checker disables the online signal.
type OnlineChecker interface {
	CheckMessage(ctx context.Context, msg *models.Message) bool
}

// Scorer computes a deterministic composite spam score in [0, 1] from five
// weighted sub-signals. List lookup failures degrade the affected signal to
// zero instead of failing the score, so a database or resolver hiccup never
// blocks a sync pass.
type Scorer struct {
	lists  Lists
	online OnlineChecker
	logger *slog.Logger
	now    func() time.Time
}

// NewScorer builds a Scorer. online may be nil to skip DNS blocklist checks.
func NewScorer(lists Lists, online OnlineChecker, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{lists: lists, online: online, logger: logger, now: time.Now}
}

// Score computes the composite spam score for a message. Every call also
// records a greylist sighting of the sender, independent of whether the
// sender is blocked.
func (s *Scorer) Score(ctx context.Context, msg *models.Message) float64 {
	sender, domain := senderIdentity(msg)

	var online float64
	if s.online != nil && s.online.CheckMessage(ctx, msg) {
		online = 1
	}

	var local float64
	if sender != "" || domain != "" {
		blacklisted, err := s.lists.IsBlacklisted(ctx, msg.AccountID, sender, domain)
		if err != nil {
			s.logger.Warn("blacklist check failed", "account", msg.AccountID, "sender", sender, "error", err)
		} else if blacklisted {
			local = 1
		}
	}

	var grey float64
	if sender != "" {
		entry, err := s.lists.TouchGreylist(ctx, &msg.AccountID, sender, domain, s.now())
		if err != nil {
			s.logger.Warn("greylist touch failed", "account", msg.AccountID, "sender", sender, "error", err)
		} else if entry.Blocked(s.now()) {
			grey = 1
		}
	}

	score := weightOnlineBlacklist*online +
		weightLocalBlacklist*local +
		weightHeaders*headerScore(msg) +
		weightContent*contentScore(msg) +
		weightGreylist*grey

	return clamp01(score)
}

// ShouldAutoMoveToSpam scores the message and compares against the
// threshold. A non-positive threshold falls back to the default.
func (s *Scorer) ShouldAutoMoveToSpam(ctx context.Context, msg *models.Message, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultAutoMoveThreshold
	}
	return s.Score(ctx, msg) >= threshold
}

// senderIdentity extracts the bare sender address and its domain from the
// first From participant.
func senderIdentity(msg *models.Message) (address, domain string) {
	if len(msg.From) == 0 {
		return "", ""
	}
	address = threads.BareAddress(msg.From[0])
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		domain = address[at+1:]
	}
	return address, domain
}

// senderDomain is the domain half of senderIdentity, used by the DNS
// blocklist checker.
func senderDomain(msg *models.Message) string {
	_, domain := senderIdentity(msg)
	return domain
}
