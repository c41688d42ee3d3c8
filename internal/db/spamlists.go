package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkovacs/mailroom/internal/models"
)

// ErrGreylistEntryNotFound is returned when no greylist row exists for a sender.
var ErrGreylistEntryNotFound = errors.New("greylist entry not found")

// SpamLists bundles the blacklist and greylist queries behind one receiver,
// mainly so the spam scorer can depend on an interface instead of a pool.
type SpamLists struct {
	pool *pgxpool.Pool
}

// NewSpamLists creates a SpamLists over the given pool.
func NewSpamLists(pool *pgxpool.Pool) *SpamLists {
	return &SpamLists{pool: pool}
}

func (s *SpamLists) IsBlacklisted(ctx context.Context, accountID, emailAddress, domain string) (bool, error) {
	return IsBlacklisted(ctx, s.pool, accountID, emailAddress, domain)
}

func (s *SpamLists) TouchGreylist(ctx context.Context, accountID *string, emailAddress, domain string, seenAt time.Time) (*models.GreylistEntry, error) {
	return TouchGreylist(ctx, s.pool, accountID, emailAddress, domain, seenAt)
}

func (s *SpamLists) BlockSender(ctx context.Context, accountID *string, emailAddress, domain string, until time.Time) error {
	return BlockSender(ctx, s.pool, accountID, emailAddress, domain, until)
}

// IsBlacklisted reports whether the sender address or its domain matches an
// account-scoped or global blacklist entry.
func IsBlacklisted(ctx context.Context, pool *pgxpool.Pool, accountID, emailAddress, domain string) (bool, error) {
	var blacklisted bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM spam_blacklist
			WHERE (account_id = $1 OR account_id IS NULL)
			  AND (
			      (email_address <> '' AND lower(email_address) = lower($2))
			   OR (domain <> '' AND lower(domain) = lower($3))
			  )
		)
	`, accountID, emailAddress, domain).Scan(&blacklisted)

	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}

	return blacklisted, nil
}

// AddBlacklistEntry inserts a manually curated blacklist row. A nil AccountID
// makes the entry global.
func AddBlacklistEntry(ctx context.Context, pool *pgxpool.Pool, entry *models.BlacklistEntry) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO spam_blacklist (account_id, email_address, domain, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, entry.AccountID, entry.EmailAddress, entry.Domain, entry.Reason).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("failed to add blacklist entry: %w", err)
	}

	return nil
}

// TouchGreylist records a sighting of a sender: it creates the greylist row
// on first contact and bumps last_seen on every later one. The returned entry
// reflects the stored state including any active block window. Concurrent
// writers may race on the same sender; last-write-wins on last_seen is
// acceptable.
func TouchGreylist(ctx context.Context, pool *pgxpool.Pool, accountID *string, emailAddress, domain string, seenAt time.Time) (*models.GreylistEntry, error) {
	var entry models.GreylistEntry
	err := pool.QueryRow(ctx, `
		INSERT INTO spam_greylist (account_id, email_address, domain, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (account_id, email_address) DO UPDATE SET
			last_seen = EXCLUDED.last_seen,
			domain = EXCLUDED.domain
		RETURNING id, account_id, email_address, domain, first_seen, last_seen, block_until
	`, accountID, emailAddress, domain, seenAt).Scan(
		&entry.ID,
		&entry.AccountID,
		&entry.EmailAddress,
		&entry.Domain,
		&entry.FirstSeen,
		&entry.LastSeen,
		&entry.BlockUntil,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to touch greylist: %w", err)
	}

	return &entry, nil
}

// GetGreylistEntry returns the greylist row for a sender, if any.
func GetGreylistEntry(ctx context.Context, pool *pgxpool.Pool, accountID *string, emailAddress string) (*models.GreylistEntry, error) {
	var entry models.GreylistEntry
	err := pool.QueryRow(ctx, `
		SELECT id, account_id, email_address, domain, first_seen, last_seen, block_until
		FROM spam_greylist
		WHERE account_id IS NOT DISTINCT FROM $1 AND email_address = $2
	`, accountID, emailAddress).Scan(
		&entry.ID,
		&entry.AccountID,
		&entry.EmailAddress,
		&entry.Domain,
		&entry.FirstSeen,
		&entry.LastSeen,
		&entry.BlockUntil,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGreylistEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get greylist entry: %w", err)
	}

	return &entry, nil
}

// BlockSender places a sender under an active greylist block window ending at
// until. The row is created when the sender has not been seen before.
func BlockSender(ctx context.Context, pool *pgxpool.Pool, accountID *string, emailAddress, domain string, until time.Time) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO spam_greylist (account_id, email_address, domain, block_until)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, email_address) DO UPDATE SET
			block_until = EXCLUDED.block_until
	`, accountID, emailAddress, domain, until)

	if err != nil {
		return fmt.Errorf("failed to block sender: %w", err)
	}

	return nil
}
