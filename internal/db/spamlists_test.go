package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkovacs/mailroom/internal/db"
	"github.com/mkovacs/mailroom/internal/models"
	"github.com/mkovacs/mailroom/internal/testutil"
)

func TestSpamLists(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	account := seedAccount(t, pool)

	t.Run("blacklist matches address and domain case-insensitively", func(t *testing.T) {
		require.NoError(t, db.AddBlacklistEntry(ctx, pool, &models.BlacklistEntry{
			AccountID:    &account.ID,
			EmailAddress: "spammer@junk.example",
			Reason:       "manual",
		}))
		require.NoError(t, db.AddBlacklistEntry(ctx, pool, &models.BlacklistEntry{
			AccountID: &account.ID,
			Domain:    "evil.example",
			Reason:    "manual",
		}))

		blocked, err := db.IsBlacklisted(ctx, pool, account.ID, "SPAMMER@junk.example", "junk.example")
		require.NoError(t, err)
		assert.True(t, blocked)

		blocked, err = db.IsBlacklisted(ctx, pool, account.ID, "anyone@evil.example", "Evil.Example")
		require.NoError(t, err)
		assert.True(t, blocked)

		blocked, err = db.IsBlacklisted(ctx, pool, account.ID, "friend@good.example", "good.example")
		require.NoError(t, err)
		assert.False(t, blocked)
	})

	t.Run("global entries apply to every account", func(t *testing.T) {
		require.NoError(t, db.AddBlacklistEntry(ctx, pool, &models.BlacklistEntry{
			Domain: "worldwide-spam.example",
			Reason: "global",
		}))

		blocked, err := db.IsBlacklisted(ctx, pool, account.ID, "x@worldwide-spam.example", "worldwide-spam.example")
		require.NoError(t, err)
		assert.True(t, blocked)

		blocked, err = db.IsBlacklisted(ctx, pool, "some-other-account", "x@worldwide-spam.example", "worldwide-spam.example")
		require.NoError(t, err)
		assert.True(t, blocked)
	})

	t.Run("greylist touch keeps first_seen and bumps last_seen", func(t *testing.T) {
		first := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
		later := first.Add(48 * time.Hour)

		entry, err := db.TouchGreylist(ctx, pool, &account.ID, "new@sender.example", "sender.example", first)
		require.NoError(t, err)
		assert.True(t, entry.FirstSeen.Equal(first))
		assert.Nil(t, entry.BlockUntil)

		entry, err = db.TouchGreylist(ctx, pool, &account.ID, "new@sender.example", "sender.example", later)
		require.NoError(t, err)
		assert.True(t, entry.FirstSeen.Equal(first))
		assert.True(t, entry.LastSeen.Equal(later))
	})

	t.Run("block sender opens a window and touch preserves it", func(t *testing.T) {
		until := time.Now().Add(24 * time.Hour)
		require.NoError(t, db.BlockSender(ctx, pool, &account.ID, "blocked@sender.example", "sender.example", until))

		entry, err := db.GetGreylistEntry(ctx, pool, &account.ID, "blocked@sender.example")
		require.NoError(t, err)
		assert.True(t, entry.Blocked(time.Now()))
		assert.False(t, entry.Blocked(until.Add(time.Minute)))

		entry, err = db.TouchGreylist(ctx, pool, &account.ID, "blocked@sender.example", "sender.example", time.Now())
		require.NoError(t, err)
		assert.True(t, entry.Blocked(time.Now()))
	})

	t.Run("unknown sender has no greylist entry", func(t *testing.T) {
		_, err := db.GetGreylistEntry(ctx, pool, &account.ID, "nobody@sender.example")
		assert.ErrorIs(t, err, db.ErrGreylistEntryNotFound)
	})

	t.Run("wrapper delegates with the same semantics", func(t *testing.T) {
		lists := db.NewSpamLists(pool)

		blocked, err := lists.IsBlacklisted(ctx, account.ID, "spammer@junk.example", "junk.example")
		require.NoError(t, err)
		assert.True(t, blocked)

		entry, err := lists.TouchGreylist(ctx, &account.ID, "wrapped@sender.example", "sender.example", time.Now())
		require.NoError(t, err)
		assert.Equal(t, "wrapped@sender.example", entry.EmailAddress)
	})
}
