package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order on startup. Each statement block is
// idempotent so repeated startups are safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		email TEXT NOT NULL UNIQUE,
		imap_host TEXT NOT NULL,
		imap_port INT NOT NULL DEFAULT 993,
		imap_username TEXT NOT NULL,
		encrypted_password BYTEA NOT NULL,
		use_tls BOOLEAN NOT NULL DEFAULT TRUE,
		spam_folder_name TEXT NOT NULL DEFAULT 'Spam',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS folders (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		parent_id TEXT,
		subscribed BOOLEAN NOT NULL DEFAULT FALSE,
		unread_count INT NOT NULL DEFAULT 0,
		total_count INT NOT NULL DEFAULT 0,
		attributes TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (account_id, path)
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		folder_id TEXT NOT NULL,
		remote_uid BIGINT NOT NULL,
		message_id TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		normalized_subject TEXT NOT NULL DEFAULT '',
		from_addresses TEXT[] NOT NULL DEFAULT '{}',
		to_addresses TEXT[] NOT NULL DEFAULT '{}',
		cc_addresses TEXT[] NOT NULL DEFAULT '{}',
		bcc_addresses TEXT[] NOT NULL DEFAULT '{}',
		reply_to_addresses TEXT[] NOT NULL DEFAULT '{}',
		date TIMESTAMPTZ,
		body BYTEA NOT NULL,
		html_body BYTEA NOT NULL,
		text_body BYTEA NOT NULL,
		raw_headers BYTEA NOT NULL,
		flags TEXT[] NOT NULL DEFAULT '{}',
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		is_starred BOOLEAN NOT NULL DEFAULT FALSE,
		thread_id TEXT NOT NULL,
		in_reply_to TEXT NOT NULL DEFAULT '',
		references_list TEXT[] NOT NULL DEFAULT '{}',
		spam_score DOUBLE PRECISION,
		spam_checked_at TIMESTAMPTZ,
		encrypted BOOLEAN NOT NULL DEFAULT FALSE,
		signed BOOLEAN NOT NULL DEFAULT FALSE,
		signature_verified BOOLEAN,
		has_body BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (account_id, folder_id, remote_uid)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (account_id, thread_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_message_id ON messages (account_id, message_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_normalized_subject ON messages (account_id, normalized_subject)`,

	`CREATE TABLE IF NOT EXISTS attachments (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		email_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		filename TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		size BIGINT NOT NULL DEFAULT 0,
		content_id TEXT NOT NULL DEFAULT '',
		data BYTEA NOT NULL,
		UNIQUE (email_id, filename)
	)`,

	`CREATE TABLE IF NOT EXISTS spam_blacklist (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		account_id TEXT REFERENCES accounts(id) ON DELETE CASCADE,
		email_address TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS spam_greylist (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		account_id TEXT REFERENCES accounts(id) ON DELETE CASCADE,
		email_address TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
		block_until TIMESTAMPTZ,
		UNIQUE NULLS NOT DISTINCT (account_id, email_address)
	)`,
}

// Migrate applies the schema. Safe to call on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
