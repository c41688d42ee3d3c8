package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkovacs/mailroom/internal/crypto"
	"github.com/mkovacs/mailroom/internal/models"
	"github.com/mkovacs/mailroom/internal/threads"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

// defaultHydrateTimeout bounds the remote fetch when Get is asked to hydrate
// a metadata-only row.
const defaultHydrateTimeout = 10 * time.Second

// RemoteFetcher fetches a single full message from the remote mailbox. The
// store uses it for lazy body hydration and address repair; it may be nil, in
// which case reads only ever return local data.
type RemoteFetcher interface {
	FetchByUID(ctx context.Context, accountID, folderPath string, uid uint32) (*models.Message, error)
}

// MessageStore is the sole reader/writer of persisted message state. It owns
// the dedup/conflict semantics of upsert and the field-level encryption
// boundary: body, HTML body, text body and raw headers are encrypted before
// they reach a column and decrypted on the way out.
type MessageStore struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
	fetcher   RemoteFetcher
	logger    *slog.Logger
}

// NewMessageStore creates a MessageStore. fetcher may be nil.
func NewMessageStore(pool *pgxpool.Pool, encryptor *crypto.Encryptor, fetcher RemoteFetcher, logger *slog.Logger) *MessageStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageStore{pool: pool, encryptor: encryptor, fetcher: fetcher, logger: logger}
}

// SetFetcher wires the remote fetcher after construction. The session
// registry is built after the store, so the daemon injects it here.
func (s *MessageStore) SetFetcher(fetcher RemoteFetcher) {
	s.fetcher = fetcher
}

// MessageRowID derives the canonical row ID for a remote message. It is a
// pure function of (accountID, folderID, remoteUID), so re-syncing the same
// remote message always targets the same local row.
func MessageRowID(accountID, folderID string, remoteUID uint32) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", accountID, folderID, remoteUID)))
	return hex.EncodeToString(sum[:])
}

// Upsert inserts or refreshes a message row and returns its canonical ID.
//
// Non-body fields are updated unconditionally. Body-like fields (body, HTML
// body, text body, raw headers) are only overwritten when the incoming
// plaintext is non-empty: hydration is monotonic, a metadata-only refresh can
// never blank out a previously fetched body. Concurrent writers racing on the
// same (account, folder, uid) key resolve through the ON CONFLICT clause
// instead of surfacing a uniqueness violation.
//
// Empty plaintext is still encrypted (not skipped) so every row carries a
// uniform ciphertext shape.
func (s *MessageStore) Upsert(ctx context.Context, msg *models.Message) (string, error) {
	id := MessageRowID(msg.AccountID, msg.FolderID, msg.RemoteUID)

	if msg.ThreadID == "" {
		// threadId is never null after persist; a message without thread
		// evidence roots its own thread.
		if msg.MessageID != "" {
			msg.ThreadID = msg.MessageID
		} else {
			msg.ThreadID = id
		}
	}

	body, err := s.encryptor.Encrypt(msg.Body)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt body: %w", err)
	}
	htmlBody, err := s.encryptor.Encrypt(msg.HTMLBody)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt html body: %w", err)
	}
	textBody, err := s.encryptor.Encrypt(msg.TextBody)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt text body: %w", err)
	}
	rawHeaders, err := s.encryptor.Encrypt(msg.RawHeaders)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt headers: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO messages (
			id, account_id, folder_id, remote_uid,
			message_id, subject, normalized_subject,
			from_addresses, to_addresses, cc_addresses, bcc_addresses, reply_to_addresses,
			date, body, html_body, text_body, raw_headers,
			flags, is_read, is_starred,
			thread_id, in_reply_to, references_list,
			spam_score, spam_checked_at,
			encrypted, signed, signature_verified, has_body
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20,
			$21, $22, $23,
			$24, $25,
			$26, $27, $28, $29
		)
		ON CONFLICT (account_id, folder_id, remote_uid) DO UPDATE SET
			message_id = EXCLUDED.message_id,
			subject = EXCLUDED.subject,
			normalized_subject = EXCLUDED.normalized_subject,
			from_addresses = EXCLUDED.from_addresses,
			to_addresses = EXCLUDED.to_addresses,
			cc_addresses = EXCLUDED.cc_addresses,
			bcc_addresses = EXCLUDED.bcc_addresses,
			reply_to_addresses = EXCLUDED.reply_to_addresses,
			date = EXCLUDED.date,
			body = CASE WHEN $30 THEN EXCLUDED.body ELSE messages.body END,
			html_body = CASE WHEN $31 THEN EXCLUDED.html_body ELSE messages.html_body END,
			text_body = CASE WHEN $32 THEN EXCLUDED.text_body ELSE messages.text_body END,
			raw_headers = CASE WHEN $33 THEN EXCLUDED.raw_headers ELSE messages.raw_headers END,
			flags = EXCLUDED.flags,
			is_read = EXCLUDED.is_read,
			is_starred = EXCLUDED.is_starred,
			thread_id = EXCLUDED.thread_id,
			in_reply_to = EXCLUDED.in_reply_to,
			references_list = EXCLUDED.references_list,
			spam_score = COALESCE(EXCLUDED.spam_score, messages.spam_score),
			spam_checked_at = COALESCE(EXCLUDED.spam_checked_at, messages.spam_checked_at),
			encrypted = EXCLUDED.encrypted,
			signed = EXCLUDED.signed,
			signature_verified = EXCLUDED.signature_verified,
			has_body = messages.has_body OR EXCLUDED.has_body,
			updated_at = now()
		RETURNING id
	`,
		id, msg.AccountID, msg.FolderID, int64(msg.RemoteUID),
		msg.MessageID, msg.Subject, threads.NormalizeSubject(msg.Subject),
		msg.From, msg.To, msg.CC, msg.BCC, msg.ReplyTo,
		msg.Date, body, htmlBody, textBody, rawHeaders,
		msg.Flags, msg.IsRead, msg.IsStarred,
		msg.ThreadID, msg.InReplyTo, msg.References,
		msg.SpamScore, msg.SpamCheckedAt,
		msg.Encrypted, msg.Signed, msg.SignatureVerified, msg.HasBody(),
		msg.Body != "", msg.HTMLBody != "", msg.TextBody != "", msg.RawHeaders != "",
	).Scan(&id)

	if err != nil {
		return "", fmt.Errorf("failed to upsert message: %w", err)
	}

	msg.ID = id

	for i := range msg.Attachments {
		msg.Attachments[i].EmailID = id
		if err := s.InsertAttachment(ctx, &msg.Attachments[i]); err != nil {
			// Attachment failures degrade the attachment, not the message.
			s.logger.Warn("failed to save attachment", "message_id", id, "filename", msg.Attachments[i].Filename, "error", err)
		}
	}

	return id, nil
}

// GetOptions controls the read path of Get.
type GetOptions struct {
	// HydrateRemote asks the store to fetch the full body from the remote
	// mailbox when the local row is metadata-only.
	HydrateRemote bool
	// Timeout bounds the remote hydration fetch. Zero means the default.
	Timeout time.Duration
}

// Get returns the stored message by ID, decrypted. When HydrateRemote is set
// and the row has no body yet, the store fetches the full message by UID,
// persists it and returns the hydrated value; rows with broken address lists
// get a best-effort repair from the remote envelope on the same read.
// Neither step ever fails the read: on timeout or fetch error the locally
// known data is returned.
func (s *MessageStore) Get(ctx context.Context, id string, opts GetOptions) (*models.Message, error) {
	msg, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !opts.HydrateRemote || s.fetcher == nil {
		return msg, nil
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHydrateTimeout
	}

	hydrateCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !msg.HasBody() {
		msg = s.hydrate(hydrateCtx, msg)
	}

	msg, _ = s.RepairAddresses(hydrateCtx, msg)
	return msg, nil
}

// hydrate fetches the full message by UID and persists it, returning the
// freshest locally readable view. Degrades to the passed-in row on any
// failure.
func (s *MessageStore) hydrate(ctx context.Context, msg *models.Message) *models.Message {
	folder, err := GetFolderByID(ctx, s.pool, msg.FolderID)
	if err != nil {
		s.logger.Warn("hydration skipped, folder lookup failed", "message_id", msg.ID, "error", err)
		return msg
	}

	fetched, err := s.fetcher.FetchByUID(ctx, msg.AccountID, folder.Path, msg.RemoteUID)
	if err != nil || fetched == nil {
		s.logger.Warn("remote hydration failed, returning local data", "message_id", msg.ID, "error", err)
		return msg
	}

	fetched.AccountID = msg.AccountID
	fetched.FolderID = msg.FolderID
	fetched.RemoteUID = msg.RemoteUID
	// Keep the thread assignment computed at sync time.
	fetched.ThreadID = msg.ThreadID

	if _, err := s.Upsert(ctx, fetched); err != nil {
		s.logger.Warn("failed to persist hydrated message", "message_id", msg.ID, "error", err)
		return msg
	}

	if stored, err := s.getByID(ctx, msg.ID); err == nil {
		return stored
	}
	return msg
}

// GetByUID returns a message by its remote UID within a folder.
func (s *MessageStore) GetByUID(ctx context.Context, accountID, folderID string, remoteUID uint32) (*models.Message, error) {
	return s.getByID(ctx, MessageRowID(accountID, folderID, remoteUID))
}

const messageColumns = `id, account_id, folder_id, remote_uid, message_id, subject,
	from_addresses, to_addresses, cc_addresses, bcc_addresses, reply_to_addresses,
	date, body, html_body, text_body, raw_headers, flags, is_read, is_starred,
	thread_id, in_reply_to, references_list, spam_score, spam_checked_at,
	encrypted, signed, signature_verified, created_at, updated_at`

func (s *MessageStore) getByID(ctx context.Context, id string) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return s.scanMessage(row)
}

// ListForFolder returns decrypted messages for a folder, newest first.
func (s *MessageStore) ListForFolder(ctx context.Context, folderID string, limit, offset int) ([]*models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE folder_id = $1
		ORDER BY date DESC NULLS LAST
		LIMIT $2 OFFSET $3
	`, folderID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	return s.collectMessages(rows)
}

// ListMissingBody returns up to limit metadata-only messages in a folder,
// oldest first. Used by the background hydration pass.
func (s *MessageStore) ListMissingBody(ctx context.Context, folderID string, limit int) ([]*models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE folder_id = $1 AND NOT has_body
		ORDER BY remote_uid ASC
		LIMIT $2
	`, folderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages missing bodies: %w", err)
	}
	defer rows.Close()

	return s.collectMessages(rows)
}

// ListForAccount returns all messages of an account ordered by date, oldest
// first. Used by the batch thread recalculation.
func (s *MessageStore) ListForAccount(ctx context.Context, accountID string) ([]*models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE account_id = $1
		ORDER BY date ASC NULLS LAST
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list account messages: %w", err)
	}
	defer rows.Close()

	return s.collectMessages(rows)
}

// ThreadIDByMessageID looks up the thread assignment of a stored message by
// its Message-ID header. Returns ErrMessageNotFound when no such message is
// stored locally.
func (s *MessageStore) ThreadIDByMessageID(ctx context.Context, accountID, messageID string) (string, error) {
	var threadID string
	err := s.pool.QueryRow(ctx, `
		SELECT thread_id FROM messages
		WHERE account_id = $1 AND message_id = $2
		ORDER BY date ASC NULLS LAST
		LIMIT 1
	`, accountID, messageID).Scan(&threadID)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrMessageNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up thread by message id: %w", err)
	}

	return threadID, nil
}

// FindThreadCandidates returns stored messages of the account whose
// normalized subject matches exactly. Used by the subject fallback heuristic.
func (s *MessageStore) FindThreadCandidates(ctx context.Context, accountID, normalizedSubject string) ([]*models.Message, error) {
	if normalizedSubject == "" {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE account_id = $1 AND normalized_subject = $2
		ORDER BY date ASC NULLS LAST
	`, accountID, normalizedSubject)
	if err != nil {
		return nil, fmt.Errorf("failed to find thread candidates: %w", err)
	}
	defer rows.Close()

	return s.collectMessages(rows)
}

// UpdateThreadID rewrites the thread assignment of a single message.
func (s *MessageStore) UpdateThreadID(ctx context.Context, id, threadID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE messages SET thread_id = $2, updated_at = now() WHERE id = $1`, id, threadID)
	if err != nil {
		return fmt.Errorf("failed to update thread id: %w", err)
	}
	return nil
}

// UpdateSpamScore records the computed risk score on the row.
func (s *MessageStore) UpdateSpamScore(ctx context.Context, id string, score float64, checkedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE messages SET spam_score = $2, spam_checked_at = $3, updated_at = now() WHERE id = $1
	`, id, score, checkedAt)
	if err != nil {
		return fmt.Errorf("failed to update spam score: %w", err)
	}
	return nil
}

// Move reassigns a message to another local folder. If a row already exists
// at the destination (account, folder, uid) key, the destination row wins and
// the source row is deleted instead of violating uniqueness.
func (s *MessageStore) Move(ctx context.Context, id, destFolderID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET folder_id = $2, updated_at = now()
		WHERE id = $1 AND NOT EXISTS (
			SELECT 1 FROM messages d
			WHERE d.account_id = messages.account_id
			  AND d.folder_id = $2
			  AND d.remote_uid = messages.remote_uid
			  AND d.id <> messages.id
		)
	`, id, destFolderID)
	if err != nil {
		return fmt.Errorf("failed to move message: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Destination row exists. The source copy is redundant.
		if _, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1 AND folder_id <> $2`, id, destFolderID); err != nil {
			return fmt.Errorf("failed to delete superseded message: %w", err)
		}
	}

	return nil
}

// DeleteAllInFolder removes every message in a folder. Used by clear-and-resync.
func (s *MessageStore) DeleteAllInFolder(ctx context.Context, folderID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE folder_id = $1`, folderID); err != nil {
		return fmt.Errorf("failed to clear folder: %w", err)
	}
	return nil
}

// Delete permanently removes a single message row.
func (s *MessageStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// RepairAddresses is a best-effort post-read reconciliation for rows whose
// address lists were stored without an actual address (a known upstream
// parsing defect). It re-fetches the envelope by UID and patches the address
// columns. Returns the possibly-updated view and whether a repair happened;
// never fails the read.
func (s *MessageStore) RepairAddresses(ctx context.Context, msg *models.Message) (*models.Message, bool) {
	if s.fetcher == nil || !needsAddressRepair(msg) {
		return msg, false
	}

	folder, err := GetFolderByID(ctx, s.pool, msg.FolderID)
	if err != nil {
		s.logger.Warn("address repair skipped, folder lookup failed", "message_id", msg.ID, "error", err)
		return msg, false
	}

	fetched, err := s.fetcher.FetchByUID(ctx, msg.AccountID, folder.Path, msg.RemoteUID)
	if err != nil || fetched == nil {
		s.logger.Warn("address repair fetch failed", "message_id", msg.ID, "error", err)
		return msg, false
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE messages SET
			from_addresses = $2,
			to_addresses = $3,
			cc_addresses = $4,
			reply_to_addresses = $5,
			updated_at = now()
		WHERE id = $1
	`, msg.ID, fetched.From, fetched.To, fetched.CC, fetched.ReplyTo)
	if err != nil {
		s.logger.Warn("address repair update failed", "message_id", msg.ID, "error", err)
		return msg, false
	}

	repaired := *msg
	repaired.From = fetched.From
	repaired.To = fetched.To
	repaired.CC = fetched.CC
	repaired.ReplyTo = fetched.ReplyTo
	return &repaired, true
}

// needsAddressRepair reports whether any address list entry lacks an actual
// address part.
func needsAddressRepair(msg *models.Message) bool {
	for _, list := range [][]string{msg.From, msg.To, msg.CC, msg.ReplyTo} {
		for _, entry := range list {
			if !strings.Contains(entry, "@") {
				return true
			}
		}
	}
	return false
}

func (s *MessageStore) collectMessages(rows pgx.Rows) ([]*models.Message, error) {
	var messages []*models.Message
	for rows.Next() {
		msg, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

func (s *MessageStore) scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg        models.Message
		remoteUID  int64
		body       []byte
		htmlBody   []byte
		textBody   []byte
		rawHeaders []byte
	)

	err := row.Scan(
		&msg.ID, &msg.AccountID, &msg.FolderID, &remoteUID, &msg.MessageID, &msg.Subject,
		&msg.From, &msg.To, &msg.CC, &msg.BCC, &msg.ReplyTo,
		&msg.Date, &body, &htmlBody, &textBody, &rawHeaders, &msg.Flags, &msg.IsRead, &msg.IsStarred,
		&msg.ThreadID, &msg.InReplyTo, &msg.References, &msg.SpamScore, &msg.SpamCheckedAt,
		&msg.Encrypted, &msg.Signed, &msg.SignatureVerified, &msg.CreatedAt, &msg.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.RemoteUID = uint32(remoteUID)
	msg.Body = s.decryptField(msg.ID, "body", body)
	msg.HTMLBody = s.decryptField(msg.ID, "html_body", htmlBody)
	msg.TextBody = s.decryptField(msg.ID, "text_body", textBody)
	msg.RawHeaders = s.decryptField(msg.ID, "raw_headers", rawHeaders)

	return &msg, nil
}

// decryptField degrades a corrupted or legacy ciphertext to an empty value
// instead of failing the whole read.
func (s *MessageStore) decryptField(id, column string, ciphertext []byte) string {
	if len(ciphertext) == 0 {
		return ""
	}

	plaintext, err := s.encryptor.Decrypt(ciphertext)
	if err != nil {
		s.logger.Warn("failed to decrypt column, returning empty value", "message_id", id, "column", column, "error", err)
		return ""
	}

	return plaintext
}
