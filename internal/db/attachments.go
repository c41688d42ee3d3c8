package db

import (
	"context"
	"fmt"

	"github.com/mkovacs/mailroom/internal/models"
)

// InsertAttachment stores an attachment with its content encrypted at rest.
// Attachments are insert-once: a row that already exists for
// (email_id, filename) is left untouched.
func (s *MessageStore) InsertAttachment(ctx context.Context, att *models.Attachment) error {
	data, err := s.encryptor.Encrypt(string(att.Data))
	if err != nil {
		return fmt.Errorf("failed to encrypt attachment data: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO attachments (email_id, filename, content_type, size, content_id, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email_id, filename) DO UPDATE SET filename = EXCLUDED.filename
		RETURNING id
	`, att.EmailID, att.Filename, att.ContentType, att.Size, att.ContentID, data).Scan(&att.ID)

	if err != nil {
		return fmt.Errorf("failed to save attachment: %w", err)
	}

	return nil
}

// GetAttachmentsForMessage returns all attachments of a message with their
// content decrypted.
func (s *MessageStore) GetAttachmentsForMessage(ctx context.Context, messageID string) ([]*models.Attachment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email_id, filename, content_type, size, content_id, data
		FROM attachments
		WHERE email_id = $1
		ORDER BY filename
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	var attachments []*models.Attachment
	for rows.Next() {
		var (
			att  models.Attachment
			data []byte
		)
		if err := rows.Scan(&att.ID, &att.EmailID, &att.Filename, &att.ContentType, &att.Size, &att.ContentID, &data); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}

		att.Data = []byte(s.decryptField(att.EmailID, "attachment:"+att.Filename, data))
		attachments = append(attachments, &att)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}

	return attachments, nil
}
