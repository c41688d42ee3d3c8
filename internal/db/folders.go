package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkovacs/mailroom/internal/models"
)

// ErrFolderNotFound is returned when a requested folder cannot be found.
var ErrFolderNotFound = errors.New("folder not found")

const folderColumns = `id, account_id, name, path, parent_id, subscribed, unread_count, total_count, attributes, created_at, updated_at`

// UpsertFolder inserts a folder on first discovery and refreshes it on every
// subsequent discovery pass. Keyed by (account_id, path).
func UpsertFolder(ctx context.Context, pool *pgxpool.Pool, folder *models.Folder) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO folders (account_id, name, path, parent_id, subscribed, attributes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, path) DO UPDATE SET
			name = EXCLUDED.name,
			parent_id = EXCLUDED.parent_id,
			subscribed = EXCLUDED.subscribed,
			attributes = EXCLUDED.attributes,
			updated_at = now()
		RETURNING id
	`,
		folder.AccountID,
		folder.Name,
		folder.Path,
		folder.ParentID,
		folder.Subscribed,
		folder.Attributes,
	).Scan(&folder.ID)

	if err != nil {
		return fmt.Errorf("failed to upsert folder: %w", err)
	}

	return nil
}

// GetFolderByPath returns a folder by account and full path.
func GetFolderByPath(ctx context.Context, pool *pgxpool.Pool, accountID, path string) (*models.Folder, error) {
	row := pool.QueryRow(ctx, `SELECT `+folderColumns+` FROM folders WHERE account_id = $1 AND path = $2`, accountID, path)
	return scanFolder(row)
}

// GetFolderByID returns a folder by its ID.
func GetFolderByID(ctx context.Context, pool *pgxpool.Pool, folderID string) (*models.Folder, error) {
	row := pool.QueryRow(ctx, `SELECT `+folderColumns+` FROM folders WHERE id = $1`, folderID)
	return scanFolder(row)
}

// ListFolders returns all folders for an account ordered by path.
func ListFolders(ctx context.Context, pool *pgxpool.Pool, accountID string) ([]*models.Folder, error) {
	rows, err := pool.Query(ctx, `SELECT `+folderColumns+` FROM folders WHERE account_id = $1 ORDER BY path`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var folders []*models.Folder
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, folder)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folders: %w", err)
	}

	return folders, nil
}

// CountFolders returns the number of locally known folders for an account.
// The orchestrator uses this to decide whether folder discovery has run yet.
func CountFolders(ctx context.Context, pool *pgxpool.Pool, accountID string) (int, error) {
	var count int
	err := pool.QueryRow(ctx, `SELECT count(*) FROM folders WHERE account_id = $1`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count folders: %w", err)
	}
	return count, nil
}

// DeleteFolder removes a folder row and all of its messages. Used when the
// remote mailbox no longer exists.
func DeleteFolder(ctx context.Context, pool *pgxpool.Pool, folderID string) error {
	if _, err := pool.Exec(ctx, `DELETE FROM messages WHERE folder_id = $1`, folderID); err != nil {
		return fmt.Errorf("failed to delete folder messages: %w", err)
	}

	if _, err := pool.Exec(ctx, `DELETE FROM folders WHERE id = $1`, folderID); err != nil {
		return fmt.Errorf("failed to delete folder: %w", err)
	}

	return nil
}

// UpdateFolderCounts refreshes the unread/total counters after a folder pass.
func UpdateFolderCounts(ctx context.Context, pool *pgxpool.Pool, folderID string, unread, total int) error {
	_, err := pool.Exec(ctx, `
		UPDATE folders SET unread_count = $2, total_count = $3, updated_at = now() WHERE id = $1
	`, folderID, unread, total)

	if err != nil {
		return fmt.Errorf("failed to update folder counts: %w", err)
	}

	return nil
}

// SetFolderSubscribed flips the local subscription flag.
func SetFolderSubscribed(ctx context.Context, pool *pgxpool.Pool, folderID string, subscribed bool) error {
	_, err := pool.Exec(ctx, `UPDATE folders SET subscribed = $2, updated_at = now() WHERE id = $1`, folderID, subscribed)
	if err != nil {
		return fmt.Errorf("failed to update folder subscription: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFolder(row rowScanner) (*models.Folder, error) {
	var f models.Folder
	err := row.Scan(
		&f.ID,
		&f.AccountID,
		&f.Name,
		&f.Path,
		&f.ParentID,
		&f.Subscribed,
		&f.UnreadCount,
		&f.TotalCount,
		&f.Attributes,
		&f.CreatedAt,
		&f.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFolderNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan folder: %w", err)
	}

	return &f, nil
}
