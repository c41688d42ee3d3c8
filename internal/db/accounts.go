package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkovacs/mailroom/internal/models"
)

// ErrAccountNotFound is returned when a requested account cannot be found.
var ErrAccountNotFound = errors.New("account not found")

const accountColumns = `id, email, imap_host, imap_port, imap_username, encrypted_password, use_tls, spam_folder_name, created_at, updated_at`

// SaveAccount inserts or updates an account keyed by email address.
func SaveAccount(ctx context.Context, pool *pgxpool.Pool, account *models.Account) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO accounts (email, imap_host, imap_port, imap_username, encrypted_password, use_tls, spam_folder_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO UPDATE SET
			imap_host = EXCLUDED.imap_host,
			imap_port = EXCLUDED.imap_port,
			imap_username = EXCLUDED.imap_username,
			encrypted_password = EXCLUDED.encrypted_password,
			use_tls = EXCLUDED.use_tls,
			spam_folder_name = EXCLUDED.spam_folder_name,
			updated_at = now()
		RETURNING id
	`,
		account.Email,
		account.IMAPHost,
		account.IMAPPort,
		account.IMAPUsername,
		account.EncryptedPassword,
		account.UseTLS,
		account.SpamFolderName,
	).Scan(&account.ID)

	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	return nil
}

// GetAccount returns an account by ID.
func GetAccount(ctx context.Context, pool *pgxpool.Pool, accountID string) (*models.Account, error) {
	var a models.Account

	err := pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID).Scan(
		&a.ID,
		&a.Email,
		&a.IMAPHost,
		&a.IMAPPort,
		&a.IMAPUsername,
		&a.EncryptedPassword,
		&a.UseTLS,
		&a.SpamFolderName,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &a, nil
}

// ListAccounts returns all configured accounts.
func ListAccounts(ctx context.Context, pool *pgxpool.Pool) ([]*models.Account, error) {
	rows, err := pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(
			&a.ID,
			&a.Email,
			&a.IMAPHost,
			&a.IMAPPort,
			&a.IMAPUsername,
			&a.EncryptedPassword,
			&a.UseTLS,
			&a.SpamFolderName,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}
