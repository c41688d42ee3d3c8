package sync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkovacs/mailroom/internal/crypto"
	"github.com/mkovacs/mailroom/internal/db"
	"github.com/mkovacs/mailroom/internal/models"
)

// Credentials loads accounts and decrypts their stored password on demand.
// Implements imap.CredentialSource; the plaintext password only ever lives
// on the stack of the connect path.
type Credentials struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
}

// NewCredentials creates a credential source over the account table.
func NewCredentials(pool *pgxpool.Pool, encryptor *crypto.Encryptor) *Credentials {
	return &Credentials{pool: pool, encryptor: encryptor}
}

func (c *Credentials) Credentials(ctx context.Context, accountID string) (*models.Account, string, error) {
	account, err := db.GetAccount(ctx, c.pool, accountID)
	if err != nil {
		return nil, "", err
	}

	password, err := c.encryptor.Decrypt(account.EncryptedPassword)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decrypt password for account %s: %w", accountID, err)
	}

	return account, password, nil
}
