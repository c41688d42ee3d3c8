package testutil

import (
	"encoding/base64"
	"testing"

	"github.com/mkovacs/mailroom/internal/crypto"
)

// NewTestEncryptor creates an encryptor with a deterministic key, shared
// across test packages.
func NewTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	encryptor, err := crypto.NewEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}
	return encryptor
}
