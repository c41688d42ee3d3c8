package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validKey() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 32))
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MAILROOM_ENV", "test")
	t.Setenv("MAILROOM_ENCRYPTION_KEY_BASE64", validKey())
	t.Setenv("MAILROOM_DB_PASSWORD", "secret")
}

func TestNewConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Equal(t, "5432", cfg.DBPort)
	assert.Equal(t, "mailroom", cfg.DBUsername)
	assert.Equal(t, "mailroom", cfg.DBName)
	assert.Equal(t, "8080", cfg.Port)
	assert.InDelta(t, 0.7, cfg.SpamThreshold, 1e-9)
	assert.Equal(t, 20, cfg.HydrateBatchSize)
	assert.Equal(t, 15*time.Second, cfg.HydrateTimeout)
	assert.Equal(t, "dbl.spamhaus.org", cfg.DomainBLZone)
}

func TestNewConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAILROOM_DB_HOST", "db.internal")
	t.Setenv("MAILROOM_SPAM_THRESHOLD", "0.85")
	t.Setenv("MAILROOM_HYDRATE_BATCH_SIZE", "50")
	t.Setenv("MAILROOM_HYDRATE_TIMEOUT", "30s")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DBHost)
	assert.InDelta(t, 0.85, cfg.SpamThreshold, 1e-9)
	assert.Equal(t, 50, cfg.HydrateBatchSize)
	assert.Equal(t, 30*time.Second, cfg.HydrateTimeout)
}

func TestNewConfigValidation(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T)
	}{
		{
			name: "missing encryption key",
			setup: func(t *testing.T) {
				t.Setenv("MAILROOM_ENV", "test")
				t.Setenv("MAILROOM_ENCRYPTION_KEY_BASE64", "")
				t.Setenv("MAILROOM_DB_PASSWORD", "secret")
			},
		},
		{
			name: "missing db password",
			setup: func(t *testing.T) {
				t.Setenv("MAILROOM_ENV", "test")
				t.Setenv("MAILROOM_ENCRYPTION_KEY_BASE64", validKey())
				t.Setenv("MAILROOM_DB_PASSWORD", "")
			},
		},
		{
			name: "spam threshold out of range",
			setup: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("MAILROOM_SPAM_THRESHOLD", "1.5")
			},
		},
		{
			name: "non-positive hydrate batch",
			setup: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("MAILROOM_HYDRATE_BATCH_SIZE", "0")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup(t)
			_, err := NewConfig()
			assert.Error(t, err)
		})
	}
}

func TestGetDatabaseURL(t *testing.T) {
	cfg := &Config{
		DBUsername: "mailroom",
		DBPassword: "pw",
		DBHost:     "localhost",
		DBPort:     "5432",
		DBName:     "mailroom",
		DBSSLMode:  "disable",
	}

	assert.Equal(t, "postgres://mailroom:pw@localhost:5432/mailroom?sslmode=disable", cfg.GetDatabaseURL())
}
