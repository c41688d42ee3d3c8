package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the daemon needs from the environment.
type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string
	LogLevel            string

	// Spam scoring.
	SpamThreshold float64
	DomainBLZone  string
	URIBLZone     string

	// Background body hydration.
	HydrateBatchSize int
	HydrateTimeout   time.Duration
}

// NewConfig loads configuration from the environment. In development it also
// loads a .env file when one is present.
func NewConfig() (*Config, error) {
	env := os.Getenv("MAILROOM_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("MAILROOM_ENCRYPTION_KEY_BASE64"),
		DBHost:              getEnvOrDefault("MAILROOM_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("MAILROOM_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("MAILROOM_DB_USER", "mailroom"),
		DBPassword:          os.Getenv("MAILROOM_DB_PASSWORD"),
		DBName:              getEnvOrDefault("MAILROOM_DB_NAME", "mailroom"),
		DBSSLMode:           getEnvOrDefault("MAILROOM_DB_SSLMODE", "disable"),
		Port:                getEnvOrDefault("PORT", "8080"),
		LogLevel:            getEnvOrDefault("MAILROOM_LOG_LEVEL", "info"),
		SpamThreshold:       getEnvFloatOrDefault("MAILROOM_SPAM_THRESHOLD", 0.7),
		DomainBLZone:        getEnvOrDefault("MAILROOM_DOMAIN_BL_ZONE", "dbl.spamhaus.org"),
		URIBLZone:           getEnvOrDefault("MAILROOM_URI_BL_ZONE", "multi.uribl.com"),
		HydrateBatchSize:    getEnvIntOrDefault("MAILROOM_HYDRATE_BATCH_SIZE", 20),
		HydrateTimeout:      getEnvDurationOrDefault("MAILROOM_HYDRATE_TIMEOUT", 15*time.Second),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that required settings are present and sane.
func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("MAILROOM_ENCRYPTION_KEY_BASE64 is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("MAILROOM_DB_PASSWORD is required")
	}

	if c.SpamThreshold < 0 || c.SpamThreshold > 1 {
		return fmt.Errorf("MAILROOM_SPAM_THRESHOLD must be within [0,1], got %g", c.SpamThreshold)
	}

	if c.HydrateBatchSize <= 0 {
		return fmt.Errorf("MAILROOM_HYDRATE_BATCH_SIZE must be positive, got %d", c.HydrateBatchSize)
	}

	return nil
}

// GetDatabaseURL builds the Postgres connection URL.
func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
