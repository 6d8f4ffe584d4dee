package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// MaxHistoryDays bounds every usage history request.
const MaxHistoryDays = 100

type Config struct {
	// HTTP Server
	Port string

	// Backend selection
	DataBackend string

	// SQLite
	SQLiteDBPath string

	// MongoDB
	MongoURI      string
	MongoDatabase string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export
	GoogleSpreadsheetID   string
	GoogleCredentialsFile string
	GoogleCredentialsJSON string

	// Sessions
	SessionHashKey  string
	SessionBlockKey string
	SecureCookies   bool

	// Usage reporting
	UsageHistoryDays      int
	UsageFetchConcurrency int
	UsageCacheTTL         time.Duration
	ProviderTimeout       time.Duration

	// Worker
	SyncBatchSize int
	SyncInterval  time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8081"),
		DataBackend: getEnv("DATA_BACKEND", "memory"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/twilioreport.db"),

		MongoURI:      getEnv("MONGODB_URI", ""),
		MongoDatabase: getEnv("MONGODB_DATABASE", "twilio-report-app"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "twilioreport"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "usage_exports"),

		GoogleSpreadsheetID:   getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		GoogleCredentialsJSON: getEnv("GOOGLE_CREDENTIALS_JSON", ""),

		SessionHashKey:  getEnv("SESSION_HASH_KEY", ""),
		SessionBlockKey: getEnv("SESSION_BLOCK_KEY", ""),
		SecureCookies:   getEnvBool("SECURE_COOKIES", false),

		UsageHistoryDays:      getEnvInt("USAGE_HISTORY_DAYS", 31),
		UsageFetchConcurrency: getEnvInt("USAGE_FETCH_CONCURRENCY", 8),
		UsageCacheTTL:         getEnvDuration("USAGE_CACHE_TTL", 5*time.Minute),
		ProviderTimeout:       getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),

		SyncBatchSize: getEnvInt("SYNC_BATCH_SIZE", 10),
		SyncInterval:  getEnvDuration("SYNC_INTERVAL", time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{"memory", "sqlite", "mongo"}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.DataBackend == "mongo" {
		if c.MongoURI == "" {
			errors = append(errors, "MONGODB_URI is required when using mongo backend")
		} else if u, err := url.Parse(c.MongoURI); err != nil {
			errors = append(errors, fmt.Sprintf("invalid MongoDB URI: %v", err))
		} else if u.Scheme != "mongodb" && u.Scheme != "mongodb+srv" {
			errors = append(errors, fmt.Sprintf("invalid MongoDB URI scheme '%s': must be 'mongodb' or 'mongodb+srv'", u.Scheme))
		}
		if c.MongoDatabase == "" {
			errors = append(errors, "MongoDB database name cannot be empty when using mongo backend")
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleCredentialsFile != "" {
		if _, err := os.Stat(c.GoogleCredentialsFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google credentials file does not exist: %s", c.GoogleCredentialsFile))
		}
	}

	if err := checkKey("SESSION_HASH_KEY", c.SessionHashKey, 32, 64); err != "" {
		errors = append(errors, err)
	}
	if err := checkKey("SESSION_BLOCK_KEY", c.SessionBlockKey, 16, 24, 32); err != "" {
		errors = append(errors, err)
	}

	if c.UsageHistoryDays < 1 || c.UsageHistoryDays > MaxHistoryDays {
		errors = append(errors, fmt.Sprintf("invalid usage history days %d: must be between 1 and %d", c.UsageHistoryDays, MaxHistoryDays))
	}
	if c.UsageFetchConcurrency < 1 || c.UsageFetchConcurrency > 32 {
		errors = append(errors, fmt.Sprintf("invalid usage fetch concurrency %d: must be between 1 and 32", c.UsageFetchConcurrency))
	}
	if c.UsageCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid usage cache TTL %v: must not be negative", c.UsageCacheTTL))
	}
	if c.ProviderTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid provider timeout %v: must be at least 1 second", c.ProviderTimeout))
	}

	if c.SyncBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// SheetsEnabled reports whether Google Sheets export is configured.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != "" && (c.GoogleCredentialsFile != "" || c.GoogleCredentialsJSON != "")
}

// ExportsEnabled reports whether Sheets export requests can be served:
// either a broker carries them to the worker or Sheets is configured for
// the worker's sweep.
func (c *Config) ExportsEnabled() bool {
	return c.AMQPURL != "" || c.SheetsEnabled()
}

// SessionKeys decodes the base64 session keys. Empty keys decode to nil.
func (c *Config) SessionKeys() (hashKey, blockKey []byte, err error) {
	if c.SessionHashKey != "" {
		if hashKey, err = base64.StdEncoding.DecodeString(c.SessionHashKey); err != nil {
			return nil, nil, fmt.Errorf("decode SESSION_HASH_KEY: %w", err)
		}
	}
	if c.SessionBlockKey != "" {
		if blockKey, err = base64.StdEncoding.DecodeString(c.SessionBlockKey); err != nil {
			return nil, nil, fmt.Errorf("decode SESSION_BLOCK_KEY: %w", err)
		}
	}
	return hashKey, blockKey, nil
}

// checkKey validates an optional base64 key against the allowed lengths.
func checkKey(name, value string, sizes ...int) string {
	if value == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return fmt.Sprintf("%s must be base64 encoded: %v", name, err)
	}
	if !slices.Contains(sizes, len(raw)) {
		return fmt.Sprintf("%s must decode to one of %v bytes, got %d", name, sizes, len(raw))
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
