package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Logging
	LogLevel  string
	LogFormat string

	// Storage
	DataBackend  string
	SQLiteDBPath string

	// AMQP; an empty URL disables queued syncs
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Classifier
	ClassifierMode string
	GeminiAPIKey   string
	GeminiModel    string

	// Bank feed
	FeedProvider      string
	PlaidClientID     string
	PlaidSecret       string
	PlaidEnv          string
	PlaidCountryCodes []string
	PlaidWebhookURL   string

	// Sync
	SyncPageSize      int
	SyncConcurrency   int
	SyncRatePerMinute int

	// Banking
	MaxBankConnections int
	ConsentDays        int

	// Auth
	JWTSecret string

	AllocationCacheTTL time.Duration
}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8081"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/budgetflow.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "budgetflow"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "bank_sync"),

		ClassifierMode: getEnv("CLASSIFIER_MODE", "rules"),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		FeedProvider:      getEnv("FEED_PROVIDER", "memory"),
		PlaidClientID:     getEnv("PLAID_CLIENT_ID", ""),
		PlaidSecret:       getEnv("PLAID_SECRET", ""),
		PlaidEnv:          getEnv("PLAID_ENV", "sandbox"),
		PlaidCountryCodes: getEnvList("PLAID_COUNTRY_CODES", []string{"GB"}),
		PlaidWebhookURL:   getEnv("PLAID_WEBHOOK_URL", ""),

		SyncPageSize:      getEnvInt("SYNC_PAGE_SIZE", 500),
		SyncConcurrency:   getEnvInt("SYNC_CONCURRENCY", 4),
		SyncRatePerMinute: getEnvInt("SYNC_RATE_PER_MINUTE", 6),

		MaxBankConnections: getEnvInt("MAX_BANK_CONNECTIONS", 0),
		ConsentDays:        getEnvInt("CONSENT_DAYS", 90),

		JWTSecret: getEnv("AUTH_JWT_SECRET", ""),

		AllocationCacheTTL: getEnvDuration("ALLOCATION_CACHE_TTL", 5*time.Minute),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !oneOf(strings.ToLower(c.LogLevel), "debug", "info", "warn", "error") {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}
	if !oneOf(c.LogFormat, "text", "json") {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if !oneOf(c.DataBackend, "memory", "sqlite") {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [memory sqlite]", c.DataBackend))
	}
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
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

	switch c.ClassifierMode {
	case "rules":
	case "llm":
		if c.GeminiAPIKey == "" {
			errors = append(errors, "GEMINI_API_KEY is required when CLASSIFIER_MODE is llm")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid classifier mode '%s': must be rules or llm", c.ClassifierMode))
	}

	switch c.FeedProvider {
	case "memory":
	case "plaid":
		if c.PlaidClientID == "" || c.PlaidSecret == "" {
			errors = append(errors, "PLAID_CLIENT_ID and PLAID_SECRET are required when FEED_PROVIDER is plaid")
		}
		if !oneOf(c.PlaidEnv, "sandbox", "production") {
			errors = append(errors, fmt.Sprintf("invalid Plaid environment '%s': must be sandbox or production", c.PlaidEnv))
		}
		if len(c.PlaidCountryCodes) == 0 {
			errors = append(errors, "PLAID_COUNTRY_CODES cannot be empty when FEED_PROVIDER is plaid")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid feed provider '%s': must be plaid or memory", c.FeedProvider))
	}

	if c.SyncPageSize < 1 || c.SyncPageSize > 500 {
		errors = append(errors, fmt.Sprintf("invalid sync page size %d: must be between 1 and 500", c.SyncPageSize))
	}
	if c.SyncConcurrency < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync concurrency %d: must be at least 1", c.SyncConcurrency))
	}
	if c.SyncRatePerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync rate %d: must be at least 1 per minute", c.SyncRatePerMinute))
	}
	if c.MaxBankConnections < 0 {
		errors = append(errors, fmt.Sprintf("invalid max bank connections %d: must be 0 (unlimited) or more", c.MaxBankConnections))
	}
	if c.ConsentDays < 1 {
		errors = append(errors, fmt.Sprintf("invalid consent days %d: must be at least 1", c.ConsentDays))
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errors = append(errors, "AUTH_JWT_SECRET must be at least 32 bytes")
	}

	if c.AllocationCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid allocation cache TTL %v: must not be negative", c.AllocationCacheTTL))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateServer runs Validate plus the checks only the API server needs.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("configuration validation failed:\n- AUTH_JWT_SECRET is required")
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated list of codes, upper-casing each and dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
