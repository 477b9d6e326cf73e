package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port              string
	DBURL             string
	RedisURL          string
	LogLevel          string
	ReadTimeoutSecs   int
	WriteTimeoutSecs  int
	IdleTimeoutSecs   int
	DBMaxConns        int
	DBMinConns        int
	DBMaxIdleSecs     int
	DBMaxLifeSecs     int
	DBConnTimeoutSecs int
	DBStatementCache  int

	SessionTTLHours int
	AutosaveIdleMS  int

	AIAPIKey      string
	AIBaseURL     string
	AIModel       string
	AIMaxTokens   int
	AITimeoutSecs int
	AIRatePerMin  int

	BookSearchURL         string
	BookSearchAPIKey      string
	BookSearchTimeoutSecs int
}

// Load reads configuration from environment variables, applying defaults and validation.
func Load() (Config, error) {
	cfg := Config{
		Port:              getEnv("PORT", "8080"),
		DBURL:             os.Getenv("DB_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ReadTimeoutSecs:   getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs:  getEnvInt("SERVER_WRITE_TIMEOUT", 60),
		IdleTimeoutSecs:   getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		DBMaxConns:        getEnvInt("DB_MAX_CONNS", 20),
		DBMinConns:        getEnvInt("DB_MIN_CONNS", 2),
		DBMaxIdleSecs:     getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:     getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs: getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
		DBStatementCache:  getEnvInt("DB_STATEMENT_CACHE_CAPACITY", 256),

		SessionTTLHours: getEnvInt("SESSION_TTL_HOURS", 720),
		AutosaveIdleMS:  getEnvInt("AUTOSAVE_IDLE_MS", 1000),

		AIAPIKey:      os.Getenv("AI_API_KEY"),
		AIBaseURL:     getEnv("AI_BASE_URL", "https://api.anthropic.com"),
		AIModel:       getEnv("AI_MODEL", "claude-sonnet-4-20250514"),
		AIMaxTokens:   getEnvInt("AI_MAX_TOKENS", 1024),
		AITimeoutSecs: getEnvInt("AI_TIMEOUT_SECS", 30),
		AIRatePerMin:  getEnvInt("AI_RATE_PER_MIN", 30),

		BookSearchURL:         getEnv("BOOKSEARCH_URL", "https://www.googleapis.com/books/v1"),
		BookSearchAPIKey:      os.Getenv("BOOKSEARCH_API_KEY"),
		BookSearchTimeoutSecs: getEnvInt("BOOKSEARCH_TIMEOUT_SECS", 5),
	}

	if cfg.DBURL == "" {
		return Config{}, fmt.Errorf("DB_URL is required")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL is required")
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL %q is not a valid level", cfg.LogLevel)
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMaxConns > 0 && cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}
	if cfg.SessionTTLHours <= 0 {
		return Config{}, fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}
	if cfg.AutosaveIdleMS <= 0 {
		return Config{}, fmt.Errorf("AUTOSAVE_IDLE_MS must be positive")
	}
	if cfg.AIMaxTokens <= 0 {
		return Config{}, fmt.Errorf("AI_MAX_TOKENS must be positive")
	}
	if cfg.AITimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("AI_TIMEOUT_SECS must be positive")
	}
	if cfg.AIRatePerMin <= 0 {
		return Config{}, fmt.Errorf("AI_RATE_PER_MIN must be positive")
	}
	if cfg.BookSearchTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("BOOKSEARCH_TIMEOUT_SECS must be positive")
	}
	cfg.AIBaseURL = strings.TrimRight(cfg.AIBaseURL, "/")

	return cfg, nil
}

// AIEnabled reports whether an API key was configured.
func (c Config) AIEnabled() bool {
	return c.AIAPIKey != ""
}

// SessionTTL is the lifetime of an issued session token.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// AutosaveIdle is the quiet period before a draft is committed.
func (c Config) AutosaveIdle() time.Duration {
	return time.Duration(c.AutosaveIdleMS) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}
