package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Database DatabaseConfig
	Ledger   LedgerConfig
	Twitter  TwitterConfig
	Telegram TelegramConfig
	NATS     NATSConfig
	Relay    RelayConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// StaticDir holds a built dashboard served for non-API paths. Empty
	// disables static serving.
	StaticDir string
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig configures the optional PostgreSQL backing store.
// An empty URL keeps every store in memory. Without DATABASE_URL the URL is
// built from INSTANCE_CONNECTION_NAME, DB_USER, DB_PASSWORD and DB_NAME.
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
}

// LedgerConfig selects where processed post ids are remembered.
type LedgerConfig struct {
	Backend        string
	SQLitePath     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
}

// TwitterConfig holds source API settings.
type TwitterConfig struct {
	BearerToken     string
	APIBaseURL      string
	PlatformBaseURL string
}

// TelegramConfig holds destination API settings.
type TelegramConfig struct {
	BotToken    string
	APIEndpoint string
}

// NATSConfig enables forwarded-post notifications when URL is set.
type NATSConfig struct {
	URL     string
	Subject string
}

// RelayConfig tunes the forwarding cycle.
type RelayConfig struct {
	FetchCount   int
	CycleTimeout time.Duration
	FetchRetries int
}

// Ledger backends.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerSQLite   = "sqlite"
	LedgerRedis    = "redis"
)

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 2 * time.Minute
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultMaxConnections     = 10
	defaultMaxIdleConnections = 2

	defaultSQLitePath     = "data/ledger.db"
	defaultRedisAddr      = "localhost:6379"
	defaultRedisKeyPrefix = "tweetrelay:post:"

	defaultTwitterAPIBaseURL = "https://api.twitter.com"
	defaultPlatformBaseURL   = "https://twitter.com"
	defaultTelegramEndpoint  = "https://api.telegram.org/bot%s/%s"

	defaultNATSSubject = "tweetrelay.post.forwarded"

	defaultFetchCount   = 5
	defaultCycleTimeout = 2 * time.Minute
	defaultFetchRetries = 2
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided or invalid.
func Load() (Config, error) {
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
			StaticDir:       os.Getenv("STATIC_DIR"),
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			URL:                os.Getenv("DATABASE_URL"),
			MaxConnections:     defaultMaxConnections,
			MaxIdleConnections: defaultMaxIdleConnections,
		},
		Ledger: LedgerConfig{
			Backend:        os.Getenv("LEDGER_BACKEND"),
			SQLitePath:     getEnv("SQLITE_PATH", defaultSQLitePath),
			RedisAddr:      getEnv("REDIS_ADDR", defaultRedisAddr),
			RedisPassword:  os.Getenv("REDIS_PASS"),
			RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
		},
		Twitter: TwitterConfig{
			BearerToken:     os.Getenv("TWITTER_BEARER_TOKEN"),
			APIBaseURL:      getEnv("TWITTER_API_BASE_URL", defaultTwitterAPIBaseURL),
			PlatformBaseURL: getEnv("PLATFORM_BASE_URL", defaultPlatformBaseURL),
		},
		Telegram: TelegramConfig{
			BotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
			APIEndpoint: getEnv("TELEGRAM_API_ENDPOINT", defaultTelegramEndpoint),
		},
		NATS: NATSConfig{
			URL:     os.Getenv("NATS_URL"),
			Subject: getEnv("NATS_SUBJECT", defaultNATSSubject),
		},
		Relay: RelayConfig{
			FetchCount:   defaultFetchCount,
			CycleTimeout: defaultCycleTimeout,
			FetchRetries: defaultFetchRetries,
		},
	}

	if v := os.Getenv("SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ReadTimeout = d
	}

	if v := os.Getenv("SERVER_WRITE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	if cfg.Database.URL == "" {
		if instance := os.Getenv("INSTANCE_CONNECTION_NAME"); instance != "" {
			url, err := cloudSQLURL(instance, os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), os.Getenv("DB_NAME"))
			if err != nil {
				return Config{}, fmt.Errorf("invalid Cloud SQL settings: %w", err)
			}
			cfg.Database.URL = url
		}
	}

	if v := os.Getenv("DB_MAX_CONNECTIONS"); v != "" {
		n, err := parsePositive(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DB_MAX_CONNECTIONS: %w", err)
		}
		cfg.Database.MaxConnections = n
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid REDIS_DB: must be a non-negative integer")
		}
		cfg.Ledger.RedisDB = n
	}

	backend, err := resolveLedgerBackend(cfg.Ledger.Backend, cfg.Database.URL)
	if err != nil {
		return Config{}, err
	}
	cfg.Ledger.Backend = backend

	if v := os.Getenv("RELAY_FETCH_COUNT"); v != "" {
		n, err := parsePositive(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RELAY_FETCH_COUNT: %w", err)
		}
		cfg.Relay.FetchCount = n
	}

	if v := os.Getenv("RELAY_CYCLE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil || d == 0 {
			return Config{}, fmt.Errorf("invalid RELAY_CYCLE_TIMEOUT_SECONDS: must be a positive integer")
		}
		cfg.Relay.CycleTimeout = d
	}

	if v := os.Getenv("RELAY_FETCH_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid RELAY_FETCH_RETRIES: must be a non-negative integer")
		}
		cfg.Relay.FetchRetries = n
	}

	return cfg, nil
}

// resolveLedgerBackend defaults to postgres when a database is configured and
// to memory otherwise.
func resolveLedgerBackend(raw, databaseURL string) (string, error) {
	switch raw {
	case "":
		if databaseURL != "" {
			return LedgerPostgres, nil
		}
		return LedgerMemory, nil
	case LedgerMemory, LedgerSQLite, LedgerRedis:
		return raw, nil
	case LedgerPostgres:
		if databaseURL == "" {
			return "", fmt.Errorf("invalid LEDGER_BACKEND: postgres requires DATABASE_URL")
		}
		return raw, nil
	default:
		return "", fmt.Errorf("invalid LEDGER_BACKEND: must be one of memory, postgres, sqlite, redis")
	}
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositive(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
