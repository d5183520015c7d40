package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/STRATINT/tweetrelay/internal/models"
)

// Config holds database connection configuration.
type Config struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration

	// ConnectTimeout bounds how long Connect keeps pinging a database that
	// is still starting.
	ConnectTimeout time.Duration
}

// DefaultConfig returns pool settings sized for a single relay process.
func DefaultConfig() Config {
	return Config{
		MaxConnections:     10,
		MaxIdleConnections: 2,
		ConnMaxLifetime:    5 * time.Minute,
		ConnectTimeout:     30 * time.Second,
	}
}

const pingInterval = time.Second

// Connect opens the pool and pings until the database answers or
// ConnectTimeout elapses.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		err := db.PingContext(ctx)
		if err == nil {
			return db, nil
		}

		select {
		case <-ctx.Done():
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		case <-ticker.C:
		}
	}
}

// HealthCheck reports whether the database answers within five seconds.
func HealthCheck(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Seed creates the singleton config and stats rows when they are missing and
// stamps the service start time. Stored configuration and counters are kept.
func Seed(ctx context.Context, db *sql.DB, defaults models.RelayConfig) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO relay_config (
			twitter_account, check_interval, telegram_channel, message_template,
			include_images, service_active, last_check
		)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (SELECT 1 FROM relay_config)
	`,
		defaults.TwitterAccount,
		defaults.CheckInterval,
		defaults.TelegramChannel,
		defaults.MessageTemplate,
		defaults.IncludeImages,
		defaults.ServiceActive,
		defaults.LastCheck,
	)
	if err != nil {
		return fmt.Errorf("seed config: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO relay_stats (id, service_start_time) VALUES (1, NOW())
		ON CONFLICT (id) DO UPDATE SET service_start_time = EXCLUDED.service_start_time
	`)
	if err != nil {
		return fmt.Errorf("seed stats: %w", err)
	}

	return nil
}
