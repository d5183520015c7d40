package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/STRATINT/tweetrelay/internal/config"
	"github.com/STRATINT/tweetrelay/internal/database"
	"github.com/STRATINT/tweetrelay/internal/logging"
	"github.com/STRATINT/tweetrelay/internal/metrics"
	"github.com/STRATINT/tweetrelay/internal/models"
	"github.com/STRATINT/tweetrelay/internal/notify"
	"github.com/STRATINT/tweetrelay/internal/relay"
	"github.com/STRATINT/tweetrelay/internal/scheduler"
	"github.com/STRATINT/tweetrelay/internal/social"
	"github.com/STRATINT/tweetrelay/internal/storage"
)

// app holds the wired relay: stores, clients, pipeline and scheduler.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	db      *sql.DB
	configs storage.ConfigStore
	logs    storage.LogSink
	stats   storage.StatsStore
	ledger  storage.Ledger

	telegram *social.TelegramClient
	metrics  *metrics.Collector

	pipeline  *relay.Pipeline
	scheduler *scheduler.Scheduler

	closers []func() error
}

// loadEnv reads .env when present. A missing file is not an error.
func loadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// newApp loads configuration and wires every collaborator. The caller must
// call close.
func newApp(ctx context.Context) (*app, error) {
	if err := loadEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	if err := a.openStores(ctx); err != nil {
		return err
	}
	if err := a.openLedger(ctx); err != nil {
		return err
	}

	deps := relay.Dependencies{
		Configs: a.configs,
		Logs:    a.logs,
		Stats:   a.stats,
		Ledger:  a.ledger,
	}

	// Interfaces stay nil unless a credential is present so the pipeline can
	// report missing clients.
	if a.cfg.Twitter.BearerToken != "" {
		deps.Source = social.NewTwitterClient(a.cfg.Twitter.BearerToken, a.cfg.Twitter.APIBaseURL, a.logger)
	} else {
		a.logger.Warn("TWITTER_BEARER_TOKEN not set, cycles will report missing clients")
	}
	if a.cfg.Telegram.BotToken != "" {
		a.telegram = social.NewTelegramClient(a.cfg.Telegram.BotToken, a.cfg.Telegram.APIEndpoint, a.logger)
		deps.Destination = a.telegram
	} else {
		a.logger.Warn("TELEGRAM_BOT_TOKEN not set, cycles will report missing clients")
	}

	if a.cfg.NATS.URL != "" {
		publisher, err := notify.NewNATSPublisher(a.cfg.NATS.URL, a.cfg.NATS.Subject, a.logger)
		if err != nil {
			// Notifications are optional; the relay runs without them.
			a.logger.Warn("nats unavailable, forwarded posts will not be announced", "error", err)
		} else {
			deps.Publisher = publisher
			a.closers = append(a.closers, func() error {
				publisher.Close()
				return nil
			})
		}
	}

	collector, err := metrics.NewCollector()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	a.metrics = collector
	deps.Metrics = collector

	pipelineConfig := relay.DefaultPipelineConfig()
	pipelineConfig.FetchCount = a.cfg.Relay.FetchCount
	pipelineConfig.CycleTimeout = a.cfg.Relay.CycleTimeout
	pipelineConfig.RetryPolicy.MaxRetries = a.cfg.Relay.FetchRetries
	pipelineConfig.PlatformBaseURL = a.cfg.Twitter.PlatformBaseURL

	a.pipeline = relay.NewPipeline(deps, a.logger, pipelineConfig)
	a.scheduler = scheduler.New(a.pipeline, a.configs, a.logs, a.stats, a.logger)
	a.closers = append(a.closers, func() error {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.scheduler.Close(closeCtx)
	})

	return nil
}

// openStores selects Postgres when DATABASE_URL is set and memory otherwise.
func (a *app) openStores(ctx context.Context) error {
	if a.cfg.Database.URL == "" {
		a.logger.Info("DATABASE_URL not set, using in-memory stores")
		a.configs = storage.NewMemoryConfigStore()
		a.logs = storage.NewMemoryLogSink()
		a.stats = storage.NewMemoryStatsStore()
		return nil
	}

	dbConfig := database.DefaultConfig()
	dbConfig.URL = a.cfg.Database.URL
	dbConfig.MaxConnections = a.cfg.Database.MaxConnections
	dbConfig.MaxIdleConnections = a.cfg.Database.MaxIdleConnections

	a.logger.Info("connecting to database", "target", database.RedactURL(a.cfg.Database.URL))
	db, err := database.Connect(ctx, dbConfig)
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	if err := database.RunMigrations(ctx, db, a.logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if err := database.Seed(ctx, db, models.DefaultRelayConfig(time.Now())); err != nil {
		return err
	}

	a.configs = database.NewConfigRepository(db)
	a.logs = database.NewActivityLogRepository(db)
	a.stats = database.NewStatsRepository(db)
	return nil
}

func (a *app) openLedger(ctx context.Context) error {
	switch a.cfg.Ledger.Backend {
	case config.LedgerPostgres:
		if a.db == nil {
			return fmt.Errorf("postgres ledger requires DATABASE_URL")
		}
		a.ledger = database.NewLedgerRepository(a.db)
	case config.LedgerSQLite:
		ledger, err := storage.OpenSQLiteLedger(a.cfg.Ledger.SQLitePath)
		if err != nil {
			return err
		}
		a.ledger = ledger
		a.closers = append(a.closers, ledger.Close)
	case config.LedgerRedis:
		ledger, err := storage.NewRedisLedger(ctx, storage.RedisConfig{
			Addr:      a.cfg.Ledger.RedisAddr,
			Password:  a.cfg.Ledger.RedisPassword,
			DB:        a.cfg.Ledger.RedisDB,
			KeyPrefix: a.cfg.Ledger.RedisKeyPrefix,
		})
		if err != nil {
			return err
		}
		a.ledger = ledger
		a.closers = append(a.closers, ledger.Close)
	default:
		a.ledger = storage.NewMemoryLedger()
	}

	a.logger.Info("ledger ready", "backend", a.cfg.Ledger.Backend)
	return nil
}

// healthCheck pings the database when one is configured.
func (a *app) healthCheck(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return database.HealthCheck(ctx, a.db)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("failed to release resource", "error", err)
		}
	}
	a.closers = nil
}
