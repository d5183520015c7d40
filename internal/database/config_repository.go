package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/STRATINT/tweetrelay/internal/models"
	"github.com/STRATINT/tweetrelay/internal/storage"
)

// ConfigRepository handles relay configuration storage.
type ConfigRepository struct {
	db *sql.DB
}

// NewConfigRepository creates a new config repository.
func NewConfigRepository(db *sql.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

const selectConfig = `
	SELECT
		id,
		twitter_account,
		check_interval,
		telegram_channel,
		message_template,
		include_images,
		service_active,
		last_check,
		created_at,
		updated_at
	FROM relay_config
	ORDER BY id DESC
	LIMIT 1
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*models.RelayConfig, error) {
	var (
		cfg       models.RelayConfig
		lastCheck sql.NullTime
	)
	err := row.Scan(
		&cfg.ID,
		&cfg.TwitterAccount,
		&cfg.CheckInterval,
		&cfg.TelegramChannel,
		&cfg.MessageTemplate,
		&cfg.IncludeImages,
		&cfg.ServiceActive,
		&lastCheck,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastCheck.Valid {
		cfg.LastCheck = &lastCheck.Time
	}
	return &cfg, nil
}

// Get retrieves the current relay configuration.
func (r *ConfigRepository) Get(ctx context.Context) (*models.RelayConfig, error) {
	cfg, err := scanConfig(r.db.QueryRowContext(ctx, selectConfig))
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	return cfg, nil
}

// Update merges the partial update into the stored row inside a transaction.
func (r *ConfigRepository) Update(ctx context.Context, update models.RelayConfigUpdate) (*models.RelayConfig, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin config update: %w", err)
	}
	defer tx.Rollback()

	cfg, err := scanConfig(tx.QueryRowContext(ctx, selectConfig+" FOR UPDATE"))
	if err != nil {
		return nil, fmt.Errorf("load config for update: %w", err)
	}

	cfg.Apply(update, time.Now())

	var lastCheck sql.NullTime
	if cfg.LastCheck != nil {
		lastCheck = sql.NullTime{Time: *cfg.LastCheck, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE relay_config
		SET
			twitter_account = $1,
			check_interval = $2,
			telegram_channel = $3,
			message_template = $4,
			include_images = $5,
			service_active = $6,
			last_check = $7,
			updated_at = $8
		WHERE id = $9
	`,
		cfg.TwitterAccount,
		cfg.CheckInterval,
		cfg.TelegramChannel,
		cfg.MessageTemplate,
		cfg.IncludeImages,
		cfg.ServiceActive,
		lastCheck,
		cfg.UpdatedAt,
		cfg.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update config: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit config update: %w", err)
	}
	return cfg, nil
}
