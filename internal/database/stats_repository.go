package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/STRATINT/tweetrelay/internal/models"
	"github.com/STRATINT/tweetrelay/internal/storage"
)

// StatsRepository handles the relay counters row.
type StatsRepository struct {
	db *sql.DB
}

// NewStatsRepository creates a new stats repository.
func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

const statsColumns = `tweets_forwarded, service_start_time, last_reset`

func scanStats(row *sql.Row) (*models.Stats, error) {
	var stats models.Stats
	err := row.Scan(&stats.TweetsForwarded, &stats.ServiceStartTime, &stats.LastReset)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Get retrieves the counters.
func (r *StatsRepository) Get(ctx context.Context) (*models.Stats, error) {
	stats, err := scanStats(r.db.QueryRowContext(ctx, `SELECT `+statsColumns+` FROM relay_stats WHERE id = 1`))
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return stats, nil
}

// Update overwrites the fields set in update.
func (r *StatsRepository) Update(ctx context.Context, update models.StatsUpdate) (*models.Stats, error) {
	if update.TweetsForwarded == nil {
		return r.Get(ctx)
	}

	stats, err := scanStats(r.db.QueryRowContext(ctx, `
		UPDATE relay_stats SET tweets_forwarded = $1 WHERE id = 1
		RETURNING `+statsColumns,
		*update.TweetsForwarded,
	))
	if err != nil {
		return nil, fmt.Errorf("update stats: %w", err)
	}
	return stats, nil
}

// AddForwarded increments the counter in a single statement.
func (r *StatsRepository) AddForwarded(ctx context.Context, n int64) (*models.Stats, error) {
	if n < 0 {
		return nil, fmt.Errorf("forwarded increment must not be negative")
	}

	stats, err := scanStats(r.db.QueryRowContext(ctx, `
		UPDATE relay_stats SET tweets_forwarded = tweets_forwarded + $1 WHERE id = 1
		RETURNING `+statsColumns,
		n,
	))
	if err != nil {
		return nil, fmt.Errorf("add forwarded: %w", err)
	}
	return stats, nil
}

// Reset zeroes the counter and stamps last_reset.
func (r *StatsRepository) Reset(ctx context.Context) (*models.Stats, error) {
	stats, err := scanStats(r.db.QueryRowContext(ctx, `
		UPDATE relay_stats SET tweets_forwarded = 0, last_reset = NOW() WHERE id = 1
		RETURNING `+statsColumns,
	))
	if err != nil {
		return nil, fmt.Errorf("reset stats: %w", err)
	}
	return stats, nil
}
