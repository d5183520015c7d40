package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/STRATINT/tweetrelay/internal/models"
	"github.com/STRATINT/tweetrelay/internal/storage"
)

// ActivityLogRepository handles activity log storage and retrieval.
type ActivityLogRepository struct {
	db *sql.DB
}

// NewActivityLogRepository creates a new activity log repository.
func NewActivityLogRepository(db *sql.DB) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

// Append stores a new activity log entry.
func (r *ActivityLogRepository) Append(ctx context.Context, kind models.LogKind, message, detail string) (models.LogEvent, error) {
	event := models.LogEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		Message:   message,
		Detail:    detail,
		Timestamp: time.Now(),
	}

	var details sql.NullString
	if detail != "" {
		details = sql.NullString{String: detail, Valid: true}
	}

	query := `
		INSERT INTO activity_logs (id, timestamp, kind, message, details)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		event.Kind,
		event.Message,
		details,
	)
	if err != nil {
		return models.LogEvent{}, fmt.Errorf("append activity log: %w", err)
	}

	return event, nil
}

// List retrieves the most recent activity logs, newest first.
func (r *ActivityLogRepository) List(ctx context.Context, limit int) ([]models.LogEvent, error) {
	if limit <= 0 {
		limit = storage.DefaultLogLimit
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, timestamp, kind, message, details
		FROM activity_logs
		ORDER BY timestamp DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []models.LogEvent{}
	for rows.Next() {
		var (
			event   models.LogEvent
			details sql.NullString
		)

		err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&event.Kind,
			&event.Message,
			&details,
		)
		if err != nil {
			return nil, err
		}
		event.Detail = details.String

		logs = append(logs, event)
	}

	return logs, rows.Err()
}

// DeleteOlderThan deletes activity logs older than the specified duration.
func (r *ActivityLogRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	query := `DELETE FROM activity_logs WHERE timestamp < $1`
	cutoff := time.Now().Add(-age)

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
