package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/STRATINT/tweetrelay/internal/models"
	"github.com/STRATINT/tweetrelay/internal/storage"
)

// LedgerRepository records processed posts in PostgreSQL.
type LedgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository creates a new ledger repository.
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Exists checks if a post has already been relayed.
func (r *LedgerRepository) Exists(ctx context.Context, postID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM processed_posts WHERE post_id = $1
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, postID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check post %s: %w", postID, err)
	}
	return exists, nil
}

// Record inserts a processed post. The primary key makes a second insert a
// no-op, which is reported as ErrAlreadyRecorded.
func (r *LedgerRepository) Record(ctx context.Context, postID, text, url string) (models.ProcessedPost, error) {
	query := `
		INSERT INTO processed_posts (post_id, text, url, processed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (post_id) DO NOTHING
		RETURNING processed_at
	`

	post := models.ProcessedPost{PostID: postID, Text: text, URL: url}
	err := r.db.QueryRowContext(ctx, query, postID, text, url).Scan(&post.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProcessedPost{}, fmt.Errorf("record %s: %w", postID, storage.ErrAlreadyRecorded)
	}
	if err != nil {
		return models.ProcessedPost{}, fmt.Errorf("record post %s: %w", postID, err)
	}
	return post, nil
}

// ListRecent returns the most recently processed posts, newest first.
func (r *LedgerRepository) ListRecent(ctx context.Context, limit int) ([]models.ProcessedPost, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT post_id, text, url, processed_at
		FROM processed_posts
		ORDER BY processed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []models.ProcessedPost
	for rows.Next() {
		var post models.ProcessedPost
		if err := rows.Scan(&post.PostID, &post.Text, &post.URL, &post.ProcessedAt); err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}
