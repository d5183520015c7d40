package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	_ "modernc.org/sqlite"

	"github.com/STRATINT/tweetrelay/internal/models"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

const sqliteSchemaVersion = "1"

// SQLiteLedger is a single-file durable Ledger.
type SQLiteLedger struct {
	db *sql.DB
}

// OpenSQLiteLedger opens (creating if needed) the ledger database at path.
func OpenSQLiteLedger(path string) (*SQLiteLedger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of the picture.
	db.SetMaxOpenConns(1)

	if err := migrateSQLite(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteLedger{db: db}, nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, sqliteSchema); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply schema: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO metadata(key, value) VALUES('schema_version', ?) ON CONFLICT(key) DO NOTHING",
		sqliteSchemaVersion,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert schema version: %w", err)
	}

	return tx.Commit()
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *SQLiteLedger) Exists(ctx context.Context, postID string) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM processed_posts WHERE post_id = ?)", postID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check post %s: %w", postID, err)
	}
	return exists, nil
}

func (l *SQLiteLedger) Record(ctx context.Context, postID, text, url string) (models.ProcessedPost, error) {
	post := models.ProcessedPost{
		PostID:      postID,
		Text:        text,
		URL:         url,
		ProcessedAt: time.Now().UTC(),
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO processed_posts (post_id, text, url, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(post_id) DO NOTHING`,
		post.PostID, post.Text, post.URL, post.ProcessedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return models.ProcessedPost{}, fmt.Errorf("record post %s: %w", postID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return models.ProcessedPost{}, fmt.Errorf("record post %s: %w", postID, err)
	}
	if n == 0 {
		return models.ProcessedPost{}, fmt.Errorf("record %s: %w", postID, ErrAlreadyRecorded)
	}
	return post, nil
}

// Get returns the stored entry for postID or ErrNotFound.
func (l *SQLiteLedger) Get(ctx context.Context, postID string) (models.ProcessedPost, error) {
	var (
		post        models.ProcessedPost
		processedAt string
	)
	err := l.db.QueryRowContext(ctx,
		"SELECT post_id, text, url, processed_at FROM processed_posts WHERE post_id = ?", postID,
	).Scan(&post.PostID, &post.Text, &post.URL, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProcessedPost{}, ErrNotFound
	}
	if err != nil {
		return models.ProcessedPost{}, fmt.Errorf("get post %s: %w", postID, err)
	}

	post.ProcessedAt, err = time.Parse(time.RFC3339Nano, processedAt)
	if err != nil {
		return models.ProcessedPost{}, fmt.Errorf("parse processed_at: %w", err)
	}
	return post, nil
}

// ListRecent returns the most recently recorded posts, newest first.
func (l *SQLiteLedger) ListRecent(ctx context.Context, limit int) ([]models.ProcessedPost, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx,
		"SELECT post_id, text, url, processed_at FROM processed_posts ORDER BY rowid DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []models.ProcessedPost
	for rows.Next() {
		var (
			post        models.ProcessedPost
			processedAt string
		)
		if err := rows.Scan(&post.PostID, &post.Text, &post.URL, &processedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		if post.ProcessedAt, err = time.Parse(time.RFC3339Nano, processedAt); err != nil {
			return nil, fmt.Errorf("parse processed_at: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}
