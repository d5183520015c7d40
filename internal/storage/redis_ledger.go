package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/STRATINT/tweetrelay/internal/models"
)

// RedisConfig configures the Redis ledger connection.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisLedger stores one key per processed post. Keys carry no TTL.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// NewRedisLedger connects to Redis and verifies connectivity.
func NewRedisLedger(ctx context.Context, cfg RedisConfig) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisLedgerWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisLedgerWithClient wraps an existing client.
func NewRedisLedgerWithClient(client *redis.Client, prefix string) *RedisLedger {
	return &RedisLedger{client: client, prefix: prefix}
}

// Close closes the underlying Redis client.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func (l *RedisLedger) key(postID string) string {
	return l.prefix + postID
}

func (l *RedisLedger) Exists(ctx context.Context, postID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(postID)).Result()
	if err != nil {
		return false, fmt.Errorf("check post %s: %w", postID, err)
	}
	return n > 0, nil
}

// Record uses SET NX so concurrent writers cannot both succeed.
func (l *RedisLedger) Record(ctx context.Context, postID, text, url string) (models.ProcessedPost, error) {
	post := models.ProcessedPost{
		PostID:      postID,
		Text:        text,
		URL:         url,
		ProcessedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(post)
	if err != nil {
		return models.ProcessedPost{}, fmt.Errorf("marshal post %s: %w", postID, err)
	}

	ok, err := l.client.SetNX(ctx, l.key(postID), payload, 0).Result()
	if err != nil {
		return models.ProcessedPost{}, fmt.Errorf("record post %s: %w", postID, err)
	}
	if !ok {
		return models.ProcessedPost{}, fmt.Errorf("record %s: %w", postID, ErrAlreadyRecorded)
	}
	return post, nil
}
