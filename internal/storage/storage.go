// Package storage defines the persistence contracts used by the relay and
// their in-memory, SQLite and Redis implementations.
package storage

import (
	"context"
	"errors"

	"github.com/STRATINT/tweetrelay/internal/models"
)

var (
	// ErrNotFound is returned when a singleton record has not been created.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRecorded is returned when a post id is recorded twice.
	ErrAlreadyRecorded = errors.New("post already recorded")
)

// DefaultLogLimit caps List calls that do not ask for a limit.
const DefaultLogLimit = 100

// ConfigStore holds the single relay configuration.
type ConfigStore interface {
	// Get returns the current configuration or ErrNotFound.
	Get(ctx context.Context) (*models.RelayConfig, error)

	// Update merges the partial update and returns the result.
	Update(ctx context.Context, update models.RelayConfigUpdate) (*models.RelayConfig, error)
}

// LogSink is the append-only activity log.
type LogSink interface {
	// Append stores a new event stamped with the current time.
	Append(ctx context.Context, kind models.LogKind, message, detail string) (models.LogEvent, error)

	// List returns up to limit events, newest first. A limit <= 0 means DefaultLogLimit.
	List(ctx context.Context, limit int) ([]models.LogEvent, error)
}

// StatsStore holds the relay counters.
type StatsStore interface {
	Get(ctx context.Context) (*models.Stats, error)
	Update(ctx context.Context, update models.StatsUpdate) (*models.Stats, error)

	// AddForwarded atomically adds n to the forwarded counter.
	AddForwarded(ctx context.Context, n int64) (*models.Stats, error)

	// Reset zeroes the forwarded counter and stamps LastReset.
	Reset(ctx context.Context) (*models.Stats, error)
}

// Ledger remembers which posts have already been relayed. Entries are never
// updated or removed.
type Ledger interface {
	Exists(ctx context.Context, postID string) (bool, error)

	// Record stores a new entry. Recording an id twice returns ErrAlreadyRecorded.
	Record(ctx context.Context, postID, text, url string) (models.ProcessedPost, error)
}

// RecentLister is implemented by durable ledgers that can list their newest
// entries.
type RecentLister interface {
	ListRecent(ctx context.Context, limit int) ([]models.ProcessedPost, error)
}
