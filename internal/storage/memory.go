package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/STRATINT/tweetrelay/internal/models"
)

// MemoryConfigStore implements ConfigStore in memory, seeded with defaults.
type MemoryConfigStore struct {
	mu     sync.RWMutex
	config *models.RelayConfig
	now    func() time.Time
}

// NewMemoryConfigStore creates a config store holding the default configuration.
func NewMemoryConfigStore() *MemoryConfigStore {
	cfg := models.DefaultRelayConfig(time.Now())
	return &MemoryConfigStore{config: &cfg, now: time.Now}
}

// NewEmptyMemoryConfigStore creates a config store with no configuration.
func NewEmptyMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{now: time.Now}
}

// Get returns a copy of the configuration.
func (s *MemoryConfigStore) Get(ctx context.Context) (*models.RelayConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return nil, ErrNotFound
	}
	cfg := *s.config
	return &cfg, nil
}

// Update merges update into the stored configuration.
func (s *MemoryConfigStore) Update(ctx context.Context, update models.RelayConfigUpdate) (*models.RelayConfig, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config == nil {
		return nil, fmt.Errorf("update config: %w", ErrNotFound)
	}
	s.config.Apply(update, s.now())
	cfg := *s.config
	return &cfg, nil
}

// MemoryLogSink implements LogSink in memory.
type MemoryLogSink struct {
	mu     sync.RWMutex
	events []models.LogEvent
}

// NewMemoryLogSink creates an empty log sink.
func NewMemoryLogSink() *MemoryLogSink {
	return &MemoryLogSink{}
}

// Append stores a new event.
func (s *MemoryLogSink) Append(ctx context.Context, kind models.LogKind, message, detail string) (models.LogEvent, error) {
	event := models.LogEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		Message:   message,
		Detail:    detail,
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()

	return event, nil
}

// List returns events newest first. Appends are time ordered, so reverse
// insertion order is newest first.
func (s *MemoryLogSink) List(ctx context.Context, limit int) ([]models.LogEvent, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]models.LogEvent, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// Len returns the number of stored events.
func (s *MemoryLogSink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// MemoryStatsStore implements StatsStore in memory.
type MemoryStatsStore struct {
	mu    sync.Mutex
	stats models.Stats
	now   func() time.Time
}

// NewMemoryStatsStore creates zeroed stats stamped with the current time.
func NewMemoryStatsStore() *MemoryStatsStore {
	now := time.Now()
	return &MemoryStatsStore{
		stats: models.Stats{ServiceStartTime: now, LastReset: now},
		now:   time.Now,
	}
}

func (s *MemoryStatsStore) Get(ctx context.Context) (*models.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	return &stats, nil
}

func (s *MemoryStatsStore) Update(ctx context.Context, update models.StatsUpdate) (*models.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if update.TweetsForwarded != nil {
		if *update.TweetsForwarded < 0 {
			return nil, fmt.Errorf("tweets forwarded must not be negative")
		}
		s.stats.TweetsForwarded = *update.TweetsForwarded
	}
	stats := s.stats
	return &stats, nil
}

func (s *MemoryStatsStore) AddForwarded(ctx context.Context, n int64) (*models.Stats, error) {
	if n < 0 {
		return nil, fmt.Errorf("forwarded increment must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TweetsForwarded += n
	stats := s.stats
	return &stats, nil
}

func (s *MemoryStatsStore) Reset(ctx context.Context) (*models.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TweetsForwarded = 0
	s.stats.LastReset = s.now()
	stats := s.stats
	return &stats, nil
}

// MemoryLedger implements Ledger with a map keyed by post id.
type MemoryLedger struct {
	mu    sync.RWMutex
	posts map[string]models.ProcessedPost
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{posts: make(map[string]models.ProcessedPost)}
}

func (l *MemoryLedger) Exists(ctx context.Context, postID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.posts[postID]
	return ok, nil
}

func (l *MemoryLedger) Record(ctx context.Context, postID, text, url string) (models.ProcessedPost, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.posts[postID]; ok {
		return models.ProcessedPost{}, fmt.Errorf("record %s: %w", postID, ErrAlreadyRecorded)
	}
	post := models.ProcessedPost{
		PostID:      postID,
		Text:        text,
		URL:         url,
		ProcessedAt: time.Now(),
	}
	l.posts[postID] = post
	return post, nil
}

// Get returns the entry for postID.
func (l *MemoryLedger) Get(postID string) (models.ProcessedPost, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	post, ok := l.posts[postID]
	return post, ok
}

// Size returns the number of recorded posts.
func (l *MemoryLedger) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.posts)
}
