package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/STRATINT/tweetrelay/internal/models"
	"github.com/STRATINT/tweetrelay/internal/storage"
)

type fakeSource struct {
	mu      sync.Mutex
	calls   int
	fetchFn func(call int) (models.FetchResult, error)
}

func (f *fakeSource) FetchRecent(ctx context.Context, account string, maxCount int) (models.FetchResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fetchFn(call)
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func staticSource(result models.FetchResult) *fakeSource {
	return &fakeSource{fetchFn: func(int) (models.FetchResult, error) { return result, nil }}
}

type fakeDestination struct {
	mu       sync.Mutex
	texts    []string
	photos   []string
	textErr  error
	photoErr error
}

func (f *fakeDestination) SendText(ctx context.Context, destination, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.textErr
}

func (f *fakeDestination) SendPhoto(ctx context.Context, destination, photoURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, photoURL)
	return f.photoErr
}

func (f *fakeDestination) setTextErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textErr = err
}

type fakePublisher struct {
	posts []models.ProcessedPost
}

func (f *fakePublisher) PublishForwarded(ctx context.Context, post models.ProcessedPost) error {
	f.posts = append(f.posts, post)
	return nil
}

type fakeRecorder struct {
	outcomes  []string
	forwarded int
	failures  map[string]int
}

func (f *fakeRecorder) ObserveCycle(outcome string, d time.Duration) {
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeRecorder) AddForwarded(n int) { f.forwarded += n }

func (f *fakeRecorder) IncSendFailure(kind string) {
	if f.failures == nil {
		f.failures = map[string]int{}
	}
	f.failures[kind]++
}

type failingLedger struct {
	*storage.MemoryLedger
}

func (l failingLedger) Record(ctx context.Context, postID, text, url string) (models.ProcessedPost, error) {
	return models.ProcessedPost{}, errors.New("disk full")
}

type testEnv struct {
	pipeline *Pipeline
	configs  *storage.MemoryConfigStore
	logs     *storage.MemoryLogSink
	stats    *storage.MemoryStatsStore
	ledger   *storage.MemoryLedger
	dest     *fakeDestination
	recorder *fakeRecorder
}

func newTestEnv(t *testing.T, source Source, update models.RelayConfigUpdate) *testEnv {
	t.Helper()

	env := &testEnv{
		configs:  storage.NewMemoryConfigStore(),
		logs:     storage.NewMemoryLogSink(),
		stats:    storage.NewMemoryStatsStore(),
		ledger:   storage.NewMemoryLedger(),
		dest:     &fakeDestination{},
		recorder: &fakeRecorder{},
	}

	channel := "@relay"
	if update.TelegramChannel == nil {
		update.TelegramChannel = &channel
	}
	if _, err := env.configs.Update(context.Background(), update); err != nil {
		t.Fatalf("failed to seed config: %v", err)
	}

	env.pipeline = NewPipeline(Dependencies{
		Configs:     env.configs,
		Logs:        env.logs,
		Stats:       env.stats,
		Ledger:      env.ledger,
		Source:      source,
		Destination: env.dest,
		Metrics:     env.recorder,
	}, discardLogger(), testPipelineConfig())

	return env
}

func testPipelineConfig() PipelineConfig {
	return PipelineConfig{
		FetchCount:   5,
		CycleTimeout: 5 * time.Second,
		RetryPolicy: RetryPolicy{
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
		PlatformBaseURL: "https://twitter.com",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func boolPtr(b bool) *bool { return &b }

func (e *testEnv) events(t *testing.T) []models.LogEvent {
	t.Helper()
	events, err := e.logs.List(context.Background(), 1000)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	// oldest first reads better in assertions
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events
}

func (e *testEnv) forwardedCount(t *testing.T) int64 {
	t.Helper()
	stats, err := e.stats.Get(context.Background())
	if err != nil {
		t.Fatalf("stats Get returned error: %v", err)
	}
	return stats.TweetsForwarded
}

func countEvents(events []models.LogEvent, kind models.LogKind, message string) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind && e.Message == message {
			n++
		}
	}
	return n
}

func TestRunCycle_ForwardsNewPost(t *testing.T) {
	source := staticSource(models.FetchResult{
		Posts: []models.FetchedPost{{ID: "1", Text: "hi"}},
	})
	template := "{tweet_text} -> {tweet_url}"
	env := newTestEnv(t, source, models.RelayConfigUpdate{
		IncludeImages:   boolPtr(false),
		MessageTemplate: &template,
	})

	result := env.pipeline.RunCycle(context.Background())

	if result.Outcome != OutcomeForwarded || result.Forwarded != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	post, ok := env.ledger.Get("1")
	if !ok {
		t.Fatal("expected post 1 in ledger")
	}
	if post.URL != "https://twitter.com/unwomen/status/1" || post.Text != "hi" {
		t.Errorf("unexpected ledger entry: %+v", post)
	}

	if got := env.forwardedCount(t); got != 1 {
		t.Errorf("expected forwarded count 1, got %d", got)
	}

	if len(env.dest.texts) != 1 || env.dest.texts[0] != "hi -> https://twitter.com/unwomen/status/1" {
		t.Errorf("unexpected sent texts: %q", env.dest.texts)
	}

	events := env.events(t)
	if countEvents(events, models.LogKindSuccess, MsgForwarded) != 1 {
		t.Fatalf("expected exactly one success event, got %+v", events)
	}
	for _, e := range events {
		if e.Kind == models.LogKindSuccess && e.Detail != "hi" {
			t.Errorf("expected success detail %q, got %q", "hi", e.Detail)
		}
	}
	if events[0].Message != MsgChecking {
		t.Errorf("expected first event %q, got %q", MsgChecking, events[0].Message)
	}

	if env.recorder.forwarded != 1 || len(env.recorder.outcomes) != 1 || env.recorder.outcomes[0] != string(OutcomeForwarded) {
		t.Errorf("unexpected metrics: %+v", env.recorder)
	}
}

func TestRunCycle_IdempotentDedup(t *testing.T) {
	source := staticSource(models.FetchResult{
		Posts: []models.FetchedPost{
			{ID: "7", Text: "same"},
			{ID: "7", Text: "same"},
		},
	})
	env := newTestEnv(t, source, models.RelayConfigUpdate{})

	first := env.pipeline.RunCycle(context.Background())
	second := env.pipeline.RunCycle(context.Background())

	if first.Forwarded != 1 {
		t.Errorf("expected one forward in first cycle, got %d", first.Forwarded)
	}
	if second.Outcome != OutcomeNoNewPosts {
		t.Errorf("expected no new posts in second cycle, got %s", second.Outcome)
	}
	if len(env.dest.texts) != 1 {
		t.Errorf("expected exactly one send, got %d", len(env.dest.texts))
	}
	if env.ledger.Size() != 1 {
		t.Errorf("expected one ledger entry, got %d", env.ledger.Size())
	}
	if got := env.forwardedCount(t); got != 1 {
		t.Errorf("expected forwarded count 1, got %d", got)
	}
	if countEvents(env.events(t), models.LogKindInfo, MsgNoNewPosts) != 1 {
		t.Error("expected one no-new-posts event")
	}
}

func TestRunCycle_FailedSendIsRetried(t *testing.T) {
	source := staticSource(models.FetchResult{
		Posts: []models.FetchedPost{{ID: "P", Text: "retry me"}},
	})
	env := newTestEnv(t, source, models.RelayConfigUpdate{})
	env.dest.setTextErr(errors.New("chat not found"))

	first := env.pipeline.RunCycle(context.Background())

	if first.Forwarded != 0 || first.Outcome != OutcomeNoNewPosts {
		t.Errorf("unexpected first result: %+v", first)
	}
	if exists, _ := env.ledger.Exists(context.Background(), "P"); exists {
		t.Fatal("failed send must not be recorded")
	}
	if countEvents(env.events(t), models.LogKindWarning, MsgForwardFailed) != 1 {
		t.Error("expected a warning for the failed send")
	}
	if env.recorder.failures["text"] != 1 {
		t.Errorf("expected one text send failure metric, got %d", env.recorder.failures["text"])
	}

	env.dest.setTextErr(nil)
	second := env.pipeline.RunCycle(context.Background())

	if second.Forwarded != 1 {
		t.Errorf("expected retry to forward the post, got %+v", second)
	}
	if len(env.dest.texts) != 2 {
		t.Errorf("expected two send attempts, got %d", len(env.dest.texts))
	}
	if exists, _ := env.ledger.Exists(context.Background(), "P"); !exists {
		t.Error("expected post recorded after successful retry")
	}
}

func TestRunCycle_MediaFailureIsolation(t *testing.T) {
	source := staticSource(models.FetchResult{
		Posts: []models.FetchedPost{{ID: "9", Text: "pics", MediaKeys: []string{"m1", "m2"}}},
		Media: []models.MediaItem{
			{MediaKey: "m1", Type: "photo", URL: "https://img/1.jpg"},
			{MediaKey: "m2", Type: "photo", URL: "https://img/2.jpg"},
		},
	})
	env := newTestEnv(t, source, models.RelayConfigUpdate{IncludeImages: boolPtr(true)})
	env.dest.photoErr = errors.New("wrong file identifier")

	result := env.pipeline.RunCycle(context.Background())

	if result.Outcome != OutcomeForwarded || result.Forwarded != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(env.dest.photos) != 2 {
		t.Errorf("expected two photo attempts, got %d", len(env.dest.photos))
	}
	if exists, _ := env.ledger.Exists(context.Background(), "9"); !exists {
		t.Error("expected post recorded despite photo failures")
	}
	if got := env.forwardedCount(t); got != 1 {
		t.Errorf("expected forwarded count 1, got %d", got)
	}

	events := env.events(t)
	if countEvents(events, models.LogKindWarning, MsgPhotoFailed) != 2 {
		t.Errorf("expected two photo warnings, got %+v", events)
	}
	if countEvents(events, models.LogKindSuccess, MsgForwarded) != 1 {
		t.Error("expected the post to be reported as forwarded")
	}
}

func TestRunCycle_MediaResolution(t *testing.T) {
	source := staticSource(models.FetchResult{
		Posts: []models.FetchedPost{
			{ID: "1", Text: "mixed", MediaKeys: []string{"video", "missing", "photo", "bare"}},
		},
		Media: []models.MediaItem{
			{MediaKey: "photo", Type: "photo", URL: "https://img/photo.jpg"},
			{MediaKey: "video", Type: "video", PreviewImageURL: "https://img/preview.jpg"},
			{MediaKey: "bare", Type: "animated_gif"},
		},
	})

	t.Run("images enabled", func(t *testing.T) {
		env := newTestEnv(t, source, models.RelayConfigUpdate{IncludeImages: boolPtr(true)})
		env.pipeline.RunCycle(context.Background())

		expected := []string{"https://img/preview.jpg", "https://img/photo.jpg"}
		if len(env.dest.photos) != len(expected) {
			t.Fatalf("expected photos %q, got %q", expected, env.dest.photos)
		}
		for i := range expected {
			if env.dest.photos[i] != expected[i] {
				t.Errorf("photo %d: expected %q, got %q", i, expected[i], env.dest.photos[i])
			}
		}
	})

	t.Run("images disabled", func(t *testing.T) {
		env := newTestEnv(t, source, models.RelayConfigUpdate{IncludeImages: boolPtr(false)})
		result := env.pipeline.RunCycle(context.Background())

		if len(env.dest.photos) != 0 {
			t.Errorf("expected no photos, got %q", env.dest.photos)
		}
		if result.Forwarded != 1 {
			t.Errorf("expected post forwarded, got %+v", result)
		}
	})
}

func TestRunCycle_InactiveIsNoop(t *testing.T) {
	source := staticSource(models.FetchResult{
		Posts: []models.FetchedPost{{ID: "1", Text: "hi"}},
	})
	env := newTestEnv(t, source, models.RelayConfigUpdate{ServiceActive: boolPtr(false)})

	result := env.pipeline.RunCycle(context.Background())

	if result.Outcome != OutcomeInactive {
		t.Errorf("expected inactive outcome, got %s", result.Outcome)
	}
	if env.logs.Len() != 0 {
		t.Errorf("expected no log events, got %d", env.logs.Len())
	}
	if env.ledger.Size() != 0 {
		t.Errorf("expected no ledger writes, got %d", env.ledger.Size())
	}
	if source.Calls() != 0 {
		t.Errorf("expected no fetch, got %d", source.Calls())
	}
}

func TestRunCycle_ConfigMissing(t *testing.T) {
	logs := storage.NewMemoryLogSink()
	ledger := storage.NewMemoryLedger()
	source := staticSource(models.FetchResult{})

	p := NewPipeline(Dependencies{
		Configs:     storage.NewEmptyMemoryConfigStore(),
		Logs:        logs,
		Stats:       storage.NewMemoryStatsStore(),
		Ledger:      ledger,
		Source:      source,
		Destination: &fakeDestination{},
	}, discardLogger(), testPipelineConfig())

	result := p.RunCycle(context.Background())

	if result.Outcome != OutcomeConfigMissing {
		t.Errorf("expected config missing, got %s", result.Outcome)
	}
	events, _ := logs.List(context.Background(), 0)
	if len(events) != 1 || events[0].Kind != models.LogKindError || events[0].Message != MsgConfigMissing {
		t.Errorf("expected one config error event, got %+v", events)
	}
	if source.Calls() != 0 {
		t.Error("expected no fetch without configuration")
	}
}

func TestRunCycle_ClientsMissing(t *testing.T) {
	logs := storage.NewMemoryLogSink()

	p := NewPipeline(Dependencies{
		Configs: storage.NewMemoryConfigStore(),
		Logs:    logs,
		Stats:   storage.NewMemoryStatsStore(),
		Ledger:  storage.NewMemoryLedger(),
	}, discardLogger(), testPipelineConfig())

	result := p.RunCycle(context.Background())

	if result.Outcome != OutcomeUnconfigured {
		t.Errorf("expected unconfigured, got %s", result.Outcome)
	}
	events, _ := logs.List(context.Background(), 0)
	if len(events) != 1 || events[0].Message != MsgClientsMissing {
		t.Errorf("expected clients missing event, got %+v", events)
	}
}

func TestRunCycle_SourceUnavailable(t *testing.T) {
	source := &fakeSource{fetchFn: func(int) (models.FetchResult, error) {
		return models.FetchResult{}, errors.New("401 unauthorized")
	}}
	env := newTestEnv(t, source, models.RelayConfigUpdate{})

	before, _ := env.configs.Get(context.Background())
	checkedAt := before.LastCheck.Add(time.Hour)
	env.pipeline.now = func() time.Time { return checkedAt }

	result := env.pipeline.RunCycle(context.Background())

	if result.Outcome != OutcomeSourceUnavailable {
		t.Fatalf("expected source unavailable, got %s", result.Outcome)
	}
	if source.Calls() != 1 {
		t.Errorf("non-retryable errors must not be retried, got %d calls", source.Calls())
	}

	after, _ := env.configs.Get(context.Background())
	if after.LastCheck == nil || !after.LastCheck.Equal(checkedAt) {
		t.Errorf("expected lastCheck advanced to %v, got %v", checkedAt, after.LastCheck)
	}

	events := env.events(t)
	if countEvents(events, models.LogKindError, MsgFetchFailed) != 1 {
		t.Errorf("expected fetch failure event, got %+v", events)
	}
	if countEvents(events, models.LogKindInfo, MsgNoNewPosts) != 0 {
		t.Error("cycle must abort after fetch failure")
	}
}

func TestRunCycle_RetriesTransientFetchFailures(t *testing.T) {
	source := &fakeSource{fetchFn: func(call int) (models.FetchResult, error) {
		if call == 1 {
			return models.FetchResult{}, NewRetryableError(errors.New("503 service unavailable"))
		}
		return models.FetchResult{Posts: []models.FetchedPost{{ID: "1", Text: "hi"}}}, nil
	}}
	env := newTestEnv(t, source, models.RelayConfigUpdate{})

	result := env.pipeline.RunCycle(context.Background())

	if result.Outcome != OutcomeForwarded {
		t.Fatalf("expected forwarded after retry, got %s", result.Outcome)
	}
	if source.Calls() != 2 {
		t.Errorf("expected 2 fetch attempts, got %d", source.Calls())
	}
}

func TestRunCycle_RecoversPanic(t *testing.T) {
	source := &fakeSource{fetchFn: func(int) (models.FetchResult, error) {
		panic("boom")
	}}
	env := newTestEnv(t, source, models.RelayConfigUpdate{})

	result := env.pipeline.RunCycle(context.Background())

	if result.Outcome != OutcomeFailed {
		t.Errorf("expected failed outcome, got %s", result.Outcome)
	}
	events := env.events(t)
	last := events[len(events)-1]
	if last.Kind != models.LogKindError || last.Message != MsgProcessingFailed || last.Detail != "boom" {
		t.Errorf("unexpected last event: %+v", last)
	}
}

func TestRunCycle_LedgerRecordFailureStillCounts(t *testing.T) {
	source := staticSource(models.FetchResult{
		Posts: []models.FetchedPost{{ID: "1", Text: "hi"}},
	})
	env := newTestEnv(t, source, models.RelayConfigUpdate{})
	env.pipeline.deps.Ledger = failingLedger{storage.NewMemoryLedger()}

	result := env.pipeline.RunCycle(context.Background())

	if result.Forwarded != 1 {
		t.Errorf("delivered post must be counted, got %+v", result)
	}
	if got := env.forwardedCount(t); got != 1 {
		t.Errorf("expected forwarded count 1, got %d", got)
	}
	if countEvents(env.events(t), models.LogKindError, MsgRecordFailed) != 1 {
		t.Error("expected record failure event")
	}
}

func TestRunCycle_PublishesForwardedPosts(t *testing.T) {
	source := staticSource(models.FetchResult{
		Posts: []models.FetchedPost{{ID: "2", Text: "b"}, {ID: "1", Text: "a"}},
	})
	env := newTestEnv(t, source, models.RelayConfigUpdate{})
	publisher := &fakePublisher{}
	env.pipeline.deps.Publisher = publisher

	env.pipeline.RunCycle(context.Background())

	if len(publisher.posts) != 2 {
		t.Fatalf("expected 2 published posts, got %d", len(publisher.posts))
	}
	if publisher.posts[0].PostID != "2" || publisher.posts[1].PostID != "1" {
		t.Errorf("expected posts in fetch order, got %+v", publisher.posts)
	}
}

// slowDestination reports success only after the cycle deadline has passed.
type slowDestination struct {
	fakeDestination
	delay time.Duration
}

func (d *slowDestination) SendText(ctx context.Context, destination, text string) error {
	time.Sleep(d.delay)
	return d.fakeDestination.SendText(ctx, destination, text)
}

// deadlineLedger and deadlineStats refuse writes on a finished context the
// way the database backed stores do.
type deadlineLedger struct {
	*storage.MemoryLedger
}

func (l deadlineLedger) Record(ctx context.Context, postID, text, url string) (models.ProcessedPost, error) {
	if err := ctx.Err(); err != nil {
		return models.ProcessedPost{}, err
	}
	return l.MemoryLedger.Record(ctx, postID, text, url)
}

type deadlineStats struct {
	*storage.MemoryStatsStore
}

func (s deadlineStats) AddForwarded(ctx context.Context, n int64) (*models.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStatsStore.AddForwarded(ctx, n)
}

func TestRunCycle_CommitsDeliveryAfterDeadline(t *testing.T) {
	source := staticSource(models.FetchResult{
		Posts: []models.FetchedPost{{ID: "1", Text: "late"}},
	})
	env := newTestEnv(t, source, models.RelayConfigUpdate{IncludeImages: boolPtr(false)})
	dest := &slowDestination{delay: 150 * time.Millisecond}

	cfg := testPipelineConfig()
	cfg.CycleTimeout = 50 * time.Millisecond
	pipeline := NewPipeline(Dependencies{
		Configs:     env.configs,
		Logs:        env.logs,
		Stats:       deadlineStats{env.stats},
		Ledger:      deadlineLedger{env.ledger},
		Source:      source,
		Destination: dest,
		Metrics:     env.recorder,
	}, discardLogger(), cfg)

	first := pipeline.RunCycle(context.Background())
	second := pipeline.RunCycle(context.Background())

	if first.Outcome != OutcomeForwarded || first.Forwarded != 1 {
		t.Errorf("unexpected first result: %+v", first)
	}
	if second.Outcome != OutcomeNoNewPosts {
		t.Errorf("expected no new posts in second cycle, got %+v", second)
	}
	if len(dest.texts) != 1 {
		t.Fatalf("expected post delivered once, got %d sends", len(dest.texts))
	}
	if exists, _ := env.ledger.Exists(context.Background(), "1"); !exists {
		t.Error("expected late delivery recorded in the ledger")
	}
	if got := env.forwardedCount(t); got != 1 {
		t.Errorf("expected forwarded count 1, got %d", got)
	}
	if n := countEvents(env.events(t), models.LogKindError, MsgRecordFailed); n != 0 {
		t.Errorf("expected no record failures, got %d", n)
	}
}
