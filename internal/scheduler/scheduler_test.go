package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/STRATINT/tweetrelay/internal/models"
	"github.com/STRATINT/tweetrelay/internal/relay"
	"github.com/STRATINT/tweetrelay/internal/storage"
)

// countingRunner records how many cycles ran and the peak concurrency.
type countingRunner struct {
	calls    atomic.Int32
	active   atomic.Int32
	peak     atomic.Int32
	started  chan struct{}
	release  chan struct{}
	blocking bool
}

func newCountingRunner(blocking bool) *countingRunner {
	return &countingRunner{
		started:  make(chan struct{}, 100),
		release:  make(chan struct{}),
		blocking: blocking,
	}
}

func (r *countingRunner) RunCycle(ctx context.Context) relay.CycleResult {
	r.calls.Add(1)
	n := r.active.Add(1)
	defer r.active.Add(-1)

	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	r.started <- struct{}{}
	if r.blocking {
		<-r.release
	}
	return relay.CycleResult{Outcome: relay.OutcomeNoNewPosts}
}

type testDeps struct {
	configs *storage.MemoryConfigStore
	logs    *storage.MemoryLogSink
	stats   *storage.MemoryStatsStore
}

func newTestScheduler(t *testing.T, runner Runner, opts ...Option) (*Scheduler, testDeps) {
	t.Helper()

	deps := testDeps{
		configs: storage.NewMemoryConfigStore(),
		logs:    storage.NewMemoryLogSink(),
		stats:   storage.NewMemoryStatsStore(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(runner, deps.configs, deps.logs, deps.stats, logger, opts...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Close(ctx)
	})

	return s, deps
}

func TestStartRejectsInvalidInterval(t *testing.T) {
	s, _ := newTestScheduler(t, newCountingRunner(false))

	for _, interval := range []int{0, -5} {
		if err := s.Start(interval); !errors.Is(err, ErrInvalidInterval) {
			t.Errorf("Start(%d): expected ErrInvalidInterval, got %v", interval, err)
		}
	}
	if s.State() != StateStopped {
		t.Errorf("expected scheduler to remain stopped, got %s", s.State())
	}
}

func TestStateTransitions(t *testing.T) {
	s, _ := newTestScheduler(t, newCountingRunner(false))

	if s.State() != StateStopped {
		t.Fatalf("expected initial state stopped, got %s", s.State())
	}

	if err := s.Start(15); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	status := s.Status()
	if status.State != StateRunning || status.IntervalMinutes != 15 {
		t.Errorf("unexpected status after Start: %+v", status)
	}
	if status.NextRun == nil {
		t.Error("expected next run to be scheduled")
	}

	if err := s.ReconfigureInterval(5); err != nil {
		t.Fatalf("ReconfigureInterval returned error: %v", err)
	}
	if got := s.Status().IntervalMinutes; got != 5 {
		t.Errorf("expected interval 5, got %d", got)
	}
	if entries := len(s.cron.Entries()); entries != 1 {
		t.Errorf("expected exactly one timer after reconfigure, got %d", entries)
	}

	s.Stop()
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
	if entries := len(s.cron.Entries()); entries != 0 {
		t.Errorf("expected no timers after stop, got %d", entries)
	}

	// idempotent
	s.Stop()
	if s.State() != StateStopped {
		t.Errorf("expected stopped after second Stop, got %s", s.State())
	}
}

func TestTriggerNowSingleFlight(t *testing.T) {
	runner := newCountingRunner(true)
	s, _ := newTestScheduler(t, runner)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := s.TriggerNow(context.Background()); err != nil {
			t.Errorf("first TriggerNow returned error: %v", err)
		}
	}()

	<-runner.started

	var rejected atomic.Int32
	var callers sync.WaitGroup
	for i := 0; i < 10; i++ {
		callers.Add(1)
		go func() {
			defer callers.Done()
			if _, err := s.TriggerNow(context.Background()); errors.Is(err, ErrCycleInFlight) {
				rejected.Add(1)
			}
		}()
	}
	callers.Wait()

	if !s.Status().Busy {
		t.Error("expected scheduler to report busy")
	}

	close(runner.release)
	wg.Wait()

	if got := rejected.Load(); got != 10 {
		t.Errorf("expected 10 rejected triggers, got %d", got)
	}
	if got := runner.calls.Load(); got != 1 {
		t.Errorf("expected 1 cycle, got %d", got)
	}
	if got := runner.peak.Load(); got > 1 {
		t.Errorf("concurrent cycles exceeded 1: %d", got)
	}

	// The slot is free again once the cycle returns.
	if _, err := s.TriggerNow(context.Background()); err != nil {
		t.Errorf("expected trigger after completion to run, got %v", err)
	}
}

func TestCloseWaitsForManualCycle(t *testing.T) {
	runner := newCountingRunner(true)
	s, _ := newTestScheduler(t, runner)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		if _, err := s.TriggerNow(context.Background()); err != nil {
			t.Errorf("TriggerNow returned error: %v", err)
		}
	}()
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := s.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected Close to wait for the running cycle, got %v", err)
	}

	if _, err := s.TriggerNow(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}

	close(runner.release)
	<-finished

	if err := s.Close(context.Background()); err != nil {
		t.Errorf("expected Close to return once the cycle finished, got %v", err)
	}
}

func TestTimerFiresCycles(t *testing.T) {
	runner := newCountingRunner(false)
	s, _ := newTestScheduler(t, runner, WithTimeUnit(time.Second))

	if err := s.Start(1); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	select {
	case <-runner.started:
	case <-time.After(3 * time.Second):
		t.Fatal("expected timer to fire a cycle")
	}

	s.Stop()
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
}

func TestTimerSkipsWhileCycleInFlight(t *testing.T) {
	runner := newCountingRunner(true)
	s, _ := newTestScheduler(t, runner, WithTimeUnit(time.Second))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.TriggerNow(context.Background())
	}()
	<-runner.started

	if err := s.Start(1); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	time.Sleep(2500 * time.Millisecond)

	if got := runner.calls.Load(); got != 1 {
		t.Errorf("expected timer firings to be dropped while busy, got %d cycles", got)
	}

	s.Stop()
	close(runner.release)
	<-done

	if got := runner.peak.Load(); got > 1 {
		t.Errorf("concurrent cycles exceeded 1: %d", got)
	}
}

func TestInitialize(t *testing.T) {
	t.Run("active service starts timer", func(t *testing.T) {
		s, deps := newTestScheduler(t, newCountingRunner(false))

		if err := s.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize returned error: %v", err)
		}
		status := s.Status()
		if status.State != StateRunning || status.IntervalMinutes != models.DefaultCheckInterval {
			t.Errorf("unexpected status: %+v", status)
		}

		events, _ := deps.logs.List(context.Background(), 0)
		if len(events) != 1 || events[0].Message != "Scheduler initialized with 15 minute interval" {
			t.Errorf("unexpected events: %+v", events)
		}
	})

	t.Run("paused service stays stopped", func(t *testing.T) {
		s, deps := newTestScheduler(t, newCountingRunner(false))
		inactive := false
		deps.configs.Update(context.Background(), models.RelayConfigUpdate{ServiceActive: &inactive})

		if err := s.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize returned error: %v", err)
		}
		if s.State() != StateStopped {
			t.Errorf("expected stopped, got %s", s.State())
		}
	})

	t.Run("missing configuration", func(t *testing.T) {
		logs := storage.NewMemoryLogSink()
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		s := New(newCountingRunner(false), storage.NewEmptyMemoryConfigStore(), logs, storage.NewMemoryStatsStore(), logger)
		defer s.Close(context.Background())

		if err := s.Initialize(context.Background()); err == nil {
			t.Fatal("expected error for missing configuration")
		}
		events, _ := logs.List(context.Background(), 0)
		if len(events) != 1 || events[0].Kind != models.LogKindError || events[0].Message != "Failed to initialize scheduler" {
			t.Errorf("unexpected events: %+v", events)
		}
		if s.State() != StateStopped {
			t.Errorf("expected stopped, got %s", s.State())
		}
	})
}

func TestReset(t *testing.T) {
	s, deps := newTestScheduler(t, newCountingRunner(false))
	ctx := context.Background()

	if err := s.Start(10); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	deps.stats.AddForwarded(ctx, 4)

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}

	stats, _ := deps.stats.Get(ctx)
	if stats.TweetsForwarded != 0 {
		t.Errorf("expected counter reset, got %d", stats.TweetsForwarded)
	}
	if s.State() != StateRunning {
		t.Errorf("reset must not change state, got %s", s.State())
	}

	events, _ := deps.logs.List(ctx, 0)
	if len(events) != 1 || events[0].Kind != models.LogKindInfo || events[0].Message != "Service stats reset" {
		t.Errorf("unexpected events: %+v", events)
	}
}
