// Package scheduler drives forwarding cycles on a recurring timer and
// guarantees that at most one cycle runs at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/STRATINT/tweetrelay/internal/models"
	"github.com/STRATINT/tweetrelay/internal/relay"
	"github.com/STRATINT/tweetrelay/internal/storage"
)

var (
	// ErrInvalidInterval is returned when an interval is not positive.
	ErrInvalidInterval = errors.New("interval must be a positive number of minutes")

	// ErrCycleInFlight is returned when a trigger arrives while a cycle runs.
	ErrCycleInFlight = errors.New("a forwarding cycle is already running")

	// ErrClosed is returned when a cycle is requested after Close.
	ErrClosed = errors.New("scheduler is closed")
)

// Runner executes one forwarding cycle.
type Runner interface {
	RunCycle(ctx context.Context) relay.CycleResult
}

// State is the scheduler lifecycle state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Status is a snapshot of the scheduler.
type Status struct {
	State           State      `json:"state"`
	IntervalMinutes int        `json:"intervalMinutes,omitempty"`
	Busy            bool       `json:"busy"`
	NextRun         *time.Time `json:"nextRun,omitempty"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTimeUnit sets the length of one interval step. Intervals are minutes
// unless overridden.
func WithTimeUnit(unit time.Duration) Option {
	return func(s *Scheduler) {
		s.unit = unit
	}
}

// Scheduler owns the recurring timer. Each interval change fully replaces
// the cron entry.
type Scheduler struct {
	runner  Runner
	configs storage.ConfigStore
	logs    storage.LogSink
	stats   storage.StatsStore
	logger  *slog.Logger
	unit    time.Duration

	cron    *cron.Cron
	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	state    State
	interval int
	entryID  cron.EntryID
	closed   bool

	inFlight atomic.Bool
	running  sync.WaitGroup
}

// New creates a stopped scheduler.
func New(
	runner Runner,
	configs storage.ConfigStore,
	logs storage.LogSink,
	stats storage.StatsStore,
	logger *slog.Logger,
	opts ...Option,
) *Scheduler {
	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		runner:  runner,
		configs: configs,
		logs:    logs,
		stats:   stats,
		logger:  logger,
		unit:    time.Minute,
		baseCtx: baseCtx,
		cancel:  cancel,
		state:   StateStopped,
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{logger: logger}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))
	s.cron.Start()

	return s
}

// Start installs a timer firing every interval, replacing any existing one.
func (s *Scheduler) Start(interval int) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	s.entryID = s.cron.Schedule(cron.Every(time.Duration(interval)*s.unit), cron.FuncJob(s.fire))
	s.state = StateRunning
	s.interval = interval

	s.logger.Info("scheduler running", "interval_minutes", interval)
	return nil
}

// ReconfigureInterval replaces the timer with one using the new interval.
func (s *Scheduler) ReconfigureInterval(interval int) error {
	return s.Start(interval)
}

// Stop cancels the timer. Calling Stop on a stopped scheduler is a no-op.
// A cycle already in flight runs to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return
	}
	s.cron.Remove(s.entryID)
	s.entryID = 0
	s.state = StateStopped
	s.interval = 0

	s.logger.Info("scheduler stopped")
}

// TriggerNow runs one cycle immediately, regardless of state. It returns
// ErrCycleInFlight without running anything if a cycle is in progress.
func (s *Scheduler) TriggerNow(ctx context.Context) (relay.CycleResult, error) {
	return s.execute(ctx)
}

// Reset zeroes the counters. It does not touch the timer or the ledger.
func (s *Scheduler) Reset(ctx context.Context) error {
	if _, err := s.stats.Reset(ctx); err != nil {
		return fmt.Errorf("reset stats: %w", err)
	}
	s.emit(ctx, models.LogKindInfo, "Service stats reset", "")
	return nil
}

// Initialize loads the configuration and starts the timer when the service
// is active.
func (s *Scheduler) Initialize(ctx context.Context) error {
	cfg, err := s.configs.Get(ctx)
	if err == nil && cfg.ServiceActive {
		err = s.Start(cfg.CheckInterval)
	}
	if err != nil {
		s.logger.Error("failed to initialize scheduler", "error", err)
		s.emit(ctx, models.LogKindError, "Failed to initialize scheduler", err.Error())
		return fmt.Errorf("initialize scheduler: %w", err)
	}

	if !cfg.ServiceActive {
		s.Stop()
		s.logger.Info("service paused, scheduler left stopped")
		return nil
	}

	s.emit(ctx, models.LogKindInfo, fmt.Sprintf("Scheduler initialized with %d minute interval", cfg.CheckInterval), "")
	return nil
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot including the next scheduled run.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		State:           s.state,
		IntervalMinutes: s.interval,
		Busy:            s.inFlight.Load(),
	}
	if s.entryID != 0 {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}

// Close stops the timer and waits for in-flight cycles, timer fired or
// manual, up to ctx. Later triggers fail with ErrClosed.
func (s *Scheduler) Close(ctx context.Context) error {
	s.Stop()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	defer s.cancel()

	done := make(chan struct{})
	go func() {
		<-s.cron.Stop().Done()
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) fire() {
	if _, err := s.execute(s.baseCtx); errors.Is(err, ErrCycleInFlight) {
		s.logger.Debug("skipping scheduled cycle, previous cycle still running")
	}
}

func (s *Scheduler) execute(ctx context.Context) (relay.CycleResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return relay.CycleResult{}, ErrClosed
	}
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	if !s.inFlight.CompareAndSwap(false, true) {
		return relay.CycleResult{}, ErrCycleInFlight
	}
	defer s.inFlight.Store(false)

	return s.runner.RunCycle(ctx), nil
}

func (s *Scheduler) emit(ctx context.Context, kind models.LogKind, message, detail string) {
	if _, err := s.logs.Append(ctx, kind, message, detail); err != nil {
		s.logger.Error("failed to append activity log", "message", message, "error", err)
	}
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
