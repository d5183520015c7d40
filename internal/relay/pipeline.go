// Package relay runs the forwarding cycle: fetch recent posts, skip the ones
// already in the ledger, render and send the rest, then record and count them.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/STRATINT/tweetrelay/internal/models"
	"github.com/STRATINT/tweetrelay/internal/storage"
)

// Source fetches the most recent posts of an account.
type Source interface {
	FetchRecent(ctx context.Context, account string, maxCount int) (models.FetchResult, error)
}

// Destination delivers messages. A non-nil error means nothing was delivered.
type Destination interface {
	SendText(ctx context.Context, destination, text string) error
	SendPhoto(ctx context.Context, destination, photoURL string) error
}

// Publisher announces forwarded posts to other systems.
type Publisher interface {
	PublishForwarded(ctx context.Context, post models.ProcessedPost) error
}

// Recorder observes cycle metrics.
type Recorder interface {
	ObserveCycle(outcome string, duration time.Duration)
	AddForwarded(n int)
	IncSendFailure(kind string)
}

// Outcome summarises how a cycle ended.
type Outcome string

const (
	OutcomeConfigMissing     Outcome = "config_missing"
	OutcomeInactive          Outcome = "inactive"
	OutcomeUnconfigured      Outcome = "unconfigured"
	OutcomeSourceUnavailable Outcome = "source_unavailable"
	OutcomeFailed            Outcome = "failed"
	OutcomeNoNewPosts        Outcome = "no_new_posts"
	OutcomeForwarded         Outcome = "forwarded"
)

// CycleResult is returned by RunCycle.
type CycleResult struct {
	Outcome   Outcome
	Forwarded int
}

// Activity log messages.
const (
	MsgConfigMissing    = "Failed to load configuration"
	MsgClientsMissing   = "API clients could not be initialized"
	MsgChecking         = "Checking for new tweets"
	MsgFetchFailed      = "Failed to fetch tweets from Twitter API"
	MsgForwardFailed    = "Failed to forward post"
	MsgPhotoFailed      = "Failed to forward image"
	MsgRecordFailed     = "Failed to record forwarded post"
	MsgForwarded        = "Tweet forwarded"
	MsgNoNewPosts       = "No new tweets found"
	MsgProcessingFailed = "Error processing tweets"
)

// PipelineConfig holds configuration for the forwarding pipeline.
type PipelineConfig struct {
	FetchCount      int
	CycleTimeout    time.Duration
	RetryPolicy     RetryPolicy
	PlatformBaseURL string
}

// DefaultPipelineConfig returns sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		FetchCount:      5,
		CycleTimeout:    2 * time.Minute,
		RetryPolicy:     DefaultRetryPolicy(),
		PlatformBaseURL: DefaultPlatformBaseURL,
	}
}

// Dependencies are the collaborators a Pipeline works with. Source and
// Destination may be nil when credentials are missing; cycles then report
// the clients as uninitialised. Publisher and Metrics are optional.
type Dependencies struct {
	Configs     storage.ConfigStore
	Logs        storage.LogSink
	Stats       storage.StatsStore
	Ledger      storage.Ledger
	Source      Source
	Destination Destination
	Publisher   Publisher
	Metrics     Recorder
}

// Pipeline runs forwarding cycles. It holds no per-cycle state, and callers
// must ensure cycles do not overlap.
type Pipeline struct {
	deps   Dependencies
	logger *slog.Logger
	config PipelineConfig
	now    func() time.Time
}

// NewPipeline creates a new forwarding pipeline.
func NewPipeline(deps Dependencies, logger *slog.Logger, config PipelineConfig) *Pipeline {
	if config.FetchCount <= 0 {
		config.FetchCount = 5
	}
	if deps.Metrics == nil {
		deps.Metrics = noopRecorder{}
	}

	return &Pipeline{
		deps:   deps,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// RunCycle executes one forwarding cycle. Every failure is reported through
// the activity log; nothing propagates to the caller, panics included.
func (p *Pipeline) RunCycle(ctx context.Context) (result CycleResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("forwarding cycle panicked", "panic", r, "stack", string(debug.Stack()))
			p.emit(context.WithoutCancel(ctx), models.LogKindError, MsgProcessingFailed, fmt.Sprint(r))
			result.Outcome = OutcomeFailed
		}
		p.deps.Metrics.ObserveCycle(string(result.Outcome), time.Since(start))
		p.logger.Debug("forwarding cycle finished",
			"outcome", result.Outcome,
			"forwarded", result.Forwarded,
			"duration", time.Since(start))
	}()

	if p.config.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.CycleTimeout)
		defer cancel()
	}

	cfg, err := p.deps.Configs.Get(ctx)
	if err != nil {
		detail := ""
		if !errors.Is(err, storage.ErrNotFound) {
			detail = err.Error()
		}
		p.logger.Error("failed to load relay configuration", "error", err)
		p.emit(ctx, models.LogKindError, MsgConfigMissing, detail)
		return CycleResult{Outcome: OutcomeConfigMissing}
	}

	if !cfg.ServiceActive {
		return CycleResult{Outcome: OutcomeInactive}
	}

	if p.deps.Source == nil || p.deps.Destination == nil {
		p.emit(ctx, models.LogKindError, MsgClientsMissing, "")
		return CycleResult{Outcome: OutcomeUnconfigured}
	}

	p.emit(ctx, models.LogKindInfo, MsgChecking, "")

	// lastCheck advances before the fetch so a failing source still moves
	// the next-check window forward.
	checkedAt := p.now()
	if _, err := p.deps.Configs.Update(ctx, models.RelayConfigUpdate{LastCheck: &checkedAt}); err != nil {
		p.logger.Error("failed to update last check", "error", err)
		p.emit(ctx, models.LogKindError, MsgProcessingFailed, err.Error())
		return CycleResult{Outcome: OutcomeFailed}
	}

	fetched, err := p.fetch(ctx, cfg.TwitterAccount)
	if err != nil {
		p.logger.Warn("failed to fetch posts", "account", cfg.TwitterAccount, "error", err)
		p.emit(ctx, models.LogKindError, MsgFetchFailed, err.Error())
		return CycleResult{Outcome: OutcomeSourceUnavailable}
	}

	forwarded, procErr := p.forward(ctx, cfg, fetched)
	result.Forwarded = forwarded

	if forwarded > 0 {
		// Delivered posts are counted even when the cycle deadline has passed.
		if _, err := p.deps.Stats.AddForwarded(context.WithoutCancel(ctx), int64(forwarded)); err != nil {
			p.logger.Error("failed to update forwarded count", "count", forwarded, "error", err)
			procErr = errors.Join(procErr, fmt.Errorf("update stats: %w", err))
		}
		p.deps.Metrics.AddForwarded(forwarded)
	}

	if procErr != nil {
		p.logger.Error("forwarding cycle failed", "forwarded", forwarded, "error", procErr)
		p.emit(ctx, models.LogKindError, MsgProcessingFailed, procErr.Error())
		result.Outcome = OutcomeFailed
		return result
	}

	if forwarded == 0 {
		p.emit(ctx, models.LogKindInfo, MsgNoNewPosts, "")
		result.Outcome = OutcomeNoNewPosts
		return result
	}

	result.Outcome = OutcomeForwarded
	return result
}

func (p *Pipeline) fetch(ctx context.Context, account string) (models.FetchResult, error) {
	var result models.FetchResult
	err := Retry(ctx, p.config.RetryPolicy, func(ctx context.Context) error {
		var err error
		result, err = p.deps.Source.FetchRecent(ctx, account, p.config.FetchCount)
		return err
	}, func(attempt int, wait time.Duration, err error) {
		p.logger.Warn("transient fetch failure, retrying",
			"account", account,
			"attempt", attempt,
			"wait", wait,
			"error", err)
	})
	if err != nil {
		return models.FetchResult{}, &SourceUnavailableError{Account: account, Err: err}
	}
	return result, nil
}

// forward sends every unseen post in the order returned and reports how many
// were delivered. A returned error aborts the remaining posts.
func (p *Pipeline) forward(ctx context.Context, cfg *models.RelayConfig, fetched models.FetchResult) (int, error) {
	forwarded := 0

	for _, post := range fetched.Posts {
		if err := ctx.Err(); err != nil {
			return forwarded, fmt.Errorf("cycle interrupted: %w", err)
		}

		seen, err := p.deps.Ledger.Exists(ctx, post.ID)
		if err != nil {
			return forwarded, fmt.Errorf("check ledger for %s: %w", post.ID, err)
		}
		if seen {
			continue
		}

		url := Permalink(p.config.PlatformBaseURL, cfg.TwitterAccount, post.ID)
		message := Render(cfg.MessageTemplate, post.Text, url)

		if err := p.deps.Destination.SendText(ctx, cfg.TelegramChannel, message); err != nil {
			// Not recorded, so the next cycle tries again.
			p.deps.Metrics.IncSendFailure("text")
			p.logger.Warn("failed to forward post", "post_id", post.ID, "error", err)
			p.emit(ctx, models.LogKindWarning, MsgForwardFailed, fmt.Sprintf("%s: %v", post.ID, err))
			continue
		}

		if cfg.IncludeImages {
			p.sendMedia(ctx, cfg.TelegramChannel, post, fetched)
		}

		// The message is out; the commit must not be lost to the cycle deadline
		// or the next cycle would send it again.
		commitCtx := context.WithoutCancel(ctx)
		record, err := p.deps.Ledger.Record(commitCtx, post.ID, post.Text, url)
		if err != nil {
			p.logger.Error("failed to record forwarded post", "post_id", post.ID, "error", err)
			p.emit(ctx, models.LogKindError, MsgRecordFailed, fmt.Sprintf("%s: %v", post.ID, err))
			record = models.ProcessedPost{PostID: post.ID, Text: post.Text, URL: url, ProcessedAt: p.now()}
		}

		forwarded++
		p.emit(ctx, models.LogKindSuccess, MsgForwarded, post.Text)
		p.publish(commitCtx, record)
	}

	return forwarded, nil
}

// sendMedia is best effort: failures never undo the text message.
func (p *Pipeline) sendMedia(ctx context.Context, destination string, post models.FetchedPost, fetched models.FetchResult) {
	for _, item := range fetched.MediaFor(post) {
		photoURL := item.PhotoURL()
		if photoURL == "" {
			continue
		}
		if err := p.deps.Destination.SendPhoto(ctx, destination, photoURL); err != nil {
			p.deps.Metrics.IncSendFailure("photo")
			p.logger.Warn("failed to forward image", "post_id", post.ID, "media_key", item.MediaKey, "error", err)
			p.emit(ctx, models.LogKindWarning, MsgPhotoFailed, fmt.Sprintf("%s: %v", post.ID, err))
		}
	}
}

func (p *Pipeline) publish(ctx context.Context, post models.ProcessedPost) {
	if p.deps.Publisher == nil {
		return
	}
	if err := p.deps.Publisher.PublishForwarded(ctx, post); err != nil {
		p.logger.Warn("failed to publish forwarded post", "post_id", post.PostID, "error", err)
	}
}

// emit appends to the activity log. A failing sink is logged and ignored.
func (p *Pipeline) emit(ctx context.Context, kind models.LogKind, message, detail string) {
	if _, err := p.deps.Logs.Append(context.WithoutCancel(ctx), kind, message, detail); err != nil {
		p.logger.Error("failed to append activity log", "kind", kind, "message", message, "error", err)
	}
}

type noopRecorder struct{}

func (noopRecorder) ObserveCycle(string, time.Duration) {}
func (noopRecorder) AddForwarded(int)                   {}
func (noopRecorder) IncSendFailure(string)              {}
