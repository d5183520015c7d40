package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/STRATINT/tweetrelay/internal/models"
	"github.com/STRATINT/tweetrelay/internal/relay"
	"github.com/STRATINT/tweetrelay/internal/scheduler"
	"github.com/STRATINT/tweetrelay/internal/storage"
)

const maskedSecret = "••••••••••••••••"

// Controller is the manual control surface of the scheduler.
type Controller interface {
	Initialize(ctx context.Context) error
	ReconfigureInterval(interval int) error
	Stop()
	TriggerNow(ctx context.Context) (relay.CycleResult, error)
	Reset(ctx context.Context) error
	Status() scheduler.Status
}

// TestSender sends the destination test message.
type TestSender interface {
	SendTest(ctx context.Context, destination string) error
}

// Secrets reports which credentials are configured. Values never leave the
// process.
type Secrets struct {
	TwitterBearerToken bool
	TelegramToken      bool
}

// Handler serves the relay control API.
type Handler struct {
	configs    storage.ConfigStore
	logs       storage.LogSink
	stats      storage.StatsStore
	controller Controller
	tester     TestSender
	secrets    Secrets
	health     func(ctx context.Context) error
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandler creates the API handler. tester may be nil when no bot token is
// configured.
func NewHandler(
	configs storage.ConfigStore,
	logs storage.LogSink,
	stats storage.StatsStore,
	controller Controller,
	tester TestSender,
	secrets Secrets,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		configs:    configs,
		logs:       logs,
		stats:      stats,
		controller: controller,
		tester:     tester,
		secrets:    secrets,
		logger:     logger,
		now:        time.Now,
	}
}

// SetHealthCheck installs an extra readiness probe used by /healthz.
func (h *Handler) SetHealthCheck(check func(ctx context.Context) error) {
	h.health = check
}

type configResponse struct {
	*models.RelayConfig
	TwitterBearerToken string `json:"twitterBearerToken"`
	TelegramToken      string `json:"telegramToken"`
}

func (h *Handler) safeConfig(cfg *models.RelayConfig) configResponse {
	resp := configResponse{RelayConfig: cfg}
	if h.secrets.TwitterBearerToken {
		resp.TwitterBearerToken = maskedSecret
	}
	if h.secrets.TelegramToken {
		resp.TelegramToken = maskedSecret
	}
	return resp
}

// HandleConfig handles GET and POST /api/config
func (h *Handler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getConfig(w, r)
	case http.MethodPost, http.MethodPatch:
		h.updateConfig(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.Get(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Configuration not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load configuration", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load configuration")
		return
	}

	writeJSON(w, http.StatusOK, h.safeConfig(cfg))
}

func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var update models.RelayConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// lastCheck is owned by the forwarding cycle.
	update.LastCheck = nil

	if err := update.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	cfg, err := h.configs.Update(ctx, update)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Configuration not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to update configuration", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update configuration")
		return
	}

	if update.CheckInterval != nil && cfg.ServiceActive {
		if err := h.controller.ReconfigureInterval(cfg.CheckInterval); err != nil {
			h.logger.Error("failed to reschedule", "interval", cfg.CheckInterval, "error", err)
		}
	}

	if update.ServiceActive != nil {
		if *update.ServiceActive {
			if err := h.controller.Initialize(ctx); err != nil {
				h.logger.Error("failed to restart scheduler", "error", err)
			}
		} else {
			h.controller.Stop()
		}
	}

	h.emit(ctx, models.LogKindInfo, "Configuration updated")

	writeJSON(w, http.StatusOK, h.safeConfig(cfg))
}

type statsResponse struct {
	models.Stats
	Uptime    int64            `json:"uptime"`
	NextCheck int64            `json:"nextCheck"`
	Scheduler scheduler.Status `json:"scheduler"`
}

// GetStats handles GET /api/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx := r.Context()
	stats, err := h.stats.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Stats not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load stats", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load stats")
		return
	}

	now := h.now()
	resp := statsResponse{
		Stats:     *stats,
		Uptime:    int64(stats.Uptime(now).Seconds()),
		Scheduler: h.controller.Status(),
	}

	// A stopped scheduler has no pending check.
	if resp.Scheduler.State == scheduler.StateStopped {
		resp.NextCheck = 0
	} else if cfg, err := h.configs.Get(ctx); err == nil {
		resp.NextCheck = int64(cfg.NextCheckIn(now).Seconds())
	} else if !errors.Is(err, storage.ErrNotFound) {
		h.logger.Warn("failed to load configuration for next check", "error", err)
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListLogs handles GET /api/logs
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := storage.DefaultLogLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = l
	}

	logs, err := h.logs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list activity logs", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve activity logs")
		return
	}

	writeJSON(w, http.StatusOK, logs)
}

// CheckNow handles POST /api/check-now
func (h *Handler) CheckNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// The cycle outlives a disconnecting client.
	result, err := h.controller.TriggerNow(context.WithoutCancel(r.Context()))
	if errors.Is(err, scheduler.ErrCycleInFlight) {
		writeError(w, http.StatusConflict, "A check is already in progress")
		return
	}
	if err != nil {
		h.logger.Error("manual check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Manual check failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Manual check completed",
		"outcome":   result.Outcome,
		"forwarded": result.Forwarded,
	})
}

// Reset handles POST /api/reset
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := h.controller.Reset(r.Context()); err != nil {
		h.logger.Error("failed to reset stats", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to reset service")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Service reset successfully"})
}

// Stop handles POST /api/stop
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	h.controller.Stop()
	h.emit(r.Context(), models.LogKindInfo, "Scheduler stopped")

	writeJSON(w, http.StatusOK, map[string]string{"message": "Scheduler stopped"})
}

// TestTelegram handles POST /api/test-telegram
func (h *Handler) TestTelegram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx := r.Context()
	cfg, err := h.configs.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Configuration not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load configuration", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load configuration")
		return
	}

	if h.tester == nil {
		writeError(w, http.StatusInternalServerError, "Telegram client could not be initialized")
		return
	}

	if err := h.tester.SendTest(ctx, cfg.TelegramChannel); err != nil {
		h.logger.Warn("test message failed", "destination", cfg.TelegramChannel, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to send test message")
		return
	}

	h.emit(ctx, models.LogKindInfo, "Test message sent to Telegram")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Test message sent successfully"})
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) emit(ctx context.Context, kind models.LogKind, message string) {
	if _, err := h.logs.Append(ctx, kind, message, ""); err != nil {
		h.logger.Error("failed to append activity log", "message", message, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
