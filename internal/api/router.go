package api

import "net/http"

// SetupRoutes configures all API routes
func SetupRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("/api/config", h.HandleConfig)
	mux.HandleFunc("/api/stats", h.GetStats)
	mux.HandleFunc("/api/logs", h.ListLogs)
	mux.HandleFunc("/api/check-now", h.CheckNow)
	mux.HandleFunc("/api/reset", h.Reset)
	mux.HandleFunc("/api/stop", h.Stop)
	mux.HandleFunc("/api/test-telegram", h.TestTelegram)
	mux.HandleFunc("/healthz", h.Healthz)
}
