package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hookwire/hookwire/common/middleware"
	"github.com/hookwire/hookwire/gateway/internal/handlers"
)

// NewRouter constructs a ServeMux with gateway routes registered.
func NewRouter(h *handlers.WebhookHandler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/webhook", h.HandleWebhook)
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(middleware.AccessLog(logger)(middleware.Recover(logger)(mux)))
}
