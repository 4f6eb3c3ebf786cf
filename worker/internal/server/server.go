// Package server exposes the worker's health and metrics endpoints.
package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hookwire/hookwire/common/httputil"
	"github.com/hookwire/hookwire/common/messaging"
	"github.com/hookwire/hookwire/common/middleware"
	"github.com/hookwire/hookwire/worker/internal/metrics"
)

// Pool reports the broker state of every consumer instance in the process.
// It is connected only while all of them are.
type Pool []messaging.ConnectionState

func (p Pool) IsConnected() bool {
	if len(p) == 0 {
		return false
	}
	for _, s := range p {
		if s == nil || !s.IsConnected() {
			return false
		}
	}
	return true
}

// Connected counts the instances with a live connection.
func (p Pool) Connected() int {
	n := 0
	for _, s := range p {
		if s != nil && s.IsConnected() {
			n++
		}
	}
	return n
}

// NewRouter constructs a ServeMux with the worker routes registered.
func NewRouter(pool Pool, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		metrics.ConsumersConnected.Set(float64(pool.Connected()))
		status, code := messaging.CheckHealth("worker", pool)
		httputil.WriteJSON(w, code, status)
	})

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(middleware.AccessLog(logger)(middleware.Recover(logger)(mux)))
}
