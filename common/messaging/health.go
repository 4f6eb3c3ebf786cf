package messaging

import (
	"net/http"
	"time"
)

// Health status values reported by the services.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// ConnectionState reports whether a broker connection is usable.
type ConnectionState interface {
	IsConnected() bool
}

// HealthStatus is the body served by GET /health.
type HealthStatus struct {
	Status         string    `json:"status"`
	Service        string    `json:"service"`
	QueueConnected bool      `json:"queue_connected"`
	Timestamp      time.Time `json:"timestamp"`
}

// CheckHealth reports service health from the broker connection state and
// returns the HTTP status code to serve it with: 200 when connected, 503
// otherwise.
func CheckHealth(service string, state ConnectionState) (HealthStatus, int) {
	status := HealthStatus{
		Status:    StatusDegraded,
		Service:   service,
		Timestamp: time.Now().UTC(),
	}

	if state != nil && state.IsConnected() {
		status.Status = StatusHealthy
		status.QueueConnected = true
		return status, http.StatusOK
	}
	return status, http.StatusServiceUnavailable
}
