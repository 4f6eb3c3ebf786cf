package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Delivery metrics
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwire_worker_deliveries_total",
			Help: "Total number of resolved deliveries, by resolution",
		},
		[]string{"resolution"},
	)

	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookwire_worker_processing_duration_seconds",
			Help:    "Duration of event processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"success"},
	)

	ProcessingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwire_worker_processing_errors_total",
			Help: "Total number of failed processing attempts, by kind",
		},
		[]string{"kind"},
	)

	RetryDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hookwire_worker_retry_delay_seconds",
			Help:    "Backoff delay applied to retried deliveries",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	// Broker metrics
	ConsumersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookwire_worker_consumers_connected",
			Help: "Number of consumer instances with a live broker connection",
		},
	)
)
