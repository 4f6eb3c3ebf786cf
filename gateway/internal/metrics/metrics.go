package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook intake metrics
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwire_gateway_webhooks_total",
			Help: "Total number of webhooks received, by outcome",
		},
		[]string{"outcome"},
	)

	WebhookBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hookwire_gateway_webhook_bytes_total",
			Help: "Total bytes of webhook bodies received",
		},
	)

	SignatureFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwire_gateway_signature_failures_total",
			Help: "Total number of rejected webhook signatures, by reason",
		},
		[]string{"reason"},
	)

	// Broker metrics
	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hookwire_gateway_publish_duration_seconds",
			Help:    "Duration of broker publishes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hookwire_gateway_publish_errors_total",
			Help: "Total number of failed broker publishes",
		},
	)

	BrokerConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookwire_gateway_broker_connected",
			Help: "1 when the broker connection is up, 0 otherwise",
		},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hookwire_gateway_rate_limit_hits_total",
			Help: "Total number of rate limited webhooks",
		},
	)
)
