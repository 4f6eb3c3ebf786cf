// Package service turns authenticated webhook requests into queue envelopes.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hookwire/hookwire/common/logging"
	"github.com/hookwire/hookwire/common/messaging"
	"github.com/hookwire/hookwire/common/models"
	"github.com/hookwire/hookwire/common/signature"
	"github.com/hookwire/hookwire/gateway/internal/metrics"
)

// Kind classifies the result of handling one webhook.
type Kind int

const (
	Accepted Kind = iota
	BadRequest
	Forbidden
	InternalError
	ServiceUnavailable
)

func (k Kind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case BadRequest:
		return "bad_request"
	case Forbidden:
		return "forbidden"
	case InternalError:
		return "internal_error"
	case ServiceUnavailable:
		return "service_unavailable"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// HTTPStatus maps the kind to its response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case Accepted:
		return http.StatusOK
	case BadRequest:
		return http.StatusBadRequest
	case Forbidden:
		return http.StatusForbidden
	case ServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Outcome is the result of Handle. MessageID is set only when Accepted.
type Outcome struct {
	Kind      Kind
	MessageID string
	Err       error
}

var (
	ErrMissingEventType = errors.New("missing event type header")
	ErrMissingSignature = errors.New("missing signature header")
	ErrNoBody           = errors.New("request body unavailable")
	ErrQueueUnavailable = errors.New("queue unavailable")
)

// Config holds the gateway settings.
type Config struct {
	Secret          string
	EventHeader     string
	SignatureHeader string
	EventIDHeader   string
	InstanceHeader  string
	PublishTimeout  time.Duration
}

// Gateway validates, wraps and publishes inbound webhooks.
type Gateway struct {
	cfg       Config
	publisher messaging.Publisher
	logger    *logging.Logger
	now       func() time.Time
}

// New creates a Gateway publishing through publisher.
func New(cfg Config, publisher messaging.Publisher, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Gateway{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger.With(logging.Component("gateway")),
		now:       time.Now,
	}
}

// Handle processes one webhook. rawBody must be the request body exactly as
// received; a nil body means it could not be captured. The envelope is
// published at most once and never retried here.
func (g *Gateway) Handle(ctx context.Context, headers http.Header, rawBody []byte) Outcome {
	eventType := headers.Get(g.cfg.EventHeader)
	sig := headers.Get(g.cfg.SignatureHeader)

	if eventType == "" {
		return g.reject(ctx, BadRequest, ErrMissingEventType)
	}
	if sig == "" {
		return g.reject(ctx, BadRequest, ErrMissingSignature)
	}
	if rawBody == nil {
		g.logger.ErrorContext(ctx, "Raw body not captured", logging.EventType(eventType))
		return g.reject(ctx, InternalError, ErrNoBody)
	}

	metrics.WebhookBytesTotal.Add(float64(len(rawBody)))

	if err := signature.Validate(rawBody, sig, g.cfg.Secret); err != nil {
		reason := signature.Reason(err)
		if reason == signature.ReasonInternal {
			g.logger.ErrorContext(ctx, "Signature validation failed", logging.Reason(reason), logging.Error(err))
			return g.reject(ctx, InternalError, err)
		}
		metrics.SignatureFailures.WithLabelValues(reason).Inc()
		g.logger.SecurityContext(ctx, "Webhook signature rejected",
			logging.Reason(reason),
			logging.EventType(eventType),
			logging.Instance(headers.Get(g.cfg.InstanceHeader)),
		)
		return g.reject(ctx, Forbidden, err)
	}

	receivedAt := g.now()
	event, err := models.NewWebhookEvent(models.EventHeaders{
		EventType: eventType,
		Signature: sig,
		EventID:   headers.Get(g.cfg.EventIDHeader),
		Instance:  headers.Get(g.cfg.InstanceHeader),
	}, rawBody, receivedAt)
	if err != nil {
		g.logger.ErrorContext(ctx, "Signed payload is not valid JSON", logging.EventType(eventType), logging.Error(err))
		return g.reject(ctx, InternalError, err)
	}

	envelope := models.NewQueueEnvelope(event, receivedAt)
	data, err := envelope.Marshal()
	if err != nil {
		g.logger.ErrorContext(ctx, "Failed to encode envelope", logging.Error(err))
		return g.reject(ctx, InternalError, err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, g.cfg.PublishTimeout)
	defer cancel()

	start := time.Now()
	err = g.publisher.PublishMsg(pubCtx, &messaging.Message{
		ID:   envelope.ID,
		Data: data,
		Metadata: map[string]string{
			messaging.HeaderEventType: eventType,
		},
		Timestamp: envelope.EnqueuedAt,
	})
	metrics.PublishDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.PublishErrors.Inc()
		g.logger.ErrorContext(ctx, "Failed to publish envelope",
			logging.MessageID(envelope.ID),
			logging.EventType(eventType),
			logging.Error(err),
		)
		return g.reject(ctx, ServiceUnavailable, fmt.Errorf("%w: %w", ErrQueueUnavailable, err))
	}

	metrics.WebhooksTotal.WithLabelValues(Accepted.String()).Inc()
	g.logger.InfoContext(ctx, "Webhook queued",
		logging.MessageID(envelope.ID),
		logging.EventType(eventType),
		logging.EventID(event.Headers.EventID),
	)
	return Outcome{Kind: Accepted, MessageID: envelope.ID}
}

func (g *Gateway) reject(ctx context.Context, kind Kind, err error) Outcome {
	metrics.WebhooksTotal.WithLabelValues(kind.String()).Inc()
	if kind == BadRequest {
		g.logger.DebugContext(ctx, "Webhook rejected", logging.Error(err))
	}
	return Outcome{Kind: kind, Err: err}
}
