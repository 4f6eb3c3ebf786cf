package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/hookwire/hookwire/common/httputil"
	"github.com/hookwire/hookwire/common/logging"
	"github.com/hookwire/hookwire/common/messaging"
	"github.com/hookwire/hookwire/common/middleware"
	"github.com/hookwire/hookwire/gateway/internal/metrics"
	"github.com/hookwire/hookwire/gateway/internal/ratelimit"
	"github.com/hookwire/hookwire/gateway/internal/service"
)

// WebhookService is the part of the gateway the handler depends on.
type WebhookService interface {
	Handle(ctx context.Context, headers http.Header, rawBody []byte) service.Outcome
}

// QueuedResponse is the body of a 200 reply.
type QueuedResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// StatsRecorder counts accepted webhooks per Discourse instance.
type StatsRecorder interface {
	Record(source, eventType, clientIP string)
}

// Options configures a WebhookHandler.
type Options struct {
	MaxBodySize    int64
	EventHeader    string
	InstanceHeader string
	Limiter        ratelimit.RateLimiter
	Stats          StatsRecorder
	Broker         messaging.ConnectionState
	Logger         *logging.Logger
}

type WebhookHandler struct {
	service WebhookService
	opts    Options
	logger  *logging.Logger
}

func NewWebhookHandler(svc WebhookService, opts Options) *WebhookHandler {
	if opts.Limiter == nil {
		opts.Limiter = &ratelimit.NoOpRateLimiter{}
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 1 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		service: svc,
		opts:    opts,
		logger:  logger.With(logging.Component("webhook-handler")),
	}
}

// HandleWebhook serves POST /webhook.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	clientIP := httputil.GetClientIP(r)
	ctx := middleware.WithClientIP(r.Context(), clientIP)

	key := r.Header.Get(h.opts.InstanceHeader)
	if key == "" {
		key = clientIP
	}
	allowed, err := h.opts.Limiter.Allow(ctx, key)
	if err != nil {
		// fail open: the queue is the critical path, not the limiter
		h.logger.WarnContext(ctx, "Rate limit check failed", logging.Error(err))
		allowed = true
	}
	if !allowed {
		httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodySize))
	defer r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.WebhooksTotal.WithLabelValues("too_large").Inc()
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.logger.ErrorContext(ctx, "Failed to read request body", logging.Error(err))
		body = nil
	} else if body == nil {
		body = []byte{}
	}

	out := h.service.Handle(ctx, r.Header, body)

	switch out.Kind {
	case service.Accepted:
		if h.opts.Stats != nil {
			h.opts.Stats.Record(r.Header.Get(h.opts.InstanceHeader), r.Header.Get(h.opts.EventHeader), clientIP)
		}
		httputil.WriteJSON(w, http.StatusOK, QueuedResponse{Status: "queued", MessageID: out.MessageID})
	case service.BadRequest:
		httputil.WriteError(w, out.Kind.HTTPStatus(), out.Err.Error())
	case service.Forbidden:
		httputil.WriteError(w, out.Kind.HTTPStatus(), "invalid signature")
	case service.ServiceUnavailable:
		httputil.WriteError(w, out.Kind.HTTPStatus(), "queue unavailable")
	default:
		httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

// Health serves GET /health from the broker connection state.
func (h *WebhookHandler) Health(w http.ResponseWriter, r *http.Request) {
	status, code := messaging.CheckHealth("gateway", h.opts.Broker)
	if status.QueueConnected {
		metrics.BrokerConnected.Set(1)
	} else {
		metrics.BrokerConnected.Set(0)
	}
	httputil.WriteJSON(w, code, status)
}
