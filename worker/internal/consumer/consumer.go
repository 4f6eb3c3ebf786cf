// Package consumer resolves queue deliveries: every delivery ends acknowledged,
// requeued for a later attempt, or dead-lettered.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hookwire/hookwire/common/logging"
	"github.com/hookwire/hookwire/common/messaging"
	"github.com/hookwire/hookwire/common/models"
	"github.com/hookwire/hookwire/worker/internal/metrics"
)

// Resolution is the final state of one delivery.
type Resolution int

const (
	Acknowledged Resolution = iota
	RequeuedForRetry
	DeadLettered
	// Unresolved means the broker call that resolves the delivery failed.
	// The broker redelivers the message once its ack wait expires.
	Unresolved
)

func (r Resolution) String() string {
	switch r {
	case Acknowledged:
		return "acknowledged"
	case RequeuedForRetry:
		return "requeued"
	case DeadLettered:
		return "dead_lettered"
	default:
		return "unresolved"
	}
}

var (
	ErrProcessorPanic   = errors.New("processor panicked")
	ErrProcessorFailure = errors.New("processor reported failure")
)

// Router dispatches an event to its processor.
type Router interface {
	Route(ctx context.Context, event *models.WebhookEvent) (models.ProcessingOutcome, error)
}

// Config bounds retries and processing time.
type Config struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	ProcessingTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		ProcessingTimeout: 25 * time.Second,
	}
}

// Consumer processes one delivery at a time from a broker subscription.
type Consumer struct {
	router  Router
	cfg     Config
	backoff Backoff
	logger  *logging.Logger

	mu  sync.Mutex
	sub messaging.Subscription
}

func New(router Router, cfg Config, logger *logging.Logger) *Consumer {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = DefaultConfig().ProcessingTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{
		router:  router,
		cfg:     cfg,
		backoff: Backoff{Initial: cfg.InitialDelay, Max: cfg.MaxDelay},
		logger:  logger.With(logging.Component("consumer")),
	}
}

// Start subscribes to b. It matches messaging.ConnectHook so a supervisor
// re-subscribes after every reconnect.
func (c *Consumer) Start(ctx context.Context, b messaging.Broker) error {
	sub, err := b.Consume(ctx, func(ctx context.Context, d messaging.Delivery) {
		c.Handle(ctx, d)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	c.logger.Info("Consuming queue", logging.Queue(sub.Queue()))
	return nil
}

// Stop ends the current subscription and waits for the in-flight delivery.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

// Handle processes d and resolves it exactly once.
func (c *Consumer) Handle(ctx context.Context, d messaging.Delivery) Resolution {
	attempt := d.Attempt()

	env, err := models.DecodeEnvelope(d.Data())
	if err != nil {
		metrics.ProcessingErrors.WithLabelValues("poison").Inc()
		c.logger.ErrorContext(ctx, "Undecodable message, dead-lettering",
			slog.String("message_id", d.Metadata()[messaging.HeaderMessageID]),
			logging.Error(err),
		)
		return c.deadLetter(ctx, d, c.logger, "poison message: "+err.Error())
	}

	logger := c.logger.With(
		logging.MessageID(env.ID),
		logging.EventType(env.Event.EventType),
		logging.EventID(env.Event.Headers.EventID),
		logging.Attempt(attempt),
	)
	env.RetryCount = attempt

	start := time.Now()
	out, err := c.process(ctx, &env.Event)
	if err == nil && !out.Success {
		err = ErrProcessorFailure
		if out.Error != "" {
			err = fmt.Errorf("%w: %s", ErrProcessorFailure, out.Error)
		}
	}
	metrics.ProcessingDuration.WithLabelValues(strconv.FormatBool(err == nil)).Observe(time.Since(start).Seconds())

	if err == nil {
		if ackErr := d.Ack(ctx); ackErr != nil {
			logger.ErrorContext(ctx, "Failed to acknowledge message", logging.Error(ackErr))
			return c.resolved(Unresolved)
		}
		logger.DebugContext(ctx, "Message processed", logging.Duration(time.Since(start)))
		return c.resolved(Acknowledged)
	}

	if errors.Is(err, ErrProcessorPanic) {
		metrics.ProcessingErrors.WithLabelValues("panic").Inc()
	} else if errors.Is(err, context.DeadlineExceeded) {
		metrics.ProcessingErrors.WithLabelValues("timeout").Inc()
	} else {
		metrics.ProcessingErrors.WithLabelValues("processor").Inc()
	}

	if attempt >= c.cfg.MaxRetries {
		logger.ErrorContext(ctx, "Max retries exceeded, dead-lettering", logging.Error(err))
		return c.deadLetter(ctx, d, logger, err.Error())
	}

	delay := c.backoff.Delay(attempt + 1)
	logger.WarnContext(ctx, "Processing failed, scheduling retry",
		logging.Error(err),
		slog.Int("next_attempt", attempt+1),
		logging.Duration(delay),
	)
	if retryErr := d.Retry(ctx, delay); retryErr != nil {
		logger.ErrorContext(ctx, "Failed to requeue message", logging.Error(retryErr))
		return c.resolved(Unresolved)
	}
	metrics.RetryDelay.Observe(delay.Seconds())
	return c.resolved(RequeuedForRetry)
}

func (c *Consumer) process(ctx context.Context, event *models.WebhookEvent) (out models.ProcessingOutcome, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProcessingTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrProcessorPanic, r)
			out = models.Failed(event.Headers.EventID, event.EventType, err)
		}
	}()

	return c.router.Route(ctx, event)
}

func (c *Consumer) deadLetter(ctx context.Context, d messaging.Delivery, logger *logging.Logger, reason string) Resolution {
	if err := d.DeadLetter(ctx, reason); err != nil {
		logger.ErrorContext(ctx, "Failed to dead-letter message", logging.Error(err))
		return c.resolved(Unresolved)
	}
	return c.resolved(DeadLettered)
}

func (c *Consumer) resolved(r Resolution) Resolution {
	metrics.DeliveriesTotal.WithLabelValues(r.String()).Inc()
	return r
}
