package processors

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hookwire/hookwire/common/logging"
	"github.com/hookwire/hookwire/common/models"
	"github.com/hookwire/hookwire/worker/internal/router"
)

const processedKeyPrefix = "hookwire:processed:"

// Idempotent skips events already processed successfully. A marker keyed by
// (event type, event id) is written after each success; events without a
// sender id pass through unguarded. Redis errors never fail an event.
type Idempotent struct {
	next   router.Processor
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewIdempotent(next router.Processor, client *redis.Client, ttl time.Duration, logger *logging.Logger) *Idempotent {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Idempotent{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: componentLogger(logger, "idempotency"),
	}
}

func (p *Idempotent) Process(ctx context.Context, event *models.WebhookEvent) (models.ProcessingOutcome, error) {
	id := event.Headers.EventID
	if id == "" {
		return p.next.Process(ctx, event)
	}
	key := ProcessedKey(event.EventType, id)

	n, err := p.client.Exists(ctx, key).Result()
	if err != nil {
		p.logger.WarnContext(ctx, "Idempotency check failed", logging.EventID(id), logging.Error(err))
	} else if n > 0 {
		p.logger.InfoContext(ctx, "Event already processed, skipping",
			logging.EventID(id),
			logging.EventType(event.EventType),
		)
		return models.Succeeded(id, event.EventType), nil
	}

	out, err := p.next.Process(ctx, event)
	if err != nil || !out.Success {
		return out, err
	}

	if err := p.client.SetNX(ctx, key, out.ProcessedAt.Format(time.RFC3339Nano), p.ttl).Err(); err != nil {
		p.logger.WarnContext(ctx, "Failed to record processed event", logging.EventID(id), logging.Error(err))
	}
	return out, nil
}

// ProcessedKey is the Redis key marking an event as processed.
func ProcessedKey(eventType, eventID string) string {
	return processedKeyPrefix + eventType + ":" + eventID
}

// NewIdempotentRouter builds the default routing table with every processor
// behind the idempotency guard.
func NewIdempotentRouter(logger *logging.Logger, client *redis.Client, ttl time.Duration) (*router.Router, error) {
	wrap := func(p router.Processor) router.Processor {
		return NewIdempotent(p, client, ttl, logger)
	}
	return router.New(wrap(NewGeneric(logger)),
		router.Route{Name: RouteUser, Match: router.Prefix(UserPrefix), Processor: wrap(NewUser(logger))},
		router.Route{Name: RouteNotification, Match: router.Exact(models.EventTypeNotification), Processor: wrap(NewNotification(logger))},
	)
}
