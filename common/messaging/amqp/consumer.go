package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/hookwire/hookwire/common/messaging"
)

// headerRetryCount carries the delivery attempt across republishes.
const headerRetryCount = "x-retry-count"

// Consume starts consuming the queue. Deliveries are handled sequentially.
func (c *Client) Consume(ctx context.Context, handler messaging.DeliveryHandler) (messaging.Subscription, error) {
	deliveries, err := c.ch.Consume(c.cfg.Topology.Queue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	sub := &subscription{
		client: c,
		queue:  c.cfg.Topology.Queue,
		tag:    c.cfg.ConsumerTag,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = c.ch.Cancel(sub.tag, false)
		return nil, messaging.ErrClosed
	}
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	handlerCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(sub.done)
		for d := range deliveries {
			if !sub.IsValid() {
				_ = d.Nack(false, true)
				continue
			}
			handler(handlerCtx, newDelivery(d, c.cfg.Topology.Queue, c.deadLetterQueue(), c.publish))
		}
	}()

	c.logger.Info("Consuming queue", slog.String("consumer", sub.tag))
	return sub, nil
}

// deadLetterQueue returns the queue dead letters go to, or "" when
// dead-lettering is disabled.
func (c *Client) deadLetterQueue() string {
	if !c.cfg.Topology.DeadLetter {
		return ""
	}
	return messaging.DeadLetterQueue(c.cfg.Topology.Queue)
}

type publishFunc func(ctx context.Context, queue string, p amqp.Publishing) error

// delivery adapts an AMQP delivery to messaging.Delivery.
type delivery struct {
	d       amqp.Delivery
	attempt int
	queue   string
	dlq     string
	publish publishFunc
}

func newDelivery(d amqp.Delivery, queue, dlq string, publish publishFunc) *delivery {
	return &delivery{
		d:       d,
		attempt: retryCount(d.Headers),
		queue:   queue,
		dlq:     dlq,
		publish: publish,
	}
}

func (d *delivery) Data() []byte {
	return d.d.Body
}

func (d *delivery) Metadata() map[string]string {
	if len(d.d.Headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(d.d.Headers))
	for k, v := range d.d.Headers {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func (d *delivery) Attempt() int {
	return d.attempt
}

func (d *delivery) Ack(context.Context) error {
	return d.d.Ack(false)
}

// Retry waits out delay, republishes a copy with the retry counter
// incremented, then acknowledges the original. If the republish fails the
// original is requeued instead.
func (d *delivery) Retry(ctx context.Context, delay time.Duration) error {
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return d.d.Nack(false, true)
		}
	}

	headers := d.copyHeaders()
	headers[headerRetryCount] = int32(d.attempt + 1)

	if err := d.publish(ctx, d.queue, d.copy(headers)); err != nil {
		return d.requeue("republish", err)
	}
	return d.d.Ack(false)
}

// DeadLetter publishes a copy carrying reason to the dead-letter queue and
// acknowledges the original. Without a dead-letter queue the message is
// rejected and dropped. If the copy fails the original is requeued.
func (d *delivery) DeadLetter(ctx context.Context, reason string) error {
	if d.dlq == "" {
		return d.d.Nack(false, false)
	}

	headers := d.copyHeaders()
	headers[messaging.HeaderDLQReason] = reason
	headers[messaging.HeaderDLQAttempt] = strconv.Itoa(d.attempt)

	if err := d.publish(ctx, d.dlq, d.copy(headers)); err != nil {
		return d.requeue("dead-letter publish", err)
	}
	return d.d.Ack(false)
}

func (d *delivery) copyHeaders() amqp.Table {
	headers := amqp.Table{}
	for k, v := range d.d.Headers {
		headers[k] = v
	}
	return headers
}

func (d *delivery) copy(headers amqp.Table) amqp.Publishing {
	return amqp.Publishing{
		Headers:      headers,
		ContentType:  d.d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.d.MessageId,
		Timestamp:    d.d.Timestamp,
		Body:         d.d.Body,
	}
}

func (d *delivery) requeue(op string, err error) error {
	if nackErr := d.d.Nack(false, true); nackErr != nil {
		return fmt.Errorf("%s: %v; requeue: %w", op, err, nackErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// retryCount reads the attempt counter from message headers.
func retryCount(headers amqp.Table) int {
	v, ok := headers[headerRetryCount]
	if !ok {
		return 0
	}
	var n int64
	switch t := v.(type) {
	case int32:
		n = int64(t)
	case int64:
		n = t
	case int:
		n = int64(t)
	case int16:
		n = int64(t)
	case string:
		parsed, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0
		}
		n = parsed
	default:
		return 0
	}
	if n < 0 {
		return 0
	}
	return int(n)
}

type subscription struct {
	client *Client
	queue  string
	tag    string
	done   chan struct{}

	mu      sync.Mutex
	stopped bool
}

// Unsubscribe cancels the consumer and waits for the delivery loop to end.
func (s *subscription) Unsubscribe() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	err := s.client.ch.Cancel(s.tag, false)
	if err != nil {
		// channel already gone; the delivery channel is closed with it
		s.client.logger.Debug("Cancel consumer failed", slog.String("error", err.Error()))
	}
	<-s.done
	return nil
}

func (s *subscription) Queue() string {
	return s.queue
}

func (s *subscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}
