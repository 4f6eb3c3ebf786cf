package nats

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/hookwire/hookwire/common/messaging"
)

// delivery adapts a JetStream message to messaging.Delivery.
type delivery struct {
	client *Client
	msg    jetstream.Msg
}

func (d *delivery) Data() []byte {
	return d.msg.Data()
}

func (d *delivery) Metadata() map[string]string {
	headers := d.msg.Headers()
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k := range headers {
		out[k] = headers.Get(k)
	}
	return out
}

// Attempt derives the retry counter from the server's delivery count.
func (d *delivery) Attempt() int {
	md, err := d.msg.Metadata()
	if err != nil || md.NumDelivered == 0 {
		return 0
	}
	return int(md.NumDelivered - 1)
}

func (d *delivery) Ack(ctx context.Context) error {
	return d.msg.DoubleAck(ctx)
}

func (d *delivery) Retry(_ context.Context, delay time.Duration) error {
	return d.msg.NakWithDelay(delay)
}

// DeadLetter copies the message to the dead-letter stream and terminates it.
// When the copy fails the message is left unresolved so the server redelivers
// it after the ack wait.
func (d *delivery) DeadLetter(ctx context.Context, reason string) error {
	if d.client.cfg.Topology.DeadLetter {
		metadata := d.Metadata()
		if metadata == nil {
			metadata = make(map[string]string)
		}
		metadata[messaging.HeaderDLQReason] = reason
		metadata[messaging.HeaderDLQAttempt] = strconv.Itoa(d.Attempt())

		msg := &messaging.Message{
			Data:     d.msg.Data(),
			Metadata: metadata,
		}
		if id := metadata[messaging.HeaderMessageID]; id != "" {
			msg.ID = id + ".dlq"
		}

		dlq := messaging.DeadLetterQueue(d.client.cfg.Topology.Queue)
		if err := d.client.publish(ctx, dlq, msg); err != nil {
			return fmt.Errorf("dead-letter publish: %w", err)
		}
	}
	return d.msg.Term()
}

// subscription tracks one Consume call and its in-flight handler.
type subscription struct {
	queue string
	cc    jetstream.ConsumeContext

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

func (s *subscription) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *subscription) Unsubscribe() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if s.cc != nil {
		s.cc.Stop()
	}
	s.inflight.Wait()
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
