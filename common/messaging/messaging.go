// Package messaging defines the broker-neutral contract between hookwire
// services and the durable queue. Concrete clients live in the nats
// (JetStream) and amqp (RabbitMQ) subpackages.
package messaging

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConnected is returned when the broker connection is down.
	ErrNotConnected = errors.New("messaging: not connected to broker")

	// ErrPublishRejected is returned when the broker refused a message or did
	// not confirm it in time. Callers must treat it as a failed publish.
	ErrPublishRejected = errors.New("messaging: publish rejected by broker")

	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("messaging: client closed")
)

// Metadata keys set on published messages.
const (
	HeaderMessageID  = "Hookwire-Message-Id"
	HeaderEventType  = "Hookwire-Event-Type"
	HeaderRetryCount = "Hookwire-Retry-Count"
	HeaderDLQReason  = "Hookwire-Dlq-Reason"
	HeaderDLQAttempt = "Hookwire-Dlq-Attempt"
)

// Message is an outbound message.
type Message struct {
	// ID identifies the message. Brokers that support publish
	// deduplication use it as the dedup key.
	ID string

	// Data is the raw message payload.
	Data []byte

	// Metadata contains optional key-value pairs for message headers.
	Metadata map[string]string

	// Timestamp is when the message was created.
	Timestamp time.Time
}

// Delivery is one message handed to a consumer. Exactly one of Ack, Retry or
// DeadLetter must be called for every delivery.
type Delivery interface {
	// Data returns the message payload exactly as published.
	Data() []byte

	// Metadata returns the message headers.
	Metadata() map[string]string

	// Attempt is the number of earlier failed deliveries of this message,
	// read from transport metadata. It is 0 on first delivery.
	Attempt() int

	// Ack removes the message from the queue permanently.
	Ack(ctx context.Context) error

	// Retry makes the message redeliverable after delay with the attempt
	// counter incremented.
	Retry(ctx context.Context, delay time.Duration) error

	// DeadLetter discards the message without requeueing it. When a
	// dead-letter destination is configured the broker routes it there.
	DeadLetter(ctx context.Context, reason string) error
}

// DeliveryHandler resolves one delivery. The broker does not hand out another
// delivery to the same consumer until the handler returns.
type DeliveryHandler func(ctx context.Context, d Delivery)

// Subscription represents an active consumer.
type Subscription interface {
	// Unsubscribe stops new deliveries and waits for the in-flight handler
	// to return.
	Unsubscribe() error

	// Queue returns the queue this subscription consumes.
	Queue() string

	// IsValid returns true while the subscription is receiving deliveries.
	IsValid() bool
}

// Publisher publishes messages to the durable queue.
type Publisher interface {
	// PublishMsg stores msg persistently and returns once the broker has
	// accepted it.
	PublishMsg(ctx context.Context, msg *Message) error
}

// Consumer consumes the durable queue with prefetch 1.
type Consumer interface {
	Consume(ctx context.Context, handler DeliveryHandler) (Subscription, error)
}

// Broker is one connection and channel to the durable queue.
type Broker interface {
	Publisher
	Consumer

	// EnsureTopology declares the queue, its limits and the dead-letter
	// destination. It is idempotent.
	EnsureTopology(ctx context.Context) error

	// IsConnected returns true while the connection is usable.
	IsConnected() bool

	// Disconnected is closed when an established connection is lost. The
	// client does not reconnect on its own.
	Disconnected() <-chan struct{}

	// Close stops subscriptions, then releases the channel and the
	// connection. It is safe to call more than once.
	Close() error
}

// Topology describes the durable queue shared by both broker backends.
type Topology struct {
	// Queue is the queue (stream, subject) name.
	Queue string

	// MessageTTL drops messages that stay undelivered for longer.
	MessageTTL time.Duration

	// MaxLength bounds the number of queued messages.
	MaxLength int64

	// Overflow selects what the broker does when MaxLength is reached.
	Overflow Overflow

	// DeadLetter enables the dead-letter destination.
	DeadLetter bool

	// AckWait is how long the broker waits for a resolution before it
	// redelivers a message to another consumer.
	AckWait time.Duration
}

// Overflow policy applied by the broker when the queue is full.
type Overflow string

const (
	OverflowDropOld   Overflow = "drop-old"
	OverflowRejectNew Overflow = "reject-new"
)

// DefaultTopology returns the queue limits used when configuration is silent.
func DefaultTopology(queue string) Topology {
	return Topology{
		Queue:      queue,
		MessageTTL: 24 * time.Hour,
		MaxLength:  100000,
		Overflow:   OverflowDropOld,
		DeadLetter: true,
		AckWait:    30 * time.Second,
	}
}

// DeadLetterQueue returns the name of the dead-letter queue for queue.
func DeadLetterQueue(queue string) string {
	return queue + ".dlq"
}
