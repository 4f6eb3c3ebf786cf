// Package nats implements the messaging broker contract on NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hookwire/hookwire/common/messaging"
)

// Config holds JetStream client configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// Timeout is the connection timeout.
	Timeout time.Duration

	// Username for authentication (optional).
	Username string

	// Password for authentication (optional).
	Password string

	// Token for token-based authentication (optional).
	Token string

	// Topology describes the queue stream and its dead-letter stream.
	Topology messaging.Topology

	// ConsumerName is the durable consumer shared by all workers.
	ConsumerName string

	// MaxAckPending bounds unacknowledged deliveries across all workers
	// attached to the durable consumer.
	MaxAckPending int

	// DuplicateWindow is how long publish ids are remembered for
	// deduplication.
	DuplicateWindow time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		Name:            "hookwire",
		Timeout:         5 * time.Second,
		Topology:        messaging.DefaultTopology("discourse_events"),
		ConsumerName:    "hookwire-worker",
		MaxAckPending:   1,
		DuplicateWindow: 2 * time.Minute,
	}
}

// Client is one NATS connection with a JetStream context. It never
// reconnects: when the connection drops Disconnected is closed and the owner
// decides what to do.
type Client struct {
	cfg    Config
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*subscription
	closed bool

	disconnected chan struct{}
	lostOnce     sync.Once
}

// Connect dials the server and creates a JetStream context.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Topology.Queue == "" {
		return nil, fmt.Errorf("nats: queue name is required")
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = DefaultConfig().ConsumerName
	}
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = 1
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = DefaultConfig().DuplicateWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:          cfg,
		logger:       logger.With(slog.String("component", "nats"), slog.String("queue", cfg.Topology.Queue)),
		disconnected: make(chan struct{}),
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
			c.markLost()
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.markLost()
		}),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c.conn = conn
	c.js = js
	return c, nil
}

// JetStream exposes the underlying JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Queue returns the name of the queue this client serves.
func (c *Client) Queue() string {
	return c.cfg.Topology.Queue
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return !closed && c.conn.IsConnected()
}

// Disconnected is closed once the connection is lost or closed.
func (c *Client) Disconnected() <-chan struct{} {
	return c.disconnected
}

// Close stops every subscription, waiting for in-flight handlers, then
// closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}

	c.conn.Close()
	return nil
}

func (c *Client) markLost() {
	c.lostOnce.Do(func() { close(c.disconnected) })
}

func (c *Client) track(s *subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return messaging.ErrClosed
	}
	c.subs = append(c.subs, s)
	return nil
}

// StreamName maps a queue name to a valid JetStream stream name.
func StreamName(queue string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(queue) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// DeadLetterStreamName is the stream holding dead-lettered messages of queue.
func DeadLetterStreamName(queue string) string {
	return StreamName(messaging.DeadLetterQueue(queue))
}
