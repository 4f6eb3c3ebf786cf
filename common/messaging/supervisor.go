package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
)

// Dialer opens a new broker connection.
type Dialer func(ctx context.Context) (Broker, error)

// ConnectHook runs after every successful connection, including the first.
type ConnectHook func(ctx context.Context, b Broker) error

// SupervisorConfig configures the reconnection policy.
type SupervisorConfig struct {
	// InitialDelay is the first backoff delay between redial attempts.
	InitialDelay time.Duration

	// MaxAttempts bounds one round of redials. Rounds repeat until the
	// supervisor is closed.
	MaxAttempts int

	// OnConnect is called with each new broker after its topology has been
	// declared.
	OnConnect ConnectHook

	Logger *slog.Logger
}

// Supervisor owns the broker connection of a service and applies the
// service's reconnection policy. Broker clients never reconnect themselves:
// the first connection fails fast, later losses are redialed here with
// exponential backoff.
type Supervisor struct {
	dial   Dialer
	cfg    SupervisorConfig
	logger *slog.Logger

	mu      sync.RWMutex
	current Broker

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewSupervisor creates a supervisor around dial.
func NewSupervisor(dial Dialer, cfg SupervisorConfig) *Supervisor {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		dial:   dial,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "broker-supervisor")),
	}
}

// Start establishes the first connection. A failure is returned immediately
// so the owning process can abort startup.
func (s *Supervisor) Start(ctx context.Context) error {
	b, err := s.connect(ctx)
	if err != nil {
		return err
	}
	s.set(b)

	watchCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.watch(watchCtx, b)

	return nil
}

// Current returns the live broker, or nil while disconnected.
func (s *Supervisor) Current() Broker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// IsConnected reports whether a live broker connection exists.
func (s *Supervisor) IsConnected() bool {
	b := s.Current()
	return b != nil && b.IsConnected()
}

// PublishMsg publishes through the live broker.
func (s *Supervisor) PublishMsg(ctx context.Context, msg *Message) error {
	b := s.Current()
	if b == nil {
		return ErrNotConnected
	}
	return b.PublishMsg(ctx, msg)
}

// Close stops the reconnection loop and closes the live broker.
func (s *Supervisor) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		if b := s.swap(nil); b != nil {
			err = b.Close()
		}
	})
	return err
}

func (s *Supervisor) connect(ctx context.Context) (Broker, error) {
	b, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	if err := b.EnsureTopology(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("declare topology: %w", err)
	}
	if s.cfg.OnConnect != nil {
		if err := s.cfg.OnConnect(ctx, b); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("on connect: %w", err)
		}
	}
	return b, nil
}

func (s *Supervisor) watch(ctx context.Context, b Broker) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.Disconnected():
		}

		s.logger.Warn("Broker connection lost, reconnecting")
		if old := s.swap(nil); old != nil {
			_ = old.Close()
		}

		next, err := s.reconnect(ctx)
		if err != nil {
			return
		}
		s.set(next)
		s.logger.Info("Broker connection re-established")
		b = next
	}
}

func (s *Supervisor) reconnect(ctx context.Context) (Broker, error) {
	r := retry.New[Broker](retry.Config{
		MaxAttempts:   s.cfg.MaxAttempts,
		InitialDelay:  s.cfg.InitialDelay,
		BackoffPolicy: retry.BackoffExponential,
	})

	for {
		b, err := r.Do(ctx, s.connect)
		if err == nil {
			return b, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Error("Reconnect round failed",
			slog.Int("attempts", s.cfg.MaxAttempts),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.InitialDelay):
		}
	}
}

func (s *Supervisor) set(b Broker) {
	s.mu.Lock()
	s.current = b
	s.mu.Unlock()
}

func (s *Supervisor) swap(b Broker) Broker {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.current
	s.current = b
	return old
}
