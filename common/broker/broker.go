// Package broker builds broker connections from service configuration.
package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hookwire/hookwire/common/config"
	"github.com/hookwire/hookwire/common/messaging"
	hwamqp "github.com/hookwire/hookwire/common/messaging/amqp"
	hwnats "github.com/hookwire/hookwire/common/messaging/nats"
)

// Options tunes the connection for its owner.
type Options struct {
	// ClientName identifies the connection on the broker.
	ClientName string

	// InFlight bounds unacknowledged deliveries across all consumers
	// sharing the queue. Only JetStream uses it; AMQP prefetch is per
	// channel.
	InFlight int

	Logger *slog.Logger
}

// NewDialer returns a dialer for the configured backend.
func NewDialer(cfg config.BrokerConfig, opts Options) (messaging.Dialer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case config.BackendJetStream, "":
		natsCfg := hwnats.DefaultConfig()
		natsCfg.URL = cfg.URL
		natsCfg.Topology = cfg.Topology()
		natsCfg.Logger = logger
		if cfg.ConnectTimeout > 0 {
			natsCfg.Timeout = cfg.ConnectTimeout
		}
		if cfg.ConsumerName != "" {
			natsCfg.ConsumerName = cfg.ConsumerName
		}
		if opts.ClientName != "" {
			natsCfg.Name = opts.ClientName
		}
		if opts.InFlight > 0 {
			natsCfg.MaxAckPending = opts.InFlight
		}
		return func(ctx context.Context) (messaging.Broker, error) {
			client, err := hwnats.Connect(ctx, natsCfg)
			if err != nil {
				return nil, err
			}
			return client, nil
		}, nil

	case config.BackendAMQP:
		amqpCfg := hwamqp.DefaultConfig()
		amqpCfg.URL = cfg.URL
		amqpCfg.Topology = cfg.Topology()
		amqpCfg.Logger = logger
		if cfg.ConnectTimeout > 0 {
			amqpCfg.Timeout = cfg.ConnectTimeout
		}
		if opts.ClientName != "" {
			amqpCfg.ConsumerTag = opts.ClientName
		}
		return func(ctx context.Context) (messaging.Broker, error) {
			client, err := hwamqp.Connect(ctx, amqpCfg)
			if err != nil {
				return nil, err
			}
			return client, nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.Backend)
	}
}

// NewSupervisor wires a supervisor for the configured backend. onConnect may
// be nil.
func NewSupervisor(cfg config.BrokerConfig, opts Options, onConnect messaging.ConnectHook) (*messaging.Supervisor, error) {
	dial, err := NewDialer(cfg, opts)
	if err != nil {
		return nil, err
	}
	return messaging.NewSupervisor(dial, messaging.SupervisorConfig{
		InitialDelay: cfg.ReconnectInitialDelay,
		MaxAttempts:  cfg.ReconnectMaxAttempts,
		OnConnect:    onConnect,
		Logger:       opts.Logger,
	}), nil
}
