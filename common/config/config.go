// Package config loads configuration for the hookwire services.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hookwire/hookwire/common/messaging"
)

// Service names accepted by Validate.
const (
	ServiceGateway = "gateway"
	ServiceWorker  = "worker"
)

// Broker backends.
const (
	BackendJetStream = "jetstream"
	BackendAMQP      = "amqp"
)

// EnvPrefix prefixes every environment override, e.g. HOOKWIRE_WEBHOOK_SECRET.
const EnvPrefix = "HOOKWIRE"

// Config is the configuration shared by the gateway and the worker.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Stats     StatsConfig     `mapstructure:"stats"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebhookConfig holds inbound webhook settings.
type WebhookConfig struct {
	Secret          string `mapstructure:"secret"`
	MaxBodySize     int64  `mapstructure:"max_body_size"`
	EventHeader     string `mapstructure:"event_header"`
	SignatureHeader string `mapstructure:"signature_header"`
	EventIDHeader   string `mapstructure:"event_id_header"`
	InstanceHeader  string `mapstructure:"instance_header"`
}

// BrokerConfig holds durable queue settings.
type BrokerConfig struct {
	Backend               string        `mapstructure:"backend"`
	URL                   string        `mapstructure:"url"`
	Queue                 string        `mapstructure:"queue"`
	ConsumerName          string        `mapstructure:"consumer_name"`
	MessageTTL            time.Duration `mapstructure:"message_ttl"`
	MaxLength             int64         `mapstructure:"max_length"`
	Overflow              string        `mapstructure:"overflow"`
	DeadLetter            bool          `mapstructure:"dead_letter"`
	MaxRetries            int           `mapstructure:"max_retries"`
	RetryInitialDelay     time.Duration `mapstructure:"retry_initial_delay"`
	RetryMaxDelay         time.Duration `mapstructure:"retry_max_delay"`
	AckWait               time.Duration `mapstructure:"ack_wait"`
	PublishTimeout        time.Duration `mapstructure:"publish_timeout"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
	ReconnectInitialDelay time.Duration `mapstructure:"reconnect_initial_delay"`
	ReconnectMaxAttempts  int           `mapstructure:"reconnect_max_attempts"`
}

// Topology returns the queue topology described by the broker settings.
func (b BrokerConfig) Topology() messaging.Topology {
	return messaging.Topology{
		Queue:      b.Queue,
		MessageTTL: b.MessageTTL,
		MaxLength:  b.MaxLength,
		Overflow:   messaging.Overflow(b.Overflow),
		DeadLetter: b.DeadLetter,
		AckWait:    b.AckWait,
	}
}

// WorkerConfig holds consumer settings.
type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
	MetricsPort       int           `mapstructure:"metrics_port"`
	Idempotency       bool          `mapstructure:"idempotency"`
	IdempotencyTTL    time.Duration `mapstructure:"idempotency_ttl"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// RateLimitConfig holds gateway rate limit settings.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// StatsConfig holds per-instance intake statistics settings.
type StatsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from configPath, or from config.yaml in the
// working directory or /etc/hookwire when configPath is empty, then applies
// HOOKWIRE_* environment overrides. A missing config file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hookwire")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.max_body_size", 1<<20)
	v.SetDefault("webhook.event_header", "X-Discourse-Event")
	v.SetDefault("webhook.signature_header", "X-Discourse-Event-Signature")
	v.SetDefault("webhook.event_id_header", "X-Discourse-Event-Id")
	v.SetDefault("webhook.instance_header", "X-Discourse-Instance")

	v.SetDefault("broker.backend", BackendJetStream)
	v.SetDefault("broker.url", "nats://localhost:4222")
	v.SetDefault("broker.queue", "discourse_events")
	v.SetDefault("broker.consumer_name", "hookwire-worker")
	v.SetDefault("broker.message_ttl", "24h")
	v.SetDefault("broker.max_length", 100000)
	v.SetDefault("broker.overflow", string(messaging.OverflowDropOld))
	v.SetDefault("broker.dead_letter", true)
	v.SetDefault("broker.max_retries", 3)
	v.SetDefault("broker.retry_initial_delay", "1s")
	v.SetDefault("broker.retry_max_delay", "30s")
	v.SetDefault("broker.ack_wait", "30s")
	v.SetDefault("broker.publish_timeout", "5s")
	v.SetDefault("broker.connect_timeout", "5s")
	v.SetDefault("broker.reconnect_initial_delay", "1s")
	v.SetDefault("broker.reconnect_max_attempts", 10)

	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.processing_timeout", "25s")
	v.SetDefault("worker.metrics_port", 9090)
	v.SetDefault("worker.idempotency", false)
	v.SetDefault("worker.idempotency_ttl", "24h")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.requests", 600)
	v.SetDefault("ratelimit.window", "1m")

	v.SetDefault("stats.enabled", false)
	v.SetDefault("stats.flush_interval", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the settings service depends on.
func (c *Config) Validate(service string) error {
	var errs []error

	switch c.Broker.Backend {
	case BackendJetStream, BackendAMQP:
	default:
		errs = append(errs, fmt.Errorf("broker.backend must be %q or %q, got %q", BackendJetStream, BackendAMQP, c.Broker.Backend))
	}
	switch messaging.Overflow(c.Broker.Overflow) {
	case messaging.OverflowDropOld, messaging.OverflowRejectNew:
	default:
		errs = append(errs, fmt.Errorf("broker.overflow must be %q or %q, got %q", messaging.OverflowDropOld, messaging.OverflowRejectNew, c.Broker.Overflow))
	}
	if c.Broker.URL == "" {
		errs = append(errs, errors.New("broker.url is required"))
	}
	if c.Broker.Queue == "" {
		errs = append(errs, errors.New("broker.queue is required"))
	}
	if c.Broker.MessageTTL <= 0 {
		errs = append(errs, errors.New("broker.message_ttl must be positive"))
	}
	if c.Broker.MaxLength <= 0 {
		errs = append(errs, errors.New("broker.max_length must be positive"))
	}

	switch service {
	case ServiceGateway:
		if c.Webhook.Secret == "" {
			errs = append(errs, errors.New("webhook.secret is required"))
		}
		if c.Webhook.MaxBodySize <= 0 {
			errs = append(errs, errors.New("webhook.max_body_size must be positive"))
		}
		if c.Webhook.EventHeader == "" || c.Webhook.SignatureHeader == "" {
			errs = append(errs, errors.New("webhook.event_header and webhook.signature_header are required"))
		}
		if c.Server.Port <= 0 {
			errs = append(errs, errors.New("server.port must be positive"))
		}
		if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
			errs = append(errs, errors.New("ratelimit.requests and ratelimit.window must be positive"))
		}
		if c.Stats.Enabled && c.Stats.FlushInterval <= 0 {
			errs = append(errs, errors.New("stats.flush_interval must be positive"))
		}
	case ServiceWorker:
		if c.Broker.MaxRetries < 0 {
			errs = append(errs, errors.New("broker.max_retries must not be negative"))
		}
		if c.Broker.RetryInitialDelay <= 0 || c.Broker.RetryMaxDelay < c.Broker.RetryInitialDelay {
			errs = append(errs, errors.New("broker.retry_initial_delay must be positive and not exceed broker.retry_max_delay"))
		}
		if c.Worker.Concurrency < 1 {
			errs = append(errs, errors.New("worker.concurrency must be at least 1"))
		}
		if c.Worker.ProcessingTimeout <= 0 {
			errs = append(errs, errors.New("worker.processing_timeout must be positive"))
		}
		// JetStream redelivers once ack_wait passes, even while the first
		// handler is still running.
		if c.Broker.Backend == BackendJetStream {
			ackWait := c.Broker.Topology().AckWait
			if ackWait <= 0 {
				ackWait = messaging.DefaultTopology(c.Broker.Queue).AckWait
			}
			if c.Worker.ProcessingTimeout >= ackWait {
				errs = append(errs, fmt.Errorf("worker.processing_timeout (%s) must be below broker.ack_wait (%s)", c.Worker.ProcessingTimeout, ackWait))
			}
		}
		if c.Worker.Idempotency && !c.Redis.Enabled {
			errs = append(errs, errors.New("worker.idempotency requires redis.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown service %q", service))
	}

	return errors.Join(errs...)
}
