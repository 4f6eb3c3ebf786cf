package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// CLIConfig holds hookctl configuration: named profiles pointing at a
// hookwire deployment.
type CLIConfig struct {
	CurrentProfile string                 `yaml:"current_profile" mapstructure:"current_profile"`
	Profiles       map[string]*CLIProfile `yaml:"profiles" mapstructure:"profiles"`
	Defaults       CLIProfile             `yaml:"defaults" mapstructure:"defaults"`

	path string
}

// CLIProfile is one deployment hookctl can talk to.
type CLIProfile struct {
	GatewayURL string `yaml:"gateway_url,omitempty" mapstructure:"gateway_url"`
	Secret     string `yaml:"secret,omitempty" mapstructure:"secret"`
	BrokerURL  string `yaml:"broker_url,omitempty" mapstructure:"broker_url"`
	Queue      string `yaml:"queue,omitempty" mapstructure:"queue"`
	RedisURL   string `yaml:"redis_url,omitempty" mapstructure:"redis_url"`
}

// DefaultCLI returns a CLIConfig with default values.
func DefaultCLI() *CLIConfig {
	return &CLIConfig{
		CurrentProfile: "default",
		Profiles:       make(map[string]*CLIProfile),
		Defaults: CLIProfile{
			GatewayURL: "http://localhost:3000",
			BrokerURL:  "nats://localhost:4222",
			Queue:      "discourse_events",
			RedisURL:   "redis://localhost:6379/0",
		},
	}
}

// LoadCLI loads hookctl configuration from $HOOKCTL_CONFIG_DIR/config.yaml
// ($HOME/.hookctl by default) with HOOKCTL_* environment overrides.
func LoadCLI() (*CLIConfig, error) {
	configDir := os.Getenv("HOOKCTL_CONFIG_DIR")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine home directory: %w", err)
		}
		configDir = filepath.Join(home, ".hookctl")
	}
	return LoadCLIFrom(filepath.Join(configDir, "config.yaml"))
}

// LoadCLIFrom loads hookctl configuration from path. A missing file yields
// the defaults.
func LoadCLIFrom(path string) (*CLIConfig, error) {
	defaults := DefaultCLI()

	v := viper.New()
	v.SetDefault("current_profile", defaults.CurrentProfile)
	v.SetDefault("defaults.gateway_url", defaults.Defaults.GatewayURL)
	v.SetDefault("defaults.broker_url", defaults.Defaults.BrokerURL)
	v.SetDefault("defaults.queue", defaults.Defaults.Queue)
	v.SetDefault("defaults.redis_url", defaults.Defaults.RedisURL)
	v.SetDefault("defaults.secret", "")

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("HOOKCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// viper needs explicit bindings for nested keys
	_ = v.BindEnv("defaults.gateway_url", "HOOKCTL_GATEWAY_URL")
	_ = v.BindEnv("defaults.secret", "HOOKCTL_SECRET")
	_ = v.BindEnv("defaults.broker_url", "HOOKCTL_BROKER_URL")
	_ = v.BindEnv("defaults.queue", "HOOKCTL_QUEUE")
	_ = v.BindEnv("defaults.redis_url", "HOOKCTL_REDIS_URL")

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := DefaultCLI()
	cfg.path = path
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*CLIProfile)
	}
	return cfg, nil
}

// Save writes the configuration back to the file it was loaded from.
func (c *CLIConfig) Save() error {
	if c.path == "" {
		return fmt.Errorf("config path not set")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// SetProfile stores p under name.
func (c *CLIConfig) SetProfile(name string, p CLIProfile) {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*CLIProfile)
	}
	c.Profiles[name] = &p
}

// Resolve returns the effective settings for profile (the current profile
// when empty), falling back to the defaults field by field.
func (c *CLIConfig) Resolve(profile string) CLIProfile {
	if profile == "" {
		profile = c.CurrentProfile
	}

	out := c.Defaults
	p, ok := c.Profiles[profile]
	if !ok {
		return out
	}
	if p.GatewayURL != "" {
		out.GatewayURL = p.GatewayURL
	}
	if p.Secret != "" {
		out.Secret = p.Secret
	}
	if p.BrokerURL != "" {
		out.BrokerURL = p.BrokerURL
	}
	if p.Queue != "" {
		out.Queue = p.Queue
	}
	if p.RedisURL != "" {
		out.RedisURL = p.RedisURL
	}
	return out
}
