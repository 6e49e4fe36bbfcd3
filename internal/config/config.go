package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// WebhookConfig covers verification of inbound identity provider events.
type WebhookConfig struct {
	Secret           string        `mapstructure:"secret"`
	MaxPastWindow    time.Duration `mapstructure:"max_past_window"`
	MaxFutureSkew    time.Duration `mapstructure:"max_future_skew"`
	AllowedClientIDs []string      `mapstructure:"allowed_client_ids"`
}

// PipelineConfig covers the durable log, consumer group, and retry budget.
type PipelineConfig struct {
	Stream           string        `mapstructure:"stream"`
	GroupName        string        `mapstructure:"group_name"`
	ConsumerWorkers  int           `mapstructure:"consumer_workers"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BaseBackoff      time.Duration `mapstructure:"base_backoff"`
	BackoffCap       time.Duration `mapstructure:"backoff_cap"`
	ClaimIdleTimeout time.Duration `mapstructure:"claim_idle_timeout"`
	HandlerTimeout   time.Duration `mapstructure:"handler_timeout"`
	BlockInterval    time.Duration `mapstructure:"block_interval"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type AuditConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	URL            string `mapstructure:"url"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8094)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("webhook.max_past_window", "720h") // 30 days for backlog replay
	v.SetDefault("webhook.max_future_skew", "1h")
	v.SetDefault("webhook.allowed_client_ids", []string{})
	v.SetDefault("pipeline.stream", "identity:events")
	v.SetDefault("pipeline.group_name", "identity-sub")
	v.SetDefault("pipeline.consumer_workers", 4)
	v.SetDefault("pipeline.max_attempts", 5)
	v.SetDefault("pipeline.base_backoff", "1s")
	v.SetDefault("pipeline.backoff_cap", "5m")
	v.SetDefault("pipeline.claim_idle_timeout", "60s")
	v.SetDefault("pipeline.handler_timeout", "30s")
	v.SetDefault("pipeline.block_interval", "2s")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.url", "")
	v.SetDefault("audit.migrations_path", "migrations")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/africare/identity-sub")
	}

	// Environment variables override
	v.SetEnvPrefix("IDENTITY_SUB")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1")
	}
	if c.Pipeline.ConsumerWorkers < 1 {
		return fmt.Errorf("pipeline.consumer_workers must be at least 1")
	}
	if c.Pipeline.BaseBackoff <= 0 {
		return fmt.Errorf("pipeline.base_backoff must be positive")
	}
	if c.Pipeline.ClaimIdleTimeout <= 0 {
		return fmt.Errorf("pipeline.claim_idle_timeout must be positive")
	}
	if c.Webhook.MaxPastWindow <= 0 || c.Webhook.MaxFutureSkew <= 0 {
		return fmt.Errorf("webhook freshness windows must be positive")
	}
	return nil
}
