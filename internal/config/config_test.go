package config

import (
	"testing"
	"time"
)

func TestLoad_WithDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg == nil {
		t.Fatal("Load() returned nil config")
	}

	if cfg.Server.Port != 8094 {
		t.Errorf("Server.Port = %d, want 8094", cfg.Server.Port)
	}

	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}

	if cfg.Webhook.MaxPastWindow != 720*time.Hour {
		t.Errorf("Webhook.MaxPastWindow = %v, want 720h", cfg.Webhook.MaxPastWindow)
	}

	if cfg.Webhook.MaxFutureSkew != time.Hour {
		t.Errorf("Webhook.MaxFutureSkew = %v, want 1h", cfg.Webhook.MaxFutureSkew)
	}

	if cfg.Pipeline.Stream != "identity:events" {
		t.Errorf("Pipeline.Stream = %q, want identity:events", cfg.Pipeline.Stream)
	}

	if cfg.Pipeline.GroupName != "identity-sub" {
		t.Errorf("Pipeline.GroupName = %q, want identity-sub", cfg.Pipeline.GroupName)
	}

	if cfg.Pipeline.MaxAttempts != 5 {
		t.Errorf("Pipeline.MaxAttempts = %d, want 5", cfg.Pipeline.MaxAttempts)
	}

	if cfg.Pipeline.ClaimIdleTimeout != 60*time.Second {
		t.Errorf("Pipeline.ClaimIdleTimeout = %v, want 60s", cfg.Pipeline.ClaimIdleTimeout)
	}

	if cfg.Pipeline.BaseBackoff != time.Second {
		t.Errorf("Pipeline.BaseBackoff = %v, want 1s", cfg.Pipeline.BaseBackoff)
	}

	if cfg.NATS.Enabled {
		t.Error("NATS should be disabled by default")
	}

	if cfg.Audit.Enabled {
		t.Error("Audit should be disabled by default")
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero max attempts",
			mutate:  func(c *Config) { c.Pipeline.MaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Pipeline.ConsumerWorkers = 0 },
			wantErr: true,
		},
		{
			name:    "negative base backoff",
			mutate:  func(c *Config) { c.Pipeline.BaseBackoff = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero claim idle timeout",
			mutate:  func(c *Config) { c.Pipeline.ClaimIdleTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero past window",
			mutate:  func(c *Config) { c.Webhook.MaxPastWindow = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() error = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}
