package core

import (
	"fmt"
	"strings"
	"time"
)

type WebhookConfig struct {
	BaseURL         string        `koanf:"base_url" mapstructure:"base_url"`
	MaxPayloadBytes int64         `koanf:"max_payload_bytes" mapstructure:"max_payload_bytes"`
	ReplayWindow    time.Duration `koanf:"replay_window" mapstructure:"replay_window"`
}

type ProcessingConfig struct {
	MaxAttempts     int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	RetryBaseDelay  time.Duration `koanf:"retry_base_delay" mapstructure:"retry_base_delay"`
	StalenessWindow time.Duration `koanf:"staleness_window" mapstructure:"staleness_window"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	ProviderID  string           `koanf:"provider_id" mapstructure:"provider_id"`
	Webhook     WebhookConfig    `koanf:"webhook" mapstructure:"webhook"`
	Processing  ProcessingConfig `koanf:"processing" mapstructure:"processing"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "marketplace",
		ProviderID:  "marketplace",
		Webhook: WebhookConfig{
			MaxPayloadBytes: 1024,
			ReplayWindow:    time.Hour,
		},
		Processing: ProcessingConfig{
			MaxAttempts:     5,
			RetryBaseDelay:  time.Second,
			StalenessWindow: 15 * time.Minute,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.ProviderID) == "" {
		return fmt.Errorf("core: provider_id is required")
	}
	if c.Webhook.MaxPayloadBytes <= 0 {
		return fmt.Errorf("core: webhook.max_payload_bytes must be positive")
	}
	if c.Webhook.ReplayWindow <= 0 {
		return fmt.Errorf("core: webhook.replay_window must be positive")
	}
	if c.Processing.MaxAttempts <= 0 {
		return fmt.Errorf("core: processing.max_attempts must be positive")
	}
	if c.Processing.RetryBaseDelay <= 0 {
		return fmt.Errorf("core: processing.retry_base_delay must be positive")
	}
	return nil
}
