package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	ThrottleBackendMemory = "memory"
	ThrottleBackendRedis  = "redis"

	WhatsAppProviderStub  = "stub"
	WhatsAppProviderCloud = "cloud"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	ThrottleBackend string `env:"THROTTLE_BACKEND,default=memory"`
	ThrottleMS      int    `env:"THROTTLE_MS,default=5000"`
	MaxRetry        int    `env:"MAX_RETRY,default=3"`

	WhatsAppProvider      string `env:"WHATSAPP_PROVIDER,default=stub"`
	WhatsAppAPIURL        string `env:"WHATSAPP_API_URL,default=https://graph.facebook.com/v19.0"`
	WhatsAppToken         string `env:"WHATSAPP_TOKEN"`
	WhatsAppPhoneNumberID string `env:"WHATSAPP_PHONE_NUMBER_ID"`
	StubLatencyMS         int    `env:"STUB_LATENCY_MS,default=200"`

	WorkerConcurrency  int `env:"WORKER_CONCURRENCY,default=4"`
	SweepIntervalSec   int `env:"SWEEP_INTERVAL_SEC,default=60"`
	SweepStaleAfterSec int `env:"SWEEP_STALE_AFTER_SEC,default=600"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ThrottleBackend = strings.ToLower(strings.TrimSpace(cfg.ThrottleBackend))
	cfg.WhatsAppProvider = strings.ToLower(strings.TrimSpace(cfg.WhatsAppProvider))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Validate cross-checks settings that depend on each other.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("DATABASE_DSN must not be empty")
	}

	switch c.ThrottleBackend {
	case ThrottleBackendMemory:
	case ThrottleBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when THROTTLE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported THROTTLE_BACKEND %q", c.ThrottleBackend)
	}

	switch c.WhatsAppProvider {
	case WhatsAppProviderStub:
	case WhatsAppProviderCloud:
		if strings.TrimSpace(c.WhatsAppToken) == "" || strings.TrimSpace(c.WhatsAppPhoneNumberID) == "" {
			return fmt.Errorf("WHATSAPP_TOKEN and WHATSAPP_PHONE_NUMBER_ID are required when WHATSAPP_PROVIDER=cloud")
		}
	default:
		return fmt.Errorf("unsupported WHATSAPP_PROVIDER %q", c.WhatsAppProvider)
	}

	if c.ThrottleMS < 0 {
		return fmt.Errorf("THROTTLE_MS must be >= 0")
	}
	if c.MaxRetry < 1 {
		return fmt.Errorf("MAX_RETRY must be >= 1")
	}
	return nil
}

func (c *Config) ThrottleWindow() time.Duration {
	return time.Duration(c.ThrottleMS) * time.Millisecond
}

func (c *Config) StubLatency() time.Duration {
	return time.Duration(c.StubLatencyMS) * time.Millisecond
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

func (c *Config) SweepStaleAfter() time.Duration {
	return time.Duration(c.SweepStaleAfterSec) * time.Second
}
