package events

import (
	"time"

	"depot/internal/config"
)

// Delivery defaults - these rarely need tuning.
const (
	defaultMaxRetries       = 3
	defaultInitialBackoff   = 100 * time.Millisecond
	defaultMaxBackoff       = 5 * time.Second
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10
)

// Config holds configuration for the event dispatcher.
type Config struct {
	BufferSize     int           // pending events buffer (default: 1024)
	Workers        int           // concurrent publishing goroutines (default: 2)
	PublishTimeout time.Duration // per-event timeout including retries (default: 10s)
	Source         string        // CloudEvent source attribute (default: /depot/jobs)
	SubjectPrefix  string        // NATS subject prefix (default: depot.jobs)
	SigningKey     string        // HMAC key for signing, empty = no signing
	RequeueDelay   time.Duration // wait before retrying behind an open circuit (default: breaker cooldown)
}

// LoadConfigFromEnv loads event configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		BufferSize:     config.GetIntEnv("EVENTS_BUFFER_SIZE", 1024),
		Workers:        config.GetIntEnv("EVENTS_WORKERS", 2),
		PublishTimeout: config.GetDurationEnv("EVENTS_PUBLISH_TIMEOUT", 10*time.Second),
		Source:         config.GetEnv("EVENTS_SOURCE", "/depot/jobs"),
		SubjectPrefix:  config.GetEnv("EVENTS_SUBJECT_PREFIX", "depot.jobs"),
		SigningKey:     config.GetSecretFile(config.GetEnv("EVENTS_SIGNING_KEY_FILE", "")),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	if c.Source == "" {
		c.Source = "/depot/jobs"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "depot.jobs"
	}
	if c.RequeueDelay <= 0 {
		c.RequeueDelay = defaultBreakerCooldown
	}
	return c
}
