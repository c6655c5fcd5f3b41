// Package config provides configuration loading from environment variables.
package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
)

// ServiceConfig holds configuration for the depot jobs service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	DatabaseURL       string        // Postgres DSN; empty selects the file catalog and in-memory job data
	NATSURL           string        // Job event publishing; empty disables it
	SubmitRate        float64       // Job submissions per second across all callers (0 disables limiting)
	SubmitBurst       int
}

// JobConfig holds configuration for the job service worker pool and retention.
type JobConfig struct {
	Workers             int
	QueueSize           int
	Retention           time.Duration // How long terminal jobs and their data are kept
	MaintenanceSchedule string        // cron spec for the retention sweep
}

// LocalizationConfig holds configuration for natural languages and message resources.
type LocalizationConfig struct {
	LanguagesFile string   // YAML catalog used when no database is configured
	MessagesDir   string   // Directory holding <base>[_<code>].properties files
	BaseNames     []string // Message resource base names, in merge order
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		DatabaseURL:       GetSecretFile(GetEnv("DATABASE_URL_FILE", "")),
		NATSURL:           GetEnv("NATS_URL", ""),
		SubmitRate:        GetFloatEnv("SUBMIT_RATE", 20),
		SubmitBurst:       GetIntEnv("SUBMIT_BURST", 40),
	}
}

// LoadJobConfig loads job service configuration from environment variables.
func LoadJobConfig() JobConfig {
	return JobConfig{
		Workers:             GetIntEnv("JOB_WORKERS", 2),
		QueueSize:           GetIntEnv("JOB_QUEUE_SIZE", 256),
		Retention:           GetDurationEnv("JOB_RETENTION", 2*time.Hour),
		MaintenanceSchedule: GetEnv("JOB_MAINTENANCE_SCHEDULE", "@every 1m"),
	}
}

// LoadLocalizationConfig loads localization configuration from environment variables.
func LoadLocalizationConfig() LocalizationConfig {
	return LocalizationConfig{
		LanguagesFile: GetEnv("LANGUAGES_FILE", "config/naturallanguages.yaml"),
		MessagesDir:   GetEnv("MESSAGES_DIR", "messages"),
		BaseNames:     GetListEnv("MESSAGE_BASE_NAMES", []string{"messages", "naturallanguages"}),
	}
}
