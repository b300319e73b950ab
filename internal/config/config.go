package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Client     ClientConfig     `mapstructure:"client" validate:"required"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Anki       AnkiConfig       `mapstructure:"anki" validate:"required"`
	Generation GenerationConfig `mapstructure:"generation"`
	Sync       SyncConfig       `mapstructure:"sync"`
}

// ClientConfig contains settings for reaching the generation service.
type ClientConfig struct {
	ServerURL      string        `mapstructure:"server_url" validate:"required,url"`
	LogLevel       string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`

	// MaxRetries bounds retries of idempotent reads after transient failures.
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"gt=0"`
}

// StorageConfig controls where durable client state lives.
type StorageConfig struct {
	// Path is the SQLite database file. Empty keeps state in memory only.
	Path string `mapstructure:"path"`
}

// AnkiConfig contains settings for the external flashcard application.
type AnkiConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// GenerationConfig contains settings for generation runs.
type GenerationConfig struct {
	// StreamIdleTimeout fails a run whose stream delivers no event for this
	// long. Zero disables the watchdog.
	StreamIdleTimeout time.Duration `mapstructure:"stream_idle_timeout" validate:"gte=0"`
	DefaultModel      string        `mapstructure:"default_model"`
}

// SyncConfig contains settings for the sync-to-Anki workflow.
type SyncConfig struct {
	// SuccessBannerTTL is how long the sync success flag stays set.
	SuccessBannerTTL time.Duration `mapstructure:"success_banner_ttl" validate:"gt=0"`
}
