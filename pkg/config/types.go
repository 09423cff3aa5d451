// Package config provides configuration loading and validation for SmartGuard.
package config

import (
	"regexp"
	"time"
)

// Config is the root configuration structure loaded from YAML.
type Config struct {
	// Services is the known service catalog. Services seen in the logs are
	// added to it at runtime.
	Services []string `yaml:"services"`

	Store       StoreConfig       `yaml:"store"`
	LogSources  []string          `yaml:"log_sources,omitempty"`
	LineFormat  LineFormatConfig  `yaml:"line_format"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Server      ServerConfig      `yaml:"server"`
	Webhooks    []WebhookConfig   `yaml:"webhooks,omitempty"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StoreDriver selects the log store implementation.
type StoreDriver string

const (
	StoreDriverMemory StoreDriver = "memory"
	StoreDriverSQLite StoreDriver = "sqlite"
)

// StoreConfig defines where records are kept.
type StoreConfig struct {
	// Driver is memory or sqlite. Defaults to memory.
	Driver StoreDriver `yaml:"driver"`

	// DSN is the SQLite database path. Required for the sqlite driver.
	DSN string `yaml:"dsn,omitempty"`

	// Sample seeds the store with a synthetic corpus at startup.
	Sample SampleConfig `yaml:"sample"`
}

// SampleConfig controls the synthetic startup corpus.
type SampleConfig struct {
	// Count is the number of records to generate. Zero disables the sample.
	Count int `yaml:"count"`

	// Seed makes the corpus reproducible.
	Seed uint64 `yaml:"seed"`
}

// LineFormat names a log file encoding.
type LineFormat string

const (
	LineFormatText  LineFormat = "text"
	LineFormatJSONL LineFormat = "jsonl"
)

// LineFormatConfig defines how log files are turned into records.
type LineFormatConfig struct {
	// Format is text (regex per line) or jsonl (one JSON record per line).
	Format LineFormat `yaml:"format"`

	// Pattern is a regex with the named groups timestamp, severity and
	// service, and optionally message. Used by the text format.
	Pattern string `yaml:"pattern,omitempty"`

	// Layout is the Go time layout of the captured timestamp.
	// See https://pkg.go.dev/time#pkg-constants for format.
	Layout string `yaml:"layout,omitempty"`

	// compiledPattern is the pre-compiled regex (populated during validation).
	compiledPattern *regexp.Regexp
}

// CompiledPattern returns the pre-compiled line regex.
func (l *LineFormatConfig) CompiledPattern() *regexp.Regexp {
	return l.compiledPattern
}

// InterpreterConfig configures the natural-language query model.
type InterpreterConfig struct {
	// Model is the Gemini model name.
	Model string `yaml:"model"`

	// APIKey authenticates against the model API. Supports ${VAR} expansion.
	// Without a key every query uses the substring fallback.
	APIKey string `yaml:"api_key,omitempty"`

	// Timeout bounds a single interpretation call.
	Timeout time.Duration `yaml:"timeout"`
}

// SummarizerConfig configures background log summarization.
type SummarizerConfig struct {
	// Enabled turns on model summaries for ingested records without one.
	Enabled bool `yaml:"enabled"`

	// MaxAttempts is the number of model calls per record.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffStep is the linear retry delay increment.
	BackoffStep time.Duration `yaml:"backoff_step"`

	// Workers is the number of concurrent summarizations.
	Workers int `yaml:"workers"`

	// QueueSize is how many records may wait for a worker.
	QueueSize int `yaml:"queue_size"`
}

// AnalysisConfig configures health and anomaly views.
type AnalysisConfig struct {
	// HealthWindow is how far back service health looks. Zero means all records.
	HealthWindow time.Duration `yaml:"health_window"`

	// LookbackHours is the spike detection window. Zero means all records.
	LookbackHours int `yaml:"lookback_hours"`

	// CacheTTL bounds how long derived metrics are reused.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// RefreshInterval is how often the monitor recomputes health and spikes.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Listen is the address the API binds to.
	Listen string `yaml:"listen"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is json or console.
	Format string `yaml:"format"`
}

// WebhookTrigger determines when a webhook fires.
type WebhookTrigger string

const (
	// WebhookTriggerOnAlert fires when a service enters error or a spike appears (default).
	WebhookTriggerOnAlert WebhookTrigger = "on_alert"
	// WebhookTriggerAlways also sends a status digest on every refresh.
	WebhookTriggerAlways WebhookTrigger = "always"
	// WebhookTriggerNever disables the webhook.
	WebhookTriggerNever WebhookTrigger = "never"
)

// WebhookConfig defines an alert endpoint.
type WebhookConfig struct {
	// Name is an optional identifier for the webhook.
	Name string `yaml:"name,omitempty"`

	// URL is the webhook endpoint (required).
	URL string `yaml:"url"`

	// Token is an optional bearer token for authentication.
	Token string `yaml:"token,omitempty"`

	// Trigger determines when the webhook fires.
	// Defaults to "on_alert" if not specified.
	Trigger WebhookTrigger `yaml:"trigger,omitempty"`

	// Timeout is the HTTP request timeout.
	// Defaults to 10s if not specified.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Retries is how many times a failed delivery is retried with
	// exponential backoff. Zero disables retries.
	Retries int `yaml:"retries,omitempty"`
}
