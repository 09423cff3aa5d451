package config

import (
	"os"
	"strings"
	"time"

	"github.com/ccollicutt/smartguard/pkg/engine"
	"github.com/ccollicutt/smartguard/pkg/interpreter"
	"github.com/ccollicutt/smartguard/pkg/llm"
	"github.com/ccollicutt/smartguard/pkg/logstore"
	"github.com/ccollicutt/smartguard/pkg/metricscache"
	"github.com/ccollicutt/smartguard/pkg/summarize"
)

// Default values for configuration.
const (
	DefaultListen          = ":8000"
	DefaultRefreshInterval = time.Minute
	DefaultWebhookTimeout  = 10 * time.Second
	DefaultSampleCount     = 100
	DefaultLinePattern     = `^\[(?P<timestamp>[^\]]+)\]\s+(?P<severity>[A-Za-z]+)\s+(?P<service>[\w.-]+):\s*(?P<message>.*)$`
	DefaultLineLayout      = time.RFC3339
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
)

// Environment variable names.
const (
	EnvAPIKey     = "GEMINI_API_KEY"
	EnvListen     = "SMARTGUARD_LISTEN"
	EnvLogLevel   = "SMARTGUARD_LOG_LEVEL"
	EnvLogSources = "SMARTGUARD_LOG_SOURCES"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Services: append([]string(nil), logstore.DefaultServices...),
		Store: StoreConfig{
			Driver: StoreDriverMemory,
			Sample: SampleConfig{Count: DefaultSampleCount, Seed: 1},
		},
		LogSources: []string{},
		LineFormat: LineFormatConfig{
			Format:  LineFormatText,
			Pattern: DefaultLinePattern,
			Layout:  DefaultLineLayout,
		},
		Interpreter: InterpreterConfig{
			Model:   llm.DefaultModel,
			Timeout: interpreter.DefaultTimeout,
		},
		Summarizer: SummarizerConfig{
			MaxAttempts: summarize.DefaultMaxAttempts,
			BackoffStep: summarize.DefaultBackoffStep,
			Workers:     summarize.DefaultWorkers,
			QueueSize:   summarize.DefaultQueueSize,
		},
		Analysis: AnalysisConfig{
			HealthWindow:    engine.DefaultHealthWindow,
			LookbackHours:   engine.DefaultLookback,
			CacheTTL:        metricscache.DefaultTTL,
			RefreshInterval: DefaultRefreshInterval,
		},
		Server: ServerConfig{Listen: DefaultListen},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvironmentOverrides() {
	if c.Interpreter.APIKey == "" {
		c.Interpreter.APIKey = os.Getenv(EnvAPIKey)
	}
	if listen := os.Getenv(EnvListen); listen != "" {
		c.Server.Listen = listen
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = level
	}
	if sources := os.Getenv(EnvLogSources); sources != "" {
		c.LogSources = strings.Split(sources, ",")
	}
}
