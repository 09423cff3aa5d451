package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a configuration file. An empty path yields the
// defaults with environment overrides applied.
func Load(_ context.Context, path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- user-provided config path is expected
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks a configuration for errors, fills defaults and compiles regex patterns.
func Validate(cfg *Config) error {
	if len(cfg.Services) == 0 {
		return errors.New("services: at least one service is required")
	}
	for i, s := range cfg.Services {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("services[%d]: name is empty", i)
		}
	}

	if err := validateStore(&cfg.Store); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if err := validateLineFormat(&cfg.LineFormat); err != nil {
		return fmt.Errorf("line_format: %w", err)
	}

	if err := validateInterpreter(&cfg.Interpreter); err != nil {
		return fmt.Errorf("interpreter: %w", err)
	}

	if err := validateSummarizer(&cfg.Summarizer); err != nil {
		return fmt.Errorf("summarizer: %w", err)
	}

	if err := validateAnalysis(&cfg.Analysis); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}

	if err := validateLogging(&cfg.Logging); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	// Webhooks are optional, but validate if present
	for i := range cfg.Webhooks {
		if err := validateWebhook(&cfg.Webhooks[i]); err != nil {
			name := cfg.Webhooks[i].Name
			if name == "" {
				name = cfg.Webhooks[i].URL
			}
			return fmt.Errorf("webhooks[%d] (%s): %w", i, name, err)
		}
	}

	return nil
}

func validateStore(s *StoreConfig) error {
	switch s.Driver {
	case "":
		s.Driver = StoreDriverMemory
	case StoreDriverMemory:
	case StoreDriverSQLite:
		if s.DSN == "" {
			return errors.New("dsn is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("invalid driver %q (must be memory or sqlite)", s.Driver)
	}

	if s.Sample.Count < 0 {
		return errors.New("sample.count must be >= 0")
	}
	return nil
}

// requiredGroups must appear as named groups in a text line pattern.
var requiredGroups = []string{"timestamp", "severity", "service"}

func validateLineFormat(lf *LineFormatConfig) error {
	switch lf.Format {
	case "":
		lf.Format = LineFormatText
	case LineFormatText, LineFormatJSONL:
	default:
		return fmt.Errorf("invalid format %q (must be text or jsonl)", lf.Format)
	}

	if lf.Layout == "" {
		lf.Layout = DefaultLineLayout
	}

	if lf.Format == LineFormatJSONL {
		return nil
	}

	if lf.Pattern == "" {
		lf.Pattern = DefaultLinePattern
	}

	re, err := regexp.Compile(lf.Pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	for _, group := range requiredGroups {
		if re.SubexpIndex(group) < 0 {
			return fmt.Errorf("pattern must have a named group %q", group)
		}
	}

	lf.compiledPattern = re
	return nil
}

func validateInterpreter(ic *InterpreterConfig) error {
	ic.APIKey = expandEnvVar(ic.APIKey)
	if ic.Model == "" {
		ic.Model = DefaultConfig().Interpreter.Model
	}
	if ic.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if ic.Timeout == 0 {
		ic.Timeout = DefaultConfig().Interpreter.Timeout
	}
	return nil
}

func validateSummarizer(sc *SummarizerConfig) error {
	def := DefaultConfig().Summarizer
	if sc.MaxAttempts < 0 || sc.Workers < 0 || sc.QueueSize < 0 || sc.BackoffStep < 0 {
		return errors.New("max_attempts, workers, queue_size and backoff_step must not be negative")
	}
	if sc.MaxAttempts == 0 {
		sc.MaxAttempts = def.MaxAttempts
	}
	if sc.BackoffStep == 0 {
		sc.BackoffStep = def.BackoffStep
	}
	if sc.Workers == 0 {
		sc.Workers = def.Workers
	}
	if sc.QueueSize == 0 {
		sc.QueueSize = def.QueueSize
	}
	return nil
}

func validateAnalysis(ac *AnalysisConfig) error {
	if ac.HealthWindow < 0 {
		return errors.New("health_window must not be negative")
	}
	if ac.LookbackHours < 0 {
		return errors.New("lookback_hours must not be negative")
	}
	if ac.CacheTTL <= 0 {
		ac.CacheTTL = DefaultConfig().Analysis.CacheTTL
	}
	if ac.RefreshInterval <= 0 {
		ac.RefreshInterval = DefaultRefreshInterval
	}
	return nil
}

func validateLogging(lc *LoggingConfig) error {
	switch strings.ToLower(lc.Level) {
	case "":
		lc.Level = DefaultLogLevel
	case "debug", "info", "warn", "error":
		lc.Level = strings.ToLower(lc.Level)
	default:
		return fmt.Errorf("invalid level %q (must be debug, info, warn or error)", lc.Level)
	}

	switch lc.Format {
	case "":
		lc.Format = DefaultLogFormat
	case "json", "console":
	default:
		return fmt.Errorf("invalid format %q (must be json or console)", lc.Format)
	}
	return nil
}

func validateWebhook(wh *WebhookConfig) error {
	if wh.URL == "" {
		return errors.New("url is required")
	}

	// Validate URL format
	u, err := url.Parse(wh.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("url must have a host")
	}

	wh.Token = expandEnvVar(wh.Token)

	switch wh.Trigger {
	case "":
		wh.Trigger = WebhookTriggerOnAlert
	case WebhookTriggerOnAlert, WebhookTriggerAlways, WebhookTriggerNever:
	default:
		return fmt.Errorf("invalid trigger %q (must be on_alert, always, or never)", wh.Trigger)
	}

	if wh.Retries < 0 {
		return errors.New("retries must be >= 0")
	}

	if wh.Timeout <= 0 {
		wh.Timeout = DefaultWebhookTimeout
	}

	return nil
}

// expandEnvVar expands environment variables in the format ${VAR} or $VAR.
func expandEnvVar(s string) string {
	if s == "" {
		return s
	}

	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}

	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}

	return s
}
