// Package engine exposes the log query and analytics operations over a store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ccollicutt/smartguard/pkg/anomaly"
	"github.com/ccollicutt/smartguard/pkg/assistant"
	"github.com/ccollicutt/smartguard/pkg/health"
	"github.com/ccollicutt/smartguard/pkg/interpreter"
	"github.com/ccollicutt/smartguard/pkg/logstore"
	"github.com/ccollicutt/smartguard/pkg/metricscache"
	"github.com/ccollicutt/smartguard/pkg/query"
	"github.com/ccollicutt/smartguard/pkg/telemetry"
)

// Default limits and windows.
const (
	DefaultSearchLimit  = query.DefaultLimit
	DefaultAlertLimit   = 10
	DisplayLimit        = query.DefaultLimit
	DefaultHealthWindow = 24 * time.Hour
	DefaultLookback     = 24
	ChatContextLogs     = 20
)

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// SearchFilters are the structured search parameters.
type SearchFilters struct {
	// Service restricts results to one service. Empty means any.
	Service string

	// Severity restricts results to one severity. Empty means any.
	Severity string

	// Text is a case-insensitive substring matched against the raw message,
	// summary and service. Empty means any.
	Text string

	// Limit caps the result count. Nil means DefaultSearchLimit; zero or
	// less returns no records.
	Limit *int
}

// NaturalSearchResult is the outcome of a natural-language search.
type NaturalSearchResult struct {
	// Plan is the filter plan the query was interpreted as.
	Plan query.Plan `json:"plan"`

	// Matches holds at most DisplayLimit records, newest first.
	Matches []logstore.Record `json:"logs"`

	// TotalMatched counts every match before truncation.
	TotalMatched int `json:"total_found"`
}

// EnhancedMetrics combines hourly and per-service counts with detected spikes.
type EnhancedMetrics struct {
	HourlyMetrics  []anomaly.HourlyMetric  `json:"hourly_metrics"`
	ServiceMetrics []anomaly.ServiceMetric `json:"service_metrics"`
	Anomalies      []anomaly.Event         `json:"anomalies"`
}

// Engine answers queries and derives health views from a log store.
type Engine struct {
	store       logstore.Store
	interpreter *interpreter.Interpreter
	assistant   *assistant.Assistant
	health      *health.Analyzer
	detector    *anomaly.Detector
	cache       *metricscache.Cache
	metrics     *telemetry.Metrics
	clock       clock.Clock
	logger      *zap.Logger

	services     []string
	healthWindow time.Duration
	lookback     int
	cacheTTL     time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithInterpreter sets the natural-language interpreter.
func WithInterpreter(i *interpreter.Interpreter) Option {
	return func(e *Engine) { e.interpreter = i }
}

// WithAssistant sets the chat and batch-analysis assistant.
func WithAssistant(a *assistant.Assistant) Option {
	return func(e *Engine) { e.assistant = a }
}

// WithClock sets the clock used for windows and buckets.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithServices sets the service catalog. Services observed in the corpus are
// always added to it.
func WithServices(services []string) Option {
	return func(e *Engine) { e.services = slices.Clone(services) }
}

// WithHealthWindow sets how far back health is computed. Zero or less means the whole corpus.
func WithHealthWindow(d time.Duration) Option {
	return func(e *Engine) { e.healthWindow = d }
}

// WithLookbackHours sets the anomaly lookback. Zero or less means the whole corpus.
func WithLookbackHours(h int) Option {
	return func(e *Engine) { e.lookback = h }
}

// WithCacheTTL sets the lifetime of cached metrics.
func WithCacheTTL(d time.Duration) Option {
	return func(e *Engine) { e.cacheTTL = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTelemetry sets the Prometheus counters.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine over store. If the store supports insert
// notifications, every insert clears the metrics cache.
func New(store logstore.Store, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		clock:        clock.New(),
		logger:       zap.NewNop(),
		services:     slices.Clone(logstore.DefaultServices),
		healthWindow: DefaultHealthWindow,
		lookback:     DefaultLookback,
		cacheTTL:     metricscache.DefaultTTL,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.interpreter == nil {
		e.interpreter = interpreter.New(nil, interpreter.WithClock(e.clock), interpreter.WithLogger(e.logger))
	}
	if e.assistant == nil {
		e.assistant = assistant.New(nil, assistant.WithLogger(e.logger))
	}
	e.health = health.NewAnalyzer(e.clock)
	e.detector = anomaly.NewDetector(e.clock)
	e.cache = metricscache.New(e.cacheTTL)
	e.metrics.RegisterCache(e.cache)

	if n, ok := store.(logstore.Notifier); ok {
		n.OnInsert(func(logstore.Record) { e.cache.Invalidate() })
	}
	return e
}

// Cache returns the metrics cache, for stats and manual invalidation.
func (e *Engine) Cache() *metricscache.Cache {
	return e.cache
}

// Ingest stores one record. The cache is invalidated by the store hook; when
// the store has no hook it is invalidated here.
func (e *Engine) Ingest(ctx context.Context, rec logstore.Record) (logstore.Record, error) {
	stored, err := e.store.Insert(ctx, rec)
	if err != nil {
		e.metrics.RecordRejected()
		return logstore.Record{}, err
	}
	if _, ok := e.store.(logstore.Notifier); !ok {
		e.cache.Invalidate()
	}
	e.metrics.RecordIngested(string(stored.Severity))
	return stored, nil
}

// Records returns the current corpus in insertion order.
func (e *Engine) Records(ctx context.Context) (logstore.Corpus, error) {
	corpus, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading log store: %w", err)
	}
	return corpus, nil
}

// KnownServices returns the catalog followed by any other service seen in the corpus.
func (e *Engine) KnownServices(ctx context.Context) ([]string, error) {
	corpus, err := e.Records(ctx)
	if err != nil {
		return nil, err
	}
	return e.knownServices(corpus), nil
}

func (e *Engine) knownServices(corpus logstore.Corpus) []string {
	return lo.Uniq(append(slices.Clone(e.services), corpus.Services()...))
}

// Search runs a structured filter without interpretation.
func (e *Engine) Search(ctx context.Context, f SearchFilters) ([]logstore.Record, error) {
	plan := query.Plan{Origin: query.OriginStructured, FreeText: strings.TrimSpace(f.Text)}

	if f.Service != "" {
		plan.Services = []string{f.Service}
	}
	if f.Severity != "" {
		sev, err := logstore.ParseSeverity(f.Severity)
		if err != nil {
			return nil, &ValidationError{Field: "severity", Reason: strconv.Quote(f.Severity) + " is not one of ERROR, WARNING, INFO"}
		}
		plan.Severities = []logstore.Severity{sev}
	}

	corpus, err := e.Records(ctx)
	if err != nil {
		return nil, err
	}

	e.metrics.QueryServed(telemetry.QuerySearch)
	return query.Apply(plan, corpus.All(), limitOr(f.Limit, DefaultSearchLimit)), nil
}

// NaturalSearch interprets q and runs the resulting plan. Interpretation
// failures are absorbed by the fallback plan; only an empty query is rejected.
func (e *Engine) NaturalSearch(ctx context.Context, q string) (*NaturalSearchResult, error) {
	if strings.TrimSpace(q) == "" {
		return nil, &ValidationError{Field: "query", Reason: "query is required"}
	}

	corpus, err := e.Records(ctx)
	if err != nil {
		return nil, err
	}

	plan := e.interpreter.Interpret(ctx, q, e.knownServices(corpus))
	if plan.Origin == query.OriginFallback {
		e.metrics.InterpreterFellBack()
	}

	matches := query.Match(plan, corpus.All())
	e.metrics.QueryServed(telemetry.QueryNatural)

	e.logger.Debug("Natural search",
		zap.String("query", q),
		zap.String("origin", string(plan.Origin)),
		zap.Int("matched", len(matches)))

	return &NaturalSearchResult{
		Plan:         plan,
		Matches:      query.Truncate(matches, DisplayLimit),
		TotalMatched: len(matches),
	}, nil
}

// Alerts returns the newest ERROR records.
func (e *Engine) Alerts(ctx context.Context, limit *int) ([]logstore.Record, error) {
	corpus, err := e.Records(ctx)
	if err != nil {
		return nil, err
	}
	plan := query.Plan{
		Severities: []logstore.Severity{logstore.SeverityError},
		Origin:     query.OriginStructured,
	}
	e.metrics.QueryServed(telemetry.QueryAlerts)
	return query.Apply(plan, corpus.All(), limitOr(limit, DefaultAlertLimit)), nil
}

// ServiceHealth classifies every known service over the health window.
// The returned map is a copy the caller may modify.
func (e *Engine) ServiceHealth(ctx context.Context) (map[string]health.ServiceHealth, error) {
	shared := context.WithoutCancel(ctx)
	result, err := metricscache.GetOrCompute(e.cache, "service-health", e.cacheTTL, func() (map[string]health.ServiceHealth, error) {
		corpus, err := e.Records(shared)
		if err != nil {
			return nil, err
		}
		return e.health.Analyze(corpus.All(), e.knownServices(corpus), e.healthWindow), nil
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]health.ServiceHealth, len(result))
	for name, h := range result {
		if h.LastSeen != nil {
			seen := *h.LastSeen
			h.LastSeen = &seen
		}
		out[name] = h
	}
	return out, nil
}

// SeverityCounts counts the whole corpus by severity.
func (e *Engine) SeverityCounts(ctx context.Context) (anomaly.Counts, error) {
	shared := context.WithoutCancel(ctx)
	return metricscache.GetOrCompute(e.cache, "severity-counts", e.cacheTTL, func() (anomaly.Counts, error) {
		corpus, err := e.Records(shared)
		if err != nil {
			return anomaly.Counts{}, err
		}
		return anomaly.CountSeverities(corpus.All()), nil
	})
}

// Timeline returns the non-empty hours of the last hours, oldest first.
// Zero hours covers the whole corpus; negative hours are rejected.
func (e *Engine) Timeline(ctx context.Context, hours int) ([]anomaly.TimelineBucket, error) {
	if hours < 0 {
		return nil, &ValidationError{Field: "hours", Reason: "must not be negative"}
	}
	corpus, err := e.Records(ctx)
	if err != nil {
		return nil, err
	}
	return e.detector.Timeline(corpus.All(), hours), nil
}

// Anomalies returns the error spikes in the lookback window.
func (e *Engine) Anomalies(ctx context.Context) ([]anomaly.Event, error) {
	m, err := e.EnhancedMetrics(ctx)
	if err != nil {
		return nil, err
	}
	return m.Anomalies, nil
}

// EnhancedMetrics returns hourly and per-service counts together with spikes.
func (e *Engine) EnhancedMetrics(ctx context.Context) (*EnhancedMetrics, error) {
	shared := context.WithoutCancel(ctx)
	m, err := metricscache.GetOrCompute(e.cache, "enhanced-metrics", e.cacheTTL, func() (EnhancedMetrics, error) {
		corpus, err := e.Records(shared)
		if err != nil {
			return EnhancedMetrics{}, err
		}
		buckets := e.detector.Buckets(corpus.All(), e.lookback)
		return EnhancedMetrics{
			HourlyMetrics:  anomaly.HourlyMetrics(buckets),
			ServiceMetrics: anomaly.ServiceMetrics(corpus.All(), e.knownServices(corpus)),
			Anomalies:      anomaly.Spikes(buckets),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &EnhancedMetrics{
		HourlyMetrics:  slices.Clone(m.HourlyMetrics),
		ServiceMetrics: slices.Clone(m.ServiceMetrics),
		Anomalies:      slices.Clone(m.Anomalies),
	}, nil
}

func limitOr(limit *int, def int) int {
	if limit == nil {
		return def
	}
	return *limit
}
