// Package app wires the SmartGuard components together from a configuration.
package app

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ccollicutt/smartguard/pkg/assistant"
	"github.com/ccollicutt/smartguard/pkg/config"
	"github.com/ccollicutt/smartguard/pkg/engine"
	"github.com/ccollicutt/smartguard/pkg/ingest"
	"github.com/ccollicutt/smartguard/pkg/interpreter"
	"github.com/ccollicutt/smartguard/pkg/llm"
	"github.com/ccollicutt/smartguard/pkg/logstore"
	"github.com/ccollicutt/smartguard/pkg/monitor"
	"github.com/ccollicutt/smartguard/pkg/parser"
	"github.com/ccollicutt/smartguard/pkg/summarize"
	"github.com/ccollicutt/smartguard/pkg/telemetry"
)

// App holds the wired components of a running SmartGuard process.
type App struct {
	Config   *config.Config
	Store    logstore.Store
	Engine   *engine.Engine
	Metrics  *telemetry.Metrics
	Logger   *zap.Logger
	Clock    clock.Clock
	Parser   parser.LineParser
	Enricher *summarize.Enricher // nil when summarization is disabled
}

type options struct {
	clock  clock.Clock
	model  llm.Model
	logger *zap.Logger
}

// Option configures New.
type Option func(*options)

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithModel uses m instead of building a Gemini client from the configuration.
func WithModel(m llm.Model) Option {
	return func(o *options) { o.model = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New opens the store, builds the engine and seeds the sample corpus.
// Log sources are not read; call Ingest or start a Follower for that.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{clock: clock.New(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	model := o.model
	if model == nil && cfg.Interpreter.APIKey != "" {
		gm, err := llm.NewGenAIModel(ctx, cfg.Interpreter.APIKey, cfg.Interpreter.Model)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		logger.Info("Using hosted model", zap.String("model", gm.Name()))
		model = gm
	}
	if model == nil {
		logger.Info("No model API key configured, natural-language search uses substring matching")
	}

	metrics := telemetry.New()
	interp := interpreter.New(model,
		interpreter.WithTimeout(cfg.Interpreter.Timeout),
		interpreter.WithClock(o.clock),
		interpreter.WithLogger(logger.Named("interpreter")))

	asst := assistant.New(model, assistant.WithLogger(logger.Named("assistant")))

	eng := engine.New(store,
		engine.WithInterpreter(interp),
		engine.WithAssistant(asst),
		engine.WithClock(o.clock),
		engine.WithServices(cfg.Services),
		engine.WithHealthWindow(cfg.Analysis.HealthWindow),
		engine.WithLookbackHours(cfg.Analysis.LookbackHours),
		engine.WithCacheTTL(cfg.Analysis.CacheTTL),
		engine.WithLogger(logger.Named("engine")),
		engine.WithTelemetry(metrics))

	lp, err := parser.New(string(cfg.LineFormat.Format), cfg.LineFormat.CompiledPattern(), cfg.LineFormat.Layout)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("building line parser: %w", err)
	}

	a := &App{
		Config:  cfg,
		Store:   store,
		Engine:  eng,
		Metrics: metrics,
		Logger:  logger,
		Clock:   o.clock,
		Parser:  lp,
	}

	if cfg.Summarizer.Enabled {
		s := summarize.NewSummarizer(model,
			summarize.WithMaxAttempts(cfg.Summarizer.MaxAttempts),
			summarize.WithBackoffStep(cfg.Summarizer.BackoffStep),
			summarize.WithLogger(logger.Named("summarizer")))
		a.Enricher = summarize.NewEnricher(s, a.store,
			summarize.WithWorkers(cfg.Summarizer.Workers),
			summarize.WithQueueSize(cfg.Summarizer.QueueSize),
			summarize.WithEnricherLogger(logger.Named("enricher")))
		a.Enricher.OnFailure = func(logstore.Record) { metrics.SummarizationFailed() }
	}

	if err := a.seedSample(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	return a, nil
}

func openStore(ctx context.Context, sc config.StoreConfig) (logstore.Store, error) {
	switch sc.Driver {
	case config.StoreDriverSQLite:
		return logstore.OpenSQLStore(ctx, sc.DSN)
	default:
		return logstore.NewMemoryStore(), nil
	}
}

// seedSample generates the synthetic corpus into an empty store.
// A persistent store that already holds records is left alone.
func (a *App) seedSample(ctx context.Context) error {
	sc := a.Config.Store.Sample
	if sc.Count <= 0 {
		return nil
	}

	n, err := a.Store.Len(ctx)
	if err != nil {
		return fmt.Errorf("counting stored records: %w", err)
	}
	if n > 0 {
		a.Logger.Debug("Store not empty, skipping sample corpus", zap.Int("records", n))
		return nil
	}

	records := logstore.GenerateSample(logstore.SampleConfig{
		Count:    sc.Count,
		Seed:     sc.Seed,
		Now:      a.Clock.Now(),
		Services: a.Config.Services,
	})
	if err := logstore.LoadAll(ctx, a.Store, records); err != nil {
		return fmt.Errorf("loading sample corpus: %w", err)
	}
	a.Logger.Info("Loaded sample corpus", zap.Int("records", len(records)))
	return nil
}

// store inserts rec through the engine, deriving a summary if it has none.
func (a *App) store(ctx context.Context, rec logstore.Record) error {
	if rec.Summary == "" {
		rec.Summary = summarize.Derive(rec)
	}
	_, err := a.Engine.Ingest(ctx, rec)
	return err
}

// Sink returns where ingested records go: through the enricher when
// summarization is enabled, otherwise straight into the engine.
func (a *App) Sink() ingest.Sink {
	if a.Enricher != nil {
		return a.Enricher.Submit
	}
	return a.store
}

// RunEnricher processes queued summaries until ctx is done or the enricher is
// closed. It returns immediately when summarization is disabled.
func (a *App) RunEnricher(ctx context.Context) error {
	if a.Enricher == nil {
		return nil
	}
	return a.Enricher.Run(ctx)
}

// Ingest reads the configured log sources once and waits until every record
// is stored. It must not be combined with a running RunEnricher.
func (a *App) Ingest(ctx context.Context) (ingest.Stats, error) {
	if len(a.Config.LogSources) == 0 {
		return ingest.Stats{}, nil
	}

	done := make(chan error, 1)
	go func() { done <- a.RunEnricher(ctx) }()

	stats, err := ingest.LoadFiles(ctx, a.Config.LogSources, a.Parser, a.Sink(), a.Logger.Named("ingest"))
	if a.Enricher != nil {
		a.Enricher.Close()
	}
	if runErr := <-done; err == nil {
		err = runErr
	}
	if err != nil {
		return stats, fmt.Errorf("ingesting log sources: %w", err)
	}

	a.Logger.Info("Ingested log sources",
		zap.Int("stored", stats.Stored),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("rejected", stats.Rejected),
		zap.Int("unparsed", stats.Unparsed))
	return stats, nil
}

// Monitor builds the health monitor for the configured webhooks.
func (a *App) Monitor() *monitor.Monitor {
	return monitor.New(a.Engine, a.Config.Webhooks,
		monitor.WithClock(a.Clock),
		monitor.WithInterval(a.Config.Analysis.RefreshInterval),
		monitor.WithLogger(a.Logger.Named("monitor")),
		monitor.WithTelemetry(a.Metrics))
}

// Close stops accepting records and closes the store.
func (a *App) Close() error {
	if a.Enricher != nil {
		a.Enricher.Close()
	}
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
