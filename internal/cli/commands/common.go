package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ccollicutt/smartguard/internal/app"
	"github.com/ccollicutt/smartguard/internal/logging"
	"github.com/ccollicutt/smartguard/pkg/config"
	"github.com/ccollicutt/smartguard/pkg/output"
)

// ExitCode is set by commands to indicate the result.
var ExitCode = 0

// SkipSetup marks commands that do not load the configuration.
const SkipSetup = "skip-setup"

// GlobalOptions holds the persistent flags and what the root command builds from them.
type GlobalOptions struct {
	ConfigPath string
	Output     string
	Verbose    bool
	Quiet      bool

	Config *config.Config
	Logger *zap.Logger
}

// Setup loads the configuration and builds the logger. --verbose forces debug logging.
func (g *GlobalOptions) Setup(ctx context.Context) error {
	cfg, err := config.Load(ctx, g.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := cfg.Logging.Level
	if g.Verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Logging.Format)
	if err != nil {
		return err
	}

	g.Config = cfg
	g.Logger = logger
	return nil
}

// Sync flushes the logger.
func (g *GlobalOptions) Sync() {
	if g.Logger != nil {
		_ = g.Logger.Sync()
	}
}

func (g *GlobalOptions) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

// openApp builds the application and loads the configured log sources.
func openApp(ctx context.Context, g *GlobalOptions) (*app.App, error) {
	if g.Config == nil {
		if err := g.Setup(ctx); err != nil {
			return nil, err
		}
	}

	a, err := app.New(ctx, g.Config, app.WithLogger(g.logger()))
	if err != nil {
		return nil, fmt.Errorf("starting smartguard: %w", err)
	}
	if _, err := a.Ingest(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func render(ctx context.Context, g *GlobalOptions, report *output.Report, w io.Writer) error {
	formatter, err := output.New(g.Output, output.FormatOptions{Verbose: g.Verbose, Quiet: g.Quiet})
	if err != nil {
		return err
	}
	if err := formatter.Format(ctx, report, w); err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
