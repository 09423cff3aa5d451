package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ccollicutt/smartguard/internal/api"
	"github.com/ccollicutt/smartguard/internal/app"
	"github.com/ccollicutt/smartguard/pkg/ingest"
	"github.com/ccollicutt/smartguard/pkg/parser"
)

type serveOptions struct {
	listen    string
	follow    bool
	noMonitor bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(g *GlobalOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the SmartGuard HTTP API.

Configured log sources are loaded in the background while the server
starts. With --follow, new lines appended to those files are ingested as
they are written. Unless --no-monitor is given, service health is checked
every analysis.refresh_interval and webhooks are notified.`,
		Example: `  smartguard serve --config smartguard.yaml --follow`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(commandContext(cmd), g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.listen, "listen", "", "Listen address (overrides server.listen)")
	cmd.Flags().BoolVar(&opts.follow, "follow", false, "Ingest lines appended to log sources")
	cmd.Flags().BoolVar(&opts.noMonitor, "no-monitor", false, "Do not run the health monitor")
	return cmd
}

func runServe(ctx context.Context, g *GlobalOptions, opts *serveOptions) error {
	if g.Config == nil {
		if err := g.Setup(ctx); err != nil {
			return err
		}
	}
	logger := g.logger()

	a, err := app.New(ctx, g.Config, app.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("starting smartguard: %w", err)
	}
	defer a.Close()

	addr := g.Config.Server.Listen
	if opts.listen != "" {
		addr = opts.listen
	}

	serverOpts := []api.Option{
		api.WithTelemetry(a.Metrics),
		api.WithClock(a.Clock),
		api.WithLogger(logger.Named("api")),
	}
	if a.Enricher != nil {
		serverOpts = append(serverOpts, api.WithQueue(a.Enricher.Submit))
	}
	mon := a.Monitor()
	serverOpts = append(serverOpts, api.WithNotifier(mon.Notify))
	server := api.NewServer(a.Engine, serverOpts...)

	var follower *ingest.Follower
	if opts.follow {
		follower, err = newFollower(a, g.Config.LogSources, logger.Named("follow"))
		if err != nil {
			return err
		}
	}

	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		return a.RunEnricher(ctx)
	})

	if len(g.Config.LogSources) > 0 {
		grp.Go(func() error {
			stats, err := ingest.LoadFiles(ctx, g.Config.LogSources, a.Parser, a.Sink(), logger.Named("ingest"))
			if err != nil {
				return fmt.Errorf("ingesting log sources: %w", err)
			}
			logger.Info("Ingested log sources",
				zap.Int("stored", stats.Stored),
				zap.Int("duplicates", stats.Duplicates),
				zap.Int("rejected", stats.Rejected),
				zap.Int("unparsed", stats.Unparsed))
			return nil
		})
	}

	if follower != nil {
		grp.Go(func() error {
			return follower.Run(ctx)
		})
	}

	if !opts.noMonitor {
		grp.Go(func() error {
			return mon.Run(ctx)
		})
	}

	grp.Go(func() error {
		return api.Serve(ctx, addr, server, logger)
	})

	return grp.Wait()
}

// newFollower tails every plain-text log source from its current end.
func newFollower(a *app.App, patterns []string, logger *zap.Logger) (*ingest.Follower, error) {
	files, err := parser.ExpandGlobs(patterns)
	if err != nil {
		return nil, err
	}

	follower, err := ingest.NewFollower(a.Parser, a.Sink(), logger)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if strings.HasSuffix(f, ".zst") {
			logger.Info("Not following compressed file", zap.String("path", f))
			continue
		}
		if err := follower.Add(f, false); err != nil {
			_ = follower.Close()
			return nil, err
		}
	}
	return follower, nil
}
