package commands

import (
	"github.com/spf13/cobra"

	"github.com/ccollicutt/smartguard/pkg/engine"
	"github.com/ccollicutt/smartguard/pkg/health"
	"github.com/ccollicutt/smartguard/pkg/output"
)

// NewHealthCommand creates the health command.
func NewHealthCommand(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Classify every service by its recent error rate",
		Long: `Classify every known service over the configured health window.

  error    more than 10% of its logs are ERROR
  warning  more than 5% of its logs are ERROR
  healthy  otherwise
  unknown  no logs in the window

Exit codes:
  0 - No service in error
  1 - At least one service in error
  2 - Configuration or runtime error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.Engine.ServiceHealth(ctx)
			if err != nil {
				return err
			}
			if err := render(ctx, g, output.NewHealthReport(h, a.Clock.Now()), cmd.OutOrStdout()); err != nil {
				return err
			}
			for _, sh := range h {
				if sh.Status == health.StatusError {
					ExitCode = 1
					break
				}
			}
			return nil
		},
	}
}

// NewTimelineCommand creates the timeline command.
func NewTimelineCommand(g *GlobalOptions) *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show logs grouped by hour",
		Long: `Show the incident timeline: logs of the last hours grouped into
UTC hours, with per-severity counts. Use --verbose to list every event.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close()

			buckets, err := a.Engine.Timeline(ctx, hours)
			if err != nil {
				return err
			}
			return render(ctx, g, output.NewTimelineReport(buckets, a.Clock.Now()), cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&hours, "hours", engine.DefaultLookback, "How many hours back to show (0 for all)")
	return cmd
}

// NewMetricsCommand creates the metrics command.
func NewMetricsCommand(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show severity counts and error spikes",
		Long: `Show severity totals, per-service counts and hourly error spikes.

An hour is a spike when its ERROR count is more than twice the mean
ERROR count of the non-empty hours in the lookback window.

Exit codes:
  0 - No spikes
  1 - At least one spike
  2 - Configuration or runtime error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close()

			counts, err := a.Engine.SeverityCounts(ctx)
			if err != nil {
				return err
			}
			enhanced, err := a.Engine.EnhancedMetrics(ctx)
			if err != nil {
				return err
			}
			if err := render(ctx, g, output.NewMetricsReport(counts, enhanced, a.Clock.Now()), cmd.OutOrStdout()); err != nil {
				return err
			}
			if len(enhanced.Anomalies) > 0 {
				ExitCode = 1
			}
			return nil
		},
	}
}
