package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ccollicutt/smartguard/pkg/engine"
	"github.com/ccollicutt/smartguard/pkg/output"
)

// SearchOptions holds command-line options for the search command.
type SearchOptions struct {
	Service  string
	Severity string
	Text     string
	Limit    int
}

// NewSearchCommand creates the search command.
func NewSearchCommand(g *GlobalOptions) *cobra.Command {
	opts := &SearchOptions{}

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Filter logs by service, severity and text",
		Long: `Filter stored logs by exact service name and severity, and by
case-insensitive text found in the message, summary or service name.

Results are sorted newest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close()

			filters := engine.SearchFilters{Service: opts.Service, Severity: opts.Severity, Text: opts.Text}
			if cmd.Flags().Changed("limit") {
				filters.Limit = &opts.Limit
			}
			records, err := a.Engine.Search(ctx, filters)
			if err != nil {
				return err
			}
			return render(ctx, g, output.NewRecordsReport(records, a.Clock.Now()), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Service, "service", "", "Only logs from this service")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "Only logs of this severity (ERROR|WARNING|INFO)")
	cmd.Flags().StringVarP(&opts.Text, "text", "t", "", "Only logs containing this text")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", engine.DefaultSearchLimit, "Maximum number of results")

	return cmd
}

// NewAskCommand creates the ask command.
func NewAskCommand(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question...>",
		Short: "Search logs with a natural-language question",
		Long: `Interpret a natural-language question into filters and run them.

With a configured model API key the question is turned into service,
severity and time range filters. Without one, or when the model fails,
the question is matched as plain text against messages, summaries and
service names.`,
		Example: `  smartguard ask "payment errors in the last hour"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Engine.NaturalSearch(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return render(ctx, g, output.NewSearchReport(res, a.Clock.Now()), cmd.OutOrStdout())
		},
	}
}

// NewAlertsCommand creates the alerts command.
func NewAlertsCommand(g *GlobalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show the most recent ERROR logs",
		Long: `Show the most recent ERROR logs, newest first.

Exit codes:
  0 - No ERROR logs
  1 - ERROR logs present
  2 - Configuration or runtime error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close()

			alerts, err := a.Engine.Alerts(ctx, &limit)
			if err != nil {
				return err
			}
			if err := render(ctx, g, output.NewRecordsReport(alerts, a.Clock.Now()), cmd.OutOrStdout()); err != nil {
				return err
			}
			if len(alerts) > 0 {
				ExitCode = 1
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", engine.DefaultAlertLimit, "Maximum number of alerts")
	return cmd
}
