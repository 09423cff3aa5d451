// Package cli provides the command-line interface for SmartGuard.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ccollicutt/smartguard/internal/cli/commands"
)

// Execute runs the root command and returns the exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Print error to stderr (SilenceErrors prevents Cobra from doing this)
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2 // Configuration or runtime error
	}
	return commands.ExitCode
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	g := &commands.GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "smartguard",
		Short: "Query, interpret and analyze service logs",
		Long: `SmartGuard stores service logs and answers questions about them.

It provides:
  - Structured and natural-language log search
  - Per-service health from recent error rates
  - Hourly timelines and error spike detection
  - An assistant for free-form questions and batch log analysis
  - An HTTP API with webhook notifications on health changes

Without a configuration file SmartGuard starts with a generated sample
corpus. Set GEMINI_API_KEY to interpret questions with a hosted model.

Exit codes:
  0 - Success, nothing to report
  1 - Findings (errors, unhealthy services or spikes)
  2 - Configuration or runtime error`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[commands.SkipSetup] != "" {
				return nil
			}
			return g.Setup(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			g.Sync()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&g.ConfigPath, "config", "c", "", "Configuration file (defaults plus environment when empty)")
	flags.StringVarP(&g.Output, "output", "o", "text", "Output format: text, json")
	flags.BoolVarP(&g.Verbose, "verbose", "v", false, "Verbose output and debug logging")
	flags.BoolVarP(&g.Quiet, "quiet", "q", false, "Only print a summary line")

	// Add subcommands
	rootCmd.AddCommand(commands.NewServeCommand(g))
	rootCmd.AddCommand(commands.NewSearchCommand(g))
	rootCmd.AddCommand(commands.NewAskCommand(g))
	rootCmd.AddCommand(commands.NewChatCommand(g))
	rootCmd.AddCommand(commands.NewAnalyzeCommand(g))
	rootCmd.AddCommand(commands.NewAlertsCommand(g))
	rootCmd.AddCommand(commands.NewHealthCommand(g))
	rootCmd.AddCommand(commands.NewTimelineCommand(g))
	rootCmd.AddCommand(commands.NewMetricsCommand(g))
	rootCmd.AddCommand(commands.NewExportCommand(g))
	rootCmd.AddCommand(commands.NewValidateCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	return rootCmd
}
