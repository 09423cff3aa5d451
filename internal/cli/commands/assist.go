package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ccollicutt/smartguard/pkg/engine"
	"github.com/ccollicutt/smartguard/pkg/output"
	"github.com/ccollicutt/smartguard/pkg/webhook"
)

// NewChatCommand creates the chat command.
func NewChatCommand(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <message...>",
		Short: "Ask the assistant about system health",
		Long: `Ask the assistant a free-form question. It answers with the newest
logs and per-service log and error counts as context.

Without a model API key, or when the model fails, a fixed notice is printed
instead of an answer.`,
		Example: `  smartguard chat "why is checkout failing?"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close()

			reply, err := a.Engine.Chat(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return render(ctx, g, output.NewChatReport(reply, a.Clock.Now()), cmd.OutOrStdout())
		},
	}
}

// AnalyzeOptions holds command-line options for the analyze command.
type AnalyzeOptions struct {
	File     string
	Service  string
	Severity string
	Limit    int
	Alert    bool
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(g *GlobalOptions) *cobra.Command {
	opts := &AnalyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a batch of logs with the assistant",
		Long: `Ask the assistant for key issues, severity, root cause and recommended
actions across a batch of logs.

The batch is the newest stored logs matching --service and --severity, or
the lines of --file ("-" reads stdin). With --alert, an analysis that
mentions errors or suspicious activity is sent to the configured webhooks.

Exit codes:
  0 - Nothing alert-worthy
  1 - The analysis flagged a problem
  2 - Configuration or runtime error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close()

			var res *engine.AnalysisResult
			if opts.File != "" {
				lines, err := readLines(opts.File, cmd.InOrStdin())
				if err != nil {
					return err
				}
				res, err = a.Engine.Analyze(ctx, lines)
				if err != nil {
					return err
				}
			} else {
				filters := engine.SearchFilters{Service: opts.Service, Severity: opts.Severity, Limit: &opts.Limit}
				res, err = a.Engine.AnalyzeRecords(ctx, filters)
				if err != nil {
					return err
				}
			}

			sent := 0
			if opts.Alert && res.AlertWorthy {
				sent, err = a.Monitor().Notify(ctx, webhook.NewAnalysisAlert(res.Timestamp, res.Text))
				if err != nil {
					g.logger().Warn("Analysis alert not fully delivered", zap.Error(err))
				}
			}

			if err := render(ctx, g, output.NewAnalysisReport(res, sent > 0, a.Clock.Now()), cmd.OutOrStdout()); err != nil {
				return err
			}
			if res.AlertWorthy {
				ExitCode = 1
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Analyze the lines of this file instead of stored logs")
	cmd.Flags().StringVar(&opts.Service, "service", "", "Only logs from this service")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "Only logs of this severity (ERROR|WARNING|INFO)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", engine.DefaultSearchLimit, "Maximum number of stored logs to analyze")
	cmd.Flags().BoolVar(&opts.Alert, "alert", false, "Send an alert-worthy analysis to the configured webhooks")

	return cmd
}

func readLines(path string, stdin io.Reader) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path) // #nosec G304 -- user-specified input file
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return lines, nil
}
