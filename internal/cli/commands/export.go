package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ccollicutt/smartguard/pkg/ingest"
)

// NewExportCommand creates the export command.
func NewExportCommand(g *GlobalOptions) *cobra.Command {
	var out string
	var compress bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every stored log as JSONL",
		Long: `Write the stored corpus as one JSON record per line.

Output ending in .zst, or --compress, is zstd-compressed. The result can
be used as a log source with line_format.format set to jsonl.`,
		Example: `  smartguard export --out corpus.jsonl.zst`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close()

			corpus, err := a.Engine.Records(ctx)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out) // #nosec G304 -- user-provided output path is expected
				if err != nil {
					return fmt.Errorf("creating %s: %w", out, err)
				}
				defer f.Close()
				w = f
				compress = compress || strings.HasSuffix(out, ".zst")
			}

			n, err := ingest.Export(w, corpus.All(), compress)
			if err != nil {
				return err
			}
			if out != "" && out != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d records to %s\n", n, out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "-", "Output file (- for stdout)")
	cmd.Flags().BoolVar(&compress, "compress", false, "Compress with zstd")
	return cmd
}
