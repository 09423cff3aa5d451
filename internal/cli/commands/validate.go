package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ccollicutt/smartguard/pkg/config"
	"github.com/ccollicutt/smartguard/pkg/parser"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a configuration file",
		Long: `Validate a SmartGuard configuration file without starting anything.

Checks:
  - YAML syntax
  - Store driver and DSN
  - Line pattern validity and required named groups
  - Webhook URLs and triggers
  - Log source existence and a sample of lines parsed with
    the configured line format (warnings only)`,
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{SkipSetup: "true"},
		RunE:        runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	configPath := args[0]
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Validating %s...\n", configPath)

	cfg, err := config.Load(commandContext(cmd), configPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Fprintf(w, "\nConfiguration valid!\n")
	fmt.Fprintf(w, "  Services:    %s\n", strings.Join(cfg.Services, ", "))
	fmt.Fprintf(w, "  Store:       %s\n", cfg.Store.Driver)
	fmt.Fprintf(w, "  Sample:      %d records\n", cfg.Store.Sample.Count)
	fmt.Fprintf(w, "  Line format: %s\n", cfg.LineFormat.Format)
	if cfg.Interpreter.APIKey != "" {
		fmt.Fprintf(w, "  Model:       %s\n", cfg.Interpreter.Model)
	} else {
		fmt.Fprintf(w, "  Model:       none (substring search)\n")
	}
	fmt.Fprintf(w, "  Webhooks:    %d\n", len(cfg.Webhooks))

	if len(cfg.LogSources) == 0 {
		return nil
	}

	files, err := parser.ExpandGlobs(cfg.LogSources)
	if err != nil {
		fmt.Fprintf(w, "\nWarning: Error expanding log source patterns: %v\n", err)
		return nil
	}
	lp, err := parser.New(string(cfg.LineFormat.Format), cfg.LineFormat.CompiledPattern(), cfg.LineFormat.Layout)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Fprintf(w, "\nLog files matched: %d\n", len(files))
	for _, f := range files {
		parsed, skipped, err := sampleFile(commandContext(cmd), f, lp)
		switch {
		case err != nil:
			fmt.Fprintf(w, "  - %s (warning: %v)\n", f, err)
		case parsed == 0 && skipped > 0:
			fmt.Fprintf(w, "  - %s (warning: none of %d sampled lines match the %s format)\n", f, skipped, cfg.LineFormat.Format)
		default:
			fmt.Fprintf(w, "  - %s (%d of %d sampled lines parsed)\n", f, parsed, parsed+skipped)
		}
	}

	return nil
}

// sampleSize bounds how many parsed lines validate reads per file.
const sampleSize = 100

// sampleFile parses the head of path and reports how many lines were accepted and rejected.
func sampleFile(ctx context.Context, path string, p parser.LineParser) (parsed, skipped int, err error) {
	src := parser.NewFileSource([]string{path}, p)
	defer src.Close()

	for parsed < sampleSize {
		_, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return parsed, src.Skipped(), err
		}
		parsed++
	}
	return parsed, src.Skipped(), nil
}
