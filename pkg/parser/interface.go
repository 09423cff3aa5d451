package parser

import (
	"context"

	"github.com/ccollicutt/smartguard/pkg/logstore"
)

// LogSource provides an iterator over parsed log lines.
// Implementations must be safe for sequential access (not concurrent).
type LogSource interface {
	// Next returns the next parsed log line.
	// Returns io.EOF when no more lines are available.
	// Lines that cannot be parsed are skipped.
	Next(ctx context.Context) (*ParsedLine, error)

	// Close releases any resources held by the source.
	Close() error
}

// LineParser decodes one line of a log file.
type LineParser interface {
	Parse(line string) (logstore.Record, error)
}
