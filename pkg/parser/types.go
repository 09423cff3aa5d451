// Package parser reads log files and turns their lines into log records.
package parser

import "github.com/ccollicutt/smartguard/pkg/logstore"

// ParsedLine is a single log line decoded into a record.
type ParsedLine struct {
	// Record is the decoded log entry.
	Record logstore.Record

	// Raw is the original line content.
	Raw string

	// Source is the file path this line came from.
	Source string

	// LineNum is the 1-based line number in the source file.
	LineNum int
}
