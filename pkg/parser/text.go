package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ccollicutt/smartguard/pkg/logstore"
)

// ErrNoMatch is returned when a line does not match the line pattern.
var ErrNoMatch = errors.New("line does not match pattern")

// TextParser decodes plain-text lines with a regex of named groups
// timestamp, severity and service.
type TextParser struct {
	pattern *regexp.Regexp
	layout  string

	timestamp int
	severity  int
	service   int
}

// NewTextParser creates a TextParser. The timestamp group is parsed with layout;
// timestamps without a zone are taken as UTC.
func NewTextParser(pattern *regexp.Regexp, layout string) (*TextParser, error) {
	p := &TextParser{
		pattern:   pattern,
		layout:    layout,
		timestamp: pattern.SubexpIndex("timestamp"),
		severity:  pattern.SubexpIndex("severity"),
		service:   pattern.SubexpIndex("service"),
	}
	for name, idx := range map[string]int{"timestamp": p.timestamp, "severity": p.severity, "service": p.service} {
		if idx < 0 {
			return nil, fmt.Errorf("pattern has no named group %q", name)
		}
	}
	return p, nil
}

// Parse decodes line. The whole line is kept as the raw message.
func (p *TextParser) Parse(line string) (logstore.Record, error) {
	m := p.pattern.FindStringSubmatch(line)
	if m == nil {
		return logstore.Record{}, ErrNoMatch
	}

	ts, err := time.Parse(p.layout, strings.TrimSpace(m[p.timestamp]))
	if err != nil {
		return logstore.Record{}, fmt.Errorf("parsing timestamp %q: %w", m[p.timestamp], err)
	}

	sev, err := logstore.ParseSeverity(m[p.severity])
	if err != nil {
		return logstore.Record{}, err
	}

	return logstore.Record{
		Service:    m[p.service],
		Severity:   sev,
		Timestamp:  ts.UTC(),
		RawMessage: line,
	}, nil
}
