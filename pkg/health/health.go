// Package health classifies services by their recent error rate.
package health

import (
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ccollicutt/smartguard/pkg/logstore"
)

// Status is a service health classification.
type Status string

const (
	StatusHealthy Status = "healthy"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown"
)

// Error-rate thresholds. A rate must be strictly greater to cross a threshold.
const (
	ErrorThreshold   = 0.10
	WarningThreshold = 0.05
)

// ServiceHealth is the derived health of one service.
type ServiceHealth struct {
	Service   string     `json:"service"`
	Status    Status     `json:"status"`
	ErrorRate float64    `json:"error_rate"`
	TotalLogs int        `json:"total_logs"`
	LastSeen  *time.Time `json:"last_seen"`
}

// Classify maps an error rate and log volume onto a status.
func Classify(errorRate float64, totalLogs int) Status {
	switch {
	case totalLogs == 0:
		return StatusUnknown
	case errorRate > ErrorThreshold:
		return StatusError
	case errorRate > WarningThreshold:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// Analyzer computes per-service health over a recent window.
type Analyzer struct {
	clock clock.Clock
}

// NewAnalyzer creates an Analyzer. A nil clock uses wall time.
func NewAnalyzer(c clock.Clock) *Analyzer {
	if c == nil {
		c = clock.New()
	}
	return &Analyzer{clock: c}
}

type tally struct {
	total    int
	errors   int
	lastSeen time.Time
}

// Analyze returns the health of every listed service, considering only records
// in [now-window, now]. A window of zero or less considers the whole corpus.
// Records of services that are not listed are ignored.
func (a *Analyzer) Analyze(corpus iter.Seq[logstore.Record], services []string, window time.Duration) map[string]ServiceHealth {
	now := a.clock.Now()
	start := now.Add(-window)

	tallies := make(map[string]*tally, len(services))
	for _, s := range services {
		tallies[s] = &tally{}
	}

	for rec := range corpus {
		t, ok := tallies[rec.Service]
		if !ok {
			continue
		}
		if window > 0 && (rec.Timestamp.Before(start) || rec.Timestamp.After(now)) {
			continue
		}
		t.total++
		if rec.Severity == logstore.SeverityError {
			t.errors++
		}
		if rec.Timestamp.After(t.lastSeen) {
			t.lastSeen = rec.Timestamp
		}
	}

	result := make(map[string]ServiceHealth, len(services))
	for name, t := range tallies {
		h := ServiceHealth{Service: name, TotalLogs: t.total}
		if t.total > 0 {
			h.ErrorRate = float64(t.errors) / float64(t.total)
			lastSeen := t.lastSeen
			h.LastSeen = &lastSeen
		}
		h.Status = Classify(h.ErrorRate, h.TotalLogs)
		result[name] = h
	}

	return result
}

// Transition records a service whose status changed between two snapshots.
type Transition struct {
	Service string `json:"service"`
	From    Status `json:"from"`
	To      Status `json:"to"`
}

// EnteredError lists services whose status is error in curr but was not in prev.
// A service absent from prev counts as a transition.
func EnteredError(prev, curr map[string]ServiceHealth) []Transition {
	var out []Transition
	for name, h := range curr {
		if h.Status != StatusError {
			continue
		}
		before, ok := prev[name]
		if ok && before.Status == StatusError {
			continue
		}
		from := StatusUnknown
		if ok {
			from = before.Status
		}
		out = append(out, Transition{Service: name, From: from, To: StatusError})
	}
	slices.SortFunc(out, func(a, b Transition) int {
		return strings.Compare(a.Service, b.Service)
	})
	return out
}

// Services returns the sorted service names of a health map.
func Services(m map[string]ServiceHealth) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
