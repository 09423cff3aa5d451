// Package output renders query and analytics results for the command line.
package output

import (
	"time"

	"github.com/ccollicutt/smartguard/pkg/anomaly"
	"github.com/ccollicutt/smartguard/pkg/engine"
	"github.com/ccollicutt/smartguard/pkg/health"
	"github.com/ccollicutt/smartguard/pkg/logstore"
)

// Kind names the view a Report carries.
type Kind string

const (
	KindRecords  Kind = "records"
	KindSearch   Kind = "search"
	KindHealth   Kind = "health"
	KindTimeline Kind = "timeline"
	KindMetrics  Kind = "metrics"
	KindChat     Kind = "chat"
	KindAnalysis Kind = "analysis"
)

// Report is one rendered view. Only the fields for its Kind are set.
type Report struct {
	// Kind selects which of the payload fields below is populated.
	Kind Kind

	// Records holds plain search and alert results.
	Records []logstore.Record

	// Search holds a natural-language search result.
	Search *engine.NaturalSearchResult

	// Health maps service name to its health.
	Health map[string]health.ServiceHealth

	// Timeline holds hourly buckets in chronological order.
	Timeline []anomaly.TimelineBucket

	// Counts holds severity totals for the metrics view.
	Counts *anomaly.Counts

	// Enhanced holds hourly and per-service breakdowns with anomalies.
	Enhanced *engine.EnhancedMetrics

	// Chat holds an assistant reply.
	Chat *engine.ChatReply

	// Analysis holds a log batch analysis; AlertSent records whether it reached a webhook.
	Analysis  *engine.AnalysisResult
	AlertSent bool

	// Summary provides aggregate statistics.
	Summary Summary

	// GeneratedAt is when the report was built; relative times are measured from it.
	GeneratedAt time.Time
}

// Summary provides aggregate statistics for quiet output.
type Summary struct {
	// Items is the number of rows in the view.
	Items int `json:"items"`

	// Errors is the number of ERROR records in the view.
	Errors int `json:"errors"`

	// Unhealthy is the number of services not in a healthy or unknown state.
	Unhealthy int `json:"unhealthy"`

	// Anomalies is the number of anomaly events in the view.
	Anomalies int `json:"anomalies"`
}

// NewRecordsReport wraps a list of records.
func NewRecordsReport(records []logstore.Record, now time.Time) *Report {
	return &Report{
		Kind:        KindRecords,
		Records:     records,
		Summary:     Summary{Items: len(records), Errors: countErrors(records)},
		GeneratedAt: now,
	}
}

// NewSearchReport wraps a natural-language search result.
func NewSearchReport(res *engine.NaturalSearchResult, now time.Time) *Report {
	return &Report{
		Kind:        KindSearch,
		Search:      res,
		Summary:     Summary{Items: res.TotalMatched, Errors: countErrors(res.Matches)},
		GeneratedAt: now,
	}
}

// NewHealthReport wraps a service health map.
func NewHealthReport(h map[string]health.ServiceHealth, now time.Time) *Report {
	s := Summary{Items: len(h)}
	for _, sh := range h {
		if sh.Status == health.StatusWarning || sh.Status == health.StatusError {
			s.Unhealthy++
		}
	}
	return &Report{Kind: KindHealth, Health: h, Summary: s, GeneratedAt: now}
}

// NewTimelineReport wraps hourly timeline buckets.
func NewTimelineReport(buckets []anomaly.TimelineBucket, now time.Time) *Report {
	s := Summary{Items: len(buckets)}
	for _, b := range buckets {
		s.Errors += b.Counts.Error
	}
	return &Report{Kind: KindTimeline, Timeline: buckets, Summary: s, GeneratedAt: now}
}

// NewMetricsReport wraps severity counts and the enhanced breakdown. enhanced may be nil.
func NewMetricsReport(counts anomaly.Counts, enhanced *engine.EnhancedMetrics, now time.Time) *Report {
	s := Summary{Items: counts.Total(), Errors: counts.Error}
	if enhanced != nil {
		s.Anomalies = len(enhanced.Anomalies)
	}
	return &Report{Kind: KindMetrics, Counts: &counts, Enhanced: enhanced, Summary: s, GeneratedAt: now}
}

// NewChatReport wraps an assistant reply.
func NewChatReport(reply *engine.ChatReply, now time.Time) *Report {
	return &Report{Kind: KindChat, Chat: reply, Summary: Summary{Items: 1}, GeneratedAt: now}
}

// NewAnalysisReport wraps a log batch analysis. An alert-worthy analysis counts as an error.
func NewAnalysisReport(res *engine.AnalysisResult, alertSent bool, now time.Time) *Report {
	s := Summary{Items: res.Lines}
	if res.AlertWorthy {
		s.Errors = 1
	}
	return &Report{Kind: KindAnalysis, Analysis: res, AlertSent: alertSent, Summary: s, GeneratedAt: now}
}

// Payload returns the value a JSON rendering of the report carries.
// It has the same shape as the matching HTTP response.
func (r *Report) Payload() any {
	switch r.Kind {
	case KindSearch:
		return r.Search
	case KindHealth:
		return r.Health
	case KindTimeline:
		return r.Timeline
	case KindChat:
		return r.Chat
	case KindAnalysis:
		return struct {
			*engine.AnalysisResult
			AlertSent bool `json:"alert_sent"`
		}{r.Analysis, r.AlertSent}
	case KindMetrics:
		if r.Enhanced != nil {
			return struct {
				anomaly.Counts
				*engine.EnhancedMetrics
			}{*r.Counts, r.Enhanced}
		}
		return r.Counts
	default:
		return r.Records
	}
}

// HasErrors reports whether the view contains errors or unhealthy services.
func (r *Report) HasErrors() bool {
	return r.Summary.Errors > 0 || r.Summary.Unhealthy > 0 || r.Summary.Anomalies > 0
}

func countErrors(records []logstore.Record) int {
	n := 0
	for _, rec := range records {
		if rec.Severity == logstore.SeverityError {
			n++
		}
	}
	return n
}
