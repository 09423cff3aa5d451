// Package anomaly buckets log records by hour and flags error spikes.
package anomaly

import (
	"iter"
	"time"

	"github.com/ccollicutt/smartguard/pkg/logstore"
)

// Kind enumerates anomaly types.
type Kind string

const (
	// KindErrorSpike marks an hour whose ERROR count exceeds twice the mean.
	KindErrorSpike Kind = "error_spike"
)

// SpikeFactor is the multiple of the mean an hour must exceed to be a spike.
const SpikeFactor = 2.0

// Counts holds per-severity record counts.
type Counts struct {
	// Error is the number of ERROR records.
	Error int `json:"error_count"`

	// Warning is the number of WARNING records.
	Warning int `json:"warning_count"`

	// Info is the number of INFO records.
	Info int `json:"normal_count"`
}

func (c *Counts) add(sev logstore.Severity) {
	switch sev {
	case logstore.SeverityError:
		c.Error++
	case logstore.SeverityWarning:
		c.Warning++
	case logstore.SeverityInfo:
		c.Info++
	}
}

// Of returns the count for one severity.
func (c Counts) Of(sev logstore.Severity) int {
	switch sev {
	case logstore.SeverityError:
		return c.Error
	case logstore.SeverityWarning:
		return c.Warning
	case logstore.SeverityInfo:
		return c.Info
	default:
		return 0
	}
}

// Total returns the number of records across all severities.
func (c Counts) Total() int {
	return c.Error + c.Warning + c.Info
}

// Bucket is one hour of records.
type Bucket struct {
	// Hour is the UTC start of the hour.
	Hour time.Time

	// Counts are the per-severity record counts within the hour.
	Counts

	// records lists the bucket's records in insertion order.
	records []logstore.Record
}

// Event is a detected anomaly.
type Event struct {
	// HourBucket is the start of the anomalous hour.
	HourBucket time.Time `json:"timestamp"`

	// Kind is the anomaly type.
	Kind Kind `json:"type"`

	// ObservedCount is the ERROR count seen in the hour.
	ObservedCount int `json:"count"`

	// ExpectedCount is the mean ERROR count the hour was compared against.
	ExpectedCount float64 `json:"expected"`
}

// EventType is the coarse category a timeline entry is drawn with.
type EventType string

const (
	EventTypeError   EventType = "error"
	EventTypeWarning EventType = "warning"
	EventTypeNormal  EventType = "normal"
)

// EventTypeOf maps a severity onto its timeline category.
func EventTypeOf(sev logstore.Severity) EventType {
	switch sev {
	case logstore.SeverityError:
		return EventTypeError
	case logstore.SeverityWarning:
		return EventTypeWarning
	default:
		return EventTypeNormal
	}
}

// TimelineEntry is one record as shown on the incident timeline.
type TimelineEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Service   string            `json:"service"`
	Severity  logstore.Severity `json:"severity"`
	Summary   string            `json:"ai_summary"`
	EventType EventType         `json:"event_type"`
}

// TimelineBucket is one hour of the incident timeline.
type TimelineBucket struct {
	// Hour is the UTC start of the hour.
	Hour time.Time `json:"timestamp"`

	// Events lists the hour's records, oldest first.
	Events []TimelineEntry `json:"events"`

	Counts
}

// HourlyMetric is the count of one severity within one hour.
type HourlyMetric struct {
	Hour     time.Time         `json:"hour"`
	Severity logstore.Severity `json:"severity"`
	Count    int               `json:"count"`
}

// ServiceMetric is the count of one severity for one service.
type ServiceMetric struct {
	Service  string            `json:"service"`
	Severity logstore.Severity `json:"severity"`
	Count    int               `json:"count"`
}

// CountSeverities tallies a sequence of records by severity.
func CountSeverities(records iter.Seq[logstore.Record]) Counts {
	var c Counts
	for rec := range records {
		c.add(rec.Severity)
	}
	return c
}
