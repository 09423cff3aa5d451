package anomaly

import (
	"iter"
	"slices"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ccollicutt/smartguard/pkg/logstore"
)

// Detector derives hour buckets, spikes and timelines from a corpus.
type Detector struct {
	clock clock.Clock
}

// NewDetector creates a Detector. A nil clock uses wall time.
func NewDetector(c clock.Clock) *Detector {
	if c == nil {
		c = clock.New()
	}
	return &Detector{clock: c}
}

// Buckets groups the records of the last hours into UTC hour buckets and
// returns the non-empty ones in chronological order. A record belongs to the
// window when its timestamp lies in [now-hours, now]. hours <= 0 takes the
// whole corpus.
func (d *Detector) Buckets(corpus iter.Seq[logstore.Record], hours int) []Bucket {
	now := d.clock.Now()
	cutoff := now.Add(-time.Duration(hours) * time.Hour)

	byHour := make(map[time.Time]*Bucket)
	for rec := range corpus {
		if hours > 0 && (rec.Timestamp.Before(cutoff) || rec.Timestamp.After(now)) {
			continue
		}
		hour := HourOf(rec.Timestamp)
		b, ok := byHour[hour]
		if !ok {
			b = &Bucket{Hour: hour}
			byHour[hour] = b
		}
		b.add(rec.Severity)
		b.records = append(b.records, rec)
	}

	buckets := make([]Bucket, 0, len(byHour))
	for _, b := range byHour {
		buckets = append(buckets, *b)
	}
	slices.SortFunc(buckets, func(a, b Bucket) int {
		return a.Hour.Compare(b.Hour)
	})
	return buckets
}

// HourOf truncates t to the start of its UTC hour.
func HourOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// DetectSpikes flags every hour in the lookback window whose ERROR count is
// more than SpikeFactor times the mean ERROR count of the window's non-empty
// hours. Events are returned in chronological order.
func (d *Detector) DetectSpikes(corpus iter.Seq[logstore.Record], lookbackHours int) []Event {
	return Spikes(d.Buckets(corpus, lookbackHours))
}

// Spikes applies spike detection to already computed buckets.
func Spikes(buckets []Bucket) []Event {
	events := []Event{}

	expected, ok := MeanErrors(buckets)
	if !ok || expected == 0 {
		return events
	}

	threshold := SpikeFactor * expected
	for _, b := range buckets {
		if float64(b.Error) > threshold {
			events = append(events, Event{
				HourBucket:    b.Hour,
				Kind:          KindErrorSpike,
				ObservedCount: b.Error,
				ExpectedCount: expected,
			})
		}
	}
	return events
}

// MeanErrors returns the mean ERROR count over buckets that hold at least one
// record. ok is false when there is no such bucket.
func MeanErrors(buckets []Bucket) (mean float64, ok bool) {
	var sum, n int
	for _, b := range buckets {
		if b.Total() == 0 {
			continue
		}
		sum += b.Error
		n++
	}
	if n == 0 {
		return 0, false
	}
	return float64(sum) / float64(n), true
}

// Timeline returns the non-empty hours of [now-hours, now], oldest first.
// hours <= 0 covers the whole corpus.
func (d *Detector) Timeline(corpus iter.Seq[logstore.Record], hours int) []TimelineBucket {
	buckets := d.Buckets(corpus, hours)

	out := make([]TimelineBucket, 0, len(buckets))
	for _, b := range buckets {
		records := slices.Clone(b.records)
		slices.SortStableFunc(records, func(x, y logstore.Record) int {
			return x.Timestamp.Compare(y.Timestamp)
		})

		entries := make([]TimelineEntry, len(records))
		for i, rec := range records {
			entries[i] = TimelineEntry{
				Timestamp: rec.Timestamp,
				Service:   rec.Service,
				Severity:  rec.Severity,
				Summary:   rec.Summary,
				EventType: EventTypeOf(rec.Severity),
			}
		}
		out = append(out, TimelineBucket{Hour: b.Hour, Events: entries, Counts: b.Counts})
	}
	return out
}

// HourlyMetrics flattens buckets into one entry per hour and severity with a
// non-zero count, ordered by hour then ERROR, WARNING, INFO.
func HourlyMetrics(buckets []Bucket) []HourlyMetric {
	out := []HourlyMetric{}
	for _, b := range buckets {
		for _, sev := range logstore.Severities {
			if n := b.Of(sev); n > 0 {
				out = append(out, HourlyMetric{Hour: b.Hour, Severity: sev, Count: n})
			}
		}
	}
	return out
}

// ServiceMetrics counts records per service and severity over the whole
// corpus. Services are reported in the given order; zero counts are omitted.
func ServiceMetrics(corpus iter.Seq[logstore.Record], services []string) []ServiceMetric {
	counts := make(map[string]*Counts, len(services))
	for _, s := range services {
		counts[s] = &Counts{}
	}
	for rec := range corpus {
		if c, ok := counts[rec.Service]; ok {
			c.add(rec.Severity)
		}
	}

	out := []ServiceMetric{}
	for _, s := range services {
		for _, sev := range logstore.Severities {
			if n := counts[s].Of(sev); n > 0 {
				out = append(out, ServiceMetric{Service: s, Severity: sev, Count: n})
			}
		}
	}
	return out
}
