// Package query defines filter plans and applies them to a log corpus.
package query

import (
	"cmp"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/ccollicutt/smartguard/pkg/logstore"
)

// DefaultLimit is the number of records returned when the caller does not set one.
const DefaultLimit = 20

// Origin records how a plan was produced.
type Origin string

const (
	OriginStructured Origin = "structured"
	OriginModel      Origin = "model"
	OriginFallback   Origin = "fallback"
)

// TimeWindow is an inclusive time range.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether Start <= t <= End.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// LastDuration returns the window [now-d, now].
func LastDuration(now time.Time, d time.Duration) *TimeWindow {
	return &TimeWindow{Start: now.Add(-d), End: now}
}

// Plan is a fully resolved query restriction. Empty sets mean no restriction.
type Plan struct {
	Services   []string            `json:"services"`
	Severities []logstore.Severity `json:"severities"`
	Window     *TimeWindow         `json:"time_window,omitempty"`
	FreeText   string              `json:"free_text,omitempty"`

	// Origin and Interpretation describe where the plan came from; they do not affect matching.
	Origin         Origin `json:"origin"`
	Interpretation string `json:"interpretation,omitempty"`
}

// matcher is a Plan compiled for repeated evaluation.
type matcher struct {
	services   map[string]bool
	severities map[logstore.Severity]bool
	window     *TimeWindow
	needle     string
}

func compile(p Plan) matcher {
	m := matcher{window: p.Window, needle: strings.ToLower(p.FreeText)}
	if len(p.Services) > 0 {
		m.services = make(map[string]bool, len(p.Services))
		for _, s := range p.Services {
			m.services[s] = true
		}
	}
	if len(p.Severities) > 0 {
		m.severities = make(map[logstore.Severity]bool, len(p.Severities))
		for _, s := range p.Severities {
			m.severities[s] = true
		}
	}
	return m
}

func (m matcher) match(r logstore.Record) bool {
	if m.services != nil && !m.services[r.Service] {
		return false
	}
	if m.severities != nil && !m.severities[r.Severity] {
		return false
	}
	if m.window != nil && !m.window.Contains(r.Timestamp) {
		return false
	}
	if m.needle != "" &&
		!strings.Contains(strings.ToLower(r.RawMessage), m.needle) &&
		!strings.Contains(strings.ToLower(r.Summary), m.needle) &&
		!strings.Contains(strings.ToLower(r.Service), m.needle) {
		return false
	}
	return true
}

// Matches reports whether a single record satisfies the plan.
func (p Plan) Matches(r logstore.Record) bool {
	return compile(p).match(r)
}

// Match returns every record in corpus that satisfies plan, most recent first.
// Records with equal timestamps are ordered by insertion, latest first.
func Match(plan Plan, corpus iter.Seq[logstore.Record]) []logstore.Record {
	m := compile(plan)

	type hit struct {
		rec logstore.Record
		pos int
	}
	var hits []hit
	pos := 0
	for rec := range corpus {
		if m.match(rec) {
			hits = append(hits, hit{rec: rec, pos: pos})
		}
		pos++
	}

	slices.SortFunc(hits, func(a, b hit) int {
		if c := b.rec.Timestamp.Compare(a.rec.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.pos, a.pos)
	})

	out := make([]logstore.Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out
}

// Apply returns at most limit matching records, most recent first.
// A limit of zero or less returns an empty result.
func Apply(plan Plan, corpus iter.Seq[logstore.Record], limit int) []logstore.Record {
	if limit <= 0 {
		return []logstore.Record{}
	}
	return Truncate(Match(plan, corpus), limit)
}

// Truncate shortens records to limit entries; limit <= 0 yields an empty slice.
func Truncate(records []logstore.Record, limit int) []logstore.Record {
	if limit <= 0 {
		return []logstore.Record{}
	}
	if len(records) > limit {
		return records[:limit]
	}
	return records
}
