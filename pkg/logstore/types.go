// Package logstore holds the log corpus that every query and analysis runs against.
package logstore

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"
)

// Severity is the ordinal log level of a record.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Severities lists the valid severities from most to least severe.
var Severities = []Severity{SeverityError, SeverityWarning, SeverityInfo}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// ParseSeverity converts a case-insensitive level name into a Severity.
// "WARN" is accepted as an alias for WARNING.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return SeverityError, nil
	case "WARNING", "WARN":
		return SeverityWarning, nil
	case "INFO":
		return SeverityInfo, nil
	default:
		return "", fmt.Errorf("unknown severity %q (must be ERROR, WARNING, or INFO)", s)
	}
}

// Record is a single stored log entry. Records are never modified after insert.
type Record struct {
	// ID is unique within a store and grows with insertion order.
	ID int64 `json:"id"`

	// Service is the emitting service, normally one of the configured catalog.
	Service string `json:"service"`

	// Severity is the log level.
	Severity Severity `json:"severity"`

	// Timestamp is when the entry was logged (UTC).
	Timestamp time.Time `json:"timestamp"`

	// RawMessage is the original log line.
	RawMessage string `json:"raw_log"`

	// Summary is a short description, possibly produced by the summarizer.
	Summary string `json:"ai_summary"`
}

// ErrInvalidRecord is returned when a record is missing a service or has an unknown severity.
var ErrInvalidRecord = errors.New("invalid record")

// DuplicateIDError is returned by Insert when a record with the same ID already exists.
type DuplicateIDError struct {
	ID int64
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate record id %d", e.ID)
}

// OutOfOrderIDError is returned by Insert when an explicit ID is not above the
// highest ID already stored.
type OutOfOrderIDError struct {
	ID  int64
	Max int64
}

func (e *OutOfOrderIDError) Error() string {
	return fmt.Sprintf("record id %d is not above current max id %d", e.ID, e.Max)
}

func validate(rec Record) error {
	if rec.Service == "" {
		return fmt.Errorf("%w: service is required", ErrInvalidRecord)
	}
	if !rec.Severity.Valid() {
		return fmt.Errorf("%w: severity %q", ErrInvalidRecord, rec.Severity)
	}
	if rec.ID < 0 {
		return fmt.Errorf("%w: negative id %d", ErrInvalidRecord, rec.ID)
	}
	return nil
}

// Corpus is a point-in-time view of a store, in insertion order.
type Corpus []Record

// All yields every record in insertion order. The sequence can be ranged over repeatedly.
func (c Corpus) All() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, rec := range c {
			if !yield(rec) {
				return
			}
		}
	}
}

// Filter yields the records for which keep returns true.
func (c Corpus) Filter(keep func(Record) bool) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for rec := range c.All() {
			if keep(rec) && !yield(rec) {
				return
			}
		}
	}
}

// ByService yields the records emitted by the named service.
func (c Corpus) ByService(name string) iter.Seq[Record] {
	return c.Filter(func(r Record) bool { return r.Service == name })
}

// BySeverity yields the records with the given severity.
func (c Corpus) BySeverity(s Severity) iter.Seq[Record] {
	return c.Filter(func(r Record) bool { return r.Severity == s })
}

// Services returns the distinct service names in order of first appearance.
func (c Corpus) Services() []string {
	seen := make(map[string]bool)
	var names []string
	for _, rec := range c {
		if !seen[rec.Service] {
			seen[rec.Service] = true
			names = append(names, rec.Service)
		}
	}
	return names
}
