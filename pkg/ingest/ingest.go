// Package ingest moves parsed log records into the store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ccollicutt/smartguard/pkg/logstore"
	"github.com/ccollicutt/smartguard/pkg/parser"
)

// Sink stores one record. engine.Engine.Ingest and summarize.Enricher.Submit both fit.
type Sink func(ctx context.Context, rec logstore.Record) error

// Stats counts what happened to the lines of a source.
type Stats struct {
	// Stored is the number of records handed to the sink successfully.
	Stored int `json:"stored"`

	// Duplicates is the number of records whose ID was already taken.
	Duplicates int `json:"duplicates"`

	// Rejected is the number of records the sink refused for other reasons.
	Rejected int `json:"rejected"`

	// Unparsed is the number of non-blank lines the line parser could not decode.
	Unparsed int `json:"unparsed"`
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Stored += other.Stored
	s.Duplicates += other.Duplicates
	s.Rejected += other.Rejected
	s.Unparsed += other.Unparsed
}

// Load drains src into sink. Individual insert failures are counted and
// skipped; only read errors and cancellation stop the load.
func Load(ctx context.Context, src parser.LogSource, sink Sink, logger *zap.Logger) (Stats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var stats Stats
	for {
		line, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			if sk, ok := src.(interface{ Skipped() int }); ok {
				stats.Unparsed = sk.Skipped()
			}
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("reading log source: %w", err)
		}

		stats.count(sinkRecord(ctx, sink, line, logger))
	}
}

// LoadFiles expands patterns, merges the files by timestamp and loads them.
func LoadFiles(ctx context.Context, patterns []string, p parser.LineParser, sink Sink, logger *zap.Logger) (Stats, error) {
	files, err := parser.ExpandGlobs(patterns)
	if err != nil {
		return Stats{}, err
	}

	sources := make([]parser.LogSource, len(files))
	for i, f := range files {
		sources[i] = parser.NewFileSource([]string{f}, p)
	}
	merged := parser.NewMergedSource(sources...)
	defer merged.Close()

	return Load(ctx, merged, sink, logger)
}

type outcome int

const (
	outcomeStored outcome = iota
	outcomeDuplicate
	outcomeRejected
)

func (s *Stats) count(o outcome) {
	switch o {
	case outcomeStored:
		s.Stored++
	case outcomeDuplicate:
		s.Duplicates++
	default:
		s.Rejected++
	}
}

func sinkRecord(ctx context.Context, sink Sink, line *parser.ParsedLine, logger *zap.Logger) outcome {
	err := sink(ctx, line.Record)
	if err == nil {
		return outcomeStored
	}

	var dup *logstore.DuplicateIDError
	if errors.As(err, &dup) {
		logger.Debug("Skipping duplicate record",
			zap.Int64("id", dup.ID),
			zap.String("source", line.Source),
			zap.Int("line", line.LineNum))
		return outcomeDuplicate
	}

	logger.Warn("Record rejected",
		zap.String("source", line.Source),
		zap.Int("line", line.LineNum),
		zap.Error(err))
	return outcomeRejected
}
