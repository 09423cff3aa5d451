package parser

import (
	"container/heap"
	"context"
	"errors"
	"io"
)

// MergedSource interleaves several sources into one stream, oldest record
// first, so files written by different services are ingested as a single
// timeline. Each source must already be in timestamp order.
type MergedSource struct {
	sources []LogSource
	pending cursors
	started bool
}

// NewMergedSource creates a LogSource that merges sources by record timestamp.
// Records with equal timestamps keep the order of sources.
func NewMergedSource(sources ...LogSource) *MergedSource {
	return &MergedSource{sources: sources}
}

// Next returns the oldest line not yet returned from any source.
// Returns io.EOF when all sources are exhausted.
func (m *MergedSource) Next(ctx context.Context) (*ParsedLine, error) {
	if !m.started {
		m.started = true
		for i := range m.sources {
			if err := m.advance(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	if len(m.pending) == 0 {
		return nil, io.EOF
	}

	head := heap.Pop(&m.pending).(cursor)
	if err := m.advance(ctx, head.source); err != nil {
		return nil, err
	}
	return head.line, nil
}

// advance queues the next line of source i, if it has one.
func (m *MergedSource) advance(ctx context.Context, i int) error {
	line, err := m.sources[i].Next(ctx)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	heap.Push(&m.pending, cursor{line: line, source: i})
	return nil
}

// Skipped sums the unparseable lines of every source that counts them.
func (m *MergedSource) Skipped() int {
	n := 0
	for _, src := range m.sources {
		if sk, ok := src.(interface{ Skipped() int }); ok {
			n += sk.Skipped()
		}
	}
	return n
}

// Close closes every source and returns the first error.
func (m *MergedSource) Close() error {
	m.started = true
	m.pending = nil
	var errs []error
	for _, src := range m.sources {
		errs = append(errs, src.Close())
	}
	return errors.Join(errs...)
}

// cursor is the buffered head line of one source.
type cursor struct {
	line   *ParsedLine
	source int
}

// cursors is a min-heap ordered by timestamp, then source index.
type cursors []cursor

func (c cursors) Len() int { return len(c) }

func (c cursors) Less(i, j int) bool {
	a, b := c[i].line.Record.Timestamp, c[j].line.Record.Timestamp
	if a.Equal(b) {
		return c[i].source < c[j].source
	}
	return a.Before(b)
}

func (c cursors) Swap(i, j int) { c[i], c[j] = c[j], c[i] }

func (c *cursors) Push(x any) { *c = append(*c, x.(cursor)) }

func (c *cursors) Pop() any {
	old := *c
	last := old[len(old)-1]
	*c = old[:len(old)-1]
	return last
}
