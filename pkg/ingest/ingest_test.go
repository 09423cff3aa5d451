package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ccollicutt/smartguard/pkg/logstore"
	"github.com/ccollicutt/smartguard/pkg/parser"
)

var linePattern = regexp.MustCompile(`^\[(?P<timestamp>[^\]]+)\]\s+(?P<severity>[A-Za-z]+)\s+(?P<service>[\w.-]+):\s*(?P<message>.*)$`)

func textParser(t *testing.T) parser.LineParser {
	t.Helper()
	p, err := parser.NewTextParser(linePattern, time.RFC3339)
	require.NoError(t, err)
	return p
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func storeSink(store logstore.Store) Sink {
	return func(ctx context.Context, rec logstore.Record) error {
		_, err := store.Insert(ctx, rec)
		return err
	}
}

func TestLoad_CountsOutcomes(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "app.jsonl",
		`{"id": 1, "service": "frontend", "severity": "INFO", "timestamp": "2024-01-15T10:00:00Z", "raw_log": "ok"}
{"id": 1, "service": "frontend", "severity": "ERROR", "timestamp": "2024-01-15T10:01:00Z", "raw_log": "dup"}
{"id": 2, "service": "cartservice", "severity": "ERROR", "timestamp": "2024-01-15T10:02:00Z", "raw_log": "failed"}
not json at all
`)

	store := logstore.NewMemoryStore()
	src := parser.NewFileSource([]string{path}, parser.NewJSONLParser())
	defer src.Close()

	stats, err := Load(context.Background(), src, storeSink(store), nil)
	require.NoError(t, err)

	assert.Equal(t, Stats{Stored: 2, Duplicates: 1, Unparsed: 1}, stats)
	assert.Equal(t, 1, src.Skipped())

	n, err := store.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLoad_SinkRejects(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "app.log",
		"[2024-01-15T10:00:00Z] INFO frontend: ok\n[2024-01-15T10:01:00Z] ERROR frontend: boom\n")

	refuse := func(_ context.Context, rec logstore.Record) error {
		if rec.Severity == logstore.SeverityError {
			return errors.New("disk full")
		}
		return nil
	}

	src := parser.NewFileSource([]string{path}, textParser(t))
	defer src.Close()

	stats, err := Load(context.Background(), src, refuse, nil)
	require.NoError(t, err)
	assert.Equal(t, Stats{Stored: 1, Rejected: 1}, stats)
}

func TestLoadFiles_MergesByTimestamp(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "a.log",
		"[2024-01-15T10:00:00Z] INFO frontend: first\n[2024-01-15T10:02:00Z] INFO frontend: third\n")
	writeTempFile(t, dir, "b.log",
		"[2024-01-15T10:01:00Z] WARNING cartservice: second\n")

	var got []string
	sink := func(_ context.Context, rec logstore.Record) error {
		got = append(got, rec.Service)
		return nil
	}

	stats, err := LoadFiles(context.Background(), []string{filepath.Join(dir, "*.log")}, textParser(t), sink, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Stored)
	assert.Equal(t, []string{"frontend", "cartservice", "frontend"}, got)
}

func TestLoadFiles_NoMatches(t *testing.T) {
	_, err := LoadFiles(context.Background(), []string{filepath.Join(t.TempDir(), "*.log")}, textParser(t), nil, nil)
	assert.Error(t, err)
}

func TestLoad_Cancelled(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "app.log", "[2024-01-15T10:00:00Z] INFO frontend: ok\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := parser.NewFileSource([]string{path}, textParser(t))
	defer src.Close()

	_, err := Load(ctx, src, func(context.Context, logstore.Record) error { return nil }, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

type recorder struct {
	mu      sync.Mutex
	records []logstore.Record
}

func (r *recorder) sink(_ context.Context, rec logstore.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.RawMessage
	}
	return out
}

func appendTo(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFollower_ReadsAppendedLines(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := writeTempFile(t, dir, "app.log", "[2024-01-15T10:00:00Z] INFO frontend: already here\n")

	rec := &recorder{}
	f, err := NewFollower(textParser(t), rec.sink, nil)
	require.NoError(t, err)
	require.NoError(t, f.Add(path, false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	line1 := "[2024-01-15T10:05:00Z] ERROR cartservice: Database connection failed"
	line2 := "[2024-01-15T10:06:00Z] INFO cartservice: recovered"

	// The second line arrives in two writes; nothing is ingested until it is complete.
	appendTo(t, path, line1+"\n"+line2[:10])
	require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, 5*time.Second, 10*time.Millisecond)

	appendTo(t, path, line2[10:]+"\n")
	require.Eventually(t, func() bool { return len(rec.messages()) == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{line1, line2}, rec.messages())
	assert.Equal(t, 2, f.Stats().Stored)
}

func TestFollower_FromStartAndTruncation(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := writeTempFile(t, dir, "app.log",
		"[2024-01-15T10:00:00Z] INFO frontend: one\n[2024-01-15T10:01:00Z] INFO frontend: two\n")

	rec := &recorder{}
	f, err := NewFollower(textParser(t), rec.sink, nil)
	require.NoError(t, err)
	require.NoError(t, f.Add(path, true))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool { return len(rec.messages()) == 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("[2024-01-15T10:02:00Z] WARNING frontend: 3\n"), 0644))
	require.Eventually(t, func() bool { return len(rec.messages()) == 3 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, "[2024-01-15T10:02:00Z] WARNING frontend: 3", rec.messages()[2])
}

func TestFollower_RejectsCompressed(t *testing.T) {
	f, err := NewFollower(textParser(t), func(context.Context, logstore.Record) error { return nil }, nil)
	require.NoError(t, err)
	assert.Error(t, f.Add("app.log.zst", false))
	require.NoError(t, f.Close())
}

func TestExport_RoundTrip(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	corpus := logstore.Corpus(logstore.GenerateSample(logstore.SampleConfig{Count: 25, Seed: 4, Now: base}))

	for _, compress := range []bool{false, true} {
		name := "export.jsonl"
		if compress {
			name += ".zst"
		}
		path := filepath.Join(t.TempDir(), name)

		f, err := os.Create(path)
		require.NoError(t, err)
		n, err := Export(f, corpus.All(), compress)
		require.NoError(t, err)
		require.NoError(t, f.Close())
		assert.Equal(t, 25, n)

		store := logstore.NewMemoryStore()
		stats, err := LoadFiles(context.Background(), []string{path}, parser.NewJSONLParser(), storeSink(store), nil)
		require.NoError(t, err)
		assert.Equal(t, 25, stats.Stored, "compress=%v", compress)

		got, err := store.Snapshot(context.Background())
		require.NoError(t, err)
		byID := make(map[int64]logstore.Record, len(got))
		for _, rec := range got {
			byID[rec.ID] = rec
		}
		for _, want := range corpus {
			rec, ok := byID[want.ID]
			require.True(t, ok, "record %d missing", want.ID)
			assert.Equal(t, want.Summary, rec.Summary)
			assert.True(t, want.Timestamp.Equal(rec.Timestamp))
		}
	}
}
