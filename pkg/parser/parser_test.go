package parser

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"
	"github.com/valyala/fastjson"

	"github.com/ccollicutt/smartguard/pkg/logstore"
)

var linePattern = regexp.MustCompile(`^\[(?P<timestamp>[^\]]+)\]\s+(?P<severity>[A-Za-z]+)\s+(?P<service>[\w.-]+):\s*(?P<message>.*)$`)

func textParser(t *testing.T) *TextParser {
	t.Helper()
	p, err := NewTextParser(linePattern, time.RFC3339)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readAll(t *testing.T, src LogSource) []*ParsedLine {
	t.Helper()
	var lines []*ParsedLine
	for {
		line, err := src.Next(context.Background())
		if err == io.EOF {
			return lines
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		lines = append(lines, line)
	}
}

func TestTextParser_Parse(t *testing.T) {
	p := textParser(t)

	tests := []struct {
		line    string
		want    logstore.Record
		wantErr bool
	}{
		{
			line: "[2024-01-15T10:00:00Z] ERROR cartservice: Database connection failed",
			want: logstore.Record{
				Service:    "cartservice",
				Severity:   logstore.SeverityError,
				Timestamp:  time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
				RawMessage: "[2024-01-15T10:00:00Z] ERROR cartservice: Database connection failed",
			},
		},
		{
			line: "[2024-01-15T12:00:00+02:00] warn frontend: slow",
			want: logstore.Record{
				Service:    "frontend",
				Severity:   logstore.SeverityWarning,
				Timestamp:  time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
				RawMessage: "[2024-01-15T12:00:00+02:00] warn frontend: slow",
			},
		},
		{line: "no brackets here", wantErr: true},
		{line: "[not a time] INFO frontend: hi", wantErr: true},
		{line: "[2024-01-15T10:00:00Z] DEBUG frontend: hi", wantErr: true},
	}

	for _, tt := range tests {
		got, err := p.Parse(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && (got.Service != tt.want.Service || got.Severity != tt.want.Severity ||
			!got.Timestamp.Equal(tt.want.Timestamp) || got.Timestamp.Location() != time.UTC || got.RawMessage != tt.want.RawMessage) {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}

	if _, err := p.Parse("garbage"); !errors.Is(err, ErrNoMatch) {
		t.Errorf("Parse(garbage) error = %v, want ErrNoMatch", err)
	}
}

func TestNewTextParser_MissingGroup(t *testing.T) {
	_, err := NewTextParser(regexp.MustCompile(`^(?P<timestamp>\S+) (?P<severity>\S+)`), time.RFC3339)
	if err == nil {
		t.Error("NewTextParser() expected error for pattern without service group")
	}
}

func TestJSONLParser_Parse(t *testing.T) {
	p := NewJSONLParser()

	got, err := p.Parse(`{"id": 9, "service": "adservice", "severity": "INFO", "timestamp": "2024-01-15T10:00:00Z", "raw_log": "served ad", "ai_summary": "ad served"}`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got.ID != 9 || got.Service != "adservice" || got.Summary != "ad served" || got.RawMessage != "served ad" {
		t.Errorf("Parse() = %+v", got)
	}

	got, err = p.Parse(`{"service": "frontend", "severity": "error", "timestamp": 1705312800, "message": "boom"}`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !got.Timestamp.Equal(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)) || got.RawMessage != "boom" || got.Severity != logstore.SeverityError {
		t.Errorf("Parse() = %+v", got)
	}

	for _, bad := range []string{
		`not json`,
		`[1, 2]`,
		`{"service": "frontend", "severity": "FATAL", "timestamp": "2024-01-15T10:00:00Z"}`,
		`{"severity": "INFO", "timestamp": "2024-01-15T10:00:00Z"}`,
		`{"service": "frontend", "severity": "INFO"}`,
		`{"service": "frontend", "severity": "INFO", "timestamp": true}`,
	} {
		if _, err := p.Parse(bad); err == nil {
			t.Errorf("Parse(%s) expected error", bad)
		}
	}
}

func TestAppendJSONL_RoundTrip(t *testing.T) {
	rec := logstore.Record{
		ID: 3, Service: "cartservice", Severity: logstore.SeverityWarning,
		Timestamp:  time.Date(2024, 1, 15, 10, 0, 0, 500, time.UTC),
		RawMessage: `quote " and newline` + "\n", Summary: "s",
	}
	var a fastjson.Arena
	line := AppendJSONL(nil, &a, rec)

	if !bytes.HasSuffix(line, []byte("\n")) {
		t.Fatal("AppendJSONL() did not end the line")
	}
	got, err := NewJSONLParser().Parse(string(bytes.TrimSuffix(line, []byte("\n"))))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestNew(t *testing.T) {
	if p, err := New("jsonl", nil, ""); err != nil || p == nil {
		t.Errorf("New(jsonl) = %v, %v", p, err)
	}
	if p, err := New("text", linePattern, time.RFC3339); err != nil || p == nil {
		t.Errorf("New(text) = %v, %v", p, err)
	}
	if _, err := New("text", nil, time.RFC3339); err == nil {
		t.Error("New(text) without pattern expected error")
	}
	if _, err := New("xml", nil, ""); err == nil {
		t.Error("New(xml) expected error")
	}
}

func TestFileSource_Next(t *testing.T) {
	content := `[2024-01-15T10:00:00Z] INFO frontend: First line
this line is skipped

[2024-01-15T10:00:01Z] ERROR cartservice: Second line
[2024-01-15T10:00:02Z] WARNING adservice: Third line
`
	path := writeFile(t, "test.log", []byte(content))

	source := NewFileSource([]string{path}, textParser(t))
	defer source.Close()

	lines := readAll(t, source)

	if len(lines) != 3 {
		t.Fatalf("Got %d lines, want 3", len(lines))
	}
	if lines[0].LineNum != 1 || lines[1].LineNum != 4 {
		t.Errorf("LineNums = %d, %d, want 1, 4", lines[0].LineNum, lines[1].LineNum)
	}
	if lines[0].Source != path {
		t.Errorf("Source = %q, want %q", lines[0].Source, path)
	}
	if lines[1].Record.Service != "cartservice" || lines[1].Record.Severity != logstore.SeverityError {
		t.Errorf("Record = %+v", lines[1].Record)
	}
	if source.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", source.Skipped())
	}
}

func TestFileSource_Zstd(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = enc.Write([]byte(`{"service":"frontend","severity":"INFO","timestamp":"2024-01-15T10:00:00Z","raw_log":"a"}` + "\n" +
		`{"service":"frontend","severity":"ERROR","timestamp":"2024-01-15T10:00:01Z","raw_log":"b"}` + "\n"))
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, "export.jsonl.zst", buf.Bytes())

	source := NewFileSource([]string{path}, NewJSONLParser())
	defer source.Close()

	lines := readAll(t, source)
	if len(lines) != 2 || lines[1].Record.RawMessage != "b" {
		t.Errorf("zstd source lines = %+v", lines)
	}
}

func TestFileSource_MultipleFiles(t *testing.T) {
	a := writeFile(t, "a.log", []byte("[2024-01-15T10:00:00Z] INFO frontend: a\n"))
	b := writeFile(t, "b.log", []byte("[2024-01-15T09:00:00Z] INFO frontend: b\n"))

	source := NewFileSource([]string{a, b}, textParser(t))
	defer source.Close()

	lines := readAll(t, source)
	if len(lines) != 2 || lines[0].Source != a || lines[1].Source != b {
		t.Errorf("lines = %+v, want one from each file in order", lines)
	}
}

func TestFileSource_FileNotFound(t *testing.T) {
	source := NewFileSource([]string{"/nonexistent/file.log"}, textParser(t))
	defer source.Close()

	_, err := source.Next(context.Background())
	if err == nil || err == io.EOF {
		t.Errorf("Next() error = %v, want open error", err)
	}
}

func TestFileSource_ContextCancellation(t *testing.T) {
	path := writeFile(t, "test.log", []byte("[2024-01-15T10:00:00Z] INFO frontend: a\n"))
	source := NewFileSource([]string{path}, textParser(t))
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := source.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next() error = %v, want context.Canceled", err)
	}
}

func TestFileSource_Empty(t *testing.T) {
	source := NewFileSource(nil, textParser(t))
	if _, err := source.Next(context.Background()); err != io.EOF {
		t.Errorf("Next() error = %v, want io.EOF", err)
	}
}
