package parser

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// maxLineSize bounds a single log line.
const maxLineSize = 1024 * 1024

// FileSource implements LogSource for reading from log files.
// Files ending in .zst are decompressed transparently.
type FileSource struct {
	files  []string
	parser LineParser

	currentFile    *os.File
	currentReader  io.ReadCloser
	currentScanner *bufio.Scanner
	currentSource  string
	currentLine    int
	fileIndex      int

	skipped int
}

// NewFileSource creates a LogSource that decodes each line of files with p.
func NewFileSource(files []string, p LineParser) *FileSource {
	return &FileSource{
		files:     files,
		parser:    p,
		fileIndex: -1,
	}
}

// Next returns the next parsed log line.
// Skips lines the parser rejects.
// Returns io.EOF when all files have been exhausted.
func (s *FileSource) Next(ctx context.Context) (*ParsedLine, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if s.currentScanner == nil {
			if err := s.openNextFile(); err != nil {
				return nil, err
			}
		}

		if s.currentScanner.Scan() {
			s.currentLine++
			line := s.currentScanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}

			rec, err := s.parser.Parse(line)
			if err != nil {
				s.skipped++
				continue
			}

			return &ParsedLine{
				Record:  rec,
				Raw:     line,
				Source:  s.currentSource,
				LineNum: s.currentLine,
			}, nil
		}

		if err := s.currentScanner.Err(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", s.currentSource, err)
		}

		// Current file exhausted, try next
		if err := s.closeCurrentFile(); err != nil {
			return nil, err
		}
	}
}

// Skipped returns how many non-blank lines could not be parsed.
func (s *FileSource) Skipped() int {
	return s.skipped
}

// Close releases resources.
func (s *FileSource) Close() error {
	return s.closeCurrentFile()
}

func (s *FileSource) openNextFile() error {
	s.fileIndex++
	if s.fileIndex >= len(s.files) {
		return io.EOF
	}

	path := s.files[s.fileIndex]
	f, err := os.Open(path) // #nosec G304 -- user-provided paths are expected
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", path, err)
	}

	r, err := Decompress(path, f)
	if err != nil {
		_ = f.Close()
		return err
	}

	s.currentFile = f
	s.currentReader = r
	s.currentScanner = bufio.NewScanner(r)
	s.currentScanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	s.currentSource = path
	s.currentLine = 0

	return nil
}

func (s *FileSource) closeCurrentFile() error {
	if s.currentFile == nil {
		return nil
	}
	if s.currentReader != nil {
		_ = s.currentReader.Close()
	}
	err := s.currentFile.Close()
	s.currentFile = nil
	s.currentReader = nil
	s.currentScanner = nil
	return err
}

// Decompress wraps r in a zstd decoder when path ends in .zst.
// Closing the result does not close r.
func Decompress(path string, r io.Reader) (io.ReadCloser, error) {
	if !strings.HasSuffix(path, ".zst") {
		return io.NopCloser(r), nil
	}
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening zstd stream %s: %w", path, err)
	}
	return dec.IOReadCloser(), nil
}
