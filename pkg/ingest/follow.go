package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ccollicutt/smartguard/pkg/parser"
)

// tail tracks the read position of one followed file.
type tail struct {
	path    string
	offset  int64
	partial []byte
	lineNum int
}

// Follower ingests lines appended to plain-text log files.
// Compressed files cannot be followed.
type Follower struct {
	parser parser.LineParser
	sink   Sink
	logger *zap.Logger

	watcher *fsnotify.Watcher

	mu    sync.Mutex
	files map[string]*tail
	dirs  map[string]bool
	stats Stats
}

// NewFollower creates a Follower. Call Add for each file, then Run.
func NewFollower(p parser.LineParser, sink Sink, logger *zap.Logger) (*Follower, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	return &Follower{
		parser:  p,
		sink:    sink,
		logger:  logger,
		watcher: watcher,
		files:   make(map[string]*tail),
		dirs:    make(map[string]bool),
	}, nil
}

// Add starts following path. Existing content is skipped unless fromStart is set.
// The parent directory is watched so that rotated files are picked up again.
func (f *Follower) Add(path string, fromStart bool) error {
	if strings.HasSuffix(path, ".zst") {
		return fmt.Errorf("cannot follow compressed file %s", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	var offset int64
	if !fromStart {
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("stat %s: %w", abs, err)
		}
		offset = info.Size()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(abs)
	if !f.dirs[dir] {
		if err := f.watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		f.dirs[dir] = true
	}
	f.files[abs] = &tail{path: abs, offset: offset}
	return nil
}

// Close stops watching without running. Run closes the watcher itself on return.
func (f *Follower) Close() error {
	return f.watcher.Close()
}

// Stats returns the counts of everything ingested so far.
func (f *Follower) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Run processes file events until ctx is done. Files added with fromStart
// are read once before waiting for events.
func (f *Follower) Run(ctx context.Context) error {
	defer f.watcher.Close()

	f.mu.Lock()
	pending := make([]*tail, 0, len(f.files))
	for _, t := range f.files {
		pending = append(pending, t)
	}
	f.mu.Unlock()
	for _, t := range pending {
		f.readNew(ctx, t)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-f.watcher.Events:
			if !ok {
				return nil
			}
			f.handleEvent(ctx, event)

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("File watcher error", zap.Error(err))
		}
	}
}

func (f *Follower) handleEvent(ctx context.Context, event fsnotify.Event) {
	f.mu.Lock()
	t, ok := f.files[filepath.Clean(event.Name)]
	f.mu.Unlock()
	if !ok {
		return
	}

	switch {
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		f.readNew(ctx, t)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// Rotated away; a new file under the same name starts from zero.
		f.mu.Lock()
		t.offset, t.partial, t.lineNum = 0, nil, 0
		f.mu.Unlock()
	}
}

// readNew ingests the complete lines written since the last read.
func (f *Follower) readNew(ctx context.Context, t *tail) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(t.path)
	if err != nil {
		f.logger.Debug("Followed file unavailable", zap.String("path", t.path), zap.Error(err))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return
	}
	if info.Size() < t.offset {
		f.logger.Info("Followed file truncated, rereading", zap.String("path", t.path))
		t.offset, t.partial, t.lineNum = 0, nil, 0
	}

	if _, err := file.Seek(t.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		f.logger.Warn("Reading followed file failed", zap.String("path", t.path), zap.Error(err))
		return
	}
	t.offset += int64(len(data))

	buf := append(t.partial, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(buf[:i]), "\r")
		buf = buf[i+1:]
		t.lineNum++

		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := f.parser.Parse(line)
		if err != nil {
			f.stats.Unparsed++
			continue
		}
		f.stats.count(sinkRecord(ctx, f.sink, &parser.ParsedLine{
			Record:  rec,
			Raw:     line,
			Source:  t.path,
			LineNum: t.lineNum,
		}, f.logger))
	}
	t.partial = append([]byte(nil), buf...)
}
