package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation configures JSONL log rotation.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultRotation keeps ten 10 MB files for up to 90 days.
func DefaultRotation() Rotation {
	return Rotation{MaxSizeMB: 10, MaxBackups: 10, MaxAgeDays: 90}
}

// JSONLSink appends entries as JSON lines, rotating with lumberjack.
// Queries scan the live file and every uncompressed backup.
type JSONLSink struct {
	path string
	mu   sync.Mutex
	w    *lumberjack.Logger
}

var _ Sink = (*JSONLSink)(nil)

// NewJSONL opens (creating if needed) a JSONL sync log at path.
func NewJSONL(path string, rot Rotation) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating sync log dir: %w", err)
	}
	return &JSONLSink{
		path: path,
		w: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    rot.MaxSizeMB,
			MaxBackups: rot.MaxBackups,
			MaxAge:     rot.MaxAgeDays,
			LocalTime:  false,
			Compress:   false,
		},
	}, nil
}

// Path returns the live log file path.
func (s *JSONLSink) Path() string { return s.path }

// Append writes one JSON line.
func (s *JSONLSink) Append(ctx context.Context, e *Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	prepare(e)
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encoding sync log entry: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return "", fmt.Errorf("writing sync log: %w", err)
	}
	return e.ID, nil
}

// Query scans all log files for matching entries.
func (s *JSONLSink) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.files()
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := readEntries(path, f)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return finish(out, f), nil
}

// Close closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}

// files returns rotated backups (name-<timestamp>.ext) followed by the live file.
func (s *JSONLSink) files() ([]string, error) {
	dir := filepath.Dir(s.path)
	ext := filepath.Ext(s.path)
	prefix := strings.TrimSuffix(filepath.Base(s.path), ext) + "-"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing sync log dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	if _, err := os.Stat(s.path); err == nil {
		files = append(files, s.path)
	}
	return files, nil
}

func readEntries(path string, f Filter) ([]*Entry, error) {
	// #nosec G304 - path comes from the configured sync log location
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening sync log: %w", err)
	}
	defer func() { _ = file.Close() }()

	var out []*Entry
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// A torn final line from a crash is skipped, not fatal.
			continue
		}
		if f.Match(&e) {
			out = append(out, &e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading sync log %s: %w", path, err)
	}
	return out, nil
}
