// Package logsink writes selected slog records to rotated, BOM-prefixed CSV
// files alongside the structured logger, grounded on the original project's
// file_logger writer and shaped like the teacher's internal/service/logs
// "wrap a slog.Handler, also capture to a side store" idea.
package logsink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// csvHeader is written with a UTF-8 BOM so the files open correctly with
// their Chinese headers in Excel, matching the original project's format.
const csvHeader = "时间,级别,消息,来源\n"

var levels = []string{"all", "debug", "info", "warn", "error"}

type levelWriter struct {
	file *os.File
	buf  *bufio.Writer
}

func newLevelWriter(path string) (*levelWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}

	buf := bufio.NewWriterSize(f, 64*1024)
	if _, err := buf.WriteString("\xEF\xBB\xBF"); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := buf.WriteString(csvHeader); err != nil {
		f.Close()
		return nil, err
	}
	if err := buf.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	return &levelWriter{file: f, buf: buf}, nil
}

func (lw *levelWriter) close() error {
	if err := lw.buf.Flush(); err != nil {
		lw.file.Close()
		return err
	}
	return lw.file.Close()
}

// Sink fans log lines out to a level-specific CSV file plus the combined
// "all" file (which skips debug-level entries), rotating to a fresh set of
// files on each call to Rotate and pruning files older than yesterday.
type Sink struct {
	mu      sync.Mutex
	dir     string
	logID   string
	writers map[string]*levelWriter
}

// New creates the log directory if needed, prunes stale files, and opens
// the initial round of CSV files.
func New(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	if err := cleanupOldLogs(dir); err != nil {
		return nil, fmt.Errorf("pruning old logs: %w", err)
	}

	s := &Sink{dir: dir}
	if err := s.openRound(time.Now().Format("2006-01-02-15-04-05")); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) openRound(id string) error {
	writers := make(map[string]*levelWriter, len(levels))
	for _, level := range levels {
		path := filepath.Join(s.dir, fmt.Sprintf("logs-%s-%s.csv", level, id))
		lw, err := newLevelWriter(path)
		if err != nil {
			for _, opened := range writers {
				opened.close()
			}
			return err
		}
		writers[level] = lw
	}
	s.writers = writers
	s.logID = id
	return nil
}

// Write appends one log line to the "all" file (unless level is debug) and
// to the matching per-level file. Fields containing a comma, quote, or
// newline are CSV-quoted.
func (s *Sink) Write(level, message, source string) error {
	level = strings.ToLower(level)
	line := fmt.Sprintf("%s,%s,%s,%s\n",
		time.Now().Format("2006-01-02 15:04:05"),
		level,
		escapeCSVField(message),
		escapeCSVField(source),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	if level != "debug" {
		if err := s.writeLineLocked("all", line); err != nil {
			return err
		}
	}
	if _, ok := s.writers[level]; !ok {
		return nil
	}
	return s.writeLineLocked(level, line)
}

func (s *Sink) writeLineLocked(key, line string) error {
	lw := s.writers[key]
	if _, err := lw.buf.WriteString(line); err != nil {
		return err
	}
	return lw.buf.Flush()
}

// Rotate closes the current round of files and opens a fresh round keyed by
// the current timestamp, then prunes anything older than yesterday. Satisfies
// scheduler.LogRotator.
func (s *Sink) Rotate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, lw := range s.writers {
		if err := lw.close(); err != nil {
			return fmt.Errorf("closing previous round: %w", err)
		}
	}

	if err := s.openRound(s.uniqueRoundID()); err != nil {
		return err
	}
	return cleanupOldLogs(s.dir)
}

// uniqueRoundID returns a timestamp-based id, disambiguated with a numeric
// suffix if a file for that exact second already exists (two rotations in
// the same wall-clock second).
func (s *Sink) uniqueRoundID() string {
	base := time.Now().Format("2006-01-02-15-04-05")
	candidate := base
	for i := 1; ; i++ {
		path := filepath.Join(s.dir, fmt.Sprintf("logs-all-%s.csv", candidate))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

// Close flushes and closes every open writer.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, lw := range s.writers {
		if err := lw.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func escapeCSVField(field string) string {
	if strings.ContainsAny(field, ",\"\n\r") {
		return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
	}
	return field
}

// cleanupOldLogs removes any file in dir whose modification time falls
// before yesterday's date, keeping only today and yesterday's logs.
func cleanupOldLogs(dir string) error {
	keepFrom := truncateToDate(time.Now().AddDate(0, 0, -1))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if truncateToDate(info.ModTime()).Before(keepFrom) {
			os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
