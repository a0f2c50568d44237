// Package runlog provides the append-only conversion log: one line per
// processed entry, grep-able by outcome tag.
package runlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dhcgn/pmmail-to-eml/model"
)

// Sink accepts one log line per processed entry. Implementations must be
// safe for concurrent appends from parallel workers.
type Sink interface {
	Append(line string) error
}

// Line formats one outcome as a log line: tag, source path, and the reason
// on fallback or failure.
func Line(o model.Outcome) string {
	if o.Reason == "" {
		return fmt.Sprintf("%s\t%s", o.Tag, o.Entry.SourcePath)
	}
	reason := strings.ReplaceAll(o.Reason, "\n", " ")
	return fmt.Sprintf("%s\t%s\t%s", o.Tag, o.Entry.SourcePath, reason)
}

// Memory collects lines in memory, for tests and dry runs.
type Memory struct {
	mu    sync.Mutex
	lines []string
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(line string) error {
	m.mu.Lock()
	m.lines = append(m.lines, line)
	m.mu.Unlock()
	return nil
}

// Lines returns a copy of everything appended so far.
func (m *Memory) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

// File appends lines to a log file through a buffered writer.
type File struct {
	path   string
	mu     sync.Mutex
	writer *bufio.Writer
	file   *os.File
}

func NewFile(path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("run log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create run log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	return &File{
		path:   path,
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
	}, nil
}

// Path returns the location of the log file for the end-of-run summary.
func (f *File) Path() string {
	return f.path
}

func (f *File) Append(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.writer.WriteString(line); err != nil {
		return fmt.Errorf("write run log line: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write run log newline: %w", err)
	}
	return nil
}

// Close flushes buffered lines and closes the log file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	if err := f.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush run log: %w", err)
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync run log: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close run log: %w", err)
	}
	return firstErr
}
