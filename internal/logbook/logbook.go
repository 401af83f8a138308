// Package logbook appends a human readable history of step executions to a
// text file in the state directory. Unlike the run journal it keeps every
// entry, so `stepfile log` can show what happened across runs.
package logbook

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/stepfile/internal/engine"
)

// FileName is the logbook file inside the state directory.
const FileName = "history.log"

// Level represents the severity of an entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook persists step history to a text file.
type Logbook struct {
	path   string
	clock  func() time.Time
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a logbook writing to path. Failed writes are reported to
// logger, or slog.Default() when nil.
func New(path string, logger *slog.Logger) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logbook: ensure dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Logbook{path: path, clock: time.Now, logger: logger}, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Observe turns engine events into entries. Waiting is kept so stalls on
// foreign sentinels show up later.
func (l *Logbook) Observe(ev engine.Event) {
	level, msg, ok := entryFor(ev)
	if !ok {
		return
	}
	if err := l.Append(level, msg); err != nil {
		l.logger.Warn("logbook append failed", "path", l.path, "step", string(ev.Step), "error", err)
	}
}

func entryFor(ev engine.Event) (Level, string, bool) {
	switch ev.Kind {
	case engine.EventStarted:
		return LevelInfo, fmt.Sprintf("%s started", ev.Step), true
	case engine.EventCompleted:
		return LevelInfo, fmt.Sprintf("%s completed in %s", ev.Step, ev.Duration.Round(time.Millisecond)), true
	case engine.EventUpToDate:
		return LevelInfo, fmt.Sprintf("%s up to date", ev.Step), true
	case engine.EventWaiting:
		return LevelWarn, fmt.Sprintf("%s waiting for another execution", ev.Step), true
	case engine.EventWaited:
		return LevelInfo, fmt.Sprintf("%s produced by another execution", ev.Step), true
	case engine.EventFailed:
		msg := fmt.Sprintf("%s failed", ev.Step)
		if ev.Err != nil {
			msg += ": " + strings.SplitN(ev.Err.Error(), "\n", 2)[0]
		}
		return LevelError, msg, true
	}
	return "", "", false
}

// Append writes one timestamped entry.
func (l *Logbook) Append(level Level, message string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logbook: open %s: %w", l.path, err)
	}
	_, writeErr := fmt.Fprintf(file, "%s %-5s %s\n",
		l.clock().UTC().Format(time.RFC3339), level, strings.TrimSpace(message))
	closeErr := file.Close()
	if writeErr != nil {
		return fmt.Errorf("logbook: write %s: %w", l.path, writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("logbook: close %s: %w", l.path, closeErr)
	}
	return nil
}

// Tail returns the last n entries, oldest first, and the total number of
// entries. A logbook that was never written is empty.
func (l *Logbook) Tail(n int) ([]string, int, error) {
	if l == nil || n <= 0 {
		return nil, 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("logbook: open %s: %w", l.path, err)
	}
	defer file.Close()

	ring := make([]string, 0, n)
	total := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if len(ring) < n {
			ring = append(ring, scanner.Text())
		} else {
			ring[total%n] = scanner.Text()
		}
		total++
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("logbook: read %s: %w", l.path, err)
	}
	if total <= n {
		return ring, total, nil
	}
	start := total % n
	return append(ring[start:], ring[:start]...), total, nil
}
