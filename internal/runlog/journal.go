// Package runlog keeps a JSON journal of the last execution of every step so
// `stepfile status` can report on runs from other processes.
package runlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/stepfile/internal/engine"
)

// FileName is the journal file inside the state directory.
const FileName = "runs.json"

// Status enumerates journal states.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusUpToDate  Status = "up-to-date"
	StatusFailed    Status = "failed"
)

// Record captures the latest execution of one step.
type Record struct {
	Step       string    `json:"step"`
	Name       string    `json:"name,omitempty"`
	RunID      string    `json:"run_id"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether the record reached a terminal status.
func (r Record) Finished() bool {
	switch r.Status {
	case StatusCompleted, StatusUpToDate, StatusFailed:
		return true
	}
	return false
}

type document struct {
	Records   map[string]Record `json:"records"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Journal persists step records to a JSON file. Every update re-reads the
// file first so runs from other processes are merged rather than dropped.
type Journal struct {
	path   string
	runID  string
	logger *slog.Logger

	mu sync.Mutex
}

// New returns a journal stored at path. A fresh run id tags every record
// written through it.
func New(path string, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{path: path, runID: uuid.NewString(), logger: logger}
}

// Path returns the journal location.
func (j *Journal) Path() string {
	return j.path
}

// RunID identifies records written by this journal instance.
func (j *Journal) RunID() string {
	return j.runID
}

// Observe records an engine event. It satisfies engine.Observer; write
// failures are logged, never returned to the engine.
func (j *Journal) Observe(ev engine.Event) {
	if err := j.Record(ev); err != nil {
		j.logger.Warn("run journal update failed", "path", j.path, "step", string(ev.Step), "error", err)
	}
}

// Record applies ev to the journal and saves it.
func (j *Journal) Record(ev engine.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	doc, err := j.load()
	if err != nil {
		return err
	}
	id := string(ev.Step)
	rec := doc.Records[id]
	if rec.RunID != j.runID {
		rec = Record{Step: id, RunID: j.runID, StartedAt: ev.At}
	}
	rec.Name = ev.Name
	switch ev.Kind {
	case engine.EventWaiting:
		rec.Status = StatusWaiting
		rec.StartedAt = ev.At
	case engine.EventWaited:
		rec.Status = StatusCompleted
		rec.FinishedAt = ev.At
	case engine.EventStarted:
		rec.Status = StatusRunning
		rec.StartedAt = ev.At
		rec.FinishedAt = time.Time{}
		rec.Error = ""
	case engine.EventCompleted:
		rec.Status = StatusCompleted
		rec.FinishedAt = ev.At
	case engine.EventUpToDate:
		rec.Status = StatusUpToDate
		rec.FinishedAt = ev.At
	case engine.EventFailed:
		rec.Status = StatusFailed
		rec.FinishedAt = ev.At
		if ev.Err != nil {
			rec.Error = ev.Err.Error()
		}
	default:
		return fmt.Errorf("runlog: unknown event kind %q", ev.Kind)
	}
	doc.Records[id] = rec
	doc.UpdatedAt = ev.At
	return j.save(doc)
}

// Records returns every stored record sorted by step id.
func (j *Journal) Records() ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	doc, err := j.load()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(doc.Records))
	for _, rec := range doc.Records {
		out = append(out, rec)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Step < out[b].Step })
	return out, nil
}

// Lookup returns the stored record of a step.
func (j *Journal) Lookup(id string) (Record, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	doc, err := j.load()
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := doc.Records[id]
	return rec, ok, nil
}

func (j *Journal) load() (document, error) {
	doc := document{Records: map[string]Record{}}
	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("runlog: read %s: %w", j.path, err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("runlog: decode %s: %w", j.path, err)
	}
	if doc.Records == nil {
		doc.Records = map[string]Record{}
	}
	return doc, nil
}

// save writes through a temp file and rename so readers never see a
// half-written journal.
func (j *Journal) save(doc document) error {
	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("runlog: ensure dir: %w", err)
	}
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("runlog: encode: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".runs-*.json")
	if err != nil {
		return fmt.Errorf("runlog: temp file: %w", err)
	}
	if _, err := tmp.Write(append(encoded, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("runlog: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("runlog: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), j.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("runlog: replace %s: %w", j.path, err)
	}
	return nil
}
