package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/kingrea/stepfile/internal/fsops"
	"github.com/kingrea/stepfile/internal/step"
)

// Default sentinel timings.
const (
	DefaultPollInterval      = time.Second
	DefaultHeartbeatInterval = 10 * time.Second
)

// Engine executes steps from a graph, guarding each execution with the
// step's sentinel file.
type Engine struct {
	graph      *step.Graph
	fs         fsops.FileOps
	logger     *slog.Logger
	clock      func() time.Time
	observer   Observer
	poll       time.Duration
	heartbeat  time.Duration
	staleAfter time.Duration

	// mu serializes sentinel test-and-set between goroutines of this process.
	// Cross-process exclusion relies on CreateEmptyFile being atomic.
	mu sync.Mutex
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithFileOps swaps the filesystem implementation (tests use fsops.Memory).
func WithFileOps(ops fsops.FileOps) Option {
	return func(e *Engine) {
		if ops != nil {
			e.fs = ops
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithObserver registers a callback for execution events.
func WithObserver(obs Observer) Option {
	return func(e *Engine) {
		e.observer = obs
	}
}

// WithPollInterval sets how often waiters check a foreign sentinel.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.poll = d
		}
	}
}

// WithHeartbeatInterval sets how often an executor refreshes its sentinel.
// Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.heartbeat = d
		}
	}
}

// WithStaleAfter makes waiters give up on a sentinel whose heartbeat is older
// than d. Zero waits forever.
func WithStaleAfter(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.staleAfter = d
		}
	}
}

// New wires an engine to a step graph.
func New(graph *step.Graph, opts ...Option) (*Engine, error) {
	if graph == nil {
		return nil, fmt.Errorf("engine: step graph is required")
	}
	e := &Engine{
		graph:     graph,
		fs:        fsops.OS{},
		logger:    slog.Default(),
		clock:     time.Now,
		poll:      DefaultPollInterval,
		heartbeat: DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Graph returns the graph the engine executes.
func (e *Engine) Graph() *step.Graph {
	return e.graph
}

// Execute runs the step registered under id after resolving every input it
// declares. When it returns nil, every input exists with verified provenance
// and the step's work ran at most once across concurrent callers.
func (e *Engine) Execute(ctx context.Context, id step.ID) error {
	s, err := e.graph.Lookup(id)
	if err != nil {
		return err
	}
	return e.execute(ctx, s)
}

// ExecuteAll executes each target in order, stopping at the first failure.
func (e *Engine) ExecuteAll(ctx context.Context, ids ...step.ID) error {
	for _, id := range ids {
		if err := e.Execute(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, s step.Step) error {
	sentinel := s.SentinelFile()
	label := step.Label(s)
	logger := e.logger.With("step", string(s.ID()))

	acquired, err := e.acquire(sentinel)
	if err != nil {
		return fmt.Errorf("step %s: acquire sentinel %s: %w", label, sentinel, err)
	}
	if !acquired {
		return e.wait(ctx, s)
	}

	started := e.now()
	owner := newOwnerRecord(s.ID(), started, e.heartbeat)
	if err := e.writeOwner(sentinel, owner); err != nil {
		logger.Warn("could not record sentinel owner", "sentinel", sentinel, "error", err)
	}
	e.emit(Event{Step: s.ID(), Name: s.Name(), Kind: EventStarted, At: started})
	logger.Debug("acquired sentinel", "sentinel", sentinel, "owner", owner.Token)

	stopHeartbeat := e.startHeartbeat(sentinel, owner, logger)
	upToDate, runErr := e.resolveAndRun(ctx, s)
	stopHeartbeat()

	elapsed := e.now().Sub(started)
	if runErr != nil {
		if step.IsPrecondition(runErr) {
			if err := e.fs.DeleteFile(sentinel); err != nil {
				runErr = errors.Join(runErr, fmt.Errorf("step %s: release sentinel: %w", label, err))
			}
		} else {
			logger.Error("step failed; sentinel left in place for inspection",
				"sentinel", sentinel, "error", runErr)
		}
		e.emit(Event{Step: s.ID(), Name: s.Name(), Kind: EventFailed, Err: runErr, At: e.now(), Duration: elapsed})
		return runErr
	}
	if err := e.fs.DeleteFile(sentinel); err != nil {
		return fmt.Errorf("step %s: release sentinel: %w", label, err)
	}
	kind := EventCompleted
	if upToDate {
		kind = EventUpToDate
		logger.Debug("outputs up to date")
	} else {
		logger.Info("step completed", "duration", elapsed)
	}
	e.emit(Event{Step: s.ID(), Name: s.Name(), Kind: kind, At: e.now(), Duration: elapsed})
	return nil
}

// acquire atomically tests and sets the sentinel. It reports false when
// another goroutine or process already holds it.
func (e *Engine) acquire(path string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exists, err := e.fs.Exists(path)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := e.fs.CreateDirectories(path); err != nil {
		return false, err
	}
	if err := e.fs.CreateEmptyFile(path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (e *Engine) emit(ev Event) {
	if e.observer != nil {
		e.observer(ev)
	}
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock()
}
