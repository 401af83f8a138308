package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/stepfile/internal/step"
)

// ErrStaleSentinel is matched by StaleSentinelError.
var ErrStaleSentinel = errors.New("stale sentinel")

// StaleSentinelError is returned to a waiter when the sentinel it waits on
// has not been refreshed within the configured staleness window. The sentinel
// is left untouched: outputs must be inspected before it is removed.
type StaleSentinelError struct {
	Step  string
	Path  string
	Owner *OwnerRecord
	Age   time.Duration
}

func (e *StaleSentinelError) Error() string {
	owner := "unknown owner"
	if e.Owner != nil {
		owner = fmt.Sprintf("owner %s on %s (pid %d)", e.Owner.Token, e.Owner.Host, e.Owner.PID)
	}
	return fmt.Sprintf("step %s: sentinel %s held by %s has not been refreshed for %s; inspect partial outputs, then remove the sentinel",
		e.Step, e.Path, owner, e.Age.Round(time.Second))
}

// Is matches ErrStaleSentinel.
func (e *StaleSentinelError) Is(target error) bool { return target == ErrStaleSentinel }

// OwnerRecord is written into a held sentinel so waiters can tell who holds it
// and whether it is still alive.
type OwnerRecord struct {
	Token     string    `yaml:"token"`
	Step      string    `yaml:"step"`
	Host      string    `yaml:"host"`
	PID       int       `yaml:"pid"`
	Started   time.Time `yaml:"started"`
	Heartbeat time.Time `yaml:"heartbeat"`
	// Interval is the owner's heartbeat period. Zero means the record is
	// never refreshed.
	Interval time.Duration `yaml:"interval,omitempty"`
}

func newOwnerRecord(id step.ID, now time.Time, interval time.Duration) OwnerRecord {
	host, _ := os.Hostname()
	return OwnerRecord{
		Token:     uuid.NewString(),
		Step:      string(id),
		Host:      host,
		PID:       os.Getpid(),
		Started:   now.UTC(),
		Heartbeat: now.UTC(),
		Interval:  interval,
	}
}

// ParseOwnerRecord decodes a sentinel's contents. Empty sentinels (just
// created, or written by older tools) yield ok=false.
func ParseOwnerRecord(data []byte) (OwnerRecord, bool) {
	var rec OwnerRecord
	if len(data) == 0 {
		return rec, false
	}
	if err := yaml.Unmarshal(data, &rec); err != nil || rec.Token == "" {
		return OwnerRecord{}, false
	}
	return rec, true
}

func (e *Engine) writeOwner(path string, rec OwnerRecord) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	return e.fs.WriteFile(path, data)
}

// startHeartbeat refreshes the owner record until the returned stop function
// is called. stop blocks until the last write finished, so the sentinel can
// be deleted safely afterwards.
func (e *Engine) startHeartbeat(path string, rec OwnerRecord, logger *slog.Logger) (stop func()) {
	if e.heartbeat <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(e.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				rec.Heartbeat = e.now().UTC()
				if err := e.writeOwner(path, rec); err != nil {
					logger.Warn("sentinel heartbeat failed", "sentinel", path, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

// wait blocks until the sentinel of s disappears. The waiter does no work of
// its own and trusts the executor to have produced the outputs.
func (e *Engine) wait(ctx context.Context, s step.Step) error {
	path := s.SentinelFile()
	label := step.Label(s)
	logger := e.logger.With("step", string(s.ID()), "sentinel", path)
	start := e.now()
	e.emit(Event{Step: s.ID(), Name: s.Name(), Kind: EventWaiting, At: start})
	logger.Info("waiting for another execution to release the sentinel")

	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go e.watchSentinel(waitCtx, cancel, s, logger)

	if err := e.fs.BlockUntilDeleted(waitCtx, path, e.poll); err != nil {
		var stale *StaleSentinelError
		if errors.As(err, &stale) {
			e.emit(Event{Step: s.ID(), Name: s.Name(), Kind: EventFailed, Err: err, At: e.now()})
			return err
		}
		return fmt.Errorf("step %s: wait for sentinel %s: %w", label, path, err)
	}
	e.emit(Event{Step: s.ID(), Name: s.Name(), Kind: EventWaited, At: e.now(), Duration: e.now().Sub(start)})
	return nil
}

// watchSentinel inspects the foreign owner record every poll interval. It
// warns once when heartbeats stop arriving and cancels the wait with a
// StaleSentinelError once the staleness window is exceeded. Owners that do
// not heartbeat are never considered stale.
func (e *Engine) watchSentinel(ctx context.Context, cancel context.CancelCauseFunc, s step.Step, logger *slog.Logger) {
	path := s.SentinelFile()
	firstSeen := e.now()
	warned := false
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		data, err := e.fs.ReadFile(path)
		if err != nil {
			// Deleted between polls; BlockUntilDeleted will notice.
			continue
		}
		last := firstSeen
		var owner *OwnerRecord
		if rec, ok := ParseOwnerRecord(data); ok {
			owner = &rec
			last = rec.Heartbeat
		}
		age := e.now().Sub(last)
		refreshed := owner == nil || owner.Interval > 0
		if e.staleAfter > 0 && refreshed && age > e.staleAfter {
			cancel(&StaleSentinelError{Step: step.Label(s), Path: path, Owner: owner, Age: age})
			return
		}
		if !warned && e.heartbeat > 0 && age > 3*e.heartbeat {
			warned = true
			attrs := []any{"age", age.Round(time.Second)}
			if owner != nil {
				attrs = append(attrs, "owner", owner.Token, "host", owner.Host, "pid", owner.PID)
			}
			logger.Warn("sentinel heartbeat overdue; executor may have crashed", attrs...)
		}
	}
}
