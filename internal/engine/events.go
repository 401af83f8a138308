package engine

import (
	"time"

	"github.com/kingrea/stepfile/internal/step"
)

// EventKind enumerates execution events.
type EventKind string

const (
	EventWaiting   EventKind = "waiting"
	EventWaited    EventKind = "waited"
	EventStarted   EventKind = "started"
	EventUpToDate  EventKind = "up-to-date"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event reports progress of a single step.
type Event struct {
	Step     step.ID
	Name     string
	Kind     EventKind
	Err      error
	At       time.Time
	Duration time.Duration
}

// Observer receives events. It is called from whichever goroutine executes
// or waits on the step, so implementations must be safe for concurrent use.
type Observer func(Event)

// Observers fans an event out to several observers.
func Observers(list ...Observer) Observer {
	return func(ev Event) {
		for _, obs := range list {
			if obs != nil {
				obs(ev)
			}
		}
	}
}
