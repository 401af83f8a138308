package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/stepfile/internal/engine"
)

func applyEvents(t *testing.T, m Model, events ...engine.Event) Model {
	t.Helper()
	for _, ev := range events {
		model, _ := m.Update(eventMsg(ev))
		m = model.(Model)
	}
	return m
}

func TestModelTracksStepStates(t *testing.T) {
	now := time.Now()
	m := NewModel("pipeline", []string{"raw", "train", "report"})
	m = applyEvents(t, m,
		engine.Event{Step: "report", Kind: engine.EventStarted, At: now},
		engine.Event{Step: "train", Name: "Train model", Kind: engine.EventStarted, At: now},
		engine.Event{Step: "raw", Kind: engine.EventUpToDate, At: now},
		engine.Event{Step: "train", Name: "Train model", Kind: engine.EventFailed, Err: errors.New("exit status 1\nstderr tail"), At: now},
	)
	if got := m.index["raw"].state; got != "up-to-date" {
		t.Fatalf("raw: got %s", got)
	}
	train := m.index["train"]
	if train.state != "failed" || train.detail != "exit status 1" || train.name != "Train model" {
		t.Fatalf("unexpected train row %+v", train)
	}
	if m.index["report"].finished {
		t.Fatalf("report should still be running")
	}
	view := m.View()
	for _, want := range []string{"pipeline", "Train model", "up-to-date", "failed", "exit status 1"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "stderr tail") {
		t.Fatalf("view should only show the first error line")
	}
}

func TestModelAddsUnknownStepsAndQuitsWhenDone(t *testing.T) {
	m := NewModel("", nil)
	m = applyEvents(t, m, engine.Event{Step: "extra", Kind: engine.EventWaiting, At: time.Now()})
	if len(m.rows) != 1 || m.rows[0].state != "waiting" {
		t.Fatalf("expected waiting row, got %+v", m.rows)
	}
	model, cmd := m.Update(doneMsg{})
	m = model.(Model)
	if !m.done || cmd == nil {
		t.Fatalf("expected quit command when done")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
	if !strings.Contains(m.View(), "done") {
		t.Fatalf("expected done footer")
	}
}

func TestStepLabelKeepsText(t *testing.T) {
	for _, state := range []string{"completed", "failed", "running", "waiting", "up-to-date", "pending", "locked"} {
		if !strings.Contains(StepLabel(state), state) {
			t.Fatalf("label for %s lost its text", state)
		}
	}
}
