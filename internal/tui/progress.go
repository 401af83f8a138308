package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/stepfile/internal/engine"
)

var (
	labelStyleReady   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleBlocked = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleWaiting = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	labelStyleDefault = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Padding(0, 0, 1, 0)
)

// StepLabel renders a step state the way the progress view does. The status
// command reuses it.
func StepLabel(state string) string {
	switch state {
	case "completed", "complete", "ready":
		return labelStyleReady.Render(state)
	case "failed", "blocked", "locked":
		return labelStyleBlocked.Render(state)
	case "running", "started":
		return labelStyleRunning.Render(state)
	case "waiting":
		return labelStyleWaiting.Render(state)
	case "up-to-date":
		return labelStyleSkipped.Render(state)
	default:
		return labelStyleDefault.Render(state)
	}
}

// Detail renders secondary text.
func Detail(text string) string {
	return detailTextStyle.Render(text)
}

type row struct {
	id       string
	name     string
	state    string
	detail   string
	finished bool
}

type eventMsg engine.Event

type doneMsg struct {
	err error
}

// Model is the bubbletea model behind the progress view.
type Model struct {
	title    string
	rows     []*row
	index    map[string]*row
	spinner  spinner.Model
	done     bool
	err      error
	quitting bool
}

// NewModel seeds one row per step in display order.
func NewModel(title string, steps []string) Model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = labelStyleRunning
	m := Model{title: title, index: map[string]*row{}, spinner: sp}
	for _, id := range steps {
		m.row(id)
	}
	return m
}

func (m *Model) row(id string) *row {
	if r, ok := m.index[id]; ok {
		return r
	}
	r := &row{id: id, name: id, state: "pending"}
	m.index[id] = r
	m.rows = append(m.rows, r)
	return r
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update folds engine events into the view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
	case eventMsg:
		m.apply(engine.Event(msg))
		return m, nil
	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(ev engine.Event) {
	r := m.row(string(ev.Step))
	if ev.Name != "" {
		r.name = ev.Name
	}
	switch ev.Kind {
	case engine.EventStarted:
		r.state = "running"
		r.detail = ""
	case engine.EventWaiting:
		r.state = "waiting"
		r.detail = "held by another execution"
	case engine.EventWaited:
		r.state = "completed"
		r.finished = true
		r.detail = "produced elsewhere"
	case engine.EventCompleted:
		r.state = "completed"
		r.finished = true
		r.detail = ev.Duration.Round(time.Millisecond).String()
	case engine.EventUpToDate:
		r.state = "up-to-date"
		r.finished = true
		r.detail = ""
	case engine.EventFailed:
		r.state = "failed"
		r.finished = true
		if ev.Err != nil {
			r.detail = firstLine(ev.Err.Error())
		}
	}
}

// View renders one line per step.
func (m Model) View() string {
	var b strings.Builder
	if m.title != "" {
		b.WriteString(titleStyle.Render(m.title))
		b.WriteString("\n")
	}
	for _, r := range m.rows {
		marker := "  "
		if !r.finished && (r.state == "running" || r.state == "waiting") {
			marker = m.spinner.View() + " "
		}
		line := fmt.Sprintf("%s%-24s %s", marker, r.name, StepLabel(r.state))
		if r.detail != "" {
			line += "  " + Detail(r.detail)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	switch {
	case m.done && m.err != nil:
		b.WriteString("\n" + labelStyleBlocked.Render("failed: ") + firstLine(m.err.Error()) + "\n")
	case m.done:
		b.WriteString("\n" + labelStyleReady.Render("done") + "\n")
	case m.quitting:
		b.WriteString("\n" + Detail("interrupted") + "\n")
	}
	return b.String()
}

// Run shows the progress view while fn executes the pipeline. fn receives an
// observer to pass to the engine. Quitting the view cancels fn's context.
func Run(ctx context.Context, title string, steps []string, fn func(context.Context, engine.Observer) error, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(title, steps), opts...)
	result := make(chan error, 1)
	go func() {
		err := fn(ctx, func(ev engine.Event) { p.Send(eventMsg(ev)) })
		result <- err
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-result
		return fmt.Errorf("tui: %w", err)
	}
	cancel()
	return <-result
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
