package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kingrea/stepfile/internal/engine"
	"github.com/kingrea/stepfile/internal/fsops"
	"github.com/kingrea/stepfile/internal/pipeline"
	"github.com/kingrea/stepfile/internal/runlog"
	"github.com/kingrea/stepfile/internal/step"
	"github.com/kingrea/stepfile/internal/tui"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))

func newStatusCommand(global *globalOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show outputs, sentinels, and the last run of every step",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := global.open(file, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer sess.Close()
			graph, err := pipeline.Build(sess.def, pipeline.Options{StateDir: sess.stateDir})
			if err != nil {
				return err
			}
			records, err := sess.journal.Records()
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), graph, fsops.OS{}, records)
		},
	}
	addPipelineFlag(cmd, &file)
	return cmd
}

type statusRow struct {
	step    string
	outputs string
	state   string
	usedBy  string
	last    string
}

func writeStatus(w io.Writer, graph *step.Graph, files fsops.FileOps, records []runlog.Record) error {
	byStep := make(map[string]runlog.Record, len(records))
	for _, rec := range records {
		byStep[rec.Step] = rec
	}
	var rows []statusRow
	for _, id := range graph.IDs() {
		s, err := graph.Lookup(id)
		if err != nil {
			return err
		}
		present := 0
		for _, out := range s.Outputs() {
			ok, err := files.Exists(out)
			if err != nil {
				return err
			}
			if ok {
				present++
			}
		}
		row := statusRow{
			step:    step.Label(s),
			outputs: fmt.Sprintf("%d/%d", present, len(s.Outputs())),
			state:   "pending",
		}
		var users []string
		for _, dep := range graph.Dependents(id) {
			users = append(users, string(dep))
		}
		row.usedBy = strings.Join(users, ",")
		if row.usedBy == "" {
			row.usedBy = "-"
		}
		if len(s.Outputs()) > 0 && present == len(s.Outputs()) {
			row.state = "ready"
		}
		locked, err := files.Exists(s.SentinelFile())
		if err != nil {
			return err
		}
		var held string
		if locked {
			row.state = "locked"
			if data, err := files.ReadFile(s.SentinelFile()); err == nil {
				if owner, ok := engine.ParseOwnerRecord(data); ok {
					held = fmt.Sprintf("held by %s:%d", owner.Host, owner.PID)
				}
			}
		}
		if rec, ok := byStep[string(id)]; ok {
			row.last = describeRecord(rec)
		}
		switch {
		case held != "" && row.last != "":
			row.last = held + "; " + row.last
		case held != "":
			row.last = held
		}
		rows = append(rows, row)
	}

	widths := [4]int{len("STEP"), len("OUTPUTS"), len("STATE"), len("USED BY")}
	for _, r := range rows {
		widths[0] = max(widths[0], len(r.step))
		widths[1] = max(widths[1], len(r.outputs))
		widths[2] = max(widths[2], len(r.state))
		widths[3] = max(widths[3], len(r.usedBy))
	}
	header := fmt.Sprintf("%-*s  %-*s  %-*s  %-*s  %s",
		widths[0], "STEP", widths[1], "OUTPUTS", widths[2], "STATE", widths[3], "USED BY", "LAST RUN")
	if _, err := fmt.Fprintln(w, headerStyle.Render(header)); err != nil {
		return err
	}
	for _, r := range rows {
		state := tui.StepLabel(r.state)
		if pad := widths[2] - len(r.state); pad > 0 {
			state += strings.Repeat(" ", pad)
		}
		if _, err := fmt.Fprintf(w, "%-*s  %-*s  %s  %-*s  %s\n",
			widths[0], r.step, widths[1], r.outputs, state, widths[3], r.usedBy, tui.Detail(r.last)); err != nil {
			return err
		}
	}
	return nil
}

func describeRecord(rec runlog.Record) string {
	at := rec.StartedAt
	if rec.Finished() {
		at = rec.FinishedAt
	}
	text := fmt.Sprintf("%s %s", rec.Status, at.Local().Format(time.DateTime))
	if rec.Error != "" {
		text += ": " + strings.SplitN(rec.Error, "\n", 2)[0]
	}
	return text
}
