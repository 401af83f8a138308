package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/kingrea/stepfile/internal/engine"
	"github.com/kingrea/stepfile/internal/logging"
	"github.com/kingrea/stepfile/internal/pipeline"
	"github.com/kingrea/stepfile/internal/step"
	"github.com/kingrea/stepfile/internal/tui"
)

type runOptions struct {
	file   string
	tui    bool
	dryRun bool
	sets   []string
}

func newRunCommand(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [target...]",
		Short: "Execute pipeline targets and everything they depend on",
		Long: `Execute the named steps (default: every step no other step consumes).
Missing inputs are produced by their declared producers first; existing inputs
are reused only if the configuration they were produced with still matches.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, global, opts, args)
		},
	}
	addPipelineFlag(cmd, &opts.file)
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show a live progress view")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print what would run without taking sentinels or running work")
	cmd.Flags().StringArrayVar(&opts.sets, "set", nil, "configuration override id.key=value (repeatable)")
	return cmd
}

func runPipeline(cmd *cobra.Command, global *globalOptions, opts *runOptions, args []string) error {
	overrides, err := pipeline.Overrides(opts.sets)
	if err != nil {
		return err
	}
	logOut := cmd.ErrOrStderr()
	var cmdOut io.Writer = cmd.OutOrStdout()
	if opts.tui {
		// The progress view owns the terminal; logs go to the log file only.
		logOut, cmdOut = nil, nil
	}
	sess, err := global.open(opts.file, logOut)
	if err != nil {
		return err
	}
	defer sess.Close()

	graph, err := pipeline.Build(sess.def, pipeline.Options{
		StateDir:  sess.stateDir,
		Overrides: overrides,
		Output:    cmdOut,
	})
	if err != nil {
		return err
	}
	targets, err := resolveTargets(graph, args)
	if err != nil {
		return err
	}

	newEngine := func(obs engine.Observer) (*engine.Engine, error) {
		sentinel := sess.cfg.Project.Sentinel
		return engine.New(graph,
			engine.WithLogger(sess.logger.Logger),
			engine.WithPollInterval(sentinel.PollInterval),
			engine.WithHeartbeatInterval(sentinel.HeartbeatInterval),
			engine.WithStaleAfter(sentinel.StaleAfter),
			engine.WithObserver(obs),
		)
	}
	if opts.dryRun {
		eng, err := newEngine(nil)
		if err != nil {
			return err
		}
		plan, err := eng.Plan(targets...)
		if err != nil {
			return err
		}
		return writePlan(cmd.OutOrStdout(), graph, plan)
	}

	execute := func(ctx context.Context, obs engine.Observer) error {
		eng, err := newEngine(engine.Observers(sess.journal.Observe, sess.history.Observe, obs))
		if err != nil {
			return err
		}
		return eng.ExecuteAll(ctx, targets...)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithLogger(ctx, sess.logger.Logger)
	if opts.tui {
		title := sess.def.Name
		if title == "" {
			title = "stepfile"
		}
		return tui.Run(ctx, title, sess.def.StepIDs(), execute)
	}
	return execute(ctx, newPrinter(cmd.OutOrStdout()))
}

func resolveTargets(graph *step.Graph, args []string) ([]step.ID, error) {
	if len(args) == 0 {
		return graph.Terminals(), nil
	}
	targets := make([]step.ID, 0, len(args))
	for _, arg := range args {
		id := step.ID(arg)
		if _, err := graph.Lookup(id); err != nil {
			return nil, err
		}
		targets = append(targets, id)
	}
	return targets, nil
}

// newPrinter reports engine events as plain lines.
func newPrinter(w io.Writer) engine.Observer {
	var mu sync.Mutex
	return func(ev engine.Event) {
		var line string
		switch ev.Kind {
		case engine.EventStarted:
			line = fmt.Sprintf("%s %s", tui.StepLabel("running"), ev.Name)
		case engine.EventWaiting:
			line = fmt.Sprintf("%s %s %s", tui.StepLabel("waiting"), ev.Name, tui.Detail("(held by another execution)"))
		case engine.EventWaited:
			line = fmt.Sprintf("%s %s %s", tui.StepLabel("completed"), ev.Name, tui.Detail("(produced elsewhere)"))
		case engine.EventCompleted:
			line = fmt.Sprintf("%s %s %s", tui.StepLabel("completed"), ev.Name, tui.Detail(ev.Duration.String()))
		case engine.EventUpToDate:
			line = fmt.Sprintf("%s %s", tui.StepLabel("up-to-date"), ev.Name)
		case engine.EventFailed:
			line = fmt.Sprintf("%s %s", tui.StepLabel("failed"), ev.Name)
		default:
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, line)
	}
}

// writePlan prints one line per planned step. Pending shell steps show the
// command they would run.
func writePlan(w io.Writer, graph *step.Graph, plan engine.Plan) error {
	for _, n := range plan.Nodes {
		line := fmt.Sprintf("%s %s", tui.StepLabel(string(n.State)), n.Name)
		switch {
		case n.State == engine.NodePending:
			if s, err := graph.Lookup(n.ID); err == nil {
				if shell, ok := s.(*pipeline.ShellStep); ok && shell.Command() != "" {
					line += " " + tui.Detail("$ "+shell.Command())
				}
			}
		case n.Err != nil:
			line += " " + tui.Detail(strings.SplitN(n.Err.Error(), "\n", 2)[0])
		case len(n.BlockedBy) > 0:
			ids := make([]string, len(n.BlockedBy))
			for i, id := range n.BlockedBy {
				ids[i] = string(id)
			}
			line += " " + tui.Detail("(blocked by "+strings.Join(ids, ", ")+")")
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	if plan.Blocked() {
		return fmt.Errorf("plan is blocked")
	}
	return nil
}
