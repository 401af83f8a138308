package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kingrea/stepfile/internal/engine"
	"github.com/kingrea/stepfile/internal/fsops"
	"github.com/kingrea/stepfile/internal/pipeline"
	"github.com/kingrea/stepfile/internal/step"
)

func newUnlockCommand(global *globalOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "unlock <step>",
		Short: "Remove a step's sentinel after inspecting its partial outputs",
		Args:  cobra.ExactArgs(1),
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
			s, err := graph.Lookup(step.ID(args[0]))
			if err != nil {
				return err
			}
			files := fsops.OS{}
			path := s.SentinelFile()
			held, err := files.Exists(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !held {
				fmt.Fprintf(out, "%s is not locked\n", step.Label(s))
				return nil
			}
			if data, err := files.ReadFile(path); err == nil {
				if owner, ok := engine.ParseOwnerRecord(data); ok {
					fmt.Fprintf(out, "sentinel held by %s (pid %d) since %s, last heartbeat %s\n",
						owner.Host, owner.PID, owner.Started.Format("2006-01-02 15:04:05"), owner.Heartbeat.Format("2006-01-02 15:04:05"))
				}
			}
			if err := files.DeleteFile(path); err != nil {
				return err
			}
			sess.logger.Info("sentinel removed", "step", string(s.ID()), "sentinel", path)
			fmt.Fprintf(out, "unlocked %s\n", step.Label(s))
			return nil
		},
	}
	addPipelineFlag(cmd, &file)
	return cmd
}
