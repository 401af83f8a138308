package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogCommand(global *globalOptions) *cobra.Command {
	var (
		file  string
		lines int
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent step history",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := global.open(file, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer sess.Close()
			entries, total, err := sess.history.Tail(lines)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if total == 0 {
				fmt.Fprintln(out, "No history yet.")
				return nil
			}
			for _, line := range entries {
				fmt.Fprintln(out, line)
			}
			if total > len(entries) {
				fmt.Fprintf(out, "(%d of %d entries, see %s)\n", len(entries), total, sess.history.Path())
			}
			return nil
		},
	}
	addPipelineFlag(cmd, &file)
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "number of entries to show")
	return cmd
}
