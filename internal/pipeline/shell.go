package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/kingrea/stepfile/internal/logging"
	"github.com/kingrea/stepfile/internal/step"
)

// Environment variables exported to step commands.
const (
	EnvStep    = "STEPFILE_STEP"
	EnvParams  = "STEPFILE_PARAMS"
	EnvOutputs = "STEPFILE_OUTPUTS"
)

// ShellStep runs a shell command as its work computation.
type ShellStep struct {
	step.Base
	command string
	dir     string
	env     []string
	output  io.Writer
}

// Run implements step.Step.
func (s *ShellStep) Run(ctx context.Context) error {
	if s.command == "" {
		return nil
	}
	logging.FromContext(ctx).Debug("running command", "step", string(s.ID()), "command", s.Command(), "dir", s.dir)
	cmd := exec.CommandContext(ctx, "sh", "-c", s.command)
	cmd.Dir = s.dir
	cmd.Env = append(os.Environ(), s.environ()...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if s.output != nil {
		cmd.Stdout = io.MultiWriter(&stdout, s.output)
		cmd.Stderr = io.MultiWriter(&stderr, s.output)
	}

	if err := cmd.Run(); err != nil {
		output := stdout.String()
		if stderr.Len() > 0 {
			output += "\n--- stderr ---\n" + stderr.String()
		}
		return fmt.Errorf("shell command %q failed: %w\noutput: %s", s.command, err, strings.TrimSpace(output))
	}
	return nil
}

// Command returns the shell command.
func (s *ShellStep) Command() string {
	return s.command
}

func (s *ShellStep) environ() []string {
	env := []string{
		EnvStep + "=" + string(s.ID()),
		EnvParams + "=" + s.ParamFile(),
		EnvOutputs + "=" + strings.Join(s.Outputs(), "\n"),
	}
	return append(env, s.env...)
}
