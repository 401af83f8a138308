package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kingrea/stepfile/internal/config"
	"github.com/kingrea/stepfile/internal/logbook"
	"github.com/kingrea/stepfile/internal/logging"
	"github.com/kingrea/stepfile/internal/pipeline"
	"github.com/kingrea/stepfile/internal/runlog"
)

// Version is overridden at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

type globalOptions struct {
	projectDir string
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCommand builds the stepfile command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "stepfile",
		Short:         "Incremental file-based pipeline runner",
		Long:          `stepfile runs pipelines whose steps are identified by the files they produce, skipping work whose outputs already exist and refusing to reuse outputs produced under a different configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.projectDir, "project-dir", "C", "", "project directory (default: current directory)")
	flags.StringVar(&opts.configPath, "config", "", "project config file (default: <project>/.stepfile/config.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newStatusCommand(opts))
	root.AddCommand(newUnlockCommand(opts))
	root.AddCommand(newLogCommand(opts))
	root.AddCommand(newInitCommand(opts))
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the CLI with the process arguments.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	}
	return err
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stepfile %s\n", Version)
		},
	}
}

func newInitCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default .stepfile/config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := opts.project()
			if err != nil {
				return err
			}
			path, err := config.Init(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config: %s\n", path)
			return nil
		},
	}
}

func (o *globalOptions) project() (string, error) {
	dir := o.projectDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}
	return abs, nil
}

// session bundles what every pipeline command loads.
type session struct {
	cfg      *config.Config
	logger   *logging.Logger
	def      pipeline.Definition
	stateDir string
	journal  *runlog.Journal
	history  *logbook.Logbook
}

func (o *globalOptions) open(pipelineFile string, logOut io.Writer) (*session, error) {
	dir, err := o.project()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir, o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Project.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Project.Log.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg, logOut)
	if err != nil {
		return nil, err
	}

	if pipelineFile == "" {
		pipelineFile = pipeline.DefaultFile
	}
	if !filepath.IsAbs(pipelineFile) {
		pipelineFile = filepath.Join(dir, pipelineFile)
	}
	def, err := pipeline.LoadFile(pipelineFile)
	if err != nil {
		logger.Close()
		return nil, err
	}

	// A state_dir in the pipeline file wins over the project default.
	stateDir := cfg.StateDirPath()
	if def.StateDir != "" {
		stateDir = def.StateDirPath()
	}
	history, err := logbook.New(filepath.Join(stateDir, logbook.FileName), logger.Logger)
	if err != nil {
		logger.Close()
		return nil, err
	}
	return &session{
		cfg:      cfg,
		logger:   logger,
		def:      def,
		stateDir: stateDir,
		journal:  runlog.New(filepath.Join(stateDir, runlog.FileName), logger.Logger),
		history:  history,
	}, nil
}

func (s *session) Close() error {
	return s.logger.Close()
}

func addPipelineFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "file", "f", pipeline.DefaultFile, "pipeline definition")
}
