package pipeline

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/stepfile/internal/step"
	"github.com/kingrea/stepfile/internal/structured"
)

// Options tune how a definition becomes a step graph.
type Options struct {
	// StateDir overrides the definition's state_dir. Relative paths resolve
	// against the workdir.
	StateDir string

	// Overrides set configuration keys per step, typically from --set flags.
	// Overriding a key of an unconfigured step makes it configured.
	Overrides map[string]map[string]any

	// Output receives the combined stdout/stderr of every command.
	Output io.Writer
}

// Build constructs a step graph from def.
func Build(def Definition, opts Options) (*step.Graph, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	for id := range opts.Overrides {
		if _, ok := def.Step(id); !ok {
			return nil, fmt.Errorf("pipeline: override for unknown step %s", id)
		}
	}
	workdir := def.WorkdirPath()
	stateDir := def.StateDirPath()
	if opts.StateDir != "" {
		stateDir = resolvePath(workdir, opts.StateDir)
	}

	graph := step.NewGraph()
	for _, sd := range def.Steps {
		base := step.NewBase(step.ID(sd.ID), sd.Name)
		base.SetStateDir(stateDir)
		base.SetParallel(sd.Parallel)
		inputs := make([]step.Input, 0, len(sd.Inputs))
		for _, in := range sd.Inputs {
			inputs = append(inputs, step.Input{Path: resolvePath(workdir, in.Path), Producer: step.ID(in.Producer)})
		}
		base.SetInputs(inputs...)
		outputs := make([]string, 0, len(sd.Outputs))
		for _, out := range sd.Outputs {
			outputs = append(outputs, resolvePath(workdir, out))
		}
		base.SetOutputs(outputs...)

		cfg, configured, err := sd.Configuration()
		if err != nil {
			return nil, err
		}
		if overrides, ok := opts.Overrides[sd.ID]; ok {
			cfg, err = applyOverrides(sd.ID, cfg, overrides)
			if err != nil {
				return nil, err
			}
			configured = true
		}
		if configured {
			base.SetConfiguration(cfg)
		}

		if err := graph.Add(&ShellStep{
			Base:    base,
			command: sd.Command,
			dir:     workdir,
			env:     sortedEnv(sd.Env),
			output:  opts.Output,
		}); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}
	return graph, nil
}

// WorkdirPath returns the directory commands run in and relative
// input/output paths resolve against.
func (def Definition) WorkdirPath() string {
	base := def.dir
	if base == "" {
		base = "."
	}
	if def.Workdir == "" {
		return filepath.Clean(base)
	}
	return resolvePath(base, def.Workdir)
}

// StateDirPath returns the directory for sentinels and param files.
func (def Definition) StateDirPath() string {
	if def.StateDir == "" {
		return filepath.Join(def.WorkdirPath(), step.DefaultStateDir)
	}
	return resolvePath(def.WorkdirPath(), def.StateDir)
}

// ParseOverride parses "id.key=value". The value is decoded as a YAML scalar
// so numbers and booleans keep their type.
func ParseOverride(raw string) (id, key string, value any, err error) {
	lhs, rhs, ok := strings.Cut(raw, "=")
	if !ok {
		return "", "", nil, fmt.Errorf("pipeline: override %q must be in id.key=value form", raw)
	}
	id, key, ok = strings.Cut(strings.TrimSpace(lhs), ".")
	if !ok || id == "" || key == "" {
		return "", "", nil, fmt.Errorf("pipeline: override %q must be in id.key=value form", raw)
	}
	if err := yaml.Unmarshal([]byte(rhs), &value); err != nil {
		value = rhs
	}
	return id, key, value, nil
}

// Overrides collects parsed --set flags into Options.Overrides form.
func Overrides(raw []string) (map[string]map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := map[string]map[string]any{}
	for _, entry := range raw {
		id, key, value, err := ParseOverride(entry)
		if err != nil {
			return nil, err
		}
		if out[id] == nil {
			out[id] = map[string]any{}
		}
		out[id][key] = value
	}
	return out, nil
}

func applyOverrides(id string, cfg structured.Value, overrides map[string]any) (structured.Value, error) {
	merged := map[string]any{}
	switch typed := cfg.(type) {
	case nil:
	case map[string]any:
		for k, v := range typed {
			merged[k] = v
		}
	default:
		if !structured.IsAbsent(cfg) {
			return nil, fmt.Errorf("pipeline: step %s: cannot override keys of a non-mapping config", id)
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged, nil
}

func resolvePath(base, candidate string) string {
	if filepath.IsAbs(candidate) {
		return filepath.Clean(candidate)
	}
	return filepath.Join(base, candidate)
}
