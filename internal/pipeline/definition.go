package pipeline

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/stepfile/internal/structured"
)

// Definition declares a pipeline of shell steps.
type Definition struct {
	Name     string    `yaml:"name,omitempty"`
	StateDir string    `yaml:"state_dir,omitempty"`
	Workdir  string    `yaml:"workdir,omitempty"`
	Steps    []StepDef `yaml:"steps"`

	// dir is the directory the definition was loaded from. Relative workdir
	// paths resolve against it.
	dir string
}

// StepDef declares a single step.
type StepDef struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name,omitempty"`
	Inputs   []InputDef        `yaml:"inputs,omitempty"`
	Outputs  []string          `yaml:"outputs,omitempty"`
	Parallel bool              `yaml:"parallel,omitempty"`
	Command  string            `yaml:"command,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`

	// Config keeps the raw node so a missing key (unconfigured step) can be
	// told apart from an explicit null (configured with defaults).
	Config yaml.Node `yaml:"config,omitempty"`
}

// InputDef names a required file and, optionally, the step producing it.
type InputDef struct {
	Path     string `yaml:"path"`
	Producer string `yaml:"producer,omitempty"`
}

// Configured reports whether the step declared a config key.
func (sd StepDef) Configured() bool {
	return sd.Config.Kind != 0
}

// Configuration decodes the config key. ok is false for unconfigured steps.
// An explicit null yields structured.Absent.
func (sd StepDef) Configuration() (value structured.Value, ok bool, err error) {
	if !sd.Configured() {
		return nil, false, nil
	}
	if sd.Config.Kind == yaml.ScalarNode && sd.Config.ShortTag() == "!!null" {
		return structured.Absent, true, nil
	}
	data, err := yaml.Marshal(&sd.Config)
	if err != nil {
		return nil, true, fmt.Errorf("pipeline: step %s: encode config: %w", sd.ID, err)
	}
	value, err = structured.Parse(data)
	if err != nil {
		return nil, true, fmt.Errorf("pipeline: step %s: config: %w", sd.ID, err)
	}
	return value, true, nil
}

// Validate ensures the definition is self-consistent.
func (def Definition) Validate() error {
	if len(def.Steps) == 0 {
		return fmt.Errorf("pipeline: at least one step is required")
	}
	seen := make(map[string]StepDef, len(def.Steps))
	for idx, sd := range def.Steps {
		if sd.ID == "" {
			return fmt.Errorf("pipeline: step[%d]: id is required", idx)
		}
		if _, exists := seen[sd.ID]; exists {
			return fmt.Errorf("pipeline: duplicate step id %s", sd.ID)
		}
		if len(sd.Outputs) == 0 && sd.Command == "" {
			return fmt.Errorf("pipeline: step %s: declare outputs or a command", sd.ID)
		}
		seen[sd.ID] = sd
	}
	for _, sd := range def.Steps {
		for idx, in := range sd.Inputs {
			if in.Path == "" {
				return fmt.Errorf("pipeline: step %s input[%d]: path is required", sd.ID, idx)
			}
			if in.Producer == "" {
				continue
			}
			if _, ok := seen[in.Producer]; !ok {
				return fmt.Errorf("pipeline: step %s input %s references unknown producer %s", sd.ID, in.Path, in.Producer)
			}
		}
		if _, _, err := sd.Configuration(); err != nil {
			return err
		}
	}
	return nil
}

// StepIDs returns the declared ids in file order.
func (def Definition) StepIDs() []string {
	ids := make([]string, 0, len(def.Steps))
	for _, sd := range def.Steps {
		ids = append(ids, sd.ID)
	}
	return ids
}

// Step returns the definition of id.
func (def Definition) Step(id string) (StepDef, bool) {
	for _, sd := range def.Steps {
		if sd.ID == id {
			return sd, true
		}
	}
	return StepDef{}, false
}

func sortedEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
