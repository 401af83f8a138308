package step

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kingrea/stepfile/internal/structured"
)

// DefaultStateDir holds sentinel and param files unless a step overrides it.
const DefaultStateDir = ".stepfile"

// Base provides common plumbing for steps (identity, IO contracts, derived
// sentinel and param paths). Concrete steps embed it and supply Run.
type Base struct {
	id         ID
	name       string
	inputs     []Input
	outputs    []string
	parallel   bool
	stateDir   string
	configured bool
	config     structured.Value
}

// NewBase seeds the helper with the step identity.
func NewBase(id ID, name string) Base {
	return Base{id: id, name: name}
}

// SetInputs declares the required files.
func (b *Base) SetInputs(inputs ...Input) {
	b.inputs = append([]Input{}, inputs...)
}

// SetOutputs declares the produced files.
func (b *Base) SetOutputs(paths ...string) {
	b.outputs = append([]string{}, paths...)
}

// SetParallel toggles concurrent resolution of this step's inputs.
func (b *Base) SetParallel(parallel bool) {
	b.parallel = parallel
}

// SetStateDir moves the derived sentinel and param files.
func (b *Base) SetStateDir(dir string) {
	b.stateDir = dir
}

// SetConfiguration marks the step as configured. Pass structured.Absent for a
// present-but-empty configuration. It must be called before the step is run
// and never afterwards.
func (b *Base) SetConfiguration(cfg structured.Value) {
	b.configured = true
	if cfg == nil {
		cfg = structured.Absent
	}
	b.config = cfg
}

// ID implements Step.ID.
func (b *Base) ID() ID {
	return b.id
}

// Name implements Step.Name.
func (b *Base) Name() string {
	if b.name == "" {
		return string(b.id)
	}
	return b.name
}

// Inputs implements Step.Inputs.
func (b *Base) Inputs() []Input {
	return append([]Input{}, b.inputs...)
}

// Outputs implements Step.Outputs.
func (b *Base) Outputs() []string {
	return append([]string{}, b.outputs...)
}

// RunSubstepsInParallel implements Step.RunSubstepsInParallel.
func (b *Base) RunSubstepsInParallel() bool {
	return b.parallel
}

// StateDir returns the directory holding derived files.
func (b *Base) StateDir() string {
	if b.stateDir == "" {
		return DefaultStateDir
	}
	return b.stateDir
}

// SentinelFile implements Step.SentinelFile.
func (b *Base) SentinelFile() string {
	return filepath.Join(b.StateDir(), string(b.id)+".in-progress")
}

// Configuration implements Configured.Configuration.
func (b *Base) Configuration() structured.Value {
	if !b.configured {
		return nil
	}
	return b.config
}

// ParamFile implements Configured.ParamFile. Unconfigured steps return "".
func (b *Base) ParamFile() string {
	if !b.configured {
		return ""
	}
	return filepath.Join(b.StateDir(), string(b.id)+".params.yaml")
}

// Validate ensures the step identity is usable.
func (b *Base) Validate() error {
	if b.id == "" {
		return fmt.Errorf("step: id is required")
	}
	for _, in := range b.inputs {
		if in.Path == "" {
			return fmt.Errorf("step: %s declares an input with an empty path", b.id)
		}
	}
	return nil
}

// RunFunc is the work computation of a Func step.
type RunFunc func(ctx context.Context) error

// Func adapts a plain function into a Step.
type Func struct {
	Base
	run RunFunc
}

// NewFunc wraps run with the supplied base.
func NewFunc(base Base, run RunFunc) *Func {
	return &Func{Base: base, run: run}
}

// Run implements Step.Run.
func (f *Func) Run(ctx context.Context) error {
	if f.run == nil {
		return nil
	}
	return f.run(ctx)
}
