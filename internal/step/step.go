// Package step defines pipeline steps: units of work identified by the files
// they produce. A step declares the files it requires, which upstream step (if
// any) produces each of them, and optionally a configuration whose provenance
// is persisted next to its outputs.
package step

import (
	"context"

	"github.com/kingrea/stepfile/internal/structured"
)

// ID identifies a step inside a Graph.
type ID string

// Input declares a file a step requires. An empty Producer means the file
// must already exist, supplied from outside the pipeline.
type Input struct {
	Path     string
	Producer ID
}

// HasProducer reports whether a producer step was declared.
func (in Input) HasProducer() bool {
	return in.Producer != ""
}

// Step is implemented by every unit of pipeline work.
type Step interface {
	ID() ID
	// Name is a display label for logs; it need not be unique.
	Name() string
	Outputs() []string
	Inputs() []Input
	// RunSubstepsInParallel allows producers of this step's inputs to run concurrently.
	RunSubstepsInParallel() bool
	// SentinelFile is the mutual-exclusion marker for this step's execution.
	SentinelFile() string
	Run(ctx context.Context) error
}

// Configured is implemented by steps whose configuration is persisted and
// verified. A step with an empty ParamFile opts out.
type Configured interface {
	Configuration() structured.Value
	ParamFile() string
}

// ConfigurationOf returns the step's configuration and param file, or ok=false
// when the step has nothing to persist.
func ConfigurationOf(s Step) (cfg structured.Value, paramFile string, ok bool) {
	c, isConfigured := s.(Configured)
	if !isConfigured {
		return nil, "", false
	}
	paramFile = c.ParamFile()
	if paramFile == "" {
		return nil, "", false
	}
	return c.Configuration(), paramFile, true
}

// Produces reports whether path is listed among s's outputs.
func Produces(s Step, path string) bool {
	for _, out := range s.Outputs() {
		if out == path {
			return true
		}
	}
	return false
}

// Label returns the name used in logs and errors.
func Label(s Step) string {
	if s == nil {
		return ""
	}
	if name := s.Name(); name != "" && name != string(s.ID()) {
		return name + " (" + string(s.ID()) + ")"
	}
	return string(s.ID())
}
