package step

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/stepfile/internal/structured"
)

// Precondition-class failures. They are user-fixable setup errors, so the
// engine clears a step's sentinel before propagating them.
var (
	ErrMissingInput          = errors.New("missing input")
	ErrProducerMismatch      = errors.New("producer mismatch")
	ErrConfigurationMismatch = errors.New("configuration mismatch")
	ErrUnknownStep           = errors.New("unknown step")
)

// IsPrecondition reports whether err carries a precondition-class failure.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrMissingInput) ||
		errors.Is(err, ErrProducerMismatch) ||
		errors.Is(err, ErrConfigurationMismatch) ||
		errors.Is(err, ErrUnknownStep)
}

// MissingInputError is returned when a required file is absent and no
// producer was declared.
type MissingInputError struct {
	Step string
	Path string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("step %s: required input %s does not exist and no producer is declared", e.Step, e.Path)
}

// Is matches ErrMissingInput.
func (e *MissingInputError) Is(target error) bool { return target == ErrMissingInput }

// ProducerMismatchError is returned when a declared producer does not list
// the path it is expected to produce.
type ProducerMismatchError struct {
	Step     string
	Producer string
	Path     string
	Outputs  []string
}

func (e *ProducerMismatchError) Error() string {
	return fmt.Sprintf("step %s: producer %s does not declare %s among its outputs [%s]",
		e.Step, e.Producer, e.Path, strings.Join(e.Outputs, ", "))
}

// Is matches ErrProducerMismatch.
func (e *ProducerMismatchError) Is(target error) bool { return target == ErrProducerMismatch }

// ConfigurationMismatchError is returned when the configuration persisted
// with a step's outputs differs from the configuration in effect.
type ConfigurationMismatchError struct {
	Step      string
	ParamFile string
	// Persisted is nil when no param file was found next to existing outputs.
	Persisted structured.Value
	Current   structured.Value
	Diff      string
}

func (e *ConfigurationMismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %s: configuration in %s does not match the current configuration", e.Step, e.ParamFile)
	if e.Persisted == nil {
		b.WriteString("\npersisted: <no param file>")
	} else {
		fmt.Fprintf(&b, "\npersisted:\n%s", indent(structured.String(e.Persisted)))
	}
	fmt.Fprintf(&b, "\ncurrent:\n%s", indent(structured.String(e.Current)))
	if e.Diff != "" {
		fmt.Fprintf(&b, "\ndiff (-persisted +current):\n%s", strings.TrimRight(e.Diff, "\n"))
	}
	return b.String()
}

// Is matches ErrConfigurationMismatch.
func (e *ConfigurationMismatchError) Is(target error) bool { return target == ErrConfigurationMismatch }

// UnknownStepError is returned when a producer ID has no step in the graph.
type UnknownStepError struct {
	Step ID
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("step: unknown id %s", e.Step)
}

// Is matches ErrUnknownStep.
func (e *UnknownStepError) Is(target error) bool { return target == ErrUnknownStep }

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}
