package engine

import (
	"errors"
	"fmt"

	"github.com/kingrea/stepfile/internal/step"
	"github.com/kingrea/stepfile/internal/structured"
)

// persistConfiguration writes the step's configuration to its param file.
// The absent marker is stored as an explicit empty object.
func (e *Engine) persistConfiguration(s step.Step) error {
	cfg, path, ok := step.ConfigurationOf(s)
	if !ok {
		return nil
	}
	data, err := structured.Render(structured.ToStored(cfg))
	if err != nil {
		return fmt.Errorf("step %s: render configuration: %w", step.Label(s), err)
	}
	if err := e.fs.CreateDirectories(path); err != nil {
		return fmt.Errorf("step %s: %w", step.Label(s), err)
	}
	if err := e.fs.WriteFile(path, data); err != nil {
		return fmt.Errorf("step %s: persist configuration: %w", step.Label(s), err)
	}
	return nil
}

// verifyConfiguration compares the persisted configuration of s with the one
// in effect. Both sides fold empty objects into the absent marker.
func (e *Engine) verifyConfiguration(s step.Step) error {
	cfg, path, ok := step.ConfigurationOf(s)
	if !ok {
		return nil
	}
	label := step.Label(s)
	current, err := structured.Normalize(cfg)
	if err != nil {
		return fmt.Errorf("step %s: normalize configuration: %w", label, err)
	}
	exists, err := e.fs.Exists(path)
	if err != nil {
		return fmt.Errorf("step %s: %w", label, err)
	}
	if !exists {
		return &step.ConfigurationMismatchError{Step: label, ParamFile: path, Current: current}
	}
	persisted, err := e.loadConfiguration(path)
	if err != nil {
		return fmt.Errorf("step %s: %w", label, err)
	}
	if structured.Equal(persisted, current) {
		return nil
	}
	return &step.ConfigurationMismatchError{
		Step:      label,
		ParamFile: path,
		Persisted: persisted,
		Current:   current,
		Diff:      structured.Diff(persisted, current),
	}
}

func (e *Engine) loadConfiguration(path string) (structured.Value, error) {
	data, err := e.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	stored, err := structured.Parse(data)
	if err != nil && !errors.Is(err, structured.ErrEmptyDocument) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return structured.FromStored(stored), nil
}
