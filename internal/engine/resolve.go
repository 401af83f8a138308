package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/stepfile/internal/step"
)

// resolveAndRun runs under the step's sentinel. It reports upToDate when the
// step's outputs already existed and its work was skipped.
func (e *Engine) resolveAndRun(ctx context.Context, s step.Step) (upToDate bool, err error) {
	label := step.Label(s)
	complete, err := e.outputsPresent(s)
	if err != nil {
		return false, fmt.Errorf("step %s: %w", label, err)
	}
	if complete {
		if err := e.verifyConfiguration(s); err != nil {
			return false, err
		}
		current, err := e.inputsCurrent(s)
		if err != nil {
			return false, err
		}
		if current {
			return true, nil
		}
		e.logger.Debug("outputs present but a produced input is missing", "step", string(s.ID()))
	}
	if err := e.resolveInputs(ctx, s); err != nil {
		return false, err
	}
	if err := e.persistConfiguration(s); err != nil {
		return false, err
	}
	if err := s.Run(ctx); err != nil {
		return false, fmt.Errorf("step %s: run: %w", label, err)
	}
	return false, nil
}

// outputsPresent reports whether the step declares outputs and all of them
// exist. Steps without outputs always run.
func (e *Engine) outputsPresent(s step.Step) (bool, error) {
	outputs := s.Outputs()
	if len(outputs) == 0 {
		return false, nil
	}
	for _, path := range outputs {
		exists, err := e.fs.Exists(path)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}

// inputsCurrent checks the inputs of a step whose outputs already exist,
// without running anything. External inputs must exist and existing produced
// inputs must match their producer's configuration. It reports false when a
// produced input is missing, so the step has to be resolved and run again.
func (e *Engine) inputsCurrent(s step.Step) (bool, error) {
	label := step.Label(s)
	current := true
	for _, in := range s.Inputs() {
		exists, err := e.fs.Exists(in.Path)
		if err != nil {
			return false, fmt.Errorf("step %s: check input %s: %w", label, in.Path, err)
		}
		if !in.HasProducer() {
			if !exists {
				return false, &step.MissingInputError{Step: label, Path: in.Path}
			}
			continue
		}
		producer, err := e.graph.Lookup(in.Producer)
		if err != nil {
			return false, fmt.Errorf("step %s: input %s: %w", label, in.Path, err)
		}
		if !exists {
			current = false
			continue
		}
		if err := e.verifyConfiguration(producer); err != nil {
			return false, fmt.Errorf("step %s: input %s: %w", label, in.Path, err)
		}
	}
	return current, nil
}

// resolveInputs makes every declared input available. Siblings run
// concurrently only when the step opts in; a failing sibling does not cancel
// the others.
func (e *Engine) resolveInputs(ctx context.Context, s step.Step) error {
	inputs := s.Inputs()
	if !s.RunSubstepsInParallel() || len(inputs) < 2 {
		for _, in := range inputs {
			if err := e.resolveInput(ctx, s, in); err != nil {
				return err
			}
		}
		return nil
	}
	var g errgroup.Group
	for _, in := range inputs {
		in := in
		g.Go(func() error {
			return e.resolveInput(ctx, s, in)
		})
	}
	return g.Wait()
}

func (e *Engine) resolveInput(ctx context.Context, s step.Step, in step.Input) error {
	label := step.Label(s)
	exists, err := e.fs.Exists(in.Path)
	if err != nil {
		return fmt.Errorf("step %s: check input %s: %w", label, in.Path, err)
	}
	if !exists && !in.HasProducer() {
		return &step.MissingInputError{Step: label, Path: in.Path}
	}
	if !in.HasProducer() {
		return nil
	}
	producer, err := e.graph.Lookup(in.Producer)
	if err != nil {
		return fmt.Errorf("step %s: input %s: %w", label, in.Path, err)
	}
	if exists {
		if err := e.verifyConfiguration(producer); err != nil {
			return fmt.Errorf("step %s: input %s: %w", label, in.Path, err)
		}
		return nil
	}
	if !step.Produces(producer, in.Path) {
		return &step.ProducerMismatchError{
			Step:     label,
			Producer: step.Label(producer),
			Path:     in.Path,
			Outputs:  producer.Outputs(),
		}
	}
	e.logger.Debug("producing missing input", "step", string(s.ID()), "input", in.Path, "producer", string(producer.ID()))
	if err := e.execute(ctx, producer); err != nil {
		return fmt.Errorf("step %s: producing %s: %w", label, in.Path, err)
	}
	return nil
}
