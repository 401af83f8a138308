package step

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/stepfile/internal/structured"
)

func TestBaseDerivesStatePaths(t *testing.T) {
	base := NewBase("train", "Train model")
	if got, want := base.SentinelFile(), filepath.Join(DefaultStateDir, "train.in-progress"); got != want {
		t.Fatalf("sentinel: got %s want %s", got, want)
	}
	if base.ParamFile() != "" {
		t.Fatalf("unconfigured step should not expose a param file")
	}
	base.SetStateDir("work/.state")
	base.SetConfiguration(map[string]any{"lr": 0.1})
	if got, want := base.ParamFile(), filepath.Join("work/.state", "train.params.yaml"); got != want {
		t.Fatalf("param file: got %s want %s", got, want)
	}
	if got, want := base.SentinelFile(), filepath.Join("work/.state", "train.in-progress"); got != want {
		t.Fatalf("sentinel after state dir change: got %s want %s", got, want)
	}
}

func TestConfigurationOfDistinguishesAbsentFromUnconfigured(t *testing.T) {
	plain := NewFunc(NewBase("report", ""), nil)
	if _, _, ok := ConfigurationOf(plain); ok {
		t.Fatalf("step without configuration should opt out")
	}
	base := NewBase("defaults", "")
	base.SetConfiguration(nil)
	defaults := NewFunc(base, nil)
	cfg, path, ok := ConfigurationOf(defaults)
	if !ok || path == "" {
		t.Fatalf("expected configured step, got ok=%v path=%q", ok, path)
	}
	if !structured.IsAbsent(cfg) {
		t.Fatalf("nil configuration should become the absent marker, got %#v", cfg)
	}
}

func TestGraphRejectsDuplicatesAndResolvesLookups(t *testing.T) {
	g := NewGraph()
	raw := NewFunc(NewBase("raw", "Raw"), nil)
	if err := g.Add(raw); err != nil {
		t.Fatalf("add raw: %v", err)
	}
	if err := g.Add(NewFunc(NewBase("raw", "Other"), nil)); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if err := g.Add(NewFunc(NewBase("", ""), nil)); err == nil {
		t.Fatalf("expected empty id error")
	}
	got, err := g.Lookup("raw")
	if err != nil || got != raw {
		t.Fatalf("lookup raw: %v %v", got, err)
	}
	_, err = g.Lookup("missing")
	if !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}
}

func TestGraphTerminalsAndDependents(t *testing.T) {
	g := NewGraph()
	raw := NewBase("raw", "")
	raw.SetOutputs("data.csv")
	train := NewBase("train", "")
	train.SetInputs(Input{Path: "data.csv", Producer: "raw"})
	train.SetOutputs("model.bin")
	eval := NewBase("eval", "")
	eval.SetInputs(Input{Path: "data.csv", Producer: "raw"}, Input{Path: "model.bin", Producer: "train"})
	g.MustAdd(NewFunc(raw, nil), NewFunc(train, nil), NewFunc(eval, nil))

	if got := g.Terminals(); len(got) != 1 || got[0] != "eval" {
		t.Fatalf("unexpected terminals %v", got)
	}
	if got := g.Dependents("raw"); len(got) != 2 || got[0] != "eval" || got[1] != "train" {
		t.Fatalf("unexpected dependents %v", got)
	}
	if got := g.IDs(); len(got) != 3 || got[0] != "raw" {
		t.Fatalf("unexpected ids %v", got)
	}
}

func TestIsPreconditionSeesThroughWrapping(t *testing.T) {
	cases := []error{
		&MissingInputError{Step: "a", Path: "x"},
		&ProducerMismatchError{Step: "a", Producer: "b", Path: "x"},
		&ConfigurationMismatchError{Step: "a", ParamFile: "p", Current: structured.Absent},
		&UnknownStepError{Step: "zz"},
	}
	for _, err := range cases {
		wrapped := fmt.Errorf("step outer: %w", err)
		if !IsPrecondition(wrapped) {
			t.Fatalf("expected %T to be precondition class", err)
		}
	}
	if IsPrecondition(errors.New("disk full")) {
		t.Fatalf("opaque errors are not precondition class")
	}
}

func TestConfigurationMismatchMessageNamesValues(t *testing.T) {
	err := &ConfigurationMismatchError{
		Step:      "train",
		ParamFile: ".stepfile/train.params.yaml",
		Persisted: map[string]any{"lr": 0.1},
		Current:   map[string]any{"lr": 0.2},
		Diff:      structured.Diff(map[string]any{"lr": 0.1}, map[string]any{"lr": 0.2}),
	}
	msg := err.Error()
	for _, want := range []string{"train", ".stepfile/train.params.yaml", "lr: 0.1", "lr: 0.2", "diff"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFuncRunsWrappedFunction(t *testing.T) {
	calls := 0
	f := NewFunc(NewBase("x", ""), func(context.Context) error {
		calls++
		return nil
	})
	if err := f.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
	if Label(f) != "x" {
		t.Fatalf("unexpected label %q", Label(f))
	}
}
