package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kingrea/stepfile/internal/engine"
	"github.com/kingrea/stepfile/internal/logging"
	"github.com/kingrea/stepfile/internal/step"
	"github.com/kingrea/stepfile/internal/structured"
)

const samplePipeline = `
name: sample
steps:
  - id: fetch
    outputs: [raw.txt]
    command: echo raw > raw.txt
  - id: clean
    config: ~
    inputs:
      - path: raw.txt
        producer: fetch
    outputs: [clean.txt]
    command: tr a-z A-Z < raw.txt > clean.txt
  - id: train
    config:
      lr: 0.1
      layers: [8, 4]
    inputs:
      - path: clean.txt
        producer: clean
    outputs: [model.txt]
    command: cat clean.txt "$STEPFILE_PARAMS" > model.txt
  - id: report
    config: {}
    inputs:
      - path: model.txt
        producer: train
    command: echo done
`

func TestParseConfigKeySemantics(t *testing.T) {
	def, err := Parse([]byte(samplePipeline), t.TempDir())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cases := []struct {
		id         string
		configured bool
		want       structured.Value
	}{
		{id: "fetch", configured: false},
		{id: "clean", configured: true, want: structured.Absent},
		{id: "train", configured: true, want: map[string]any{"lr": 0.1, "layers": []any{8, 4}}},
		{id: "report", configured: true, want: map[string]any{}},
	}
	for _, tc := range cases {
		sd, ok := def.Step(tc.id)
		if !ok {
			t.Fatalf("missing step %s", tc.id)
		}
		got, configured, err := sd.Configuration()
		if err != nil {
			t.Fatalf("%s: %v", tc.id, err)
		}
		if configured != tc.configured {
			t.Fatalf("%s: configured=%v, want %v", tc.id, configured, tc.configured)
		}
		if !structured.Equal(got, tc.want) {
			t.Fatalf("%s: config mismatch:\n%s", tc.id, structured.Diff(tc.want, got))
		}
	}
	graph, err := Build(def, Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if diff := cmp.Diff([]step.ID{"report"}, graph.Terminals()); diff != "" {
		t.Fatalf("terminals (-want +got):\n%s", diff)
	}
}

func TestParseRejectsInvalidDefinitions(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"no steps":  "name: x\n",
		"no id":     "steps:\n  - outputs: [a]\n",
		"duplicate": "steps:\n  - id: a\n    outputs: [a]\n  - id: a\n    outputs: [b]\n",
		"producer":  "steps:\n  - id: a\n    outputs: [a]\n    inputs:\n      - path: x\n        producer: ghost\n",
		"idle":      "steps:\n  - id: a\n",
		"unknown":   "steps:\n  - id: a\n    outputs: [a]\n    retries: 3\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(body), ""); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestBuildResolvesPathsAgainstWorkdir(t *testing.T) {
	dir := t.TempDir()
	body := "workdir: work\nstate_dir: state\n" + strings.TrimPrefix(samplePipeline, "\nname: sample\n")
	def, err := Parse([]byte(body), dir)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	graph, err := Build(def, Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	s, err := graph.Lookup("train")
	if err != nil {
		t.Fatal(err)
	}
	work := filepath.Join(dir, "work")
	if diff := cmp.Diff([]string{filepath.Join(work, "model.txt")}, s.Outputs()); diff != "" {
		t.Fatalf("outputs (-want +got):\n%s", diff)
	}
	if got, want := s.SentinelFile(), filepath.Join(work, "state", "train.in-progress"); got != want {
		t.Fatalf("sentinel: got %s want %s", got, want)
	}
	in := s.Inputs()[0]
	if in.Path != filepath.Join(work, "clean.txt") || in.Producer != "clean" {
		t.Fatalf("unexpected input %+v", in)
	}
	if _, _, ok := step.ConfigurationOf(mustLookup(t, graph, "fetch")); ok {
		t.Fatalf("fetch should be unconfigured")
	}
}

func TestOverridesMergeIntoConfiguration(t *testing.T) {
	overrides, err := Overrides([]string{"train.lr=0.5", "fetch.mirror=eu", "clean.strict=true"})
	if err != nil {
		t.Fatalf("overrides: %v", err)
	}
	def, err := Parse([]byte(samplePipeline), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	graph, err := Build(def, Options{Overrides: overrides})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := map[string]structured.Value{
		"train": map[string]any{"lr": 0.5, "layers": []any{8, 4}},
		"fetch": map[string]any{"mirror": "eu"},
		"clean": map[string]any{"strict": true},
	}
	for id, cfgWant := range want {
		cfg, _, ok := step.ConfigurationOf(mustLookup(t, graph, step.ID(id)))
		if !ok {
			t.Fatalf("%s should be configured", id)
		}
		if !structured.Equal(cfg, cfgWant) {
			t.Fatalf("%s: %s", id, structured.Diff(cfgWant, cfg))
		}
	}

	if _, err := Build(def, Options{Overrides: map[string]map[string]any{"ghost": {"a": 1}}}); err == nil {
		t.Fatalf("expected error for unknown step override")
	}
	if _, _, _, err := ParseOverride("no-equals"); err == nil {
		t.Fatalf("expected malformed override error")
	}
}

func TestShellPipelineRunsEndToEnd(t *testing.T) {
	dir := t.TempDir()
	def, err := Parse([]byte(samplePipeline), dir)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	graph, err := Build(def, Options{Output: &out})
	if err != nil {
		t.Fatal(err)
	}
	eng, err := engine.New(graph, engine.WithHeartbeatInterval(0))
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Execute(context.Background(), "report"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	model, err := os.ReadFile(filepath.Join(dir, "model.txt"))
	if err != nil {
		t.Fatalf("read model: %v", err)
	}
	if !strings.Contains(string(model), "RAW") || !strings.Contains(string(model), "lr: 0.1") {
		t.Fatalf("unexpected model contents %q", model)
	}
	if !strings.Contains(out.String(), "done") {
		t.Fatalf("expected command output to be forwarded, got %q", out.String())
	}

	changed, err := Build(def, Options{Overrides: map[string]map[string]any{"train": {"lr": 0.2}}})
	if err != nil {
		t.Fatal(err)
	}
	eng, err = engine.New(changed, engine.WithHeartbeatInterval(0))
	if err != nil {
		t.Fatal(err)
	}
	err = eng.Execute(context.Background(), "report")
	if !errors.Is(err, step.ErrConfigurationMismatch) {
		t.Fatalf("expected configuration mismatch, got %v", err)
	}
}

func TestShellStepFailureIncludesOutput(t *testing.T) {
	dir := t.TempDir()
	def, err := Parse([]byte("steps:\n  - id: boom\n    command: echo nope >&2; exit 3\n"), dir)
	if err != nil {
		t.Fatal(err)
	}
	graph, err := Build(def, Options{})
	if err != nil {
		t.Fatal(err)
	}
	err = mustLookup(t, graph, "boom").Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestShellStepLogsCommandThroughContextLogger(t *testing.T) {
	dir := t.TempDir()
	def, err := LoadReader(strings.NewReader("steps:\n  - id: hello\n    command: echo hi\n"), dir)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"hello"}, def.StepIDs()); diff != "" {
		t.Fatalf("step ids (-want +got):\n%s", diff)
	}
	graph, err := Build(def, Options{})
	if err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	ctx := logging.WithLogger(context.Background(), logging.NewSlog("debug", "text", &logs))
	if err := mustLookup(t, graph, "hello").Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(logs.String(), "running command") || !strings.Contains(logs.String(), "step=hello") {
		t.Fatalf("expected command log, got %q", logs.String())
	}
}

func mustLookup(t *testing.T, g *step.Graph, id step.ID) step.Step {
	t.Helper()
	s, err := g.Lookup(id)
	if err != nil {
		t.Fatal(err)
	}
	return s
}
