package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/stepfile/internal/config"
	"github.com/kingrea/stepfile/internal/step"
)

const testPipeline = `name: demo
steps:
  - id: fetch
    outputs: [raw.txt]
    command: echo raw > raw.txt
  - id: train
    config:
      lr: 0.1
    inputs:
      - path: raw.txt
        producer: fetch
    outputs: [model.txt]
    command: cp raw.txt model.txt
`

func setupProject(t *testing.T) string {
	t.Helper()
	t.Setenv(config.EnvLogLevel, "")
	t.Setenv(config.EnvLogFormat, "")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stepfile.yaml"), []byte(testPipeline), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunProducesOutputsThenReportsUpToDate(t *testing.T) {
	dir := setupProject(t)
	out, err := runCLI(t, "-C", dir, "run")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, path := range []string{"raw.txt", "model.txt", ".stepfile/train.params.yaml", ".stepfile/runs.json"} {
		if _, err := os.Stat(filepath.Join(dir, path)); err != nil {
			t.Fatalf("expected %s: %v", path, err)
		}
	}
	if !strings.Contains(out, "completed") {
		t.Fatalf("expected completion lines, got %q", out)
	}

	out, err = runCLI(t, "-C", dir, "run", "train")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !strings.Contains(out, "up-to-date") || strings.Contains(out, "completed") {
		t.Fatalf("expected an up-to-date run, got %q", out)
	}
}

func TestRunRejectsChangedConfiguration(t *testing.T) {
	dir := setupProject(t)
	if _, err := runCLI(t, "-C", dir, "run"); err != nil {
		t.Fatalf("run: %v", err)
	}
	_, err := runCLI(t, "-C", dir, "run", "--set", "train.lr=0.2")
	if !errors.Is(err, step.ErrConfigurationMismatch) {
		t.Fatalf("expected configuration mismatch, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, ".stepfile", "train.in-progress")); !os.IsNotExist(statErr) {
		t.Fatalf("mismatch must not leave a sentinel behind")
	}
}

func TestRunUnknownTarget(t *testing.T) {
	dir := setupProject(t)
	_, err := runCLI(t, "-C", dir, "run", "ghost")
	if !errors.Is(err, step.ErrUnknownStep) {
		t.Fatalf("expected unknown step error, got %v", err)
	}
}

func TestStatusAndUnlock(t *testing.T) {
	dir := setupProject(t)
	if _, err := runCLI(t, "-C", dir, "run", "fetch"); err != nil {
		t.Fatalf("run: %v", err)
	}
	sentinel := filepath.Join(dir, ".stepfile", "train.in-progress")
	if err := os.WriteFile(sentinel, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "-C", dir, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.Contains(lines[0], "STEP") {
		t.Fatalf("unexpected status table:\n%s", out)
	}
	if !strings.Contains(lines[1], "fetch") || !strings.Contains(lines[1], "1/1") || !strings.Contains(lines[1], "ready") || !strings.Contains(lines[1], "completed") || !strings.Contains(lines[1], "train") {
		t.Fatalf("unexpected fetch row %q", lines[1])
	}
	if !strings.Contains(lines[2], "train") || !strings.Contains(lines[2], "0/1") || !strings.Contains(lines[2], "locked") {
		t.Fatalf("unexpected train row %q", lines[2])
	}

	out, err = runCLI(t, "-C", dir, "unlock", "train")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !strings.Contains(out, "unlocked train") {
		t.Fatalf("unexpected unlock output %q", out)
	}
	if _, err := os.Stat(sentinel); !os.IsNotExist(err) {
		t.Fatalf("sentinel should be gone")
	}
	out, err = runCLI(t, "-C", dir, "unlock", "train")
	if err != nil || !strings.Contains(out, "not locked") {
		t.Fatalf("second unlock: out=%q err=%v", out, err)
	}
}

func TestInitAndVersion(t *testing.T) {
	dir := setupProject(t)
	out, err := runCLI(t, "-C", dir, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, filepath.Join(dir, ".stepfile", "config.yaml")) {
		t.Fatalf("unexpected init output %q", out)
	}
	out, err = runCLI(t, "version")
	if err != nil || !strings.Contains(out, "stepfile "+Version) {
		t.Fatalf("version: out=%q err=%v", out, err)
	}
}

func TestRunRejectsBadLogLevelFlag(t *testing.T) {
	dir := setupProject(t)
	if _, err := runCLI(t, "-C", dir, "--log-level", "loud", "run"); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLogShowsHistory(t *testing.T) {
	dir := setupProject(t)
	out, err := runCLI(t, "-C", dir, "log")
	if err != nil || !strings.Contains(out, "No history yet.") {
		t.Fatalf("empty log: out=%q err=%v", out, err)
	}
	if _, err := runCLI(t, "-C", dir, "run"); err != nil {
		t.Fatalf("run: %v", err)
	}
	out, err = runCLI(t, "-C", dir, "log", "-n", "2")
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if !strings.Contains(out, "train completed") || !strings.Contains(out, "(2 of 4 entries") {
		t.Fatalf("unexpected log output %q", out)
	}
}

func TestRunDryRunPrintsPlanWithoutRunning(t *testing.T) {
	dir := setupProject(t)
	out, err := runCLI(t, "-C", dir, "run", "--dry-run")
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "pending fetch") || !strings.Contains(lines[1], "pending train") {
		t.Fatalf("unexpected plan:\n%s", out)
	}
	if !strings.Contains(lines[0], "$ echo raw > raw.txt") || !strings.Contains(lines[1], "$ cp raw.txt model.txt") {
		t.Fatalf("plan should show pending commands:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "raw.txt")); !os.IsNotExist(err) {
		t.Fatalf("dry run must not produce outputs")
	}
}
