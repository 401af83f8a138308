package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kingrea/stepfile/internal/step"
)

func TestPlanOrdersPendingProducersFirst(t *testing.T) {
	h := newHarness(t)
	h.rawTrainPipeline(map[string]any{"lr": 0.1})

	plan, err := h.engine().Plan("train")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if diff := cmp.Diff([]step.ID{"raw", "train"}, plan.Pending()); diff != "" {
		t.Fatalf("pending (-want +got):\n%s", diff)
	}
	if plan.Blocked() {
		t.Fatalf("nothing should be blocked")
	}
	if got := h.callOrder(); got != "" {
		t.Fatalf("plan must not run work, got %q", got)
	}
	if len(h.fs.Paths()) != 0 {
		t.Fatalf("plan must not touch the filesystem, found %v", h.fs.Paths())
	}
}

func TestPlanAfterRunIsComplete(t *testing.T) {
	h := newHarness(t)
	h.rawTrainPipeline(map[string]any{"lr": 0.1})
	if err := h.engine().Execute(context.Background(), "train"); err != nil {
		t.Fatal(err)
	}
	plan, err := h.engine().Plan("train")
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Nodes) != 1 || plan.Nodes[0].State != NodeComplete {
		t.Fatalf("expected a single complete node, got %+v", plan.Nodes)
	}

	changed := h.rebuild()
	changed.rawTrainPipeline(map[string]any{"lr": 0.2})
	plan, err = changed.engine().Plan("train")
	if err != nil {
		t.Fatal(err)
	}
	if !plan.Blocked() || !errors.Is(plan.Nodes[0].Err, step.ErrConfigurationMismatch) {
		t.Fatalf("expected configuration mismatch, got %+v", plan.Nodes)
	}
}

func TestPlanReportsBlockersAndLocks(t *testing.T) {
	h := newHarness(t)
	ext := step.NewBase("ext", "")
	ext.SetInputs(step.Input{Path: "vendor.csv"})
	ext.SetOutputs("ext.csv")
	h.add(ext)
	report := step.NewBase("report", "")
	report.SetInputs(step.Input{Path: "ext.csv", Producer: "ext"}, step.Input{Path: "locked.txt", Producer: "busy"})
	h.add(report)
	busy := step.NewBase("busy", "")
	busy.SetOutputs("locked.txt")
	h.add(busy)
	if err := h.fs.WriteFile(".stepfile/busy.in-progress", nil); err != nil {
		t.Fatal(err)
	}

	plan, err := h.engine().Plan("report")
	if err != nil {
		t.Fatal(err)
	}
	states := map[step.ID]NodeState{}
	for _, n := range plan.Nodes {
		states[n.ID] = n.State
	}
	want := map[step.ID]NodeState{"ext": NodeBlocked, "busy": NodeLocked, "report": NodeBlocked}
	if diff := cmp.Diff(want, states); diff != "" {
		t.Fatalf("states (-want +got):\n%s", diff)
	}
	last := plan.Nodes[len(plan.Nodes)-1]
	if last.ID != "report" || !cmp.Equal(last.BlockedBy, []step.ID{"ext"}) {
		t.Fatalf("unexpected report node %+v", last)
	}
	if !errors.Is(plan.Nodes[0].Err, step.ErrMissingInput) {
		t.Fatalf("ext should be blocked by a missing input, got %v", plan.Nodes[0].Err)
	}

	if _, err := h.engine().Plan("ghost"); !errors.Is(err, step.ErrUnknownStep) {
		t.Fatalf("expected unknown step, got %v", err)
	}
}

func TestPlanChecksInputsOfCompleteSteps(t *testing.T) {
	h := newHarness(t)
	h.configuredRawTrainPipeline(100)
	if err := h.engine().Execute(context.Background(), "train"); err != nil {
		t.Fatal(err)
	}

	changed := h.rebuild()
	changed.configuredRawTrainPipeline(200)
	plan, err := changed.engine().Plan("train")
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Nodes) != 1 || !errors.Is(plan.Nodes[0].Err, step.ErrConfigurationMismatch) {
		t.Fatalf("expected producer mismatch on train, got %+v", plan.Nodes)
	}

	if err := h.fs.DeleteFile("data.csv"); err != nil {
		t.Fatal(err)
	}
	same := h.rebuild()
	same.configuredRawTrainPipeline(100)
	plan, err = same.engine().Plan("train")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]step.ID{"raw", "train"}, plan.Pending()); diff != "" {
		t.Fatalf("pending (-want +got):\n%s", diff)
	}
}
