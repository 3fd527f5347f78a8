package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cph-engine/internal/driver"
	"cph-engine/internal/plan"
)

func TestExecuteRunsStepsInOrder(t *testing.T) {
	dir := t.TempDir()
	fs := driver.OSFilesystem{}
	ex := New(fs, driver.NewMockProcess(), driver.NewMockContainer(), filepath.Join(dir, "backups"))

	wp := &plan.WorkflowPlan{Steps: []plan.Step{
		{Kind: plan.KindMkdir, Args: map[string]string{"path": filepath.Join(dir, "out")}},
		{Kind: plan.KindTouch, Args: map[string]string{"path": filepath.Join(dir, "out", "f.txt")}},
	}}

	res, err := ex.Execute(context.Background(), wp)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.StepResults) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(res.StepResults))
	}
	if exists, _ := fs.Exists(filepath.Join(dir, "out", "f.txt")); !exists {
		t.Fatal("expected touched file to exist")
	}
}

func TestExecuteRollsBackOnMidPlanFailure(t *testing.T) {
	dir := t.TempDir()
	fs := driver.OSFilesystem{}
	target := filepath.Join(dir, "existing.txt")
	if err := os.WriteFile(target, []byte("original"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	proc := driver.NewMockProcess()
	proc.Results["false"] = driver.ProcessResult{ReturnCode: 1}
	ex := New(fs, proc, driver.NewMockContainer(), filepath.Join(dir, "backups"))

	wp := &plan.WorkflowPlan{Steps: []plan.Step{
		{Kind: plan.KindTouch, Args: map[string]string{"path": target}}, // backs up the existing file; the touch itself is a no-op
		{Kind: plan.KindRemove, Args: map[string]string{"path": target}},
		{Kind: plan.KindShell, Args: map[string]string{"command": "false", "cwd": dir}},
	}}

	_, err := ex.Execute(context.Background(), wp)
	if err == nil {
		t.Fatal("expected CompositeStepFailure")
	}
	cf, ok := err.(*CompositeStepFailure)
	if !ok {
		t.Fatalf("err type = %T, want *CompositeStepFailure", err)
	}
	if cf.Failed.Kind != plan.KindShell {
		t.Fatalf("failed step = %v, want SHELL", cf.Failed.Kind)
	}

	data, rerr := os.ReadFile(target)
	if rerr != nil {
		t.Fatalf("expected target restored after rollback, ReadFile: %v", rerr)
	}
	if string(data) != "original" {
		t.Fatalf("target content = %q, want %q after rollback", string(data), "original")
	}
}

func TestParallelBatchRunsEveryStepInGroup(t *testing.T) {
	dir := t.TempDir()
	fs := driver.OSFilesystem{}
	ex := New(fs, driver.NewMockProcess(), driver.NewMockContainer(), filepath.Join(dir, "backups"))

	wp := &plan.WorkflowPlan{Steps: []plan.Step{
		{Kind: plan.KindMkdir, Args: map[string]string{"path": filepath.Join(dir, "a")}, ParallelGroup: "g1"},
		{Kind: plan.KindMkdir, Args: map[string]string{"path": filepath.Join(dir, "b")}, ParallelGroup: "g1"},
	}}

	res, err := ex.Execute(context.Background(), wp)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.StepResults) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(res.StepResults))
	}
}

func TestBrowserOpenDispatchesThroughProcessDriver(t *testing.T) {
	dir := t.TempDir()
	fs := driver.OSFilesystem{}
	proc := driver.NewMockProcess()
	ex := New(fs, proc, driver.NewMockContainer(), filepath.Join(dir, "backups"))

	wp := &plan.WorkflowPlan{Steps: []plan.Step{
		{Kind: plan.KindBrowserOpen, Args: map[string]string{"url": "https://example.com"}},
	}}

	if _, err := ex.Execute(context.Background(), wp); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(proc.Calls) != 1 {
		t.Fatalf("proc.Calls = %v, want one opener invocation", proc.Calls)
	}
}

func TestSubmitFetchDispatchesInteractively(t *testing.T) {
	dir := t.TempDir()
	fs := driver.OSFilesystem{}
	proc := driver.NewMockProcess()
	proc.Results["judge submit https://example.com/a main.py --language py"] = driver.ProcessResult{ReturnCode: 0, Stdout: "AC"}
	ex := New(fs, proc, driver.NewMockContainer(), filepath.Join(dir, "backups"))

	wp := &plan.WorkflowPlan{Steps: []plan.Step{
		{Kind: plan.KindSubmitFetch, Args: map[string]string{"command": "judge submit https://example.com/a main.py --language py"}},
	}}

	res, err := ex.Execute(context.Background(), wp)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.StepResults[0].Stdout != "AC" {
		t.Fatalf("stdout = %q, want AC", res.StepResults[0].Stdout)
	}
	if len(proc.Calls) != 1 || proc.Calls[0] != "interactive:judge submit https://example.com/a main.py --language py" {
		t.Fatalf("proc.Calls = %v, want one interactive call", proc.Calls)
	}
}

func TestSkippedStepIsNotExecuted(t *testing.T) {
	dir := t.TempDir()
	fs := driver.OSFilesystem{}
	ex := New(fs, driver.NewMockProcess(), driver.NewMockContainer(), filepath.Join(dir, "backups"))

	wp := &plan.WorkflowPlan{Steps: []plan.Step{
		{Kind: plan.KindTouch, Args: map[string]string{"path": filepath.Join(dir, "never.txt")}, State: plan.StateSkipped},
	}}

	res, err := ex.Execute(context.Background(), wp)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exists, _ := fs.Exists(filepath.Join(dir, "never.txt")); exists {
		t.Fatal("skipped step should not have created the file")
	}
	_ = res
}
