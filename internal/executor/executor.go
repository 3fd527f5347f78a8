package executor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cph-engine/internal/driver"
	"cph-engine/internal/errs"
	"cph-engine/internal/logging"
	"cph-engine/internal/plan"
)

// StepResult is the outcome of running one Step.
type StepResult struct {
	Step       plan.Step
	Stdout     string
	Stderr     string
	ReturnCode int
	Err        error
	DurationMS int64
}

// Result is the outcome of executing an entire WorkflowPlan.
type Result struct {
	StepResults  []StepResult
	RolledBack   bool
	RollbackErr  error
	TotalMS      int64
}

// CompositeStepFailure is returned when a step (or a step in its
// parallel group) fails without allow_failure, carrying every result
// gathered before the Executor stopped.
type CompositeStepFailure struct {
	Failed  plan.Step
	Cause   error
	Partial []StepResult
}

func (e *CompositeStepFailure) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Failed.Kind, e.Cause)
}

func (e *CompositeStepFailure) Unwrap() error { return e.Cause }

// Executor runs a WorkflowPlan's steps against the Operation Drivers.
type Executor struct {
	FS          driver.Filesystem
	Process     driver.Process
	Container   driver.Container
	MaxWorkers  int
	GracePeriod time.Duration
	BackupRoot  string
}

// New constructs an Executor with the given drivers and a bounded
// worker count (defaulting to 4, matching the engine's documented
// default for CPU-bound parallel steps).
func New(fs driver.Filesystem, proc driver.Process, cont driver.Container, backupRoot string) *Executor {
	return &Executor{
		FS:          fs,
		Process:     proc,
		Container:   cont,
		MaxWorkers:  4,
		GracePeriod: DefaultGracePeriod,
		BackupRoot:  backupRoot,
	}
}

// Execute runs wp.Steps in order, grouping consecutive steps that share
// a non-empty ParallelGroup into one errgroup-bounded concurrent batch.
// Any non-allow_failure step failure triggers a full rollback of every
// backed-up path taken so far and returns a *CompositeStepFailure.
func (e *Executor) Execute(ctx context.Context, wp *plan.WorkflowPlan) (*Result, error) {
	start := time.Now()
	backups, err := newBackupSet(e.uniqueBackupRoot(), e.FS)
	if err != nil {
		return nil, err
	}
	defer backups.cleanup()

	result := &Result{}
	batches := groupByParallelBatch(wp.Steps)

	for _, batch := range batches {
		batchResults, failure := e.runBatch(ctx, batch, backups)
		result.StepResults = append(result.StepResults, batchResults...)
		if failure != nil {
			logging.ExecError("step %s failed, rolling back: %v", failure.Failed.Kind, failure.Cause)
			if rerr := backups.rollback(); rerr != nil {
				result.RollbackErr = rerr
				logging.ExecError("rollback incomplete: %v", rerr)
			} else {
				result.RolledBack = true
			}
			failure.Partial = result.StepResults
			result.TotalMS = time.Since(start).Milliseconds()
			return result, failure
		}
	}

	result.TotalMS = time.Since(start).Milliseconds()
	return result, nil
}

// uniqueBackupRoot returns e.BackupRoot, or a process-local temp dir if
// unset, so tests and callers that don't care about backup placement
// don't need to supply one.
func (e *Executor) uniqueBackupRoot() string {
	if e.BackupRoot != "" {
		return e.BackupRoot
	}
	dir, err := os.MkdirTemp("", "cph-backup-*")
	if err != nil {
		return os.TempDir()
	}
	return dir
}

// groupByParallelBatch splits steps into ordered batches: a run of
// consecutive steps sharing the same non-empty ParallelGroup becomes one
// batch executed concurrently; every other step is its own single-item
// batch, preserving overall plan order.
func groupByParallelBatch(steps []plan.Step) [][]plan.Step {
	var batches [][]plan.Step
	i := 0
	for i < len(steps) {
		group := steps[i].ParallelGroup
		if group == "" {
			batches = append(batches, steps[i:i+1])
			i++
			continue
		}
		j := i + 1
		for j < len(steps) && steps[j].ParallelGroup == group {
			j++
		}
		batches = append(batches, steps[i:j])
		i = j
	}
	return batches
}

// runBatch executes every step in batch, concurrently if len(batch) > 1,
// bounded by MaxWorkers. It returns the results gathered (including
// skipped steps, which are recorded but not run) and, if any
// non-allow_failure step failed, a *CompositeStepFailure describing the
// first such failure encountered. Such a failure cancels the context
// passed to the other steps of the batch.
func (e *Executor) runBatch(ctx context.Context, batch []plan.Step, backups *backupSet) ([]StepResult, *CompositeStepFailure) {
	results := make([]StepResult, len(batch))

	if len(batch) == 1 {
		results[0] = e.runStep(ctx, batch[0], backups)
		if f := asFailure(batch[0], results[0]); f != nil {
			return results, f
		}
		return results, nil
	}

	sem := make(chan struct{}, e.MaxWorkers)
	var mu sync.Mutex
	var firstFailure *CompositeStepFailure
	eg, egCtx := errgroup.WithContext(ctx)

	for idx, step := range batch {
		idx, step := idx, step
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			r := e.runStep(egCtx, step, backups)
			results[idx] = r
			if f := asFailure(step, r); f != nil {
				mu.Lock()
				if firstFailure == nil {
					firstFailure = f
				}
				mu.Unlock()
				return f
			}
			return nil
		})
	}
	_ = eg.Wait()
	return results, firstFailure
}

func asFailure(step plan.Step, r StepResult) *CompositeStepFailure {
	if r.Err == nil || step.AllowFailure {
		return nil
	}
	return &CompositeStepFailure{Failed: step, Cause: r.Err}
}

// runStep backs up every path the step's kind declares as a write target,
// then dispatches to the appropriate driver.
func (e *Executor) runStep(ctx context.Context, step plan.Step, backups *backupSet) StepResult {
	res := StepResult{Step: step}
	if step.State == plan.StateSkipped {
		return res
	}

	for _, writeArg := range writeArgsFor(step.Kind) {
		if path := step.Args[writeArg]; path != "" {
			if _, err := backups.snapshot(path); err != nil {
				res.Err = err
				return res
			}
		}
	}

	start := time.Now()
	res.Err = e.dispatch(ctx, step, &res)
	res.DurationMS = time.Since(start).Milliseconds()
	if res.Err != nil {
		res.Step.State = plan.StateFailed
	} else {
		res.Step.State = plan.StateSuccess
	}
	logging.ExecDebug("step %s completed in %dms (err=%v)", step.Kind, res.DurationMS, res.Err)
	return res
}

func writeArgsFor(kind plan.Kind) []string {
	switch kind {
	case plan.KindCopy, plan.KindMove:
		return []string{"dst"}
	case plan.KindMkdir, plan.KindTouch, plan.KindChmod, plan.KindRemove:
		return []string{"path"}
	default:
		return nil
	}
}

func (e *Executor) dispatch(ctx context.Context, step plan.Step, res *StepResult) error {
	switch step.Kind {
	case plan.KindMkdir:
		return e.FS.CreateDir(step.Args["path"])
	case plan.KindTouch:
		return e.touch(step.Args["path"])
	case plan.KindRemove:
		return e.FS.Remove(step.Args["path"])
	case plan.KindCopy:
		return e.FS.Copy(step.Args["src"], step.Args["dst"])
	case plan.KindMove:
		return e.FS.Move(step.Args["src"], step.Args["dst"])
	case plan.KindChmod:
		return e.chmod(step)
	case plan.KindShell, plan.KindPython, plan.KindTest:
		return e.runProcess(ctx, step, res)
	case plan.KindContainerRun:
		return e.runContainer(ctx, step, res)
	case plan.KindContainerStop:
		return e.Container.ContainerStop(ctx, step.Args["container_id"], e.GracePeriod)
	case plan.KindContainerRemove:
		return e.Container.ContainerRemove(ctx, step.Args["container_id"])
	case plan.KindContainerBuild:
		name, err := e.Container.ImageBuild(ctx, step.Args["context_dir"], step.Args["dockerfile"], step.Args["language"])
		res.Stdout = name
		return err
	case plan.KindEditorOpen:
		return e.editorOpen(ctx, step, res)
	case plan.KindBrowserOpen:
		return e.browserOpen(ctx, step, res)
	case plan.KindSubmitFetch:
		return e.submitFetch(ctx, step, res)
	default:
		return errs.New(errs.CodeDriverFilesystem, "unsupported step kind: "+string(step.Kind))
	}
}

func (e *Executor) touch(path string) error {
	exists, _ := e.FS.Exists(path)
	if exists {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.CodeDriverFilesystem, "touch failed", err)
	}
	return f.Close()
}

func (e *Executor) chmod(step plan.Step) error {
	var mode os.FileMode
	if _, err := fmt.Sscanf(step.Args["mode"], "%o", &mode); err != nil {
		return errs.Wrap(errs.CodeDriverFilesystem, "invalid chmod mode "+step.Args["mode"], err)
	}
	return e.FS.Chmod(step.Args["path"], mode)
}

func (e *Executor) runProcess(ctx context.Context, step plan.Step, res *StepResult) error {
	timeout := 60 * time.Second
	r, err := e.Process.Run(ctx, step.Args["command"], nil, step.Args["cwd"], timeout, e.GracePeriod)
	res.Stdout, res.Stderr, res.ReturnCode = r.Stdout, r.Stderr, r.ReturnCode
	if err != nil {
		return err
	}
	if r.ReturnCode != 0 {
		return errs.New(errs.CodeExecStepFailed, fmt.Sprintf("%s exited %d", step.Kind, r.ReturnCode))
	}
	return nil
}

// editorOpen launches the configured editor (step.Args["editor"], then
// $EDITOR, then "vi") against the target path, streaming the editor's
// session line-by-line through the interactive subprocess driver.
func (e *Executor) editorOpen(ctx context.Context, step plan.Step, res *StepResult) error {
	editor := step.Args["editor"]
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}
	r, err := e.Process.RunInteractive(ctx, editor, []string{step.Args["path"]}, "", os.Stdin, 10*time.Minute, e.GracePeriod)
	res.Stdout, res.Stderr, res.ReturnCode = r.Stdout, r.Stderr, r.ReturnCode
	if err != nil {
		return err
	}
	if r.ReturnCode != 0 {
		return errs.New(errs.CodeExecStepFailed, fmt.Sprintf("editor exited %d", r.ReturnCode))
	}
	return nil
}

// browserOpen invokes the platform's URL opener (xdg-open, open, or
// start) against step.Args["url"].
func (e *Executor) browserOpen(ctx context.Context, step plan.Step, res *StepResult) error {
	opener := "xdg-open"
	switch runtime.GOOS {
	case "darwin":
		opener = "open"
	case "windows":
		opener = "start"
	}
	r, err := e.Process.Run(ctx, opener, []string{step.Args["url"]}, "", 10*time.Second, e.GracePeriod)
	res.Stdout, res.Stderr, res.ReturnCode = r.Stdout, r.Stderr, r.ReturnCode
	if err != nil {
		return err
	}
	if r.ReturnCode != 0 {
		return errs.New(errs.CodeExecStepFailed, fmt.Sprintf("browser open exited %d", r.ReturnCode))
	}
	return nil
}

// submitFetch runs the configured judge-tool command (step.Args["command"],
// e.g. "cph-judge submit {url} {source} --language {language}") through the
// interactive subprocess driver, since submission feedback streams in over
// time rather than arriving all at once.
func (e *Executor) submitFetch(ctx context.Context, step plan.Step, res *StepResult) error {
	timeout := 5 * time.Minute
	r, err := e.Process.RunInteractive(ctx, step.Args["command"], nil, step.Args["cwd"], nil, timeout, e.GracePeriod)
	res.Stdout, res.Stderr, res.ReturnCode = r.Stdout, r.Stderr, r.ReturnCode
	if err != nil {
		return err
	}
	if r.ReturnCode != 0 {
		return errs.New(errs.CodeExecStepFailed, fmt.Sprintf("submit/fetch exited %d", r.ReturnCode))
	}
	return nil
}

func (e *Executor) runContainer(ctx context.Context, step plan.Step, res *StepResult) error {
	timeout := 5 * time.Minute
	cr, err := e.Container.ContainerRun(ctx, step.Args["image"], nil, step.Args["workdir"], nil, nil, timeout)
	res.Stdout, res.Stderr, res.ReturnCode = cr.Stdout, cr.Stderr, cr.ReturnCode
	if err != nil {
		return err
	}
	if cr.ReturnCode != 0 {
		return errs.New(errs.CodeExecStepFailed, fmt.Sprintf("container exited %d", cr.ReturnCode))
	}
	return nil
}
