// Package plan implements the Step Planner (C5) and the Dependency
// Resolver (C6): expansion of a JSON workflow template into a concrete,
// dependency-sufficient sequence of Steps.
package plan

// Kind discriminates a Step's action. The set below is representative,
// not exhaustive (spec §9 notes the source enumerates ~33 kinds);
// additional kinds may be added without breaking this interface.
type Kind string

const (
	KindShell           Kind = "SHELL"
	KindPython          Kind = "PYTHON"
	KindCopy            Kind = "COPY"
	KindMove            Kind = "MOVE"
	KindRemove          Kind = "REMOVE"
	KindMkdir           Kind = "MKDIR"
	KindTouch           Kind = "TOUCH"
	KindContainerRun    Kind = "CONTAINER_RUN"
	KindContainerBuild  Kind = "CONTAINER_BUILD"
	KindContainerStop   Kind = "CONTAINER_STOP"
	KindContainerRemove Kind = "CONTAINER_REMOVE"
	KindChmod           Kind = "CHMOD"
	KindEditorOpen      Kind = "EDITOR_OPEN"
	KindBrowserOpen     Kind = "BROWSER_OPEN"
	KindSubmitFetch     Kind = "SUBMIT_FETCH"
	KindTest            Kind = "TEST"
)

// State is a Step's position in the INIT -> READY -> RUNNING ->
// {SUCCESS, FAILED, SKIPPED} state machine. The Planner produces READY
// steps, and marks a step SKIPPED when its `when` clause is false; the
// Executor records SUCCESS or FAILED on the copy of each step it returns
// in its StepResult.
type State string

const (
	StateInit    State = "INIT"
	StateReady   State = "READY"
	StateRunning State = "RUNNING"
	StateSuccess State = "SUCCESS"
	StateFailed  State = "FAILED"
	StateSkipped State = "SKIPPED"
)

// Step is an immutable, planner-produced unit of work. Once constructed by
// the Planner, callers must not mutate it.
type Step struct {
	Kind          Kind
	Args          map[string]string
	When          string
	AllowFailure  bool
	ParallelGroup string
	Description   string

	// State tracks progress: READY or SKIPPED as set by the Planner, then
	// SUCCESS or FAILED as recorded by the Executor.
	State State
}

// WorkflowPlan is the ordered sequence of Steps the Executor runs,
// together with paths that must be prepared (created) before execution
// begins if they do not already exist pre-execution.
type WorkflowPlan struct {
	Steps         []Step
	PreparedPaths []string
}

// manifest declares, per Kind, the path-shaped args a step reads and
// writes. Used by the Dependency Resolver (deps.go) to insert missing
// prerequisites and detect redundant/groupable operations.
type manifest struct {
	reads  []string // arg names whose values are paths this kind consumes
	writes []string // arg names whose values are paths this kind produces
}

var manifests = map[Kind]manifest{
	KindCopy:            {reads: []string{"src"}, writes: []string{"dst"}},
	KindMove:            {reads: []string{"src"}, writes: []string{"dst"}},
	KindRemove:          {reads: []string{"path"}, writes: nil},
	KindMkdir:           {reads: nil, writes: []string{"path"}},
	KindTouch:           {reads: nil, writes: []string{"path"}},
	KindChmod:           {reads: []string{"path"}, writes: []string{"path"}},
	KindShell:           {reads: []string{"cwd"}, writes: nil},
	KindPython:          {reads: []string{"cwd"}, writes: nil},
	KindTest:            {reads: []string{"cwd"}, writes: nil},
	KindContainerBuild:  {reads: []string{"context_dir", "dockerfile"}, writes: nil},
	KindContainerRun:    {reads: []string{"workdir"}, writes: nil},
	KindContainerStop:   {},
	KindContainerRemove: {},
	KindEditorOpen:      {reads: []string{"path"}, writes: nil},
	KindBrowserOpen:     {},
	KindSubmitFetch:     {reads: []string{"cwd"}, writes: nil},
}

// requiredArgs names the non-empty args each kind must receive from its
// template, per spec §4.5 rule 4 (kind-specific arg validation).
var requiredArgs = map[Kind][]string{
	KindCopy:           {"src", "dst"},
	KindMove:           {"src", "dst"},
	KindRemove:         {"path"},
	KindMkdir:          {"path"},
	KindTouch:          {"path"},
	KindChmod:          {"path", "mode"},
	KindShell:          {"command"},
	KindPython:         {"command"},
	KindTest:           {"command"},
	KindContainerBuild: {"context_dir", "dockerfile", "language"},
	KindContainerRun:   {"image"},
	KindSubmitFetch:    {"command"},
	KindEditorOpen:     {"path"},
	KindBrowserOpen:    {"url"},

	KindContainerStop:   {"container_id"},
	KindContainerRemove: {"container_id"},
}

// isDirLike reports whether a path argument names a directory by its own
// spelling: only an empty path or one ending in a separator counts. The
// Dependency Resolver uses it to decide whether a MKDIR step's own path,
// rather than its parent, is the directory to ensure.
func isDirLike(path string) bool {
	if path == "" {
		return true
	}
	last := path[len(path)-1]
	return last == '/' || last == '\\'
}
