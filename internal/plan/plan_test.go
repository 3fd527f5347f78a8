package plan

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandSubstitutesPlaceholdersInArgs(t *testing.T) {
	templates := []StepTemplate{
		{Kind: KindShell, Args: map[string]string{"command": "echo {contest}", "cwd": "{workspace}"}},
	}
	ctx := map[string]string{"contest": "abc300", "workspace": "/ws"}
	wp, err := Plan(templates, ctx, "/ws", func(string) (bool, bool) { return true, true })
	require.NoError(t, err)
	require.Len(t, wp.Steps, 1)
	assert.Equal(t, "echo abc300", wp.Steps[0].Args["command"])
}

func TestUnresolvedPlaceholderIsInvalidStepArgs(t *testing.T) {
	templates := []StepTemplate{
		{Kind: KindShell, Args: map[string]string{"command": "echo {missing}"}},
	}
	_, err := Plan(templates, map[string]string{}, "/ws", nil)
	assert.Error(t, err)
}

func TestMissingRequiredArgRejected(t *testing.T) {
	templates := []StepTemplate{
		{Kind: KindCopy, Args: map[string]string{"src": "/a"}},
	}
	_, err := Plan(templates, map[string]string{}, "/ws", nil)
	assert.Error(t, err)
}

func TestInvalidConditionRejected(t *testing.T) {
	templates := []StepTemplate{
		{Kind: KindShell, Args: map[string]string{"command": "echo hi"}, When: "nonsense"},
	}
	_, err := Plan(templates, map[string]string{}, "/ws", nil)
	assert.Error(t, err)
}

func TestFilePatternEmptyRejected(t *testing.T) {
	templates := []StepTemplate{
		{Kind: KindRemove, Args: map[string]string{"path": "{file}"}, FilePattern: ""},
	}
	// FilePattern left empty entirely is simply not a glob step; only an
	// explicitly-templated-to-empty pattern triggers PLAN_FILE_PATTERN_EMPTY.
	templates[0].FilePattern = "{missing_glob_root}"
	_, err := Plan(templates, map[string]string{"missing_glob_root": ""}, "/ws", nil)
	assert.Error(t, err)
}

func TestDependencyInsertionAddsMkdirBeforeCopy(t *testing.T) {
	templates := []StepTemplate{
		{Kind: KindCopy, Args: map[string]string{"src": "/src/main.py", "dst": "/out/sub/main.py"}},
	}
	stat := func(path string) (bool, bool) { return false, false }
	wp, err := Plan(templates, map[string]string{}, "/ws", stat)
	require.NoError(t, err)
	require.Len(t, wp.Steps, 2, "want mkdir + copy: %+v", wp.Steps)
	assert.Equal(t, KindMkdir, wp.Steps[0].Kind)
	assert.Equal(t, filepath.Clean("/out/sub"), wp.Steps[0].Args["path"])
	assert.Equal(t, KindCopy, wp.Steps[1].Kind)
}

func TestConsecutiveMkdirOfSamePathCollapses(t *testing.T) {
	templates := []StepTemplate{
		{Kind: KindMkdir, Args: map[string]string{"path": "/out"}},
		{Kind: KindMkdir, Args: map[string]string{"path": "/out"}},
	}
	wp, err := Plan(templates, map[string]string{}, "/ws", nil)
	require.NoError(t, err)
	assert.Len(t, wp.Steps, 1, "duplicate mkdirs should collapse")
}

func TestRemoveThenMkdirFuses(t *testing.T) {
	templates := []StepTemplate{
		{Kind: KindRemove, Args: map[string]string{"path": "/out"}},
		{Kind: KindMkdir, Args: map[string]string{"path": "/out"}},
	}
	wp, err := Plan(templates, map[string]string{}, "/ws", nil)
	require.NoError(t, err)
	require.Len(t, wp.Steps, 1, "want single fused MKDIR: %+v", wp.Steps)
	assert.Equal(t, KindMkdir, wp.Steps[0].Kind)
}

func TestSelfCopyDropped(t *testing.T) {
	templates := []StepTemplate{
		{Kind: KindCopy, Args: map[string]string{"src": "/a/b", "dst": "/a/b"}},
	}
	stat := func(string) (bool, bool) { return true, true }
	wp, err := Plan(templates, map[string]string{}, "/ws", stat)
	require.NoError(t, err)
	assert.Empty(t, wp.Steps, "self-copy should be dropped")
}

func TestWhenConditionSkipsStep(t *testing.T) {
	templates := []StepTemplate{
		{Kind: KindShell, Args: map[string]string{"command": "echo hi"}, When: "test -d /missing"},
	}
	stat := func(string) (bool, bool) { return false, false }
	wp, err := Plan(templates, map[string]string{}, "/ws", stat)
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, wp.Steps[0].State)
}

func TestNegatedWhenConditionRuns(t *testing.T) {
	templates := []StepTemplate{
		{Kind: KindShell, Args: map[string]string{"command": "echo hi"}, When: "! test -d /missing"},
	}
	stat := func(string) (bool, bool) { return false, false }
	wp, err := Plan(templates, map[string]string{}, "/ws", stat)
	require.NoError(t, err)
	assert.NotEqual(t, StateSkipped, wp.Steps[0].State, "negated missing-dir condition should allow the step to run")
}

func TestParallelGroupConflictDemotesToSequential(t *testing.T) {
	templates := []StepTemplate{
		{Kind: KindCopy, Args: map[string]string{"src": "/a", "dst": "/shared"}, ParallelGroup: "g1"},
		{Kind: KindCopy, Args: map[string]string{"src": "/shared", "dst": "/b"}, ParallelGroup: "g1"},
	}
	stat := func(string) (bool, bool) { return true, true }
	wp, err := Plan(templates, map[string]string{}, "/ws", stat)
	require.NoError(t, err)
	for _, s := range wp.Steps {
		if s.Kind == KindCopy {
			assert.Empty(t, s.ParallelGroup, "conflicting copy steps must be demoted out of their parallel group: %+v", s)
		}
	}
}

func TestParallelGroupDisjointStepsKeepGroup(t *testing.T) {
	templates := []StepTemplate{
		{Kind: KindCopy, Args: map[string]string{"src": "/a", "dst": "/x"}, ParallelGroup: "g1"},
		{Kind: KindCopy, Args: map[string]string{"src": "/b", "dst": "/y"}, ParallelGroup: "g1"},
	}
	stat := func(string) (bool, bool) { return true, true }
	wp, err := Plan(templates, map[string]string{}, "/ws", stat)
	require.NoError(t, err)
	for _, s := range wp.Steps {
		if s.Kind == KindCopy {
			assert.Equal(t, "g1", s.ParallelGroup, "disjoint copy steps should retain their parallel group: %+v", s)
		}
	}
}
