package plan

import (
	"fmt"
	"os"
	"strings"

	"cph-engine/internal/errs"
	"cph-engine/internal/logging"
	"cph-engine/internal/template"
)

// StatFunc answers whether path exists and, if so, whether it is a
// directory. The Planner takes this as a parameter rather than calling
// os.Stat directly so tests can fake the filesystem.
type StatFunc func(path string) (exists, isDir bool)

// OSStat is the StatFunc backed by the real filesystem.
func OSStat(path string) (bool, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return false, false
	}
	return true, info.IsDir()
}

// Plan expands templates into a dependency-sufficient WorkflowPlan.
// ctx supplies the {placeholder} substitution values (language, contest
// name, workspace path, ...); baseDir anchors file_pattern globs; stat
// resolves `when` conditions.
func Plan(templates []StepTemplate, ctx map[string]string, baseDir string, stat StatFunc) (*WorkflowPlan, error) {
	steps, err := expandTemplates(templates, ctx, baseDir)
	if err != nil {
		return nil, err
	}
	for i := range steps {
		if err := validateStep(&steps[i]); err != nil {
			return nil, err
		}
	}
	steps = filterByCondition(steps, stat)
	wp := &WorkflowPlan{Steps: steps}
	resolveDependencies(wp)
	assignParallelGroups(wp)
	return wp, nil
}

func expandTemplates(templates []StepTemplate, ctx map[string]string, baseDir string) ([]Step, error) {
	var steps []Step
	for _, t := range templates {
		if t.FilePattern != "" {
			pattern, _, _ := template.Expand(t.FilePattern, ctx, false)
			if pattern == "" {
				return nil, errs.New(errs.CodePlanFilePatternEmpty, fmt.Sprintf("step %q: file_pattern expanded to empty string", t.Kind))
			}
			matches, err := template.Glob(baseDir, pattern)
			if err != nil {
				return nil, errs.Wrap(errs.CodePlanInvalidStepArgs, "file_pattern glob failed", err)
			}
			logging.PlanDebug("file_pattern %q matched %d files", pattern, len(matches))
			for _, m := range matches {
				fileCtx := make(map[string]string, len(ctx)+1)
				for k, v := range ctx {
					fileCtx[k] = v
				}
				fileCtx["file"] = m
				step, err := expandOne(t, fileCtx)
				if err != nil {
					return nil, err
				}
				steps = append(steps, step)
			}
			continue
		}
		step, err := expandOne(t, ctx)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func expandOne(t StepTemplate, ctx map[string]string) (Step, error) {
	args := make(map[string]string, len(t.Args))
	for k, v := range t.Args {
		expanded, unresolved, _ := template.Expand(v, ctx, false)
		if len(unresolved) > 0 {
			return Step{}, errs.New(errs.CodePlanInvalidStepArgs,
				fmt.Sprintf("step %q arg %q: unresolved placeholders %v", t.Kind, k, unresolved))
		}
		args[k] = expanded
	}
	when, _, _ := template.Expand(t.When, ctx, false)
	return Step{
		Kind:          t.Kind,
		Args:          args,
		When:          when,
		AllowFailure:  t.AllowFailure,
		ParallelGroup: t.ParallelGroup,
		Description:   t.Description,
		State:         StateReady,
	}, nil
}

func validateStep(s *Step) error {
	required, ok := requiredArgs[s.Kind]
	if ok {
		for _, name := range required {
			if strings.TrimSpace(s.Args[name]) == "" {
				return errs.New(errs.CodePlanInvalidStepArgs,
					fmt.Sprintf("step %q missing required arg %q", s.Kind, name))
			}
		}
	}
	if s.When != "" {
		if _, _, _, err := parseCondition(s.When); err != nil {
			return errs.Wrap(errs.CodePlanInvalidCondition, fmt.Sprintf("step %q has invalid when clause %q", s.Kind, s.When), err)
		}
	}
	return nil
}

// parseCondition parses a `when` clause of the form:
//
//	test -d <path>      | test -f <path>
//	! test -d <path>    | ! test -f <path>
//
// returning (negate, isDir, path, error).
func parseCondition(when string) (negate bool, isDir bool, path string, err error) {
	s := strings.TrimSpace(when)
	if strings.HasPrefix(s, "!") {
		negate = true
		s = strings.TrimSpace(s[1:])
	}
	fields := strings.Fields(s)
	if len(fields) != 3 || fields[0] != "test" {
		return false, false, "", fmt.Errorf("expected `[!] test -d|-f <path>`, got %q", when)
	}
	switch fields[1] {
	case "-d":
		isDir = true
	case "-f":
		isDir = false
	default:
		return false, false, "", fmt.Errorf("unsupported test flag %q", fields[1])
	}
	return negate, isDir, fields[2], nil
}

// filterByCondition evaluates each step's `when` clause against stat and
// marks failing steps SKIPPED, preserving plan order (they still appear
// in the executor's history but are never run).
func filterByCondition(steps []Step, stat StatFunc) []Step {
	if stat == nil {
		stat = OSStat
	}
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		if s.When == "" {
			out = append(out, s)
			continue
		}
		negate, wantDir, path, err := parseCondition(s.When)
		if err != nil {
			out = append(out, s)
			continue
		}
		exists, isDir := stat(path)
		matched := exists && isDir == wantDir
		if negate {
			matched = !matched
		}
		if !matched {
			s.State = StateSkipped
		}
		out = append(out, s)
	}
	return out
}
