package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	execctx "cph-engine/internal/context"

	"cph-engine/internal/args"
	"cph-engine/internal/config"
	"cph-engine/internal/driver"
	"cph-engine/internal/errs"
	"cph-engine/internal/executor"
	"cph-engine/internal/logging"
	"cph-engine/internal/plan"
	"cph-engine/internal/state"
)

var runCmd = &cobra.Command{
	Use:   "run [language] [env_type] [command] [contest] [problem]",
	Short: "Resolve context, plan a workflow, and execute it",
	Args:  cobra.ArbitraryArgs,
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, tokens []string) error {
	timer := logging.StartTimer(logging.CategoryBoot, "run")
	defer timer.Stop()

	graph, err := config.Load(
		filepath.Join(configDir(), "defaults.yaml"),
		filepath.Join(configDir(), "shared.yaml"),
		filepath.Join(configDir(), "languages"),
	)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if flagDebug {
		graph.RegisterOverlay("shared.log_level", "debug")
	}

	store, err := state.Open(statePath(), 5000)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	snapshot, err := store.LoadContext()
	if err != nil {
		return fmt.Errorf("loading context snapshot: %w", err)
	}

	ectx, err := args.Parse(graph, snapshot, tokens)
	if err != nil {
		return err
	}
	ectx.WorkspacePath = flagWorkspace

	if err := resolvePaths(graph, ectx); err != nil {
		return err
	}

	templateCtx := buildTemplateContext(ectx)

	templates, err := plan.LoadWorkflowTemplate(
		filepath.Join(configDir(), "workflows"), ectx.Language, ectx.CommandType, ectx.EnvType)
	if err != nil {
		return fmt.Errorf("loading workflow template: %w", err)
	}

	wp, err := plan.Plan(templates, templateCtx, ectx.WorkspacePath, driver.OSFilesystem{}.Exists)
	if err != nil {
		return err
	}

	if flagDryRun {
		for _, s := range wp.Steps {
			fmt.Printf("%-8s %v\n", s.Kind, s.Args)
		}
		return nil
	}

	fs := driver.OSFilesystem{}
	proc := driver.OSProcess{}
	var cont driver.Container
	if c, err := driver.NewDockerContainer(); err == nil {
		cont = c
		defer c.Close()
	} else {
		logging.BootDebug("docker unavailable, container steps will fail if planned: %v", err)
		cont = driver.NewMockContainer()
	}

	ex := executor.New(fs, proc, cont, filepath.Join(flagWorkspace, ".cph", "backups"))
	start := time.Now()
	result, execErr := ex.Execute(context.Background(), wp)
	duration := time.Since(start)

	rec := state.OperationRecord{
		Command:     ectx.CommandType,
		Language:    ectx.Language,
		ContestName: ectx.ContestName,
		ProblemName: ectx.ProblemName,
		EnvType:     ectx.EnvType,
		Result:      "success",
		DurationMS:  duration.Milliseconds(),
	}
	if execErr != nil {
		rec.Result = "failure"
		rec.ReturnCode = 1
		if cf, ok := execErr.(*executor.CompositeStepFailure); ok {
			rec.Stderr = cf.Error()
		}
	}
	if len(result.StepResults) > 0 {
		last := result.StepResults[len(result.StepResults)-1]
		rec.Stdout, rec.Stderr, rec.ReturnCode = last.Stdout, last.Stderr, last.ReturnCode
	}
	if aerr := store.AppendOperation(rec); aerr != nil {
		logging.ExecError("failed to append operation record: %v", aerr)
	}
	if serr := store.SaveContext(ectx); serr != nil {
		logging.ExecError("failed to save context snapshot: %v", serr)
	}

	if execErr != nil {
		if consoleLog != nil {
			consoleLog.Error("workflow failed",
				zap.String("command", ectx.CommandType),
				zap.String("contest", ectx.ContestName),
				zap.String("problem", ectx.ProblemName),
				zap.Bool("rolled_back", result.RolledBack),
				zap.Error(execErr))
		}
		if code, ok := errs.CodeOf(execErr); ok {
			return fmt.Errorf("[%s] %w", code, execErr)
		}
		return execErr
	}
	if consoleLog != nil {
		consoleLog.Info("workflow complete",
			zap.String("command", ectx.CommandType),
			zap.Int("steps", len(result.StepResults)),
			zap.Duration("duration", duration))
	}
	fmt.Printf("ran %d steps in %s\n", len(result.StepResults), duration)
	return nil
}

// resolvePaths fills in the path-shaped ExecutionContext fields that
// depend on resolved configuration rather than on parsed tokens.
func resolvePaths(g *config.Graph, ectx *execctx.ExecutionContext) error {
	base := map[string]string{
		"workspace": ectx.WorkspacePath,
		"language":  ectx.Language,
		"contest":   ectx.ContestName,
		"problem":   ectx.ProblemName,
	}
	for path, setter := range map[string]func(string){
		"shared.stock_path":    func(v string) { ectx.StockPath = v },
		"shared.template_path": func(v string) { ectx.TemplatePath = v },
		"shared.current_path":  func(v string) { ectx.CurrentPath = v },
	} {
		v, err := g.ResolveTemplate(path, base)
		if err != nil {
			if code, ok := errs.CodeOf(err); ok && code == errs.CodeConfigNotFound {
				continue // optional path template, not every config layer defines all three
			}
			return err
		}
		setter(v)
	}

	if sfn, err := g.ResolveTemplate("languages."+ectx.Language+".source_file_name", base); err == nil {
		ectx.SourceFileName = sfn
	}
	if rc, err := g.ResolveTemplate("languages."+ectx.Language+".run_command", map[string]string{
		"workspace": ectx.WorkspacePath, "current_path": ectx.CurrentPath, "source_file_name": ectx.SourceFileName,
	}); err == nil {
		ectx.RunCommand = rc
	}
	return nil
}

// buildTemplateContext exposes every ExecutionContext field as a
// {placeholder} available to workflow step templates.
func buildTemplateContext(ectx *execctx.ExecutionContext) map[string]string {
	return map[string]string{
		"language":         ectx.Language,
		"contest":          ectx.ContestName,
		"problem":          ectx.ProblemName,
		"command":          ectx.CommandType,
		"env_type":         ectx.EnvType,
		"workspace":        ectx.WorkspacePath,
		"current_path":     ectx.CurrentPath,
		"stock_path":       ectx.StockPath,
		"template_path":    ectx.TemplatePath,
		"source_file_name": ectx.SourceFileName,
		"run_command":      ectx.RunCommand,
	}
}
