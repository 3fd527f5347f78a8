package main

import (
	"fmt"

	"github.com/spf13/cobra"

	execctx "cph-engine/internal/context"
	"cph-engine/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last-used execution context and contest progress",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := state.Open(statePath(), 5000)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	snap, err := store.LoadContext()
	if err != nil {
		return fmt.Errorf("loading context: %w", err)
	}

	for _, f := range execctx.AllFields {
		v, ok := snap.Values[f]
		switch {
		case !ok:
			fmt.Printf("%-15s (unset)\n", f)
		case v.Value == nil:
			fmt.Printf("%-15s (cleared)\n", f)
		default:
			marker := ""
			if v.UserSpecified {
				marker = " (user-specified)"
			}
			fmt.Printf("%-15s %s%s\n", f, *v.Value, marker)
		}
	}

	contest := valueOrEmpty(snap, execctx.FieldContestName)
	problem := valueOrEmpty(snap, execctx.FieldProblemName)
	language := valueOrEmpty(snap, execctx.FieldLanguage)
	if contest != "" && problem != "" && language != "" {
		total, successful, err := store.ContestProgress(contest, problem, language)
		if err == nil {
			fmt.Printf("\n%s/%s (%s): %d attempts, %d successful submissions\n", contest, problem, language, total, successful)
		}
	}
	return nil
}

func valueOrEmpty(snap *execctx.Snapshot, f execctx.Field) string {
	v, ok := snap.Values[f]
	if !ok || v.Value == nil {
		return ""
	}
	return *v.Value
}
