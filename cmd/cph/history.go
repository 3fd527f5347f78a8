package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cph-engine/internal/state"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent operations recorded in the state store",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of operations to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := state.Open(statePath(), 5000)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	rows, err := store.RecentOperations(historyLimit)
	if err != nil {
		return fmt.Errorf("listing operations: %w", err)
	}
	for _, r := range rows {
		fmt.Printf("%-20s %-8s %-10s %-8s %-6s %6dms  rc=%d\n",
			r.Timestamp, r.Command, r.ContestName, r.ProblemName, r.Result, r.DurationMS, r.ReturnCode)
	}
	return nil
}
