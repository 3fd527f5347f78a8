// Command cph is the competitive-programming workflow engine's CLI shell
// (C9): it wires the Config Graph, Argument Parser, Step Planner,
// Dependency Resolver, Transaction Executor, Operation Drivers, and State
// Store together behind a cobra command tree.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cph-engine/internal/logging"
)

var (
	flagDebug     bool
	flagVerbose   bool
	flagConfig    string
	flagDryRun    bool
	flagWorkspace string

	// consoleLog is the human-facing structured logger for command status
	// lines (distinct from logging.Get's per-category file logs).
	consoleLog *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cph",
	Short: "cph - competitive programming workflow engine",
	Long: `cph orchestrates the file, process, and container operations behind a
competitive-programming workflow: resolving layered per-language
configuration, parsing order-independent command-line tokens, planning a
dependency-sufficient step sequence, and executing it transactionally
with automatic rollback on failure.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ws := flagWorkspace
		if ws == "" {
			var err error
			ws, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving workspace: %w", err)
			}
		} else if abs, err := filepath.Abs(ws); err == nil {
			ws = abs
		}
		flagWorkspace = ws

		if err := logging.Initialize(ws, flagDebug || flagVerbose); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}

		zapCfg := zap.NewProductionConfig()
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.TimeKey = ""
		if flagVerbose || flagDebug {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		built, err := zapCfg.Build()
		if err != nil {
			return fmt.Errorf("initializing console logger: %w", err)
		}
		consoleLog = built
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if consoleLog != nil {
			_ = consoleLog.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging to .temp/logs/")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to contest_env directory (default: <workspace>/contest_env)")
	rootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "Plan the workflow without executing any step")
	rootCmd.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", "", "Workspace directory (default: current directory)")

	rootCmd.AddCommand(runCmd, statusCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configDir returns the contest_env directory this invocation should load
// its layered configuration from.
func configDir() string {
	if flagConfig != "" {
		return flagConfig
	}
	return filepath.Join(flagWorkspace, "contest_env")
}

// statePath returns the SQLite state database path under the workspace.
func statePath() string {
	return filepath.Join(flagWorkspace, ".cph", "history.db")
}
