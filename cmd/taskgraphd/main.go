// Package main provides the taskgraphd CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codefang-labs/taskgraph/cmd/taskgraphd/commands"
	"github.com/codefang-labs/taskgraph/pkg/version"
)

var cfgFile string //nolint:gochecknoglobals // CLI flag variable

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskgraphd",
		Short: "taskgraphd is a persistent, incremental task-graph engine",
		Long: `taskgraphd hosts the task-graph backend (memoization, dependency
tracking, and the snapshot persistence barrier) as a standalone process.

Commands:
  run      Start the backend as a long-running daemon
  inspect  Inspect a backing-store snapshot on disk
  gc       Prune old versioned backing-store directories`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.taskgraphd.yaml or $HOME/.taskgraphd.yaml)")

	rootCmd.AddCommand(commands.NewRunCommand(&cfgFile))
	rootCmd.AddCommand(commands.NewInspectCommand(&cfgFile))
	rootCmd.AddCommand(commands.NewGCCommand(&cfgFile))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "taskgraphd %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
