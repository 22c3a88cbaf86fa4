package commands

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codefang-labs/taskgraph/internal/backingstore"
	"github.com/codefang-labs/taskgraph/internal/config"
)

// NewGCCommand builds the `taskgraphd gc` command. It prunes old versioned
// backing-store directories (internal/backingstore.ResolveVersionedDir's
// retention policy) down to the fixed retention count of two non-current
// directories; it does not collect
// persistent tasks — that is the store's own garbage collection, which this
// engine does not implement.
func NewGCCommand(cfgFile *string) *cobra.Command {
	var baseDir string

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Prune old versioned backing-store directories",
		Long: `gc removes versioned backing-store directories left behind by
previous builds, beyond the retention count, reclaiming disk space. It
never touches the current version's directory and never deletes
persistent tasks within a store.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runGC(*cfgFile, baseDir)
		},
	}

	cmd.Flags().StringVar(&baseDir, "dir", "", "base directory containing versioned subdirectories (default: resolve from config data_dir)")

	return cmd
}

func runGC(cfgFile, dirOverride string) error {
	dir := dirOverride

	if dir == "" {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		resolved, err := cfg.Resolve()
		if err != nil {
			return fmt.Errorf("resolve config: %w", err)
		}

		dir = resolved.DataDir
	}

	removed, err := backingstore.PruneVersions(dir)
	if err != nil {
		return fmt.Errorf("prune versions: %w", err)
	}

	if len(removed) == 0 {
		fmt.Fprintln(os.Stdout, "nothing to prune")

		return nil
	}

	color.New(color.FgGreen).Fprintf(os.Stdout, "removed %d versioned director%s:\n", len(removed), plural(len(removed)))

	for _, path := range removed {
		fmt.Fprintf(os.Stdout, "  - %s\n", path)
	}

	return nil
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}

	return "ies"
}
