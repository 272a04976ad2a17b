package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/amanindex/coreengine/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var debounceMs int

	c := &cobra.Command{
		Use:   "watch [path]",
		Short: "Watch a repository for uncommitted edits and feed them into the local overlay (spec.md §4.3)",
		Long: `Starts a file watcher over the repository and, on every debounced batch of
changes, rebuilds the repo's overlay snapshot and re-merges it against the
last indexed commit. Subsequent search calls against the running service
fold the overlay in, so an in-flight edit is visible before it's committed
and reindexed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			root, err := resolveRoot(path)
			if err != nil {
				return fmt.Errorf("resolve project root: %w", err)
			}
			repoID := repoIDFor(root)
			baseSnapshot := currentGitCommit(root)

			w, err := wireService(root)
			if err != nil {
				return err
			}
			defer w.Close()

			opts := watcher.DefaultOptions()
			if debounceMs > 0 {
				opts.DebounceWindow = time.Duration(debounceMs) * time.Millisecond
			}
			hw, err := watcher.NewHybridWatcher(opts)
			if err != nil {
				return fmt.Errorf("create watcher: %w", err)
			}
			defer hw.Stop()

			feeder := &watcher.OverlayFeeder{
				RepoRoot:       root,
				RepoID:         repoID,
				BaseSnapshotID: baseSnapshot,
				Updater:        w.Service,
				IRBuilder:      w.IRBuilder,
			}
			go feeder.Run(cmd.Context(), hw)

			fmt.Fprintf(cmd.OutOrStdout(), "watching %s (repo_id=%s base_snapshot=%s)\n", root, repoID, baseSnapshot)
			return hw.Start(cmd.Context(), root)
		},
	}
	c.Flags().IntVar(&debounceMs, "debounce-ms", 0, "override the default debounce window in milliseconds")
	return c
}
