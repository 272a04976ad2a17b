package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amanindex/coreengine/internal/output"
)

func newCompactCmd() *cobra.Command {
	var snapshotID string
	var force bool

	c := &cobra.Command{
		Use:   "compact [path]",
		Short: "Consolidate the lexical delta into the base index (spec.md §4.4)",
		Long: `Runs the three-phase Freeze -> Rebuild -> Promote consolidation that
moves the per-file full-text delta into the rebuilt base lexical index,
clearing every tombstone recorded for the repository.

By default compact only runs when should_compact reports the delta has
crossed its trigger threshold (200 files or 24h old); pass --force to run
it unconditionally.`,
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
			if snapshotID == "" {
				snapshotID = currentGitCommit(root)
			}

			w, err := wireService(root)
			if err != nil {
				return err
			}
			defer w.Close()

			ow := output.New(cmd.OutOrStdout())

			if !force {
				should, err := w.Compaction.ShouldCompact(cmd.Context(), repoID)
				if err != nil {
					return fmt.Errorf("check should_compact: %w", err)
				}
				if !should {
					ow.Warning("compaction not triggered (delta below threshold); pass --force to run anyway")
					return nil
				}
			}

			rebuild := func(ctx context.Context, repoID, snapshotID string) error {
				return w.Lexical.ReindexRepo(ctx, repoID, snapshotID)
			}
			if err := w.Compaction.Compact(cmd.Context(), repoID, snapshotID, rebuild); err != nil {
				ow.Errorf("compaction failed: %v", err)
				return err
			}
			ow.Success("compaction complete")
			return nil
		},
	}
	c.Flags().StringVar(&snapshotID, "snapshot", "", "snapshot id (defaults to current git commit)")
	c.Flags().BoolVar(&force, "force", false, "run compaction even if should_compact reports it isn't due yet")
	return c
}
