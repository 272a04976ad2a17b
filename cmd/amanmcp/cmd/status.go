package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amanindex/coreengine/internal/output"
)

func newStatusCmd() *cobra.Command {
	var requestedVersionID int64

	c := &cobra.Command{
		Use:   "status [path]",
		Short: "Check the latest index version against the current commit (spec.md §4.8 check_version)",
		Args:  cobra.MaximumNArgs(1),
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
			commit := currentGitCommit(root)

			w, err := wireService(root)
			if err != nil {
				return err
			}
			defer w.Close()

			checker := newVersionChecker(w)
			valid, reason, v, err := checker.CheckVersion(cmd.Context(), repoID, commit, requestedVersionID)
			if err != nil {
				return fmt.Errorf("check version: %w", err)
			}

			ow := output.New(cmd.OutOrStdout())
			if v == nil {
				ow.Warning("no index version found")
				return nil
			}
			ow.Statusf("", "version=%d commit=%s status=%s indexed_at=%s file_count=%d",
				v.VersionID, v.GitCommit, v.Status, v.IndexedAt.Format("2006-01-02T15:04:05Z07:00"), v.FileCount)
			if valid {
				ow.Success("valid")
			} else {
				ow.Warningf("stale: %s", reason)
			}
			return nil
		},
	}
	c.Flags().Int64Var(&requestedVersionID, "version", 0, "check a specific version id instead of the latest")
	return c
}
