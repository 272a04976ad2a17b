package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amanindex/coreengine/internal/search"
)

func newSearchCmd() *cobra.Command {
	var snapshotID string
	var limit int
	var path string
	var checkStaleness bool

	c := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid search across every configured index, fused into one ranked list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			root, err := resolveRoot(path)
			if err != nil {
				return fmt.Errorf("resolve project root: %w", err)
			}
			repoID := repoIDFor(root)
			commit := currentGitCommit(root)
			if snapshotID == "" {
				snapshotID = commit
			}

			w, err := wireService(root)
			if err != nil {
				return err
			}
			defer w.Close()

			if checkStaleness {
				checker := newVersionChecker(w)
				valid, reason, _, err := checker.CheckVersion(cmd.Context(), repoID, commit, 0)
				if err != nil {
					return fmt.Errorf("version check: %w", err)
				}
				if !valid {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: index is stale: %s\n", reason)
				}
			}

			hits, opErrs, err := w.Service.Search(cmd.Context(), repoID, snapshotID, query, limit, search.Weights(nil))
			if err != nil {
				return err
			}
			for _, oe := range opErrs {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", oe.Operation, oe.Err)
			}
			for i, h := range hits {
				fmt.Fprintf(cmd.OutOrStdout(), "%2d. [%.3f] %-8s %s  %s\n", i+1, h.Score, h.Source, h.FilePath, h.ChunkID)
			}
			return nil
		},
	}
	c.Flags().StringVar(&snapshotID, "snapshot", "", "snapshot id (defaults to current git commit)")
	c.Flags().IntVar(&limit, "limit", 10, "maximum number of fused results to return")
	c.Flags().StringVar(&path, "path", "", "repository path (defaults to current directory)")
	c.Flags().BoolVar(&checkStaleness, "check-staleness", false, "warn if the latest index version is stale before searching")
	return c
}
