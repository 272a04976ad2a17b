package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/amanindex/coreengine/internal/chunk"
	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/output"
	"github.com/amanindex/coreengine/internal/scanner"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index a repository across every configured backend",
	}
	cmd.AddCommand(newIndexFullCmd())
	cmd.AddCommand(newIndexFilesCmd())
	return cmd
}

func newIndexFullCmd() *cobra.Command {
	var snapshotID string
	c := &cobra.Command{
		Use:   "full [path]",
		Short: "Run a full reindex of a repository snapshot (spec.md §4.2 index_repo_full)",
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
			if snapshotID == "" {
				snapshotID = commit
			}

			w, err := wireService(root)
			if err != nil {
				return err
			}
			defer w.Close()

			ctx := cmd.Context()
			version, err := w.VersionStore.CreateVersion(ctx, repoID, commit)
			if err != nil {
				return fmt.Errorf("create index version: %w", err)
			}
			started := time.Now()

			chunks, sourceCodes, err := chunkRepo(ctx, root)
			if err != nil {
				_ = w.VersionStore.FailVersion(ctx, repoID, version.VersionID, err)
				return fmt.Errorf("chunk repository: %w", err)
			}
			for i := range chunks {
				chunks[i].RepoID = repoID
				chunks[i].SnapshotID = snapshotID
			}

			opErrs := w.Service.IndexRepoFull(ctx, repoID, snapshotID, chunks, nil, nil, sourceCodes)
			ow := output.New(cmd.OutOrStdout())
			ow.Successf("indexed %d chunks from %s (snapshot %s)", len(chunks), root, snapshotID)
			errOut := output.New(cmd.ErrOrStderr())
			for _, oe := range opErrs {
				errOut.Errorf("%s: %s", oe.Operation, oe.Err)
			}
			if len(opErrs) == len(chunks) && len(chunks) > 0 {
				_ = w.VersionStore.FailVersion(ctx, repoID, version.VersionID, fmt.Errorf("every backend failed to index"))
				return fmt.Errorf("every backend failed to index")
			}
			if err := w.VersionStore.CompleteVersion(ctx, repoID, version.VersionID, len(chunks), time.Since(started)); err != nil {
				return fmt.Errorf("complete index version: %w", err)
			}
			recordSessionIndexStats(root, len(sourceCodes), len(chunks))
			return nil
		},
	}
	c.Flags().StringVar(&snapshotID, "snapshot", "", "snapshot id (defaults to current git commit)")
	return c
}

func newIndexFilesCmd() *cobra.Command {
	var snapshotID string
	var priority int
	var headSHA string
	c := &cobra.Command{
		Use:   "files file1 [file2 ...]",
		Short: "Incrementally reindex a list of changed files (spec.md §4.5 index_files)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot("")
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

			result, err := w.Service.IndexFiles(cmd.Context(), repoID, snapshotID, args, priority, headSHA)
			if err != nil {
				return err
			}
			ow := output.New(cmd.OutOrStdout())
			ow.Statusf("", "status=%s indexed=%d/%d", result.Status, result.IndexedCount, result.TotalFiles)
			errOut := output.New(cmd.ErrOrStderr())
			for _, e := range result.Errors {
				errOut.Error(e)
			}
			return nil
		},
	}
	c.Flags().StringVar(&snapshotID, "snapshot", "", "snapshot id (defaults to current git commit)")
	c.Flags().IntVar(&priority, "priority", 0, "0=editor save, >=1 always executes immediately (agent)")
	c.Flags().StringVar(&headSHA, "head-sha", "", "head commit sha for idempotency tracking")
	return c
}

// chunkRepo scans root for indexable files and splits each into Chunks via
// the tree-sitter code chunker (code) or the header-based markdown
// chunker (docs), matching the teacher's chunk package dispatch by
// extension. Binary/generated/gitignored files never reach here -- the
// scanner filters them.
func chunkRepo(ctx context.Context, root string) ([]model.Chunk, map[string]string, error) {
	sc, err := scanner.New()
	if err != nil {
		return nil, nil, err
	}

	results, err := sc.Scan(ctx, &scanner.ScanOptions{
		RootDir:          root,
		RespectGitignore: true,
	})
	if err != nil {
		return nil, nil, err
	}

	codeChunker := chunk.NewCodeChunker()
	defer codeChunker.Close()
	mdChunker := chunk.NewMarkdownChunker()

	var chunks []model.Chunk
	sourceCodes := make(map[string]string)

	for res := range results {
		if res.Error != nil || res.File == nil {
			continue
		}
		content, err := os.ReadFile(res.File.AbsPath)
		if err != nil {
			continue
		}

		var raw []*chunk.Chunk
		switch res.File.ContentType {
		case scanner.ContentTypeMarkdown:
			raw, err = mdChunker.Chunk(ctx, &chunk.FileInput{Path: res.File.Path, Content: content, Language: res.File.Language})
		case scanner.ContentTypeCode:
			raw, err = codeChunker.Chunk(ctx, &chunk.FileInput{Path: res.File.Path, Content: content, Language: res.File.Language})
		default:
			continue
		}
		if err != nil || len(raw) == 0 {
			continue
		}

		for _, rc := range raw {
			mc := toModelChunkFromRaw(rc, res.File.Language)
			chunks = append(chunks, mc)
			sourceCodes[mc.ChunkID] = rc.RawContent
		}
	}

	return chunks, sourceCodes, nil
}

func toModelChunkFromRaw(rc *chunk.Chunk, language string) model.Chunk {
	kind := model.ContentFile
	var symbolID, signature, doc string
	if len(rc.Symbols) > 0 {
		sym := rc.Symbols[0]
		symbolID = rc.FilePath + ":" + sym.Name
		signature = sym.Signature
		doc = sym.DocComment
		switch sym.Type {
		case chunk.SymbolTypeFunction:
			kind = model.ContentFunction
		case chunk.SymbolTypeMethod:
			kind = model.ContentMethod
		case chunk.SymbolTypeClass, chunk.SymbolTypeInterface, chunk.SymbolTypeType:
			kind = model.ContentClass
		}
	} else if rc.ContentType == chunk.ContentTypeMarkdown {
		kind = model.ContentDoc
	}

	return model.Chunk{
		ChunkID:   rc.ID,
		FilePath:  rc.FilePath,
		Kind:      kind,
		Language:  language,
		StartLine: rc.StartLine,
		EndLine:   rc.EndLine,
		SymbolID:  symbolID,
		Doc:       doc,
		Signature: signature,
		Code:      rc.RawContent,
	}
}
