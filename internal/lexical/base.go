package lexical

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/scanner"
	"github.com/amanindex/coreengine/internal/store"
)

// BaseLexicalIndex is the consolidated, per-file full-text index that
// compaction rebuilds from the repository's current working set
// (spec.md §4.4 "base"). Source-file based, same SQLite FTS5 texture as
// DeltaIndex so the two merge cleanly by file_path.
type BaseLexicalIndex struct {
	mu      sync.RWMutex
	db      *sql.DB
	rootDir func(repoID string) string
}

// NewBaseLexicalIndex opens the base store at path (":memory:" for tests).
// rootDir resolves a repo_id to the filesystem directory ReindexRepo walks.
func NewBaseLexicalIndex(path string, rootDir func(repoID string) string) (*BaseLexicalIndex, error) {
	dsn := ":memory:"
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create base lexical dir: %w", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open base lexical db: %w", err)
	}
	db.SetMaxOpenConns(1)

	b := &BaseLexicalIndex{db: db, rootDir: rootDir}
	if _, err := db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS base_fts USING fts5(
			repo_id UNINDEXED,
			snapshot_id UNINDEXED,
			file_path UNINDEXED,
			content,
			tokenize='unicode61'
		);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init base schema: %w", err)
	}
	return b, nil
}

// ReindexRepo scans rootDir(repoID) with the teacher's gitignore-aware
// Scanner and replaces every row for (repoID, snapshotID).
func (b *BaseLexicalIndex) ReindexRepo(ctx context.Context, repoID, snapshotID string) error {
	root := b.rootDir(repoID)
	if root == "" {
		return fmt.Errorf("no root directory configured for repo %s", repoID)
	}
	sc, err := scanner.New()
	if err != nil {
		return fmt.Errorf("create scanner: %w", err)
	}
	results, err := sc.Scan(ctx, &scanner.ScanOptions{RootDir: root, RespectGitignore: true})
	if err != nil {
		return fmt.Errorf("scan repo: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM base_fts WHERE repo_id = ? AND snapshot_id = ?`, repoID, snapshotID); err != nil {
		return fmt.Errorf("clear prior base rows: %w", err)
	}

	insert, err := tx.PrepareContext(ctx,
		`INSERT INTO base_fts(repo_id, snapshot_id, file_path, content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	for res := range results {
		if res.Error != nil || res.File == nil {
			continue
		}
		content, err := os.ReadFile(res.File.AbsPath)
		if err != nil {
			continue
		}
		tokens := store.TokenizeCode(string(content))
		if _, err := insert.ExecContext(ctx, repoID, snapshotID, res.File.Path, strings.Join(tokens, " ")); err != nil {
			return fmt.Errorf("insert row for %s: %w", res.File.Path, err)
		}
	}

	return tx.Commit()
}

// ReindexPaths replaces the rows for a specific subset of paths. Per
// LexicalIndexPort's documented semantics, >= 10 paths MAY upgrade to a
// full reindex; here that upgrade happens when the caller passes 10+ paths.
func (b *BaseLexicalIndex) ReindexPaths(ctx context.Context, repoID, snapshotID string, paths []string) error {
	if len(paths) >= 10 {
		return b.ReindexRepo(ctx, repoID, snapshotID)
	}
	root := b.rootDir(repoID)

	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del, err := tx.PrepareContext(ctx,
		`DELETE FROM base_fts WHERE repo_id = ? AND snapshot_id = ? AND file_path = ?`)
	if err != nil {
		return err
	}
	defer del.Close()
	insert, err := tx.PrepareContext(ctx,
		`INSERT INTO base_fts(repo_id, snapshot_id, file_path, content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insert.Close()

	for _, p := range paths {
		if _, err := del.ExecContext(ctx, repoID, snapshotID, p); err != nil {
			return fmt.Errorf("clear row for %s: %w", p, err)
		}
		content, err := os.ReadFile(filepath.Join(root, p))
		if err != nil {
			continue // deleted-on-disk path: leave cleared, no re-insert
		}
		tokens := store.TokenizeCode(string(content))
		if _, err := insert.ExecContext(ctx, repoID, snapshotID, p, strings.Join(tokens, " ")); err != nil {
			return fmt.Errorf("insert row for %s: %w", p, err)
		}
	}
	return tx.Commit()
}

// Search full-text matches content for (repoID, snapshotID).
func (b *BaseLexicalIndex) Search(ctx context.Context, repoID, snapshotID, query string, limit int) ([]model.SearchHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tokens := store.TokenizeCode(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	processed := strings.Join(tokens, " ")

	rows, err := b.db.QueryContext(ctx, `
		SELECT file_path, bm25(base_fts) AS score
		FROM base_fts
		WHERE repo_id = ? AND snapshot_id = ? AND content MATCH ?
		ORDER BY score
		LIMIT ?
	`, repoID, snapshotID, processed, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, fmt.Errorf("base search: %w", err)
	}
	defer rows.Close()

	var hits []model.SearchHit
	for rows.Next() {
		var path string
		var score float64
		if err := rows.Scan(&path, &score); err != nil {
			return nil, err
		}
		hits = append(hits, model.SearchHit{
			ChunkID:  path,
			FilePath: path,
			Score:    1 / (1 + -score),
			Source:   model.SourceLexical,
			Metadata: map[string]any{"base": true},
		})
	}
	return hits, rows.Err()
}

// DeleteRepo drops every base row for (repoID, snapshotID).
func (b *BaseLexicalIndex) DeleteRepo(ctx context.Context, repoID, snapshotID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM base_fts WHERE repo_id = ? AND snapshot_id = ?`, repoID, snapshotID)
	return err
}

// Close releases the underlying database handle.
func (b *BaseLexicalIndex) Close() error {
	return b.db.Close()
}
