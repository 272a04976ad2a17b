// Package lexical implements the incremental lexical layer: a per-file
// full-text delta store, tombstones for deleted base files, a freeze buffer
// and three-phase compaction state machine, and the delta+base merging
// search index (spec.md §4.4).
package lexical

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)

	"github.com/amanindex/coreengine/internal/store"
)

// DeltaRow is one full-text hit returned by DeltaIndex.Search.
type DeltaRow struct {
	FilePath string
	Score    float64
	Snippet  string
}

// DeltaIndex is a per-repository, per-file full-text store for uncommitted
// or not-yet-compacted content (spec.md §4.4). Backed by SQLite FTS5, the
// same driver the teacher uses for its chunk-level BM25 index.
type DeltaIndex struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewDeltaIndex opens (creating if needed) a DeltaIndex at path. An empty
// path creates an in-memory index, used by tests.
func NewDeltaIndex(path string) (*DeltaIndex, error) {
	dsn := ":memory:"
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create delta dir: %w", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open delta db: %w", err)
	}
	db.SetMaxOpenConns(1)

	d := &DeltaIndex{db: db, path: path}
	if err := d.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DeltaIndex) initSchema() error {
	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS delta_fts USING fts5(
		repo_id UNINDEXED,
		file_path UNINDEXED,
		content,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS delta_files (
		repo_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		base_version_id INTEGER,
		deleted INTEGER NOT NULL DEFAULT 0,
		last_updated TIMESTAMP NOT NULL,
		PRIMARY KEY (repo_id, file_path)
	);

	CREATE TABLE IF NOT EXISTS delta_meta (
		repo_id TEXT PRIMARY KEY,
		first_write_at TIMESTAMP NOT NULL
	);
	`
	_, err := d.db.Exec(schema)
	return err
}

// IndexFile upserts content for one file into the delta.
func (d *DeltaIndex) IndexFile(ctx context.Context, repoID, path, content string, baseVersionID *int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM delta_fts WHERE repo_id = ? AND file_path = ?`, repoID, path); err != nil {
		return fmt.Errorf("clear prior fts row: %w", err)
	}

	tokens := store.TokenizeCode(content)
	processed := strings.Join(tokens, " ")
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO delta_fts(repo_id, file_path, content) VALUES (?, ?, ?)`,
		repoID, path, processed); err != nil {
		return fmt.Errorf("insert fts row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO delta_files(repo_id, file_path, base_version_id, deleted, last_updated)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(repo_id, file_path) DO UPDATE SET
			base_version_id = excluded.base_version_id,
			deleted = 0,
			last_updated = excluded.last_updated
	`, repoID, path, baseVersionID, time.Now()); err != nil {
		return fmt.Errorf("upsert delta_files row: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO delta_meta(repo_id, first_write_at) VALUES (?, ?)`,
		repoID, time.Now()); err != nil {
		return fmt.Errorf("stamp delta_meta: %w", err)
	}

	return tx.Commit()
}

// DeleteFile marks a file deleted: the FTS row is dropped and the
// delta_files row is tombstoned. Callers pair this with
// TombstoneManager.Mark so base hits for the path are suppressed on merge.
func (d *DeltaIndex) DeleteFile(ctx context.Context, repoID, path string, baseVersionID *int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM delta_fts WHERE repo_id = ? AND file_path = ?`, repoID, path); err != nil {
		return fmt.Errorf("delete fts row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO delta_files(repo_id, file_path, base_version_id, deleted, last_updated)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(repo_id, file_path) DO UPDATE SET
			deleted = 1, last_updated = excluded.last_updated
	`, repoID, path, baseVersionID, time.Now()); err != nil {
		return fmt.Errorf("tombstone delta_files row: %w", err)
	}
	return tx.Commit()
}

// Search runs a full-text match scoped to repoID, excluding rows marked
// deleted. Scores are positive, higher is better: the FTS5 bm25 value b
// (negative, lower is better) is mapped to 1/(1-b), in (0, 1].
func (d *DeltaIndex) Search(ctx context.Context, repoID, query string, limit int) ([]DeltaRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tokens := store.TokenizeCode(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	processed := strings.Join(tokens, " ")

	rows, err := d.db.QueryContext(ctx, `
		SELECT f.repo_id, f.file_path, bm25(delta_fts) AS score,
			snippet(delta_fts, 2, '[', ']', '...', 10)
		FROM delta_fts f
		JOIN delta_files df ON df.repo_id = f.repo_id AND df.file_path = f.file_path
		WHERE f.repo_id = ? AND f.content MATCH ? AND df.deleted = 0
		ORDER BY score
		LIMIT ?
	`, repoID, processed, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, fmt.Errorf("delta search: %w", err)
	}
	defer rows.Close()

	var out []DeltaRow
	for rows.Next() {
		var repo, path, snippet string
		var score float64
		if err := rows.Scan(&repo, &path, &score, &snippet); err != nil {
			return nil, fmt.Errorf("scan delta row: %w", err)
		}
		out = append(out, DeltaRow{FilePath: path, Score: 1 / (1 + -score), Snippet: snippet})
	}
	return out, rows.Err()
}

// Count returns the number of live (non-deleted) rows for repoID.
func (d *DeltaIndex) Count(ctx context.Context, repoID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delta_files WHERE repo_id = ? AND deleted = 0`, repoID).Scan(&n)
	return n, err
}

// Age returns how long since the first write since the last compaction of
// repoID, or zero if the delta is empty.
func (d *DeltaIndex) Age(ctx context.Context, repoID string) (time.Duration, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var at time.Time
	err := d.db.QueryRowContext(ctx,
		`SELECT first_write_at FROM delta_meta WHERE repo_id = ?`, repoID).Scan(&at)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return time.Since(at), nil
}

// Clear drops all delta state for repoID (files, fts rows, age marker).
// Used by CompactionManager on successful promote.
func (d *DeltaIndex) Clear(ctx context.Context, repoID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM delta_fts WHERE repo_id = ?`, repoID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM delta_files WHERE repo_id = ?`, repoID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM delta_meta WHERE repo_id = ?`, repoID); err != nil {
		return err
	}
	return tx.Commit()
}

// AllFiles returns the live (non-deleted) file paths and content currently
// in the delta, used by compaction's Rebuild phase and by promote-replay.
func (d *DeltaIndex) AllFiles(ctx context.Context, repoID string) (map[string]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.QueryContext(ctx, `
		SELECT f.file_path, f.content FROM delta_fts f
		JOIN delta_files df ON df.repo_id = f.repo_id AND df.file_path = f.file_path
		WHERE f.repo_id = ? AND df.deleted = 0
	`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var path, content string
		if err := rows.Scan(&path, &content); err != nil {
			return nil, err
		}
		out[path] = content
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (d *DeltaIndex) Close() error {
	return d.db.Close()
}

// DB exposes the underlying handle so TombstoneManager can share it and
// keep tombstone writes in the same SQLite file as delta rows.
func (d *DeltaIndex) DB() *sql.DB {
	return d.db
}
