package lexical

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// TombstoneManager persists markers for base files deleted in the delta, so
// merge can suppress stale base hits for them (spec.md §4.4).
type TombstoneManager struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewTombstoneManager creates a manager sharing a SQLite handle. Pass the
// same *sql.DB as DeltaIndex to keep tombstones and delta rows transactionally
// close, or a dedicated handle for an in-memory index.
func NewTombstoneManager(db *sql.DB) (*TombstoneManager, error) {
	t := &TombstoneManager{db: db}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tombstones (
			repo_id TEXT NOT NULL,
			file_path TEXT NOT NULL,
			base_version_id INTEGER,
			deleted_at TIMESTAMP NOT NULL,
			PRIMARY KEY (repo_id, file_path)
		)
	`); err != nil {
		return nil, fmt.Errorf("init tombstones schema: %w", err)
	}
	return t, nil
}

// Mark records path as deleted in delta relative to baseVersionID.
func (t *TombstoneManager) Mark(ctx context.Context, repoID, path string, baseVersionID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO tombstones(repo_id, file_path, base_version_id, deleted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repo_id, file_path) DO UPDATE SET
			base_version_id = excluded.base_version_id, deleted_at = excluded.deleted_at
	`, repoID, path, baseVersionID, time.Now())
	return err
}

// IsTombstoned reports whether path is currently tombstoned for repoID.
func (t *TombstoneManager) IsTombstoned(ctx context.Context, repoID, path string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var n int
	err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tombstones WHERE repo_id = ? AND file_path = ?`, repoID, path).Scan(&n)
	return n > 0, err
}

// Paths returns every tombstoned path for repoID.
func (t *TombstoneManager) Paths(ctx context.Context, repoID string) (map[string]struct{}, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rows, err := t.db.QueryContext(ctx,
		`SELECT file_path FROM tombstones WHERE repo_id = ?`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[p] = struct{}{}
	}
	return out, rows.Err()
}

// Clear removes every tombstone for repoID. Called at the end of a
// successful compaction promote, once the rebuilt base no longer contains
// the deleted paths.
func (t *TombstoneManager) Clear(ctx context.Context, repoID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.db.ExecContext(ctx, `DELETE FROM tombstones WHERE repo_id = ?`, repoID)
	return err
}
