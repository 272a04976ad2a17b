// Package idempotency implements the idempotency store that
// IndexingService.index_files consults to skip files already indexed at a
// given head_sha (spec.md §4.5 step 2, §6).
package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store records (repo_id, snapshot_id, file_path, head_sha) tuples that
// have already been successfully indexed.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// New opens (or creates) the idempotency store at path (":memory:" for
// tests).
func New(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create idempotency dir: %w", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open idempotency store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS idempotency_records (
			repo_id TEXT NOT NULL,
			snapshot_id TEXT NOT NULL,
			file_path TEXT NOT NULL,
			head_sha TEXT NOT NULL,
			recorded_at TIMESTAMP NOT NULL,
			PRIMARY KEY (repo_id, snapshot_id, file_path, head_sha)
		);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init idempotency schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Seen reports whether (repoID, snapshotID, filePath, headSHA) was already
// recorded.
func (s *Store) Seen(ctx context.Context, repoID, snapshotID, filePath, headSHA string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM idempotency_records
		WHERE repo_id = ? AND snapshot_id = ? AND file_path = ? AND head_sha = ?
	`, repoID, snapshotID, filePath, headSHA).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check idempotency record: %w", err)
	}
	return n > 0, nil
}

// Record marks (repoID, snapshotID, filePath, headSHA) as successfully
// indexed. Idempotent: recording the same tuple twice is a no-op.
func (s *Store) Record(ctx context.Context, repoID, snapshotID, filePath, headSHA string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_records(repo_id, snapshot_id, file_path, head_sha, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, snapshot_id, file_path, head_sha) DO NOTHING
	`, repoID, snapshotID, filePath, headSHA, time.Now())
	return err
}

// FilterUnseen returns the subset of paths not yet recorded for (repoID,
// snapshotID, headSHA). If headSHA is empty, every path is returned
// unfiltered -- idempotency only applies when a head_sha is supplied
// (spec.md §4.5 step 2).
func (s *Store) FilterUnseen(ctx context.Context, repoID, snapshotID, headSHA string, paths []string) ([]string, error) {
	if headSHA == "" {
		return paths, nil
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		seen, err := s.Seen(ctx, repoID, snapshotID, p, headSHA)
		if err != nil {
			return nil, err
		}
		if !seen {
			out = append(out, p)
		}
	}
	return out, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
