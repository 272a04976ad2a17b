// Package version implements the index version store, the staleness
// checker, and the pre-search middleware that gates queries on a fresh
// index (spec.md §4.8).
package version

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/amanindex/coreengine/internal/model"
)

// Store persists IndexVersion rows with a monotone version_id per repo_id.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// NewStore opens (or creates) the version store at path (":memory:" for
// tests).
func NewStore(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create version store dir: %w", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open version store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS index_versions (
			repo_id TEXT NOT NULL,
			version_id INTEGER NOT NULL,
			git_commit TEXT NOT NULL,
			indexed_at TIMESTAMP,
			file_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (repo_id, version_id)
		);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init version schema: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateVersion inserts a new INDEXING row with the next monotone
// version_id for repoID and returns it.
func (s *Store) CreateVersion(ctx context.Context, repoID, gitCommit string) (*model.IndexVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxID sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version_id) FROM index_versions WHERE repo_id = ?`, repoID).Scan(&maxID); err != nil {
		return nil, fmt.Errorf("read max version: %w", err)
	}
	next := maxID.Int64 + 1

	v := &model.IndexVersion{
		RepoID:    repoID,
		VersionID: next,
		GitCommit: gitCommit,
		IndexedAt: time.Now(),
		Status:    model.VersionIndexing,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_versions(repo_id, version_id, git_commit, indexed_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, v.RepoID, v.VersionID, v.GitCommit, v.IndexedAt, string(v.Status))
	if err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}
	return v, nil
}

// CompleteVersion marks a version COMPLETED with its file count and duration.
func (s *Store) CompleteVersion(ctx context.Context, repoID string, versionID int64, fileCount int, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE index_versions SET status = ?, file_count = ?, duration_ms = ?, indexed_at = ?
		WHERE repo_id = ? AND version_id = ?
	`, string(model.VersionCompleted), fileCount, duration.Milliseconds(), time.Now(), repoID, versionID)
	return err
}

// FailVersion marks a version FAILED with an error message.
func (s *Store) FailVersion(ctx context.Context, repoID string, versionID int64, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE index_versions SET status = ?, error = ? WHERE repo_id = ? AND version_id = ?
	`, string(model.VersionFailed), msg, repoID, versionID)
	return err
}

// GetLatestVersion returns the newest COMPLETED version for repoID, or nil
// if none exists.
func (s *Store) GetLatestVersion(ctx context.Context, repoID string) (*model.IndexVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryOne(ctx, `
		SELECT repo_id, version_id, git_commit, indexed_at, file_count, status, duration_ms, error
		FROM index_versions
		WHERE repo_id = ? AND status = ?
		ORDER BY version_id DESC LIMIT 1
	`, repoID, string(model.VersionCompleted))
}

// GetVersionByCommit returns the COMPLETED version for repoID matching
// gitCommit, or nil if none exists.
func (s *Store) GetVersionByCommit(ctx context.Context, repoID, gitCommit string) (*model.IndexVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryOne(ctx, `
		SELECT repo_id, version_id, git_commit, indexed_at, file_count, status, duration_ms, error
		FROM index_versions
		WHERE repo_id = ? AND git_commit = ? AND status = ?
		ORDER BY version_id DESC LIMIT 1
	`, repoID, gitCommit, string(model.VersionCompleted))
}

// GetByID returns the version matching (repoID, versionID) regardless of
// status, or nil if it does not exist.
func (s *Store) GetByID(ctx context.Context, repoID string, versionID int64) (*model.IndexVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryOne(ctx, `
		SELECT repo_id, version_id, git_commit, indexed_at, file_count, status, duration_ms, error
		FROM index_versions WHERE repo_id = ? AND version_id = ?
	`, repoID, versionID)
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (*model.IndexVersion, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	var v model.IndexVersion
	var status string
	var durationMs int64
	if err := row.Scan(&v.RepoID, &v.VersionID, &v.GitCommit, &v.IndexedAt, &v.FileCount, &status, &durationMs, &v.Error); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query version: %w", err)
	}
	v.Status = model.IndexVersionStatus(status)
	v.DurationMs = durationMs
	return &v, nil
}

// ListVersions returns up to limit versions for repoID, most recent first,
// optionally filtered to a single status.
func (s *Store) ListVersions(ctx context.Context, repoID string, limit int, status model.IndexVersionStatus) ([]*model.IndexVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT repo_id, version_id, git_commit, indexed_at, file_count, status, duration_ms, error
		FROM index_versions WHERE repo_id = ?`
	args := []any{repoID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY version_id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []*model.IndexVersion
	for rows.Next() {
		var v model.IndexVersion
		var st string
		var durationMs int64
		if err := rows.Scan(&v.RepoID, &v.VersionID, &v.GitCommit, &v.IndexedAt, &v.FileCount, &st, &durationMs, &v.Error); err != nil {
			return nil, err
		}
		v.Status = model.IndexVersionStatus(st)
		v.DurationMs = durationMs
		out = append(out, &v)
	}
	return out, rows.Err()
}

// CleanupOldVersions prunes all but the newest keep versions for repoID.
func (s *Store) CleanupOldVersions(ctx context.Context, repoID string, keep int) (int64, error) {
	if keep <= 0 {
		keep = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM index_versions
		WHERE repo_id = ? AND version_id NOT IN (
			SELECT version_id FROM index_versions WHERE repo_id = ?
			ORDER BY version_id DESC LIMIT ?
		)
	`, repoID, repoID, keep)
	if err != nil {
		return 0, fmt.Errorf("cleanup old versions: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
