// Package embedqueue implements the priority embedding queue: a
// SQLite-persisted work list keyed by (repo_id, snapshot_id, chunk_id) that
// an EmbeddingWorkerPool drains concurrently (spec.md §4.5).
package embedqueue

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

// Priority orders queue items; higher values are popped first.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

// Item is one unit of embedding work.
type Item struct {
	ID         int64
	RepoID     string
	SnapshotID string
	ChunkID    string
	Content    string
	Priority   Priority
	Retries    int
	EnqueuedAt time.Time
}

// Queue is a SQLite-backed priority FIFO: items pop highest priority first,
// then oldest enqueue time within a priority tier.
type Queue struct {
	mu         sync.Mutex
	db         *sql.DB
	maxRetries int
}

// New opens (or creates) the queue database at path (":memory:" for tests).
func New(path string, maxRetries int) (*Queue, error) {
	dsn := ":memory:"
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create embed queue dir: %w", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open embed queue db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS embed_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_id TEXT NOT NULL,
			snapshot_id TEXT NOT NULL,
			chunk_id TEXT NOT NULL,
			content TEXT NOT NULL,
			priority INTEGER NOT NULL,
			retries INTEGER NOT NULL DEFAULT 0,
			enqueued_at TIMESTAMP NOT NULL,
			in_flight INTEGER NOT NULL DEFAULT 0,
			UNIQUE(repo_id, snapshot_id, chunk_id)
		);
		CREATE INDEX IF NOT EXISTS idx_embed_queue_priority
			ON embed_queue(in_flight, priority DESC, enqueued_at ASC);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init embed queue schema: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Queue{db: db, maxRetries: maxRetries}, nil
}

// Enqueue inserts or replaces the item for (repoID, snapshotID, chunkID).
// Re-enqueuing an existing chunk refreshes its content and enqueue time but
// keeps whichever priority is higher.
func (q *Queue) Enqueue(ctx context.Context, repoID, snapshotID, chunkID, content string, priority Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO embed_queue(repo_id, snapshot_id, chunk_id, content, priority, retries, enqueued_at, in_flight)
		VALUES (?, ?, ?, ?, ?, 0, ?, 0)
		ON CONFLICT(repo_id, snapshot_id, chunk_id) DO UPDATE SET
			content = excluded.content,
			priority = MAX(embed_queue.priority, excluded.priority),
			enqueued_at = excluded.enqueued_at,
			in_flight = 0
	`, repoID, snapshotID, chunkID, content, int(priority), time.Now())
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", chunkID, err)
	}
	return nil
}

// PopOne claims and returns the highest-priority, oldest item not currently
// in flight, or (nil, nil) if the queue is empty. Claimed items are marked
// in_flight until Complete or Fail releases them.
func (q *Queue) PopOne(ctx context.Context) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var it Item
	err = tx.QueryRowContext(ctx, `
		SELECT id, repo_id, snapshot_id, chunk_id, content, priority, retries, enqueued_at
		FROM embed_queue
		WHERE in_flight = 0
		ORDER BY priority DESC, enqueued_at ASC
		LIMIT 1
	`).Scan(&it.ID, &it.RepoID, &it.SnapshotID, &it.ChunkID, &it.Content, &it.Priority, &it.Retries, &it.EnqueuedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop one: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE embed_queue SET in_flight = 1 WHERE id = ?`, it.ID); err != nil {
		return nil, fmt.Errorf("claim item %d: %w", it.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return &it, nil
}

// Complete removes a successfully processed item.
func (q *Queue) Complete(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.db.ExecContext(ctx, `DELETE FROM embed_queue WHERE id = ?`, id)
	return err
}

// Fail re-enqueues the item at the same priority (spec.md §9 open question:
// retries do not de-prioritize), incrementing its retry count. If retries
// now exceed maxRetries, the item is dropped instead and ok is false.
func (q *Queue) Fail(ctx context.Context, id int64) (ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var retries int
	if err := q.db.QueryRowContext(ctx, `SELECT retries FROM embed_queue WHERE id = ?`, id).Scan(&retries); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("read retries: %w", err)
	}
	if retries+1 > q.maxRetries {
		_, err := q.db.ExecContext(ctx, `DELETE FROM embed_queue WHERE id = ?`, id)
		return false, err
	}
	_, err = q.db.ExecContext(ctx, `
		UPDATE embed_queue SET retries = retries + 1, in_flight = 0, enqueued_at = ? WHERE id = ?
	`, time.Now(), id)
	return true, err
}

// Len reports the number of items currently queued (in flight or not).
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embed_queue`).Scan(&n)
	return n, err
}

// Close releases the underlying database handle.
func (q *Queue) Close() error {
	return q.db.Close()
}
