package embedqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/ports"
)

// pollInterval is how often an idle worker rechecks the queue when it finds
// nothing to pop. Short enough for responsive shutdown, long enough to not
// hammer SQLite.
const pollInterval = 1 * time.Second

// Stats is a snapshot of worker-pool throughput counters.
type Stats struct {
	Processed int64
	Failed    int64
}

// WorkerPool drains a Queue with N goroutines, embedding each item via an
// Embedder and upserting the resulting vector into a VectorIndexPort.
type WorkerPool struct {
	queue    *Queue
	embedder ports.Embedder
	vector   ports.VectorIndexPort
	workers  int

	statsMu sync.Mutex
	stats   Stats

	wakeup chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorkerPool constructs a pool of n workers (n <= 0 defaults to 1).
func NewWorkerPool(queue *Queue, embedder ports.Embedder, vector ports.VectorIndexPort, n int) *WorkerPool {
	if n <= 0 {
		n = 1
	}
	return &WorkerPool{
		queue:    queue,
		embedder: embedder,
		vector:   vector,
		workers:  n,
		wakeup:   make(chan struct{}, 1),
	}
}

// Start launches the worker goroutines. Calling Start twice without a Stop
// in between is a programmer error.
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop signals every worker to exit and blocks until they have. Workers
// check for shutdown at least once per pollInterval, so Stop returns
// promptly even mid-idle.
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Notify wakes an idle worker immediately instead of waiting for the next
// poll tick. Safe to call after every Enqueue.
func (p *WorkerPool) Notify() {
	select {
	case p.wakeup <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of processed/failed counters.
func (p *WorkerPool) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := p.processOne(ctx)
		if err != nil {
			slog.Error("embed_worker_error", slog.Int("worker", id), slog.String("error", err.Error()))
		}
		if processed {
			continue // more work likely queued, skip the wait
		}

		select {
		case <-ctx.Done():
			return
		case <-p.wakeup:
		case <-ticker.C:
		}
	}
}

// processOne pops and embeds a single item. It returns (true, nil) when it
// did real work, (false, nil) when the queue was empty, and (_, err) on a
// backend failure that was still recorded as a retryable Fail.
func (p *WorkerPool) processOne(ctx context.Context) (bool, error) {
	item, err := p.queue.PopOne(ctx)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}

	vec, err := p.embedder.Embed(ctx, item.Content)
	if err != nil {
		retried, ferr := p.queue.Fail(ctx, item.ID)
		p.recordFailure()
		if ferr != nil {
			return true, ferr
		}
		if !retried {
			slog.Warn("embed_item_dropped", slog.String("chunk_id", item.ChunkID), slog.Int("retries", item.Retries))
		}
		return true, err
	}

	doc := model.IndexDocument{
		ID:         item.ChunkID,
		RepoID:     item.RepoID,
		SnapshotID: item.SnapshotID,
		Content:    item.Content,
	}
	if err := p.vector.Upsert(ctx, item.RepoID, item.SnapshotID, []model.IndexDocument{doc}, [][]float32{vec}); err != nil {
		retried, ferr := p.queue.Fail(ctx, item.ID)
		p.recordFailure()
		if ferr != nil {
			return true, ferr
		}
		if !retried {
			slog.Warn("embed_item_dropped", slog.String("chunk_id", item.ChunkID), slog.Int("retries", item.Retries))
		}
		return true, err
	}

	if err := p.queue.Complete(ctx, item.ID); err != nil {
		return true, err
	}
	p.recordSuccess()
	return true, nil
}

func (p *WorkerPool) recordSuccess() {
	p.statsMu.Lock()
	p.stats.Processed++
	p.statsMu.Unlock()
}

func (p *WorkerPool) recordFailure() {
	p.statsMu.Lock()
	p.stats.Failed++
	p.statsMu.Unlock()
}
