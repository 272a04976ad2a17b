// Package indexing implements IndexingService, the top-level orchestrator
// that coordinates full and incremental indexing across the five index
// backends (lexical, vector, symbol, fuzzy, domain) plus an optional
// runtime signal, and answers fused hybrid-search queries (spec.md §4.2).
//
// Every backend is injected as a port interface (internal/ports); a nil
// port is tolerated and that index kind is simply skipped. The service
// owns no backend storage itself -- it only sequences calls into them and
// aggregates their failures, matching spec.md §7's "no cross-index
// transactionality" contract.
package indexing

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/amanindex/coreengine/internal/embedqueue"
	errs "github.com/amanindex/coreengine/internal/errors"
	"github.com/amanindex/coreengine/internal/idempotency"
	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/overlay"
	"github.com/amanindex/coreengine/internal/ports"
	"github.com/amanindex/coreengine/internal/search"
	"github.com/amanindex/coreengine/internal/transform"
)

// Service is the multi-index orchestrator. Construct with New and a set of
// Option values; every backend option is optional.
type Service struct {
	logger *slog.Logger

	lexical ports.LexicalIndexPort
	vector  ports.VectorIndexPort
	symbol  ports.SymbolIndexPort
	fuzzy   ports.FuzzyIndexPort
	domain  ports.DomainMetaIndexPort
	runtime ports.RuntimeIndexPort

	transformer *transform.Transformer
	embedder    ports.Embedder
	queue       *embedqueue.Queue
	pool        *embedqueue.WorkerPool
	idempotency *idempotency.Store

	weights        search.Weights
	queueThreshold int

	// rootDir resolves a repo_id to its working-tree directory, used by
	// IndexFiles's single-file routine to read content off disk.
	rootDir func(repoID string) string

	// overlay holds the local-overlay subsystem (spec.md §4.3); nil unless
	// WithOverlayManager is supplied, in which case Search folds the
	// overlay-merged snapshot's view into fused hits.
	overlay *overlay.Manager
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithLexicalIndex binds the lexical (full-text) backend.
func WithLexicalIndex(p ports.LexicalIndexPort) Option {
	return func(s *Service) { s.lexical = p }
}

// WithVectorIndex binds the dense-embedding backend.
func WithVectorIndex(p ports.VectorIndexPort) Option {
	return func(s *Service) { s.vector = p }
}

// WithSymbolIndex binds the symbol/call-graph backend.
func WithSymbolIndex(p ports.SymbolIndexPort) Option {
	return func(s *Service) { s.symbol = p }
}

// WithFuzzyIndex binds the trigram identifier backend.
func WithFuzzyIndex(p ports.FuzzyIndexPort) Option {
	return func(s *Service) { s.fuzzy = p }
}

// WithDomainIndex binds the documentation-chunk backend.
func WithDomainIndex(p ports.DomainMetaIndexPort) Option {
	return func(s *Service) { s.domain = p }
}

// WithRuntimeIndex binds the optional sixth, runtime-signal backend.
func WithRuntimeIndex(p ports.RuntimeIndexPort) Option {
	return func(s *Service) { s.runtime = p }
}

// WithEmbedder binds the embedding-model client used to embed search
// queries and to embed documents inline: always when no queue is
// configured, and for IndexFiles batches that run immediately.
func WithEmbedder(e ports.Embedder) Option {
	return func(s *Service) { s.embedder = e }
}

// WithEmbeddingQueue binds the priority embedding queue and its worker
// pool (spec.md §4.7). When set, vector work is enqueued rather than
// embedded inline, except IndexFiles batches that run immediately while an
// Embedder is bound.
func WithEmbeddingQueue(q *embedqueue.Queue, pool *embedqueue.WorkerPool) Option {
	return func(s *Service) { s.queue = q; s.pool = pool }
}

// WithIdempotencyStore binds the store IndexFiles consults to skip paths
// already indexed at a given head_sha (spec.md §4.5 step 2).
func WithIdempotencyStore(store *idempotency.Store) Option {
	return func(s *Service) { s.idempotency = store }
}

// WithTransformer overrides the default transform.Transformer.
func WithTransformer(t *transform.Transformer) Option {
	return func(s *Service) { s.transformer = t }
}

// WithFusionWeights overrides the default per-source rank-fusion weights.
func WithFusionWeights(w search.Weights) Option {
	return func(s *Service) { s.weights = w }
}

// WithQueueThreshold overrides the file-count threshold above which
// IndexFiles prefers the queue over immediate execution (spec.md §4.5
// step 3 default: 10).
func WithQueueThreshold(n int) Option {
	return func(s *Service) { s.queueThreshold = n }
}

// WithRootDirResolver supplies the repo_id -> working-tree directory
// mapping IndexFiles uses to read file content.
func WithRootDirResolver(f func(repoID string) string) Option {
	return func(s *Service) { s.rootDir = f }
}

// WithOverlayManager binds the local-overlay subsystem. When set, Search
// folds each repo's current overlay-merged snapshot into fused hits and
// BuildOverlay/MergedSnapshot become usable.
func WithOverlayManager(m *overlay.Manager) Option {
	return func(s *Service) { s.overlay = m }
}

// DefaultQueueThreshold is spec.md §4.5's documented default.
const DefaultQueueThreshold = 10

// New constructs a Service from the given options.
func New(opts ...Option) *Service {
	s := &Service{
		logger:         slog.Default(),
		transformer:    transform.New(),
		weights:        search.DefaultWeights(),
		queueThreshold: DefaultQueueThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IndexRepoFull performs an idempotent full reindex across every configured
// backend (spec.md §4.2). Per-backend failures are recorded and do not
// abort the others; the only fatal condition is every chunk failing
// transformation (which transform.Transformer's never-fail-per-document
// guarantee makes unreachable in practice, but is still checked here per
// spec.md §7).
func (s *Service) IndexRepoFull(ctx context.Context, repoID, snapshotID string, chunks []model.Chunk, graphDoc *model.IRDocument, repomap *model.RepoMapSnapshot, sourceCodes map[string]string) []OpError {
	docs := s.transformer.Transform(chunks, repomap, sourceCodes)
	if len(chunks) > 0 && len(docs) == 0 {
		return []OpError{opErr("transform", errs.TransformError("every chunk in batch failed transformation", nil))}
	}

	var mu sync.Mutex
	var errs []OpError
	record := func(op string, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = append(errs, opErr(op, err))
		mu.Unlock()
	}

	var wg sync.WaitGroup
	run := func(op string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record(op, fn())
		}()
	}

	if s.lexical != nil {
		run("lexical.reindex_repo", func() error { return s.lexical.ReindexRepo(ctx, repoID, snapshotID) })
	}
	if s.symbol != nil && graphDoc != nil {
		run("symbol.index_graph", func() error { return s.symbol.IndexGraph(ctx, repoID, snapshotID, graphDoc) })
	}
	if s.fuzzy != nil {
		run("fuzzy.index", func() error { return s.fuzzy.Index(ctx, repoID, snapshotID, docs) })
	}
	if s.domain != nil {
		run("domain.index", func() error { return s.domain.Index(ctx, repoID, snapshotID, docs) })
	}
	if s.vector != nil {
		run("vector.index", func() error { return s.indexVector(ctx, repoID, snapshotID, docs, embedqueue.PriorityNormal) })
	}
	wg.Wait()

	if len(errs) > 0 {
		s.logger.Warn("index_repo_full_partial_failure",
			slog.String("repo_id", repoID), slog.String("snapshot_id", snapshotID), slog.Int("error_count", len(errs)))
	} else {
		s.logger.Info("index_repo_full_completed",
			slog.String("repo_id", repoID), slog.String("snapshot_id", snapshotID), slog.Int("chunks", len(chunks)))
	}
	return errs
}

// IndexRepoIncremental propagates a parser-produced diff ({added, updated,
// deleted} chunks) to every configured index (spec.md §4.2).
func (s *Service) IndexRepoIncremental(ctx context.Context, repoID, snapshotID string, refresh model.RefreshResult, graphDoc *model.IRDocument, repomap *model.RepoMapSnapshot, sourceCodes map[string]string) []OpError {
	changed := make([]model.Chunk, 0, len(refresh.AddedChunks)+len(refresh.UpdatedChunks))
	changed = append(changed, refresh.AddedChunks...)
	changed = append(changed, refresh.UpdatedChunks...)
	docs := s.transformer.Transform(changed, repomap, sourceCodes)

	pathSet := make(map[string]struct{})
	for _, c := range changed {
		pathSet[c.FilePath] = struct{}{}
	}
	for _, p := range refresh.DeletedFilePaths {
		pathSet[p] = struct{}{}
	}
	paths := make([]string, 0, len(pathSet))
	for p := range pathSet {
		paths = append(paths, p)
	}

	var mu sync.Mutex
	var errs []OpError
	record := func(op string, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = append(errs, opErr(op, err))
		mu.Unlock()
	}

	var wg sync.WaitGroup
	run := func(op string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record(op, fn())
		}()
	}

	if s.lexical != nil && len(paths) > 0 {
		run("lexical.reindex_paths", func() error { return s.lexical.ReindexPaths(ctx, repoID, snapshotID, paths) })
	}
	if s.symbol != nil && graphDoc != nil {
		run("symbol.index_graph", func() error { return s.symbol.IndexGraph(ctx, repoID, snapshotID, graphDoc) })
	}
	if s.fuzzy != nil {
		if len(docs) > 0 {
			run("fuzzy.upsert", func() error { return s.fuzzy.Upsert(ctx, repoID, snapshotID, docs) })
		}
		if len(refresh.DeletedChunkIDs) > 0 {
			run("fuzzy.delete", func() error { return s.fuzzy.Delete(ctx, repoID, snapshotID, refresh.DeletedChunkIDs) })
		}
	}
	if s.domain != nil {
		if len(docs) > 0 {
			run("domain.upsert", func() error { return s.domain.Upsert(ctx, repoID, snapshotID, docs) })
		}
		if len(refresh.DeletedChunkIDs) > 0 {
			run("domain.delete", func() error { return s.domain.Delete(ctx, repoID, snapshotID, refresh.DeletedChunkIDs) })
		}
	}
	if s.vector != nil {
		if len(docs) > 0 {
			run("vector.upsert", func() error { return s.indexVector(ctx, repoID, snapshotID, docs, embedqueue.PriorityNormal) })
		}
		if len(refresh.DeletedChunkIDs) > 0 {
			run("vector.delete", func() error { return s.vector.Delete(ctx, repoID, snapshotID, refresh.DeletedChunkIDs) })
		}
	}
	wg.Wait()
	return errs
}

// IndexRepoTwoPhase runs symbol+lexical+fuzzy synchronously (phase 1) and
// kicks off vector+domain as a backgrounded, awaitable phase 2 (spec.md
// §4.2, §4.6 scenario 4). Phase 1 completing before return lets a caller's
// symbol-only query succeed immediately; phase 2's eventual completion is
// observed via IndexingPhaseResult.Phase2Task.Wait.
func (s *Service) IndexRepoTwoPhase(ctx context.Context, repoID, snapshotID string, chunks []model.Chunk, graphDoc *model.IRDocument, repomap *model.RepoMapSnapshot, sourceCodes map[string]string) (*IndexingPhaseResult, error) {
	docs := s.transformer.Transform(chunks, repomap, sourceCodes)
	if len(chunks) > 0 && len(docs) == 0 {
		return nil, errs.TransformError("every chunk in batch failed transformation", nil)
	}

	result := &IndexingPhaseResult{}

	// Phase 1: synchronous. Symbol writes must precede observable queries
	// that depend on them, so these three run to completion before return.
	if s.symbol != nil && graphDoc != nil {
		if err := s.symbol.IndexGraph(ctx, repoID, snapshotID, graphDoc); err != nil {
			result.Errors = append(result.Errors, opErr("symbol.index_graph", err))
		}
	}
	if s.lexical != nil {
		if err := s.lexical.ReindexRepo(ctx, repoID, snapshotID); err != nil {
			result.Errors = append(result.Errors, opErr("lexical.reindex_repo", err))
		}
	}
	if s.fuzzy != nil {
		if err := s.fuzzy.Index(ctx, repoID, snapshotID, docs); err != nil {
			result.Errors = append(result.Errors, opErr("fuzzy.index", err))
		}
	}
	result.Phase1Completed = true

	// Phase 2: best-effort, asynchronous. The caller may drop the task;
	// vector/domain are eventually-consistent secondaries (spec.md §5).
	task := newPhase2Task()
	result.Phase2Task = task
	phaseCtx := context.WithoutCancel(ctx)
	go func() {
		var phase2Errs []OpError
		var g errgroup.Group
		var mu sync.Mutex
		record := func(op string, err error) {
			if err == nil {
				return
			}
			mu.Lock()
			phase2Errs = append(phase2Errs, opErr(op, err))
			mu.Unlock()
		}
		if s.vector != nil {
			g.Go(func() error {
				record("vector.index", s.indexVector(phaseCtx, repoID, snapshotID, docs, embedqueue.PriorityNormal))
				return nil
			})
		}
		if s.domain != nil {
			g.Go(func() error {
				record("domain.index", s.domain.Index(phaseCtx, repoID, snapshotID, docs))
				return nil
			})
		}
		_ = g.Wait()
		task.finish(phase2Errs)
	}()

	return result, nil
}

// WaitForFullIndexing blocks until a two-phase result's phase 2 completes
// or ctx is cancelled.
func (s *Service) WaitForFullIndexing(ctx context.Context, result *IndexingPhaseResult) ([]OpError, error) {
	if result == nil || result.Phase2Task == nil {
		return nil, nil
	}
	return result.Phase2Task.Wait(ctx)
}

// indexVector routes document embedding either through the priority queue
// (if configured) or synchronously through the bound Embedder.
func (s *Service) indexVector(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument, priority embedqueue.Priority) error {
	if s.queue != nil {
		for _, d := range docs {
			if err := s.queue.Enqueue(ctx, repoID, snapshotID, d.ID, d.Content, priority); err != nil {
				return err
			}
		}
		if s.pool != nil && len(docs) > 0 {
			s.pool.Notify()
		}
		return nil
	}
	if s.embedder == nil {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	return s.vector.Upsert(ctx, repoID, snapshotID, docs, vectors)
}

// embedInline embeds docs synchronously through the bound Embedder,
// bypassing the queue even if one is configured.
func (s *Service) embedInline(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument) error {
	if s.embedder == nil || s.vector == nil || len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	return s.vector.Upsert(ctx, repoID, snapshotID, docs, vectors)
}

// indexVectorRouted applies IndexFiles's routing rule (spec.md §4.5 step
// 3): immediate callers (agent priority, or a batch at or below
// queueThreshold, or no queue configured) embed inline via a synchronous
// Embedder when one is bound; everything else goes through the queue so a
// bulk low-priority edit doesn't block the caller on embedding latency.
func (s *Service) indexVectorRouted(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument, priority embedqueue.Priority, immediate bool) error {
	if immediate && s.embedder != nil {
		return s.embedInline(ctx, repoID, snapshotID, docs)
	}
	return s.indexVector(ctx, repoID, snapshotID, docs, priority)
}

// BuildOverlay runs the local-overlay subsystem for repoID's uncommitted
// files against a base snapshot, storing the resulting merged snapshot so
// subsequent Search calls for repoID fold it in (spec.md §4.3). Returns an
// error if the service was constructed without WithOverlayManager.
func (s *Service) BuildOverlay(ctx context.Context, repoID, baseSnapshotID string, uncommittedFiles map[string]string, baseIRDocs map[string]*model.IRDocument) (*model.MergedSnapshot, error) {
	if s.overlay == nil {
		return nil, errs.TransformError("no overlay manager configured", nil)
	}
	return s.overlay.BuildOverlay(ctx, repoID, baseSnapshotID, uncommittedFiles, baseIRDocs)
}

// MergedSnapshot returns repoID's current overlay-merged snapshot, if the
// service has an overlay manager and one has been built for that repo.
func (s *Service) MergedSnapshot(repoID string) (*model.MergedSnapshot, bool) {
	if s.overlay == nil {
		return nil, false
	}
	return s.overlay.Merged(repoID)
}

// ClearOverlay drops repoID's cached overlay, e.g. after its uncommitted
// edits land in a newly committed index version.
func (s *Service) ClearOverlay(repoID string) {
	if s.overlay != nil {
		s.overlay.Clear(repoID)
	}
}
