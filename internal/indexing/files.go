package indexing

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/amanindex/coreengine/internal/embedqueue"
	"github.com/amanindex/coreengine/internal/errors"
	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/scanner"
)

// maxFileBytes caps how large a single file IndexFiles will read and
// index. Larger files are skipped, matching the scanner's own default.
const maxFileBytes = 5 * 1024 * 1024

// IndexFiles incrementally re-indexes a caller-supplied list of file paths
// (spec.md §4.5): normalize and dedupe the list, drop paths already
// indexed at headSHA (idempotency), route the batch to immediate execution
// or the embedding queue depending on size and priority, and report a
// status summarizing what happened.
func (s *Service) IndexFiles(ctx context.Context, repoID, snapshotID string, filePaths []string, priority int, headSHA string) (*IncrementalIndexingResult, error) {
	paths := normalizePaths(filePaths)
	result := &IncrementalIndexingResult{TotalFiles: len(paths)}
	if len(paths) == 0 {
		result.Status = StatusNotTriggered
		return result, nil
	}

	if s.idempotency != nil {
		unseen, err := s.idempotency.FilterUnseen(ctx, repoID, snapshotID, headSHA, paths)
		if err != nil {
			return nil, errors.BackendError("check idempotency store", err)
		}
		paths = unseen
	}
	if len(paths) == 0 {
		result.Status = StatusNotTriggered
		return result, nil
	}

	chunks := make([]model.Chunk, 0, len(paths))
	sourceCodes := make(map[string]string, len(paths))
	var indexedPaths []string
	for _, p := range paths {
		content, ok := s.readFileForIndex(repoID, p)
		if !ok {
			continue
		}
		chunkID := repoID + ":" + snapshotID + ":" + p
		chunks = append(chunks, model.Chunk{
			ChunkID:    chunkID,
			RepoID:     repoID,
			SnapshotID: snapshotID,
			FilePath:   p,
			Kind:       model.ContentFile,
			Language:   scanner.DetectLanguage(p),
			Code:       content,
		})
		sourceCodes[chunkID] = content
		indexedPaths = append(indexedPaths, p)
	}

	docs := s.transformer.Transform(chunks, nil, sourceCodes)
	prio := queuePriorityFor(priority)

	// priority >= 1 means an interactive agent call: always execute now.
	// Otherwise a batch at or below queue_threshold still runs immediately;
	// only a larger background batch with a queue configured defers its
	// embedding step (spec.md §4.5 step 3).
	immediate := priority >= 1 || s.queue == nil || len(indexedPaths) <= s.queueThreshold

	var errs []OpError
	record := func(op string, err error) {
		if err != nil {
			errs = append(errs, opErr(op, err))
		}
	}

	if s.lexical != nil {
		record("lexical.reindex_paths", s.lexical.ReindexPaths(ctx, repoID, snapshotID, indexedPaths))
	}
	if s.fuzzy != nil && len(docs) > 0 {
		record("fuzzy.upsert", s.fuzzy.Upsert(ctx, repoID, snapshotID, docs))
	}
	if s.domain != nil && len(docs) > 0 {
		record("domain.upsert", s.domain.Upsert(ctx, repoID, snapshotID, docs))
	}
	if s.vector != nil && len(docs) > 0 {
		record("vector.index", s.indexVectorRouted(ctx, repoID, snapshotID, docs, prio, immediate))
	}

	result.Errors = errs
	result.IndexedCount = len(indexedPaths)
	switch {
	case len(errs) == 0:
		result.Status = StatusSuccess
	case len(indexedPaths) > 0:
		result.Status = StatusPartialSuccess
	default:
		result.Status = StatusFailed
	}

	if s.idempotency != nil && headSHA != "" {
		for _, p := range indexedPaths {
			_ = s.idempotency.Record(ctx, repoID, snapshotID, p, headSHA)
		}
	}
	return result, nil
}

// queuePriorityFor maps a caller-supplied integer priority onto the
// queue's tiered scale, clamping unknown values to normal (spec.md §4.5
// step 3).
func queuePriorityFor(p int) embedqueue.Priority {
	switch {
	case p >= int(embedqueue.PriorityHigh):
		return embedqueue.PriorityHigh
	case p <= int(embedqueue.PriorityLow):
		return embedqueue.PriorityLow
	default:
		return embedqueue.PriorityNormal
	}
}

// readFileForIndex reads relPath under repoID's working tree, skipping
// binary content and oversized files (spec.md §4.5 step 1).
func (s *Service) readFileForIndex(repoID, relPath string) (string, bool) {
	if s.rootDir == nil {
		return "", false
	}
	full := filepath.Join(s.rootDir(repoID), relPath)
	info, err := os.Stat(full)
	if err != nil || info.IsDir() || info.Size() > maxFileBytes {
		return "", false
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", false
	}
	if bytes.IndexByte(data, 0) != -1 {
		return "", false
	}
	return string(data), true
}

// normalizePaths dedupes and sorts a path list for deterministic
// processing order.
func normalizePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = filepath.Clean(p)
		if p == "" || p == "." {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
