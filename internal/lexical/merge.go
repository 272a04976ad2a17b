package lexical

import (
	"context"
	"fmt"

	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/ports"
)

// MergingLexicalIndex queries delta first, then base, deduplicating by
// file_path with delta precedence (spec.md §4.4). It implements
// ports.LexicalIndexPort so it can be wired into IndexingService exactly
// like any single backend.
type MergingLexicalIndex struct {
	base       *BaseLexicalIndex
	delta      *DeltaIndex
	tombstones *TombstoneManager
}

var _ ports.LexicalIndexPort = (*MergingLexicalIndex)(nil)

// NewMergingLexicalIndex composes a base+delta+tombstone merge view.
func NewMergingLexicalIndex(base *BaseLexicalIndex, delta *DeltaIndex, tombstones *TombstoneManager) *MergingLexicalIndex {
	return &MergingLexicalIndex{base: base, delta: delta, tombstones: tombstones}
}

// ReindexRepo delegates to the base index; delta is untouched (it only
// moves via per-file writes and compaction).
func (m *MergingLexicalIndex) ReindexRepo(ctx context.Context, repoID, snapshotID string) error {
	return m.base.ReindexRepo(ctx, repoID, snapshotID)
}

// ReindexPaths delegates to the base index.
func (m *MergingLexicalIndex) ReindexPaths(ctx context.Context, repoID, snapshotID string, paths []string) error {
	return m.base.ReindexPaths(ctx, repoID, snapshotID, paths)
}

// DeleteRepo clears both base and delta state for (repoID, snapshotID).
func (m *MergingLexicalIndex) DeleteRepo(ctx context.Context, repoID, snapshotID string) error {
	if err := m.base.DeleteRepo(ctx, repoID, snapshotID); err != nil {
		return err
	}
	return m.delta.Clear(ctx, repoID)
}

// Search implements the spec's merge algorithm:
//  1. empty delta -> base only.
//  2. otherwise search delta(limit) and base(2*limit).
//  3. drop base hits whose path has a tombstone.
//  4. dedup by file_path, delta wins.
//  5. if delta alone >= limit, base is skipped entirely.
func (m *MergingLexicalIndex) Search(ctx context.Context, repoID, snapshotID, query string, limit int) ([]model.SearchHit, error) {
	deltaCount, err := m.delta.Count(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("delta count: %w", err)
	}
	if deltaCount == 0 {
		return m.base.Search(ctx, repoID, snapshotID, query, limit)
	}

	deltaRows, err := m.delta.Search(ctx, repoID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("delta search: %w", err)
	}

	deltaHits := make([]model.SearchHit, 0, len(deltaRows))
	deltaPaths := make(map[string]struct{}, len(deltaRows))
	for _, r := range deltaRows {
		deltaHits = append(deltaHits, model.SearchHit{
			ChunkID:  r.FilePath,
			FilePath: r.FilePath,
			Score:    r.Score,
			Source:   model.SourceLexical,
			Metadata: map[string]any{"delta": true, "snippet": r.Snippet},
		})
		deltaPaths[r.FilePath] = struct{}{}
	}

	if len(deltaHits) >= limit {
		return deltaHits[:limit], nil
	}

	baseHits, err := m.base.Search(ctx, repoID, snapshotID, query, limit*2)
	if err != nil {
		return nil, fmt.Errorf("base search: %w", err)
	}
	tombstoned, err := m.tombstones.Paths(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("tombstones: %w", err)
	}

	out := make([]model.SearchHit, 0, len(deltaHits)+len(baseHits))
	out = append(out, deltaHits...)
	for _, h := range baseHits {
		if _, gone := tombstoned[h.FilePath]; gone {
			continue
		}
		if _, overridden := deltaPaths[h.FilePath]; overridden {
			continue
		}
		out = append(out, h)
		if len(out) >= limit {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
