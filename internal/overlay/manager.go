package overlay

import (
	"context"
	"sync"

	"github.com/amanindex/coreengine/internal/model"
)

// Manager owns the build+merge pipeline for every repository's live
// overlay: it keeps the most recently built OverlaySnapshot per repo_id in
// memory and rebuilds it (and the derived MergedSnapshot) whenever a
// caller reports new uncommitted content (spec.md §4.3).
type Manager struct {
	builder *Builder
	merger  *GraphMerger

	mu       sync.RWMutex
	overlays map[string]*model.OverlaySnapshot // repo_id -> current overlay
}

// NewManager constructs a Manager from a Builder and GraphMerger.
func NewManager(builder *Builder, merger *GraphMerger) *Manager {
	return &Manager{builder: builder, merger: merger, overlays: make(map[string]*model.OverlaySnapshot)}
}

// BuildOverlay rebuilds repoID's overlay from uncommittedFiles against
// baseSnapshotID/baseIRDocs, merges it, and caches both for Current/Merged.
func (m *Manager) BuildOverlay(ctx context.Context, repoID, baseSnapshotID string, uncommittedFiles map[string]string, baseIRDocs map[string]*model.IRDocument) (*model.MergedSnapshot, error) {
	o, err := m.builder.BuildOverlay(ctx, baseSnapshotID, repoID, uncommittedFiles, baseIRDocs)
	if err != nil {
		return nil, err
	}
	merged, err := m.merger.Merge(ctx, o, baseIRDocs)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.overlays[repoID] = o
	m.mu.Unlock()
	return merged, nil
}

// Current returns repoID's most recently built overlay, if any.
func (m *Manager) Current(repoID string) (*model.OverlaySnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.overlays[repoID]
	return o, ok
}

// Merged returns repoID's cached MergedSnapshot, if an overlay has been
// built for it and its merge cache is still populated.
func (m *Manager) Merged(repoID string) (*model.MergedSnapshot, bool) {
	o, ok := m.Current(repoID)
	if !ok {
		return nil, false
	}
	merged, at := o.CachedMerged()
	if merged == nil || at.IsZero() {
		return nil, false
	}
	return merged, true
}

// Clear drops repoID's overlay, e.g. once its uncommitted edits land in a
// new committed index version.
func (m *Manager) Clear(repoID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overlays, repoID)
}
