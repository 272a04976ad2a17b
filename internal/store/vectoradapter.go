package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/ports"
)

// docMeta is the subset of an IndexDocument an HNSWStore doesn't itself
// carry but a SearchHit needs.
type docMeta struct {
	filePath string
	symbolID string
}

// VectorIndexAdapter implements ports.VectorIndexPort over one HNSWStore
// per (repoID, snapshotID) scope, persisted under basePath/<repoID>/<snapshotID>.
type VectorIndexAdapter struct {
	mu       sync.Mutex
	basePath string
	cfg      VectorStoreConfig
	scopes   map[string]*scopedVectorStore
}

type scopedVectorStore struct {
	store *HNSWStore
	meta  map[string]docMeta
}

var _ ports.VectorIndexPort = (*VectorIndexAdapter)(nil)

// NewVectorIndexAdapter creates an adapter that lazily opens one HNSWStore
// per repo/snapshot scope under basePath (empty basePath keeps everything
// in memory, used by tests).
func NewVectorIndexAdapter(basePath string, cfg VectorStoreConfig) *VectorIndexAdapter {
	return &VectorIndexAdapter{
		basePath: basePath,
		cfg:      cfg,
		scopes:   make(map[string]*scopedVectorStore),
	}
}

func (a *VectorIndexAdapter) scopePath(repoID, snapshotID string) string {
	if a.basePath == "" {
		return ""
	}
	return filepath.Join(a.basePath, repoID, snapshotID, "vectors.hnsw")
}

func (a *VectorIndexAdapter) scope(repoID, snapshotID string) (*scopedVectorStore, error) {
	key := scopeKey(repoID, snapshotID)
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.scopes[key]; ok {
		return s, nil
	}

	store, err := NewHNSWStore(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store for %s: %w", key, err)
	}

	path := a.scopePath(repoID, snapshotID)
	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := store.Load(path); err != nil {
				return nil, fmt.Errorf("failed to load vector store for %s: %w", key, err)
			}
		}
	}

	s := &scopedVectorStore{store: store, meta: make(map[string]docMeta)}
	a.scopes[key] = s
	return s, nil
}

func (a *VectorIndexAdapter) persist(repoID, snapshotID string, s *scopedVectorStore) error {
	path := a.scopePath(repoID, snapshotID)
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for vector store: %w", err)
	}
	return s.store.Save(path)
}

// Index replaces the scope's vectors with docs/vectors.
func (a *VectorIndexAdapter) Index(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument, vectors [][]float32) error {
	s, err := a.scope(repoID, snapshotID)
	if err != nil {
		return err
	}
	for _, id := range s.store.AllIDs() {
		delete(s.meta, id)
	}
	if err := s.store.Delete(ctx, s.store.AllIDs()); err != nil {
		return fmt.Errorf("failed to clear vector scope: %w", err)
	}
	return a.upsertInto(ctx, repoID, snapshotID, s, docs, vectors)
}

// Upsert adds or replaces vectors for the given documents.
func (a *VectorIndexAdapter) Upsert(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument, vectors [][]float32) error {
	s, err := a.scope(repoID, snapshotID)
	if err != nil {
		return err
	}
	return a.upsertInto(ctx, repoID, snapshotID, s, docs, vectors)
}

func (a *VectorIndexAdapter) upsertInto(ctx context.Context, repoID, snapshotID string, s *scopedVectorStore, docs []model.IndexDocument, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("docs/vectors length mismatch: %d vs %d", len(docs), len(vectors))
	}
	if len(docs) == 0 {
		return nil
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		s.meta[d.ID] = docMeta{filePath: d.FilePath, symbolID: d.SymbolID}
	}

	if err := s.store.Add(ctx, ids, vectors); err != nil {
		return fmt.Errorf("failed to add vectors: %w", err)
	}
	return a.persist(repoID, snapshotID, s)
}

// Delete removes the given chunk IDs from the scope.
func (a *VectorIndexAdapter) Delete(ctx context.Context, repoID, snapshotID string, ids []string) error {
	s, err := a.scope(repoID, snapshotID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	for _, id := range ids {
		delete(s.meta, id)
	}
	return a.persist(repoID, snapshotID, s)
}

// Search returns the nearest neighbors to query, optionally restricted to
// chunkIDs. When chunkIDs is non-empty, the underlying k-NN search widens
// its candidate set until it has enough in-scope hits or exhausts the index.
func (a *VectorIndexAdapter) Search(ctx context.Context, repoID, snapshotID string, query []float32, limit int, chunkIDs []string) ([]model.SearchHit, error) {
	s, err := a.scope(repoID, snapshotID)
	if err != nil {
		return nil, err
	}

	var allowed map[string]struct{}
	if len(chunkIDs) > 0 {
		allowed = make(map[string]struct{}, len(chunkIDs))
		for _, id := range chunkIDs {
			allowed[id] = struct{}{}
		}
	}

	k := limit
	if allowed != nil {
		k = limit * 4
		if k < limit {
			k = limit
		}
	}
	if k <= 0 {
		k = limit
	}

	total := s.store.Count()
	for {
		searchK := k
		if searchK > total {
			searchK = total
		}
		if searchK <= 0 {
			return nil, nil
		}

		results, err := s.store.Search(ctx, query, searchK)
		if err != nil {
			return nil, fmt.Errorf("vector search failed: %w", err)
		}

		hits := make([]model.SearchHit, 0, limit)
		for _, r := range results {
			if allowed != nil {
				if _, ok := allowed[r.ID]; !ok {
					continue
				}
			}
			meta := s.meta[r.ID]
			hits = append(hits, model.SearchHit{
				ChunkID:  r.ID,
				FilePath: meta.filePath,
				SymbolID: meta.symbolID,
				Score:    float64(r.Score),
				Source:   model.SourceVector,
			})
			if len(hits) >= limit {
				break
			}
		}

		if len(hits) >= limit || searchK >= total {
			return hits, nil
		}
		k *= 2
	}
}
