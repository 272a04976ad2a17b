// Package ports declares the polymorphic backend contracts the indexing
// orchestrator depends on. Each port kind has exactly one interface; a
// missing adapter means the orchestrator skips that index kind entirely.
package ports

import (
	"context"

	"github.com/amanindex/coreengine/internal/model"
)

// LexicalIndexPort is source-file based text search. Incremental reindex of
// >= 10 paths MAY upgrade to a full reindex internally.
type LexicalIndexPort interface {
	ReindexRepo(ctx context.Context, repoID, snapshotID string) error
	ReindexPaths(ctx context.Context, repoID, snapshotID string, paths []string) error
	Search(ctx context.Context, repoID, snapshotID, query string, limit int) ([]model.SearchHit, error)
	DeleteRepo(ctx context.Context, repoID, snapshotID string) error
}

// VectorIndexPort indexes dense embeddings, one collection per (repo,
// snapshot). Embedding dimension is fixed per installation.
type VectorIndexPort interface {
	Index(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument, vectors [][]float32) error
	Upsert(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument, vectors [][]float32) error
	Delete(ctx context.Context, repoID, snapshotID string, ids []string) error
	Search(ctx context.Context, repoID, snapshotID string, query []float32, limit int, chunkIDs []string) ([]model.SearchHit, error)
}

// SymbolIndexPort is backed by a graph store and supports intent-routed
// queries (callers/callees/references) in addition to name search.
type SymbolIndexPort interface {
	IndexGraph(ctx context.Context, repoID, snapshotID string, graphDoc *model.IRDocument) error
	Search(ctx context.Context, repoID, snapshotID, query string, limit int) ([]model.SearchHit, error)
	GetCallers(ctx context.Context, repoID, snapshotID, symbolID string) ([]model.SearchHit, error)
	GetCallees(ctx context.Context, repoID, snapshotID, symbolID string) ([]model.SearchHit, error)
	GetReferences(ctx context.Context, repoID, snapshotID, symbolID string) ([]model.SearchHit, error)
	GetNodeByID(ctx context.Context, repoID, snapshotID, symbolID string) (*model.SearchHit, error)
	DeleteRepo(ctx context.Context, repoID, snapshotID string) error
}

// FuzzyIndexPort is trigram-based identifier search.
type FuzzyIndexPort interface {
	Index(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument) error
	Upsert(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument) error
	Delete(ctx context.Context, repoID, snapshotID string, ids []string) error
	Search(ctx context.Context, repoID, snapshotID, query string, limit int) ([]model.SearchHit, error)
}

// DomainMetaIndexPort has the same shape as VectorIndexPort but for
// documentation chunks rather than code chunks.
type DomainMetaIndexPort interface {
	Index(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument) error
	Upsert(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument) error
	Delete(ctx context.Context, repoID, snapshotID string, ids []string) error
	Search(ctx context.Context, repoID, snapshotID, query string, limit int) ([]model.SearchHit, error)
}

// RuntimeIndexPort is an optional sixth index kind for runtime/dynamic
// signal (e.g. traced call frequency). The core never requires it; when
// bound, its hits merge into fusion like any other source.
type RuntimeIndexPort interface {
	Search(ctx context.Context, repoID, snapshotID, query string, limit int) ([]model.SearchHit, error)
}

// Embedder produces dense vectors for IndexDocument content. Concrete
// embedding models are out of core scope (spec.md §1 non-goal); this port
// is the seam a real model client would implement.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// IRBuilder is the external parser collaborator that turns raw file
// content into an IRDocument. Out of core scope; internal/parse provides a
// minimal tree-sitter-backed stand-in for testing.
type IRBuilder interface {
	Build(ctx context.Context, filePath, content string) (*model.IRDocument, error)
}
