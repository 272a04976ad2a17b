package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/ports"
)

// domainDoc is the Bleve document shape for the domain/doc-metadata index.
// RepoID and SnapshotID are keyword fields so a single Bleve instance can
// serve every repo scope, filtered per query by a conjunction clause.
type domainDoc struct {
	RepoID     string `json:"repo_id"`
	SnapshotID string `json:"snapshot_id"`
	ChunkID    string `json:"chunk_id"`
	FilePath   string `json:"file_path"`
	SymbolID   string `json:"symbol_id"`
	Content    string `json:"content"`
}

// BleveDomainIndex implements ports.DomainMetaIndexPort as a Bleve index,
// reusing the code-aware analyzer from bm25.go's createIndexMapping so
// documentation and comment chunks tokenize consistently with source code.
type BleveDomainIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ ports.DomainMetaIndexPort = (*BleveDomainIndex)(nil)

// NewBleveDomainIndex opens (or creates) the domain index at path. An
// empty path creates an in-memory index.
func NewBleveDomainIndex(path string) (*BleveDomainIndex, error) {
	indexMapping, err := createDomainIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create domain index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for domain index: %w", err)
		}
		if validErr := validateIndexIntegrity(path); validErr != nil {
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("domain index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("domain index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open domain index: %w", err)
	}

	return &BleveDomainIndex{index: idx, path: path}, nil
}

// createDomainIndexMapping mirrors createIndexMapping's code analyzer but
// adds keyword sub-fields for repo/snapshot scoping and symbol linkage.
func createDomainIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, err
	}

	docMapping := bleve.NewDocumentMapping()

	keyword := bleve.NewTextFieldMapping()
	keyword.Analyzer = "keyword"

	docMapping.AddFieldMappingsAt("repo_id", keyword)
	docMapping.AddFieldMappingsAt("snapshot_id", keyword)
	docMapping.AddFieldMappingsAt("chunk_id", keyword)
	docMapping.AddFieldMappingsAt("file_path", keyword)
	docMapping.AddFieldMappingsAt("symbol_id", keyword)

	content := bleve.NewTextFieldMapping()
	content.Analyzer = CodeAnalyzerName
	docMapping.AddFieldMappingsAt("content", content)

	indexMapping.DefaultMapping = docMapping
	return indexMapping, nil
}

func domainDocID(repoID, snapshotID, chunkID string) string {
	return repoID + "/" + snapshotID + "/" + chunkID
}

// Index replaces all documents in scope with docs.
func (d *BleveDomainIndex) Index(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument) error {
	if err := d.clearScope(ctx, repoID, snapshotID); err != nil {
		return err
	}
	return d.Upsert(ctx, repoID, snapshotID, docs)
}

// Upsert adds or replaces the given documents.
func (d *BleveDomainIndex) Upsert(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument) error {
	if len(docs) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("domain index is closed")
	}

	batch := d.index.NewBatch()
	for _, doc := range docs {
		dd := domainDoc{
			RepoID:     repoID,
			SnapshotID: snapshotID,
			ChunkID:    doc.ID,
			FilePath:   doc.FilePath,
			SymbolID:   doc.SymbolID,
			Content:    doc.Content,
		}
		if err := batch.Index(domainDocID(repoID, snapshotID, doc.ID), dd); err != nil {
			return fmt.Errorf("failed to index domain document %s: %w", doc.ID, err)
		}
	}
	if err := d.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute domain batch: %w", err)
	}
	return nil
}

// Delete removes the given chunk IDs from scope.
func (d *BleveDomainIndex) Delete(ctx context.Context, repoID, snapshotID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("domain index is closed")
	}
	batch := d.index.NewBatch()
	for _, id := range ids {
		batch.Delete(domainDocID(repoID, snapshotID, id))
	}
	return d.index.Batch(batch)
}

func (d *BleveDomainIndex) clearScope(ctx context.Context, repoID, snapshotID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("domain index is closed")
	}

	query := scopeQuery(repoID, snapshotID)
	req := bleve.NewSearchRequest(query)
	req.Size = 10000
	result, err := d.index.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to enumerate domain scope: %w", err)
	}
	if len(result.Hits) == 0 {
		return nil
	}
	batch := d.index.NewBatch()
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	return d.index.Batch(batch)
}

func scopeQuery(repoID, snapshotID string) *bleve.ConjunctionQuery {
	repoQ := bleve.NewTermQuery(repoID)
	repoQ.SetField("repo_id")
	snapQ := bleve.NewTermQuery(snapshotID)
	snapQ.SetField("snapshot_id")
	return bleve.NewConjunctionQuery(repoQ, snapQ)
}

// Search returns documents in scope matching query, scored by BM25.
func (d *BleveDomainIndex) Search(ctx context.Context, repoID, snapshotID, query string, limit int) ([]model.SearchHit, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, fmt.Errorf("domain index is closed")
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	combined := scopeQuery(repoID, snapshotID)
	combined.AddQuery(matchQuery)

	req := bleve.NewSearchRequest(combined)
	req.Size = limit
	req.Fields = []string{"chunk_id", "file_path", "symbol_id"}

	result, err := d.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("domain search failed: %w", err)
	}

	hits := make([]model.SearchHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		chunkID, _ := hit.Fields["chunk_id"].(string)
		filePath, _ := hit.Fields["file_path"].(string)
		symbolID, _ := hit.Fields["symbol_id"].(string)
		hits = append(hits, model.SearchHit{
			ChunkID:  chunkID,
			FilePath: filePath,
			SymbolID: symbolID,
			Score:    hit.Score,
			Source:   model.SourceDomain,
		})
	}
	return hits, nil
}

// Close releases the underlying Bleve index.
func (d *BleveDomainIndex) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.index.Close()
}
