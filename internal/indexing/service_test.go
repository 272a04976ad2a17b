package indexing_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/amanindex/coreengine/internal/indexing"
	"github.com/amanindex/coreengine/internal/model"
)

type fakeLexical struct {
	mu           sync.Mutex
	reindexed    []string
	reindexPaths [][]string
	failRepo     bool
}

func (f *fakeLexical) ReindexRepo(_ context.Context, repoID, snapshotID string) error {
	if f.failRepo {
		return errors.New("boom")
	}
	f.mu.Lock()
	f.reindexed = append(f.reindexed, repoID+"/"+snapshotID)
	f.mu.Unlock()
	return nil
}

func (f *fakeLexical) ReindexPaths(_ context.Context, _, _ string, paths []string) error {
	f.mu.Lock()
	f.reindexPaths = append(f.reindexPaths, paths)
	f.mu.Unlock()
	return nil
}

func (f *fakeLexical) Search(_ context.Context, _, _, _ string, _ int) ([]model.SearchHit, error) {
	return nil, nil
}

func (f *fakeLexical) DeleteRepo(_ context.Context, _, _ string) error { return nil }

type fakeSymbol struct {
	indexed int
}

func (f *fakeSymbol) IndexGraph(_ context.Context, _, _ string, _ *model.IRDocument) error {
	f.indexed++
	return nil
}
func (f *fakeSymbol) Search(_ context.Context, _, _, _ string, _ int) ([]model.SearchHit, error) {
	return nil, nil
}
func (f *fakeSymbol) GetCallers(_ context.Context, _, _, _ string) ([]model.SearchHit, error) {
	return nil, nil
}
func (f *fakeSymbol) GetCallees(_ context.Context, _, _, _ string) ([]model.SearchHit, error) {
	return nil, nil
}
func (f *fakeSymbol) GetReferences(_ context.Context, _, _, _ string) ([]model.SearchHit, error) {
	return nil, nil
}
func (f *fakeSymbol) GetNodeByID(_ context.Context, _, _, _ string) (*model.SearchHit, error) {
	return nil, nil
}
func (f *fakeSymbol) DeleteRepo(_ context.Context, _, _ string) error { return nil }

type fakeVector struct {
	mu       sync.Mutex
	upserted int
	deleted  int
}

func (f *fakeVector) Index(_ context.Context, _, _ string, docs []model.IndexDocument, _ [][]float32) error {
	f.mu.Lock()
	f.upserted += len(docs)
	f.mu.Unlock()
	return nil
}
func (f *fakeVector) Upsert(_ context.Context, _, _ string, docs []model.IndexDocument, _ [][]float32) error {
	f.mu.Lock()
	f.upserted += len(docs)
	f.mu.Unlock()
	return nil
}
func (f *fakeVector) Delete(_ context.Context, _, _ string, ids []string) error {
	f.mu.Lock()
	f.deleted += len(ids)
	f.mu.Unlock()
	return nil
}
func (f *fakeVector) Search(_ context.Context, _, _ string, _ []float32, _ int, _ []string) ([]model.SearchHit, error) {
	return nil, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}
func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}
func (fakeEmbedder) Dimensions() int { return 1 }

func TestIndexRepoFull_SkipsMissingPortsAndRecordsFailures(t *testing.T) {
	lex := &fakeLexical{failRepo: true}
	sym := &fakeSymbol{}
	vec := &fakeVector{}

	svc := indexing.New(
		indexing.WithLexicalIndex(lex),
		indexing.WithSymbolIndex(sym),
		indexing.WithVectorIndex(vec),
		indexing.WithEmbedder(fakeEmbedder{}),
	)

	chunks := []model.Chunk{
		{ChunkID: "c1", FilePath: "a.go", Kind: model.ContentFunction, Code: "func A() {}"},
	}
	graph := &model.IRDocument{FilePath: "a.go", Symbols: map[string]*model.Symbol{}}

	errs := svc.IndexRepoFull(context.Background(), "repo1", "snap1", chunks, graph, nil, map[string]string{"c1": "func A() {}"})
	if len(errs) != 1 {
		t.Fatalf("expected 1 recorded error from the failing lexical backend, got %d: %v", len(errs), errs)
	}
	if errs[0].Operation != "lexical.reindex_repo" {
		t.Fatalf("expected lexical.reindex_repo error, got %s", errs[0].Operation)
	}
	if sym.indexed != 1 {
		t.Fatalf("expected symbol backend to still run despite lexical failure, got %d calls", sym.indexed)
	}
	if vec.upserted == 0 {
		t.Fatalf("expected vector backend to still run despite lexical failure")
	}
}

func TestIndexRepoTwoPhase_Phase1CompletesBeforePhase2(t *testing.T) {
	sym := &fakeSymbol{}
	vec := &fakeVector{}

	svc := indexing.New(
		indexing.WithSymbolIndex(sym),
		indexing.WithVectorIndex(vec),
		indexing.WithEmbedder(fakeEmbedder{}),
	)

	chunks := []model.Chunk{{ChunkID: "c1", FilePath: "a.go", Kind: model.ContentFunction, Code: "x"}}
	graph := &model.IRDocument{FilePath: "a.go", Symbols: map[string]*model.Symbol{}}

	result, err := svc.IndexRepoTwoPhase(context.Background(), "repo1", "snap1", chunks, graph, nil, map[string]string{"c1": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Phase1Completed {
		t.Fatalf("expected phase 1 to be marked complete synchronously")
	}
	if sym.indexed != 1 {
		t.Fatalf("expected symbol indexing to have run before IndexRepoTwoPhase returned")
	}

	if _, err := svc.WaitForFullIndexing(context.Background(), result); err != nil {
		t.Fatalf("wait for phase 2: %v", err)
	}
	if vec.upserted == 0 {
		t.Fatalf("expected phase 2's vector indexing to have completed after Wait")
	}
}

func TestIndexRepoIncremental_PropagatesDeletes(t *testing.T) {
	vec := &fakeVector{}
	svc := indexing.New(indexing.WithVectorIndex(vec), indexing.WithEmbedder(fakeEmbedder{}))

	refresh := model.RefreshResult{
		DeletedChunkIDs:  []string{"old1", "old2"},
		DeletedFilePaths: []string{"gone.go"},
	}
	errs := svc.IndexRepoIncremental(context.Background(), "repo1", "snap1", refresh, nil, nil, nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if vec.deleted != 2 {
		t.Fatalf("expected 2 deletions propagated to vector backend, got %d", vec.deleted)
	}
}
