package indexing_test

import (
	"context"
	"testing"
	"time"

	"github.com/amanindex/coreengine/internal/embedqueue"
	"github.com/amanindex/coreengine/internal/indexing"
	"github.com/amanindex/coreengine/internal/model"
)

type fakeFuzzyDomain struct {
	hits []model.SearchHit
}

func (f *fakeFuzzyDomain) Index(_ context.Context, _, _ string, _ []model.IndexDocument) error { return nil }
func (f *fakeFuzzyDomain) Upsert(_ context.Context, _, _ string, _ []model.IndexDocument) error {
	return nil
}
func (f *fakeFuzzyDomain) Delete(_ context.Context, _, _ string, _ []string) error { return nil }
func (f *fakeFuzzyDomain) Search(_ context.Context, _, _, _ string, _ int) ([]model.SearchHit, error) {
	return f.hits, nil
}

func TestSearch_FusesAcrossConfiguredBackends(t *testing.T) {
	lex := &fakeLexical{}
	fuzzy := &fakeFuzzyDomain{hits: []model.SearchHit{{ChunkID: "c1", Score: 0.9, Source: model.SourceFuzzy}}}

	svc := indexing.New(
		indexing.WithLexicalIndex(lex),
		indexing.WithFuzzyIndex(fuzzy),
	)

	hits, errs, err := svc.Search(context.Background(), "repo1", "snap1", "calculate total", 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected per-backend errors: %v", errs)
	}
	if len(hits) != 1 || hits[0].ChunkID != "c1" {
		t.Fatalf("expected fused hit for c1, got %+v", hits)
	}
	if hits[0].Source != model.SourceFused {
		t.Fatalf("expected fused source marker, got %s", hits[0].Source)
	}
}

func TestSearch_GraphIntentBypassesFusion(t *testing.T) {
	sym := &callersSymbol{}
	svc := indexing.New(indexing.WithSymbolIndex(sym))

	hits, _, err := svc.Search(context.Background(), "repo1", "snap1", "who calls DoWork", 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "caller1" {
		t.Fatalf("expected the structural callers result, got %+v", hits)
	}
}

type callersSymbol struct{}

func (c *callersSymbol) IndexGraph(_ context.Context, _, _ string, _ *model.IRDocument) error {
	return nil
}
func (c *callersSymbol) Search(_ context.Context, _, _, query string, _ int) ([]model.SearchHit, error) {
	return []model.SearchHit{{SymbolID: "sym:DoWork"}}, nil
}
func (c *callersSymbol) GetCallers(_ context.Context, _, _, _ string) ([]model.SearchHit, error) {
	return []model.SearchHit{{ChunkID: "caller1"}}, nil
}
func (c *callersSymbol) GetCallees(_ context.Context, _, _, _ string) ([]model.SearchHit, error) {
	return nil, nil
}
func (c *callersSymbol) GetReferences(_ context.Context, _, _, _ string) ([]model.SearchHit, error) {
	return nil, nil
}
func (c *callersSymbol) GetNodeByID(_ context.Context, _, _, _ string) (*model.SearchHit, error) {
	return nil, nil
}
func (c *callersSymbol) DeleteRepo(_ context.Context, _, _ string) error { return nil }

func TestWaitUntilIdle_ReturnsTrueWhenQueueEmpty(t *testing.T) {
	queue, err := embedqueue.New("", 3)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	svc := indexing.New(indexing.WithEmbeddingQueue(queue, nil))
	if !svc.WaitUntilIdle(context.Background(), 2*time.Second) {
		t.Fatalf("expected an empty queue to report idle immediately")
	}
}

func TestWaitUntilIdle_TimesOutWhenQueueNeverDrains(t *testing.T) {
	queue, err := embedqueue.New("", 3)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	if err := queue.Enqueue(context.Background(), "repo1", "snap1", "c1", "content", embedqueue.PriorityNormal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	svc := indexing.New(indexing.WithEmbeddingQueue(queue, nil))
	if svc.WaitUntilIdle(context.Background(), 150*time.Millisecond) {
		t.Fatalf("expected timeout when nothing drains the queue")
	}
}
