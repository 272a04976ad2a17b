package embedqueue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amanindex/coreengine/internal/embedqueue"
	"github.com/amanindex/coreengine/internal/model"
)

func TestQueue_PopOrdersByPriorityThenAge(t *testing.T) {
	ctx := context.Background()
	q, err := embedqueue.New("", 3)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	defer q.Close()

	if err := q.Enqueue(ctx, "repo1", "snap1", "low", "x", embedqueue.PriorityLow); err != nil {
		t.Fatalf("enqueue low: %v", err)
	}
	if err := q.Enqueue(ctx, "repo1", "snap1", "high", "y", embedqueue.PriorityHigh); err != nil {
		t.Fatalf("enqueue high: %v", err)
	}

	item, err := q.PopOne(ctx)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if item == nil || item.ChunkID != "high" {
		t.Fatalf("expected high priority item first, got %+v", item)
	}
}

func TestQueue_FailRetriesThenDrops(t *testing.T) {
	ctx := context.Background()
	q, err := embedqueue.New("", 1)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	defer q.Close()

	if err := q.Enqueue(ctx, "repo1", "snap1", "c1", "x", embedqueue.PriorityNormal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	item, err := q.PopOne(ctx)
	if err != nil || item == nil {
		t.Fatalf("pop: %v %+v", err, item)
	}

	ok, err := q.Fail(ctx, item.ID)
	if err != nil {
		t.Fatalf("fail 1: %v", err)
	}
	if !ok {
		t.Fatalf("expected retry to be allowed on first failure")
	}

	item2, err := q.PopOne(ctx)
	if err != nil || item2 == nil {
		t.Fatalf("pop after retry: %v %+v", err, item2)
	}
	ok, err = q.Fail(ctx, item2.ID)
	if err != nil {
		t.Fatalf("fail 2: %v", err)
	}
	if ok {
		t.Fatalf("expected item dropped after exceeding max retries")
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected queue empty after drop, got %d", n)
	}
}

type fakeEmbedder struct{ fail bool }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedding backend down")
	}
	return []float32{1, 2, 3}, nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
func (f *fakeEmbedder) Dimensions() int { return 3 }

type fakeVectorIndex struct{ upserted []model.IndexDocument }

func (f *fakeVectorIndex) Index(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument, vectors [][]float32) error {
	return f.Upsert(ctx, repoID, snapshotID, docs, vectors)
}
func (f *fakeVectorIndex) Upsert(_ context.Context, _, _ string, docs []model.IndexDocument, _ [][]float32) error {
	f.upserted = append(f.upserted, docs...)
	return nil
}
func (f *fakeVectorIndex) Delete(context.Context, string, string, []string) error { return nil }
func (f *fakeVectorIndex) Search(context.Context, string, string, []float32, int, []string) ([]model.SearchHit, error) {
	return nil, nil
}

func TestWorkerPool_ProcessesQueuedItems(t *testing.T) {
	ctx := context.Background()
	q, err := embedqueue.New("", 3)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	defer q.Close()

	if err := q.Enqueue(ctx, "repo1", "snap1", "c1", "hello", embedqueue.PriorityNormal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	vec := &fakeVectorIndex{}
	pool := embedqueue.NewWorkerPool(q, &fakeEmbedder{}, vec, 2)
	pool.Start(ctx)
	pool.Notify()

	deadline := time.After(2 * time.Second)
	for {
		if pool.Stats().Processed >= 1 {
			break
		}
		select {
		case <-deadline:
			pool.Stop()
			t.Fatalf("timed out waiting for item to process")
		case <-time.After(10 * time.Millisecond):
		}
	}
	pool.Stop()

	if len(vec.upserted) != 1 || vec.upserted[0].ID != "c1" {
		t.Fatalf("expected c1 to be upserted, got %+v", vec.upserted)
	}
}
