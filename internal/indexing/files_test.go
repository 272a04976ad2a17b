package indexing_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/amanindex/coreengine/internal/embedqueue"
	"github.com/amanindex/coreengine/internal/idempotency"
	"github.com/amanindex/coreengine/internal/indexing"
)

func writeRepoFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestIndexFiles_EmptyListNotTriggered(t *testing.T) {
	svc := indexing.New()
	result, err := svc.IndexFiles(context.Background(), "repo1", "snap1", nil, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != indexing.StatusNotTriggered {
		t.Fatalf("expected not_triggered for an empty path list, got %s", result.Status)
	}
}

func TestIndexFiles_IdempotentOnRepeatHeadSHA(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "a.go", "package a\n\nfunc A() {}\n")

	store, err := idempotency.New("")
	if err != nil {
		t.Fatalf("new idempotency store: %v", err)
	}
	lex := &fakeLexical{}
	svc := indexing.New(
		indexing.WithLexicalIndex(lex),
		indexing.WithIdempotencyStore(store),
		indexing.WithRootDirResolver(func(string) string { return root }),
	)

	ctx := context.Background()
	first, err := svc.IndexFiles(ctx, "repo1", "snap1", []string{"a.go"}, 1, "sha1")
	if err != nil {
		t.Fatalf("first index_files: %v", err)
	}
	if first.Status != indexing.StatusSuccess || first.IndexedCount != 1 {
		t.Fatalf("expected success/1 on first call, got %+v", first)
	}

	second, err := svc.IndexFiles(ctx, "repo1", "snap1", []string{"a.go"}, 1, "sha1")
	if err != nil {
		t.Fatalf("second index_files: %v", err)
	}
	if second.Status != indexing.StatusNotTriggered || second.IndexedCount != 0 {
		t.Fatalf("expected a repeat call with the same head_sha to be a no-op, got %+v", second)
	}
}

func TestIndexFiles_LargeLowPriorityBatchRoutesThroughQueue(t *testing.T) {
	root := t.TempDir()
	paths := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		p := filepath.Join("pkg", "file"+string(rune('a'+i))+".go")
		writeRepoFile(t, root, p, "package pkg\n")
		paths = append(paths, p)
	}

	queue, err := embedqueue.New("", 3)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	vec := &fakeVector{}
	svc := indexing.New(
		indexing.WithVectorIndex(vec),
		indexing.WithEmbedder(fakeEmbedder{}),
		indexing.WithEmbeddingQueue(queue, nil),
		indexing.WithRootDirResolver(func(string) string { return root }),
		indexing.WithQueueThreshold(10),
	)

	result, err := svc.IndexFiles(context.Background(), "repo1", "snap1", paths, 0, "")
	if err != nil {
		t.Fatalf("index_files: %v", err)
	}
	if result.Status != indexing.StatusSuccess {
		t.Fatalf("expected success (accepted), got %s, errs=%v", result.Status, result.Errors)
	}
	if vec.upserted != 0 {
		t.Fatalf("expected a batch above queue_threshold to defer embedding to the queue, not embed inline")
	}
	n, err := queue.Len(context.Background())
	if err != nil {
		t.Fatalf("queue len: %v", err)
	}
	if n != 12 {
		t.Fatalf("expected all 12 docs enqueued, got %d", n)
	}
}
