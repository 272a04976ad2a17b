package mcpapi

import (
	"context"
	"testing"

	"github.com/amanindex/coreengine/internal/indexing"
	"github.com/amanindex/coreengine/internal/model"
)

type fakeFuzzy struct {
	hits []model.SearchHit
}

func (f *fakeFuzzy) Index(_ context.Context, _, _ string, _ []model.IndexDocument) error  { return nil }
func (f *fakeFuzzy) Upsert(_ context.Context, _, _ string, _ []model.IndexDocument) error { return nil }
func (f *fakeFuzzy) Delete(_ context.Context, _, _ string, _ []string) error              { return nil }
func (f *fakeFuzzy) Search(_ context.Context, _, _, _ string, _ int) ([]model.SearchHit, error) {
	return f.hits, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	fuzzy := &fakeFuzzy{hits: []model.SearchHit{{ChunkID: "c1", Score: 0.5, Source: model.SourceFuzzy}}}
	svc := indexing.New(indexing.WithFuzzyIndex(fuzzy))
	srv, err := NewServer(svc, nil, "", nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func TestNewServer_RejectsNilService(t *testing.T) {
	if _, err := NewServer(nil, nil, "", nil); err == nil {
		t.Fatalf("expected an error when no indexing service is supplied")
	}
}

func TestNewServer_RegistersAllTools(t *testing.T) {
	srv := newTestServer(t)
	if srv.mcp == nil {
		t.Fatalf("expected the underlying mcp.Server to be initialized")
	}
}

func TestHandleSearch_RejectsEmptyRepoID(t *testing.T) {
	srv := newTestServer(t)
	_, _, err := srv.handleSearch(context.Background(), nil, SearchInput{Query: "foo"})
	if err == nil {
		t.Fatalf("expected repo_id validation error")
	}
}

func TestHandleSearch_RejectsEmptyQuery(t *testing.T) {
	srv := newTestServer(t)
	_, _, err := srv.handleSearch(context.Background(), nil, SearchInput{RepoID: "repo1"})
	if err == nil {
		t.Fatalf("expected query validation error")
	}
}

func TestHandleSearch_RejectsOverlongQuery(t *testing.T) {
	srv := newTestServer(t)
	long := make([]byte, MaxQueryLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, _, err := srv.handleSearch(context.Background(), nil, SearchInput{RepoID: "repo1", Query: string(long)})
	if err == nil {
		t.Fatalf("expected query-too-long validation error")
	}
}

func TestHandleSearch_ReturnsFusedResults(t *testing.T) {
	srv := newTestServer(t)
	_, out, err := srv.handleSearch(context.Background(), nil, SearchInput{RepoID: "repo1", SnapshotID: "snap1", Query: "calculate total"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Results) != 1 || out.Results[0].ChunkID != "c1" {
		t.Fatalf("expected one fused hit for c1, got %+v", out.Results)
	}
}

func TestHandleIndexFiles_RejectsEmptyRepoID(t *testing.T) {
	srv := newTestServer(t)
	_, _, err := srv.handleIndexFiles(context.Background(), nil, IndexFilesInput{FilePaths: []string{"a.go"}})
	if err == nil {
		t.Fatalf("expected repo_id validation error")
	}
}

func TestHandleIndexFiles_EmptyListReturnsNotTriggered(t *testing.T) {
	srv := newTestServer(t)
	_, out, err := srv.handleIndexFiles(context.Background(), nil, IndexFilesInput{RepoID: "repo1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != string(indexing.StatusNotTriggered) {
		t.Fatalf("expected not_triggered status, got %s", out.Status)
	}
}

func TestHandleWaitUntilIdle_TrueWithNoQueue(t *testing.T) {
	srv := newTestServer(t)
	_, out, err := srv.handleWaitUntilIdle(context.Background(), nil, WaitUntilIdleInput{TimeoutSeconds: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Idle {
		t.Fatalf("expected idle=true when no embedding queue is configured")
	}
}

func TestHandleIndexRepoFull_RejectsEmptyRepoID(t *testing.T) {
	srv := newTestServer(t)
	_, _, err := srv.handleIndexRepoFull(context.Background(), nil, IndexRepoFullInput{})
	if err == nil {
		t.Fatalf("expected repo_id validation error")
	}
}

func TestHandleIndexRepoTwoPhase_RejectsEmptyRepoID(t *testing.T) {
	srv := newTestServer(t)
	_, _, err := srv.handleIndexRepoTwoPhase(context.Background(), nil, IndexRepoTwoPhaseInput{})
	if err == nil {
		t.Fatalf("expected repo_id validation error")
	}
}

func TestHandleIndexRepoIncremental_RejectsEmptyRepoID(t *testing.T) {
	srv := newTestServer(t)
	_, _, err := srv.handleIndexRepoIncremental(context.Background(), nil, IndexRepoIncrementalInput{})
	if err == nil {
		t.Fatalf("expected repo_id validation error")
	}
}
