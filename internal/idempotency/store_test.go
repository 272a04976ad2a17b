package idempotency_test

import (
	"context"
	"testing"

	"github.com/amanindex/coreengine/internal/idempotency"
)

func TestStore_FilterUnseen_SkipsRecordedFiles(t *testing.T) {
	ctx := context.Background()
	s, err := idempotency.New("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	if err := s.Record(ctx, "repo1", "snap1", "a.go", "sha1"); err != nil {
		t.Fatalf("record: %v", err)
	}

	remaining, err := s.FilterUnseen(ctx, "repo1", "snap1", "sha1", []string{"a.go", "b.go"})
	if err != nil {
		t.Fatalf("filter unseen: %v", err)
	}
	if len(remaining) != 1 || remaining[0] != "b.go" {
		t.Fatalf("expected only b.go to remain, got %+v", remaining)
	}
}

func TestStore_FilterUnseen_NoHeadSHAPassesThrough(t *testing.T) {
	ctx := context.Background()
	s, err := idempotency.New("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	remaining, err := s.FilterUnseen(ctx, "repo1", "snap1", "", []string{"a.go", "b.go"})
	if err != nil {
		t.Fatalf("filter unseen: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected unfiltered pass-through without head_sha, got %+v", remaining)
	}
}

func TestStore_RecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := idempotency.New("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	if err := s.Record(ctx, "repo1", "snap1", "a.go", "sha1"); err != nil {
		t.Fatalf("record 1: %v", err)
	}
	if err := s.Record(ctx, "repo1", "snap1", "a.go", "sha1"); err != nil {
		t.Fatalf("record 2 (should be a no-op): %v", err)
	}
}
