package lexical_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/amanindex/coreengine/internal/lexical"
)

func newTestStack(t *testing.T, root string) (*lexical.BaseLexicalIndex, *lexical.DeltaIndex, *lexical.TombstoneManager) {
	t.Helper()
	base, err := lexical.NewBaseLexicalIndex("", func(string) string { return root })
	if err != nil {
		t.Fatalf("new base index: %v", err)
	}
	delta, err := lexical.NewDeltaIndex("")
	if err != nil {
		t.Fatalf("new delta index: %v", err)
	}
	tombs, err := lexical.NewTombstoneManager(delta.DB())
	if err != nil {
		t.Fatalf("new tombstone manager: %v", err)
	}
	return base, delta, tombs
}

// Scenario 3 from spec.md §8: delta wins over base for the same file.
func TestMergingLexicalIndex_DeltaWins(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatalf("create fixture dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "a.py"), []byte("def Foo(): pass"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	base, delta, tombs := newTestStack(t, root)
	if err := base.ReindexRepo(ctx, "repo1", "snap1"); err != nil {
		t.Fatalf("reindex base: %v", err)
	}
	if err := delta.IndexFile(ctx, "repo1", "src/a.py", "Foo updated body", nil); err != nil {
		t.Fatalf("index delta file: %v", err)
	}

	merged := lexical.NewMergingLexicalIndex(base, delta, tombs)
	hits, err := merged.Search(ctx, "repo1", "snap1", "Foo", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	srcHits := 0
	for _, h := range hits {
		if h.FilePath == "src/a.py" && h.Metadata["delta"] != true {
			t.Fatalf("base hit for src/a.py should be dropped once the delta indexes the same path: %+v", hits)
		}
		if h.FilePath == "src/a.py" {
			srcHits++
			if h.Source != "lexical" {
				t.Errorf("expected lexical source, got %s", h.Source)
			}
		}
	}
	if srcHits != 1 {
		t.Fatalf("expected exactly one (delta) hit for src/a.py, got %+v", hits)
	}
}

func TestMergingLexicalIndex_TombstoneSuppressesBaseHit(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "deleted.py"), []byte("def Foo(): pass"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "kept.py"), []byte("def Foo(): pass"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	base, delta, tombs := newTestStack(t, root)
	if err := base.ReindexRepo(ctx, "repo1", "snap1"); err != nil {
		t.Fatalf("reindex base: %v", err)
	}
	// Putting at least one live row in delta so the merge path (not the
	// empty-delta fast path) is exercised.
	if err := delta.IndexFile(ctx, "repo1", "unrelated.py", "Foo", nil); err != nil {
		t.Fatalf("index delta file: %v", err)
	}
	if err := tombs.Mark(ctx, "repo1", "deleted.py", 1); err != nil {
		t.Fatalf("mark tombstone: %v", err)
	}

	merged := lexical.NewMergingLexicalIndex(base, delta, tombs)
	hits, err := merged.Search(ctx, "repo1", "snap1", "Foo", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, h := range hits {
		if h.FilePath == "deleted.py" {
			t.Fatalf("tombstoned path must not be returned: %+v", hits)
		}
	}
}

func TestCompactionManager_ShouldCompactThresholds(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	base, delta, tombs := newTestStack(t, root)
	locker := newMemLocker()

	cm := lexical.NewCompactionManager(delta, tombs, locker, lexical.Config{TriggerFileCount: 2, TriggerAgeHours: 999})

	ok, err := cm.ShouldCompact(ctx, "repo1")
	if err != nil {
		t.Fatalf("should compact: %v", err)
	}
	if ok {
		t.Fatalf("empty delta should not trigger compaction")
	}

	if err := delta.IndexFile(ctx, "repo1", "a.py", "a", nil); err != nil {
		t.Fatalf("index: %v", err)
	}
	if err := delta.IndexFile(ctx, "repo1", "b.py", "b", nil); err != nil {
		t.Fatalf("index: %v", err)
	}

	ok, err = cm.ShouldCompact(ctx, "repo1")
	if err != nil {
		t.Fatalf("should compact: %v", err)
	}
	if !ok {
		t.Fatalf("delta count at trigger threshold should compact")
	}

	rebuilds := 0
	err = cm.Compact(ctx, "repo1", "snap1", func(ctx context.Context, repoID, snapshotID string) error {
		rebuilds++
		return base.ReindexRepo(ctx, repoID, snapshotID)
	})
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if rebuilds != 1 {
		t.Fatalf("expected exactly one rebuild invocation, got %d", rebuilds)
	}
	if cm.State("repo1") != lexical.StateNormal {
		t.Fatalf("expected NORMAL after successful compaction, got %s", cm.State("repo1"))
	}

	n, err := delta.Count(ctx, "repo1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected delta cleared after promote, got %d rows", n)
	}
}
