package overlay_test

import (
	"context"
	"testing"

	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/overlay"
)

type stubIRBuilder struct {
	docs map[string]*model.IRDocument
}

func (s *stubIRBuilder) Build(_ context.Context, filePath, _ string) (*model.IRDocument, error) {
	if ir, ok := s.docs[filePath]; ok {
		return ir, nil
	}
	return &model.IRDocument{FilePath: filePath, Symbols: map[string]*model.Symbol{}}, nil
}

func TestBuilder_BuildOverlay_SignatureChangeMarksAffected(t *testing.T) {
	ctx := context.Background()
	baseIR := map[string]*model.IRDocument{
		"a.go": {
			FilePath: "a.go",
			Symbols: map[string]*model.Symbol{
				"sym1": {ID: "sym1", Name: "Foo", Signature: "func Foo()"},
			},
		},
	}
	overlayIR := map[string]*model.IRDocument{
		"a.go": {
			FilePath: "a.go",
			Symbols: map[string]*model.Symbol{
				"sym1": {ID: "sym1", Name: "Foo", Signature: "func Foo(x int)"},
			},
		},
	}
	b := overlay.NewBuilder(&stubIRBuilder{docs: overlayIR}, 10)

	snap, err := b.BuildOverlay(ctx, "base1", "repo1", map[string]string{"a.go": "func Foo(x int) {}"}, baseIR)
	if err != nil {
		t.Fatalf("build overlay: %v", err)
	}
	if _, ok := snap.AffectedSymbols["sym1"]; !ok {
		t.Fatalf("expected sym1 to be affected, got %+v", snap.AffectedSymbols)
	}
	if snap.SnapshotID == "" || snap.SnapshotID[:8] != "overlay_" {
		t.Fatalf("expected overlay_-prefixed snapshot id, got %q", snap.SnapshotID)
	}
}

func TestBuilder_BuildOverlay_Deterministic(t *testing.T) {
	ctx := context.Background()
	b := overlay.NewBuilder(&stubIRBuilder{}, 10)
	files := map[string]string{"a.go": "package a", "b.go": "package b"}

	s1, err := b.BuildOverlay(ctx, "base1", "repo1", files, nil)
	if err != nil {
		t.Fatalf("build overlay 1: %v", err)
	}
	s2, err := b.BuildOverlay(ctx, "base1", "repo1", files, nil)
	if err != nil {
		t.Fatalf("build overlay 2: %v", err)
	}
	if s1.SnapshotID != s2.SnapshotID {
		t.Fatalf("expected deterministic snapshot id, got %q vs %q", s1.SnapshotID, s2.SnapshotID)
	}
}

func TestBuilder_BuildOverlay_CapsFileCount(t *testing.T) {
	ctx := context.Background()
	b := overlay.NewBuilder(&stubIRBuilder{}, 2)
	files := map[string]string{"a.go": "1", "b.go": "2", "c.go": "3"}

	snap, err := b.BuildOverlay(ctx, "base1", "repo1", files, nil)
	if err != nil {
		t.Fatalf("build overlay: %v", err)
	}
	if len(snap.UncommittedFiles) != 2 {
		t.Fatalf("expected cap of 2 files, got %d", len(snap.UncommittedFiles))
	}
}

func TestGraphMerger_OverlayWinsOnConflict(t *testing.T) {
	ctx := context.Background()
	baseDocs := map[string]*model.IRDocument{
		"a.go": {
			FilePath: "a.go",
			Symbols: map[string]*model.Symbol{
				"sym1": {ID: "sym1", Name: "Foo", Signature: "func Foo()"},
			},
		},
		"b.go": {
			FilePath: "b.go",
			Symbols: map[string]*model.Symbol{
				"sym2": {ID: "sym2", Name: "Bar", Signature: "func Bar()"},
			},
		},
	}
	o := &model.OverlaySnapshot{
		SnapshotID:     "overlay_abc",
		BaseSnapshotID: "base1",
		OverlayIRDocs: map[string]*model.IRDocument{
			"a.go": {
				FilePath: "a.go",
				Symbols: map[string]*model.Symbol{
					"sym1": {ID: "sym1", Name: "Foo", Signature: "func Foo(x int)"},
				},
			},
		},
	}

	merger := overlay.NewGraphMerger(nil, 0)
	merged, err := merger.Merge(ctx, o, baseDocs)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.SnapshotID != "merged_overlay_abc" {
		t.Fatalf("unexpected merged snapshot id: %q", merged.SnapshotID)
	}
	sym := merged.SymbolAt("sym1")
	if sym == nil || sym.Signature != "func Foo(x int)" {
		t.Fatalf("expected overlay signature to win, got %+v", sym)
	}
	if merged.SymbolAt("sym2") == nil {
		t.Fatalf("expected untouched base symbol sym2 to survive merge")
	}

	var sawSignatureConflict bool
	for _, c := range merged.Conflicts {
		if c.SymbolID == "sym1" && c.ConflictType == model.ConflictSignatureChange {
			sawSignatureConflict = true
			if c.Resolution != "overlay_wins" {
				t.Fatalf("expected overlay_wins resolution, got %q", c.Resolution)
			}
		}
	}
	if !sawSignatureConflict {
		t.Fatalf("expected a signature_change conflict for sym1, got %+v", merged.Conflicts)
	}
}

func TestGraphMerger_DeletionConflict(t *testing.T) {
	ctx := context.Background()
	baseDocs := map[string]*model.IRDocument{
		"a.go": {
			FilePath: "a.go",
			Symbols: map[string]*model.Symbol{
				"sym1": {ID: "sym1", Name: "Foo", Signature: "func Foo()"},
			},
		},
	}
	o := &model.OverlaySnapshot{
		SnapshotID: "overlay_xyz",
		OverlayIRDocs: map[string]*model.IRDocument{
			"a.go": {FilePath: "a.go", Symbols: map[string]*model.Symbol{}},
		},
	}

	merger := overlay.NewGraphMerger(nil, 0)
	merged, err := merger.Merge(ctx, o, baseDocs)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.SymbolAt("sym1") != nil {
		t.Fatalf("expected deleted symbol to be absent from merged index")
	}
	found := false
	for _, c := range merged.BreakingChanges() {
		if c.SymbolID == "sym1" && c.ConflictType == model.ConflictDeletion {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected deletion to be a breaking change, got %+v", merged.Conflicts)
	}
}
