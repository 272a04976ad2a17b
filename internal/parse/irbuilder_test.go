package parse_test

import (
	"context"
	"testing"

	"github.com/amanindex/coreengine/internal/parse"
)

func TestTreeSitterIRBuilder_ExtractsGoFunction(t *testing.T) {
	ctx := context.Background()
	b := parse.NewTreeSitterIRBuilder()
	defer b.Close()

	src := "package main\n\nfunc Hello() string {\n\treturn \"hi\"\n}\n"
	doc, err := b.Build(ctx, "main.go", src)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if doc.FilePath != "main.go" {
		t.Fatalf("unexpected file path: %q", doc.FilePath)
	}

	found := false
	for _, sym := range doc.Symbols {
		if sym.Name == "Hello" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected to find symbol Hello, got %+v", doc.Symbols)
	}
}

func TestTreeSitterIRBuilder_UnsupportedExtensionReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	b := parse.NewTreeSitterIRBuilder()
	defer b.Close()

	doc, err := b.Build(ctx, "README.unknownext", "some text")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(doc.Symbols) != 0 {
		t.Fatalf("expected empty symbol table for unsupported extension, got %+v", doc.Symbols)
	}
}

func TestTreeSitterIRBuilder_DeterministicSymbolIDs(t *testing.T) {
	ctx := context.Background()
	b := parse.NewTreeSitterIRBuilder()
	defer b.Close()

	src := "package main\n\nfunc Hello() string {\n\treturn \"hi\"\n}\n"
	doc1, err := b.Build(ctx, "main.go", src)
	if err != nil {
		t.Fatalf("build 1: %v", err)
	}
	doc2, err := b.Build(ctx, "main.go", src)
	if err != nil {
		t.Fatalf("build 2: %v", err)
	}

	ids1 := make([]string, 0, len(doc1.Symbols))
	for id := range doc1.Symbols {
		ids1 = append(ids1, id)
	}
	for _, id := range ids1 {
		if _, ok := doc2.Symbols[id]; !ok {
			t.Fatalf("expected symbol id %q to be stable across rebuilds", id)
		}
	}
}
