// Package parse provides a minimal ports.IRBuilder implementation backed by
// the tree-sitter-based internal/chunk parser. A real symbol-graph builder
// (call/import edge extraction across a whole repository) is out of core
// scope per spec.md §1; this package gives the overlay/merge subsystem a
// working IRDocument source for single-file parsing so the rest of the
// pipeline (affected-symbol diffing, breaking-change detection) can be
// exercised end to end.
package parse

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/amanindex/coreengine/internal/chunk"
	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/ports"
)

// TreeSitterIRBuilder implements ports.IRBuilder using internal/chunk's
// Parser + SymbolExtractor.
type TreeSitterIRBuilder struct {
	parser    *chunk.Parser
	extractor *chunk.SymbolExtractor
	registry  *chunk.LanguageRegistry
}

var _ ports.IRBuilder = (*TreeSitterIRBuilder)(nil)

// NewTreeSitterIRBuilder constructs a builder using the default language
// registry (go, typescript, javascript, python).
func NewTreeSitterIRBuilder() *TreeSitterIRBuilder {
	registry := chunk.DefaultRegistry()
	return &TreeSitterIRBuilder{
		parser:    chunk.NewParserWithRegistry(registry),
		extractor: chunk.NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
	}
}

// Close releases the underlying tree-sitter parser.
func (b *TreeSitterIRBuilder) Close() {
	b.parser.Close()
}

// Build parses filePath's content and returns an IRDocument with one Symbol
// per extracted function/class/method/etc. Unsupported languages (no
// registry match by extension) return an IRDocument with an empty symbol
// table rather than an error -- a non-code file is not a parse failure.
//
// Call and import edges are left empty: cross-file graph construction needs
// whole-repository context this single-file port does not have. The
// symbol-graph store (internal/store's Neo4j-backed SymbolIndexPort) is fed
// separately by a future batch IR builder; this one exists so overlay
// diffing has real Symbol data to compare.
func (b *TreeSitterIRBuilder) Build(ctx context.Context, filePath, content string) (*model.IRDocument, error) {
	ext := strings.TrimPrefix(filepath.Ext(filePath), ".")
	lang, ok := b.registry.GetByExtension(ext)
	if !ok {
		return &model.IRDocument{FilePath: filePath, Symbols: map[string]*model.Symbol{}}, nil
	}

	source := []byte(content)
	tree, err := b.parser.Parse(ctx, source, lang.Name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}

	symbols := b.extractor.Extract(tree, source)
	doc := &model.IRDocument{
		FilePath: filePath,
		Symbols:  make(map[string]*model.Symbol, len(symbols)),
	}
	for _, s := range symbols {
		id := symbolID(filePath, s.Name, s.StartLine)
		doc.Symbols[id] = &model.Symbol{
			ID:        id,
			Name:      s.Name,
			FQN:       filePath + "#" + s.Name,
			Kind:      string(s.Type),
			Signature: s.Signature,
			StartLine: s.StartLine,
			EndLine:   s.EndLine,
		}
	}
	return doc, nil
}

// symbolID mirrors the chunk package's SHA256-prefix convention
// (spec.md's Chunk.ID: SHA256(file_path+start_line)[:16]) so symbol ids are
// stable across rebuilds of the same content.
func symbolID(filePath, name string, startLine int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", filePath, name, startLine)))
	return hex.EncodeToString(h[:])[:16]
}
