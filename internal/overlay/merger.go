package overlay

import (
	"context"
	"fmt"
	"time"

	"github.com/amanindex/coreengine/internal/model"
)

// DefaultCacheTTL is how long a MergedSnapshot cached on an OverlaySnapshot
// may be reused before GraphMerger rebuilds it (spec.md §4.3 step 5 default:
// 60s).
const DefaultCacheTTL = 60 * time.Second

// GraphMerger unifies a base snapshot's IR documents with an overlay's,
// overlay-wins on shared symbol ids, producing the MergedSnapshot the
// symbol index and call/import graph queries read from.
type GraphMerger struct {
	resolver *ConflictResolver
	cacheTTL time.Duration
}

// NewGraphMerger constructs a GraphMerger using the given ConflictResolver,
// or a default overlay-wins resolver if nil. cacheTTL <= 0 uses
// DefaultCacheTTL.
func NewGraphMerger(resolver *ConflictResolver, cacheTTL time.Duration) *GraphMerger {
	if resolver == nil {
		resolver = NewConflictResolver()
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &GraphMerger{resolver: resolver, cacheTTL: cacheTTL}
}

// Merge produces a MergedSnapshot for the given overlay against baseIRDocs
// (file path -> IR, the committed snapshot's documents). If o carries a
// cached MergedSnapshot newer than the configured cache TTL, it is returned
// unchanged.
func (g *GraphMerger) Merge(ctx context.Context, o *model.OverlaySnapshot, baseIRDocs map[string]*model.IRDocument) (*model.MergedSnapshot, error) {
	if o == nil {
		return nil, fmt.Errorf("merge graphs: nil overlay snapshot")
	}
	if cached, at := o.CachedMerged(); cached != nil && time.Since(at) < g.cacheTTL {
		return cached, nil
	}

	merged := &model.MergedSnapshot{
		SnapshotID:  "merged_" + o.SnapshotID,
		IRDocuments: make(map[string]*model.IRDocument, len(baseIRDocs)+len(o.OverlayIRDocs)),
	}

	for path, ir := range baseIRDocs {
		merged.IRDocuments[path] = ir
		for id, sym := range ir.Symbols {
			merged.PutSymbol(id, sym, path)
		}
		merged.CallGraphEdges = append(merged.CallGraphEdges, ir.CallEdges...)
		merged.ImportGraphEdges = append(merged.ImportGraphEdges, ir.ImportEdges...)
	}

	conflicts := make([]*model.SymbolConflict, 0)
	for path, overlayIR := range o.OverlayIRDocs {
		baseIR := baseIRDocs[path]

		for id, overlaySym := range overlayIR.Symbols {
			if baseIR != nil {
				if baseSym, ok := baseIR.Symbols[id]; ok {
					if c := g.detectConflict(baseSym, overlaySym); c != nil {
						conflicts = append(conflicts, c)
					}
				}
			}
			merged.PutSymbol(id, overlaySym, path)
		}

		// Deletions: a base symbol absent from the overlay's rebuilt IR for
		// the same file is a deletion conflict.
		if baseIR != nil {
			for id, baseSym := range baseIR.Symbols {
				if _, stillPresent := overlayIR.Symbols[id]; !stillPresent {
					conflicts = append(conflicts, &model.SymbolConflict{
						SymbolID:      id,
						BaseSignature: baseSym.Signature,
						ConflictType:  model.ConflictDeletion,
					})
					delete(merged.SymbolIndex, id)
				}
			}
		}

		merged.IRDocuments[path] = overlayIR
	}

	for _, c := range conflicts {
		g.resolver.Resolve(c)
	}
	merged.Conflicts = conflicts

	merged.CallGraphEdges, merged.ImportGraphEdges = rebuildGraphEdges(merged.IRDocuments)

	o.SetCachedMerged(merged, time.Now())
	return merged, nil
}

// detectConflict classifies a shared symbol id's base-vs-overlay divergence,
// or returns nil if the two are equivalent.
func (g *GraphMerger) detectConflict(baseSym, overlaySym *model.Symbol) *model.SymbolConflict {
	if baseSym.Signature != overlaySym.Signature {
		return &model.SymbolConflict{
			SymbolID:         baseSym.ID,
			BaseSignature:    baseSym.Signature,
			OverlaySignature: overlaySym.Signature,
			ConflictType:     model.ConflictSignatureChange,
		}
	}
	if baseSym.StartLine != overlaySym.StartLine || baseSym.EndLine != overlaySym.EndLine {
		return &model.SymbolConflict{
			SymbolID:         baseSym.ID,
			BaseSignature:    baseSym.Signature,
			OverlaySignature: overlaySym.Signature,
			ConflictType:     model.ConflictMove,
		}
	}
	return nil
}

// rebuildGraphEdges recomputes the merged call/import edge lists from the
// final IR document set, so stale base edges referencing a deleted or
// overlay-replaced symbol never leak into query results.
func rebuildGraphEdges(docs map[string]*model.IRDocument) ([]model.CallEdge, []model.ImportEdge) {
	var calls []model.CallEdge
	var imports []model.ImportEdge
	for _, ir := range docs {
		calls = append(calls, ir.CallEdges...)
		imports = append(imports, ir.ImportEdges...)
	}
	return calls, imports
}
