package search_test

import (
	"testing"

	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/search"
)

// Scenario 5 from spec.md §8: weighted fusion across two sources for the
// same chunk_id normalizes by the weight of sources that actually hit.
func TestFuse_WeightedAverageAcrossSources(t *testing.T) {
	hits := map[model.SearchSource][]model.SearchHit{
		model.SourceLexical: {{ChunkID: "c1", Score: 1.0, Source: model.SourceLexical}},
		model.SourceVector:  {{ChunkID: "c1", Score: 0.5, Source: model.SourceVector}},
	}
	fused := search.Fuse(hits, search.DefaultWeights())
	if len(fused) != 1 {
		t.Fatalf("expected 1 fused hit, got %d", len(fused))
	}
	want := (1.0*0.3 + 0.5*0.3) / (0.3 + 0.3)
	if fused[0].Score != want {
		t.Fatalf("expected fused score %v, got %v", want, fused[0].Score)
	}
	if fused[0].Source != model.SourceFused {
		t.Fatalf("expected fused source marker, got %s", fused[0].Source)
	}
}

// Scenario 5 from spec.md §8, in full: three chunks across overlapping
// backends, default weights, normalized per-chunk by present-source weight.
func TestFuse_Scenario5(t *testing.T) {
	hits := map[model.SearchSource][]model.SearchHit{
		model.SourceLexical: {{ChunkID: "c1", Score: 0.8, Source: model.SourceLexical}},
		model.SourceVector: {
			{ChunkID: "c1", Score: 0.6, Source: model.SourceVector},
			{ChunkID: "c2", Score: 0.9, Source: model.SourceVector},
		},
		model.SourceSymbol: {{ChunkID: "c3", Score: 1.0, Source: model.SourceSymbol}},
	}
	fused := search.Fuse(hits, search.DefaultWeights())
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused hits, got %d", len(fused))
	}
	order := []string{"c3", "c2", "c1"}
	scores := map[string]float64{"c3": 1.0, "c2": 0.9, "c1": 0.7}
	for i, h := range fused {
		if h.ChunkID != order[i] {
			t.Fatalf("position %d: expected %s, got %s", i, order[i], h.ChunkID)
		}
		if want := scores[h.ChunkID]; absDiff(h.Score, want) > 1e-9 {
			t.Fatalf("chunk %s: expected score %v, got %v", h.ChunkID, want, h.Score)
		}
	}
	sources, _ := fused[2].Metadata["sources"].([]string)
	if len(sources) != 2 {
		t.Fatalf("expected c1's fused hit to record 2 contributing sources, got %v", sources)
	}
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestFuse_DeterministicTieBreak(t *testing.T) {
	hits := map[model.SearchSource][]model.SearchHit{
		model.SourceLexical: {
			{ChunkID: "zzz", Score: 1.0, Source: model.SourceLexical},
			{ChunkID: "aaa", Score: 1.0, Source: model.SourceLexical},
		},
	}
	fused := search.Fuse(hits, search.DefaultWeights())
	if len(fused) != 2 || fused[0].ChunkID != "aaa" || fused[1].ChunkID != "zzz" {
		t.Fatalf("expected deterministic ascending chunk_id tie-break, got %+v", fused)
	}
}

func TestFuse_UnweightedSourceIgnored(t *testing.T) {
	hits := map[model.SearchSource][]model.SearchHit{
		model.SourceRuntime: {{ChunkID: "c1", Score: 10, Source: model.SourceRuntime}},
	}
	fused := search.Fuse(hits, search.DefaultWeights())
	if len(fused) != 0 {
		t.Fatalf("expected runtime source with no configured weight to be dropped, got %+v", fused)
	}
}
