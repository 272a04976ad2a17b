// Package search implements cross-index rank fusion and the keyword-based
// intent router that decides which symbol-graph query a free-text search
// should prefer (spec.md §4.6, §4.7).
package search

import (
	"sort"

	"github.com/amanindex/coreengine/internal/model"
)

// Weights maps a SearchSource to its fusion weight. Missing sources default
// to 0 (their hits are dropped from the fused set).
type Weights map[model.SearchSource]float64

// DefaultWeights matches spec.md's documented defaults.
func DefaultWeights() Weights {
	return Weights{
		model.SourceLexical: 0.3,
		model.SourceVector:  0.3,
		model.SourceSymbol:  0.2,
		model.SourceFuzzy:   0.1,
		model.SourceDomain:  0.1,
	}
}

// Fuse combines hits from multiple index sources into one ranked list.
//
// Per chunk_id: score = sum(hit.score * weights[hit.source]) / sum(weights
// of the sources that actually contributed a hit for that chunk_id) --
// spec.md §4.6 step 3 and §8 scenario 5. Normalizing by the weight of
// sources *present* (rather than the full configured weight set) means a
// chunk matched by only one source isn't penalized for the other sources'
// silence. Chunks are then sorted descending by fused score, with a
// deterministic tie-break chain (chunk_id ascending) so equal-score
// results never reorder between runs.
func Fuse(hitsBySource map[model.SearchSource][]model.SearchHit, weights Weights) []model.SearchHit {
	if weights == nil {
		weights = DefaultWeights()
	}

	type accum struct {
		hit       model.SearchHit
		weighted  float64
		weightSum float64
		sources   []string
		original  map[string]float64
	}
	byChunk := make(map[string]*accum)

	for source, hits := range hitsBySource {
		w, ok := weights[source]
		if !ok || w == 0 {
			continue
		}
		for _, h := range hits {
			a, exists := byChunk[h.ChunkID]
			if !exists {
				cp := h
				cp.Source = model.SourceFused
				a = &accum{hit: cp, original: make(map[string]float64)}
				byChunk[h.ChunkID] = a
			}
			a.weighted += h.Score * w
			a.weightSum += w
			a.sources = append(a.sources, string(source))
			a.original[string(source)] = h.Score
		}
	}

	out := make([]model.SearchHit, 0, len(byChunk))
	for _, a := range byChunk {
		if a.weightSum > 0 {
			a.hit.Score = a.weighted / a.weightSum
		}
		if len(a.sources) > 1 {
			if a.hit.Metadata == nil {
				a.hit.Metadata = make(map[string]any)
			}
			a.hit.Metadata["sources"] = a.sources
			a.hit.Metadata["original_scores"] = a.original
		}
		out = append(out, a.hit)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// Limit truncates a fused hit list to n entries (n <= 0 returns hits
// unchanged).
func Limit(hits []model.SearchHit, n int) []model.SearchHit {
	if n <= 0 || len(hits) <= n {
		return hits
	}
	return hits[:n]
}
