package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/ports"
)

// DefaultFuzzyPostingsCacheSize bounds the number of trigrams whose posting
// lists are kept hot in memory per repo scope.
const DefaultFuzzyPostingsCacheSize = 4096

// fuzzyDoc is the minimal record a trigram store keeps per identifier.
type fuzzyDoc struct {
	chunkID    string
	filePath   string
	symbolID   string
	identifier string
}

// TrigramFuzzyIndex implements ports.FuzzyIndexPort with an in-memory
// trigram postings list backed by an LRU cache, so repeated queries over
// hot trigrams skip recomputation of the candidate set.
type TrigramFuzzyIndex struct {
	mu sync.RWMutex

	// docs holds every indexed identifier keyed by "repoID/snapshotID/chunkID/identifier".
	docs map[string]fuzzyDoc

	// postings maps "repoID/snapshotID/trigram" -> set of doc keys containing it.
	postings map[string]map[string]struct{}

	cache *lru.Cache[string, []string]
}

var _ ports.FuzzyIndexPort = (*TrigramFuzzyIndex)(nil)

// NewTrigramFuzzyIndex builds an empty trigram index with the given LRU
// postings cache size (0 uses DefaultFuzzyPostingsCacheSize).
func NewTrigramFuzzyIndex(cacheSize int) (*TrigramFuzzyIndex, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultFuzzyPostingsCacheSize
	}
	cache, err := lru.New[string, []string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &TrigramFuzzyIndex{
		docs:     make(map[string]fuzzyDoc),
		postings: make(map[string]map[string]struct{}),
		cache:    cache,
	}, nil
}

func scopeKey(repoID, snapshotID string) string {
	return repoID + "/" + snapshotID
}

func docKey(repoID, snapshotID, chunkID, identifier string) string {
	return scopeKey(repoID, snapshotID) + "/" + chunkID + "/" + identifier
}

func trigramKey(repoID, snapshotID, tri string) string {
	return scopeKey(repoID, snapshotID) + "/" + tri
}

// trigrams returns all 3-character substrings of the lowercased identifier,
// padded with boundary markers so short identifiers still yield a trigram.
func trigrams(identifier string) []string {
	s := "  " + strings.ToLower(identifier) + "  "
	runes := []rune(s)
	if len(runes) < 3 {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for i := 0; i+3 <= len(runes); i++ {
		tri := string(runes[i : i+3])
		if _, ok := seen[tri]; !ok {
			seen[tri] = struct{}{}
			out = append(out, tri)
		}
	}
	return out
}

// Index replaces all identifiers for (repoID, snapshotID) with those
// derived from docs.
func (f *TrigramFuzzyIndex) Index(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteScopeLocked(repoID, snapshotID)
	f.upsertLocked(repoID, snapshotID, docs)
	return nil
}

// Upsert adds or replaces identifiers for the given documents without
// touching the rest of the scope.
func (f *TrigramFuzzyIndex) Upsert(ctx context.Context, repoID, snapshotID string, docs []model.IndexDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range docs {
		f.deleteChunkLocked(repoID, snapshotID, d.ID)
	}
	f.upsertLocked(repoID, snapshotID, docs)
	return nil
}

func (f *TrigramFuzzyIndex) upsertLocked(repoID, snapshotID string, docs []model.IndexDocument) {
	for _, d := range docs {
		idents := d.Identifiers
		if d.SymbolName != "" {
			idents = append(idents, d.SymbolName)
		}
		for _, ident := range idents {
			if ident == "" {
				continue
			}
			key := docKey(repoID, snapshotID, d.ID, ident)
			f.docs[key] = fuzzyDoc{chunkID: d.ID, filePath: d.FilePath, symbolID: d.SymbolID, identifier: ident}
			for _, tri := range trigrams(ident) {
				tk := trigramKey(repoID, snapshotID, tri)
				set, ok := f.postings[tk]
				if !ok {
					set = make(map[string]struct{})
					f.postings[tk] = set
				}
				set[key] = struct{}{}
				f.cache.Remove(tk)
			}
		}
	}
}

// Delete removes the given chunk IDs from the scope.
func (f *TrigramFuzzyIndex) Delete(ctx context.Context, repoID, snapshotID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.deleteChunkLocked(repoID, snapshotID, id)
	}
	return nil
}

func (f *TrigramFuzzyIndex) deleteChunkLocked(repoID, snapshotID, chunkID string) {
	prefix := scopeKey(repoID, snapshotID) + "/" + chunkID + "/"
	for key, doc := range f.docs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		for _, tri := range trigrams(doc.identifier) {
			tk := trigramKey(repoID, snapshotID, tri)
			if set, ok := f.postings[tk]; ok {
				delete(set, key)
				if len(set) == 0 {
					delete(f.postings, tk)
				}
				f.cache.Remove(tk)
			}
		}
		delete(f.docs, key)
	}
}

func (f *TrigramFuzzyIndex) deleteScopeLocked(repoID, snapshotID string) {
	prefix := scopeKey(repoID, snapshotID) + "/"
	for key := range f.docs {
		if strings.HasPrefix(key, prefix) {
			delete(f.docs, key)
		}
	}
	for key := range f.postings {
		if strings.HasPrefix(key, prefix) {
			delete(f.postings, key)
		}
	}
}

// Search scores candidate identifiers by the fraction of query trigrams
// they share, breaking ties alphabetically by identifier.
func (f *TrigramFuzzyIndex) Search(ctx context.Context, repoID, snapshotID, query string, limit int) ([]model.SearchHit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	queryTrigrams := trigrams(query)
	if len(queryTrigrams) == 0 {
		return nil, nil
	}

	counts := make(map[string]int)
	for _, tri := range queryTrigrams {
		tk := trigramKey(repoID, snapshotID, tri)
		var keys []string
		if cached, ok := f.cache.Get(tk); ok {
			keys = cached
		} else {
			set := f.postings[tk]
			keys = make([]string, 0, len(set))
			for k := range set {
				keys = append(keys, k)
			}
			f.cache.Add(tk, keys)
		}
		for _, k := range keys {
			counts[k]++
		}
	}

	type scored struct {
		doc   fuzzyDoc
		score float64
	}
	scoredDocs := make([]scored, 0, len(counts))
	for key, matched := range counts {
		doc, ok := f.docs[key]
		if !ok {
			continue
		}
		total := len(trigrams(doc.identifier))
		if total == 0 {
			continue
		}
		denom := total
		if len(queryTrigrams) > denom {
			denom = len(queryTrigrams)
		}
		scoredDocs = append(scoredDocs, scored{doc: doc, score: float64(matched) / float64(denom)})
	}

	sort.Slice(scoredDocs, func(i, j int) bool {
		if scoredDocs[i].score != scoredDocs[j].score {
			return scoredDocs[i].score > scoredDocs[j].score
		}
		return scoredDocs[i].doc.identifier < scoredDocs[j].doc.identifier
	})

	if limit > 0 && len(scoredDocs) > limit {
		scoredDocs = scoredDocs[:limit]
	}

	hits := make([]model.SearchHit, 0, len(scoredDocs))
	for _, sd := range scoredDocs {
		hits = append(hits, model.SearchHit{
			ChunkID:  sd.doc.chunkID,
			FilePath: sd.doc.filePath,
			SymbolID: sd.doc.symbolID,
			Score:    sd.score,
			Source:   model.SourceFuzzy,
			Metadata: map[string]any{"identifier": sd.doc.identifier},
		})
	}
	return hits, nil
}
