package indexing

import (
	"context"
	"sync"
	"time"

	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/search"
)

// Search answers a free-text query (spec.md §4.6, §4.7). A graph-traversal
// intent (callers/callees/references/imports) resolved against the symbol
// backend returns its structural result directly, bypassing rank fusion --
// those queries have one correct answer, not a ranked list. Every other
// intent fans out across the configured backends concurrently and fuses
// the results with the service's weights (or the override in w, if
// non-nil).
// fanoutWidth is how many candidates each backend is asked for before
// fusion (spec.md §4.6 step 2): over-fetching keeps a hit that one backend
// ranks low but another ranks high from being truncated before Fuse ever
// sees it.
const fanoutWidth = 100

func (s *Service) Search(ctx context.Context, repoID, snapshotID, query string, limit int, w search.Weights) ([]model.SearchHit, []OpError, error) {
	if w == nil {
		w = s.weights
	}
	if w == nil {
		w = search.DefaultWeights()
	}

	candidates := fanoutWidth
	if limit > candidates {
		candidates = limit
	}

	var errs []OpError
	var mu sync.Mutex
	record := func(op string, err error) {
		if err != nil {
			mu.Lock()
			errs = append(errs, opErr(op, err))
			mu.Unlock()
		}
	}

	if s.symbol != nil {
		intent, hits, err := search.Route(ctx, s.symbol, repoID, snapshotID, query, limit)
		record("symbol.route", err)
		switch intent {
		case search.IntentCallers, search.IntentCallees, search.IntentReferences, search.IntentImports:
			return hits, errs, nil
		}
	}

	hitsBySource := make(map[model.SearchSource][]model.SearchHit)
	var hitsMu sync.Mutex
	var wg sync.WaitGroup
	run := func(source model.SearchSource, op string, fn func() ([]model.SearchHit, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := fn()
			record(op, err)
			if len(hits) > 0 {
				hitsMu.Lock()
				hitsBySource[source] = hits
				hitsMu.Unlock()
			}
		}()
	}

	if s.lexical != nil {
		run(model.SourceLexical, "lexical.search", func() ([]model.SearchHit, error) {
			return s.lexical.Search(ctx, repoID, snapshotID, query, candidates)
		})
	}
	if s.vector != nil && s.embedder != nil {
		run(model.SourceVector, "vector.search", func() ([]model.SearchHit, error) {
			vec, err := s.embedder.Embed(ctx, query)
			if err != nil {
				return nil, err
			}
			return s.vector.Search(ctx, repoID, snapshotID, vec, candidates, nil)
		})
	}
	if s.symbol != nil {
		run(model.SourceSymbol, "symbol.search", func() ([]model.SearchHit, error) {
			return s.symbol.Search(ctx, repoID, snapshotID, query, candidates)
		})
	}
	if s.fuzzy != nil {
		run(model.SourceFuzzy, "fuzzy.search", func() ([]model.SearchHit, error) {
			return s.fuzzy.Search(ctx, repoID, snapshotID, query, candidates)
		})
	}
	if s.domain != nil {
		run(model.SourceDomain, "domain.search", func() ([]model.SearchHit, error) {
			return s.domain.Search(ctx, repoID, snapshotID, query, candidates)
		})
	}
	if s.runtime != nil {
		run(model.SourceRuntime, "runtime.search", func() ([]model.SearchHit, error) {
			return s.runtime.Search(ctx, repoID, snapshotID, query, candidates)
		})
	}
	wg.Wait()

	fused := search.Fuse(hitsBySource, w)
	fused = s.applyOverlay(repoID, fused)
	return search.Limit(fused, limit), errs, nil
}

// applyOverlay rewrites hits whose symbol has been rebuilt by repoID's
// current overlay so callers see the uncommitted signature/location
// instead of the stale base-snapshot one (spec.md §4.3's overlay-wins
// policy, extended to query results).
func (s *Service) applyOverlay(repoID string, hits []model.SearchHit) []model.SearchHit {
	merged, ok := s.MergedSnapshot(repoID)
	if !ok {
		return hits
	}
	for i := range hits {
		if hits[i].SymbolID == "" {
			continue
		}
		sym := merged.SymbolAt(hits[i].SymbolID)
		if sym == nil {
			continue
		}
		hits[i].FilePath = merged.SymbolFile(hits[i].SymbolID)
		if hits[i].Metadata == nil {
			hits[i].Metadata = make(map[string]any)
		}
		hits[i].Metadata["overlay"] = true
		hits[i].Metadata["signature"] = sym.Signature
	}
	return hits
}

// WaitUntilIdle polls the embedding queue until it drains or timeout
// elapses, backing off exponentially (100ms up to 1s) between checks.
// Returns true if the queue reached zero before the deadline.
func (s *Service) WaitUntilIdle(ctx context.Context, timeout time.Duration) bool {
	if s.queue == nil {
		return true
	}
	deadline := time.Now().Add(timeout)
	wait := 100 * time.Millisecond
	const maxWait = 1 * time.Second
	for {
		n, err := s.queue.Len(ctx)
		if err == nil && n == 0 {
			return true
		}
		if timeout > 0 && time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		wait *= 2
		if wait > maxWait {
			wait = maxWait
		}
	}
}
